package heapprof

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLog2Bin(t *testing.T) {
	cases := map[uint64]int{
		0:    0,
		1:    0,
		2:    1,
		3:    2,
		4:    2,
		5:    3,
		1024: 10,
		1025: 11,
	}
	for size, want := range cases {
		require.Equal(t, want, log2Bin(size), "size %d", size)
	}
}

func TestStatsGathererHandleMalloc(t *testing.T) {
	g := NewStatsGatherer()
	g.HandleMalloc(1, 10)
	g.HandleMalloc(2, 20)
	g.HandleMalloc(3, 10)

	require.Len(t, g.bins[log2Bin(10)], 2)
	require.Len(t, g.bins[log2Bin(20)], 1)
}

func TestStatsGathererHandleFreeIsNoOp(t *testing.T) {
	g := NewStatsGatherer()
	g.HandleMalloc(1, 10)
	g.HandleFree(1)
	require.Len(t, g.bins[log2Bin(10)], 1, "the stats gatherer keeps no live set to free from")
}

func TestStatsGathererHandleReallocBinsNewSize(t *testing.T) {
	g := NewStatsGatherer()
	g.HandleRealloc(1, 2, 30)
	require.Len(t, g.bins[log2Bin(30)], 1)
}

func TestStatsGathererReport(t *testing.T) {
	g := NewStatsGatherer()
	for _, size := range []uint64{8, 8, 16, 1024} {
		g.HandleMalloc(0, size)
	}

	var out strings.Builder
	require.NoError(t, g.Report(&out))

	rendered := out.String()
	require.Contains(t, rendered, "bin")
	require.Contains(t, rendered, "count")
	// One row per distinct bin, in ascending order: bin(8)=3 < bin(16)=4 < bin(1024)=10.
	lines := strings.Split(strings.TrimRight(rendered, "\n"), "\n")
	require.Len(t, lines, 4) // header + 3 bins
}

func TestStatsGathererImplementsAbstractProfiler(t *testing.T) {
	var _ AbstractProfiler = NewStatsGatherer()
}
