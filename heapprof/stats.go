package heapprof

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/aclements/go-moremath/stats"
)

// StatsGatherer is a degenerate profiler: it only implements
// HandleMalloc, binning every allocation's size by ceil(log2(size)) with
// no event log and no live-set tracking. HandleFree and HandleRealloc's
// free half are no-ops, since there is nothing to match a free against.
type StatsGatherer struct {
	bins map[int][]float64
}

// NewStatsGatherer returns a ready-to-use stats gatherer.
func NewStatsGatherer() *StatsGatherer {
	return &StatsGatherer{bins: make(map[int][]float64)}
}

// log2Bin returns ceil(log2(size)), with size 0 folded into bin 0.
func log2Bin(size uint64) int {
	if size <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(size))))
}

// HandleMalloc bins size into its ceil(log2) bucket. ptr is unused: the
// stats gatherer never matches a free against a prior allocation.
func (g *StatsGatherer) HandleMalloc(ptr uintptr, size uint64) {
	bin := log2Bin(size)
	g.bins[bin] = append(g.bins[bin], float64(size))
}

// HandleFree does nothing: the stats gatherer keeps no live set.
func (g *StatsGatherer) HandleFree(ptr uintptr) {}

// HandleRealloc folds to the default policy restricted to its malloc
// half, since HandleFree is a no-op here anyway.
func (g *StatsGatherer) HandleRealloc(oldptr, newptr uintptr, size uint64) {
	g.HandleMalloc(newptr, size)
}

// Close is a no-op; StatsGatherer owns no file descriptors. It exists so
// StatsGatherer satisfies AbstractProfiler alongside Profiler.
func (g *StatsGatherer) Close() error { return nil }

var _ AbstractProfiler = (*StatsGatherer)(nil)

// binReport is one row of a rendered histogram.
type binReport struct {
	bin        int
	count      int
	totalBytes float64
	mean       float64
	stddev     float64
}

// Report writes a tabulated histogram of allocation sizes by
// ceil(log2(size)) bin to w, one row per non-empty bin in ascending bin
// order, with column widths sized to the widest entry in each column.
// Per-bin mean and standard deviation are computed with go-moremath's
// stats.Sample.
func (g *StatsGatherer) Report(w io.Writer) error {
	bins := make([]int, 0, len(g.bins))
	for b := range g.bins {
		bins = append(bins, b)
	}
	sort.Ints(bins)

	rows := make([]binReport, 0, len(bins))
	for _, b := range bins {
		sizes := g.bins[b]
		sample := stats.Sample{Xs: sizes}
		total := 0.0
		for _, s := range sizes {
			total += s
		}
		rows = append(rows, binReport{
			bin:        b,
			count:      len(sizes),
			totalBytes: total,
			mean:       sample.Mean(),
			stddev:     sample.StdDev(),
		})
	}

	widths := [5]int{len("bin"), len("count"), len("bytes"), len("mean"), len("stddev")}
	cells := make([][5]string, len(rows))
	for i, r := range rows {
		cells[i] = [5]string{
			fmt.Sprintf("2^%d", r.bin),
			fmt.Sprintf("%d", r.count),
			fmt.Sprintf("%.0f", r.totalBytes),
			fmt.Sprintf("%.1f", r.mean),
			fmt.Sprintf("%.1f", r.stddev),
		}
		for col, cell := range cells[i] {
			if len(cell) > widths[col] {
				widths[col] = len(cell)
			}
		}
	}

	header := fmt.Sprintf("%-*s  %*s  %*s  %*s  %*s\n",
		widths[0], "bin", widths[1], "count", widths[2], "bytes", widths[3], "mean", widths[4], "stddev")
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	for _, c := range cells {
		line := fmt.Sprintf("%-*s  %*s  %*s  %*s  %*s\n",
			widths[0], c[0], widths[1], c[1], widths[2], c[2], widths[3], c[3], widths[4], c[4])
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}
