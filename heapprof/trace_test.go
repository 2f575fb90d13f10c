package heapprof

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeStack is a StackWalker over a fixed slice of frames, top frame
// first, for deterministic tests.
type fakeStack []Frame

func (s fakeStack) Walk(yield func(Frame) bool) {
	for _, f := range s {
		if !yield(f) {
			return
		}
	}
}

func TestCaptureFingerprintNilWalker(t *testing.T) {
	require.Zero(t, captureFingerprint(nil))
}

func TestCaptureFingerprintStableAndDistinct(t *testing.T) {
	stackA := fakeStack{{Filename: "a.go", Line: 10, CodeID: 1}, {Filename: "b.go", Line: 20, CodeID: 2}}
	stackB := fakeStack{{Filename: "a.go", Line: 10, CodeID: 1}, {Filename: "b.go", Line: 21, CodeID: 2}}

	fpA1 := captureFingerprint(stackA)
	fpA2 := captureFingerprint(stackA)
	fpB := captureFingerprint(stackB)

	require.NotZero(t, fpA1)
	require.Equal(t, fpA1, fpA2, "same stack must hash the same within a run")
	require.NotEqual(t, fpA1, fpB, "a differing line number should (almost always) change the fingerprint")
}

func TestCaptureFingerprintSkipsSyntheticFrames(t *testing.T) {
	withSynthetic := fakeStack{{Filename: "<frozen>", Line: 1, CodeID: 99}, {Filename: "a.go", Line: 10, CodeID: 1}}
	without := fakeStack{{Filename: "a.go", Line: 10, CodeID: 1}}
	require.Equal(t, captureFingerprint(without), captureFingerprint(withSynthetic))
}

func TestWriteReadRawTraceRoundTrip(t *testing.T) {
	stack := fakeStack{
		{Filename: "top.go", Line: 42, CodeID: 1},
		{Filename: "<synthetic>", Line: 5, CodeID: 2}, // must be skipped
		{Filename: "mid.go", Line: 7, CodeID: 3},
		{Filename: "bottom.go", Line: 0, CodeID: 4}, // line 0 must round-trip (sentinel is lineno+1==0)
	}

	buf, err := writeRawTrace(nil, stack)
	require.NoError(t, err)

	// Terminator sentinel: a single varint(0) at the end.
	r := bytes.NewReader(buf)
	frames, err := readRawTrace(r)
	require.NoError(t, err)
	require.Equal(t, []RawFrame{
		{Filename: "top.go", Line: 42},
		{Filename: "mid.go", Line: 7},
		{Filename: "bottom.go", Line: 0},
	}, frames)

	// readRawTrace returns frames in writer order (innermost frame first);
	// ReadRawTraceTopDown reverses them so the outermost caller is first.
	r2 := bytes.NewReader(buf)
	topDown, err := ReadRawTraceTopDown(r2)
	require.NoError(t, err)
	require.Equal(t, []RawFrame{
		{Filename: "bottom.go", Line: 0},
		{Filename: "mid.go", Line: 7},
		{Filename: "top.go", Line: 42},
	}, topDown)
}

func TestWriteRawTraceNoWalker(t *testing.T) {
	_, err := writeRawTrace(nil, nil)
	require.ErrorIs(t, err, ErrIO)
}

func TestIsSyntheticFrame(t *testing.T) {
	require.True(t, isSyntheticFrame("<string>"))
	require.False(t, isSyntheticFrame("main.go"))
}
