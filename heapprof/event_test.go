package heapprof

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEventRoundTrip checks that for any sequence of events, writing and
// reading back reconstructs the sequence exactly, with microsecond
// resolution, including slightly non-monotone timestamps.
func TestEventRoundTrip(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	type want struct {
		ts         time.Time
		traceIndex uint32
		size       uint64
		isFree     bool
	}
	events := []want{
		{base, 1, 100, false},
		{base.Add(2500 * time.Microsecond), 1, 100, true},
		{base.Add(2500 * time.Microsecond), 0, 0, false},
		{base.Add(-500 * time.Microsecond), maxTraceIndex, 1 << 40, false}, // clock moved backwards
		{base.Add(10 * time.Second), 7, 0, true},
	}

	var buf []byte
	lastClock := base
	// First event's delta is against its own timestamp (0), matching how
	// profiler.go seeds lastClock from the metadata header's start time.
	lastClock = events[0].ts
	buf = appendEvent(buf, &lastClock, events[0].ts, events[0].traceIndex, events[0].size, events[0].isFree)
	for _, e := range events[1:] {
		buf = appendEvent(buf, &lastClock, e.ts, e.traceIndex, e.size, e.isFree)
	}

	r := bytes.NewReader(buf)
	decodedClock := events[0].ts
	for i, e := range events {
		ev, err := ReadEvent(r)
		require.NoError(t, err, "event %d", i)
		decodedClock = decodedClock.Add(ev.Delta)
		require.Equal(t, e.traceIndex, ev.TraceIndex, "event %d trace index", i)
		require.Equal(t, e.size, ev.Size, "event %d size", i)
		require.Equal(t, e.isFree, ev.IsFree, "event %d is-free", i)
		// Microsecond resolution: sub-microsecond precision is
		// intentionally discarded.
		require.WithinDuration(t, e.ts, decodedClock, time.Microsecond, "event %d timestamp", i)
	}

	_, err := ReadEvent(r)
	require.ErrorIs(t, err, io.EOF)
}

func TestEventSignedSize(t *testing.T) {
	require.Equal(t, int64(100), Event{Size: 100, IsFree: false}.SignedSize())
	require.Equal(t, int64(-100), Event{Size: 100, IsFree: true}.SignedSize())
}

func TestEventHeadWordPacking(t *testing.T) {
	var lastClock time.Time
	buf := appendEvent(nil, &lastClock, lastClock.Add(time.Second), 5, 10, true)
	headWord := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	require.NotZero(t, headWord&flagIsFree)
	require.Zero(t, headWord&flagDeltaNegative)
	require.Equal(t, uint32(5), headWord&^headWordHighBits)
}

func TestAppendEventPanicsOnOversizeTraceIndex(t *testing.T) {
	require.Panics(t, func() {
		var lastClock time.Time
		appendEvent(nil, &lastClock, lastClock, 1<<30, 0, false)
	})
}
