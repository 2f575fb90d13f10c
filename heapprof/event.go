package heapprof

import (
	"fmt"
	"time"
)

// Head-word bit layout for an event:
//
//	bit 31        : 1 => delta seconds is negative
//	bit 30        : 1 => operation is a free
//	bits 29..0    : trace index (30 bits, 0 reserved)
const (
	flagDeltaNegative uint32 = 0x80000000
	flagIsFree        uint32 = 0x40000000
	headWordHighBits         = flagDeltaNegative | flagIsFree
	maxTraceIndex     uint32 = (1 << 30) - 1
)

// Event is one decoded allocation or free record from a .hpd file.
type Event struct {
	// Delta is the wall-clock delta from the previous event; it may be
	// negative if the host clock moved backwards between events.
	Delta time.Duration
	// TraceIndex is 0 (unknown) or a dense 1-based index into the
	// paired .hpm file's raw traces.
	TraceIndex uint32
	// Size is the unsigned size requested at this event's allocation.
	Size uint64
	// IsFree is true for a free event, false for an allocation.
	IsFree bool
}

// SignedSize returns Size as a positive value for an allocation or a
// negative one for a free, "signed_size".
func (e Event) SignedSize() int64 {
	if e.IsFree {
		return -int64(e.Size)
	}
	return int64(e.Size)
}

// appendEvent appends the wire encoding of one event to buf and updates
// *lastClock to timestamp, so the next call encodes a delta against this
// one. It panics if traceIndex doesn't fit in 30 bits; callers
// (profiler.go) guarantee that before calling this. size is written as
// an unsigned varint and is not checked.
func appendEvent(buf []byte, lastClock *time.Time, timestamp time.Time, traceIndex uint32, size uint64, isFree bool) []byte {
	if traceIndex&^maxTraceIndex != 0 {
		panic("heapprof: trace index does not fit in 30 bits")
	}

	delta := timestamp.Sub(*lastClock)
	*lastClock = timestamp

	negative := delta < 0
	if negative {
		delta = -delta
	}
	deltaSeconds := uint64(delta / time.Second)
	deltaMicros := uint64((delta % time.Second) / time.Microsecond)

	headWord := traceIndex
	if negative {
		headWord |= flagDeltaNegative
	}
	if isFree {
		headWord |= flagIsFree
	}

	buf = appendFixed32(buf, headWord)
	buf = appendVarint(buf, deltaSeconds)
	buf = appendVarint(buf, deltaMicros)
	buf = appendVarint(buf, size)
	return buf
}

// ReadEvent decodes a single event from r.
func ReadEvent(r fixedWidthReader) (Event, error) {
	headWord, err := readFixed32(r)
	if err != nil {
		return Event{}, err
	}
	deltaSeconds, err := readVarint(r)
	if err != nil {
		return Event{}, fmt.Errorf("%w: reading event delta seconds: %v", ErrMalformed, err)
	}
	deltaMicros, err := readVarint(r)
	if err != nil {
		return Event{}, fmt.Errorf("%w: reading event delta micros: %v", ErrMalformed, err)
	}
	size, err := readVarint(r)
	if err != nil {
		return Event{}, fmt.Errorf("%w: reading event size: %v", ErrMalformed, err)
	}

	delta := time.Duration(deltaSeconds)*time.Second + time.Duration(deltaMicros)*time.Microsecond
	if headWord&flagDeltaNegative != 0 {
		delta = -delta
	}

	return Event{
		Delta:      delta,
		TraceIndex: headWord &^ headWordHighBits,
		Size:       size,
		IsFree:     headWord&flagIsFree != 0,
	}, nil
}
