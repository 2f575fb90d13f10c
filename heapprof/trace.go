package heapprof

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Frame is one stack frame as reported by a host's stack inspection
// primitive: a source filename, a line number, and an opaque
// per-frame code identifier suitable for hashing (e.g. a function or
// code-object pointer, stable for the lifetime of one process run but
// never meaningful across runs).
type Frame struct {
	Filename string
	Line     int
	CodeID   uintptr
}

// StackWalker yields the frames of the calling goroutine's logical call
// stack, top frame first. Walk must stop calling yield as soon as it
// returns false. The host runtime supplies this; the core only ever
// consumes it through this interface.
type StackWalker interface {
	Walk(yield func(Frame) bool)
}

// RawFrame is one decoded entry of a raw trace as persisted to a .hpm
// file: a filename and a 0-based line number.
type RawFrame struct {
	Filename string
	Line     int
}

// isSyntheticFrame reports whether a frame is a host-internal synthetic
// frame that should be excluded from traces to keep them legible: such
// frames have filenames beginning with '<', mirroring CPython's
// "<frozen importlib...>"/"<string>" convention.
func isSyntheticFrame(filename string) bool {
	return strings.HasPrefix(filename, "<")
}

// captureFingerprint walks w and mixes each retained frame's code
// identifier and line number into a 32-bit running hash, returning 0 if
// the stack is unavailable (w == nil). The fingerprint is never
// persisted — it only needs to be stable and collision-free within this
// one run, so mixing the raw code-object identifiers (rather than any
// symbolic name) is fine and fast.
func captureFingerprint(w StackWalker) uint32 {
	if w == nil {
		return 0
	}
	h := xxhash.New()
	var buf [16]byte
	w.Walk(func(f Frame) bool {
		if isSyntheticFrame(f.Filename) {
			return true
		}
		binary.LittleEndian.PutUint64(buf[0:8], uint64(f.CodeID))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(f.Line))
		h.Write(buf[:])
		return true
	})
	return uint32(h.Sum64())
}

// writeRawTrace walks w and appends a raw trace record to buf: for each
// retained frame, varint(line+1) followed by a length-prefixed filename,
// terminated by a sentinel varint(0). Frames are written in the order
// Walk yields them: the innermost (top) frame first, as StackWalker
// documents (see readRawTrace for the reversal contract). Line numbers
// are offset by +1 so that the sentinel
// 0 can never be confused with a real (0-based) line number.
func writeRawTrace(buf []byte, w StackWalker) ([]byte, error) {
	if w == nil {
		return buf, fmt.Errorf("%w: no stack available to capture", ErrIO)
	}
	w.Walk(func(f Frame) bool {
		if isSyntheticFrame(f.Filename) {
			return true
		}
		buf = appendVarint(buf, uint64(f.Line+1))
		buf = appendString(buf, f.Filename)
		return true
	})
	buf = appendVarint(buf, 0)
	return buf, nil
}

// readRawTrace reads a single raw trace record, returning its frames in
// the order they were written: innermost (top) frame first, the reverse
// of the outermost-caller-first order a report shows. Reversing is left
// to the caller (ReadRawTraceTopDown does this).
//
// io.EOF is returned unchanged when the stream ends cleanly between
// records; an EOF encountered partway through a record is a truncated
// file and is reported as ErrMalformed instead.
func readRawTrace(r fixedWidthReader) ([]RawFrame, error) {
	var frames []RawFrame
	for {
		lineno, err := readVarint(r)
		if err != nil {
			if err == io.EOF && len(frames) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: reading trace line number: %v", ErrMalformed, err)
		}
		if lineno == 0 {
			return frames, nil
		}
		filename, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading trace filename: %v", ErrMalformed, err)
		}
		frames = append(frames, RawFrame{Filename: filename, Line: int(lineno - 1)})
	}
}

// ReadRawTraceTopDown reads a single raw trace and reverses it so the
// outermost caller comes first and the innermost frame last (the order a
// human or a report renderer would expect).
func ReadRawTraceTopDown(r fixedWidthReader) ([]RawFrame, error) {
	frames, err := readRawTrace(r)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames, nil
}
