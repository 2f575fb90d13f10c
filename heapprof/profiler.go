package heapprof

import (
	"time"
)

// AbstractProfiler is anything the allocator patch layer (patch.go) can
// dispatch allocation events to. Profiler and StatsGatherer are the two
// implementations.
type AbstractProfiler interface {
	HandleMalloc(ptr uintptr, size uint64)
	HandleFree(ptr uintptr)
	HandleRealloc(oldptr, newptr uintptr, size uint64)
	Close() error
}

// liveAllocation is what the profiler remembers about a sampled,
// currently-live pointer.
type liveAllocation struct {
	traceIndex uint32
	size       uint64
}

// ProfilerOption configures a Profiler at construction time.
type ProfilerOption func(*Profiler)

// WithStackWalker supplies the host's stack inspection primitive. A nil
// walker (the default) makes every captured trace fingerprint 0
// ("unknown"), which is valid but useless — real use always sets this.
func WithStackWalker(w StackWalker) ProfilerOption {
	return func(p *Profiler) { p.walker = w }
}

// WithClock overrides the wall clock used to timestamp events. Defaults
// to time.Now; tests use this to supply a deterministic clock.
func WithClock(now func() time.Time) ProfilerOption {
	return func(p *Profiler) { p.now = now }
}

// Profiler is the core recording profiler. It samples each
// allocation, resolves a trace index for it, and appends an event to a
// paired {base}.hpm / {base}.hpd file pair. It is thread-compatible but
// not thread-safe: concurrent callers must serialize access themselves
// (see patch.go, which provides exactly that serialization).
type Profiler struct {
	sampler *Sampler
	walker  StackWalker
	now     func() time.Time

	metaFile *scopedFile
	dataFile *scopedFile

	lastClock time.Time

	nextTraceIndex uint32
	traceIndexByFP map[uint32]uint32

	liveSet map[uintptr]liveAllocation

	// lastWriteErr records the most recent I/O failure while appending
	// an event, without propagating it: a write failure inside an
	// allocator hook must never perturb the host. Callers may inspect
	// this after Close to report it once.
	lastWriteErr error

	eventBuf []byte // reused scratch buffer for the hot path
}

// NewProfiler opens {filebase}.hpm and {filebase}.hpd for writing and
// writes the metadata header. On any open failure it returns ErrIO and
// no profiler.
func NewProfiler(filebase string, sampler *Sampler, opts ...ProfilerOption) (*Profiler, error) {
	p := &Profiler{
		sampler:        sampler,
		now:            time.Now,
		traceIndexByFP: make(map[uint32]uint32),
		liveSet:        make(map[uintptr]liveAllocation),
		nextTraceIndex: 1,
		eventBuf:       make([]byte, 0, 32),
	}
	for _, opt := range opts {
		opt(p)
	}

	metaFile, err := openScopedFile(filebase, ".hpm", true)
	if err != nil {
		return nil, err
	}
	dataFile, err := openScopedFile(filebase, ".hpd", true)
	if err != nil {
		metaFile.Close()
		return nil, err
	}
	p.metaFile = metaFile
	p.dataFile = dataFile

	p.lastClock = p.now()
	header := writeMetadataHeader(nil, p.lastClock, sampler)
	if err := writeAll(p.metaFile.f, header); err != nil {
		metaFile.Close()
		dataFile.Close()
		return nil, err
	}

	return p, nil
}

// HandleMalloc records a sampled allocation, or does nothing if size
// wasn't selected for sampling.
func (p *Profiler) HandleMalloc(ptr uintptr, size uint64) {
	if !p.sampler.Sample(size) {
		return
	}
	timestamp := p.now()
	idx := p.traceIndex()
	p.liveSet[ptr] = liveAllocation{traceIndex: idx, size: size}
	p.appendAndWrite(timestamp, idx, size, false)
}

// HandleFree records a free for a previously-sampled pointer. If ptr was
// never sampled (or profiling hadn't started when it was allocated), it
// is silently ignored.
func (p *Profiler) HandleFree(ptr uintptr) {
	rec, ok := p.liveSet[ptr]
	if !ok {
		return
	}
	timestamp := p.now()
	p.appendAndWrite(timestamp, rec.traceIndex, rec.size, true)
	delete(p.liveSet, ptr)
}

// HandleRealloc implements the default, deliberately simple realloc
// policy: a free of oldptr (if non-zero) followed by a malloc of
// newptr. This can lose precision if oldptr wasn't sampled but newptr
// would be, but avoids surprising double-counts.
func (p *Profiler) HandleRealloc(oldptr, newptr uintptr, size uint64) {
	if oldptr != 0 {
		p.HandleFree(oldptr)
	}
	p.HandleMalloc(newptr, size)
}

func (p *Profiler) appendAndWrite(timestamp time.Time, idx uint32, size uint64, isFree bool) {
	p.eventBuf = appendEvent(p.eventBuf[:0], &p.lastClock, timestamp, idx, size, isFree)
	if err := writeAll(p.dataFile.f, p.eventBuf); err != nil {
		p.lastWriteErr = err
	}
}

// traceIndex resolves the current call stack to a dense trace index,
// assigning a new one (and persisting the raw trace) on first sighting.
func (p *Profiler) traceIndex() uint32 {
	fp := captureFingerprint(p.walker)
	if fp == 0 {
		return 0
	}
	if idx, ok := p.traceIndexByFP[fp]; ok {
		return idx
	}

	newIndex := p.nextTraceIndex
	p.nextTraceIndex++

	buf, err := writeRawTrace(nil, p.walker)
	if err == nil && newIndex <= maxTraceIndex {
		if werr := writeAll(p.metaFile.f, buf); werr != nil {
			err = werr
		}
	}
	if err != nil || newIndex > maxTraceIndex {
		newIndex = 0
	}

	p.traceIndexByFP[fp] = newIndex
	return newIndex
}

// LastWriteError returns the most recent event-log write failure, if
// any. It never resets; check it once after Close.
func (p *Profiler) LastWriteError() error {
	return p.lastWriteErr
}

// LiveBytes returns a snapshot of the live set as pointer -> live byte
// count, for tests and diagnostics. It is not part of the hot path.
func (p *Profiler) LiveBytes() map[uintptr]uint64 {
	out := make(map[uintptr]uint64, len(p.liveSet))
	for ptr, rec := range p.liveSet {
		out[ptr] = rec.size
	}
	return out
}

// Close closes the metadata and data files. It does not truncate them:
// a partial .hpd file is always a valid prefix of a run.
func (p *Profiler) Close() error {
	metaErr := p.metaFile.Close()
	dataErr := p.dataFile.Close()
	if metaErr != nil {
		return metaErr
	}
	if dataErr != nil {
		return dataErr
	}
	return nil
}

var _ AbstractProfiler = (*Profiler)(nil)
