package heapprof

import (
	"sync"
	"sync/atomic"
)

// Domain identifies one of the host's allocation domains.
// "Object" and "memory" are always called under the host's own global
// coordination lock; "raw" is not, and gets its own dedicated mutex.
type Domain int

const (
	DomainRaw Domain = iota
	DomainMemory
	DomainObject
)

func (d Domain) String() string {
	switch d {
	case DomainRaw:
		return "raw"
	case DomainMemory:
		return "memory"
	case DomainObject:
		return "object"
	default:
		return "unknown"
	}
}

// AllocFunc, CallocFunc, ReallocFunc and FreeFunc are the host's raw
// allocation primitives, parameterized by an opaque per-domain context.
// Pointers are modeled as uintptr: opaque keys the core never
// dereferences.
type (
	AllocFunc   func(ctx any, size uintptr) uintptr
	CallocFunc  func(ctx any, nelem, elsize uintptr) uintptr
	ReallocFunc func(ctx any, ptr uintptr, size uintptr) uintptr
	FreeFunc    func(ctx any, ptr uintptr)
)

// Allocator is one domain's function-pointer quintet: the host's real
// allocation primitives plus the context they close over.
type Allocator struct {
	Malloc  AllocFunc
	Calloc  CallocFunc
	Realloc ReallocFunc
	Free    FreeFunc
	Ctx     any
}

// AllocatorPatch wraps a host's per-domain allocators so that every
// malloc/calloc/realloc/free is intercepted, reentrancy- and lock-safe,
// and dispatched to whichever profiler is currently attached. Create one
// with NewAllocatorPatch; the zero value has no reentrancy guard and no
// base-allocator map and is not usable.
type AllocatorPatch struct {
	guard *ReentrancyGuard
	raw   sync.Mutex // dedicated lock for the "raw" domain only

	mu   sync.Mutex // protects the maps below and attach/detach sequencing
	base map[Domain]Allocator

	// profiler is the process-wide profiler slot: wrapper calls load it
	// without taking mu, so hot-path dispatch never contends with
	// Attach/Detach.
	profiler atomic.Pointer[AbstractProfiler]
}

// NewAllocatorPatch returns a patch with no base allocators registered
// and nothing attached.
func NewAllocatorPatch() *AllocatorPatch {
	return &AllocatorPatch{
		guard: NewReentrancyGuard(),
		base:  make(map[Domain]Allocator),
	}
}

// SetBaseAllocator records the host's real allocator for domain so that
// BaseAllocator can return it later. The patch installs and restores no
// allocators itself: the host builds wrappers with WrapMalloc, WrapCalloc,
// WrapRealloc and WrapFree, and Detach neither reads nor restores the
// allocators recorded here.
func (p *AllocatorPatch) SetBaseAllocator(domain Domain, a Allocator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base[domain] = a
}

// BaseAllocator returns the saved base allocator for domain, for use by
// the host's own wrapper plumbing (e.g. to call through after this
// patch's wrapper has recorded the event).
func (p *AllocatorPatch) BaseAllocator(domain Domain) (Allocator, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.base[domain]
	return a, ok
}

// attach installs profiler as the active profiler, failing with
// ErrAlreadyAttached if one is already active.
func (p *AllocatorPatch) attach(profiler AbstractProfiler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.profiler.Load() != nil {
		return ErrAlreadyAttached
	}
	p.profiler.Store(&profiler)
	return nil
}

// StartProfiler attaches a recording Profiler opened against filebase
// with the given sampling table.
func (p *AllocatorPatch) StartProfiler(filebase string, table SamplingTable, opts ...ProfilerOption) error {
	sampler, err := NewSampler(table)
	if err != nil {
		return err
	}
	profiler, err := NewProfiler(filebase, sampler, opts...)
	if err != nil {
		return err
	}
	if err := p.attach(profiler); err != nil {
		profiler.Close()
		return err
	}
	return nil
}

// StartStats attaches a StatsGatherer.
func (p *AllocatorPatch) StartStats() error {
	return p.attach(NewStatsGatherer())
}

// Stop is an alias for Detach.
func (p *AllocatorPatch) Stop() error {
	return p.Detach()
}

// IsProfiling is an alias for IsAttached.
func (p *AllocatorPatch) IsProfiling() bool {
	return p.IsAttached()
}

// Detach clears the active profiler and closes it, returning any error
// from Close. It is idempotent: detaching an already-detached patch is a
// no-op that returns nil.
func (p *AllocatorPatch) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.profiler.Swap(nil)
	if old == nil {
		return nil
	}
	return (*old).Close()
}

// IsAttached reports whether a profiler is currently active.
func (p *AllocatorPatch) IsAttached() bool {
	return p.profiler.Load() != nil
}

// dispatch invokes fn against the active profiler, honoring the
// domain's locking rule:
//
//   - "object" and "memory" domains are always called under the host's
//     own coordination lock, so no additional lock is taken here.
//   - the "raw" domain carries no such guarantee, so a dedicated mutex
//     is held around the call; this mutex is never taken for the other
//     two domains, which would risk deadlocking against the host's lock
//     ordering.
//
// The reentrancy check itself is the caller's responsibility (see
// enterDomain): by the time dispatch runs, the caller has already
// established that this is the outermost wrapped
// call on the current goroutine.
func (p *AllocatorPatch) dispatch(domain Domain, fn func(AbstractProfiler)) {
	profiler := p.profiler.Load()
	if profiler == nil {
		return
	}

	if domain == DomainRaw {
		p.raw.Lock()
		defer p.raw.Unlock()
	}

	fn(*profiler)
}

// enterDomain opens a reentrancy scope for domain before the wrapper
// calls through to the host's base allocator. The scope must span the
// base call, not just the profiler dispatch: when one allocator domain
// delegates to another underneath base(), the nested wrapped call has to see
// "not top-level" for the reentrancy guard to do anything at all — a
// scope opened only around the profiler call would let both the outer
// and the inner call see themselves as top-level, double-recording a
// single physical allocation.
func (p *AllocatorPatch) enterDomain() *ReentrancyScope {
	return p.guard.Enter()
}

// WrapMalloc returns a malloc wrapper for domain that calls through to
// base, then reports the allocation to the active profiler.
func (p *AllocatorPatch) WrapMalloc(domain Domain, base AllocFunc) AllocFunc {
	return func(ctx any, size uintptr) uintptr {
		scope := p.enterDomain()
		defer scope.Exit()

		ptr := base(ctx, size)
		if ptr != 0 && scope.IsTopLevel() {
			p.dispatch(domain, func(pr AbstractProfiler) {
				pr.HandleMalloc(ptr, uint64(size))
			})
		}
		return ptr
	}
}

// WrapCalloc returns a calloc wrapper for domain.
func (p *AllocatorPatch) WrapCalloc(domain Domain, base CallocFunc) CallocFunc {
	return func(ctx any, nelem, elsize uintptr) uintptr {
		scope := p.enterDomain()
		defer scope.Exit()

		ptr := base(ctx, nelem, elsize)
		if ptr != 0 && scope.IsTopLevel() {
			p.dispatch(domain, func(pr AbstractProfiler) {
				pr.HandleMalloc(ptr, uint64(nelem)*uint64(elsize))
			})
		}
		return ptr
	}
}

// WrapRealloc returns a realloc wrapper for domain.
func (p *AllocatorPatch) WrapRealloc(domain Domain, base ReallocFunc) ReallocFunc {
	return func(ctx any, ptr uintptr, size uintptr) uintptr {
		scope := p.enterDomain()
		defer scope.Exit()

		newPtr := base(ctx, ptr, size)
		if newPtr != 0 && scope.IsTopLevel() {
			p.dispatch(domain, func(pr AbstractProfiler) {
				pr.HandleRealloc(ptr, newPtr, uint64(size))
			})
		}
		return newPtr
	}
}

// WrapFree returns a free wrapper for domain.
func (p *AllocatorPatch) WrapFree(domain Domain, base FreeFunc) FreeFunc {
	return func(ctx any, ptr uintptr) {
		scope := p.enterDomain()
		defer scope.Exit()

		base(ctx, ptr)
		if ptr != 0 && scope.IsTopLevel() {
			p.dispatch(domain, func(pr AbstractProfiler) {
				pr.HandleFree(ptr)
			})
		}
	}
}
