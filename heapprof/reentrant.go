package heapprof

import (
	"runtime"
	"strconv"
	"sync"
)

// ReentrancyGuard tracks, per calling goroutine, whether an allocator
// wrapper is already executing further up the call stack.
// Only the outermost wrapped call for a given goroutine should trigger
// profiling; this prevents double-counting when one allocator domain
// delegates to another (e.g. an "object" allocator falling back to the
// "memory" allocator for large requests).
//
// A native host would key this off real OS-thread-local storage. Go
// doesn't expose anything equivalent for goroutines, so this keys off
// the running goroutine's ID instead — the nearest available analog,
// since allocator wrapper calls execute synchronously on whichever
// goroutine made the allocation.
type ReentrancyGuard struct {
	mu       sync.Mutex
	inMalloc map[uint64]struct{}
}

// NewReentrancyGuard returns a guard ready for use.
func NewReentrancyGuard() *ReentrancyGuard {
	return &ReentrancyGuard{inMalloc: make(map[uint64]struct{})}
}

// ReentrancyScope is the result of entering a guard once; its IsTopLevel
// method reveals whether this call is the outermost allocator call on
// the current goroutine. Callers must call Exit when the wrapped
// allocator call returns.
type ReentrancyScope struct {
	guard      *ReentrancyGuard
	gid        uint64
	isTopLevel bool
}

// Enter records that an allocator wrapper is starting to execute on the
// current goroutine, and reports whether it is the outermost such call.
func (g *ReentrancyGuard) Enter() *ReentrancyScope {
	gid := goroutineID()
	g.mu.Lock()
	_, already := g.inMalloc[gid]
	if !already {
		g.inMalloc[gid] = struct{}{}
	}
	g.mu.Unlock()
	return &ReentrancyScope{guard: g, gid: gid, isTopLevel: !already}
}

// IsTopLevel reports whether this scope is the outermost allocator call
// for its goroutine; only a top-level scope should trigger profiling.
func (s *ReentrancyScope) IsTopLevel() bool {
	return s.isTopLevel
}

// Exit releases the scope. It must be called exactly once, typically via
// defer immediately after Enter.
func (s *ReentrancyScope) Exit() {
	if !s.isTopLevel {
		return
	}
	s.guard.mu.Lock()
	delete(s.guard.inMalloc, s.gid)
	s.guard.mu.Unlock()
}

// goroutineID extracts the numeric ID from the current goroutine's
// stack trace header ("goroutine 123 [running]: ..."). This is the
// standard (if slightly disreputable) way to obtain a per-goroutine key
// in pure Go; it's only consulted on the allocator hot path's reentrancy
// check, never hashed into any persisted data.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Expect "goroutine <id> [running]:\n..."
	b := buf[:n]
	const prefix = "goroutine "
	if len(b) <= len(prefix) {
		return 0
	}
	b = b[len(prefix):]
	i := 0
	for i < len(b) && b[i] != ' ' {
		i++
	}
	id, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return id
}
