// Package heapprof implements the native core of a sampling heap profiler:
// size-tiered sampling, reentrancy-safe allocator interception, a compact
// binary event log, and a digest builder that folds an event log into
// periodic live-memory snapshots.
//
// The package does not itself hook any particular host allocator; callers
// supply an Allocator and a StackWalker (see patch.go and trace.go) for
// the runtime they want to profile.
package heapprof
