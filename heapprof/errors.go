package heapprof

import "errors"

// Sentinel error kinds Wrap these with fmt.Errorf("%w", ...)
// to add context; callers can still recover the kind with errors.Is.
var (
	// ErrBadConfig means a sampling table was invalid: a duplicate
	// max_bytes, an out-of-range probability, or a negative size.
	ErrBadConfig = errors.New("heapprof: bad sampling configuration")

	// ErrIO wraps a failure to open, read, write, or seek one of the
	// profiler's files.
	ErrIO = errors.New("heapprof: i/o error")

	// ErrMalformed means a stream had a bad magic number, an
	// unrecognized version, or was truncated somewhere other than the
	// digester's benign end-of-event-stream case.
	ErrMalformed = errors.New("heapprof: malformed stream")

	// ErrAlreadyAttached is returned by StartProfiler/StartStats when a
	// profiler is already attached.
	ErrAlreadyAttached = errors.New("heapprof: a profiler is already attached")

	// ErrCancelled is returned by BuildDigest when it stops early because
	// the caller's cancellation signal fired. It is not itself an
	// error condition: the digest written so far is still valid.
	ErrCancelled = errors.New("heapprof: digest cancelled")
)
