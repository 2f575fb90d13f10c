package heapprof

import (
	"fmt"
	"os"
)

// scopedFile owns an *os.File opened either for truncating write or for
// read, and closes it (optionally deleting it) when the owner is done
// with it: a single RAII-style handle instead of a raw fd plus manual
// bookkeeping.
//
// Unlike a C++ destructor, scopedFile.Close must be called explicitly;
// callers should defer it immediately after a successful open.
type scopedFile struct {
	f            *os.File
	name         string
	deleteOnDrop bool
}

// openScopedFile opens filebase+suffix for either write (truncating,
// creating with mode 0600) or read.
func openScopedFile(filebase, suffix string, write bool) (*scopedFile, error) {
	name := filebase + suffix
	var (
		f   *os.File
		err error
	)
	if write {
		f, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	} else {
		f, err = os.Open(name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, name, err)
	}
	return &scopedFile{f: f, name: name}, nil
}

// setDeleteOnDrop marks (or unmarks) the file for deletion on Close. The
// digest builder uses this to implement atomic publication: a digest
// that fails partway through is unlinked rather than left half-written.
func (s *scopedFile) setDeleteOnDrop(v bool) {
	s.deleteOnDrop = v
}

// Close closes the underlying file and, if setDeleteOnDrop(true) was
// called and never undone, unlinks it. The first error encountered is
// returned; Close still attempts the unlink even if the close failed.
func (s *scopedFile) Close() error {
	closeErr := s.f.Close()
	var unlinkErr error
	if s.deleteOnDrop {
		unlinkErr = os.Remove(s.name)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, s.name, closeErr)
	}
	if unlinkErr != nil {
		return fmt.Errorf("%w: removing %s: %v", ErrIO, s.name, unlinkErr)
	}
	return nil
}
