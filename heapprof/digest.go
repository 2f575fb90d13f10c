package heapprof

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

const (
	snapshotMagic uint32 = 0x5379a0bd
	indexMagic    uint32 = 0xab935776
	digestVersion uint32 = 1
)

// DigestOption configures a digest build.
type DigestOption func(*digestConfig)

type digestConfig struct {
	precision float64
	progress  io.Writer
	cancelled func() bool
	now       func() time.Time
}

// WithDigestPrecision sets the tail-aggregation precision in [0,1): a
// snapshot's smallest live-byte entries are folded into a single
// synthetic trace_index=0 "other" bucket once their cumulative share of
// the total stays under this fraction.
func WithDigestPrecision(p float64) DigestOption {
	return func(c *digestConfig) { c.precision = p }
}

// WithDigestProgress enables the verbose progress branch, writing a line
// per emitted snapshot to w.
func WithDigestProgress(w io.Writer) DigestOption {
	return func(c *digestConfig) { c.progress = w }
}

// WithCancel supplies a polling function the digest builder checks
// between events; once it returns true the builder stops early and
// finalizes with whatever it has accumulated.
func WithCancel(cancelled func() bool) DigestOption {
	return func(c *digestConfig) { c.cancelled = cancelled }
}

// withDigestClock overrides the clock used to stamp init_sec/init_nsec,
// for deterministic tests.
func withDigestClock(now func() time.Time) DigestOption {
	return func(c *digestConfig) { c.now = now }
}

// cancelPollInterval is how many events pass between cancellation
// checks; checking every event would be wasted overhead for what is
// almost always a no-op function call.
const cancelPollInterval = 256

// BuildDigest streams {filebase}.hpd, scaling each event by the sampling
// table recorded in {filebase}.hpm, and writes {filebase}.hpc: a header,
// periodic live-set snapshots, and a random-access index.
// A digest left incomplete by an error is deleted rather than left
// half-written (scopedFile's delete-on-drop).
func BuildDigest(filebase string, intervalMsec uint64, opts ...DigestOption) error {
	cfg := digestConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	metaFile, err := os.Open(filebase + ".hpm")
	if err != nil {
		return fmt.Errorf("%w: opening %s.hpm: %v", ErrIO, filebase, err)
	}
	metadata, err := ReadMetadata(metaFile)
	metaFile.Close()
	if err != nil {
		return err
	}
	scaling := metadata.SamplingTable.Scaling()

	dataFile, err := os.Open(filebase + ".hpd")
	if err != nil {
		return fmt.Errorf("%w: opening %s.hpd: %v", ErrIO, filebase, err)
	}
	defer dataFile.Close()

	hpc, err := openScopedFile(filebase, ".hpc", true)
	if err != nil {
		return err
	}
	hpc.setDeleteOnDrop(true)
	defer hpc.Close()

	now := cfg.now()
	header := appendFixed32(nil, digestVersion)
	header = appendFixed64(header, uint64(now.Unix()))
	header = appendFixed64(header, uint64(now.Nanosecond()))
	header = appendVarint(header, intervalMsec)
	placeholderOffset := int64(len(header))
	header = appendFixed64(header, 0) // index_offset_placeholder
	if err := writeAll(hpc.f, header); err != nil {
		return err
	}
	pos := int64(len(header))

	liveBytes := make(map[uint32]int64)
	interval := time.Duration(intervalMsec) * time.Millisecond
	var relativeTime time.Duration
	nextSnapshot := interval
	var snapshotOffsets []int64

	emit := func() error {
		buf := buildSnapshot(liveBytes, cfg.precision)
		if err := writeAll(hpc.f, buf); err != nil {
			return err
		}
		snapshotOffsets = append(snapshotOffsets, pos)
		pos += int64(len(buf))
		if cfg.progress != nil {
			fmt.Fprintf(cfg.progress, "snapshot %d at +%s: %d live traces\n",
				len(snapshotOffsets), relativeTime, len(liveBytes))
		}
		return nil
	}

	eventCount := 0
	cancelled := false
loop:
	for {
		eventCount++
		if cfg.cancelled != nil && eventCount%cancelPollInterval == 0 && cfg.cancelled() {
			cancelled = true
			break loop
		}

		event, err := ReadEvent(dataFile)
		if err != nil {
			// EOF, or a malformed trailing event: either way a partial
			// digest built from a prefix of the run is still useful
			//, so this is swallowed rather than
			// propagated.
			break loop
		}

		scaled := scaling.Scale(event.Size)
		if event.IsFree {
			scaled = -scaled
		}
		liveBytes[event.TraceIndex] += scaled
		if liveBytes[event.TraceIndex] == 0 {
			delete(liveBytes, event.TraceIndex)
		}

		if event.Delta > 0 {
			relativeTime += event.Delta
		}
		for relativeTime >= nextSnapshot {
			if err := emit(); err != nil {
				return err
			}
			nextSnapshot += interval
		}
	}

	indexOffset := pos
	indexBuf := appendFixed32(nil, indexMagic)
	indexBuf = appendVarint(indexBuf, uint64(len(snapshotOffsets)))
	var prev int64
	for i, off := range snapshotOffsets {
		if i == 0 {
			indexBuf = appendVarint(indexBuf, uint64(off))
		} else {
			indexBuf = appendVarint(indexBuf, uint64(off-prev))
		}
		prev = off
	}
	if err := writeAll(hpc.f, indexBuf); err != nil {
		return err
	}

	patch := appendFixed64(nil, uint64(indexOffset))
	if _, err := hpc.f.WriteAt(patch, placeholderOffset); err != nil {
		return fmt.Errorf("%w: patching index offset: %v", ErrIO, err)
	}

	// A finalized digest is always kept, even one cut short by
	// cancellation: a partial digest of a prefix of the run is useful,
	// matching the event-stream EOF handling above. Cancellation is
	// still reported to the caller, distinct from a clean finish.
	hpc.setDeleteOnDrop(false)
	if cancelled {
		return ErrCancelled
	}
	return nil
}

// snapshotEntry is one (trace_index, live_bytes) pair awaiting encoding.
type snapshotEntry struct {
	traceIndex uint32
	bytes      int64
}

// buildSnapshot encodes live as a descending-by-size, delta-coded
// snapshot record, folding precision's worth of the smallest tail
// entries into a single synthetic trace_index=0 bucket.
func buildSnapshot(live map[uint32]int64, precision float64) []byte {
	entries := make([]snapshotEntry, 0, len(live))
	var total int64
	for idx, b := range live {
		if b == 0 {
			continue
		}
		entries = append(entries, snapshotEntry{traceIndex: idx, bytes: b})
		total += b
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].bytes > entries[j].bytes })

	if precision > 0 && total > 0 {
		threshold := precision * float64(total)
		var peeled int64
		i := len(entries)
		for i > 0 && float64(peeled+entries[i-1].bytes) < threshold {
			i--
			peeled += entries[i].bytes
		}
		if i < len(entries) {
			tailStart := i
			entries = entries[:tailStart]
			entries = insertDescending(entries, snapshotEntry{traceIndex: 0, bytes: peeled})
		}
	}

	buf := appendFixed32(nil, snapshotMagic)
	buf = appendVarint(buf, uint64(len(entries)))
	var prev int64
	for i, e := range entries {
		buf = appendVarint(buf, uint64(e.traceIndex))
		if i == 0 {
			buf = appendVarint(buf, uint64(e.bytes))
		} else {
			buf = appendVarint(buf, uint64(prev-e.bytes))
		}
		prev = e.bytes
	}
	return buf
}

// insertDescending inserts e into entries (already sorted descending by
// bytes) at the position that keeps it sorted.
func insertDescending(entries []snapshotEntry, e snapshotEntry) []snapshotEntry {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].bytes <= e.bytes })
	entries = append(entries, snapshotEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}
