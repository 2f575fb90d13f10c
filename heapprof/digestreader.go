package heapprof

import (
	"fmt"
	"io"
	"time"
)

// DigestMetadata is the decoded header and index of a .hpc file: when the
// digest was built, the snapshot interval, and the byte offset of every
// snapshot it contains.
type DigestMetadata struct {
	InitTime time.Time
	Interval time.Duration
	Offsets  []int64
}

// ReadDigestMetadata parses a .hpc file's header, then seeks to the
// index it points to, verifies its magic, and decodes the delta-coded
// offset list.
func ReadDigestMetadata(r fixedWidthReader) (DigestMetadata, error) {
	version, err := readFixed32(r)
	if err != nil {
		return DigestMetadata{}, fmt.Errorf("%w: reading digest version: %v", ErrMalformed, err)
	}
	if version != digestVersion {
		return DigestMetadata{}, fmt.Errorf("%w: unknown digest format %d", ErrMalformed, version)
	}
	sec, err := readFixed64(r)
	if err != nil {
		return DigestMetadata{}, fmt.Errorf("%w: reading digest init time: %v", ErrMalformed, err)
	}
	nsec, err := readFixed64(r)
	if err != nil {
		return DigestMetadata{}, fmt.Errorf("%w: reading digest init time: %v", ErrMalformed, err)
	}
	intervalMsec, err := readVarint(r)
	if err != nil {
		return DigestMetadata{}, fmt.Errorf("%w: reading digest interval: %v", ErrMalformed, err)
	}
	indexOffset, err := readFixed64(r)
	if err != nil {
		return DigestMetadata{}, fmt.Errorf("%w: reading digest index offset: %v", ErrMalformed, err)
	}

	if _, err := r.Seek(int64(indexOffset), io.SeekStart); err != nil {
		return DigestMetadata{}, fmt.Errorf("%w: seeking to digest index: %v", ErrIO, err)
	}
	magic, err := readFixed32(r)
	if err != nil {
		return DigestMetadata{}, fmt.Errorf("%w: reading digest index magic: %v", ErrMalformed, err)
	}
	if magic != indexMagic {
		return DigestMetadata{}, fmt.Errorf("%w: bad digest index magic %#x", ErrMalformed, magic)
	}
	count, err := readVarint(r)
	if err != nil {
		return DigestMetadata{}, fmt.Errorf("%w: reading digest index count: %v", ErrMalformed, err)
	}

	offsets := make([]int64, count)
	var prev int64
	for i := uint64(0); i < count; i++ {
		v, err := readVarint(r)
		if err != nil {
			return DigestMetadata{}, fmt.Errorf("%w: reading digest index entry %d: %v", ErrMalformed, i, err)
		}
		var off int64
		if i == 0 {
			off = int64(v)
		} else {
			off = prev + int64(v)
		}
		offsets[i] = off
		prev = off
	}

	return DigestMetadata{
		InitTime: time.Unix(int64(sec), int64(nsec)),
		Interval: time.Duration(intervalMsec) * time.Millisecond,
		Offsets:  offsets,
	}, nil
}

// ReadDigestEntry seeks to offset, verifies the snapshot magic, and
// decodes the delta-coded (trace_index, live_bytes) list into a map.
func ReadDigestEntry(r fixedWidthReader, offset int64) (map[uint32]int64, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seeking to digest entry: %v", ErrIO, err)
	}
	magic, err := readFixed32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading snapshot magic: %v", ErrMalformed, err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("%w: bad snapshot magic %#x", ErrMalformed, magic)
	}
	count, err := readVarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading snapshot count: %v", ErrMalformed, err)
	}

	out := make(map[uint32]int64, count)
	var size int64
	for i := uint64(0); i < count; i++ {
		traceIndex, err := readVarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading snapshot entry %d trace index: %v", ErrMalformed, i, err)
		}
		v, err := readVarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading snapshot entry %d size: %v", ErrMalformed, i, err)
		}
		if i == 0 {
			size = int64(v)
		} else {
			size = size - int64(v)
		}
		out[uint32(traceIndex)] = size
	}
	return out, nil
}
