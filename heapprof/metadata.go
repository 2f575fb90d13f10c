package heapprof

import (
	"fmt"
	"time"
)

// metadataVersion is the current .hpm format version.
const metadataVersion uint32 = 1

// writeMetadataHeader writes the .hpm header: fixed32 version, fixed64
// start_sec, fixed64 start_nsec, then the sampler's persisted sampling
// table.
func writeMetadataHeader(buf []byte, startClock time.Time, sampler *Sampler) []byte {
	buf = appendFixed32(buf, metadataVersion)
	buf = appendFixed64(buf, uint64(startClock.Unix()))
	buf = appendFixed64(buf, uint64(startClock.Nanosecond()))
	buf = sampler.writeState(buf)
	return buf
}

// Metadata is the decoded header of a .hpm file: when profiling started,
// and the sampling table that was in effect.
type Metadata struct {
	StartTime     time.Time
	SamplingTable SamplingTable
}

// ReadMetadata reads only the .hpm header (version, start time, sampling
// table) — not the raw traces that follow it, which are read one at a
// time with ReadRawTraceTopDown as needed.
func ReadMetadata(r fixedWidthReader) (Metadata, error) {
	version, err := readFixed32(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: reading metadata version: %v", ErrMalformed, err)
	}
	if version != metadataVersion {
		return Metadata{}, fmt.Errorf("%w: unknown metadata format %d", ErrMalformed, version)
	}

	sec, err := readFixed64(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: reading metadata start time: %v", ErrMalformed, err)
	}
	nsec, err := readFixed64(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: reading metadata start time: %v", ErrMalformed, err)
	}

	table, err := readSamplingTable(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: reading sampling table: %v", ErrMalformed, err)
	}

	return Metadata{
		StartTime:     time.Unix(int64(sec), int64(nsec)),
		SamplingTable: table,
	}, nil
}
