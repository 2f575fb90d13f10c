// Package heapprofsrv serves a digest file's metadata and snapshots
// read-only over HTTP. It is transport only — no report rendering, no
// viewer GUI — matching the scope of the digest reader one
// layer up.
package heapprofsrv

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/humu/go-heapprof/heapprof"
)

// Server exposes a single .hpc digest file's metadata and snapshots.
// Reads are serialized because os.File's seek+read pattern used by
// ReadDigestEntry isn't safe for concurrent callers sharing one handle.
type Server struct {
	mu   sync.Mutex
	f    *os.File
	meta heapprof.DigestMetadata
}

// Open opens the digest at path and parses its header and index.
func Open(path string) (*Server, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", heapprof.ErrIO, path, err)
	}
	meta, err := heapprof.ReadDigestMetadata(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Server{f: f, meta: meta}, nil
}

// Close closes the underlying digest file.
func (s *Server) Close() error {
	return s.f.Close()
}

// metadataResponse is the JSON shape returned by GET /metadata.
type metadataResponse struct {
	InitTimeUnix  int64 `json:"init_time_unix"`
	IntervalMsec  int64 `json:"interval_msec"`
	SnapshotCount int   `json:"snapshot_count"`
}

// Routes builds the router: GET /metadata, GET /snapshots/{index}.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/metadata", s.handleMetadata)
	r.Get("/snapshots/{index}", s.handleSnapshot)
	return r
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	resp := metadataResponse{
		InitTimeUnix:  s.meta.InitTime.Unix(),
		IntervalMsec:  s.meta.Interval.Milliseconds(),
		SnapshotCount: len(s.meta.Offsets),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || idx < 0 || idx >= len(s.meta.Offsets) {
		http.Error(w, "snapshot index out of range", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	entry, err := heapprof.ReadDigestEntry(s.f, s.meta.Offsets[idx])
	s.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make(map[string]int64, len(entry))
	for traceIndex, bytes := range entry {
		out[strconv.FormatUint(uint64(traceIndex), 10)] = bytes
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
