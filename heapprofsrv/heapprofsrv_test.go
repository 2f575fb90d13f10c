package heapprofsrv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/humu/go-heapprof/heapprof"
)

// buildDigest drives a minimal profiler+digest pipeline to produce a real
// .hpc file to serve, rather than hand-crafting the wire format here.
func buildDigest(t *testing.T) string {
	t.Helper()
	filebase := filepath.Join(t.TempDir(), "run")
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sampler, err := heapprof.NewSampler(heapprof.SamplingTable{{MaxBytes: 1 << 20, Probability: 1}})
	require.NoError(t, err)

	p, err := heapprof.NewProfiler(filebase, sampler, heapprof.WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	p.HandleMalloc(1, 100)
	clock = clock.Add(2 * time.Second)
	p.HandleMalloc(2, 200)
	require.NoError(t, p.Close())

	require.NoError(t, heapprof.BuildDigest(filebase, 1000))
	return filebase + ".hpc"
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.hpc"))
	require.ErrorIs(t, err, heapprof.ErrIO)
}

func TestServerMetadataAndSnapshots(t *testing.T) {
	digestPath := buildDigest(t)
	srv, err := Open(digestPath)
	require.NoError(t, err)
	defer srv.Close()

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metadata")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta metadataResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	require.Positive(t, meta.SnapshotCount)
	require.Equal(t, int64(1000), meta.IntervalMsec)

	resp2, err := http.Get(ts.URL + "/snapshots/0")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var snapshot map[string]int64
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&snapshot))
	require.NotEmpty(t, snapshot)
}

func TestServerSnapshotOutOfRange(t *testing.T) {
	digestPath := buildDigest(t)
	srv, err := Open(digestPath)
	require.NoError(t, err)
	defer srv.Close()

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/snapshots/999")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerSnapshotNonNumericIndex(t *testing.T) {
	digestPath := buildDigest(t)
	srv, err := Open(digestPath)
	require.NoError(t, err)
	defer srv.Close()

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/snapshots/notanumber")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseClosesUnderlyingFile(t *testing.T) {
	digestPath := buildDigest(t)
	srv, err := Open(digestPath)
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	_, statErr := os.Stat(digestPath)
	require.NoError(t, statErr, "Close must not delete the digest file")
}
