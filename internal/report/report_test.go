package report

import (
	"bytes"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadytls/internal/outcome"
	"steadytls/internal/stats"
	"steadytls/internal/target"
)

func sampleRecords() []outcome.Record {
	start := time.UnixMilli(1700000000000)
	return []outcome.Record{
		{VU: 1, Iteration: 0, Start: start, Status: 200, Bytes: 12, Timings: outcome.Timings{
			Connect: 2 * time.Millisecond, Handshake: 5 * time.Millisecond, TTFB: 10 * time.Millisecond, Total: 20 * time.Millisecond,
		}},
		{VU: 2, Iteration: 3, Start: start, Kind: outcome.KindHandshake, Err: "handshake: HandshakeError: no cipher"},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRecords(), "https://example.com/", 2))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])

	ok := rows[1]
	assert.Equal(t, "1700000000000", ok[0])
	assert.Equal(t, "20", ok[1])
	assert.Equal(t, "200", ok[3])
	assert.Equal(t, "OK", ok[4])
	assert.Equal(t, "VU 1-0", ok[5])
	assert.Equal(t, "true", ok[7])
	assert.Equal(t, "10", ok[14])
	assert.Equal(t, "7", ok[16])

	failed := rows[2]
	assert.Equal(t, "HandshakeError", failed[3])
	assert.Equal(t, "false", failed[7])
	assert.Contains(t, failed[8], "no cipher")
}

func TestExport(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "run")
	cfg := target.Config{
		URL:          "https://example.com/",
		TLSVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256},
	}
	sum := stats.Summary{
		Requests:   2,
		Successes:  1,
		Errors:     1,
		ErrorKinds: map[outcome.Kind]uint64{outcome.KindHandshake: 1},
	}
	files, err := Export(prefix, NewReport("r-1", cfg, 2, sum), sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + ".csv", prefix + "_summary.json"}, files)

	data, err := os.ReadFile(prefix + "_summary.json")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "r-1", got["run_id"])
	assert.Equal(t, "TLS 1.2", got["tls_version"])
	assert.Equal(t, []any{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"}, got["ciphers"])
	summary := got["summary"].(map[string]any)
	assert.Equal(t, map[string]any{"HandshakeError": 1.0}, summary["error_kinds"])
}

func TestCSVStream(t *testing.T) {
	name := filepath.Join(t.TempDir(), "run.csv")
	s, err := NewCSVStream(name, "https://example.com/", 4)
	require.NoError(t, err)
	assert.Equal(t, name, s.Name())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Observe(outcome.Record{VU: i + 1, Iteration: j, Status: 200})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, s.Rows())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// Records after Close are dropped.
	s.Observe(outcome.Record{VU: 9, Status: 200})
	assert.Equal(t, 400, s.Rows())

	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 401)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "4", rows[1][11])
}

func TestCSVStream_BadPath(t *testing.T) {
	_, err := NewCSVStream(filepath.Join(t.TempDir(), "missing", "run.csv"), "https://example.com/", 1)
	assert.Error(t, err)
}
