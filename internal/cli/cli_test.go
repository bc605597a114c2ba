package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadytls/internal/outcome"
	"steadytls/internal/runner"
	"steadytls/internal/stats"
	"steadytls/internal/testutil"
)

func TestProgress(t *testing.T) {
	dur := runner.RunConfig{VUs: 1, Duration: 10 * time.Second}
	assert.InDelta(t, 0.5, progress(dur, stats.Snapshot{Elapsed: 5 * time.Second}), 1e-9)
	assert.Equal(t, 1.0, progress(dur, stats.Snapshot{Elapsed: time.Minute}))

	it := runner.RunConfig{VUs: 2, Iterations: 5}
	assert.InDelta(t, 0.3, progress(it, stats.Snapshot{Requests: 3}), 1e-9)
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[█████-----]", progressBar(0.5, 10))
	assert.Equal(t, "[----------]", progressBar(-1, 10))
	assert.Equal(t, "[██████████]", progressBar(2, 10))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, stats.Summary{
		Requests:    4,
		Successes:   3,
		Errors:      1,
		ErrorKinds:  map[outcome.Kind]uint64{outcome.KindTimeout: 1},
		StatusCodes: map[int]uint64{200: 2, 503: 1},
		Percentiles: []stats.Percentile{{Quantile: 50, Value: 12 * time.Millisecond}},
	})
	out := buf.String()
	assert.Contains(t, out, "Errors         : 1 (25.00%)")
	assert.Contains(t, out, "P50 : 12.00")
	assert.Contains(t, out, "1 x 503")
	assert.Contains(t, out, "1 x Timeout")
	assert.Less(t, strings.Index(out, "2 x 200"), strings.Index(out, "1 x 503"))
}

func TestStart(t *testing.T) {
	srv := testutil.NewTLSServer(t)
	updates := make(runner.StatsUpdateChan, 100)
	r, err := runner.New(srv.Target("/delay?ms=5"), runner.RunConfig{VUs: 2, Iterations: 3},
		runner.WithUpdates(updates), runner.WithTickInterval(10*time.Millisecond))
	require.NoError(t, err)

	var buf bytes.Buffer
	s, err := Start(context.Background(), r, updates, &buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), s.Requests)
	assert.Contains(t, buf.String(), "STARTING STEADYTLS BENCHMARK")
	assert.Contains(t, buf.String(), "Iterations : 3 per VU")
	assert.Contains(t, buf.String(), "Requests       : 6")
}
