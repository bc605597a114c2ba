package cmd

import (
	"context"
	"crypto/tls"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadytls/internal/runner"
	"steadytls/internal/storage"
	"steadytls/internal/testutil"
)

func newViper(t *testing.T, values map[string]any) *viper.Viper {
	t.Helper()
	v := viper.New()
	require.NoError(t, v.BindPFlags(runCmd.Flags()))
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestBuildConfigs(t *testing.T) {
	v := newViper(t, map[string]any{
		"url":         "https://www.example.com/",
		"tls-version": "1.2",
		"cipher":      []string{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"},
		"insecure":    true,
		"header":      []string{"X-Run: {{uuid}}", "Accept: */*"},
		"host":        []string{"www.example.com=10.0.0.7"},
		"vus":         4,
		"duration":    "30s",
	})

	tc, rc, err := buildConfigs(v)
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), tc.TLSVersion)
	assert.Equal(t, []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256}, tc.CipherSuites)
	assert.True(t, tc.SkipVerify)
	assert.False(t, tc.ReuseConnections)
	assert.Equal(t, map[string]string{"X-Run": "{{uuid}}", "Accept": "*/*"}, tc.Headers)
	assert.Equal(t, map[string]string{"www.example.com": "10.0.0.7"}, tc.Hosts)
	assert.Equal(t, 4, rc.VUs)
	assert.Equal(t, 30*time.Second, rc.Duration)
	assert.Zero(t, rc.Iterations)
	assert.Equal(t, runner.DefaultTimeout, rc.Timeout)
}

func TestBuildConfigs_DefaultsToOneIteration(t *testing.T) {
	_, rc, err := buildConfigs(newViper(t, map[string]any{"url": "https://localhost/"}))
	require.NoError(t, err)
	assert.Equal(t, 1, rc.VUs)
	assert.Equal(t, 1, rc.Iterations)
	assert.NoError(t, rc.Validate())
}

func TestBuildConfigs_Errors(t *testing.T) {
	for name, values := range map[string]map[string]any{
		"tls version": {"tls-version": "9.9"},
		"cipher":      {"cipher": []string{"TLS_NOPE"}},
		"header":      {"header": []string{"no separator"}},
		"host":        {"host": []string{"=1.2.3.4"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := buildConfigs(newViper(t, values))
			assert.Error(t, err)
		})
	}
}

func TestRunBenchmark(t *testing.T) {
	srv := testutil.NewTLSServer(t)
	dir := t.TempDir()
	v := newViper(t, map[string]any{
		"url":          srv.URL + "/delay?ms=1",
		"insecure":     true,
		"reuse":        true,
		"vus":          2,
		"iterations":   3,
		"out":          filepath.Join(dir, "run"),
		"history-file": filepath.Join(dir, "history.db"),
	})

	require.NoError(t, runBenchmark(context.Background(), v))
	csvData, err := os.ReadFile(filepath.Join(dir, "run.csv"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(csvData)), "\n"), 7)
	assert.FileExists(t, filepath.Join(dir, "run_summary.json"))

	store, err := storage.NewStore(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer store.Close()
	items, err := store.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, uint64(6), items[0].Summary.Requests)
	assert.True(t, items[0].Target.ReuseConnections)
}

func TestRunBenchmark_InvalidTarget(t *testing.T) {
	v := newViper(t, map[string]any{"url": "http://plain.example.com/", "no-history": true})
	err := runBenchmark(context.Background(), v)
	assert.Error(t, err)

	_, statErr := os.Stat("run.csv")
	assert.True(t, os.IsNotExist(statErr))
}
