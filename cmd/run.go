package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"steadytls/internal/cli"
	"steadytls/internal/metrics"
	"steadytls/internal/report"
	"steadytls/internal/runner"
	"steadytls/internal/stats"
	"steadytls/internal/storage"
	"steadytls/internal/target"
	"steadytls/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Benchmark an HTTPS target",
	Example: `  steadytls run -u https://localhost:8443/fast --vus 10 --duration 30s --insecure
  steadytls run -u https://www.example.com/ --host www.example.com=10.0.0.7 \
      --tls-version 1.2 --cipher TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256 --iterations 100`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBenchmark(cmd.Context(), viper.GetViper())
	},
}

func init() {
	f := runCmd.Flags()
	f.StringP("url", "u", "", "target URL (https only)")
	f.StringP("method", "X", "GET", "HTTP method")
	f.StringP("body", "b", "", "request body (supports {{vu}}, {{iteration}}, {{uuid}})")
	f.StringSliceP("header", "H", nil, `request header, "Key: Value" (repeatable)`)
	f.StringSlice("host", nil, "dial override, name=address (repeatable)")

	f.String("tls-version", "", "pin the TLS version (1.0, 1.1, 1.2, 1.3)")
	f.StringSlice("cipher", nil, "allowed cipher suite by IANA name (repeatable)")
	f.BoolP("insecure", "k", false, "skip certificate verification")
	f.String("ca-file", "", "PEM file with extra trusted roots")
	f.Bool("reuse", false, "reuse connections between requests")
	f.Duration("idle-timeout", target.DefaultIdleTimeout, "how long a pooled connection may stay idle")

	f.Int("vus", 1, "number of virtual users")
	f.DurationP("duration", "d", 0, "run for this long (exclusive with --iterations)")
	f.IntP("iterations", "i", 0, "iterations per virtual user (default 1 when no duration is given)")
	f.Duration("timeout", runner.DefaultTimeout, "per-request timeout")
	f.Float64("rps", 0, "cap on the combined request rate (0 = unpaced)")
	f.Duration("think-time", 0, "pause between iterations of one virtual user")
	f.Float64("abort-error-rate", 0, "abort when the transport error rate exceeds this percentage (0 = never)")
	f.Uint64("abort-min-requests", 20, "requests to record before --abort-error-rate applies")

	f.StringP("out", "o", "", "stream records to <out>.csv and write <out>_summary.json")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.Bool("tui", false, "show the live dashboard")
	f.Bool("no-history", false, "do not record the run in the history database")
	f.String("history-file", "", "history database (default $HOME/.steadytls/history.db)")
}

// buildConfigs turns flags, config file and env into the two run configs.
func buildConfigs(v *viper.Viper) (target.Config, runner.RunConfig, error) {
	t := target.Config{
		URL:              v.GetString("url"),
		Method:           v.GetString("method"),
		Body:             v.GetString("body"),
		SkipVerify:       v.GetBool("insecure"),
		CAFile:           v.GetString("ca-file"),
		ReuseConnections: v.GetBool("reuse"),
		IdleTimeout:      v.GetDuration("idle-timeout"),
	}

	var err error
	if t.TLSVersion, err = target.ParseTLSVersion(v.GetString("tls-version")); err != nil {
		return t, runner.RunConfig{}, err
	}
	if t.CipherSuites, err = target.ParseCipherSuites(v.GetStringSlice("cipher")); err != nil {
		return t, runner.RunConfig{}, err
	}
	if t.Headers, err = parsePairs(v.GetStringSlice("header"), ":"); err != nil {
		return t, runner.RunConfig{}, fmt.Errorf("invalid header: %w", err)
	}
	if t.Hosts, err = parsePairs(v.GetStringSlice("host"), "="); err != nil {
		return t, runner.RunConfig{}, fmt.Errorf("invalid host override: %w", err)
	}

	rc := runner.RunConfig{
		VUs:        v.GetInt("vus"),
		Duration:   v.GetDuration("duration"),
		Iterations: v.GetInt("iterations"),
		Timeout:    v.GetDuration("timeout"),
		RPS:        v.GetFloat64("rps"),
		ThinkTime:  v.GetDuration("think-time"),
	}
	if rc.Duration == 0 && rc.Iterations == 0 {
		rc.Iterations = 1
	}
	return t, rc, nil
}

func parsePairs(items []string, sep string) (map[string]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, val, ok := strings.Cut(item, sep)
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%q is not of the form key%svalue", item, sep)
		}
		out[k] = strings.TrimSpace(val)
	}
	return out, nil
}

func runBenchmark(parent context.Context, v *viper.Viper) error {
	if parent == nil {
		parent = context.Background()
	}
	t, rc, err := buildConfigs(v)
	if err != nil {
		return err
	}
	// Fail before any output file is created.
	if _, err := t.Validate(); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("invalid run config: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates := make(runner.StatsUpdateChan, 100)
	opts := []runner.Option{runner.WithUpdates(updates)}

	var csvOut *report.CSVStream
	out := v.GetString("out")
	if out != "" {
		if csvOut, err = report.NewCSVStream(out+".csv", t.URL, rc.VUs); err != nil {
			return err
		}
		defer csvOut.Close()
		opts = append(opts, runner.WithObserver(csvOut))
	}

	if addr := v.GetString("metrics-addr"); addr != "" {
		m := metrics.NewMetrics()
		opts = append(opts, runner.WithObserver(m))
		metricsCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := m.Serve(metricsCtx, addr); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	if pct := v.GetFloat64("abort-error-rate"); pct > 0 {
		opts = append(opts, runner.WithAbortPolicy(runner.ErrorRateAbove{
			Percent:     pct,
			MinRequests: v.GetUint64("abort-min-requests"),
		}))
	}

	r, err := runner.New(t, rc, opts...)
	if err != nil {
		return err
	}

	var (
		summary stats.Summary
		runErr  error
	)
	if v.GetBool("tui") {
		summary, runErr = tui.Run(ctx, r, updates)
		cli.PrintSummary(os.Stdout, summary)
	} else {
		summary, runErr = cli.Start(ctx, r, updates, os.Stdout)
	}
	if runErr != nil && !errors.Is(runErr, runner.ErrAborted) {
		return runErr
	}

	if out != "" {
		if err := csvOut.Close(); err != nil {
			return err
		}
		files, err := report.Export(out, report.NewReport(r.ID(), t, rc.VUs, summary), nil)
		if err != nil {
			return err
		}
		files = append([]string{csvOut.Name()}, files...)
		fmt.Printf("\n💾 Reports saved: %s\n", strings.Join(files, ", "))
	}

	if !v.GetBool("no-history") {
		if err := saveHistory(v, storage.NewHistoryItem(r, summary, runErr)); err != nil {
			log.WithError(err).Warn("Failed to save run history")
		}
	}
	return runErr
}

func openStore(v *viper.Viper) (*storage.Store, error) {
	path := v.GetString("history-file")
	if path == "" {
		var err error
		if path, err = storage.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return storage.NewStore(path)
}

func saveHistory(v *viper.Viper, item storage.HistoryItem) error {
	store, err := openStore(v)
	if err != nil {
		return err
	}
	defer store.Close()
	start := time.Now()
	if err := store.Save(item); err != nil {
		return err
	}
	log.WithFields(log.Fields{"id": item.ID, "took": time.Since(start)}).Debug("Saved run history")
	return nil
}
