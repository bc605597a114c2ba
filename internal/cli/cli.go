// Package cli is the headless console front end: a one-line progress
// display while the run is going and a plain-text summary at the end.
package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"steadytls/internal/outcome"
	"steadytls/internal/runner"
	"steadytls/internal/stats"
	"steadytls/internal/target"
)

const rule = "======================================================================"

// Start runs r while printing progress from updates to w, then prints the
// summary. Cancelling ctx drains the run.
func Start(ctx context.Context, r *runner.Runner, updates runner.StatsUpdateChan, w io.Writer) (stats.Summary, error) {
	PrintHeader(w, r.Target(), r.Config())

	type result struct {
		s   stats.Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := r.Run(ctx)
		done <- result{s, err}
	}()

	cfg := r.Config()
	for {
		select {
		case snap := <-updates:
			printProgress(w, cfg, r.State(), snap)
		case res := <-done:
			fmt.Fprint(w, "\n")
			PrintSummary(w, res.s)
			if res.err != nil {
				fmt.Fprintf(w, "\n⚠️  %v\n", res.err)
			}
			return res.s, res.err
		}
	}
}

func PrintHeader(w io.Writer, t target.Config, cfg runner.RunConfig) {
	fmt.Fprintf(w, "\n🚀 STARTING STEADYTLS BENCHMARK\n")
	fmt.Fprintf(w, "%s\n", rule)
	fmt.Fprintf(w, "Target URL : %s %s\n", t.EffectiveMethod(), t.URL)
	fmt.Fprintf(w, "TLS        : %s\n", describeTLS(t))
	fmt.Fprintf(w, "Reuse      : %t (insecure: %t)\n", t.ReuseConnections, t.SkipVerify)
	fmt.Fprintf(w, "VUs        : %d\n", cfg.VUs)
	if cfg.Duration > 0 {
		fmt.Fprintf(w, "Duration   : %s\n", cfg.Duration)
	} else {
		fmt.Fprintf(w, "Iterations : %d per VU\n", cfg.Iterations)
	}
	fmt.Fprintf(w, "Timeout    : %s\n", cfg.EffectiveTimeout())
	if cfg.RPS > 0 {
		fmt.Fprintf(w, "RPS cap    : %g\n", cfg.RPS)
	}
	fmt.Fprintf(w, "%s\n\n", rule)
}

func describeTLS(t target.Config) string {
	version := "negotiated"
	if t.TLSVersion != 0 {
		version = target.VersionName(t.TLSVersion)
	}
	if len(t.CipherSuites) == 0 {
		return version + ", any cipher"
	}
	names := make([]string, 0, len(t.CipherSuites))
	for _, id := range t.CipherSuites {
		names = append(names, tls.CipherSuiteName(id))
	}
	return version + ", " + strings.Join(names, ",")
}

// progress returns the completed fraction of a run.
func progress(cfg runner.RunConfig, snap stats.Snapshot) float64 {
	var pct float64
	switch {
	case cfg.Duration > 0:
		pct = snap.Elapsed.Seconds() / cfg.Duration.Seconds()
	case cfg.Iterations > 0:
		pct = float64(snap.Requests) / float64(cfg.Iterations*cfg.VUs)
	}
	return min(max(pct, 0), 1)
}

func printProgress(w io.Writer, cfg runner.RunConfig, state runner.State, snap stats.Snapshot) {
	pct := progress(cfg, snap)
	rps := 0.0
	if s := snap.Elapsed.Seconds(); s > 0 {
		rps = float64(snap.Requests) / s
	}
	if state == runner.StateDraining {
		fmt.Fprintf(w, "\r%s %3.0f%% | %s | Draining: %d requests...                ",
			progressBar(pct, 20), pct*100, snap.Elapsed.Round(time.Second), snap.Inflight)
		return
	}
	fmt.Fprintf(w, "\r%s %3.0f%% | %s | VUs: %3d | Conns: %3d | RPS: %.1f | OK: %d | Err: %d",
		progressBar(pct, 20), pct*100,
		snap.Elapsed.Round(time.Second),
		snap.ActiveVUs,
		snap.Conns,
		rps,
		snap.Success,
		snap.Fail,
	)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func PrintSummary(w io.Writer, s stats.Summary) {
	fmt.Fprintf(w, "\n📊 BENCHMARK RESULTS\n")
	fmt.Fprintf(w, "%s\n", rule)
	fmt.Fprintf(w, "Wall Time      : %s\n", s.WallTime.Round(time.Millisecond))
	fmt.Fprintf(w, "Requests       : %d\n", s.Requests)
	fmt.Fprintf(w, "Successes      : %d\n", s.Successes)
	fmt.Fprintf(w, "Errors         : %d (%.2f%%)\n", s.Errors, s.ErrorRate())
	fmt.Fprintf(w, "HTTP 4xx/5xx   : %d\n", s.HTTPErrors)
	fmt.Fprintf(w, "Retries        : %d\n", s.Retries)
	fmt.Fprintf(w, "Bytes          : %d\n", s.Bytes)
	fmt.Fprintf(w, "Throughput     : %.2f req/s\n", s.Throughput)

	fmt.Fprintf(w, "\n⏱️  LATENCY (ms) [all requests]\n")
	fmt.Fprintf(w, "   Min : %.2f\n", ms(s.Min))
	fmt.Fprintf(w, "   Mean: %.2f\n", ms(s.Mean))
	for _, p := range s.Percentiles {
		fmt.Fprintf(w, "   P%-3g: %.2f\n", p.Quantile, ms(p.Value))
	}
	fmt.Fprintf(w, "   Max : %.2f\n", ms(s.Max))

	if len(s.StatusCodes) > 0 {
		fmt.Fprintf(w, "\n📨 STATUS CODES\n")
		codes := make([]int, 0, len(s.StatusCodes))
		for c := range s.StatusCodes {
			codes = append(codes, c)
		}
		slices.Sort(codes)
		for _, c := range codes {
			fmt.Fprintf(w, "   %d x %d\n", s.StatusCodes[c], c)
		}
	}

	if len(s.ErrorKinds) > 0 {
		fmt.Fprintf(w, "\n❌ FAILURE SUMMARY\n")
		for _, k := range outcome.Kinds() {
			if n := s.ErrorKinds[k]; n > 0 {
				fmt.Fprintf(w, "   %d x %s\n", n, k)
			}
		}
	}
	fmt.Fprintf(w, "%s\n", rule)
}
