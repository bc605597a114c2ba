package stats

import (
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"steadytls/internal/outcome"
)

// ErrNotCompleted is the panic value when Finalize runs before Seal.
var ErrNotCompleted = errors.New("stats: finalize called before the run completed")

// ErrSealed is the panic value when a record arrives after Seal.
var ErrSealed = errors.New("stats: record after the run completed")

// Quantiles reported in every Summary.
var Quantiles = []float64{50, 90, 95, 99}

// Percentile is one row of the latency table.
type Percentile struct {
	Quantile float64       `json:"quantile"`
	Value    time.Duration `json:"value"`
}

// Summary is the frozen result of a run.
type Summary struct {
	Requests    uint64                  `json:"requests"`
	Successes   uint64                  `json:"successes"`
	Errors      uint64                  `json:"errors"`
	ErrorKinds  map[outcome.Kind]uint64 `json:"error_kinds,omitempty"`
	StatusCodes map[int]uint64          `json:"status_codes,omitempty"`
	HTTPErrors  uint64                  `json:"http_errors"`
	Bytes       uint64                  `json:"bytes"`
	Retries     uint64                  `json:"retries"`

	Min         time.Duration `json:"min"`
	Max         time.Duration `json:"max"`
	Mean        time.Duration `json:"mean"`
	Percentiles []Percentile  `json:"percentiles"`

	WallTime   time.Duration `json:"wall_time"`
	Throughput float64       `json:"throughput"`
}

// Get returns the latency at quantile q, or zero if q was not computed.
func (s Summary) Get(q float64) time.Duration {
	for _, p := range s.Percentiles {
		if p.Quantile == q {
			return p.Value
		}
	}
	return 0
}

// ErrorRate returns the transport error percentage.
func (s Summary) ErrorRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Requests) * 100
}

// Snapshot is a cheap, approximate view of a run in progress.
type Snapshot struct {
	Requests uint64
	Success  uint64
	Fail     uint64
	Bytes    uint64

	// Filled in by the scheduler.
	Inflight  int64
	ActiveVUs int64
	Conns     int64
	Elapsed   time.Duration

	P50 time.Duration
	P90 time.Duration
	P99 time.Duration
	Max time.Duration
}

// ErrorRate returns the transport error percentage.
func (s Snapshot) ErrorRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Fail) / float64(s.Requests) * 100
}

// Aggregator consumes outcome records from many goroutines.
type Aggregator struct {
	mu          sync.Mutex
	samples     []time.Duration
	requests    uint64
	success     uint64
	bytes       uint64
	retries     uint64
	httpErrors  uint64
	errorKinds  map[outcome.Kind]uint64
	statusCodes map[int]uint64
	sealed      bool
	wall        time.Duration

	live *SafeHistogram
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		samples:     make([]time.Duration, 0, 1024),
		errorKinds:  make(map[outcome.Kind]uint64),
		statusCodes: make(map[int]uint64),
		live:        NewSafeHistogram(),
	}
}

// Record adds one outcome. It holds the lock only for counter updates and
// a slice append.
func (a *Aggregator) Record(r outcome.Record) {
	a.mu.Lock()
	if a.sealed {
		a.mu.Unlock()
		panic(ErrSealed)
	}
	a.requests++
	a.samples = append(a.samples, r.Timings.Total)
	a.bytes += uint64(r.Bytes)
	if r.Retried {
		a.retries++
	}
	if r.OK() {
		a.success++
		a.statusCodes[r.Status]++
		if r.Status >= 400 {
			a.httpErrors++
		}
	} else {
		a.errorKinds[r.Kind]++
	}
	a.mu.Unlock()

	a.live.Record(r.Timings.Total)
}

// Snapshot returns live counters and HDR-approximated latencies.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	s := Snapshot{
		Requests: a.requests,
		Success:  a.success,
		Fail:     a.requests - a.success,
		Bytes:    a.bytes,
	}
	a.mu.Unlock()

	s.P50 = a.live.Quantile(50)
	s.P90 = a.live.Quantile(90)
	s.P99 = a.live.Quantile(99)
	s.Max = a.live.Max()
	return s
}

// Seal marks the run as completed with the given wall-clock duration.
// Only the scheduler calls this.
func (a *Aggregator) Seal(wall time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
	a.wall = wall
}

// Sealed reports whether Seal has been called.
func (a *Aggregator) Sealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}

// Finalize computes the Summary. Calling it before Seal is a programming
// error and panics with ErrNotCompleted.
func (a *Aggregator) Finalize() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sealed {
		panic(ErrNotCompleted)
	}

	s := Summary{
		Requests:    a.requests,
		Successes:   a.success,
		Errors:      a.requests - a.success,
		ErrorKinds:  make(map[outcome.Kind]uint64, len(a.errorKinds)),
		StatusCodes: make(map[int]uint64, len(a.statusCodes)),
		HTTPErrors:  a.httpErrors,
		Bytes:       a.bytes,
		Retries:     a.retries,
		WallTime:    a.wall,
	}
	for k, v := range a.errorKinds {
		s.ErrorKinds[k] = v
	}
	for k, v := range a.statusCodes {
		s.StatusCodes[k] = v
	}

	sorted := SortedCopy(a.samples)
	s.Percentiles = PercentileTable(sorted, Quantiles)
	if n := len(sorted); n > 0 {
		s.Min = sorted[0]
		s.Max = sorted[n-1]
		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		s.Mean = sum / time.Duration(n)
	}
	if a.wall > 0 {
		s.Throughput = float64(a.success) / a.wall.Seconds()
	}
	return s
}

// SortedCopy returns the samples sorted ascending without touching the input.
func SortedCopy(samples []time.Duration) []time.Duration {
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	return sorted
}

// NearestRank returns the p-th percentile (0-100] of an ascending slice:
// the value at rank ceil(p/100 * n), without interpolation.
func NearestRank(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(math.Ceil((p/100)*float64(len(sorted)))) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// PercentileTable evaluates NearestRank for every quantile in qs.
func PercentileTable(sorted []time.Duration, qs []float64) []Percentile {
	out := make([]Percentile, 0, len(qs))
	for _, q := range qs {
		out = append(out, Percentile{Quantile: q, Value: NearestRank(sorted, q)})
	}
	return out
}
