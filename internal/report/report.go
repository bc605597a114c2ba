// Package report writes per-request records and run summaries to files.
package report

import (
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"steadytls/internal/outcome"
	"steadytls/internal/stats"
	"steadytls/internal/target"
)

// Report is the JSON document describing one finished run.
type Report struct {
	RunID     string        `json:"run_id"`
	Timestamp time.Time     `json:"timestamp"`
	URL       string        `json:"url"`
	TLS       string        `json:"tls_version,omitempty"`
	Ciphers   []string      `json:"ciphers,omitempty"`
	Reuse     bool          `json:"reuse_connections"`
	VUs       int           `json:"vus"`
	Summary   stats.Summary `json:"summary"`
}

// NewReport fills the target fields of a Report.
func NewReport(runID string, t target.Config, vus int, s stats.Summary) Report {
	r := Report{
		RunID:     runID,
		Timestamp: time.Now(),
		URL:       t.URL,
		Reuse:     t.ReuseConnections,
		VUs:       vus,
		Summary:   s,
	}
	if t.TLSVersion != 0 {
		r.TLS = target.VersionName(t.TLSVersion)
	}
	for _, id := range t.CipherSuites {
		r.Ciphers = append(r.Ciphers, tls.CipherSuiteName(id))
	}
	return r
}

// csvHeader is the JMeter-compatible column set.
var csvHeader = []string{
	"timeStamp", "elapsed", "label", "responseCode", "responseMessage",
	"threadName", "dataType", "success", "failureMessage", "bytes",
	"sentBytes", "grpThreads", "allThreads", "URL", "Latency", "IdleTime", "Connect",
}

// WriteCSV writes records in JMeter's CSV layout. Elapsed is the total
// time, Latency the TTFB and Connect the connect plus handshake time, all
// in milliseconds.
func WriteCSV(w io.Writer, records []outcome.Record, url string, vus int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	threads := strconv.Itoa(vus)
	for _, rec := range records {
		if err := cw.Write(csvRow(rec, url, threads)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(rec outcome.Record, url, threads string) []string {
	code, msg := strconv.Itoa(rec.Status), http.StatusText(rec.Status)
	if !rec.OK() {
		code, msg = rec.Kind.String(), rec.Kind.String()
	}
	return []string{
		strconv.FormatInt(rec.Start.UnixMilli(), 10),
		strconv.FormatInt(rec.Timings.Total.Milliseconds(), 10),
		"steadytls",
		code,
		msg,
		fmt.Sprintf("VU %d-%d", rec.VU, rec.Iteration),
		"text",
		strconv.FormatBool(rec.OK() && rec.Status < 400),
		rec.Err,
		strconv.FormatInt(rec.Bytes, 10),
		"0",
		threads,
		threads,
		url,
		strconv.FormatInt(rec.Timings.TTFB.Milliseconds(), 10),
		"0",
		strconv.FormatInt((rec.Timings.Connect + rec.Timings.Handshake).Milliseconds(), 10),
	}
}

// CSVStream is a runner observer that appends each record to a CSV file as
// it arrives.
type CSVStream struct {
	mu      sync.Mutex
	name    string
	f       *os.File
	cw      *csv.Writer
	url     string
	threads string
	rows    int
	err     error
}

// NewCSVStream creates name and writes the header row.
func NewCSVStream(name, url string, vus int) (*CSVStream, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("export csv: %w", err)
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("export csv: %w", err)
	}
	return &CSVStream{name: name, f: f, cw: cw, url: url, threads: strconv.Itoa(vus)}, nil
}

// Observe writes one row. After the first write error further records are
// dropped and Close reports the error.
func (s *CSVStream) Observe(rec outcome.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.cw == nil {
		return
	}
	if err := s.cw.Write(csvRow(rec, s.url, s.threads)); err != nil {
		s.err = err
		return
	}
	s.rows++
}

// Name is the file being written.
func (s *CSVStream) Name() string { return s.name }

// Rows is the number of records written so far.
func (s *CSVStream) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Close flushes and closes the file. It is safe to call more than once.
func (s *CSVStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cw == nil {
		return s.err
	}
	s.cw.Flush()
	if err := s.cw.Error(); err != nil && s.err == nil {
		s.err = err
	}
	if err := s.f.Close(); err != nil && s.err == nil {
		s.err = err
	}
	s.cw = nil
	if s.err != nil {
		return fmt.Errorf("export csv: %w", s.err)
	}
	return nil
}

// WriteJSON writes v indented.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Export writes <prefix>.csv with the records and <prefix>_summary.json
// with the report. Records may be nil, in which case no CSV is written.
func Export(prefix string, rep Report, records []outcome.Record) ([]string, error) {
	var written []string

	if records != nil {
		name := prefix + ".csv"
		if err := writeFile(name, func(w io.Writer) error { return WriteCSV(w, records, rep.URL, rep.VUs) }); err != nil {
			return written, fmt.Errorf("export csv: %w", err)
		}
		written = append(written, name)
	}

	name := prefix + "_summary.json"
	if err := writeFile(name, func(w io.Writer) error { return WriteJSON(w, rep) }); err != nil {
		return written, fmt.Errorf("export summary: %w", err)
	}
	return append(written, name), nil
}

func writeFile(name string, fn func(io.Writer) error) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
