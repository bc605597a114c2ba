package executor

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"

	"steadytls/internal/conn"
	"steadytls/internal/outcome"
)

const UserAgent = "steadytls/1.0"

// Request describes one exchange.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte

	// Close asks the server to close the connection after the response.
	Close bool
}

func (r *Request) httpRequest() (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequest(r.Method, r.URL.String(), body)
	if err != nil {
		return nil, err
	}
	if r.Header != nil {
		req.Header = r.Header.Clone()
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}
	if h := req.Header.Get("Host"); h != "" {
		req.Host = h
		req.Header.Del("Host")
	}
	req.Close = r.Close
	return req, nil
}

// Execute sends one request over c and reads the full response. Phase
// timings come from monotonic clock readings; Total includes the time
// spent establishing c when it is a fresh connection. The connection is
// marked reusable only after a clean, keep-alive response.
func Execute(c *conn.Conn, r *Request, timeout time.Duration) outcome.Record {
	rec := outcome.Record{
		Start:       time.Now(),
		Reused:      c.Reused,
		TLSVersion:  c.Version,
		CipherSuite: c.CipherSuite,
	}
	rec.Timings.Connect = c.ConnectTime
	rec.Timings.Handshake = c.HandshakeTime
	setup := c.ConnectTime + c.HandshakeTime
	c.SetReusable(false)

	start := time.Now()
	fail := func(kind outcome.Kind, op string, err error) outcome.Record {
		rec.Timings.Total = setup + time.Since(start)
		rec.Kind = kind
		rec.Err = (&outcome.Error{Kind: kind, Op: op, Err: err}).Error()
		return rec
	}

	if timeout > 0 {
		if err := c.SetDeadline(start.Add(timeout)); err != nil {
			return fail(outcome.KindConnectionLost, "set deadline", err)
		}
	}

	req, err := r.httpRequest()
	if err != nil {
		return fail(outcome.KindProtocol, "build request", err)
	}

	bw := bufio.NewWriter(c)
	if err := req.Write(bw); err != nil {
		return fail(classify(err), "write", err)
	}
	if err := bw.Flush(); err != nil {
		return fail(classify(err), "write", err)
	}
	sent := time.Now()

	if _, err := c.Reader.Peek(1); err != nil {
		return fail(classify(err), "read", err)
	}
	rec.Timings.TTFB = time.Since(sent)

	resp, err := http.ReadResponse(c.Reader, req)
	if err != nil {
		return fail(classify(err), "read response", err)
	}
	rec.Status = resp.StatusCode

	n, err := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	rec.Bytes = n
	if err != nil {
		return fail(classify(err), "read body", err)
	}

	rec.Timings.Total = setup + time.Since(start)
	if err := c.SetDeadline(time.Time{}); err == nil {
		c.SetReusable(!resp.Close && !r.Close)
	}
	return rec
}

// classify maps an I/O error during the exchange to an outcome kind.
// Anything that is neither a timeout nor a broken socket is treated as a
// malformed response.
func classify(err error) outcome.Kind {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return outcome.KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return outcome.KindTimeout
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return outcome.KindConnectionLost
	}
	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return outcome.KindProtocol
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return outcome.KindConnectionLost
	}
	return outcome.KindProtocol
}

// Describe is a short human form of a record's result, used in logs.
func Describe(rec outcome.Record) string {
	if rec.OK() {
		return fmt.Sprintf("%d (%d bytes)", rec.Status, rec.Bytes)
	}
	return rec.Kind.String()
}
