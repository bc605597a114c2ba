// Package testutil holds helpers shared by package tests that need a live
// HTTPS target.
package testutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"steadytls/internal/dummy"
	"steadytls/internal/target"
)

// ConnCounter tracks server-side connection states.
type ConnCounter struct {
	mu      sync.Mutex
	active  map[net.Conn]struct{}
	peak    int
	created atomic.Int64
}

func (c *ConnCounter) hook(nc net.Conn, state http.ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		c.active = make(map[net.Conn]struct{})
	}
	switch state {
	case http.StateNew:
		c.created.Add(1)
		c.active[nc] = struct{}{}
		if len(c.active) > c.peak {
			c.peak = len(c.active)
		}
	case http.StateClosed, http.StateHijacked:
		delete(c.active, nc)
	}
}

// Created is the number of connections the server accepted.
func (c *ConnCounter) Created() int64 { return c.created.Load() }

// Peak is the largest number of simultaneously open connections.
func (c *ConnCounter) Peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

// Server wraps an httptest TLS server running the dummy handler.
type Server struct {
	*httptest.Server
	Conns *ConnCounter
}

// NewTLSServer starts an HTTPS server. Each opt may restrict the server's
// TLS config before it starts.
func NewTLSServer(t testing.TB, opts ...func(*tls.Config)) *Server {
	t.Helper()
	return NewTLSServerWith(t, nil, opts...)
}

// NewTLSServerWith is NewTLSServer with a hook to adjust the http.Server
// before it starts.
func NewTLSServerWith(t testing.TB, configure func(*http.Server), opts ...func(*tls.Config)) *Server {
	t.Helper()
	counter := &ConnCounter{}
	srv := httptest.NewUnstartedServer(dummy.NewHandler())
	if configure != nil {
		configure(srv.Config)
	}
	srv.Config.ConnState = counter.hook
	srv.TLS = &tls.Config{}
	for _, opt := range opts {
		opt(srv.TLS)
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return &Server{Server: srv, Conns: counter}
}

// Only12 pins the server to TLS 1.2 with the given suites.
func Only12(suites ...uint16) func(*tls.Config) {
	return func(c *tls.Config) {
		c.MinVersion = tls.VersionTLS12
		c.MaxVersion = tls.VersionTLS12
		c.CipherSuites = suites
	}
}

// Target returns a config for path on s that skips certificate verification.
func (s *Server) Target(path string) target.Config {
	return target.Config{
		URL:        s.URL + path,
		SkipVerify: true,
	}
}
