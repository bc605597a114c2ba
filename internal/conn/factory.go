package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"steadytls/internal/outcome"
	"steadytls/internal/target"
)

const (
	TCPKeepAliveInterval = 30 * time.Second
	DefaultDialTimeout   = 10 * time.Second
)

// Conn is one TCP socket plus its TLS session. While acquired it belongs to
// exactly one virtual user.
type Conn struct {
	*tls.Conn
	Reader *bufio.Reader

	key string

	// Phase durations spent creating this connection. Zero when Reused.
	ConnectTime   time.Duration
	HandshakeTime time.Duration
	Reused        bool

	Version     uint16
	CipherSuite uint16

	idleSince time.Time
	inUse     atomic.Bool
	reusable  bool
}

// SetReusable is called by the request executor once it knows whether the
// connection can carry another request.
func (c *Conn) SetReusable(ok bool) {
	c.reusable = ok
}

// Factory opens connections to one target and, when reuse is enabled,
// keeps idle ones in a pool keyed by dial address.
type Factory struct {
	cfg       target.Config
	url       *url.URL
	addr      string
	tlsConfig *tls.Config
	dialer    *net.Dialer

	mu   sync.Mutex
	idle map[string][]*Conn

	opened atomic.Int64
	closed atomic.Int64
	now    func() time.Time
}

// NewFactory validates cfg and prepares the TLS client config.
func NewFactory(cfg target.Config) (*Factory, error) {
	u, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	tlsConfig, err := cfg.TLSConfig(u)
	if err != nil {
		return nil, err
	}
	return &Factory{
		cfg:       cfg,
		url:       u,
		addr:      cfg.DialAddr(u),
		tlsConfig: tlsConfig,
		dialer: &net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: TCPKeepAliveInterval,
		},
		idle: make(map[string][]*Conn),
		now:  time.Now,
	}, nil
}

// URL returns the parsed target url.
func (f *Factory) URL() *url.URL { return f.url }

// Addr returns the host:port the factory dials.
func (f *Factory) Addr() string { return f.addr }

// Reuse reports whether connections are pooled.
func (f *Factory) Reuse() bool { return f.cfg.ReuseConnections }

// Acquire returns a connection ready for a request. With reuse enabled an
// idle pooled connection is preferred.
func (f *Factory) Acquire(ctx context.Context) (*Conn, error) {
	if f.cfg.ReuseConnections {
		if c := f.takeIdle(f.addr); c != nil {
			return c, nil
		}
	}
	return f.AcquireFresh(ctx)
}

// AcquireFresh always opens a new connection, bypassing the pool.
func (f *Factory) AcquireFresh(ctx context.Context) (*Conn, error) {
	start := time.Now()
	raw, err := f.dialer.DialContext(ctx, "tcp", f.addr)
	connectTime := time.Since(start)
	if err != nil {
		return nil, classifyDial(err, connectTime)
	}
	f.opened.Add(1)

	tc := tls.Client(raw, f.tlsConfig)
	hsStart := time.Now()
	err = tc.HandshakeContext(ctx)
	handshakeTime := time.Since(hsStart)
	if err != nil {
		f.closeRaw(tc)
		op := "handshake"
		if isTimeout(err) {
			op = "handshake timeout"
		}
		return nil, &outcome.Error{
			Kind:    outcome.KindHandshake,
			Op:      op,
			Err:     err,
			Partial: outcome.Timings{Connect: connectTime, Handshake: handshakeTime},
		}
	}

	state := tc.ConnectionState()
	if !f.cfg.AllowsCipher(state.CipherSuite) {
		f.closeRaw(tc)
		return nil, &outcome.Error{
			Kind:    outcome.KindHandshake,
			Op:      "handshake",
			Err:     fmt.Errorf("negotiated cipher %s is not in the allow-list", tls.CipherSuiteName(state.CipherSuite)),
			Partial: outcome.Timings{Connect: connectTime, Handshake: handshakeTime},
		}
	}

	c := &Conn{
		Conn:          tc,
		Reader:        bufio.NewReader(tc),
		key:           f.addr,
		ConnectTime:   connectTime,
		HandshakeTime: handshakeTime,
		Version:       state.Version,
		CipherSuite:   state.CipherSuite,
	}
	c.inUse.Store(true)

	log.WithFields(log.Fields{
		"addr":   f.addr,
		"cipher": tls.CipherSuiteName(state.CipherSuite),
		"tls":    target.VersionName(state.Version),
	}).Debug("Opened connection")
	return c, nil
}

// Release hands a connection back. It is pooled only when reuse is enabled
// and the executor marked it reusable; otherwise it is closed.
func (f *Factory) Release(c *Conn) {
	if c == nil {
		return
	}
	if !c.inUse.CompareAndSwap(true, false) {
		panic("conn: release of a connection that is not in use")
	}
	if !f.cfg.ReuseConnections || !c.reusable {
		f.closeRaw(c.Conn)
		return
	}
	c.reusable = false
	c.idleSince = f.now()

	f.mu.Lock()
	f.idle[c.key] = append(f.idle[c.key], c)
	f.mu.Unlock()
}

// takeIdle pops the most recently released unexpired connection.
// Expired entries are closed outside the lock.
func (f *Factory) takeIdle(key string) *Conn {
	ttl := f.cfg.EffectiveIdleTimeout()
	now := f.now()

	var (
		found   *Conn
		expired []*Conn
	)
	f.mu.Lock()
	list := f.idle[key]
	for len(list) > 0 {
		c := list[len(list)-1]
		list = list[:len(list)-1]
		if now.Sub(c.idleSince) > ttl {
			expired = append(expired, c)
			continue
		}
		found = c
		break
	}
	f.idle[key] = list
	f.mu.Unlock()

	for _, c := range expired {
		f.closeRaw(c.Conn)
	}
	if found == nil {
		return nil
	}
	if !found.inUse.CompareAndSwap(false, true) {
		panic("conn: pooled connection already in use")
	}
	found.Reused = true
	found.ConnectTime = 0
	found.HandshakeTime = 0
	return found
}

// Idle returns the number of pooled connections.
func (f *Factory) Idle() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.idle {
		n += len(l)
	}
	return n
}

// Live returns the number of connections opened and not yet closed.
func (f *Factory) Live() int64 {
	return f.opened.Load() - f.closed.Load()
}

// Opened returns the total number of connections opened.
func (f *Factory) Opened() int64 {
	return f.opened.Load()
}

// Close closes every pooled connection.
func (f *Factory) Close() {
	f.mu.Lock()
	idle := f.idle
	f.idle = make(map[string][]*Conn)
	f.mu.Unlock()

	for _, l := range idle {
		for _, c := range l {
			f.closeRaw(c.Conn)
		}
	}
}

func (f *Factory) closeRaw(c net.Conn) {
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.WithError(err).Debug("Failed to close connection")
	}
	f.closed.Add(1)
}

func classifyDial(err error, elapsed time.Duration) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &outcome.Error{Kind: outcome.KindResolution, Op: "resolve", Err: err}
	}
	return &outcome.Error{Kind: outcome.KindConnect, Op: "dial", Err: err, Partial: outcome.Timings{Total: elapsed}}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
