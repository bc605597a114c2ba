package target

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

const DefaultIdleTimeout = 90 * time.Second

// Config describes what to hit and how to negotiate TLS with it.
// It must not be mutated once a run has started.
type Config struct {
	URL string

	// TLSVersion pins both the minimum and maximum protocol version.
	// Zero leaves Go's defaults in place.
	TLSVersion uint16
	// CipherSuites is the allow-list of suite IDs. Empty allows anything.
	CipherSuites []uint16
	SkipVerify   bool
	CAFile       string

	ReuseConnections bool
	IdleTimeout      time.Duration

	Method  string
	Headers map[string]string
	Body    string

	// Hosts maps a URL hostname to the address actually dialed, e.g.
	// "www.example.com" -> "10.0.0.7". SNI and the Host header keep the
	// original name.
	Hosts map[string]string
}

var (
	ErrNoURL       = errors.New("target url is required")
	ErrNotHTTPS    = errors.New("target url must use https")
	ErrIdleTimeout = errors.New("idle timeout must not be negative")
)

// Validate checks the config and returns the parsed URL.
func (c *Config) Validate() (*url.URL, error) {
	if c.URL == "" {
		return nil, ErrNoURL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	if u.Scheme != "https" {
		return nil, ErrNotHTTPS
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("target url %q has no host", c.URL)
	}
	if c.TLSVersion != 0 {
		if _, ok := versionNames[c.TLSVersion]; !ok {
			return nil, fmt.Errorf("unsupported tls version 0x%04x", c.TLSVersion)
		}
	}
	if c.IdleTimeout < 0 {
		return nil, ErrIdleTimeout
	}
	return u, nil
}

// ServerName is the hostname used for SNI and the Host header.
func ServerName(u *url.URL) string {
	return u.Hostname()
}

// DialAddr returns host:port to connect to, applying the Hosts override.
// An override may carry its own port; otherwise the URL port (or 443) is kept.
func (c *Config) DialAddr(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}
	if override, ok := c.Hosts[host]; ok && override != "" {
		if h, p, err := net.SplitHostPort(override); err == nil {
			return net.JoinHostPort(h, p)
		}
		host = override
	}
	return net.JoinHostPort(host, port)
}

// TLSConfig builds the client-side tls.Config for the target.
//
// Without a pinned version the version range follows the allow-list: a list
// of TLS 1.2 and older suites caps the handshake at 1.2, a list of only 1.3
// suites raises the floor to 1.3. Go does not let a client restrict 1.3
// suites, so a mixed list leaves the range open.
func (c *Config) TLSConfig(u *url.URL) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         ServerName(u),
		InsecureSkipVerify: c.SkipVerify,
	}
	if c.TLSVersion != 0 {
		cfg.MinVersion = c.TLSVersion
		cfg.MaxVersion = c.TLSVersion
	} else if len(c.CipherSuites) > 0 {
		cfg.MinVersion, cfg.MaxVersion = versionRange(c.CipherSuites)
	}
	if len(c.CipherSuites) > 0 {
		cfg.CipherSuites = append([]uint16(nil), c.CipherSuites...)
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// IsTLS13Suite reports whether id is one of the TLS 1.3 suites.
func IsTLS13Suite(id uint16) bool {
	switch id {
	case tls.TLS_AES_128_GCM_SHA256, tls.TLS_AES_256_GCM_SHA384, tls.TLS_CHACHA20_POLY1305_SHA256:
		return true
	}
	return false
}

// versionRange derives min/max versions from an unpinned allow-list.
// Zero means the crypto/tls default.
func versionRange(suites []uint16) (uint16, uint16) {
	var has13, hasLegacy bool
	for _, id := range suites {
		if IsTLS13Suite(id) {
			has13 = true
		} else {
			hasLegacy = true
		}
	}
	switch {
	case hasLegacy && !has13:
		return 0, tls.VersionTLS12
	case has13 && !hasLegacy:
		return tls.VersionTLS13, 0
	}
	return 0, 0
}

// AllowsCipher reports whether the negotiated suite is in the allow-list.
func (c *Config) AllowsCipher(id uint16) bool {
	if len(c.CipherSuites) == 0 {
		return true
	}
	for _, s := range c.CipherSuites {
		if s == id {
			return true
		}
	}
	return false
}

// EffectiveIdleTimeout returns IdleTimeout or the default.
func (c *Config) EffectiveIdleTimeout() time.Duration {
	if c.IdleTimeout == 0 {
		return DefaultIdleTimeout
	}
	return c.IdleTimeout
}

// EffectiveMethod returns Method upper-cased, defaulting to GET.
func (c *Config) EffectiveMethod() string {
	if c.Method == "" {
		return "GET"
	}
	return strings.ToUpper(c.Method)
}

// --- TLS names ---

var versionNames = map[uint16]string{
	tls.VersionTLS10: "1.0",
	tls.VersionTLS11: "1.1",
	tls.VersionTLS12: "1.2",
	tls.VersionTLS13: "1.3",
}

// ParseTLSVersion accepts "1.2", "tls1.2", "TLSv1.2" and similar spellings.
// An empty string yields 0 (unpinned).
func ParseTLSVersion(s string) (uint16, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return 0, nil
	}
	v = strings.TrimPrefix(v, "tlsv")
	v = strings.TrimPrefix(v, "tls")
	v = strings.TrimPrefix(v, "_")
	v = strings.ReplaceAll(v, "_", ".")
	for id, name := range versionNames {
		if name == v {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown tls version %q", s)
}

// VersionName renders a protocol version the way ParseTLSVersion reads it.
func VersionName(v uint16) string {
	if name, ok := versionNames[v]; ok {
		return "TLS " + name
	}
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("0x%04x", v)
}

// ParseCipherSuites resolves IANA suite names (as printed by tls.CipherSuiteName)
// to IDs. Insecure suites are accepted since a benchmark may need to pin them.
func ParseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	for _, s := range tls.InsecureCipherSuites() {
		known[s.Name] = s.ID
	}

	ids := make([]uint16, 0, len(names))
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		id, ok := known[n]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
