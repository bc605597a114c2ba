package target

import (
	"crypto/tls"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTLSVersion(t *testing.T) {
	cases := map[string]uint16{
		"":        0,
		"1.2":     tls.VersionTLS12,
		"tls1.3":  tls.VersionTLS13,
		"TLSv1.2": tls.VersionTLS12,
		"tls1_1":  tls.VersionTLS11,
	}
	for in, want := range cases {
		got, err := ParseTLSVersion(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseTLSVersion("2.0")
	assert.Error(t, err)
}

func TestParseCipherSuites(t *testing.T) {
	ids, err := ParseCipherSuites([]string{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", " tls_rsa_with_aes_128_cbc_sha "})
	require.NoError(t, err)
	assert.Equal(t, []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, tls.TLS_RSA_WITH_AES_128_CBC_SHA}, ids)

	_, err = ParseCipherSuites([]string{"TLS_MADE_UP"})
	assert.Error(t, err)

	ids, err = ParseCipherSuites(nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestValidate(t *testing.T) {
	_, err := (&Config{}).Validate()
	assert.ErrorIs(t, err, ErrNoURL)

	_, err = (&Config{URL: "http://example.com"}).Validate()
	assert.ErrorIs(t, err, ErrNotHTTPS)

	_, err = (&Config{URL: "https://example.com", TLSVersion: 0x9999}).Validate()
	assert.Error(t, err)

	_, err = (&Config{URL: "https://example.com", IdleTimeout: -1}).Validate()
	assert.ErrorIs(t, err, ErrIdleTimeout)

	u, err := (&Config{URL: "https://example.com/index.html"}).Validate()
	require.NoError(t, err)
	assert.Equal(t, "example.com", ServerName(u))
}

func TestDialAddr(t *testing.T) {
	u, _ := url.Parse("https://www.example.com/index.html")
	c := &Config{}
	assert.Equal(t, "www.example.com:443", c.DialAddr(u))

	c.Hosts = map[string]string{"www.example.com": "10.0.0.7"}
	assert.Equal(t, "10.0.0.7:443", c.DialAddr(u))

	c.Hosts["www.example.com"] = "127.0.0.1:8443"
	assert.Equal(t, "127.0.0.1:8443", c.DialAddr(u))

	u2, _ := url.Parse("https://other.example.com:9443/")
	assert.Equal(t, "other.example.com:9443", c.DialAddr(u2))
}

func TestTLSConfig(t *testing.T) {
	u, _ := url.Parse("https://www.example.com/")
	c := &Config{
		TLSVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256},
		SkipVerify:   true,
	}
	cfg, err := c.TLSConfig(u)
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MaxVersion)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.True(t, c.AllowsCipher(tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256))
	assert.False(t, c.AllowsCipher(tls.TLS_AES_128_GCM_SHA256))

	_, err = (&Config{CAFile: "/nonexistent/ca.pem"}).TLSConfig(u)
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	c := &Config{}
	assert.Equal(t, DefaultIdleTimeout, c.EffectiveIdleTimeout())
	assert.Equal(t, "GET", c.EffectiveMethod())
	c.Method = "post"
	assert.Equal(t, "POST", c.EffectiveMethod())
	assert.Equal(t, "TLS 1.2", VersionName(tls.VersionTLS12))
	assert.Equal(t, "-", VersionName(0))
}

func TestTLSConfig_VersionFollowsAllowList(t *testing.T) {
	u, _ := url.Parse("https://www.example.com/")
	tests := []struct {
		name     string
		suites   []uint16
		min, max uint16
	}{
		{"none", nil, 0, 0},
		{"legacy only", []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256}, 0, tls.VersionTLS12},
		{"tls13 only", []uint16{tls.TLS_AES_128_GCM_SHA256, tls.TLS_CHACHA20_POLY1305_SHA256}, tls.VersionTLS13, 0},
		{"mixed", []uint16{tls.TLS_AES_128_GCM_SHA256, tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := (&Config{CipherSuites: tt.suites}).TLSConfig(u)
			require.NoError(t, err)
			assert.Equal(t, tt.min, cfg.MinVersion)
			assert.Equal(t, tt.max, cfg.MaxVersion)
		})
	}

	// A pinned version wins over the allow-list.
	cfg, err := (&Config{
		TLSVersion:   tls.VersionTLS13,
		CipherSuites: []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256},
	}).TLSConfig(u)
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MaxVersion)
}
