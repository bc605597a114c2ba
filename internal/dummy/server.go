package dummy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

type ServerConfig struct {
	Port int

	// CertFile/KeyFile may be empty, in which case a self-signed
	// certificate for localhost is generated at startup.
	CertFile string
	KeyFile  string

	// TLSVersion and CipherSuites restrict what the server will negotiate.
	TLSVersion   uint16
	CipherSuites []uint16
}

// NewHandler returns the endpoints served by the dummy target.
func NewHandler() http.Handler {
	mux := http.NewServeMux()

	// 1. Fast Endpoint (10-50ms)
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		jitter := time.Duration(rand.Intn(40)+10) * time.Millisecond
		time.Sleep(jitter)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Fast response"))
	})

	// 2. Fixed delay, e.g. /delay?ms=10
	mux.HandleFunc("/delay", func(w http.ResponseWriter, r *http.Request) {
		ms, _ := strconv.Atoi(r.URL.Query().Get("ms"))
		time.Sleep(time.Duration(ms) * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// 3. Slow Endpoint (1s-2s)
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		jitter := time.Duration(rand.Intn(1000)+1000) * time.Millisecond
		time.Sleep(jitter)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Slow response"))
	})

	// 4. Never answers until the client goes away (or a minute passes).
	mux.HandleFunc("/hang", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Minute):
		}
	})

	// 5. Spike Endpoint (Usually fast, randomly very slow)
	mux.HandleFunc("/spike", func(w http.ResponseWriter, r *http.Request) {
		if rand.Float32() < 0.05 {
			time.Sleep(2 * time.Second)
		} else {
			time.Sleep(20 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Spikey response"))
	})

	// 6. Error Endpoint (Random failures)
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		rnd := rand.Float32()
		if rnd < 0.2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("500 Internal Server Error"))
		} else if rnd < 0.4 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("429 Too Many Requests"))
		} else {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		}
	})

	// 7. Always 503
	mux.HandleFunc("/unavailable", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("503 Service Unavailable"))
	})

	return mux
}

// TLSConfig builds the server TLS settings for cfg.
func TLSConfig(cfg ServerConfig) (*tls.Config, error) {
	var (
		cert tls.Certificate
		err  error
	)
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	} else {
		cert, err = SelfSigned("localhost")
	}
	if err != nil {
		return nil, err
	}
	tc := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"http/1.1"},
	}
	if cfg.TLSVersion != 0 {
		tc.MinVersion = cfg.TLSVersion
		tc.MaxVersion = cfg.TLSVersion
	}
	if len(cfg.CipherSuites) > 0 {
		tc.CipherSuites = cfg.CipherSuites
	}
	return tc, nil
}

// Server is a running dummy target.
type Server struct {
	Addr string
	srv  *http.Server
}

// Start listens on cfg.Port (0 picks a free port) and serves HTTPS in the background.
func Start(cfg ServerConfig) (*Server, error) {
	tc, err := TLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Handler:   NewHandler(),
		TLSConfig: tc,
	}

	go func() {
		if err := server.Serve(tls.NewListener(ln, tc)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Dummy server failed")
		}
	}()

	return &Server{Addr: ln.Addr().String(), srv: server}, nil
}

// Shutdown stops the server, waiting for in-flight handlers up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
