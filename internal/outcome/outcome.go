package outcome

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies why a request did not complete at the transport level.
// KindNone means the response was read in full, whatever its status code.
type Kind int

const (
	KindNone Kind = iota
	KindResolution
	KindConnect
	KindHandshake
	KindTimeout
	KindConnectionLost
	KindProtocol
)

var kindNames = map[Kind]string{
	KindNone:           "None",
	KindResolution:     "ResolutionError",
	KindConnect:        "ConnectError",
	KindHandshake:      "HandshakeError",
	KindTimeout:        "Timeout",
	KindConnectionLost: "ConnectionLost",
	KindProtocol:       "ProtocolError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown outcome kind %q", string(b))
}

// Kinds lists every error kind, in declaration order, excluding KindNone.
func Kinds() []Kind {
	return []Kind{KindResolution, KindConnect, KindHandshake, KindTimeout, KindConnectionLost, KindProtocol}
}

// Error is a classified transport failure. Partial holds the phases that
// completed before it happened.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Partial Timings
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind carried by err, or KindNone if err is nil or unclassified.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindNone
}

// Timings are the phase durations of one request. A zero value means the
// phase was skipped (reused connection) or never reached.
type Timings struct {
	Connect   time.Duration `json:"connect"`
	Handshake time.Duration `json:"handshake"`
	TTFB      time.Duration `json:"ttfb"`
	Total     time.Duration `json:"total"`
}

// Record is the outcome of one iteration of a virtual user.
type Record struct {
	VU          int       `json:"vu"`
	Iteration   int       `json:"iteration"`
	Start       time.Time `json:"start"`
	Timings     Timings   `json:"timings"`
	Status      int       `json:"status"`
	Kind        Kind      `json:"kind"`
	Err         string    `json:"error,omitempty"`
	Bytes       int64     `json:"bytes"`
	Reused      bool      `json:"reused"`
	Retried     bool      `json:"retried"`
	TLSVersion  uint16    `json:"tls_version,omitempty"`
	CipherSuite uint16    `json:"cipher_suite,omitempty"`
}

// OK reports whether the transport succeeded. HTTP error statuses still count as OK.
func (r Record) OK() bool {
	return r.Kind == KindNone
}
