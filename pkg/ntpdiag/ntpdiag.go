// Package ntpdiag provides a purely diagnostic, non-control-loop NTP
// offset sample, reported alongside (never instead of) the chronyc
// tracking oracle that actually gates heatppm's plateau acceptance.
package ntpdiag

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// Sample is a single direct-NTP comparison point.
type Sample struct {
	Server  string
	Offset  time.Duration
	RTT     time.Duration
	Stratum uint8
}

// Sampler queries one configured NTP server on demand.
type Sampler struct {
	server  string
	timeout time.Duration
}

// NewSampler builds a Sampler for the given server. An empty server
// disables sampling; callers should check Enabled before calling Query.
func NewSampler(server string, timeout time.Duration) *Sampler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sampler{server: server, timeout: timeout}
}

// Enabled reports whether a server was configured.
func (s *Sampler) Enabled() bool {
	return s.server != ""
}

// Query performs a single NTP query and returns the offset/RTT/stratum.
// ctx is not consulted: only the configured timeout bounds the query
// (this is a best-effort diagnostic, not part of the control path).
func (s *Sampler) Query(ctx context.Context) (Sample, error) {
	if !s.Enabled() {
		return Sample{}, fmt.Errorf("ntpdiag: no server configured")
	}

	opts := ntp.QueryOptions{Timeout: s.timeout}
	resp, err := ntp.QueryWithOptions(s.server, opts)
	if err != nil {
		return Sample{}, fmt.Errorf("ntpdiag: query %s: %w", s.server, err)
	}

	return Sample{
		Server:  s.server,
		Offset:  resp.ClockOffset,
		RTT:     resp.RTT,
		Stratum: resp.Stratum,
	}, nil
}
