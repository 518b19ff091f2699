// Package chronysim reads chronyd's tracking state by invoking
// `chronyc -c tracking` and parsing its single CSV output line, and
// wraps that subprocess invocation in a circuit breaker so a wedged
// or missing chronyc binary does not spin-retry on every controller
// tick.
package chronysim

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Sample holds the four tracking fields heatppm's controller needs,
// extracted from fields 4, 8, 9 and 10 (1-indexed) of `chronyc -c
// tracking`'s CSV line.
type Sample struct {
	Time     float64 // field 4: reference time, unused by the controller beyond a stability tick
	Freq     float64 // field 8: frequency error in ppm
	Residual float64 // field 9: residual frequency error in ppm
	Skew     float64 // field 10: estimated frequency error skew in ppm
}

// Runner abstracts subprocess execution so tests can inject a fake
// tracking line without invoking chronyc, mirroring how the teacher
// fakes its NTPQuerier interface.
type Runner interface {
	Run(ctx context.Context) (string, error)
}

// execRunner shells out to the real chronyc binary.
type execRunner struct{}

func (execRunner) Run(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "chronyc", "-c", "tracking").Output()
	if err != nil {
		return "", fmt.Errorf("chronyc -c tracking: %w", err)
	}
	return string(out), nil
}

// CircuitBreakerConfig mirrors the teacher's NTP circuit breaker
// configuration, reused here for a single oracle rather than a map
// keyed by server.
type CircuitBreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// DefaultCircuitBreakerConfig trips after three consecutive failures
// out of at least three requests, matching the teacher's failure-ratio
// approach but tuned tighter: a 1 Hz control loop cannot afford 60s
// windows of spawn-and-fail before the breaker opens.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// Tracker queries chronyd's tracking state, protected by a circuit
// breaker.
type Tracker struct {
	runner  Runner
	breaker *gobreaker.CircuitBreaker
	mu      sync.Mutex
}

// NewTracker builds a Tracker that shells out to the real chronyc
// binary.
func NewTracker(config CircuitBreakerConfig) *Tracker {
	return NewTrackerWithRunner(execRunner{}, config)
}

// NewTrackerWithRunner builds a Tracker around an injected Runner, for
// tests.
func NewTrackerWithRunner(runner Runner, config CircuitBreakerConfig) *Tracker {
	if config.MaxRequests == 0 {
		config = DefaultCircuitBreakerConfig()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chronyc",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: config.ReadyToTrip,
	})
	return &Tracker{runner: runner, breaker: breaker}
}

// Query runs chronyc (via the breaker) and parses its tracking line.
func (t *Tracker) Query(ctx context.Context) (Sample, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.breaker.Execute(func() (interface{}, error) {
		line, err := t.runner.Run(ctx)
		if err != nil {
			return Sample{}, err
		}
		return parseTracking(line)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return Sample{}, fmt.Errorf("chronyc circuit breaker open: %w", err)
		}
		return Sample{}, err
	}
	return result.(Sample), nil
}

// State reports the breaker's current state, useful for telemetry.
func (t *Tracker) State() gobreaker.State {
	return t.breaker.State()
}

// parseTracking extracts fields 4, 8, 9, 10 (1-indexed) from a single
// CSV line as produced by `chronyc -c tracking`.
func parseTracking(line string) (Sample, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, ",")
	if len(fields) < 10 {
		return Sample{}, fmt.Errorf("tracking line has %d fields, want at least 10", len(fields))
	}

	parse := func(idx int) (float64, error) {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[idx]), 64)
		if err != nil {
			return 0, fmt.Errorf("field %d (%q) not numeric: %w", idx+1, fields[idx], err)
		}
		return v, nil
	}

	timeVal, err := parse(3)
	if err != nil {
		return Sample{}, err
	}
	freq, err := parse(7)
	if err != nil {
		return Sample{}, err
	}
	residual, err := parse(8)
	if err != nil {
		return Sample{}, err
	}
	skew, err := parse(9)
	if err != nil {
		return Sample{}, err
	}

	return Sample{Time: timeVal, Freq: freq, Residual: residual, Skew: skew}, nil
}
