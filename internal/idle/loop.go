package idle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/maximewewer/thermopps/internal/telemetry"
	"github.com/maximewewer/thermopps/pkg/logger"
)

const (
	ppsFetchTimeout = 1100 * time.Millisecond
	minEdgeDeltaNS  = 600_000_000
)

var errPPSTimeout = errors.New("pps fetch timed out")

// EdgeDelta is the pure result of comparing an assert/clear edge pair,
// reproducing unidled.c's delta/nsec computation (lines ~600-640)
// including its borrow-across-seconds branches.
type EdgeDelta struct {
	Delta    int64
	Nsec     int64
	LockLost bool // identical edges: the PPS source stopped advancing
}

// computeEdgeDelta mirrors unidled.c's branch-by-branch arithmetic
// exactly: it treats "no clear edge ever captured" as a synthetic
// large delta so the first fetch after acquiring lock is never
// rejected, then falls through the four same-second/cross-second
// comparison cases, and finally detects a stalled source when assert
// and clear carry identical timestamps.
func computeEdgeDelta(e Edge) EdgeDelta {
	switch {
	case e.ClearSeq == 0 && e.ClearSec == 0 && e.ClearNsec == 0:
		return EdgeDelta{Delta: minEdgeDeltaNS, Nsec: int64(e.AssertNsec)}

	case e.AssertSec > e.ClearSec:
		nsec := int64(e.AssertNsec)
		delta := e.AssertSec - e.ClearSec
		assertNsec := int64(e.AssertNsec)
		if e.AssertNsec < e.ClearNsec {
			delta--
			assertNsec += 1_000_000_000
		}
		delta *= 1_000_000_000
		delta += assertNsec - int64(e.ClearNsec)
		return EdgeDelta{Delta: delta, Nsec: nsec}

	case e.AssertSec < e.ClearSec:
		nsec := int64(e.ClearNsec)
		delta := e.ClearSec - e.AssertSec
		clearNsec := int64(e.ClearNsec)
		if e.ClearNsec < e.AssertNsec {
			delta--
			clearNsec += 1_000_000_000
		}
		delta *= 1_000_000_000
		delta += clearNsec - int64(e.AssertNsec)
		return EdgeDelta{Delta: delta, Nsec: nsec}

	case e.AssertNsec > e.ClearNsec:
		return EdgeDelta{Delta: int64(e.AssertNsec - e.ClearNsec), Nsec: int64(e.AssertNsec)}

	case e.AssertNsec < e.ClearNsec:
		return EdgeDelta{Delta: int64(e.ClearNsec - e.AssertNsec), Nsec: int64(e.ClearNsec)}

	default:
		return EdgeDelta{LockLost: true}
	}
}

// normalizeNsec folds the raw edge-offset nanosecond value into
// [-999999, 999999], matching unidled.c's two-branch clamp.
func normalizeNsec(nsec int64) int64 {
	switch {
	case nsec >= 500_000_000:
		nsec -= 1_000_000_000
		if nsec <= -1_000_000 {
			nsec = -999_999
		}
	case nsec >= 1_000_000:
		nsec = 999_999
	}
	return nsec
}

type fetchResult struct {
	edge Edge
	err  error
}

// ppsFetcher is the subset of *Binding the loop depends on, so tests
// can inject a fake PPS source instead of opening a real device.
type ppsFetcher interface {
	Fetch(timeout time.Duration) (Edge, error)
}

// Loop is unidled's PPS-driven control loop. The original's
// timer_create/SIGEV_THREAD callback ran the phase machine on its own
// thread, concurrently mutating state the main loop also read and
// wrote; here a single goroutine owns all mutable state (first,
// state, the rearm timer) and a second goroutine does nothing but
// block on PPS_FETCH and hand raw edges back over a channel, so no
// mutable state is shared between the two goroutines.
type Loop struct {
	binding ppsFetcher
	phases  *PhaseMachine
	mgr     *Manager
	pof     int64
	metrics *telemetry.IdleMetrics

	first int // 1=need republish, 2=published/awaiting lock, 0=locked
	state int
}

// NewLoop builds a Loop. pof is the post-edge guard duration in
// nanoseconds, already scaled from its configured millisecond unit.
func NewLoop(binding ppsFetcher, mgr *Manager, phases *PhaseMachine, pof int64) *Loop {
	return &Loop{binding: binding, phases: phases, mgr: mgr, pof: pof, first: 1}
}

// SetMetrics attaches the Prometheus gauges Run updates as it tracks
// phase and lock state. Optional: a nil metrics pointer (the default)
// disables all metric updates.
func (l *Loop) SetMetrics(metrics *telemetry.IdleMetrics) {
	l.metrics = metrics
}

func (l *Loop) setLocked(locked bool) {
	if l.metrics == nil {
		return
	}
	if locked {
		l.metrics.Locked.Set(1)
	} else {
		l.metrics.Locked.Set(0)
	}
}

// Run drives the control loop until ctx is cancelled, the fetch
// goroutine stops on EINTR, or publishing the idle policy or a phase
// action fails. PPS_FETCH errors other than ETIMEDOUT and EINTR are
// retried by the fetch goroutine and never end Run.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.maybePublish(); err != nil {
		return err
	}

	fetches := make(chan fetchResult)
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()
	go l.fetchLoop(fetchCtx, fetches)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return l.shutdown()

		case <-timer.C:
			next, armNS, err := l.phases.Advance(l.state)
			if err != nil {
				return fmt.Errorf("phase advance: %w", err)
			}
			l.state = next
			if l.metrics != nil {
				l.metrics.Phase.Set(float64(l.state))
			}
			if armNS > 0 {
				timer.Reset(time.Duration(armNS))
			}

		case res, ok := <-fetches:
			if !ok {
				// fetchLoop exited on its own (EINTR, or its own
				// ctx.Done() case winning the race) rather than Run
				// observing ctx.Done() first; restore the fully idle
				// policy unconditionally either way, matching
				// unidled.c's unconditional out: label.
				return l.shutdown()
			}

			if res.err != nil {
				if l.first == 0 {
					l.first = 1
					l.setLocked(false)
					if l.metrics != nil {
						l.metrics.LockLossesTotal.Inc()
					}
				}
				if err := l.maybePublish(); err != nil {
					return err
				}
				continue
			}

			if l.first != 0 {
				l.first = 0
				l.state = 0
				l.setLocked(true)
				timer.Reset(0)
				continue
			}

			ed := computeEdgeDelta(res.edge)
			if ed.LockLost {
				l.first = 1
				l.setLocked(false)
				if l.metrics != nil {
					l.metrics.LockLossesTotal.Inc()
				}
				if err := l.maybePublish(); err != nil {
					return err
				}
				continue
			}
			if ed.Delta < minEdgeDeltaNS {
				continue
			}

			nsec := normalizeNsec(ed.Nsec)
			l.state = 0
			timer.Reset(time.Duration(l.pof - nsec))

			if l.metrics != nil {
				l.metrics.PPSDeltaNS.Set(float64(ed.Delta))
				l.metrics.EdgeOffsetNS.Set(float64(nsec))
			}

			logger.SafeDebug("idle", "pps edge locked", map[string]interface{}{
				"delta_ns":       ed.Delta,
				"edge_offset_ns": nsec,
			})
		}
	}
}

// maybePublish republishes the fully-idle policy once, transitioning
// first from 1 to 2, matching the top-of-loop "if(c.first==1)" check
// in unidled.c's main().
func (l *Loop) maybePublish() error {
	if l.first != 1 {
		return nil
	}
	if err := l.mgr.PublishAllIdle(); err != nil {
		return fmt.Errorf("publish idle: %w", err)
	}
	l.first = 2
	return nil
}

// fetchLoop does nothing but repeatedly call PPS_FETCH and forward
// results to out; it touches no Loop state, so it needs no
// synchronization with Run's goroutine beyond the channel itself.
func (l *Loop) fetchLoop(ctx context.Context, out chan<- fetchResult) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		edge, err := l.binding.Fetch(ppsFetchTimeout)
		if err != nil {
			switch {
			case errors.Is(err, unix.ETIMEDOUT):
				select {
				case out <- fetchResult{err: errPPSTimeout}:
				case <-ctx.Done():
					return
				}
			case errors.Is(err, unix.EINTR):
				return
			default:
				// unidled.c's "goto repeat": retry immediately, no
				// notification to the control goroutine.
			}
			continue
		}

		select {
		case out <- fetchResult{edge: edge}:
		case <-ctx.Done():
			return
		}
	}
}

// shutdown disarms the phase timer implicitly (Run's defer stops it)
// and republishes the fully-idle policy before returning.
func (l *Loop) shutdown() error {
	return l.mgr.PublishAllIdle()
}
