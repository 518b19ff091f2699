package heat

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/maximewewer/thermopps/internal/pmqos"
	"github.com/maximewewer/thermopps/pkg/logger"
)

const nanosPerSecond = int64(1_000_000_000)

// PWMGenerator emits a 1 Hz square wave into a PM QoS handle whose
// duty cycle equals on/1e9. The controller loop mutates on under mu;
// Run reads it once per period.
type PWMGenerator struct {
	handle *pmqos.Handle

	mu sync.Mutex
	on int64 // nanoseconds, [0, 1e9]
}

// NewPWMGenerator builds a generator around an already-open PM QoS
// handle.
func NewPWMGenerator(handle *pmqos.Handle) *PWMGenerator {
	return &PWMGenerator{handle: handle}
}

// SetOn publishes a new on-duration, clamped to [0, 1e9] ns.
func (p *PWMGenerator) SetOn(ns int64) {
	if ns < 0 {
		ns = 0
	}
	if ns > nanosPerSecond {
		ns = nanosPerSecond
	}
	p.mu.Lock()
	p.on = ns
	p.mu.Unlock()
}

func (p *PWMGenerator) snapshotOn() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

// Run drives the period timer and emits the PWM signal until ctx is
// cancelled. It runs on its own goroutine; cmd/heatppm locks that
// goroutine to an OS thread and raises the thread to SCHED_RR before
// calling Run.
func (p *PWMGenerator) Run(ctx context.Context) error {
	periodFd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return fmt.Errorf("timerfd_create (period): %w", err)
	}
	defer unix.Close(periodFd)

	periodSpec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(nanosPerSecond),
		Value:    unix.NsecToTimespec(nanosPerSecond),
	}
	if err := unix.TimerfdSettime(periodFd, 0, &periodSpec, nil); err != nil {
		return fmt.Errorf("timerfd_settime (period): %w", err)
	}

	oneshotFd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return fmt.Errorf("timerfd_create (oneshot): %w", err)
	}
	defer unix.Close(oneshotFd)

	var oneshotArmed bool

	for {
		pollFds := []unix.PollFd{
			{Fd: int32(periodFd), Events: unix.POLLIN},
			{Fd: int32(oneshotFd), Events: unix.POLLIN},
		}

		n, err := unix.Poll(pollFds, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if n <= 0 {
			continue
		}

		if pollFds[0].Revents&unix.POLLIN != 0 {
			drainTimer(periodFd)
			on := p.snapshotOn()

			switch on {
			case 0:
				if err := p.handle.Release(); err != nil {
					return fmt.Errorf("fatal: release at period start: %w", err)
				}
			case nanosPerSecond:
				if err := p.handle.Write(0); err != nil {
					return fmt.Errorf("fatal: write(0) at period start: %w", err)
				}
			default:
				if err := p.handle.Write(0); err != nil {
					return fmt.Errorf("fatal: write(0) at period start: %w", err)
				}
				spec := unix.ItimerSpec{Value: unix.NsecToTimespec(on)}
				if err := unix.TimerfdSettime(oneshotFd, 0, &spec, nil); err != nil {
					return fmt.Errorf("fatal: timerfd_settime (oneshot): %w", err)
				}
				oneshotArmed = true
			}
		}

		if pollFds[1].Revents&unix.POLLIN != 0 {
			drainTimer(oneshotFd)
			if oneshotArmed {
				oneshotArmed = false
				if err := p.handle.Release(); err != nil {
					return fmt.Errorf("fatal: release at oneshot expiry: %w", err)
				}
			}
		}
	}
}

// drainTimer reads the 8-byte expiration counter off a timerfd. A
// short read is silently tolerated per the PWM generator's contract.
func drainTimer(fd int) {
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		logger.SafeDebug("pwm", "timerfd read error", map[string]interface{}{
			"fd":    fd,
			"error": err.Error(),
		})
	}
}
