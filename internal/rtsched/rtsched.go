// Package rtsched sets up realtime CPU affinity, scheduling priority
// and locked memory for the two daemons in this module, both of which
// need predictable, jitter-free wakeups to hit their nanosecond
// timing budgets.
package rtsched

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PinToCPU restricts the calling OS thread to a single core. Linux
// applies sched_setaffinity(0, ...) to the calling thread only: the
// process's other existing threads keep their affinity, and only
// threads created later from this one inherit it.
func PinToCPU(cpu int) error {
	if cpu < 0 || cpu >= 1024 {
		return fmt.Errorf("cpu %d out of range [0,1024)", cpu)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity: %w", err)
	}
	return nil
}

// SetRealtimePriority switches the calling OS thread to SCHED_RR at
// the given priority (1-99). As with PinToCPU, the process's other
// existing threads are not changed.
func SetRealtimePriority(prio int) error {
	if prio < 1 || prio > 99 {
		return fmt.Errorf("priority %d out of range [1,99]", prio)
	}
	if err := unix.SchedSetscheduler(0, unix.SCHED_RR, &unix.SchedParam{Priority: int32(prio)}); err != nil {
		return fmt.Errorf("sched_setscheduler: %w", err)
	}
	return nil
}

// SetMaxRealtimePriority switches the calling OS thread to SCHED_RR at
// the maximum available priority, mirroring heatppm's use of
// sched_get_priority_max(SCHED_RR). Other threads are not changed.
func SetMaxRealtimePriority() error {
	max, err := unix.SchedGetPriorityMax(unix.SCHED_RR)
	if err != nil {
		return fmt.Errorf("sched_get_priority_max: %w", err)
	}
	if err := unix.SchedSetscheduler(0, unix.SCHED_RR, &unix.SchedParam{Priority: int32(max)}); err != nil {
		return fmt.Errorf("sched_setscheduler: %w", err)
	}
	return nil
}

// LockMemory locks all current and future process memory to prevent
// page-fault latency from perturbing the timing loops.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}
