// Package idle implements unidled's idle-state resource manager, PPS
// binding, phase state machine, and PPS-fetch main loop.
package idle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maximewewer/thermopps/internal/pmqos"
)

// maxStates is the kernel's maximum cpuidle state count per CPU.
const maxStates = 32

type stateHandle struct {
	path   string
	handle *os.File
}

// Manager owns the per-CPU cpuidle disable handles (single-core mode)
// or the shared PM QoS handle ("all" mode), per spec.md §4.4.
type Manager struct {
	sysRoot string // injectable sysfs root, default "/sys", for tests
	cpu     int
	all     bool
	thresUS int64

	max  int
	high int

	states []stateHandle
	qos    *pmqos.Handle
}

// NewManager builds a Manager. sysRoot defaults to "/sys" when empty,
// so tests can point it at a t.TempDir() fake tree.
func NewManager(sysRoot string, cpu int, all bool, thresholdUS int64) *Manager {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	return &Manager{sysRoot: sysRoot, cpu: cpu, all: all, thresUS: thresholdUS}
}

func (m *Manager) stateDir(i int) string {
	return filepath.Join(m.sysRoot, "devices", "system", "cpu", fmt.Sprintf("cpu%d", m.cpu), "cpuidle", fmt.Sprintf("state%d", i))
}

// BuildList discovers how many idle states the configured CPU exposes
// by probing state<i>/disable for i = 0..31, per spec.md §4.4.
func (m *Manager) BuildList() error {
	count := 0
	for i := 0; i < maxStates; i++ {
		info, err := os.Stat(filepath.Join(m.stateDir(i), "disable"))
		if err != nil || !info.Mode().IsRegular() {
			break
		}
		count = i + 1
	}
	if count == 0 {
		return fmt.Errorf("no cpuidle states discovered for cpu%d under %s", m.cpu, m.sysRoot)
	}
	m.max = count
	return nil
}

// GetLimit reads each state's latency file and records the boundary
// state index as High: the first state whose exit latency (µs)
// exceeds the configured threshold, or the last discovered state if
// none does (unidled.c:107-132 sets *high=i on every iteration before
// testing it, so a fall-through leaves high at max-1, not max).
func (m *Manager) GetLimit() error {
	for i := 0; i < m.max; i++ {
		m.high = i
		path := filepath.Join(m.stateDir(i), "latency")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		latency, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %q not an integer: %w", path, string(data), err)
		}
		if latency > m.thresUS {
			break
		}
	}
	if m.high == 0 {
		return fmt.Errorf("state 0 already exceeds latency threshold %dus", m.thresUS)
	}
	return nil
}

// OpenIdle opens the resource handles control needs: per-state disable
// file descriptors in single-core mode, or the shared PM QoS handle in
// "all" mode. On any open failure, previously opened handles are
// closed and the error is reported.
func (m *Manager) OpenIdle() error {
	if m.all {
		h, err := pmqos.Open()
		if err != nil {
			return err
		}
		m.qos = h
		return nil
	}

	m.states = make([]stateHandle, m.max)
	for i := 0; i < m.max; i++ {
		path := filepath.Join(m.stateDir(i), "disable")
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_NONBLOCK, 0)
		if err != nil {
			for j := 0; j < i; j++ {
				m.states[j].handle.Close()
			}
			return fmt.Errorf("open %s: %w", path, err)
		}
		m.states[i] = stateHandle{path: path, handle: f}
	}
	return nil
}

// CloseIdle releases all open resource handles.
func (m *Manager) CloseIdle() error {
	if m.all {
		if m.qos != nil {
			return m.qos.Close()
		}
		return nil
	}
	var firstErr error
	for _, s := range m.states {
		if s.handle == nil {
			continue
		}
		if err := s.handle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Modify enables (enable=true, writes "0\n") or disables (writes
// "1\n") a single idle state's disable knob in single-core mode.
//
// hot path: called from the phase machine on every transition.
func (m *Manager) Modify(state int, enable bool) error {
	if m.all {
		return fmt.Errorf("modify: not valid in all mode")
	}
	if state < 0 || state >= len(m.states) {
		return fmt.Errorf("modify: state %d out of range [0,%d)", state, len(m.states))
	}
	payload := "1\n"
	if enable {
		payload = "0\n"
	}
	_, err := m.states[state].handle.Write([]byte(payload))
	return err
}

// IdleSet enables or disables every state in [lo, hi).
//
// hot path.
func (m *Manager) IdleSet(lo, hi int, enable bool) error {
	for i := lo; i < hi; i++ {
		if err := m.Modify(i, enable); err != nil {
			return err
		}
	}
	return nil
}

// SetLatency installs (us >= 0) or releases (us < 0) a PM QoS latency
// bound in "all" mode.
//
// hot path.
func (m *Manager) SetLatency(us int32) error {
	if !m.all {
		return fmt.Errorf("set latency: not valid in single-core mode")
	}
	if us < 0 {
		return m.qos.Release()
	}
	return m.qos.Write(us)
}

// Max returns the discovered idle state count.
func (m *Manager) Max() int { return m.max }

// High returns the boundary state index: the first state whose exit
// latency exceeds the configured threshold (or the last state if none
// does).
func (m *Manager) High() int { return m.high }

// ThresholdUS returns the configured latency threshold in
// microseconds.
func (m *Manager) ThresholdUS() int64 { return m.thresUS }

// PublishAllIdle republishes the fully-idle policy: states 1..max-1
// enabled in single-core mode (state 0, which this package never
// disables, is not written), or the PM QoS hint released in "all"
// mode. Used at startup and whenever PPS lock is lost.
func (m *Manager) PublishAllIdle() error {
	if m.all {
		return m.SetLatency(-1)
	}
	return m.IdleSet(1, m.max, true)
}
