package idle

import "fmt"

// Phase indices of the four-stage cycle, matching spec.md §4.6's table
// and unidled.c's timer() switch.
const (
	PhaseHigh    = 0 // poh: latency pinned at thres (all) / [1,high) enabled (single)
	PhaseRelease = 1 // prl: latency released (all) / [X,max) enabled (single)
	PhaseLow     = 2 // prh: latency pinned at thres (all) / [high,max) disabled (single)
	PhaseFinal   = 3 // prf: latency bound set to 0 (all) / [1,Y) disabled (single)
	PhaseDone    = 4 // quiesced until the next PPS edge rearms state 0
)

// PhaseMachine holds the four phase durations and drives Manager
// through the exact per-phase actions of unidled.c:418-461.
//
// poh, prl, prh, prf are the only four durations the switch actually
// keys on — pof (the post-edge guard) never appears here; it is used
// solely by the main loop's rearm arithmetic.
type PhaseMachine struct {
	Poh, Prl, Prh, Prf int64

	mgr *Manager
}

// NewPhaseMachine builds a PhaseMachine bound to mgr.
func NewPhaseMachine(mgr *Manager, poh, prl, prh, prf int64) *PhaseMachine {
	return &PhaseMachine{Poh: poh, Prl: prl, Prh: prh, Prf: prf, mgr: mgr}
}

// Advance runs phase actions starting at state, skipping any phase
// whose configured duration is zero exactly as unidled.c's
// switch(c->state++) plus its "if (!duration) c->state++;" branches
// do: a single Advance call executes AT MOST one real phase action,
// walking through any number of zero-duration phases first, and
// returns the next state plus the duration to arm the rearm timer
// with (0 once PhaseDone is reached, meaning "do not rearm").
//
// hot path: called from the main loop's timer-expiry branch.
func (p *PhaseMachine) Advance(state int) (nextState int, armNS int64, err error) {
	for {
		switch state {
		case PhaseHigh:
			if p.Poh == 0 {
				state = PhaseRelease
				continue
			}
			if err := p.enterHigh(); err != nil {
				return state, 0, err
			}
			return PhaseRelease, p.Poh, nil

		case PhaseRelease:
			if p.Prl == 0 {
				state = PhaseLow
				continue
			}
			if err := p.enterRelease(); err != nil {
				return state, 0, err
			}
			return PhaseLow, p.Prl, nil

		case PhaseLow:
			if p.Prh == 0 {
				state = PhaseFinal
				continue
			}
			if err := p.enterLow(); err != nil {
				return state, 0, err
			}
			return PhaseFinal, p.Prh, nil

		case PhaseFinal:
			if p.Prf == 0 {
				return PhaseDone, 0, nil
			}
			if err := p.enterFinal(); err != nil {
				return state, 0, err
			}
			return PhaseDone, p.Prf, nil

		default:
			return PhaseDone, 0, nil
		}
	}
}

// enterHigh is phase 0's action: pin latency at the configured
// threshold (all mode), or enable the shallow range [1, high) (single
// mode), unidled.c:420-427.
func (p *PhaseMachine) enterHigh() error {
	if p.mgr.all {
		return p.mgr.SetLatency(int32(p.mgr.ThresholdUS()))
	}
	return p.mgr.IdleSet(1, p.mgr.High(), true)
}

// enterRelease is phase 1's action: release the latency hint entirely
// (all mode), or enable the deep range (single mode). The deep range's
// lower bound depends on whether phase 0 ran at all: if poh is
// configured, state 0 already enabled [1,high), so phase 1 only needs
// to extend that to [high,max); if poh is zero, phase 1 must cover
// the whole range from 1, unidled.c:429-437.
func (p *PhaseMachine) enterRelease() error {
	if p.mgr.all {
		return p.mgr.SetLatency(-1)
	}
	lo := 1
	if p.Poh != 0 {
		lo = p.mgr.High()
	}
	return p.mgr.IdleSet(lo, p.mgr.Max(), true)
}

// enterLow is phase 2's action: pin latency back at threshold (all
// mode), or disable the deep range [high, max) (single mode),
// unidled.c:439-446.
func (p *PhaseMachine) enterLow() error {
	if p.mgr.all {
		return p.mgr.SetLatency(int32(p.mgr.ThresholdUS()))
	}
	return p.mgr.IdleSet(p.mgr.High(), p.mgr.Max(), false)
}

// enterFinal is phase 3's action: set the latency bound to 0 (all
// mode), or disable a range starting at 1 (single mode). The upper
// bound depends on whether phase 2 ran: if prh is configured, state 2
// already disabled [high,max), so phase 3 only needs [1,high); if prh
// is zero, phase 3 must disable the whole range up to max,
// unidled.c:448-461.
func (p *PhaseMachine) enterFinal() error {
	if p.mgr.all {
		return p.mgr.SetLatency(0)
	}
	hi := p.mgr.Max()
	if p.Prh != 0 {
		hi = p.mgr.High()
	}
	return p.mgr.IdleSet(1, hi, false)
}

// Validate reports an error if all four durations are zero, which
// would leave the phase machine permanently quiesced at PhaseDone.
func (p *PhaseMachine) Validate() error {
	if p.Poh == 0 && p.Prl == 0 && p.Prh == 0 && p.Prf == 0 {
		return fmt.Errorf("phase machine: poh, prl, prh, prf cannot all be zero")
	}
	return nil
}
