package heat

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/maximewewer/thermopps/pkg/chronysim"
	"github.com/maximewewer/thermopps/pkg/mathutil"
)

const (
	ringSize              = 8
	maxPulse              = int64(1_000_000_000)
	convergenceTimeout    = 3600
	lockOnTolerance       = int64(1000) // ±1 degree, in millidegrees
	relaxedDeltaTolerance = int64(100_000)
)

// Tracker is the subset of chronysim.Tracker the controller depends
// on, expressed as an interface so tests can inject a fake oracle
// exactly as spec.md §9 prescribes for the chronyc subprocess.
type Tracker interface {
	Query(ctx context.Context) (chronysim.Sample, error)
}

// Sensor is the subset of SensorReader the controller depends on.
type Sensor interface {
	Read() (float64, error)
}

// Config parameterizes a Controller from the -w/-l/-m/-r flags.
type Config struct {
	Wait       int64 // -w: tracking-update stability count, 4..16
	MaxTempC   int64 // -l: maximum plateau temperature in whole degrees C, 30..99
	MinSkewPPB int64 // -m: raw flag value, 1..100; threshold ppm = MinSkewPPB/1000
	Relaxed    bool  // -r
}

// PlateauRecord is one accepted plateau: the settled average
// temperature and chrony's frequency estimate at that point.
type PlateauRecord struct {
	AvgMillidegrees float64
	FreqPPM         float64
}

// StatusLine is the data behind the status line spec.md §6 requires on
// stdout: "<avg> <target> <arrow> <freq> <residual> <skew>". Locked is
// false while still searching for lock-on, in which case Target has
// no meaning yet (heatppm.c's "[------]" placeholder).
type StatusLine struct {
	AvgMillidegrees float64
	Target          int64
	Locked          bool
	Arrow           string
	Freq            float64
	Residual        float64
	Skew            float64
}

// Controller implements heatppm's 1 Hz deadband control loop: startup
// warmup, lock-on, steady-state tracking, and plateau acceptance.
type Controller struct {
	cfg     Config
	sensor  Sensor
	tracker Tracker
	pwm     *PWMGenerator

	ring        [ringSize]float64
	idx         int
	sampleCount int64
	filled      bool
	initialized bool

	target  int64 // millidegrees
	pulse   int64 // nanoseconds
	ticks   int64
	base    int64
	nohit   int64

	minSkewPPM float64
	highLimit  int64 // millidegrees

	Records []PlateauRecord
}

// NewController builds a Controller. pwm may be nil for tests that
// only exercise the pure decision logic.
func NewController(cfg Config, sensor Sensor, tracker Tracker, pwm *PWMGenerator) *Controller {
	return &Controller{
		cfg:        cfg,
		sensor:     sensor,
		tracker:    tracker,
		pwm:        pwm,
		minSkewPPM: float64(cfg.MinSkewPPB) / 1000.0,
		highLimit:  cfg.MaxTempC * 1000,
	}
}

// pushSample appends a temperature sample to the ring buffer. The
// buffer is considered "filled" only once a ninth sample has arrived:
// spec.md's literal heatppm-1 scenario requires exactly 8 identical
// warmup samples (printed as "waiting") plus one further sample before
// the first lock-on decision is made.
func (c *Controller) pushSample(millidegrees float64) {
	c.ring[c.idx] = millidegrees
	c.idx = (c.idx + 1) % ringSize
	c.sampleCount++
	if c.sampleCount > ringSize {
		c.filled = true
	}
}

func (c *Controller) average() float64 {
	var sum float64
	for _, v := range c.ring {
		sum += v
	}
	return sum / float64(ringSize)
}

// withinOneDegree reports whether every sample in the ring lies
// within lockOnTolerance millidegrees of avg.
func (c *Controller) withinOneDegree(avg float64) bool {
	for _, v := range c.ring {
		if mathutil.AbsFloat64(v-avg) > float64(lockOnTolerance) {
			return false
		}
	}
	return true
}

// qualifies reports whether a tracking sample meets the residual/skew
// gate shared by lock-on and plateau acceptance.
func (c *Controller) qualifies(sample chronysim.Sample) bool {
	return sample.Residual == 0 && sample.Skew <= c.minSkewPPM
}

// computeBand implements spec.md §4.3's three-step deadband table.
// avg and target are in millidegrees; the returned delta is in
// nanoseconds.
func computeBand(avg, target int64) (delta int64, arrow string) {
	diff := avg - target
	switch {
	case diff == 0:
		return 0, " - "
	case diff < 0:
		switch {
		case diff <= -500:
			return 1_000_000, ">>>"
		case diff <= -250:
			return 500_000, " >>"
		default:
			return 100_000, " > "
		}
	default:
		switch {
		case diff >= 500:
			return -1_000_000, "<<<"
		case diff >= 250:
			return -500_000, "<< "
		default:
			return -100_000, " < "
		}
	}
}

// applyDelta adds delta to the current pulse, clamping to [0, 1e9],
// and returns the clamped value plus a saturation marker ("", ">|" or
// "|<") per spec.md §8 property 1.
func (c *Controller) applyDelta(delta int64) (int64, string) {
	raw := c.pulse + delta
	clamped := mathutil.ClampInt64(raw, 0, maxPulse)
	sat := ""
	if clamped != raw {
		if clamped == maxPulse {
			sat = ">|"
		} else {
			sat = "|<"
		}
	}
	c.pulse = clamped
	return clamped, sat
}

// deltaAcceptable reports whether delta is small enough to accept a
// plateau under the configured exactness mode.
func (c *Controller) deltaAcceptable(delta int64) bool {
	if c.cfg.Relaxed {
		return mathutil.AbsInt64(delta) <= relaxedDeltaTolerance
	}
	return delta == 0
}

// TickOutcome is the full result of one 1 Hz control tick, including
// whether this tick accepted a plateau or requires termination. Ready
// is false only during the initial ring-buffer warmup, when there is
// nothing yet worth printing.
type TickOutcome struct {
	Ready        bool
	Status       StatusLine
	LockedRecord *PlateauRecord // immediate plateau emitted by lock-on itself, if any
	Accepted     bool
	Record       PlateauRecord
	Terminate    bool
	TermReason   string
}

// Tick runs exactly one 1 Hz control decision given a fresh
// temperature sample and tracking sample. It is the pure decision core
// of the controller, independent of the 1 Hz ticker loop in
// cmd/heatppm and of PWMGenerator.Run's timer plumbing.
//
// Lock-on success falls through into the same tick's steady-state
// evaluation rather than returning early, reproducing heatppm.c:416-451
// falling out of its "if(!inited)" block into the deadband code below
// on the very tick it locks on — so the first steady-state status line
// (and a possible second plateau) can be emitted on the locking tick
// itself, not the next one.
func (c *Controller) Tick(millidegrees float64, sample chronysim.Sample) TickOutcome {
	c.ticks++
	c.pushSample(millidegrees)

	if !c.filled {
		return TickOutcome{}
	}

	var lockedRecord *PlateauRecord

	if !c.initialized {
		avg := c.average()
		if !c.withinOneDegree(avg) || !c.qualifies(sample) {
			status := StatusLine{AvgMillidegrees: avg, Arrow: " - ", Freq: sample.Freq, Residual: sample.Residual, Skew: sample.Skew}
			c.nohit++
			if c.nohit >= convergenceTimeout {
				return TickOutcome{Ready: true, Status: status, Terminate: true, TermReason: "lock-on convergence timeout"}
			}
			return TickOutcome{Ready: true, Status: status}
		}

		c.target = mathutil.CeilToStep(int64(avg), 1000)
		c.initialized = true
		c.base = c.ticks
		c.nohit = 0

		if int64(avg) == c.target {
			record := PlateauRecord{AvgMillidegrees: avg, FreqPPM: sample.Freq}
			c.Records = append(c.Records, record)
			c.target += 1000
			lockedRecord = &record
		}
		// Falls through into steady-state processing below, using the
		// target just established, on this same tick.
	}

	avg := c.average()
	delta, arrow := computeBand(int64(avg), c.target)
	pulse, sat := c.applyDelta(delta)
	if sat != "" {
		arrow = sat
	}

	status := StatusLine{
		AvgMillidegrees: avg,
		Target:          c.target,
		Locked:          true,
		Arrow:           arrow,
		Freq:            sample.Freq,
		Residual:        sample.Residual,
		Skew:            sample.Skew,
	}

	if c.pwm != nil {
		c.pwm.SetOn(pulse)
	}

	accepted := c.deltaAcceptable(delta) && (c.ticks-c.base) >= c.cfg.Wait && c.qualifies(sample)
	if accepted {
		record := PlateauRecord{AvgMillidegrees: avg, FreqPPM: sample.Freq}
		c.Records = append(c.Records, record)
		c.base = c.ticks
		c.nohit = 0
		c.target += 1000

		if c.target > c.highLimit {
			return TickOutcome{Ready: true, Status: status, LockedRecord: lockedRecord, Accepted: true, Record: record, Terminate: true, TermReason: "target exceeded configured maximum"}
		}
		return TickOutcome{Ready: true, Status: status, LockedRecord: lockedRecord, Accepted: true, Record: record}
	}

	c.nohit++
	if c.nohit >= convergenceTimeout {
		return TickOutcome{Ready: true, Status: status, LockedRecord: lockedRecord, Terminate: true, TermReason: "convergence timeout"}
	}

	return TickOutcome{Ready: true, Status: status, LockedRecord: lockedRecord}
}

// WriteStatusLine emits spec.md §6's carriage-return-updated status
// line to stdout. This is user-facing protocol output, not a log line,
// so it bypasses pkg/logger deliberately (see SPEC_FULL.md §2.1). Until
// lock-on succeeds, the target column shows heatppm.c's "[------]"
// placeholder rather than a number.
func WriteStatusLine(w *os.File, s StatusLine) {
	target := "------"
	if s.Locked {
		target = strconv.FormatInt(s.Target, 10)
	}
	fmt.Fprintf(w, "\r%7.0f %6s %s %+7.3f %9.6f %7.3f", s.AvgMillidegrees, target, s.Arrow, s.Freq, s.Residual, s.Skew)
}

// WriteWaitingLine emits the status line shown while the ring buffer
// is still filling, before any average or target exists to report,
// matching heatppm.c:345's one-time "\rWait..." banner.
func WriteWaitingLine(w *os.File) {
	fmt.Fprint(w, "\rWait...")
}

// WritePlateauRecord emits spec.md §6's newline-terminated final
// record for an accepted plateau: "<avg_millidegrees> <freq_ppm>".
// heatppm.c:527 uses an unsigned "%.3f" — the sign only ever shows up
// through freq's own negative values, never a forced "+".
func WritePlateauRecord(w *os.File, r PlateauRecord) {
	fmt.Fprintf(w, "\n%.0f %.3f\n", r.AvgMillidegrees, r.FreqPPM)
}

// Close clears the trailing status line with spaces so a later shell
// prompt does not show leftover status text, mirroring
// heatppm.c:542-549's terminal cleanup on exit.
func Close(w *os.File) {
	fmt.Fprintf(w, "\r%60s\r", "")
}

// WaitForHalfSecond busy-waits in 5 ms sleeps until the wall clock's
// microsecond field falls in [450000, 550000], aligning the caller's
// subsequent 1 Hz timer arm with chrony's own tracking update cadence,
// per spec.md §4.3.
func WaitForHalfSecond(ctx context.Context, now func() time.Time, sleep func(time.Duration)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		micros := now().Nanosecond() / 1000
		if micros >= 450_000 && micros <= 550_000 {
			return
		}
		sleep(5 * time.Millisecond)
	}
}
