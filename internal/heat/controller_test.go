package heat

import (
	"testing"

	"github.com/maximewewer/thermopps/pkg/chronysim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() Config {
	return Config{Wait: 5, MaxTempC: 85, MinSkewPPB: 15}
}

func TestTickNotReadyDuringWarmup(t *testing.T) {
	c := NewController(defaultConfig(), nil, nil, nil)
	sample := chronysim.Sample{Freq: -3.21, Residual: 0, Skew: 0.010}

	for i := 0; i < ringSize; i++ {
		outcome := c.Tick(70000, sample)
		assert.False(t, outcome.Ready)
	}
}

func TestComputeBandTable(t *testing.T) {
	tests := []struct {
		name        string
		avg, target int64
		wantDelta   int64
		wantArrow   string
	}{
		{"far below", 69000, 71000, 1_000_000, ">>>"},
		{"moderately below", 70600, 71000, 500_000, " >>"},
		{"slightly below", 70700, 71000, 100_000, " > "},
		{"at target", 71000, 71000, 0, " - "},
		{"slightly above", 71200, 71000, -100_000, " < "},
		{"moderately above", 71300, 71000, -500_000, "<< "},
		{"far above", 72000, 71000, -1_000_000, "<<<"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, arrow := computeBand(tt.avg, tt.target)
			assert.Equal(t, tt.wantDelta, delta)
			assert.Equal(t, tt.wantArrow, arrow)
		})
	}
}

// heatppm-1: warmup then first plateau. The average already sits
// exactly on the freshly computed target, so lock-on itself emits the
// plateau (LockedRecord) on the same tick, then falls through into
// steady-state evaluation against the advanced target.
func TestWarmupThenFirstPlateau(t *testing.T) {
	c := NewController(defaultConfig(), nil, nil, nil)
	sample := chronysim.Sample{Time: 100.0, Freq: -3.21, Residual: 0, Skew: 0.010}

	var last TickOutcome
	for i := 0; i < 9; i++ {
		last = c.Tick(70000, sample)
	}

	require.NotNil(t, last.LockedRecord)
	assert.Equal(t, 70000.0, last.LockedRecord.AvgMillidegrees)
	assert.Equal(t, -3.21, last.LockedRecord.FreqPPM)
	assert.Equal(t, int64(71000), c.target)
	assert.True(t, last.Ready)
	assert.True(t, last.Status.Locked)
}

// heatppm-2: asymmetric band, steady state.
func TestAsymmetricBandSteadyState(t *testing.T) {
	c := NewController(defaultConfig(), nil, nil, nil)
	c.filled = true
	c.initialized = true
	c.target = 71000
	for i := range c.ring {
		c.ring[i] = 70700
	}

	sample := chronysim.Sample{Freq: -3.0, Residual: 0, Skew: 0.010}
	outcome := c.Tick(70700, sample)

	assert.Equal(t, " > ", outcome.Status.Arrow)
	assert.Equal(t, int64(100000), c.pulse)
}

// heatppm-3: saturation.
func TestSaturationClampsToMax(t *testing.T) {
	c := NewController(defaultConfig(), nil, nil, nil)
	c.filled = true
	c.initialized = true
	c.target = 72000
	c.pulse = 999_500_000
	for i := range c.ring {
		c.ring[i] = 70000
	}

	sample := chronysim.Sample{Freq: -3.0, Residual: 0, Skew: 0.010}
	outcome := c.Tick(70000, sample)

	assert.Equal(t, int64(1_000_000_000), c.pulse)
	assert.Equal(t, ">|", outcome.Status.Arrow)
}

// heatppm-4: convergence timeout.
func TestConvergenceTimeout(t *testing.T) {
	c := NewController(Config{Wait: 5, MaxTempC: 85, MinSkewPPB: 15}, nil, nil, nil)
	c.filled = true
	c.initialized = true
	c.target = 71000
	for i := range c.ring {
		c.ring[i] = 71000
	}

	sample := chronysim.Sample{Freq: -3.0, Residual: 0, Skew: 0.010}

	var last TickOutcome
	up := true
	for i := 0; i < convergenceTimeout; i++ {
		avg := 70400.0
		if !up {
			avg = 71600.0
		}
		up = !up
		for j := range c.ring {
			c.ring[j] = avg
		}
		last = c.Tick(avg, sample)
		if last.Terminate {
			break
		}
	}

	require.True(t, last.Terminate)
	assert.Equal(t, "convergence timeout", last.TermReason)
}

func TestRelaxedModeAcceptsWithinQuarterDegree(t *testing.T) {
	cfg := defaultConfig()
	cfg.Relaxed = true
	cfg.Wait = 1
	c := NewController(cfg, nil, nil, nil)
	c.filled = true
	c.initialized = true
	c.target = 71000
	c.base = 0
	c.ticks = 1
	for i := range c.ring {
		c.ring[i] = 70950
	}

	sample := chronysim.Sample{Freq: -3.0, Residual: 0, Skew: 0.010}
	outcome := c.Tick(70950, sample)

	assert.True(t, outcome.Accepted)
	assert.Equal(t, int64(72000), c.target)
}

func TestPlateauRejectedOnBadSkew(t *testing.T) {
	cfg := defaultConfig()
	cfg.Wait = 1
	c := NewController(cfg, nil, nil, nil)
	c.filled = true
	c.initialized = true
	c.target = 71000
	c.base = 0
	c.ticks = 1
	for i := range c.ring {
		c.ring[i] = 71000
	}

	sample := chronysim.Sample{Freq: -3.0, Residual: 0, Skew: 0.050}
	outcome := c.Tick(71000, sample)

	assert.False(t, outcome.Accepted)
}

func TestTerminatesWhenTargetExceedsMax(t *testing.T) {
	cfg := Config{Wait: 1, MaxTempC: 71, MinSkewPPB: 15}
	c := NewController(cfg, nil, nil, nil)
	c.filled = true
	c.initialized = true
	c.target = 71000
	c.base = 0
	c.ticks = 1
	for i := range c.ring {
		c.ring[i] = 71000
	}

	sample := chronysim.Sample{Freq: -3.0, Residual: 0, Skew: 0.010}
	outcome := c.Tick(71000, sample)

	assert.True(t, outcome.Accepted)
	assert.True(t, outcome.Terminate)
}
