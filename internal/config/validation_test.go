package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validHeatConfig() HeatConfig {
	cfg := DefaultHeatConfig()
	cfg.SensorPath = "/sys/class/hwmon/hwmon0/temp1_input"
	return cfg
}

func TestValidateHeat(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*HeatConfig)
		wantErr bool
	}{
		{"valid defaults", func(*HeatConfig) {}, false},
		{"missing sensor path", func(c *HeatConfig) { c.SensorPath = "" }, true},
		{"wait too low", func(c *HeatConfig) { c.Wait = 3 }, true},
		{"wait too high", func(c *HeatConfig) { c.Wait = 17 }, true},
		{"wait at lower bound", func(c *HeatConfig) { c.Wait = 4 }, false},
		{"wait at upper bound", func(c *HeatConfig) { c.Wait = 16 }, false},
		{"max temp too low", func(c *HeatConfig) { c.MaxTempC = 29 }, true},
		{"max temp too high", func(c *HeatConfig) { c.MaxTempC = 100 }, true},
		{"min skew too low", func(c *HeatConfig) { c.MinSkewPPB = 0 }, true},
		{"min skew too high", func(c *HeatConfig) { c.MinSkewPPB = 101 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validHeatConfig()
			tt.mutate(&cfg)
			err := ValidateHeat(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func validIdleConfig() IdleConfig {
	cfg := DefaultIdleConfig()
	cfg.Device = "/dev/gps0"
	return cfg
}

func TestValidateIdle(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*IdleConfig)
		wantErr bool
	}{
		{"valid defaults", func(*IdleConfig) {}, false},
		{"missing device", func(c *IdleConfig) { c.Device = "" }, true},
		{"core negative", func(c *IdleConfig) { c.Core = -1 }, true},
		{"core too high", func(c *IdleConfig) { c.Core = 1024 }, true},
		{"priority zero", func(c *IdleConfig) { c.Priority = 0 }, true},
		{"priority too high", func(c *IdleConfig) { c.Priority = 100 }, true},
		{"latency zero", func(c *IdleConfig) { c.LatencyUS = 0 }, true},
		{"pof zero", func(c *IdleConfig) { c.PofMS = 0 }, true},
		{"prf negative", func(c *IdleConfig) { c.PrfMS = -1 }, true},
		{"pid file empty", func(c *IdleConfig) { c.PIDFile = "" }, true},
		{"phase durations sum at limit", func(c *IdleConfig) {
			c.PofMS, c.PrfMS, c.PrhMS, c.PohMS = 250, 250, 250, 250
		}, false},
		{"phase durations sum exceeds limit", func(c *IdleConfig) {
			c.PofMS, c.PrfMS, c.PrhMS, c.PohMS = 500, 500, 500, 500
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validIdleConfig()
			tt.mutate(&cfg)
			err := ValidateIdle(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
