package config

import (
	"errors"
	"strconv"
)

// ValidateHeat checks the ranges spec.md §6 documents for heatppm's
// flags.
func ValidateHeat(cfg *HeatConfig) error {
	if cfg.SensorPath == "" {
		return errors.New("sensor path (-t) is required")
	}
	if cfg.Wait < 4 || cfg.Wait > 16 {
		return errors.New("wait (-w) must be between 4 and 16, got " + strconv.FormatInt(cfg.Wait, 10))
	}
	if cfg.MaxTempC < 30 || cfg.MaxTempC > 99 {
		return errors.New("max_temp_c (-l) must be between 30 and 99, got " + strconv.FormatInt(cfg.MaxTempC, 10))
	}
	if cfg.MinSkewPPB < 1 || cfg.MinSkewPPB > 100 {
		return errors.New("min_skew_ppb (-m) must be between 1 and 100, got " + strconv.FormatInt(cfg.MinSkewPPB, 10))
	}
	return nil
}

// ValidateIdle checks the ranges spec.md §6 documents for unidled's
// flags.
func ValidateIdle(cfg *IdleConfig) error {
	if cfg.Device == "" {
		return errors.New("pps device (-d) is required")
	}
	if cfg.Core < 0 || cfg.Core > 1023 {
		return errors.New("core (-c) must be between 0 and 1023, got " + strconv.Itoa(cfg.Core))
	}
	if cfg.Priority < 1 || cfg.Priority > 99 {
		return errors.New("priority (-r) must be between 1 and 99, got " + strconv.Itoa(cfg.Priority))
	}
	if cfg.LatencyUS < 1 || cfg.LatencyUS > 1000 {
		return errors.New("latency threshold (-t) must be between 1 and 1000us, got " + strconv.FormatInt(cfg.LatencyUS, 10))
	}
	if cfg.PofMS < 1 || cfg.PofMS > 1000 {
		return errors.New("pof (-P) must be between 1 and 1000ms, got " + strconv.FormatInt(cfg.PofMS, 10))
	}
	if cfg.PrfMS < 0 || cfg.PrfMS > 1000 {
		return errors.New("prf (-p) must be between 0 and 1000ms, got " + strconv.FormatInt(cfg.PrfMS, 10))
	}
	if cfg.PrhMS < 0 || cfg.PrhMS > 1000 {
		return errors.New("prh (-l) must be between 0 and 1000ms, got " + strconv.FormatInt(cfg.PrhMS, 10))
	}
	if cfg.PohMS < 0 || cfg.PohMS > 1000 {
		return errors.New("poh (-L) must be between 0 and 1000ms, got " + strconv.FormatInt(cfg.PohMS, 10))
	}
	if cfg.PIDFile == "" {
		return errors.New("pid file (-f) cannot be empty")
	}
	if sum := cfg.PohMS + cfg.PofMS + cfg.PrfMS + cfg.PrhMS; sum > 1000 {
		return errors.New("poh (-L) + pof (-P) + prf (-p) + prh (-l) must not exceed 1000ms, got " + strconv.FormatInt(sum, 10))
	}
	return nil
}
