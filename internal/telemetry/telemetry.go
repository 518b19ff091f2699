// Package telemetry exposes the optional Prometheus metrics surfaces
// for heatppm and unidled. Neither original C program exposes metrics;
// this is a purely observational ambient addition (SPEC_FULL.md §2.3)
// enabled with -M ADDR — nothing in either control loop reads these
// values back.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maximewewer/thermopps/pkg/logger"
)

// HeatMetrics is heatppm's metric set.
type HeatMetrics struct {
	DutyCycleNS        prometheus.Gauge
	AvgTempMillideg    prometheus.Gauge
	TargetTempMillideg prometheus.Gauge
	PlateausTotal      prometheus.Counter
	NohitStreak        prometheus.Gauge
	TrackingFailures   prometheus.Counter

	registry *prometheus.Registry
}

// NewHeatMetrics builds and registers heatppm's metric set.
func NewHeatMetrics() *HeatMetrics {
	m := &HeatMetrics{
		DutyCycleNS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heatppm_duty_cycle_ns",
			Help: "Current PWM on-duration within the 1 Hz period, in nanoseconds.",
		}),
		AvgTempMillideg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heatppm_avg_temp_millidegrees",
			Help: "Ring-buffer average sensor temperature, in millidegrees Celsius.",
		}),
		TargetTempMillideg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heatppm_target_temp_millidegrees",
			Help: "Current plateau target temperature, in millidegrees Celsius.",
		}),
		PlateausTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heatppm_plateaus_total",
			Help: "Count of accepted temperature plateaus.",
		}),
		NohitStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heatppm_nohit_streak",
			Help: "Consecutive ticks since the last accepted plateau.",
		}),
		TrackingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heatppm_tracking_failures_total",
			Help: "Count of failed chronyc tracking queries.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.DutyCycleNS, m.AvgTempMillideg, m.TargetTempMillideg,
		m.PlateausTotal, m.NohitStreak, m.TrackingFailures)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// IdleMetrics is unidled's metric set.
type IdleMetrics struct {
	Phase           prometheus.Gauge
	Locked          prometheus.Gauge
	LockLossesTotal prometheus.Counter
	PPSDeltaNS      prometheus.Gauge
	EdgeOffsetNS    prometheus.Gauge

	registry *prometheus.Registry
}

// NewIdleMetrics builds and registers unidled's metric set.
func NewIdleMetrics() *IdleMetrics {
	m := &IdleMetrics{
		Phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unidled_phase",
			Help: "Current phase state machine index (0-3), 4 while quiesced.",
		}),
		Locked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unidled_locked",
			Help: "1 when PPS lock is held, 0 otherwise.",
		}),
		LockLossesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unidled_lock_losses_total",
			Help: "Count of PPS lock losses (stalled source or fetch timeout).",
		}),
		PPSDeltaNS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unidled_pps_delta_ns",
			Help: "Last computed inter-edge delta, in nanoseconds.",
		}),
		EdgeOffsetNS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unidled_edge_offset_ns",
			Help: "Last normalized assert/clear edge offset, in nanoseconds.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.Phase, m.Locked, m.LockLossesTotal, m.PPSDeltaNS, m.EdgeOffsetNS)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// registryHolder is implemented by both HeatMetrics and IdleMetrics.
type registryHolder interface {
	prometheusRegistry() *prometheus.Registry
}

func (m *HeatMetrics) prometheusRegistry() *prometheus.Registry { return m.registry }
func (m *IdleMetrics) prometheusRegistry() *prometheus.Registry { return m.registry }

// Server is a minimal /metrics HTTP exposition point, off by default
// and enabled only when -M ADDR is given.
type Server struct {
	addr   string
	server *http.Server
}

// NewServer builds a metrics Server bound to addr, serving m's
// registry at /metrics.
func NewServer(addr string, m registryHolder) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.prometheusRegistry(), promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	return &Server{
		addr:   addr,
		server: &http.Server{Addr: addr, Handler: mux},
	}
}

// Run starts the metrics server and blocks until ctx is cancelled or
// the server fails to start.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("telemetry", "shutting down metrics server")
		return s.server.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server on %s: %w", s.addr, err)
		}
		return nil
	}
}
