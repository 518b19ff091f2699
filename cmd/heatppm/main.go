// Command heatppm calibrates chronyd's frequency-vs-temperature curve
// by duty-cycling a PM QoS latency hint to hold the CPU at a sequence
// of one-degree temperature plateaus, recording the frequency estimate
// chronyd reports at each one. See spec.md §1 and §4.1-4.3.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/maximewewer/thermopps/internal/config"
	"github.com/maximewewer/thermopps/internal/heat"
	"github.com/maximewewer/thermopps/internal/pmqos"
	"github.com/maximewewer/thermopps/internal/rtsched"
	"github.com/maximewewer/thermopps/internal/telemetry"
	"github.com/maximewewer/thermopps/pkg/chronysim"
	"github.com/maximewewer/thermopps/pkg/logger"
	"github.com/maximewewer/thermopps/pkg/ntpdiag"
)

var version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `heatppm -t path [options]

  -t PATH       temperature sensor file (required)
  -w N          tracking-update stability count, 4..16 (default 5)
  -l TEMP       maximum plateau temperature in whole degrees C, 30..99 (default 85)
  -m PPB        minimum acceptable skew, 1..100 (default 15)
  -r            accept plateaus within +/-0.1ms instead of exactly
  -C PATH       optional YAML defaults file
  -M ADDR       expose Prometheus metrics on ADDR (e.g. 127.0.0.1:9109)
  -n-server HOST  optional diagnostic NTP server for comparison
  -h            show this help
`)
}

func main() {
	cfg := config.DefaultHeatConfig()

	flag.Usage = usage
	// A first, lightweight pass just to discover -C before the full
	// flag set is bound to cfg's (possibly YAML-overridden) values.
	preArgs := os.Args[1:]
	preSet := flag.NewFlagSet("heatppm-pre", flag.ContinueOnError)
	preSet.SetOutput(nullWriter{})
	preSet.String("C", "", "")
	_ = preSet.Parse(preArgs)
	if v := preSet.Lookup("C"); v != nil && v.Value.String() != "" {
		if err := config.LoadYAMLOverlay(v.Value.String(), &cfg); err != nil {
			os.Stderr.WriteString("heatppm: " + err.Error() + "\n")
			os.Exit(1)
		}
	}

	flag.StringVar(&cfg.SensorPath, "t", cfg.SensorPath, "temperature sensor file (required)")
	flag.Int64Var(&cfg.Wait, "w", cfg.Wait, "tracking-update stability count, 4..16")
	flag.Int64Var(&cfg.MaxTempC, "l", cfg.MaxTempC, "maximum plateau temperature in whole degrees C, 30..99")
	flag.Int64Var(&cfg.MinSkewPPB, "m", cfg.MinSkewPPB, "minimum acceptable skew, 1..100")
	flag.BoolVar(&cfg.Relaxed, "r", cfg.Relaxed, "accept plateaus within +/-0.1ms instead of exactly")
	flag.StringVar(&cfg.MetricsAddr, "M", cfg.MetricsAddr, "expose Prometheus metrics on ADDR")
	flag.StringVar(&cfg.NTPServer, "n-server", cfg.NTPServer, "optional diagnostic NTP server for comparison")
	flag.String("C", "", "optional YAML defaults file (already applied above)")
	flag.Parse()

	if err := config.ValidateHeat(&cfg); err != nil {
		os.Stderr.WriteString("heatppm: " + err.Error() + "\n")
		usage()
		os.Exit(1)
	}

	if err := logger.InitLogger(logger.Config{
		Level:     "info",
		Output:    "stdout",
		Component: "heatppm",
	}); err != nil {
		os.Stderr.WriteString("heatppm: failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Startup(version, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.SafeInfo("main", "received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	qos, err := pmqos.Open()
	if err != nil {
		logger.Fatal("main", "failed to open pm qos handle", err)
	}
	defer qos.Close()

	pwm := heat.NewPWMGenerator(qos)
	go func() {
		// Scheduling policy is per OS thread: keep the PWM goroutine on
		// one thread and raise that thread to SCHED_RR.
		runtime.LockOSThread()
		if err := rtsched.SetMaxRealtimePriority(); err != nil {
			logger.Error("main", "failed to set realtime priority for pwm, continuing at default priority", err)
		}
		if err := pwm.Run(ctx); err != nil {
			logger.Fatal("main", "pwm generator exited", err)
		}
	}()

	sensor := heat.NewSensorReader(cfg.SensorPath)
	tracker := chronysim.NewTracker(chronysim.DefaultCircuitBreakerConfig())

	var metrics *telemetry.HeatMetrics
	if cfg.MetricsAddr != "" {
		metrics = telemetry.NewHeatMetrics()
		srv := telemetry.NewServer(cfg.MetricsAddr, metrics)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("main", "metrics server exited", err)
			}
		}()
	}

	var diag *ntpdiag.Sampler
	if cfg.NTPServer != "" {
		diag = ntpdiag.NewSampler(cfg.NTPServer, 5*time.Second)
	}

	controller := heat.NewController(heat.Config{
		Wait:       cfg.Wait,
		MaxTempC:   cfg.MaxTempC,
		MinSkewPPB: cfg.MinSkewPPB,
		Relaxed:    cfg.Relaxed,
	}, sensor, tracker, pwm)

	heat.WaitForHalfSecond(ctx, time.Now, time.Sleep)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

runLoop:
	for {
		select {
		case <-ctx.Done():
			break runLoop

		case <-ticker.C:
			temp, err := sensor.Read()
			if err != nil {
				logger.Error("main", "sensor read failed", err)
				continue
			}

			sample, err := tracker.Query(ctx)
			if err != nil {
				logger.SafeWarn("main", "chronyc tracking query failed", map[string]interface{}{"error": err.Error()})
				if metrics != nil {
					metrics.TrackingFailures.Inc()
				}
				continue
			}

			outcome := controller.Tick(temp, sample)
			if !outcome.Ready {
				heat.WriteWaitingLine(os.Stdout)
				continue
			}

			if outcome.LockedRecord != nil {
				heat.WritePlateauRecord(os.Stdout, *outcome.LockedRecord)
				if metrics != nil {
					metrics.PlateausTotal.Inc()
				}
			}

			heat.WriteStatusLine(os.Stdout, outcome.Status)

			if metrics != nil {
				metrics.AvgTempMillideg.Set(outcome.Status.AvgMillidegrees)
				metrics.TargetTempMillideg.Set(float64(outcome.Status.Target))
			}

			if outcome.Accepted {
				heat.WritePlateauRecord(os.Stdout, outcome.Record)
				if metrics != nil {
					metrics.PlateausTotal.Inc()
				}
				if diag != nil {
					if s, err := diag.Query(ctx); err == nil {
						logger.SafeInfo("main", "ntp diagnostic sample", map[string]interface{}{
							"offset_seconds": s.Offset.Seconds(),
							"server":         s.Server,
						})
					}
				}
			}

			if outcome.Terminate {
				logger.SafeInfo("main", "terminating", map[string]interface{}{"reason": outcome.TermReason})
				break runLoop
			}
		}
	}

	heat.Close(os.Stdout)
	logger.Shutdown("control loop finished")
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }
