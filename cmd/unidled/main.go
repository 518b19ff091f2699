// Command unidled locks CPU idle-state policy to an external PPS
// timing source, running a four-phase nanosecond duty cycle anchored
// to each 1PPS rising edge. See spec.md §1 and §4.4-4.7.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/maximewewer/thermopps/internal/config"
	"github.com/maximewewer/thermopps/internal/idle"
	"github.com/maximewewer/thermopps/internal/rtsched"
	"github.com/maximewewer/thermopps/internal/telemetry"
	"github.com/maximewewer/thermopps/pkg/logger"
)

var version = "dev"

const daemonizedSentinel = "UNIDLED_DAEMONIZED"

func usage() {
	fmt.Fprintf(os.Stderr, `unidled -d device [options]

  -d DEV        pps source device path, matched against /sys/class/pps/*/path (required)
  -c CORE       cpu core to pin and apply single-core policy to, 0..1023 (default 0)
  -r PRIO       SCHED_RR realtime priority, 1..99 (default 1)
  -t LAT_US     cpuidle exit-latency threshold in microseconds, 1..1000 (default 50)
  -P POF_MS     post-edge full idle-forbid duration in ms, 1..1000 (default 1)
  -p PRF_MS     pre-edge full idle-forbid phase duration in ms, 0..1000 (default 1)
  -l PRH_MS     deep-disable phase duration in ms, 0..1000 (default 0)
  -L POH_MS     initial high-latency phase duration in ms, 0..1000 (default 0)
  -a            apply policy across all CPUs via PM QoS instead of single-core cpuidle
  -f PATH       pid file path (default /run/unidled.pid)
  -n            run in the foreground; do not daemonize
  -C PATH       optional YAML defaults file
  -M ADDR       expose Prometheus metrics on ADDR (e.g. 127.0.0.1:9109)
  -h            show this help
`)
}

func main() {
	cfg := config.DefaultIdleConfig()

	flag.Usage = usage
	preSet := flag.NewFlagSet("unidled-pre", flag.ContinueOnError)
	preSet.SetOutput(nullWriter{})
	preSet.String("C", "", "")
	_ = preSet.Parse(os.Args[1:])
	if v := preSet.Lookup("C"); v != nil && v.Value.String() != "" {
		if err := config.LoadYAMLOverlay(v.Value.String(), &cfg); err != nil {
			os.Stderr.WriteString("unidled: " + err.Error() + "\n")
			os.Exit(1)
		}
	}

	flag.StringVar(&cfg.Device, "d", cfg.Device, "pps source device path (required)")
	flag.IntVar(&cfg.Core, "c", cfg.Core, "cpu core to pin, 0..1023")
	flag.IntVar(&cfg.Priority, "r", cfg.Priority, "SCHED_RR realtime priority, 1..99")
	flag.Int64Var(&cfg.LatencyUS, "t", cfg.LatencyUS, "cpuidle exit-latency threshold in microseconds")
	flag.Int64Var(&cfg.PofMS, "P", cfg.PofMS, "post-edge full idle-forbid duration in ms")
	flag.Int64Var(&cfg.PrfMS, "p", cfg.PrfMS, "pre-edge full idle-forbid phase duration in ms")
	flag.Int64Var(&cfg.PrhMS, "l", cfg.PrhMS, "deep-disable phase duration in ms")
	flag.Int64Var(&cfg.PohMS, "L", cfg.PohMS, "initial high-latency phase duration in ms")
	flag.BoolVar(&cfg.All, "a", cfg.All, "apply policy across all CPUs via PM QoS")
	flag.StringVar(&cfg.PIDFile, "f", cfg.PIDFile, "pid file path")
	flag.BoolVar(&cfg.Foreground, "n", cfg.Foreground, "run in the foreground; do not daemonize")
	flag.StringVar(&cfg.MetricsAddr, "M", cfg.MetricsAddr, "expose Prometheus metrics on ADDR")
	flag.String("C", "", "optional YAML defaults file (already applied above)")
	flag.Parse()

	if err := config.ValidateIdle(&cfg); err != nil {
		os.Stderr.WriteString("unidled: " + err.Error() + "\n")
		usage()
		os.Exit(1)
	}

	if !cfg.Foreground && os.Getenv(daemonizedSentinel) != "1" {
		if err := daemonize(); err != nil {
			os.Stderr.WriteString("unidled: daemonize: " + err.Error() + "\n")
			os.Exit(1)
		}
		return
	}

	if err := logger.InitLogger(logger.Config{
		Level:     "info",
		Output:    "stdout",
		Component: "unidled",
	}); err != nil {
		os.Stderr.WriteString("unidled: failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Startup(version, cfg)

	if !cfg.Foreground {
		if err := os.WriteFile(cfg.PIDFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
			logger.Fatal("main", "failed to write pid file", err)
		}
		defer os.Remove(cfg.PIDFile)
	}

	if err := rtsched.PinToCPU(cfg.Core); err != nil {
		logger.Error("main", "failed to pin cpu affinity, continuing unpinned", err)
	}
	if err := rtsched.SetRealtimePriority(cfg.Priority); err != nil {
		logger.Error("main", "failed to set realtime priority, continuing at default priority", err)
	}
	if err := rtsched.LockMemory(); err != nil {
		logger.Error("main", "failed to lock memory, continuing without mlockall", err)
	}

	mgr := idle.NewManager("", cfg.Core, cfg.All, cfg.LatencyUS)
	if !cfg.All {
		if err := mgr.BuildList(); err != nil {
			logger.Fatal("main", "failed to discover cpuidle states", err)
		}
		if err := mgr.GetLimit(); err != nil {
			logger.Fatal("main", "failed to compute latency threshold boundary", err)
		}
	}
	if err := mgr.OpenIdle(); err != nil {
		logger.Fatal("main", "failed to open idle state handles", err)
	}
	defer mgr.CloseIdle()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		logger.SafeInfo("main", "received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	binding, err := idle.OpenBindingWithRetry(ctx, cfg.Device)
	if err != nil {
		logger.Fatal("main", "failed to bind pps source", err)
	}
	defer binding.Close()

	pofNS := cfg.PofMS * 1_000_000
	prfNS := cfg.PrfMS * 1_000_000
	prhNS := cfg.PrhMS * 1_000_000
	pohNS := cfg.PohMS * 1_000_000
	prlNS := 1_000_000_000 - pofNS - pohNS - prhNS - prfNS

	phases := idle.NewPhaseMachine(mgr, pohNS, prlNS, prhNS, prfNS)
	if err := phases.Validate(); err != nil {
		logger.Fatal("main", "invalid phase configuration", err)
	}

	loop := idle.NewLoop(binding, mgr, phases, pofNS)

	if cfg.MetricsAddr != "" {
		metrics := telemetry.NewIdleMetrics()
		loop.SetMetrics(metrics)
		srv := telemetry.NewServer(cfg.MetricsAddr, metrics)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("main", "metrics server exited", err)
			}
		}()
	}

	if err := loop.Run(ctx); err != nil {
		logger.Fatal("main", "control loop exited with error", err)
	}

	logger.Shutdown("control loop finished")
}

// daemonize replaces the original daemon(3) double-fork with a single
// self re-exec: Go's runtime forbids forking a multi-threaded process
// safely, so the parent instead starts a fresh copy of itself in a new
// session (SysProcAttr.Setsid) with stdio redirected to /dev/null and
// an environment sentinel so the child skips this step, then exits.
// The child runs as a session leader with no controlling tty, as after
// the original's daemon(0,0) call. The parent does not wait for the
// child: the pid file is written by the child after it starts, so it
// may not exist yet when the parent returns.
func daemonize() error {
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open /dev/null: %w", err)
	}
	defer devnull.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedSentinel+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemonized child: %w", err)
	}
	return nil
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }
