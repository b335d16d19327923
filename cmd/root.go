// Package cmd wires the monitoring service together: configuration,
// logging, database, engine, HTTP API, and signal handling.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ftahirops/pingmon/analytics"
	"github.com/ftahirops/pingmon/config"
	"github.com/ftahirops/pingmon/engine"
	"github.com/ftahirops/pingmon/incident"
	"github.com/ftahirops/pingmon/inventory"
	"github.com/ftahirops/pingmon/notify"
	"github.com/ftahirops/pingmon/prober"
	"github.com/ftahirops/pingmon/server"
	"github.com/ftahirops/pingmon/shiftreport"
	"github.com/ftahirops/pingmon/snapshot"
	"github.com/ftahirops/pingmon/tracker"
)

// Version is set at build time via ldflags.
var Version = "1.0.0"

func printUsage() {
	fmt.Fprintf(os.Stderr, `pingmon v%s — ICMP fleet monitoring service

Usage:
  pingmon [OPTIONS]

The service probes every probeable inventory device on a fixed
interval, tracks consecutive failures, alerts the operations group over
WhatsApp, and escalates long outages into incidents. Configuration
comes from the environment (.env contract) and can be overridden with
the flags below.

Options:
  -listen ADDR      HTTP API listen address (default: :5000)
  -interval N       Probe cycle interval in seconds (default: 5)
  -timeout N        Per-probe timeout in seconds (default: 3)
  -workers N        Max concurrent probes (default: 20)
  -output DIR       CSV output directory (default: ping_results)
  -threshold N      Consecutive timeouts before alerting (default: 20)
  -no-loop          Start with the monitoring loop stopped
  -debug            Verbose logging
  -version          Print version and exit
`, Version)
}

// Run parses flags and starts the service.
func Run() error {
	cfg := config.FromEnv()

	var noLoop, debug, showVersion bool
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP API listen address")
	flag.IntVar(&cfg.PingIntervalSec, "interval", cfg.PingIntervalSec, "Probe cycle interval in seconds")
	flag.IntVar(&cfg.PingTimeoutSec, "timeout", cfg.PingTimeoutSec, "Per-probe timeout in seconds")
	flag.IntVar(&cfg.MaxPingWorkers, "workers", cfg.MaxPingWorkers, "Max concurrent probes")
	flag.StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "CSV output directory")
	flag.IntVar(&cfg.AlertThreshold, "threshold", cfg.AlertThreshold, "Consecutive timeouts before alerting")
	flag.BoolVar(&noLoop, "no-loop", false, "Start with the monitoring loop stopped")
	flag.BoolVar(&debug, "debug", false, "Verbose logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if showVersion {
		fmt.Printf("pingmon v%s\n", Version)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := buildLogger(debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	log.Info("pingmon starting",
		zap.String("version", Version),
		zap.Int("interval_sec", cfg.PingIntervalSec),
		zap.Int("workers", cfg.MaxPingWorkers),
		zap.String("output_dir", cfg.OutputDir))

	db, err := inventory.Connect(cfg.DSN(), log)
	if err != nil {
		return err
	}
	defer db.Close()

	recon := inventory.NewReconciler(inventory.NewStore(db), cfg.DeviceCheckPeriod(), log)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := recon.Refresh(ctx, true); err != nil {
		return fmt.Errorf("initial inventory load: %w", err)
	}

	trk, err := tracker.New(cfg.OutputDir, cfg.AlertThreshold, log)
	if err != nil {
		return err
	}

	inc, err := incident.New(db, cfg.OutputDir, cfg.IncidentBucket,
		time.Duration(cfg.IncidentThresholdMinutes)*time.Minute, log)
	if err != nil {
		return err
	}

	wa := notify.NewClient(cfg.WatzapBaseURL, cfg.WatzapAPIKey,
		cfg.WatzapNumberKey, cfg.WatzapGroupID, log)
	if !wa.Configured() {
		log.Warn("watzap not configured, notifications disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	snap := snapshot.New(cfg.OutputDir, log)
	ana := analytics.New(cfg.OutputDir, log)
	batch := &prober.Batch{
		Prober:  prober.New(cfg.PingTimeout(), log),
		Workers: int64(cfg.MaxPingWorkers),
		Log:     log,
	}
	eng := engine.New(cfg, log, recon, batch, snap, trk, ana, inc, wa,
		engine.NewMetrics(reg))

	if cfg.EnableShiftReport {
		sender := wa
		if cfg.ShiftReportGroup != "" {
			sender = notify.NewClient(cfg.WatzapBaseURL, cfg.WatzapAPIKey,
				cfg.WatzapNumberKey, cfg.ShiftReportGroup, log)
		}
		rep := shiftreport.New(db, sender, log)
		if err := rep.Start(); err != nil {
			return err
		}
		defer rep.Stop()
	}

	if !noLoop {
		if err := eng.Start(ctx); err != nil {
			return err
		}
		defer eng.Stop()
	}

	api := server.New(eng, snap, trk, ana, recon, inc, log)
	return api.Serve(ctx, cfg.ListenAddr, api.Router(reg))
}

func buildLogger(debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapTimeEncoder
	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zcfg.Build()
}

func zapTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05"))
}
