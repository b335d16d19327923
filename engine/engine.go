// Package engine runs the closed monitoring loop: reconcile the device
// set, probe the fleet, publish the snapshot, feed the failure tracker,
// record analytics, and fan alerts out to notifications and incident
// escalation.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/analytics"
	"github.com/ftahirops/pingmon/config"
	"github.com/ftahirops/pingmon/incident"
	"github.com/ftahirops/pingmon/inventory"
	"github.com/ftahirops/pingmon/model"
	"github.com/ftahirops/pingmon/notify"
	"github.com/ftahirops/pingmon/prober"
	"github.com/ftahirops/pingmon/snapshot"
	"github.com/ftahirops/pingmon/tracker"
)

// ErrCycleInProgress is returned when a cycle is requested while the
// previous one is still running.
var ErrCycleInProgress = errors.New("probe cycle already in progress")

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("monitoring loop already running")

// ErrNotRunning is returned by Stop when the loop is idle.
var ErrNotRunning = errors.New("monitoring loop not running")

const retentionDays = 30

// Sender delivers one group message.
type Sender interface {
	SendGroupMessage(ctx context.Context, message string) error
}

// Status is the service view for the status endpoint.
type Status struct {
	Running           bool      `json:"running"`
	CycleCount        int64     `json:"cycle_count"`
	LastCycleAt       time.Time `json:"last_cycle_at"`
	LastCycleDuration float64   `json:"last_cycle_duration_seconds"`
	LastError         string    `json:"last_error,omitempty"`
	IntervalSec       int       `json:"interval_seconds"`
	DeviceCount       int       `json:"device_count"`
}

// Engine owns the periodic monitoring loop and the single-flight cycle.
type Engine struct {
	cfg     config.Config
	log     *zap.Logger
	recon   *inventory.Reconciler
	batch   *prober.Batch
	snap    *snapshot.Store
	trk     *tracker.Tracker
	ana     *analytics.Store
	inc     *incident.Manager
	sender  Sender
	metrics *Metrics
	now     func() time.Time

	running   atomic.Bool
	cycleBusy atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}

	mu             sync.Mutex
	cycleCount     int64
	lastCycleAt    time.Time
	lastDuration   time.Duration
	lastErr        error
	lastCleanupDay string
}

// New wires the engine. inc and sender may be nil; the corresponding
// steps then become no-ops.
func New(cfg config.Config, log *zap.Logger, recon *inventory.Reconciler,
	batch *prober.Batch, snap *snapshot.Store, trk *tracker.Tracker,
	ana *analytics.Store, inc *incident.Manager, sender Sender,
	metrics *Metrics) *Engine {
	return &Engine{
		cfg: cfg, log: log, recon: recon, batch: batch, snap: snap,
		trk: trk, ana: ana, inc: inc, sender: sender, metrics: metrics,
		now: time.Now,
	}
}

// Start launches the periodic loop. The first cycle runs immediately.
func (e *Engine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		e.log.Info("monitoring loop started",
			zap.Duration("interval", e.cfg.PingInterval()))

		ticker := time.NewTicker(e.cfg.PingInterval())
		defer ticker.Stop()

		// Cycles run on a background context: shutdown skips the next
		// cycle rather than interrupting the current one.
		e.cycle(context.Background())
		for {
			select {
			case <-e.stopCh:
				e.log.Info("monitoring loop stopped")
				return
			case <-ctx.Done():
				e.running.Store(false)
				e.log.Info("monitoring loop cancelled")
				return
			case <-ticker.C:
				e.cycle(context.Background())
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for the in-flight cycle to finish.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	close(e.stopCh)
	<-e.done
	return nil
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool { return e.running.Load() }

// cycle wraps RunCycle for the loop: overlap is expected when the fleet
// outgrows the interval, so it only logs.
func (e *Engine) cycle(ctx context.Context) {
	if err := e.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		e.log.Error("probe cycle failed", zap.Error(err))
	}
}

// RunCycle executes one full monitoring cycle. Only one cycle runs at a
// time; concurrent callers get ErrCycleInProgress.
func (e *Engine) RunCycle(ctx context.Context) error {
	if !e.cycleBusy.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer e.cycleBusy.Store(false)

	started := e.now()
	err := e.runCycleLocked(ctx)

	dur := e.now().Sub(started)
	e.mu.Lock()
	e.cycleCount++
	e.lastCycleAt = started
	e.lastDuration = dur
	e.lastErr = err
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.CyclesTotal.Inc()
		e.metrics.CycleDuration.Observe(dur.Seconds())
	}
	if dur > e.cfg.PingInterval() {
		e.log.Warn("cycle overran the interval",
			zap.Duration("duration", dur),
			zap.Duration("interval", e.cfg.PingInterval()))
	}
	return err
}

func (e *Engine) runCycleLocked(ctx context.Context) error {
	if _, err := e.recon.Refresh(ctx, false); err != nil {
		// A stale device set is still probeable; keep going.
		e.log.Warn("inventory refresh failed, using cached set", zap.Error(err))
	}

	devices := e.recon.Devices()
	if len(devices) == 0 {
		e.log.Warn("no probeable devices in inventory, skipping cycle")
		return nil
	}

	results := e.batch.Run(ctx, devices)

	if err := e.snap.Publish(results, e.recon.ActiveAddrs()); err != nil {
		return err
	}

	edges, recoveries, err := e.trk.Update(results)
	if err != nil {
		return err
	}

	now := e.now()
	if len(edges) > 0 {
		// The alert ledger only advances on delivered alerts; a failed
		// delivery leaves the edge to re-fire next cycle.
		if e.deliver(ctx, notify.AlertMessage(edges, now)) {
			if err := e.trk.CommitAlerts(edges); err != nil {
				return err
			}
			if e.metrics != nil {
				e.metrics.AlertsTotal.Add(float64(len(edges)))
			}
		}
	}
	for _, r := range recoveries {
		e.deliver(ctx, notify.RecoveryMessage(r, now))
		if e.metrics != nil {
			e.metrics.Recoveries.Inc()
		}
	}

	if e.inc != nil {
		created, err := e.inc.Escalate(ctx, e.trk.Entries())
		if err != nil {
			e.log.Warn("incident escalation incomplete", zap.Error(err))
		}
		for _, rec := range created {
			e.deliver(ctx, notify.IncidentMessage(rec.Hostname, rec.IP, rec.IncidentID, rec.AlertTime, now))
			if e.metrics != nil {
				e.metrics.Incidents.Inc()
			}
		}
		if _, err := e.inc.CleanupResolved(e.trk.Tracked); err != nil {
			e.log.Warn("incident cleanup failed", zap.Error(err))
		}
	}

	summary := e.trk.Summarize()
	if err := e.ana.Record(summary.TotalTracked); err != nil {
		e.log.Warn("analytics sample lost", zap.Error(err))
	}

	if e.metrics != nil {
		s := model.Stats(results)
		e.metrics.DevicesUp.Set(float64(s.SuccessfulPings))
		e.metrics.DevicesDown.Set(float64(s.FailedPings))
		e.metrics.TrackedTotal.Set(float64(summary.TotalTracked))
	}

	e.cleanupDaily()
	return nil
}

// deliver attempts one delivery and reports success. A nil sender
// counts as delivered so alert edges still commit.
func (e *Engine) deliver(ctx context.Context, message string) bool {
	if e.sender == nil {
		return true
	}
	outcome := "ok"
	delivered := true
	if err := e.sender.SendGroupMessage(ctx, message); err != nil {
		outcome = "failed"
		delivered = false
		e.log.Warn("notification delivery failed", zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.Notifications.WithLabelValues(outcome).Inc()
	}
	return delivered
}

// cleanupDaily removes expired snapshot files once per calendar day.
func (e *Engine) cleanupDaily() {
	day := e.now().Format("2006-01-02")
	e.mu.Lock()
	if e.lastCleanupDay == day {
		e.mu.Unlock()
		return
	}
	e.lastCleanupDay = day
	e.mu.Unlock()

	if _, err := e.snap.CleanupOlderThan(retentionDays); err != nil {
		e.log.Warn("snapshot cleanup failed", zap.Error(err))
	}
}

// TestProbe probes one address outside the cycle for the ad hoc
// endpoint.
func (e *Engine) TestProbe(ctx context.Context, address string) model.ProbeResult {
	ok, rtt, errMsg, method := e.batch.Prober.Probe(ctx, address)
	return model.ProbeResult{
		Timestamp:      e.now(),
		IPAddress:      address,
		Success:        ok,
		ResponseTimeMs: rtt,
		ErrorMessage:   errMsg,
		Method:         method,
	}
}

// Status returns the loop's bookkeeping.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Running:           e.running.Load(),
		CycleCount:        e.cycleCount,
		LastCycleAt:       e.lastCycleAt,
		LastCycleDuration: e.lastDuration.Seconds(),
		IntervalSec:       e.cfg.PingIntervalSec,
		DeviceCount:       len(e.recon.Devices()),
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}
