package prober

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ftahirops/pingmon/model"
)

// Batch fans one probe per device out across a bounded worker pool and
// returns results in the same order as the input slice.
type Batch struct {
	Prober  Prober
	Workers int64
	Log     *zap.Logger
}

// Run probes every device concurrently, at most Workers in flight.
// Every device yields exactly one result; a cancelled context marks the
// remaining devices as failed rather than dropping them.
func (b *Batch) Run(ctx context.Context, devices []model.Device) []model.ProbeResult {
	results := make([]model.ProbeResult, len(devices))
	sem := semaphore.NewWeighted(b.Workers)

	for i, dev := range devices {
		now := time.Now()
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = failedResult(dev, now, "cycle cancelled")
			continue
		}
		go func(i int, dev model.Device) {
			defer sem.Release(1)
			ok, rtt, errMsg, method := b.Prober.Probe(ctx, dev.IP)
			results[i] = model.ProbeResult{
				Timestamp:      time.Now(),
				DeviceID:       dev.ID,
				IPAddress:      dev.IP,
				Hostname:       dev.Hostname,
				Success:        ok,
				ResponseTimeMs: rtt,
				ErrorMessage:   errMsg,
				Merk:           dev.Merk,
				OS:             dev.OS,
				Kondisi:        dev.Kondisi,
				LokasiID:       dev.LokasiID,
				Method:         method,
			}
		}(i, dev)
	}

	// Draining the full weight waits for every in-flight probe.
	if err := sem.Acquire(context.Background(), b.Workers); err == nil {
		sem.Release(b.Workers)
	}

	if b.Log != nil {
		s := model.Stats(results)
		b.Log.Debug("probe batch complete",
			zap.Int("total", s.TotalDevices),
			zap.Int("up", s.SuccessfulPings),
			zap.Int("down", s.FailedPings))
	}
	return results
}

func failedResult(dev model.Device, ts time.Time, msg string) model.ProbeResult {
	return model.ProbeResult{
		Timestamp:    ts,
		DeviceID:     dev.ID,
		IPAddress:    dev.IP,
		Hostname:     dev.Hostname,
		Success:      false,
		ErrorMessage: msg,
		Merk:         dev.Merk,
		OS:           dev.OS,
		Kondisi:      dev.Kondisi,
		LokasiID:     dev.LokasiID,
	}
}
