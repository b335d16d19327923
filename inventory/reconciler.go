package inventory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/model"
)

// Status is the reconciler view served by the monitoring endpoint.
type Status struct {
	DeviceCount   int       `json:"device_count"`
	Signature     string    `json:"signature"`
	LastCheck     time.Time `json:"last_check"`
	LastReload    time.Time `json:"last_reload"`
	CheckInterval int       `json:"check_interval_seconds"`
	ReloadCount   int       `json:"reload_count"`
}

// Reconciler caches the device set and refreshes it from the store when
// the check cadence elapses and the content signature changed.
type Reconciler struct {
	store    *Store
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu          sync.RWMutex
	devices     []model.Device
	signature   string
	lastCheck   time.Time
	lastReload  time.Time
	reloadCount int
}

// NewReconciler returns a reconciler with an empty device set; call
// Refresh with force=true to populate it at startup.
func NewReconciler(store *Store, interval time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, interval: interval, log: log, now: time.Now}
}

// Devices returns the cached device set.
func (r *Reconciler) Devices() []model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// ActiveAddrs returns the cached device addresses as a set.
func (r *Reconciler) ActiveAddrs() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := make(map[string]bool, len(r.devices))
	for _, d := range r.devices {
		addrs[d.IP] = true
	}
	return addrs
}

// Refresh reloads the device set when forced or when the check cadence
// has elapsed and the inventory signature changed. It reports whether
// the cached set was replaced.
func (r *Reconciler) Refresh(ctx context.Context, force bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !force && !r.lastCheck.IsZero() && now.Sub(r.lastCheck) < r.interval {
		return false, nil
	}
	r.lastCheck = now

	devices, err := r.store.Devices(ctx)
	if err != nil {
		return false, fmt.Errorf("refresh inventory: %w", err)
	}

	sig := Signature(devices)
	if !force && sig == r.signature {
		return false, nil
	}

	prev := len(r.devices)
	r.devices = devices
	r.signature = sig
	r.lastReload = now
	r.reloadCount++
	r.log.Info("inventory reloaded",
		zap.Int("devices", len(devices)),
		zap.Int("previous", prev),
		zap.String("signature", sig))
	return true, nil
}

// Status returns the reconciler's bookkeeping for the API.
func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		DeviceCount:   len(r.devices),
		Signature:     r.signature,
		LastCheck:     r.lastCheck,
		LastReload:    r.lastReload,
		CheckInterval: int(r.interval.Seconds()),
		ReloadCount:   r.reloadCount,
	}
}

// Signature hashes the identity of a device set. Any change to an id,
// address, hostname, or condition changes the hash.
func Signature(devices []model.Device) string {
	parts := make([]string, len(devices))
	for i, d := range devices {
		parts[i] = fmt.Sprintf("%d:%s:%s:%s", d.ID, d.IP, d.Hostname, d.Kondisi)
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
