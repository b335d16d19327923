// Package incident escalates long outages into the asset system's
// incident table. A device whose alert has been open past the incident
// threshold gets exactly one incident per outage, recorded both in the
// database and in a local tracking file that survives restarts.
package incident

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/csvutil"
	"github.com/ftahirops/pingmon/tracker"
)

const (
	trackingFile = "incident_tracking.csv"
	timeLayout   = "2006-01-02 15:04:05"
)

var trackingHeader = []string{
	"ip_address", "hostname", "device_id", "alert_time",
	"incident_id", "incident_created_at", "device_type",
}

const insertIncident = `
INSERT INTO insidens
	(deskripsi, tanggal, lokasi, latitude, longitude, foto, status,
	 bagian_perusahaan, ditugaskan_kepada, catatan_petugas, created_at, updated_at)
VALUES (?, ?, ?, NULL, NULL, NULL, 'new', ?, NULL, NULL, ?, ?)`

// Record is one escalated outage.
type Record struct {
	IP                string `json:"ip_address"`
	Hostname          string `json:"hostname"`
	DeviceID          int64  `json:"device_id"`
	AlertTime         string `json:"alert_time"`
	IncidentID        int64  `json:"incident_id"`
	IncidentCreatedAt string `json:"incident_created_at"`
	DeviceType        string `json:"device_type"`
}

// Manager creates incidents and owns the tracking file.
type Manager struct {
	db        *sqlx.DB
	dir       string
	bucket    string
	threshold time.Duration
	log       *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	tracked map[string]Record // keyed by IP
}

// New loads the tracking file from dir. bucket is the bagian_perusahaan
// value stamped on created incidents.
func New(db *sqlx.DB, dir, bucket string, threshold time.Duration, log *zap.Logger) (*Manager, error) {
	m := &Manager{
		db:        db,
		dir:       dir,
		bucket:    bucket,
		threshold: threshold,
		log:       log,
		now:       time.Now,
		tracked:   make(map[string]Record),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Escalate creates incidents for alerted devices whose outage has
// lasted at least the threshold and that have no open incident yet.
// It returns the records created in this call.
func (m *Manager) Escalate(ctx context.Context, alerted []tracker.Entry) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var created []Record
	for _, e := range alerted {
		if _, open := m.tracked[e.IP]; open {
			continue
		}
		since, err := time.ParseInLocation(timeLayout, e.FirstTimeout, time.Local)
		if err != nil {
			m.log.Warn("skipping escalation, unparseable first timeout",
				zap.String("ip", e.IP), zap.String("first_timeout", e.FirstTimeout))
			continue
		}
		if now.Sub(since) < m.threshold {
			continue
		}

		id, err := m.createIncident(ctx, e, since, now)
		if err != nil {
			m.log.Error("incident creation failed",
				zap.String("ip", e.IP), zap.Error(err))
			continue
		}

		rec := Record{
			IP:                e.IP,
			Hostname:          e.Hostname,
			DeviceID:          e.DeviceID,
			AlertTime:         e.FirstTimeout,
			IncidentID:        id,
			IncidentCreatedAt: now.Format(timeLayout),
			DeviceType:        deviceType(e),
		}
		m.tracked[e.IP] = rec
		created = append(created, rec)
		m.log.Info("incident created",
			zap.String("ip", e.IP),
			zap.String("hostname", e.Hostname),
			zap.Int64("incident_id", id))
	}

	if len(created) > 0 {
		if err := m.persistLocked(); err != nil {
			return created, err
		}
	}
	return created, nil
}

// CleanupResolved drops tracking rows for devices that no longer have an
// open alert and returns how many were removed.
func (m *Manager) CleanupResolved(alerted func(ip string) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for ip := range m.tracked {
		if !alerted(ip) {
			delete(m.tracked, ip)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	m.log.Info("cleared resolved incident tracking", zap.Int("count", removed))
	return removed, m.persistLocked()
}

// Records returns the open escalations sorted by IP.
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.tracked))
	for _, r := range m.tracked {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

func (m *Manager) createIncident(ctx context.Context, e tracker.Entry, since, now time.Time) (int64, error) {
	desc := fmt.Sprintf(
		"Perangkat tidak merespon ping lebih dari %d menit.\n"+
			"Hostname: %s\nIP Address: %s\nMerk: %s\nOS: %s\n"+
			"Timeout berturut-turut: %d kali\nDown sejak: %s",
		int(m.threshold.Minutes()),
		hostnameOr(e.Hostname, e.IP), e.IP, e.Merk, e.OS,
		e.Count, since.Format(timeLayout))

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin incident tx: %w", err)
	}

	stamp := now.Format(timeLayout)
	res, err := tx.ExecContext(ctx, insertIncident,
		desc, stamp, hostnameOr(e.Hostname, e.IP), m.bucket, stamp, stamp)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("insert incident: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("incident id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit incident: %w", err)
	}
	return id, nil
}

func (m *Manager) load() error {
	_, rows, err := csvutil.ReadTable(m.path(), m.log)
	if err != nil {
		return fmt.Errorf("load incident tracking: %w", err)
	}
	for _, row := range rows {
		if len(row) < len(trackingHeader) {
			continue
		}
		devID, _ := strconv.ParseInt(row[2], 10, 64)
		incID, _ := strconv.ParseInt(row[4], 10, 64)
		m.tracked[row[0]] = Record{
			IP: row[0], Hostname: row[1], DeviceID: devID,
			AlertTime: row[3], IncidentID: incID,
			IncidentCreatedAt: row[5], DeviceType: row[6],
		}
	}
	return nil
}

func (m *Manager) persistLocked() error {
	ips := make([]string, 0, len(m.tracked))
	for ip := range m.tracked {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	rows := make([][]string, 0, len(ips))
	for _, ip := range ips {
		r := m.tracked[ip]
		rows = append(rows, []string{
			r.IP, r.Hostname, strconv.FormatInt(r.DeviceID, 10),
			r.AlertTime, strconv.FormatInt(r.IncidentID, 10),
			r.IncidentCreatedAt, r.DeviceType,
		})
	}
	if err := csvutil.WriteAtomic(m.path(), trackingHeader, rows); err != nil {
		return fmt.Errorf("persist incident tracking: %w", err)
	}
	return nil
}

func (m *Manager) path() string { return filepath.Join(m.dir, trackingFile) }

func deviceType(e tracker.Entry) string {
	if e.Merk != "" {
		return e.Merk
	}
	return "network"
}

func hostnameOr(hostname, fallback string) string {
	if hostname != "" {
		return hostname
	}
	return fallback
}
