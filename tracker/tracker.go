// Package tracker maintains the consecutive-failure ledger. Every cycle
// feeds it the batch of probe results; it increments counters for
// failing devices, clears recovered ones, and preserves entries for
// devices that did not appear in the batch. Crossing the alert threshold
// fires exactly one alert per outage, deduplicated through a separate
// alerted-devices ledger until the device recovers.
package tracker

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/csvutil"
	"github.com/ftahirops/pingmon/model"
)

const (
	trackingFile = "timeout_tracking.csv"
	alertedFile  = "alerted_ips.csv"

	timeLayout = "2006-01-02 15:04:05"
)

var (
	trackingHeader = []string{
		"ip_address", "hostname", "device_id", "merk", "os", "kondisi",
		"consecutive_timeouts", "first_timeout", "last_timeout", "last_updated",
	}
	alertedHeader = []string{"ip_address", "hostname", "device_id"}
)

// Entry is one device's failure streak. Timestamps stay as the strings
// read from disk so untouched entries round-trip byte for byte.
type Entry struct {
	IP           string `json:"ip_address"`
	Hostname     string `json:"hostname"`
	DeviceID     int64  `json:"device_id"`
	Merk         string `json:"merk"`
	OS           string `json:"os"`
	Kondisi      string `json:"kondisi"`
	Count        int    `json:"consecutive_timeouts"`
	FirstTimeout string `json:"first_timeout"`
	LastTimeout  string `json:"last_timeout"`
	LastUpdated  string `json:"last_updated"`
}

// Summary is the aggregate view served by the API.
type Summary struct {
	TotalTracked   int    `json:"total_tracked"`
	CriticalCount  int    `json:"critical_count"`
	AlertThreshold int    `json:"alert_threshold"`
	MaxStreak      int    `json:"max_consecutive_timeouts"`
	LastUpdated    string `json:"last_updated,omitempty"`
}

// Tracker owns the failure and alerted ledgers for one output directory.
type Tracker struct {
	mu        sync.Mutex
	dir       string
	threshold int
	log       *zap.Logger
	now       func() time.Time

	entries map[string]Entry // keyed by IP
	alerted map[string]Entry
}

// New loads both ledgers from dir, starting empty when absent.
func New(dir string, threshold int, log *zap.Logger) (*Tracker, error) {
	t := &Tracker{
		dir:       dir,
		threshold: threshold,
		log:       log,
		now:       time.Now,
		entries:   make(map[string]Entry),
		alerted:   make(map[string]Entry),
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// Update applies one batch of probe results and persists both ledgers.
// edges are the devices at or past the alert threshold that have no
// open alert yet; they are NOT added to the alert ledger here. The
// caller confirms them with CommitAlerts once the alert is delivered,
// so a failed delivery re-surfaces the edge next cycle. recoveries are
// alerted devices that answered again. Devices absent from the batch
// keep their entries untouched.
func (t *Tracker) Update(results []model.ProbeResult) (edges, recoveries []Entry, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().Format(timeLayout)
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if seen[r.IPAddress] {
			t.log.Warn("duplicate address in batch, keeping first result",
				zap.String("ip", r.IPAddress))
			continue
		}
		seen[r.IPAddress] = true

		if r.Success {
			prior, tracked := t.entries[r.IPAddress]
			if !tracked {
				continue
			}
			delete(t.entries, r.IPAddress)
			if _, wasAlerted := t.alerted[r.IPAddress]; wasAlerted {
				delete(t.alerted, r.IPAddress)
				if prior.Count >= t.threshold {
					recoveries = append(recoveries, prior)
				} else {
					t.log.Warn("alert ledger entry below threshold, dropping",
						zap.String("ip", r.IPAddress),
						zap.Int("streak", prior.Count))
				}
			}
			t.log.Info("device recovered",
				zap.String("ip", r.IPAddress),
				zap.Int("streak", prior.Count))
			continue
		}

		e, ok := t.entries[r.IPAddress]
		if !ok {
			e = Entry{IP: r.IPAddress, FirstTimeout: now}
		}
		e.Count++
		e.LastTimeout = now
		e.LastUpdated = now
		// Refresh identity fields; the inventory may have been edited
		// mid-outage.
		e.Hostname = r.Hostname
		e.DeviceID = r.DeviceID
		e.Merk = r.Merk
		e.OS = r.OS
		e.Kondisi = r.Kondisi
		t.entries[r.IPAddress] = e

		if e.Count >= t.threshold {
			if _, already := t.alerted[e.IP]; !already {
				edges = append(edges, e)
				t.log.Warn("device crossed alert threshold",
					zap.String("ip", e.IP),
					zap.String("hostname", e.Hostname),
					zap.Int("streak", e.Count))
			}
		}
	}

	t.verifyLocked()
	if err := t.persist(); err != nil {
		return nil, nil, err
	}
	return edges, recoveries, nil
}

// CommitAlerts records delivered alerts in the alert ledger.
func (t *Tracker) CommitAlerts(delivered []Entry) error {
	if len(delivered) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range delivered {
		t.alerted[e.IP] = e
	}
	return t.persist()
}

// verifyLocked checks the ledger invariant: every open alert must have
// a tracked entry.
func (t *Tracker) verifyLocked() {
	for ip := range t.alerted {
		if _, ok := t.entries[ip]; !ok {
			t.log.Warn("alert ledger entry without tracked streak, dropping",
				zap.String("ip", ip))
			delete(t.alerted, ip)
		}
	}
}

// Entries returns all tracked devices, longest streak first.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked()
}

// Critical returns tracked devices at or past the alert threshold.
func (t *Tracker) Critical() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Entry
	for _, e := range t.sortedLocked() {
		if e.Count >= t.threshold {
			out = append(out, e)
		}
	}
	return out
}

// Tracked reports whether ip has an open failure streak.
func (t *Tracker) Tracked(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[ip]
	return ok
}

// Alerted reports whether an alert is currently open for ip.
func (t *Tracker) Alerted(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.alerted[ip]
	return ok
}

// Summarize returns the aggregate ledger view.
func (t *Tracker) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		TotalTracked:   len(t.entries),
		AlertThreshold: t.threshold,
	}
	for _, e := range t.entries {
		if e.Count >= t.threshold {
			s.CriticalCount++
		}
		if e.Count > s.MaxStreak {
			s.MaxStreak = e.Count
		}
		if e.LastUpdated > s.LastUpdated {
			s.LastUpdated = e.LastUpdated
		}
	}
	return s
}

// Reset clears both ledgers and removes their files' contents.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]Entry)
	t.alerted = make(map[string]Entry)
	t.log.Info("failure ledgers reset")
	return t.persist()
}

// Threshold returns the configured alert threshold.
func (t *Tracker) Threshold() int { return t.threshold }

func (t *Tracker) sortedLocked() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IP < out[j].IP
	})
	return out
}

func (t *Tracker) load() error {
	_, rows, err := csvutil.ReadTable(t.trackingPath(), t.log)
	if err != nil {
		return fmt.Errorf("load failure ledger: %w", err)
	}
	for _, row := range rows {
		e, err := decodeEntry(row)
		if err != nil {
			t.log.Warn("skipping malformed ledger row", zap.Error(err))
			continue
		}
		t.entries[e.IP] = e
	}

	_, rows, err = csvutil.ReadTable(t.alertedPath(), t.log)
	if err != nil {
		return fmt.Errorf("load alerted ledger: %w", err)
	}
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		id, _ := strconv.ParseInt(row[2], 10, 64)
		t.alerted[row[0]] = Entry{IP: row[0], Hostname: row[1], DeviceID: id}
	}
	return nil
}

func (t *Tracker) persist() error {
	unlock, err := csvutil.Lock(t.trackingPath())
	if err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	defer unlock()

	rows := make([][]string, 0, len(t.entries))
	for _, e := range t.sortedLocked() {
		rows = append(rows, encodeEntry(e))
	}
	if err := csvutil.WriteAtomic(t.trackingPath(), trackingHeader, rows); err != nil {
		return fmt.Errorf("persist failure ledger: %w", err)
	}

	arows := make([][]string, 0, len(t.alerted))
	ips := make([]string, 0, len(t.alerted))
	for ip := range t.alerted {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	for _, ip := range ips {
		e := t.alerted[ip]
		arows = append(arows, []string{e.IP, e.Hostname, strconv.FormatInt(e.DeviceID, 10)})
	}
	if err := csvutil.WriteAtomic(t.alertedPath(), alertedHeader, arows); err != nil {
		return fmt.Errorf("persist alerted ledger: %w", err)
	}
	return nil
}

func (t *Tracker) trackingPath() string { return filepath.Join(t.dir, trackingFile) }
func (t *Tracker) alertedPath() string  { return filepath.Join(t.dir, alertedFile) }

func encodeEntry(e Entry) []string {
	return []string{
		e.IP, e.Hostname, strconv.FormatInt(e.DeviceID, 10),
		e.Merk, e.OS, e.Kondisi,
		strconv.Itoa(e.Count), e.FirstTimeout, e.LastTimeout, e.LastUpdated,
	}
}

func decodeEntry(row []string) (Entry, error) {
	if len(row) < len(trackingHeader) {
		return Entry{}, fmt.Errorf("short row: %d fields", len(row))
	}
	id, err := strconv.ParseInt(row[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad device id %q: %w", row[2], err)
	}
	count, err := strconv.Atoi(row[6])
	if err != nil {
		return Entry{}, fmt.Errorf("bad count %q: %w", row[6], err)
	}
	return Entry{
		IP: row[0], Hostname: row[1], DeviceID: id,
		Merk: row[3], OS: row[4], Kondisi: row[5],
		Count: count, FirstTimeout: row[7], LastTimeout: row[8], LastUpdated: row[9],
	}, nil
}
