// Package snapshot persists the latest probe result per device into a
// per-day CSV file. Each publication prunes devices that left the
// inventory, upserts the fresh results, and lands atomically so API
// readers never observe a half-written file.
package snapshot

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/csvutil"
	"github.com/ftahirops/pingmon/model"
)

const (
	filePrefix = "ping_results"

	// A non-trivial existing file combined with an empty result batch
	// indicates a broken probe run, not an empty fleet. Publishing would
	// wipe the day's data, so such batches are rejected.
	safetySizeBytes = 200

	timeLayout = "2006-01-02 15:04:05"
)

var header = []string{
	"timestamp", "device_id", "ip_address", "hostname", "ping_success",
	"response_time_ms", "latency_ms", "error_message", "merk", "os",
	"kondisi", "id_lokasi",
}

// Store owns the per-day snapshot files under one output directory.
type Store struct {
	dir string
	log *zap.Logger
	now func() time.Time
}

// New returns a store writing to dir.
func New(dir string, log *zap.Logger) *Store {
	return &Store{dir: dir, log: log, now: time.Now}
}

// Publish merges results into today's snapshot. Rows whose address is
// absent from activeAddrs are pruned; every result upserts its
// address's row, so the file holds exactly one row per active address.
// An empty batch against a populated file aborts without touching disk.
func (s *Store) Publish(results []model.ProbeResult, activeAddrs map[string]bool) error {
	path := csvutil.DayPath(s.dir, filePrefix, s.now())

	if len(results) == 0 {
		if info, err := os.Stat(path); err == nil && info.Size() >= safetySizeBytes {
			s.log.Warn("refusing to overwrite populated snapshot with empty batch",
				zap.String("file", path),
				zap.Int64("size_bytes", info.Size()))
		}
		return nil
	}

	unlock, err := csvutil.Lock(path)
	if err != nil {
		return fmt.Errorf("lock snapshot: %w", err)
	}
	defer unlock()

	_, rows, err := csvutil.ReadTable(path, s.log)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	byAddr := make(map[string][]string, len(rows))
	for _, row := range rows {
		r, err := decodeRow(row)
		if err != nil {
			continue
		}
		if activeAddrs[r.IPAddress] {
			byAddr[r.IPAddress] = row
		}
	}
	for _, r := range results {
		byAddr[r.IPAddress] = encodeRow(r)
	}

	addrs := make([]string, 0, len(byAddr))
	for addr := range byAddr {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	out := make([][]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, byAddr[addr])
	}

	if err := csvutil.WriteAtomic(path, header, out); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot rows, newest day file first.
// limit caps the row count; zero or negative means no cap.
func (s *Store) Latest(limit int) ([]model.ProbeResult, error) {
	files, err := csvutil.ListDayFiles(s.dir, filePrefix)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	_, rows, err := csvutil.ReadTable(s.pathFor(files[0].Filename), s.log)
	if err != nil {
		return nil, err
	}

	results := decodeRows(rows)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Device returns the history for one device across the last days of
// snapshot files, newest first.
func (s *Store) Device(deviceID int64, days int) ([]model.ProbeResult, error) {
	files, err := csvutil.ListDayFiles(s.dir, filePrefix)
	if err != nil {
		return nil, err
	}
	if days > 0 && len(files) > days {
		files = files[:days]
	}

	var results []model.ProbeResult
	for _, f := range files {
		_, rows, err := csvutil.ReadAll(s.pathFor(f.Filename))
		if err != nil {
			continue
		}
		for _, row := range rows {
			r, err := decodeRow(row)
			if err != nil || r.DeviceID != deviceID {
				continue
			}
			results = append(results, r)
		}
	}
	return results, nil
}

// Statistics aggregates the latest snapshot.
func (s *Store) Statistics() (model.ProbeStats, error) {
	results, err := s.Latest(0)
	if err != nil {
		return model.ProbeStats{}, err
	}
	return model.Stats(results), nil
}

// StatisticsFor aggregates the latest snapshot for one device.
func (s *Store) StatisticsFor(deviceID int64) (model.ProbeStats, error) {
	results, err := s.Latest(0)
	if err != nil {
		return model.ProbeStats{}, err
	}
	var matched []model.ProbeResult
	for _, r := range results {
		if r.DeviceID == deviceID {
			matched = append(matched, r)
		}
	}
	return model.Stats(matched), nil
}

// Offline returns the devices currently failing in the latest snapshot.
func (s *Store) Offline() ([]model.ProbeResult, error) {
	results, err := s.Latest(0)
	if err != nil {
		return nil, err
	}
	var down []model.ProbeResult
	for _, r := range results {
		if !r.Success {
			down = append(down, r)
		}
	}
	return down, nil
}

// Files lists the per-day snapshot files, newest first.
func (s *Store) Files() ([]csvutil.DayFile, error) {
	return csvutil.ListDayFiles(s.dir, filePrefix)
}

// CleanupOlderThan removes snapshot files older than the given number of
// days and returns how many were deleted.
func (s *Store) CleanupOlderThan(days int) (int, error) {
	files, err := csvutil.ListDayFiles(s.dir, filePrefix)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().AddDate(0, 0, -days).Format("2006-01-02")

	removed := 0
	for _, f := range files {
		if f.Date == "unknown" || f.Date >= cutoff {
			continue
		}
		if err := os.Remove(s.pathFor(f.Filename)); err != nil {
			s.log.Warn("cleanup failed", zap.String("file", f.Filename), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("removed old snapshot files", zap.Int("count", removed))
	}
	return removed, nil
}

func (s *Store) pathFor(filename string) string {
	return s.dir + string(os.PathSeparator) + filename
}

func encodeRow(r model.ProbeResult) []string {
	rt := ""
	if r.ResponseTimeMs != nil {
		rt = strconv.FormatFloat(*r.ResponseTimeMs, 'f', 2, 64)
	}
	return []string{
		r.Timestamp.Format(timeLayout),
		strconv.FormatInt(r.DeviceID, 10),
		r.IPAddress,
		r.Hostname,
		formatBool(r.Success),
		rt,
		rt,
		r.ErrorMessage,
		r.Merk,
		r.OS,
		r.Kondisi,
		strconv.FormatInt(r.LokasiID, 10),
	}
}

func decodeRows(rows [][]string) []model.ProbeResult {
	out := make([]model.ProbeResult, 0, len(rows))
	for _, row := range rows {
		if r, err := decodeRow(row); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func decodeRow(row []string) (model.ProbeResult, error) {
	if len(row) < len(header) {
		return model.ProbeResult{}, fmt.Errorf("short row: %d fields", len(row))
	}
	ts, err := time.ParseInLocation(timeLayout, row[0], time.Local)
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("bad timestamp %q: %w", row[0], err)
	}
	id, err := strconv.ParseInt(row[1], 10, 64)
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("bad device id %q: %w", row[1], err)
	}

	r := model.ProbeResult{
		Timestamp:    ts,
		DeviceID:     id,
		IPAddress:    row[2],
		Hostname:     row[3],
		Success:      row[4] == "True" || row[4] == "true",
		ErrorMessage: row[7],
		Merk:         row[8],
		OS:           row[9],
		Kondisi:      row[10],
	}
	if row[5] != "" {
		if v, err := strconv.ParseFloat(row[5], 64); err == nil {
			r.ResponseTimeMs = &v
		}
	}
	if v, err := strconv.ParseInt(row[11], 10, 64); err == nil {
		r.LokasiID = v
	}
	return r, nil
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
