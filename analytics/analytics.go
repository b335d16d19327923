// Package analytics records the fleet-wide timeout count once per cycle
// into per-day CSV files and serves windowed views of the series for the
// chart endpoints.
package analytics

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/csvutil"
)

const (
	filePrefix = "timeout_analytics"
	timeLayout = "2006-01-02 15:04:05"

	// Clamps for the windowed queries.
	MaxRangeHours = 168
	MaxRangeDays  = 30
)

var header = []string{"timestamp", "total_timeout_devices"}

// Point is one sample of the timeout count series.
type Point struct {
	Timestamp string `json:"timestamp"`
	Count     int    `json:"total_timeout_devices"`
}

// DaySummary aggregates one day of samples.
type DaySummary struct {
	Date    string  `json:"date"`
	Min     int     `json:"min"`
	Max     int     `json:"max"`
	Avg     float64 `json:"avg"`
	Samples int     `json:"samples"`
}

// Summary describes the most recent state of the series.
type Summary struct {
	Current     int     `json:"current"`
	TodayMin    int     `json:"today_min"`
	TodayMax    int     `json:"today_max"`
	TodayAvg    float64 `json:"today_avg"`
	SampleCount int     `json:"sample_count"`
	LastSample  string  `json:"last_sample,omitempty"`
}

// Store appends and reads the per-day series files.
type Store struct {
	dir string
	log *zap.Logger
	now func() time.Time
}

// New returns a store writing to dir.
func New(dir string, log *zap.Logger) *Store {
	return &Store{dir: dir, log: log, now: time.Now}
}

// Record appends one sample with the current timestamp.
func (s *Store) Record(count int) error {
	now := s.now()
	path := csvutil.DayPath(s.dir, filePrefix, now)
	row := []string{now.Format(timeLayout), strconv.Itoa(count)}
	if err := csvutil.AppendRow(path, header, row); err != nil {
		return fmt.Errorf("record analytics sample: %w", err)
	}
	return nil
}

// Range returns the samples from the last N hours, oldest first.
// hours is clamped to [1, MaxRangeHours].
func (s *Store) Range(hours int) ([]Point, error) {
	hours = clamp(hours, 1, MaxRangeHours)
	now := s.now()
	cutoff := now.Add(-time.Duration(hours) * time.Hour)

	var points []Point
	days := hours/24 + 2
	for d := days - 1; d >= 0; d-- {
		day := now.AddDate(0, 0, -d)
		samples, err := s.readDay(day)
		if err != nil {
			return nil, err
		}
		for _, p := range samples {
			ts, err := time.ParseInLocation(timeLayout, p.Timestamp, time.Local)
			if err != nil || ts.Before(cutoff) {
				continue
			}
			points = append(points, p)
		}
	}
	return points, nil
}

// RangeDays returns one aggregate per day for the last N days, oldest
// first. days is clamped to [1, MaxRangeDays]. Days without samples are
// omitted.
func (s *Store) RangeDays(days int) ([]DaySummary, error) {
	days = clamp(days, 1, MaxRangeDays)
	now := s.now()

	var out []DaySummary
	for d := days - 1; d >= 0; d-- {
		day := now.AddDate(0, 0, -d)
		samples, err := s.readDay(day)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			continue
		}
		out = append(out, summarize(day.Format("2006-01-02"), samples))
	}
	return out, nil
}

// BucketPoint is one minute-interval aggregate of the series.
type BucketPoint struct {
	BucketStart string  `json:"bucket_start"`
	Avg         float64 `json:"avg"`
	Samples     int     `json:"samples"`
}

// Bucket groups points into intervalMin-minute buckets and averages
// each. Zero or negative interval returns nil; callers then serve the
// raw points.
func Bucket(points []Point, intervalMin int) []BucketPoint {
	if intervalMin <= 0 {
		return nil
	}
	interval := time.Duration(intervalMin) * time.Minute

	var out []BucketPoint
	var cur time.Time
	sum, n := 0, 0
	flush := func() {
		if n == 0 {
			return
		}
		out = append(out, BucketPoint{
			BucketStart: cur.Format(timeLayout),
			Avg:         float64(int64(float64(sum)/float64(n)*100+0.5)) / 100,
			Samples:     n,
		})
		sum, n = 0, 0
	}
	for _, p := range points {
		ts, err := time.ParseInLocation(timeLayout, p.Timestamp, time.Local)
		if err != nil {
			continue
		}
		bucket := ts.Truncate(interval)
		if bucket != cur {
			flush()
			cur = bucket
		}
		sum += p.Count
		n++
	}
	flush()
	return out
}

// Summarize returns today's aggregate plus the latest sample.
func (s *Store) Summarize() (Summary, error) {
	samples, err := s.readDay(s.now())
	if err != nil {
		return Summary{}, err
	}
	if len(samples) == 0 {
		return Summary{}, nil
	}
	day := summarize("", samples)
	last := samples[len(samples)-1]
	return Summary{
		Current:     last.Count,
		TodayMin:    day.Min,
		TodayMax:    day.Max,
		TodayAvg:    day.Avg,
		SampleCount: day.Samples,
		LastSample:  last.Timestamp,
	}, nil
}

func (s *Store) readDay(day time.Time) ([]Point, error) {
	path := csvutil.DayPath(s.dir, filePrefix, day)
	_, rows, err := csvutil.ReadTable(path, s.log)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	points := make([]Point, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		n, err := strconv.Atoi(row[1])
		if err != nil {
			continue
		}
		points = append(points, Point{Timestamp: row[0], Count: n})
	}
	return points, nil
}

func summarize(date string, samples []Point) DaySummary {
	d := DaySummary{Date: date, Min: samples[0].Count, Samples: len(samples)}
	sum := 0
	for _, p := range samples {
		if p.Count < d.Min {
			d.Min = p.Count
		}
		if p.Count > d.Max {
			d.Max = p.Count
		}
		sum += p.Count
	}
	d.Avg = float64(int64(float64(sum)/float64(len(samples))*100+0.5)) / 100
	return d
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
