// Package csvutil provides the on-disk plumbing shared by the snapshot,
// tracker, analytics, and incident stores: atomic CSV publication,
// tolerant reads, advisory file locking, and per-day file discovery.
package csvutil

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrCorrupt marks a file that exists but cannot be parsed as CSV.
var ErrCorrupt = errors.New("corrupt csv")

// WriteAtomic publishes header+rows to path via a sibling temp file and
// rename. Readers always observe either the previous or the new complete
// file; any failure leaves the previous file intact.
func WriteAtomic(path string, header []string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // best effort; no-op after successful rename

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// ReadAll reads a CSV file and returns its header and data rows.
// A missing file yields nil, nil, nil: every store treats absence as an
// empty table.
func ReadAll(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, errors.Join(ErrCorrupt, err))
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records[0], records[1:], nil
}

// ReadTable reads path like ReadAll but treats a corrupt file as an
// empty table, logging a warning. The next atomic write replaces the
// bad file. Only genuine I/O failures surface as errors.
func ReadTable(path string, log *zap.Logger) (header []string, rows [][]string, err error) {
	header, rows, err = ReadAll(path)
	if err == nil {
		return header, rows, nil
	}
	if !errors.Is(err, ErrCorrupt) {
		return nil, nil, err
	}
	log.Warn("unreadable csv treated as empty", zap.String("file", path), zap.Error(err))
	return nil, nil, nil
}

// AppendRow appends a single row to path, writing the header first when
// the file does not exist yet.
func AppendRow(path string, header, row []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// DayFile describes one per-day artefact in the output directory.
type DayFile struct {
	Filename     string    `json:"filename"`
	Date         string    `json:"date"`
	SizeBytes    int64     `json:"size_bytes"`
	RecordCount  int       `json:"device_count"`
	LastModified time.Time `json:"last_modified"`
}

// ListDayFiles returns metadata for every "<prefix>_YYYYMMDD.csv" file in
// dir, newest first.
func ListDayFiles(dir, prefix string) ([]DayFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var files []DayFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"_") || !strings.HasSuffix(name, ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"_"), ".csv")
		date := "unknown"
		if t, err := time.Parse("20060102", dateStr); err == nil {
			date = t.Format("2006-01-02")
		}

		_, rows, err := ReadAll(filepath.Join(dir, name))
		count := 0
		if err == nil {
			count = len(rows)
		}

		files = append(files, DayFile{
			Filename:     name,
			Date:         date,
			SizeBytes:    info.Size(),
			RecordCount:  count,
			LastModified: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename > files[j].Filename })
	return files, nil
}

// DayPath returns dir/<prefix>_YYYYMMDD.csv for the given day.
func DayPath(dir, prefix string, day time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.csv", prefix, day.Format("20060102")))
}
