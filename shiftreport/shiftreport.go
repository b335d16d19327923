// Package shiftreport sends a task digest to the operations group at
// the end of each shift. Shifts follow the NOC roster: pagi 07:00-15:00,
// siang 15:00-23:00, malam 23:00-07:00, all in WIB.
package shiftreport

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/notify"
)

const countQuery = `
SELECT COALESCE(status, '') AS status, COUNT(*) AS n
FROM log_tugas
WHERE created_at >= ? AND created_at < ?
GROUP BY status`

// Sender delivers one group message.
type Sender interface {
	SendGroupMessage(ctx context.Context, message string) error
}

// Reporter queries the task log and sends one digest per shift end.
type Reporter struct {
	db     *sqlx.DB
	sender Sender
	log    *zap.Logger
	now    func() time.Time

	cron *cron.Cron
}

// New returns a reporter; call Start to schedule the digests.
func New(db *sqlx.DB, sender Sender, log *zap.Logger) *Reporter {
	return &Reporter{db: db, sender: sender, log: log, now: time.Now}
}

// Start schedules one report at each shift boundary.
func (r *Reporter) Start() error {
	wib := time.FixedZone("WIB", 7*3600)
	r.cron = cron.New(cron.WithLocation(wib))

	schedules := map[string]string{
		"0 7 * * *":  "malam",
		"0 15 * * *": "pagi",
		"0 23 * * *": "siang",
	}
	for spec, shift := range schedules {
		shift := shift
		if _, err := r.cron.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := r.Report(ctx, shift); err != nil {
				r.log.Warn("shift report failed",
					zap.String("shift", shift), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s report: %w", shift, err)
		}
	}

	r.cron.Start()
	r.log.Info("shift reports scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running report.
func (r *Reporter) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Report builds and sends the digest for the shift that just ended.
func (r *Reporter) Report(ctx context.Context, shift string) error {
	start, end, err := windowFor(shift, r.now())
	if err != nil {
		return err
	}

	type countRow struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	var rows []countRow
	if err := r.db.SelectContext(ctx, &rows, countQuery,
		start.Format("2006-01-02 15:04:05"), end.Format("2006-01-02 15:04:05")); err != nil {
		return fmt.Errorf("query task log: %w", err)
	}

	total, done := 0, 0
	for _, row := range rows {
		total += row.N
		if row.Status == "selesai" {
			done += row.N
		}
	}

	msg := notify.ShiftReportMessage(shift, start, end, total, done, total-done, r.now())
	if err := r.sender.SendGroupMessage(ctx, msg); err != nil {
		return fmt.Errorf("send shift report: %w", err)
	}
	r.log.Info("shift report sent",
		zap.String("shift", shift), zap.Int("tasks", total), zap.Int("done", done))
	return nil
}

// windowFor returns the shift window that ends at or just before now.
func windowFor(shift string, now time.Time) (start, end time.Time, err error) {
	wib := time.FixedZone("WIB", 7*3600)
	n := now.In(wib)
	day := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, wib)

	switch shift {
	case "pagi":
		return day.Add(7 * time.Hour), day.Add(15 * time.Hour), nil
	case "siang":
		return day.Add(15 * time.Hour), day.Add(23 * time.Hour), nil
	case "malam":
		// Ends at 07:00 today, started 23:00 yesterday.
		return day.Add(-1 * time.Hour), day.Add(7 * time.Hour), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown shift %q", shift)
	}
}
