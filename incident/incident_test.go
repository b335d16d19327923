package incident

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/tracker"
)

func newTestManager(t *testing.T, dir string) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m, err := New(sqlx.NewDb(db, "sqlmock"), dir, "subreg_jawa", time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.now = func() time.Time {
		return time.Date(2026, 8, 25, 11, 30, 0, 0, time.Local)
	}
	return m, mock
}

func downEntry(ip string, firstTimeout string) tracker.Entry {
	return tracker.Entry{
		IP: ip, Hostname: "host-" + ip, DeviceID: 7,
		Merk: "mikrotik", OS: "routeros", Count: 30,
		FirstTimeout: firstTimeout,
	}
}

func expectInsert(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO insidens`).
		WillReturnResult(sqlmock.NewResult(id, 1))
	mock.ExpectCommit()
}

func TestEscalateCreatesIncidentAfterThreshold(t *testing.T) {
	m, mock := newTestManager(t, t.TempDir())
	expectInsert(mock, 42)

	created, err := m.Escalate(context.Background(),
		[]tracker.Entry{downEntry("10.0.0.1", "2026-08-25 10:00:00")})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d incidents, want 1", len(created))
	}
	rec := created[0]
	if rec.IncidentID != 42 || rec.IP != "10.0.0.1" || rec.DeviceType != "mikrotik" {
		t.Errorf("record = %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEscalateSkipsShortOutage(t *testing.T) {
	m, mock := newTestManager(t, t.TempDir())

	// Down only 30 minutes against a one hour threshold.
	created, err := m.Escalate(context.Background(),
		[]tracker.Entry{downEntry("10.0.0.1", "2026-08-25 11:00:00")})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("created %d incidents, want 0", len(created))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEscalateIsIdempotentPerOutage(t *testing.T) {
	m, mock := newTestManager(t, t.TempDir())
	expectInsert(mock, 42)

	entry := downEntry("10.0.0.1", "2026-08-25 10:00:00")
	if _, err := m.Escalate(context.Background(), []tracker.Entry{entry}); err != nil {
		t.Fatalf("first escalate: %v", err)
	}
	created, err := m.Escalate(context.Background(), []tracker.Entry{entry})
	if err != nil {
		t.Fatalf("second escalate: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("second escalate created %d incidents, want 0", len(created))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEscalateRollsBackOnInsertError(t *testing.T) {
	m, mock := newTestManager(t, t.TempDir())
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO insidens`).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	created, err := m.Escalate(context.Background(),
		[]tracker.Entry{downEntry("10.0.0.1", "2026-08-25 10:00:00")})
	if err != nil {
		t.Fatalf("Escalate must swallow per-device failures: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("created %d incidents despite insert failure", len(created))
	}
	if len(m.Records()) != 0 {
		t.Error("failed incident still tracked")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTrackingSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	m, mock := newTestManager(t, dir)
	expectInsert(mock, 42)

	entry := downEntry("10.0.0.1", "2026-08-25 10:00:00")
	if _, err := m.Escalate(context.Background(), []tracker.Entry{entry}); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	m2, _ := newTestManager(t, dir)
	recs := m2.Records()
	if len(recs) != 1 || recs[0].IncidentID != 42 {
		t.Fatalf("reloaded records = %+v", recs)
	}

	// The open incident must not be recreated after restart.
	created, err := m2.Escalate(context.Background(), []tracker.Entry{entry})
	if err != nil {
		t.Fatalf("escalate after reload: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("reload recreated %d incidents", len(created))
	}
}

func TestCleanupResolved(t *testing.T) {
	m, mock := newTestManager(t, t.TempDir())
	expectInsert(mock, 1)
	expectInsert(mock, 2)

	if _, err := m.Escalate(context.Background(), []tracker.Entry{
		downEntry("10.0.0.1", "2026-08-25 10:00:00"),
		downEntry("10.0.0.2", "2026-08-25 10:00:00"),
	}); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	removed, err := m.CleanupResolved(func(ip string) bool { return ip == "10.0.0.2" })
	if err != nil {
		t.Fatalf("CleanupResolved: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
	recs := m.Records()
	if len(recs) != 1 || recs[0].IP != "10.0.0.2" {
		t.Errorf("records = %+v", recs)
	}
}
