package inventory

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/model"
)

var deviceColumns = []string{
	"id", "ip", "hostname", "merk", "os", "kondisi", "id_lokasi", "jenis_barang_id",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock")), mock
}

func deviceRows(devices ...model.Device) *sqlmock.Rows {
	rows := sqlmock.NewRows(deviceColumns)
	for _, d := range devices {
		rows.AddRow(d.ID, d.IP, d.Hostname, d.Merk, d.OS, d.Kondisi, d.LokasiID, d.JenisBarangID)
	}
	return rows
}

func TestDevicesQuery(t *testing.T) {
	store, mock := newMockStore(t)

	want := []model.Device{
		{ID: 1, IP: "10.0.0.1", Hostname: "sw-core", Merk: "cisco", OS: "ios", Kondisi: "baik", LokasiID: 3, JenisBarangID: 2},
		{ID: 2, IP: "10.0.0.2", Hostname: "ap-lobby", Kondisi: "baik", JenisBarangID: 4},
	}
	mock.ExpectQuery(`FROM inventaris i`).WillReturnRows(deviceRows(want...))

	got, err := store.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d devices, want 2", len(got))
	}
	if got[0] != want[0] || got[1] != want[1] {
		t.Errorf("devices mismatch:\n got %+v\nwant %+v", got, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRefreshHonorsCadence(t *testing.T) {
	store, mock := newMockStore(t)
	r := NewReconciler(store, 30*time.Second, zap.NewNop())

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	dev := model.Device{ID: 1, IP: "10.0.0.1", Hostname: "sw-core", Kondisi: "baik"}
	mock.ExpectQuery(`FROM inventaris i`).WillReturnRows(deviceRows(dev))

	changed, err := r.Refresh(context.Background(), true)
	if err != nil || !changed {
		t.Fatalf("initial refresh: changed=%v err=%v", changed, err)
	}
	if len(r.Devices()) != 1 {
		t.Fatalf("device set not cached")
	}

	// Within the cadence: no query issued.
	r.now = func() time.Time { return base.Add(10 * time.Second) }
	changed, err = r.Refresh(context.Background(), false)
	if err != nil || changed {
		t.Fatalf("refresh inside cadence: changed=%v err=%v", changed, err)
	}

	// After the cadence with identical content: query runs, set kept.
	r.now = func() time.Time { return base.Add(40 * time.Second) }
	mock.ExpectQuery(`FROM inventaris i`).WillReturnRows(deviceRows(dev))
	changed, err = r.Refresh(context.Background(), false)
	if err != nil || changed {
		t.Fatalf("refresh with unchanged signature: changed=%v err=%v", changed, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRefreshDetectsChange(t *testing.T) {
	store, mock := newMockStore(t)
	r := NewReconciler(store, 30*time.Second, zap.NewNop())

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	mock.ExpectQuery(`FROM inventaris i`).WillReturnRows(deviceRows(
		model.Device{ID: 1, IP: "10.0.0.1", Hostname: "sw-core", Kondisi: "baik"}))
	if _, err := r.Refresh(context.Background(), true); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}

	// Hostname edited in the inventory.
	r.now = func() time.Time { return base.Add(time.Minute) }
	mock.ExpectQuery(`FROM inventaris i`).WillReturnRows(deviceRows(
		model.Device{ID: 1, IP: "10.0.0.1", Hostname: "sw-core-renamed", Kondisi: "baik"}))

	changed, err := r.Refresh(context.Background(), false)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !changed {
		t.Fatal("signature change not detected")
	}
	if r.Devices()[0].Hostname != "sw-core-renamed" {
		t.Errorf("cached set not replaced: %+v", r.Devices()[0])
	}

	st := r.Status()
	if st.ReloadCount != 2 || st.DeviceCount != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestSignature(t *testing.T) {
	a := []model.Device{{ID: 1, IP: "10.0.0.1", Hostname: "h", Kondisi: "baik"}}
	b := []model.Device{{ID: 1, IP: "10.0.0.1", Hostname: "h", Kondisi: "rusak"}}

	if Signature(a) == Signature(b) {
		t.Error("condition change must change the signature")
	}
	if Signature(a) != Signature(a) {
		t.Error("signature must be deterministic")
	}
	if Signature(nil) == "" {
		t.Error("empty set still hashes")
	}
}
