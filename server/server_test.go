package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/analytics"
	"github.com/ftahirops/pingmon/config"
	"github.com/ftahirops/pingmon/engine"
	"github.com/ftahirops/pingmon/inventory"
	"github.com/ftahirops/pingmon/model"
	"github.com/ftahirops/pingmon/prober"
	"github.com/ftahirops/pingmon/snapshot"
	"github.com/ftahirops/pingmon/tracker"
)

type fixedProber struct{ up map[string]bool }

func (p *fixedProber) Probe(ctx context.Context, address string) (bool, *float64, string, string) {
	if p.up[address] {
		rtt := 2.0
		return true, &rtt, "", model.MethodICMP
	}
	return false, nil, "request timed out", model.MethodICMP
}

type fixture struct {
	srv    *httptest.Server
	engine *engine.Engine
}

func newFixture(t *testing.T, up map[string]bool) *fixture {
	t.Helper()
	log := zap.NewNop()
	dir := t.TempDir()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rows := sqlmock.NewRows([]string{
		"id", "ip", "hostname", "merk", "os", "kondisi", "id_lokasi", "jenis_barang_id",
	})
	i := int64(1)
	for ip := range up {
		rows.AddRow(i, ip, "host-"+ip, "cisco", "ios", "baik", 1, 2)
		i++
	}
	mock.ExpectQuery(`FROM inventaris i`).WillReturnRows(rows)
	// Forced reloads from the API may query again.
	mock.ExpectQuery(`FROM inventaris i`).WillReturnRows(sqlmock.NewRows([]string{
		"id", "ip", "hostname", "merk", "os", "kondisi", "id_lokasi", "jenis_barang_id",
	}))

	store := inventory.NewStore(sqlx.NewDb(db, "sqlmock"))
	recon := inventory.NewReconciler(store, time.Hour, log)
	if _, err := recon.Refresh(context.Background(), true); err != nil {
		t.Fatalf("seed reconciler: %v", err)
	}

	trk, err := tracker.New(dir, 2, log)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}

	cfg := config.Default()
	cfg.OutputDir = dir
	cfg.PingIntervalSec = 3600

	snap := snapshot.New(dir, log)
	ana := analytics.New(dir, log)
	reg := prometheus.NewRegistry()
	eng := engine.New(cfg, log, recon,
		&prober.Batch{Prober: &fixedProber{up: up}, Workers: 4, Log: log},
		snap, trk, ana, nil, nil, engine.NewMetrics(reg))

	api := New(eng, snap, trk, ana, recon, nil, log)
	srv := httptest.NewServer(api.Router(reg))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, engine: eng}
}

func (f *fixture) do(t *testing.T, method, path string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, env
}

func (f *fixture) runCycles(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := f.engine.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
}

func dataMap(t *testing.T, env envelope) map[string]interface{} {
	t.Helper()
	m, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data is %T, want object", env.Data)
	}
	return m
}

func TestHealth(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": true})
	code, env := f.do(t, http.MethodGet, "/health")
	if code != http.StatusOK || !env.Success {
		t.Fatalf("health = %d success=%v", code, env.Success)
	}
	if dataMap(t, env)["status"] != "ok" {
		t.Errorf("health data = %+v", env.Data)
	}
}

func TestLatestEnvelope(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": false})
	f.runCycles(t, 1)

	code, env := f.do(t, http.MethodGet, "/api/ping/latest")
	if code != http.StatusOK || !env.Success {
		t.Fatalf("latest = %d success=%v error=%s", code, env.Success, env.Error)
	}
	if got := dataMap(t, env)["count"].(float64); got != 2 {
		t.Errorf("count = %v, want 2", got)
	}

	// limit is clamped, never an error.
	code, env = f.do(t, http.MethodGet, "/api/ping/latest?limit=999999")
	if code != http.StatusOK || !env.Success {
		t.Fatalf("latest with big limit = %d", code)
	}
	code, env = f.do(t, http.MethodGet, "/api/ping/latest?limit=1")
	if got := dataMap(t, env)["count"].(float64); code != http.StatusOK || got != 1 {
		t.Errorf("limit=1 count = %v", got)
	}
}

func TestDeviceNotFound(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": true})
	f.runCycles(t, 1)

	code, env := f.do(t, http.MethodGet, "/api/ping/device/9999")
	if code != http.StatusNotFound || env.Success {
		t.Fatalf("missing device = %d success=%v", code, env.Success)
	}
	code, _ = f.do(t, http.MethodGet, "/api/ping/device/not-a-number")
	if code != http.StatusBadRequest {
		t.Fatalf("bad id = %d, want 400", code)
	}
}

func TestTimeoutEndpoints(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": false})
	f.runCycles(t, 3)

	code, env := f.do(t, http.MethodGet, "/api/ping/timeout/summary")
	if code != http.StatusOK {
		t.Fatalf("summary = %d", code)
	}
	d := dataMap(t, env)
	if d["total_tracked"].(float64) != 1 || d["critical_count"].(float64) != 1 {
		t.Errorf("summary = %+v", d)
	}

	code, env = f.do(t, http.MethodGet, "/api/ping/timeout/critical")
	if code != http.StatusOK || dataMap(t, env)["count"].(float64) != 1 {
		t.Fatalf("critical = %d %+v", code, env.Data)
	}

	code, env = f.do(t, http.MethodGet, "/api/ping/timeout/report")
	if code != http.StatusOK || dataMap(t, env)["report"] == "" {
		t.Fatalf("report = %d", code)
	}

	code, _ = f.do(t, http.MethodPost, "/api/ping/timeout/reset")
	if code != http.StatusOK {
		t.Fatalf("reset = %d", code)
	}
	_, env = f.do(t, http.MethodGet, "/api/ping/timeout/devices")
	if dataMap(t, env)["count"].(float64) != 0 {
		t.Error("tracking not cleared after reset")
	}
}

func TestServiceLifecycleEndpoints(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": true})

	code, _ := f.do(t, http.MethodPost, "/api/ping/service/stop")
	if code != http.StatusConflict {
		t.Fatalf("stop while idle = %d, want 409", code)
	}
	code, _ = f.do(t, http.MethodPost, "/api/ping/service/start")
	if code != http.StatusOK {
		t.Fatalf("start = %d", code)
	}
	code, _ = f.do(t, http.MethodPost, "/api/ping/service/start")
	if code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", code)
	}
	code, env := f.do(t, http.MethodGet, "/api/ping/service/status")
	if code != http.StatusOK || dataMap(t, env)["running"] != true {
		t.Fatalf("status = %d %+v", code, env.Data)
	}
	code, _ = f.do(t, http.MethodPost, "/api/ping/service/stop")
	if code != http.StatusOK {
		t.Fatalf("stop = %d", code)
	}
}

func TestCSVEndpoints(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": true})
	f.runCycles(t, 1)

	code, env := f.do(t, http.MethodGet, "/api/ping/csv/files")
	if code != http.StatusOK || dataMap(t, env)["count"].(float64) < 1 {
		t.Fatalf("csv files = %d %+v", code, env.Data)
	}

	code, _ = f.do(t, http.MethodPost, "/api/ping/csv/rebuild")
	if code != http.StatusOK {
		t.Fatalf("rebuild = %d", code)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": false})
	f.runCycles(t, 2)

	code, env := f.do(t, http.MethodGet, "/api/ping/timeout/analytics/chart?hours=24")
	if code != http.StatusOK || dataMap(t, env)["count"].(float64) != 2 {
		t.Fatalf("chart = %d %+v", code, env.Data)
	}

	code, env = f.do(t, http.MethodGet, "/api/ping/timeout/analytics/summary")
	if code != http.StatusOK || dataMap(t, env)["current"].(float64) != 1 {
		t.Fatalf("analytics summary = %d %+v", code, env.Data)
	}

	code, env = f.do(t, http.MethodGet, "/api/ping/timeout/analytics/multi-day?days=7")
	if code != http.StatusOK || dataMap(t, env)["count"].(float64) != 1 {
		t.Fatalf("multi-day = %d %+v", code, env.Data)
	}
}

func TestAnalyticsWindowEchoesClampedValues(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": false})
	f.runCycles(t, 1)

	code, env := f.do(t, http.MethodGet, "/api/ping/timeout/analytics/chart?hours=500")
	if code != http.StatusOK {
		t.Fatalf("chart = %d", code)
	}
	if got := dataMap(t, env)["hours"].(float64); got != 168 {
		t.Errorf("hours echoed = %v, want the served window 168", got)
	}

	code, env = f.do(t, http.MethodGet, "/api/ping/timeout/analytics/multi-day?days=90")
	if code != http.StatusOK {
		t.Fatalf("multi-day = %d", code)
	}
	if got := dataMap(t, env)["days"].(float64); got != 30 {
		t.Errorf("days echoed = %v, want the served window 30", got)
	}
}

func TestStatisticsPerDevice(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": true})
	f.runCycles(t, 1)

	code, env := f.do(t, http.MethodGet, "/api/ping/statistics?device_id=1")
	if code != http.StatusOK {
		t.Fatalf("statistics = %d", code)
	}
	if dataMap(t, env)["total_devices"].(float64) != 1 {
		t.Errorf("per-device stats = %+v", env.Data)
	}

	code, _ = f.do(t, http.MethodGet, "/api/ping/statistics?device_id=abc")
	if code != http.StatusBadRequest {
		t.Fatalf("bad device_id = %d, want 400", code)
	}
}

func TestAnalyticsChartBucketed(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": false})
	f.runCycles(t, 2)

	code, env := f.do(t, http.MethodGet, "/api/ping/timeout/analytics/chart?hours=24&interval=60")
	if code != http.StatusOK {
		t.Fatalf("bucketed chart = %d", code)
	}
	d := dataMap(t, env)
	if d["interval"].(float64) != 60 {
		t.Errorf("interval echoed = %v", d["interval"])
	}
	if d["count"].(float64) != 1 {
		t.Errorf("bucket count = %v, want 1 (both samples in one hour)", d["count"])
	}
}

func TestDatabaseEndpoints(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": true})

	code, env := f.do(t, http.MethodGet, "/api/ping/database/monitoring")
	if code != http.StatusOK || dataMap(t, env)["device_count"].(float64) != 1 {
		t.Fatalf("monitoring = %d %+v", code, env.Data)
	}

	code, env = f.do(t, http.MethodPost, "/api/ping/database/reload")
	if code != http.StatusOK || !env.Success {
		t.Fatalf("reload = %d %s", code, env.Error)
	}
}

func TestTestProbeEndpoint(t *testing.T) {
	f := newFixture(t, map[string]bool{"10.0.0.1": true})

	code, env := f.do(t, http.MethodPost, "/api/ping/test/10.0.0.1")
	if code != http.StatusOK {
		t.Fatalf("test probe = %d", code)
	}
	if dataMap(t, env)["ping_success"] != true {
		t.Errorf("test probe data = %+v", env.Data)
	}
}
