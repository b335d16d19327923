// Package inventory loads probeable devices from the asset database and
// keeps the in-memory device set reconciled against it on a fixed
// cadence, using a content signature to detect change.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/model"
)

// Devices with kondisi 'hilang' are written off and never probed; the
// jenis_barangs.ping flag scopes monitoring to network device classes.
const devicesQuery = `
SELECT i.id, i.ip,
       COALESCE(i.hostname, '') AS hostname,
       COALESCE(i.merk, '') AS merk,
       COALESCE(i.os, '') AS os,
       COALESCE(i.kondisi, '') AS kondisi,
       COALESCE(i.id_lokasi, 0) AS id_lokasi,
       i.jenis_barang_id
FROM inventaris i
JOIN jenis_barangs j ON i.jenis_barang_id = j.id
WHERE i.kondisi != 'hilang'
  AND i.ip IS NOT NULL
  AND i.ip != ''
  AND j.ping = 1
ORDER BY i.id`

// Connect opens the inventory database, retrying with exponential
// backoff so the service survives a database that comes up after it.
func Connect(dsn string, log *zap.Logger) (*sqlx.DB, error) {
	var db *sqlx.DB
	op := func() error {
		var err error
		db, err = sqlx.Connect("mysql", dsn)
		if err != nil {
			log.Warn("database connect failed, retrying", zap.Error(err))
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("connect to inventory database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Store reads the probeable device set.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Devices returns every probeable device ordered by id.
func (s *Store) Devices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.SelectContext(ctx, &devices, devicesQuery); err != nil {
		return nil, fmt.Errorf("query probeable devices: %w", err)
	}
	return devices, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
