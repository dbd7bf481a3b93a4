package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/config"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS state_records (
        entity_key   TEXT        NOT NULL,
        kind         TEXT        NOT NULL,
        source       TEXT        NOT NULL,
        attributes   JSONB       NOT NULL,
        content_hash TEXT        NOT NULL,
        observed_at  TIMESTAMPTZ NOT NULL,
        version      BIGINT      NOT NULL,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (entity_key, kind)
    );
    CREATE TABLE IF NOT EXISTS alert_log (
        id         TEXT        PRIMARY KEY,
        entity_key TEXT        NOT NULL,
        kind       TEXT        NOT NULL,
        alert_type TEXT        NOT NULL,
        dedup_key  TEXT        NOT NULL,
        summary    TEXT        NOT NULL DEFAULT '',
        severity   TEXT        NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS alert_log_recent_idx
        ON alert_log (entity_key, kind, alert_type, created_at DESC);
    CREATE TABLE IF NOT EXISTS signal_history (
        entity_key  TEXT        NOT NULL,
        kind        TEXT        NOT NULL,
        observed_at TIMESTAMPTZ NOT NULL,
        price       NUMERIC,
        available   BOOLEAN,
        PRIMARY KEY (entity_key, kind, observed_at)
    );
    CREATE TABLE IF NOT EXISTS deliveries (
        id         TEXT        PRIMARY KEY,
        alert_id   TEXT        NOT NULL,
        transport  TEXT        NOT NULL,
        status     TEXT        NOT NULL,
        attempts   INT         NOT NULL,
        last_error TEXT        NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	getRecordSQL = `SELECT entity_key, kind, source, attributes, content_hash,
        observed_at, version, created_at, updated_at
    FROM state_records
    WHERE entity_key = $1 AND kind = $2;`

	insertRecordSQL = `INSERT INTO state_records (
        entity_key, kind, source, attributes, content_hash, observed_at, version
    ) VALUES ($1,$2,$3,$4,$5,$6,1)
    ON CONFLICT (entity_key, kind) DO NOTHING
    RETURNING entity_key, kind, source, attributes, content_hash,
        observed_at, version, created_at, updated_at;`

	updateRecordSQL = `UPDATE state_records
    SET source = $3,
        attributes = $4,
        content_hash = $5,
        observed_at = $6,
        version = version + 1,
        updated_at = now()
    WHERE entity_key = $1 AND kind = $2 AND version = $7
    RETURNING entity_key, kind, source, attributes, content_hash,
        observed_at, version, created_at, updated_at;`

	insertAlertSQL = `INSERT INTO alert_log (
        id, entity_key, kind, alert_type, dedup_key, summary, severity, created_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	recentAlertSQL = `SELECT EXISTS (
        SELECT 1 FROM alert_log
        WHERE entity_key = $1 AND kind = $2 AND alert_type = $3 AND created_at > $4
    );`

	countAlertsSQL = `SELECT COUNT(*) FROM alert_log WHERE created_at > $1;`

	listRecentAlertsSQL = `SELECT id, entity_key, kind, alert_type, dedup_key,
        summary, severity, created_at
    FROM alert_log
    ORDER BY created_at DESC
    LIMIT $1;`

	insertHistorySQL = `INSERT INTO signal_history (
        entity_key, kind, observed_at, price, available
    ) VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (entity_key, kind, observed_at) DO NOTHING;`

	listHistorySQL = `SELECT entity_key, kind, observed_at, price, available
    FROM signal_history
    WHERE entity_key = $1 AND kind = $2
      AND observed_at >= $3 AND observed_at < $4
    ORDER BY observed_at;`

	insertDeliverySQL = `INSERT INTO deliveries (
        id, alert_id, transport, status, attempts, last_error, created_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7);`

	pruneAlertsSQL     = `DELETE FROM alert_log WHERE created_at < $1;`
	pruneHistorySQL    = `DELETE FROM signal_history WHERE observed_at < $1;`
	pruneDeliveriesSQL = `DELETE FROM deliveries WHERE created_at < $1;`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// PostgresStore is the durable Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a Store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables when missing. Additive only: new kinds
// and attributes ride in the attributes jsonb without schema changes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createSchemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Get fetches the record for one tracked series.
func (s *PostgresStore) Get(ctx context.Context, entityKey string, kind signal.Kind) (*Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, getRecordSQL, entityKey, string(kind))
	record, scanErr := scanRecord(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, scanErr
	}
	return record, nil
}

// Upsert performs the compare-and-set write.
func (s *PostgresStore) Upsert(ctx context.Context, sig signal.Signal, expectedVersion int64) (*Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	attrs, marshalErr := json.Marshal(sig.Attributes)
	if marshalErr != nil {
		return nil, fmt.Errorf("marshal attributes: %w", marshalErr)
	}

	var row pgx.Row
	if expectedVersion == 0 {
		row = pool.QueryRow(ctx, insertRecordSQL,
			sig.EntityKey, string(sig.Kind), sig.Source, attrs, sig.ContentHash, sig.ObservedAt)
	} else {
		row = pool.QueryRow(ctx, updateRecordSQL,
			sig.EntityKey, string(sig.Kind), sig.Source, attrs, sig.ContentHash, sig.ObservedAt, expectedVersion)
	}

	record, scanErr := scanRecord(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, &ConflictError{EntityKey: sig.EntityKey, Kind: sig.Kind, Expected: expectedVersion}
		}
		return nil, scanErr
	}
	return record, nil
}

// RecordAlert appends one audit entry.
func (s *PostgresStore) RecordAlert(ctx context.Context, entry AlertEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertAlertSQL,
		entry.ID, entry.EntityKey, string(entry.Kind), entry.AlertType,
		entry.DedupKey, entry.Summary, entry.Severity, entry.CreatedAt)
	if execErr != nil {
		return fmt.Errorf("record alert: %w", execErr)
	}
	return nil
}

// RecentAlert reports suppression-window hits.
func (s *PostgresStore) RecentAlert(ctx context.Context, entityKey string, kind signal.Kind, alertType string, window time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cutoff := time.Now().UTC().Add(-window)
	var recent bool
	if scanErr := pool.QueryRow(ctx, recentAlertSQL, entityKey, string(kind), alertType, cutoff).Scan(&recent); scanErr != nil {
		return false, fmt.Errorf("recent alert: %w", scanErr)
	}
	return recent, nil
}

// CountAlertsSince counts all alerts recorded after the cutoff.
func (s *PostgresStore) CountAlertsSince(ctx context.Context, since time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int64
	if scanErr := pool.QueryRow(ctx, countAlertsSQL, since).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count alerts: %w", scanErr)
	}
	return count, nil
}

// ListRecentAlerts lists the newest audit entries.
func (s *PostgresStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]AlertEntry, 0, limit)
	for rows.Next() {
		var entry AlertEntry
		var kind string
		if err := rows.Scan(
			&entry.ID, &entry.EntityKey, &kind, &entry.AlertType,
			&entry.DedupKey, &entry.Summary, &entry.Severity, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.Kind = signal.Kind(kind)
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// AppendHistory records one accepted observation point.
func (s *PostgresStore) AppendHistory(ctx context.Context, point HistoryPoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var price interface{}
	if point.Price != nil {
		price = point.Price.String()
	}
	var available interface{}
	if point.Available != nil {
		available = *point.Available
	}

	_, execErr := pool.Exec(ctx, insertHistorySQL,
		point.EntityKey, string(point.Kind), point.ObservedAt, price, available)
	if execErr != nil {
		return fmt.Errorf("append history: %w", execErr)
	}
	return nil
}

// ListHistory returns points for one entity within [from, to).
func (s *PostgresStore) ListHistory(ctx context.Context, entityKey string, kind signal.Kind, from, to time.Time) ([]HistoryPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL, entityKey, string(kind), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	defer rows.Close()

	points := make([]HistoryPoint, 0)
	for rows.Next() {
		point, scanErr := scanHistoryPoint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// RecordDelivery persists one transport outcome.
func (s *PostgresStore) RecordDelivery(ctx context.Context, d Delivery) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertDeliverySQL,
		d.ID, d.AlertID, d.Transport, d.Status, d.Attempts, d.LastError, d.CreatedAt)
	if execErr != nil {
		return fmt.Errorf("record delivery: %w", execErr)
	}
	return nil
}

// PruneBefore deletes old audit, history, and delivery rows.
func (s *PostgresStore) PruneBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, stmt := range []string{pruneAlertsSQL, pruneHistorySQL, pruneDeliveriesSQL} {
		tag, execErr := pool.Exec(ctx, stmt, olderThan)
		if execErr != nil {
			return total, fmt.Errorf("prune: %w", execErr)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		entityKey   string
		kind        string
		source      string
		attrsRaw    []byte
		contentHash string
		observedAt  time.Time
		version     int64
		createdAt   time.Time
		updatedAt   time.Time
	)

	if err := row.Scan(
		&entityKey, &kind, &source, &attrsRaw, &contentHash,
		&observedAt, &version, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	var attrs signal.Attributes
	if err := json.Unmarshal(attrsRaw, &attrs); err != nil {
		return nil, &CorruptRecordError{EntityKey: entityKey, Kind: signal.Kind(kind), Err: err}
	}

	return &Record{
		EntityKey: entityKey,
		Kind:      signal.Kind(kind),
		Signal: signal.Signal{
			EntityKey:   entityKey,
			Source:      source,
			Kind:        signal.Kind(kind),
			Attributes:  attrs,
			ObservedAt:  observedAt,
			ContentHash: contentHash,
		},
		Version:   version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func scanHistoryPoint(rows pgx.Rows) (HistoryPoint, error) {
	var (
		point     HistoryPoint
		kind      string
		priceStr  *string
		available *bool
	)

	if err := rows.Scan(&point.EntityKey, &kind, &point.ObservedAt, &priceStr, &available); err != nil {
		return HistoryPoint{}, err
	}
	point.Kind = signal.Kind(kind)
	point.Available = available

	if priceStr != nil {
		price, err := decimal.NewFromString(*priceStr)
		if err != nil {
			return HistoryPoint{}, fmt.Errorf("parse history price: %w", err)
		}
		point.Price = &price
	}
	return point, nil
}

var _ Store = (*PostgresStore)(nil)
