package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("state: store not configured")
)

// ConflictError reports a compare-and-set failure on Upsert: another writer
// advanced the record version first. Callers re-read and retry.
type ConflictError struct {
	EntityKey string
	Kind      signal.Kind
	Expected  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("state: version conflict for %s/%s (expected %d)", e.EntityKey, e.Kind, e.Expected)
}

// CorruptRecordError reports an undecodable stored record. It is surfaced,
// never swallowed: a corrupt record means lost dedup history for that entity.
type CorruptRecordError struct {
	EntityKey string
	Kind      signal.Kind
	Err       error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("state: corrupt record for %s/%s: %v", e.EntityKey, e.Kind, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// Record is the durable last-known Signal for one (entity_key, kind) series
// plus optimistic-concurrency bookkeeping.
type Record struct {
	EntityKey string
	Kind      signal.Kind
	Signal    signal.Signal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AlertEntry is one emitted alert, kept for suppression checks and audit.
type AlertEntry struct {
	ID        string
	EntityKey string
	Kind      signal.Kind
	AlertType string
	DedupKey  string
	Summary   string
	Severity  string
	CreatedAt time.Time
}

// HistoryPoint is one accepted price/availability observation, append-only,
// feeding the export command.
type HistoryPoint struct {
	EntityKey  string
	Kind       signal.Kind
	ObservedAt time.Time
	Price      *decimal.Decimal
	Available  *bool
}

// Delivery records the terminal outcome of one alert on one transport.
type Delivery struct {
	ID        string
	AlertID   string
	Transport string
	Status    string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// Delivery statuses.
const (
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Store is the single synchronization point of the pipeline. Upsert must be
// atomic compare-and-set across concurrent writers and process restarts.
type Store interface {
	// Get returns nil, nil when no record exists yet.
	Get(ctx context.Context, entityKey string, kind signal.Kind) (*Record, error)
	// Upsert inserts (expectedVersion 0) or updates the record, failing
	// with *ConflictError when the stored version does not match.
	Upsert(ctx context.Context, sig signal.Signal, expectedVersion int64) (*Record, error)
	// RecordAlert appends to the alert audit log.
	RecordAlert(ctx context.Context, entry AlertEntry) error
	// RecentAlert reports whether an alert of this type fired for the
	// entity within the window.
	RecentAlert(ctx context.Context, entityKey string, kind signal.Kind, alertType string, window time.Duration) (bool, error)
	// CountAlertsSince counts all alerts recorded after the cutoff,
	// across every entity and type.
	CountAlertsSince(ctx context.Context, since time.Time) (int64, error)
	// ListRecentAlerts returns the newest audit entries.
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertEntry, error)
	// AppendHistory records one accepted observation point.
	AppendHistory(ctx context.Context, point HistoryPoint) error
	// ListHistory returns points for one entity within [from, to).
	ListHistory(ctx context.Context, entityKey string, kind signal.Kind, from, to time.Time) ([]HistoryPoint, error)
	// RecordDelivery persists a transport delivery outcome.
	RecordDelivery(ctx context.Context, d Delivery) error
	// PruneBefore deletes alert, history, and delivery rows older than the
	// cutoff. State records themselves are retained.
	PruneBefore(ctx context.Context, olderThan time.Time) (int64, error)
	// Close releases any underlying resources.
	Close()
}
