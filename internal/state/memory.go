package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

type seriesKey struct {
	entityKey string
	kind      signal.Kind
}

// MemoryStore is a non-durable Store with the same compare-and-set
// semantics as the Postgres implementation. It backs tests and DSN-less
// runs, where persistence is degraded, not required.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[seriesKey]*Record
	alerts     []AlertEntry
	history    []HistoryPoint
	deliveries []Delivery
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[seriesKey]*Record)}
}

// Get returns a copy of the stored record, or nil, nil when absent.
func (s *MemoryStore) Get(ctx context.Context, entityKey string, kind signal.Kind) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[seriesKey{entityKey, kind}]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

// Upsert performs the compare-and-set write under the store mutex.
func (s *MemoryStore) Upsert(ctx context.Context, sig signal.Signal, expectedVersion int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{sig.EntityKey, sig.Kind}
	now := time.Now().UTC()

	existing, ok := s.records[key]
	if !ok {
		if expectedVersion != 0 {
			return nil, &ConflictError{EntityKey: sig.EntityKey, Kind: sig.Kind, Expected: expectedVersion}
		}
		record := &Record{
			EntityKey: sig.EntityKey,
			Kind:      sig.Kind,
			Signal:    sig,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.records[key] = record
		copied := *record
		return &copied, nil
	}

	if existing.Version != expectedVersion {
		return nil, &ConflictError{EntityKey: sig.EntityKey, Kind: sig.Kind, Expected: expectedVersion}
	}

	existing.Signal = sig
	existing.Version++
	existing.UpdatedAt = now
	copied := *existing
	return &copied, nil
}

// RecordAlert appends one audit entry.
func (s *MemoryStore) RecordAlert(ctx context.Context, entry AlertEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, entry)
	return nil
}

// RecentAlert reports suppression-window hits.
func (s *MemoryStore) RecentAlert(ctx context.Context, entityKey string, kind signal.Kind, alertType string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-window)
	for _, entry := range s.alerts {
		if entry.EntityKey == entityKey && entry.Kind == kind &&
			entry.AlertType == alertType && entry.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// CountAlertsSince counts all alerts recorded after the cutoff.
func (s *MemoryStore) CountAlertsSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, entry := range s.alerts {
		if entry.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// ListRecentAlerts lists the newest audit entries.
func (s *MemoryStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]AlertEntry, len(s.alerts))
	copy(entries, s.alerts)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// AppendHistory records one accepted observation point.
func (s *MemoryStore) AppendHistory(ctx context.Context, point HistoryPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, point)
	return nil
}

// ListHistory returns points for one entity within [from, to).
func (s *MemoryStore) ListHistory(ctx context.Context, entityKey string, kind signal.Kind, from, to time.Time) ([]HistoryPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	points := make([]HistoryPoint, 0)
	for _, point := range s.history {
		if point.EntityKey == entityKey && point.Kind == kind &&
			!point.ObservedAt.Before(from) && point.ObservedAt.Before(to) {
			points = append(points, point)
		}
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].ObservedAt.Before(points[j].ObservedAt)
	})
	return points, nil
}

// RecordDelivery persists one transport outcome.
func (s *MemoryStore) RecordDelivery(ctx context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	return nil
}

// Deliveries returns a snapshot of recorded deliveries, newest last.
func (s *MemoryStore) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// PruneBefore deletes old audit, history, and delivery rows.
func (s *MemoryStore) PruneBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64

	alerts := s.alerts[:0]
	for _, entry := range s.alerts {
		if entry.CreatedAt.Before(olderThan) {
			pruned++
			continue
		}
		alerts = append(alerts, entry)
	}
	s.alerts = alerts

	history := s.history[:0]
	for _, point := range s.history {
		if point.ObservedAt.Before(olderThan) {
			pruned++
			continue
		}
		history = append(history, point)
	}
	s.history = history

	deliveries := s.deliveries[:0]
	for _, d := range s.deliveries {
		if d.CreatedAt.Before(olderThan) {
			pruned++
			continue
		}
		deliveries = append(deliveries, d)
	}
	s.deliveries = deliveries

	return pruned, nil
}

// Close is a no-op; the store holds no external resources.
func (s *MemoryStore) Close() {}

var _ Store = (*MemoryStore)(nil)
