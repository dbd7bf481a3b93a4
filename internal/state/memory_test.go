package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

func testSignal(observedAt time.Time, available bool) signal.Signal {
	attrs := signal.Attributes{Title: "Pokemon Booster Box", Available: &available}
	return signal.Signal{
		EntityKey:   "smyths:abc123",
		Source:      "smyths",
		Kind:        signal.KindStock,
		Attributes:  attrs,
		ObservedAt:  observedAt,
		ContentHash: attrs.Hash(),
	}
}

func TestMemoryStoreGetAbsent(t *testing.T) {
	store := NewMemoryStore()

	record, err := store.Get(context.Background(), "nobody", signal.KindStock)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestMemoryStoreInsertThenUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Now().UTC()

	record, err := store.Upsert(ctx, testSignal(t0, false), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.Version)

	record, err = store.Upsert(ctx, testSignal(t0.Add(time.Minute), true), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.Version)

	stored, err := store.Get(ctx, "smyths:abc123", signal.KindStock)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, *stored.Signal.Attributes.Available)
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Now().UTC()

	_, err := store.Upsert(ctx, testSignal(t0, false), 0)
	require.NoError(t, err)

	// Insert against an existing record conflicts.
	_, err = store.Upsert(ctx, testSignal(t0.Add(time.Minute), true), 0)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	// Update with a stale version conflicts.
	_, err = store.Upsert(ctx, testSignal(t0.Add(time.Minute), true), 7)
	require.ErrorAs(t, err, &conflict)
}

func TestMemoryStoreConcurrentUpsertNoLostUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Now().UTC()

	_, err := store.Upsert(ctx, testSignal(t0, false), 0)
	require.NoError(t, err)

	// Both writers read version 1; exactly one CAS may succeed.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Upsert(ctx, testSignal(t0.Add(time.Minute), true), 1)
		}(i)
	}
	wg.Wait()

	var conflicts int
	for _, err := range errs {
		if err != nil {
			var conflict *ConflictError
			require.ErrorAs(t, err, &conflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, conflicts)

	record, err := store.Get(ctx, "smyths:abc123", signal.KindStock)
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.Version)
}

func TestMemoryStoreRecentAlert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.RecordAlert(ctx, AlertEntry{
		ID:        "a1",
		EntityKey: "smyths:abc123",
		Kind:      signal.KindStock,
		AlertType: "restock",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}))

	recent, err := store.RecentAlert(ctx, "smyths:abc123", signal.KindStock, "restock", 6*time.Hour)
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = store.RecentAlert(ctx, "smyths:abc123", signal.KindStock, "restock", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, recent, "outside the window")

	recent, err = store.RecentAlert(ctx, "smyths:abc123", signal.KindStock, "price_drop", 6*time.Hour)
	require.NoError(t, err)
	assert.False(t, recent, "different alert type")
}

func TestMemoryStoreCountAlertsSince(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.RecordAlert(ctx, AlertEntry{ID: "a1", EntityKey: "e1", Kind: signal.KindStock, AlertType: "restock", CreatedAt: now.Add(-30 * time.Minute)}))
	require.NoError(t, store.RecordAlert(ctx, AlertEntry{ID: "a2", EntityKey: "e2", Kind: signal.KindPrice, AlertType: "price_drop", CreatedAt: now.Add(-10 * time.Minute)}))
	require.NoError(t, store.RecordAlert(ctx, AlertEntry{ID: "a3", EntityKey: "e3", Kind: signal.KindStock, AlertType: "restock", CreatedAt: now.Add(-2 * time.Hour)}))

	count, err := store.CountAlertsSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "counts across entities and types within the window")
}

func TestMemoryStoreHistoryWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		price := decimal.NewFromInt(int64(20 + i))
		require.NoError(t, store.AppendHistory(ctx, HistoryPoint{
			EntityKey:  "smyths:abc123",
			Kind:       signal.KindPrice,
			ObservedAt: base.Add(time.Duration(i) * time.Hour),
			Price:      &price,
		}))
	}

	points, err := store.ListHistory(ctx, "smyths:abc123", signal.KindPrice, base.Add(time.Hour), base.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, "21", points[0].Price.String())
	assert.Equal(t, "23", points[2].Price.String())
}

func TestMemoryStorePruneBefore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.RecordAlert(ctx, AlertEntry{ID: "old", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.RecordAlert(ctx, AlertEntry{ID: "new", CreatedAt: now}))
	require.NoError(t, store.AppendHistory(ctx, HistoryPoint{EntityKey: "e", Kind: signal.KindPrice, ObservedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.RecordDelivery(ctx, Delivery{ID: "d1", CreatedAt: now.Add(-48 * time.Hour)}))

	pruned, err := store.PruneBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), pruned)

	entries, err := store.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].ID)
}
