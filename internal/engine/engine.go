package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/alert"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/state"
)

// maxDecideAttempts bounds the re-read loop when concurrent writers race on
// the same entity. Each retry re-classifies against the fresh record.
const maxDecideAttempts = 5

// StaleSignalError reports an observation older than the stored state. It
// is discarded, never alerted, so replays cannot fabricate transitions.
type StaleSignalError struct {
	EntityKey  string
	Kind       signal.Kind
	ObservedAt time.Time
	StoredAt   time.Time
}

func (e *StaleSignalError) Error() string {
	return fmt.Sprintf("stale signal for %s/%s: observed %s, stored %s",
		e.EntityKey, e.Kind, e.ObservedAt.Format(time.RFC3339), e.StoredAt.Format(time.RFC3339))
}

// Options captures the alerting policy. Loaded once at startup, immutable
// for the run.
type Options struct {
	AlertOnFirstSighting  bool
	PriceDropThresholdPct float64
	MaxAlertsPerHour      int
	Suppression           map[string]time.Duration
}

// Engine classifies signal transitions into alerts. It holds no state of
// its own: everything it knows between calls lives in the Store.
type Engine struct {
	store  state.Store
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs the decision engine.
func New(store state.Store, opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "engine").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Decide compares the signal against stored state, persists the accepted
// update, and returns the alerts that survived suppression. State is always
// persisted for an accepted signal even when every alert is suppressed.
func (e *Engine) Decide(ctx context.Context, sig signal.Signal) ([]alert.Alert, error) {
	for attempt := 0; attempt < maxDecideAttempts; attempt++ {
		record, err := e.store.Get(ctx, sig.EntityKey, sig.Kind)
		if err != nil {
			return nil, err
		}

		if record != nil && record.Signal.ContentHash == sig.ContentHash {
			// Repeated identical observation: no write, no alert.
			return nil, nil
		}

		if record != nil && !sig.ObservedAt.After(record.Signal.ObservedAt) {
			return nil, &StaleSignalError{
				EntityKey:  sig.EntityKey,
				Kind:       sig.Kind,
				ObservedAt: sig.ObservedAt,
				StoredAt:   record.Signal.ObservedAt,
			}
		}

		var candidates []alert.Alert
		var expectedVersion int64
		if record == nil {
			candidates = e.firstSighting(sig)
		} else {
			candidates = e.classify(record.Signal, sig)
			expectedVersion = record.Version
		}

		if _, err := e.store.Upsert(ctx, sig, expectedVersion); err != nil {
			var conflict *state.ConflictError
			if errors.As(err, &conflict) {
				e.logger.Debug().Str("entity", sig.EntityKey).Int("attempt", attempt+1).
					Msg("version conflict, re-reading state")
				continue
			}
			return nil, err
		}

		e.appendHistory(ctx, sig)

		emitted, err := e.emit(ctx, sig, candidates)
		if err != nil {
			return emitted, err
		}
		return emitted, nil
	}

	return nil, fmt.Errorf("decide %s/%s: gave up after %d version conflicts", sig.EntityKey, sig.Kind, maxDecideAttempts)
}

// firstSighting handles an entity with no stored record. Only listings and
// events are inherently announcement-worthy, and only when the policy flag
// allows it; everything else just seeds state.
func (e *Engine) firstSighting(sig signal.Signal) []alert.Alert {
	if !e.opts.AlertOnFirstSighting {
		return nil
	}

	now := e.now()
	switch sig.Kind {
	case signal.KindListing:
		return []alert.Alert{alert.New(alert.TypeNewListing, sig, alert.Details{Field: "listing", New: sig.Attributes.Title}, now)}
	case signal.KindEvent:
		return []alert.Alert{alert.New(alert.TypeEventNew, sig, alert.Details{Field: "event", New: sig.Attributes.Title}, now)}
	}
	return nil
}

// classify diffs the stored and incoming attributes field by field. Each
// independent change yields its own candidate alert.
func (e *Engine) classify(old, new signal.Signal) []alert.Alert {
	now := e.now()
	var candidates []alert.Alert

	oldAttrs, newAttrs := old.Attributes, new.Attributes

	if new.Kind == signal.KindStock &&
		oldAttrs.Available != nil && newAttrs.Available != nil &&
		!*oldAttrs.Available && *newAttrs.Available {
		candidates = append(candidates, alert.New(alert.TypeRestock, new,
			alert.Details{Field: "available", Old: "false", New: "true"}, now))
	}

	if oldAttrs.Price != nil && newAttrs.Price != nil && !oldAttrs.Price.Equal(*newAttrs.Price) {
		details := alert.Details{Field: "price", Old: oldAttrs.Price.String(), New: newAttrs.Price.String()}
		if e.isSignificantDrop(*oldAttrs.Price, *newAttrs.Price) {
			candidates = append(candidates, alert.New(alert.TypePriceDrop, new, details, now))
		} else {
			candidates = append(candidates, alert.New(alert.TypePriceChange, new, details, now))
		}
	}

	if new.Kind == signal.KindEvent || new.Kind == signal.KindVendor {
		if d := eventDiff(oldAttrs, newAttrs); d != nil {
			candidates = append(candidates, alert.New(alert.TypeEventUpdated, new, *d, now))
		}
		if newcomers := newVendors(oldAttrs, newAttrs); len(newcomers) > 0 {
			candidates = append(candidates, alert.New(alert.TypeVendorSpotted, new,
				alert.Details{Field: "vendors", New: strings.Join(newcomers, ", ")}, now))
		}
	}

	return candidates
}

// isSignificantDrop applies the configured drop threshold: a decrease below
// it still alerts, just at the lower-severity price_change type.
func (e *Engine) isSignificantDrop(old, new decimal.Decimal) bool {
	if new.GreaterThanOrEqual(old) {
		return false
	}
	if e.opts.PriceDropThresholdPct <= 0 || old.IsZero() {
		return true
	}
	dropPct := old.Sub(new).Div(old).Mul(decimal.NewFromInt(100))
	return dropPct.GreaterThanOrEqual(decimal.NewFromFloat(e.opts.PriceDropThresholdPct))
}

func eventDiff(old, new signal.Attributes) *alert.Details {
	if old.EventDate != nil && new.EventDate != nil && !old.EventDate.Equal(*new.EventDate) {
		return &alert.Details{
			Field: "date",
			Old:   old.EventDate.UTC().Format(time.RFC3339),
			New:   new.EventDate.UTC().Format(time.RFC3339),
		}
	}
	if old.Location != "" && new.Location != "" && !strings.EqualFold(old.Location, new.Location) {
		return &alert.Details{Field: "location", Old: old.Location, New: new.Location}
	}
	return nil
}

func newVendors(old, new signal.Attributes) []string {
	var newcomers []string
	for _, vendor := range new.Vendors {
		if !old.HasVendor(vendor) {
			newcomers = append(newcomers, vendor)
		}
	}
	return newcomers
}

// emit applies the per-type suppression window and the global hourly rate
// cap to each candidate, recording the survivors in the audit log. State was
// already persisted by the caller; a capped alert costs nothing on replay.
func (e *Engine) emit(ctx context.Context, sig signal.Signal, candidates []alert.Alert) ([]alert.Alert, error) {
	emitted := make([]alert.Alert, 0, len(candidates))
	for _, a := range candidates {
		window := e.opts.Suppression[string(a.Type)]
		if window > 0 {
			recent, err := e.store.RecentAlert(ctx, sig.EntityKey, sig.Kind, string(a.Type), window)
			if err != nil {
				return emitted, err
			}
			if recent {
				e.logger.Debug().Str("entity", sig.EntityKey).Str("alert_type", string(a.Type)).
					Dur("window", window).Msg("alert suppressed within window")
				continue
			}
		}

		if e.opts.MaxAlertsPerHour > 0 {
			count, err := e.store.CountAlertsSince(ctx, e.now().Add(-time.Hour))
			if err != nil {
				return emitted, err
			}
			if count >= int64(e.opts.MaxAlertsPerHour) {
				e.logger.Warn().Str("entity", sig.EntityKey).Str("alert_type", string(a.Type)).
					Int("max_per_hour", e.opts.MaxAlertsPerHour).Msg("hourly alert limit reached, alert dropped")
				continue
			}
		}

		entry := state.AlertEntry{
			ID:        a.ID,
			EntityKey: a.EntityKey,
			Kind:      a.Kind,
			AlertType: string(a.Type),
			DedupKey:  a.DedupKey,
			Summary:   a.Summary,
			Severity:  string(a.Severity),
			CreatedAt: a.CreatedAt,
		}
		if err := e.store.RecordAlert(ctx, entry); err != nil {
			return emitted, err
		}
		emitted = append(emitted, a)
	}
	return emitted, nil
}

func (e *Engine) appendHistory(ctx context.Context, sig signal.Signal) {
	if sig.Attributes.Price == nil && sig.Attributes.Available == nil {
		return
	}
	point := state.HistoryPoint{
		EntityKey:  sig.EntityKey,
		Kind:       sig.Kind,
		ObservedAt: sig.ObservedAt,
		Price:      sig.Attributes.Price,
		Available:  sig.Attributes.Available,
	}
	if err := e.store.AppendHistory(ctx, point); err != nil {
		e.logger.Error().Err(err).Str("entity", sig.EntityKey).Msg("failed to append history point")
	}
}
