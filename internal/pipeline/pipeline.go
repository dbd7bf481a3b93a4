package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/dispatch"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/engine"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/normalize"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/state"
)

// Stats counts per-observation outcomes across the run.
type Stats struct {
	Processed uint64
	Rejected  uint64
	Filtered  uint64
	Stale     uint64
	Alerts    uint64
}

// Pipeline runs one observation through normalize -> decide -> dispatch.
// Safe for concurrent use: per-entity serialization happens in the store.
type Pipeline struct {
	normalizer *normalize.Normalizer
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger

	processed atomic.Uint64
	rejected  atomic.Uint64
	filtered  atomic.Uint64
	stale     atomic.Uint64
	alerts    atomic.Uint64
}

// New wires the core components together.
func New(normalizer *normalize.Normalizer, eng *engine.Engine, dispatcher *dispatch.Dispatcher, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		engine:     eng,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// Process handles one raw observation end to end. Every failure mode is
// isolated to this observation; only store-level corruption propagates, and
// even that halts just the affected entity at the caller.
func (p *Pipeline) Process(ctx context.Context, raw normalize.RawObservation) error {
	sig, err := p.normalizer.Normalize(raw)
	if err != nil {
		var validation *normalize.ValidationError
		switch {
		case errors.Is(err, normalize.ErrFilteredOut):
			p.filtered.Add(1)
			p.logger.Debug().Str("source", raw.SourceName).Msg("observation filtered out")
			return nil
		case errors.As(err, &validation):
			p.rejected.Add(1)
			p.logger.Warn().Err(err).Str("source", raw.SourceName).Msg("observation rejected")
			return nil
		default:
			return err
		}
	}

	alerts, err := p.engine.Decide(ctx, sig)
	if err != nil {
		var stale *engine.StaleSignalError
		var corrupt *state.CorruptRecordError
		switch {
		case errors.As(err, &stale):
			p.stale.Add(1)
			p.logger.Warn().Err(err).Str("entity", sig.EntityKey).Msg("stale observation discarded")
			return nil
		case errors.As(err, &corrupt):
			p.logger.Error().Err(err).Str("entity", sig.EntityKey).
				Msg("corrupt state record, halting processing for entity")
			return err
		default:
			return err
		}
	}

	p.processed.Add(1)

	for _, a := range alerts {
		p.alerts.Add(1)
		p.logger.Info().Str("alert_type", string(a.Type)).Str("entity", a.EntityKey).
			Str("summary", a.Summary).Msg("alert emitted")
		if p.dispatcher != nil {
			p.dispatcher.Dispatch(ctx, a)
		}
	}

	return nil
}

// ProcessBatch runs a collector batch, continuing past per-observation
// failures.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch []normalize.RawObservation) {
	for _, raw := range batch {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := p.Process(ctx, raw); err != nil {
			p.logger.Error().Err(err).Str("source", raw.SourceName).Msg("observation processing failed")
		}
	}
}

// Snapshot returns the current counters.
func (p *Pipeline) Snapshot() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Rejected:  p.rejected.Load(),
		Filtered:  p.filtered.Load(),
		Stale:     p.stale.Load(),
		Alerts:    p.alerts.Load(),
	}
}
