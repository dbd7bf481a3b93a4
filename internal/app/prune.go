package app

import (
	"context"
	"errors"
	"time"
)

// Prune deletes alert, history, and delivery rows older than the cutoff.
// State records are retained: pruning is bookkeeping maintenance, never a
// reset of change-detection baselines.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than must be a positive duration")
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)

	if opts.DryRun {
		a.Logger.Info().Time("cutoff", cutoff).Msg("prune dry-run: nothing deleted")
		return nil
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	pruned, err := store.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	a.Logger.Info().Int64("rows", pruned).Time("cutoff", cutoff).Msg("prune complete")
	return nil
}
