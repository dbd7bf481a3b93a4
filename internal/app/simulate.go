package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/collector"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/config"
)

// SimulateOptions describe one synthetic observation.
type SimulateOptions struct {
	SourceName string
	Fields     []string
}

// Simulate feeds a synthetic observation for a configured source through
// the real pipeline, including delivery. Useful for verifying transport
// credentials and filter rules without waiting for a poll.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	var src *config.Source
	for i := range a.Config.Sources {
		if a.Config.Sources[i].Name == opts.SourceName {
			src = &a.Config.Sources[i]
			break
		}
	}
	if src == nil {
		return fmt.Errorf("unknown source %q", opts.SourceName)
	}

	fields, err := parseFieldArgs(opts.Fields)
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	pipe := a.newPipeline(store, a.newTransports())

	c := collector.NewStatic(*src, fields)
	batch, err := c.Collect(ctx)
	if err != nil {
		return err
	}
	pipe.ProcessBatch(ctx, batch)

	stats := pipe.Snapshot()
	a.Logger.Info().Uint64("processed", stats.Processed).Uint64("rejected", stats.Rejected).
		Uint64("filtered", stats.Filtered).Uint64("alerts", stats.Alerts).Msg("simulation complete")
	return nil
}

func parseFieldArgs(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one --field key=value is required")
	}
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", arg)
		}
		fields[key] = value
	}
	return fields, nil
}
