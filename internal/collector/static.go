package collector

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/config"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/normalize"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

// static serves a fixed set of fields once per invocation. Used by the
// simulate command and as a test double for the pipeline.
type static struct {
	src    config.Source
	fields []map[string]string
}

func newStatic(src config.Source, logger zerolog.Logger) (Collector, error) {
	return &static{src: src}, nil
}

// NewStatic builds a static collector over explicit field sets.
func NewStatic(src config.Source, fields ...map[string]string) Collector {
	return &static{src: src, fields: fields}
}

func (c *static) Source() config.Source { return c.src }

func (c *static) Collect(ctx context.Context) ([]normalize.RawObservation, error) {
	collectedAt := time.Now().UTC()
	observations := make([]normalize.RawObservation, 0, len(c.fields))
	for _, fields := range c.fields {
		observations = append(observations, normalize.RawObservation{
			SourceName:  c.src.Name,
			Kind:        signal.Kind(c.src.Kind),
			Fields:      fields,
			CollectedAt: collectedAt,
		})
	}
	return observations, nil
}
