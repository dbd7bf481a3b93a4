package poller

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/collector"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/pipeline"
)

// Poller drives each collector on its own cadence. One goroutine per
// source; a slow or failing source never delays the others.
type Poller struct {
	collectors []collector.Collector
	pipe       *pipeline.Pipeline
	logger     zerolog.Logger
}

// New constructs a Poller over the given collectors.
func New(collectors []collector.Collector, pipe *pipeline.Pipeline, logger zerolog.Logger) *Poller {
	return &Poller{
		collectors: collectors,
		pipe:       pipe,
		logger:     logger.With().Str("component", "poller").Logger(),
	}
}

// Run blocks until ctx is cancelled, polling every source at its interval.
// Starts are jittered so sources configured with the same interval do not
// stampede together.
func (p *Poller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, c := range p.collectors {
		wg.Add(1)
		go func(c collector.Collector) {
			defer wg.Done()
			p.pollSource(ctx, c)
		}(c)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Poller) pollSource(ctx context.Context, c collector.Collector) {
	src := c.Source()
	logger := p.logger.With().Str("source", src.Name).Logger()

	jitter := time.Duration(rand.Int63n(int64(src.PollInterval) / 4))
	logger.Info().Dur("interval", src.PollInterval).Dur("jitter", jitter).Msg("source polling started")

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(src.PollInterval)
	defer ticker.Stop()

	p.pollOnce(ctx, c, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("source polling stopped")
			return
		case <-ticker.C:
			p.pollOnce(ctx, c, logger)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, c collector.Collector, logger zerolog.Logger) {
	batch, err := c.Collect(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("collection failed, waiting for next interval")
		return
	}
	logger.Debug().Int("observations", len(batch)).Msg("collection complete")
	p.pipe.ProcessBatch(ctx, batch)
}
