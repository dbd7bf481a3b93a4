package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/collector"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/config"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/dispatch"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/engine"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/normalize"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/pipeline"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/poller"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/state"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// openStore returns the durable store, or a non-durable in-memory one when
// no DSN is configured. The caller owns Close.
func (a *App) openStore(ctx context.Context) (state.Store, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; state will not survive restarts")
		return state.NewMemoryStore(), nil
	}

	pool, err := state.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}

	store := state.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (a *App) newTransports() []dispatch.Transport {
	var transports []dispatch.Transport
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		transports = append(transports, dispatch.NewTelegramTransport(
			cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Dispatch.SendTimeout, a.Logger))
	}
	if a.Config.Alerting.Discord.Enabled {
		cfg := a.Config.Alerting.Discord
		transports = append(transports, dispatch.NewDiscordTransport(
			cfg.WebhookURL, cfg.Webhooks, cfg.Routing, a.Config.Dispatch.SendTimeout, a.Logger))
	}
	return transports
}

func (a *App) newPipeline(store state.Store, transports []dispatch.Transport) *pipeline.Pipeline {
	normalizer := normalize.New(a.Config.Sources, a.Config.Filters)

	eng := engine.New(store, engine.Options{
		AlertOnFirstSighting:  a.Config.Alerting.AlertOnFirstSighting,
		PriceDropThresholdPct: a.Config.Alerting.PriceDropThresholdPct,
		MaxAlertsPerHour:      a.Config.Alerting.MaxAlertsPerHour,
		Suppression:           a.Config.Alerting.Suppression,
	}, a.Logger)

	var dispatcher *dispatch.Dispatcher
	if a.Config.Alerting.Enabled && len(transports) > 0 {
		dispatcher = dispatch.New(transports, store, dispatch.Options{
			MaxAttempts:    a.Config.Dispatch.MaxAttempts,
			InitialBackoff: a.Config.Dispatch.InitialBackoff,
			SendTimeout:    a.Config.Dispatch.SendTimeout,
		}, a.Logger)
	}

	return pipeline.New(normalizer, eng, dispatcher, a.Logger)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sources := a.Config.EnabledSources()
	if len(sources) == 0 {
		return errors.New("no enabled sources configured")
	}

	registry := collector.NewRegistry()
	collectors := make([]collector.Collector, 0, len(sources))
	for _, src := range sources {
		c, err := registry.New(src, a.Logger)
		if err != nil {
			return err
		}
		collectors = append(collectors, c)
	}

	transports := a.newTransports()
	if a.Config.Alerting.Enabled && len(transports) == 0 {
		a.Logger.Warn().Msg("alerting enabled but no transports configured; alerts will only be logged")
	}

	pipe := a.newPipeline(store, transports)
	run := poller.New(collectors, pipe, a.Logger)

	a.Logger.Info().Int("sources", len(sources)).Int("transports", len(transports)).
		Msg("starting monitoring service")

	err = run.Run(ctx)
	stats := pipe.Snapshot()
	a.Logger.Info().Uint64("processed", stats.Processed).Uint64("rejected", stats.Rejected).
		Uint64("filtered", stats.Filtered).Uint64("stale", stats.Stale).Uint64("alerts", stats.Alerts).
		Msg("monitoring service stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting one entity's history.
type ExportOptions struct {
	EntityKey string
	Kind      string
	From      *time.Time
	To        *time.Time
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// PruneOptions configure maintenance pruning.
type PruneOptions struct {
	OlderThan time.Duration
	DryRun    bool
}
