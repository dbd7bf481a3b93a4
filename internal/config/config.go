package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/logging"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Sources  []Source       `mapstructure:"sources"`
	Filters  FilterConfig   `mapstructure:"filters"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Source describes one monitored external target.
type Source struct {
	Name           string        `mapstructure:"name"`
	Kind           string        `mapstructure:"kind"`
	ParserKey      string        `mapstructure:"parser_key"`
	URL            string        `mapstructure:"url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	IdentityFields []string      `mapstructure:"identity_fields"`
	Tags           []string      `mapstructure:"tags"`
	Enabled        bool          `mapstructure:"enabled"`
	Description    string        `mapstructure:"description"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// FilterConfig holds keyword and location rules applied by the normalizer
// before any observation reaches the decision engine.
type FilterConfig struct {
	Allowlist        []string `mapstructure:"allowlist"`
	Blocklist        []string `mapstructure:"blocklist"`
	AllowedLocations []string `mapstructure:"allowed_locations"`
}

// AlertingConfig defines alert policy and routing.
type AlertingConfig struct {
	Enabled               bool                     `mapstructure:"enabled"`
	AlertOnFirstSighting  bool                     `mapstructure:"alert_on_first_sighting"`
	PriceDropThresholdPct float64                  `mapstructure:"price_drop_threshold_pct"`
	MaxAlertsPerHour      int                      `mapstructure:"max_alerts_per_hour"`
	Suppression           map[string]time.Duration `mapstructure:"suppression"`
	Telegram              TelegramConfig           `mapstructure:"telegram"`
	Discord               DiscordConfig            `mapstructure:"discord"`
}

// TelegramConfig holds Telegram Bot API delivery settings.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DiscordConfig holds Discord webhook delivery settings. Alert types can be
// routed to named channels (webhooks keyed by channel name); unrouted types
// fall back to webhook_url.
type DiscordConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	WebhookURL string            `mapstructure:"webhook_url"`
	Webhooks   map[string]string `mapstructure:"webhooks"`
	Routing    map[string]string `mapstructure:"routing"`
}

// DispatchConfig tunes per-transport retry behaviour.
type DispatchConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tcg-sentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.alert_on_first_sighting", true)
	v.SetDefault("alerting.price_drop_threshold_pct", 0.0)
	v.SetDefault("alerting.max_alerts_per_hour", 0)
	v.SetDefault("alerting.suppression", map[string]string{
		"restock":        "6h",
		"price_drop":     "12h",
		"price_change":   "12h",
		"event_updated":  "1h",
		"vendor_spotted": "1h",
	})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.discord.enabled", false)

	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.initial_backoff", "2s")
	v.SetDefault("dispatch.send_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.max_attempts must be greater than zero")
	}
	if c.Dispatch.InitialBackoff <= 0 {
		return fmt.Errorf("dispatch.initial_backoff must be greater than zero")
	}
	if c.Alerting.PriceDropThresholdPct < 0 {
		return fmt.Errorf("alerting.price_drop_threshold_pct cannot be negative")
	}
	if c.Alerting.MaxAlertsPerHour < 0 {
		return fmt.Errorf("alerting.max_alerts_per_hour cannot be negative")
	}
	for alertType, window := range c.Alerting.Suppression {
		if window < 0 {
			return fmt.Errorf("alerting.suppression.%s cannot be negative", alertType)
		}
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = struct{}{}

		if !signal.Kind(src.Kind).Valid() {
			return fmt.Errorf("source %q has invalid kind %q", src.Name, src.Kind)
		}
		if src.ParserKey == "" {
			return fmt.Errorf("source %q requires a parser_key", src.Name)
		}
		if src.URL == "" {
			return fmt.Errorf("source %q requires a url", src.Name)
		}
		if src.PollInterval < time.Minute {
			return fmt.Errorf("source %q poll_interval below 60s minimum", src.Name)
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Alerting.Discord.Enabled {
		if c.Alerting.Discord.WebhookURL == "" && len(c.Alerting.Discord.Webhooks) == 0 {
			return fmt.Errorf("alerting.discord needs webhook_url or webhooks when discord is enabled")
		}
		for alertType, channel := range c.Alerting.Discord.Routing {
			if _, ok := c.Alerting.Discord.Webhooks[channel]; !ok {
				return fmt.Errorf("alerting.discord.routing.%s targets unknown channel %q", alertType, channel)
			}
		}
	}

	return nil
}

// EnabledSources returns only the sources flagged enabled.
func (c *Config) EnabledSources() []Source {
	out := make([]Source, 0, len(c.Sources))
	for _, src := range c.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// SuppressionWindow returns the configured window for an alert type, or
// zero when the type has none (never suppressed).
func (c *Config) SuppressionWindow(alertType string) time.Duration {
	return c.Alerting.Suppression[alertType]
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
