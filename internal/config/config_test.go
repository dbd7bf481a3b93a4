package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: tcg-sentinel\n"))
	require.NoError(t, err)

	assert.Equal(t, "tcg-sentinel", cfg.App.Name)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Alerting.AlertOnFirstSighting)
	assert.Zero(t, cfg.Alerting.MaxAlertsPerHour, "no hourly cap unless configured")
	assert.Equal(t, 6*time.Hour, cfg.SuppressionWindow("restock"))
	assert.Equal(t, 12*time.Hour, cfg.SuppressionWindow("price_drop"))
	assert.Zero(t, cfg.SuppressionWindow("new_listing"), "unlisted types have no window")
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.InitialBackoff)
}

func TestLoadSources(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
sources:
  - name: smyths_pokemon
    kind: stock
    parser_key: jsonfeed
    url: https://feeds.example.test/smyths
    poll_interval: 5m
    identity_fields: [sku]
    tags: [retailer, ireland]
    enabled: true
  - name: disabled_source
    kind: listing
    parser_key: jsonfeed
    url: https://feeds.example.test/other
    poll_interval: 10m
    enabled: false
`))
	require.NoError(t, err)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, 5*time.Minute, cfg.Sources[0].PollInterval)
	assert.Equal(t, []string{"sku"}, cfg.Sources[0].IdentityFields)

	enabled := cfg.EnabledSources()
	require.Len(t, enabled, 1)
	assert.Equal(t, "smyths_pokemon", enabled[0].Name)
}

func TestValidateRejectsBadSources(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing parser key", `
sources:
  - name: s1
    kind: stock
    url: https://example.test
    poll_interval: 5m
`},
		{"invalid kind", `
sources:
  - name: s1
    kind: widget
    parser_key: jsonfeed
    url: https://example.test
    poll_interval: 5m
`},
		{"interval too short", `
sources:
  - name: s1
    kind: stock
    parser_key: jsonfeed
    url: https://example.test
    poll_interval: 30s
`},
		{"duplicate names", `
sources:
  - name: s1
    kind: stock
    parser_key: jsonfeed
    url: https://example.test
    poll_interval: 5m
  - name: s1
    kind: stock
    parser_key: jsonfeed
    url: https://example.test
    poll_interval: 5m
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidateTelegramNeedsCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, `
alerting:
  telegram:
    enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot_token")
}

func TestLoadDiscordChannelRouting(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
alerting:
  discord:
    enabled: true
    webhooks:
      stock: https://discord.test/stock
      events: https://discord.test/events
    routing:
      restock: stock
      event_updated: events
`))
	require.NoError(t, err)

	assert.Equal(t, "https://discord.test/stock", cfg.Alerting.Discord.Webhooks["stock"])
	assert.Equal(t, "stock", cfg.Alerting.Discord.Routing["restock"])
	assert.Equal(t, "events", cfg.Alerting.Discord.Routing["event_updated"])
}

func TestValidateDiscordRejectsBadRouting(t *testing.T) {
	_, err := Load(writeConfig(t, `
alerting:
  discord:
    enabled: true
    webhooks:
      stock: https://discord.test/stock
    routing:
      restock: nonexistent
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel")

	_, err = Load(writeConfig(t, `
alerting:
  discord:
    enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook_url or webhooks")
}

func TestValidateRejectsNegativeAlertLimit(t *testing.T) {
	_, err := Load(writeConfig(t, `
alerting:
  max_alerts_per_hour: -5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_alerts_per_hour")
}
