package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/alert"
)

// DiscordTransport delivers alerts via Discord webhooks. Alert types can be
// routed to per-channel webhooks; anything unrouted goes to the default one.
type DiscordTransport struct {
	defaultURL string
	webhooks   map[string]string
	routing    map[string]string
	client     *http.Client
	logger     zerolog.Logger
}

// NewDiscordTransport constructs a Discord webhook transport. webhooks maps
// channel names to webhook URLs; routing maps alert types to channel names.
func NewDiscordTransport(defaultURL string, webhooks, routing map[string]string, timeout time.Duration, logger zerolog.Logger) *DiscordTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordTransport{
		defaultURL: defaultURL,
		webhooks:   webhooks,
		routing:    routing,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "transport_discord").Logger(),
	}
}

// Name identifies the transport in delivery records.
func (t *DiscordTransport) Name() string { return "discord" }

func (t *DiscordTransport) webhookFor(alertType alert.Type) string {
	if channel, ok := t.routing[string(alertType)]; ok {
		if url := t.webhooks[channel]; url != "" {
			return url
		}
	}
	return t.defaultURL
}

// Send posts the rendered alert text as webhook content on the channel the
// alert type routes to.
func (t *DiscordTransport) Send(ctx context.Context, a alert.Alert) error {
	webhookURL := t.webhookFor(a.Type)
	if webhookURL == "" {
		return fmt.Errorf("no discord webhook configured for alert type %s", a.Type)
	}

	payload := map[string]string{
		"content": a.RenderText(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord responded with status %d", resp.StatusCode)
	}

	t.logger.Info().Str("alert_id", a.ID).Str("alert_type", string(a.Type)).
		Msg("alert delivered via discord")
	return nil
}

var _ Transport = (*DiscordTransport)(nil)
