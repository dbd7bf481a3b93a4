package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/config"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/normalize"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

// feedItem mirrors one entry of a scraped item feed. All values arrive as
// strings; typing happens in the normalizer.
type feedItem struct {
	Fields map[string]string `json:"fields"`
}

type feedPayload struct {
	Items []feedItem `json:"items"`
}

// jsonFeed fetches a JSON item feed over HTTP. It is the boundary
// collaborator for sources whose scraping runs elsewhere and publishes
// results as a feed.
type jsonFeed struct {
	src    config.Source
	client *http.Client
	logger zerolog.Logger
}

func newJSONFeed(src config.Source, logger zerolog.Logger) (Collector, error) {
	timeout := src.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &jsonFeed{
		src:    src,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "collector_jsonfeed").Str("source", src.Name).Logger(),
	}, nil
}

func (c *jsonFeed) Source() config.Source { return c.src }

// Collect performs one fetch. Network failures are returned to the poller,
// which logs and waits for the next interval; they never reach the engine.
func (c *jsonFeed) Collect(ctx context.Context) ([]normalize.RawObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed responded with status %d", resp.StatusCode)
	}

	var payload feedPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	collectedAt := time.Now().UTC()
	observations := make([]normalize.RawObservation, 0, len(payload.Items))
	for _, item := range payload.Items {
		observations = append(observations, normalize.RawObservation{
			SourceName:  c.src.Name,
			Kind:        signal.Kind(c.src.Kind),
			Fields:      item.Fields,
			CollectedAt: collectedAt,
		})
	}

	c.logger.Debug().Int("items", len(observations)).Msg("feed collected")
	return observations, nil
}
