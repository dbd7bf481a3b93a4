package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/config"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

func TestRegistryUnknownParserKey(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.New(config.Source{Name: "smyths", ParserKey: "does-not-exist"}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestRegistryKeys(t *testing.T) {
	registry := NewRegistry()
	assert.Equal(t, []string{"jsonfeed", "static"}, registry.Keys())
}

func TestJSONFeedCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [
			{"fields": {"sku": "SKU123", "title": "Pokemon Booster Box", "available": "true", "price": "24.99"}},
			{"fields": {"sku": "SKU456", "title": "Elite Trainer Box", "available": "false"}}
		]}`))
	}))
	defer srv.Close()

	registry := NewRegistry()
	src := config.Source{
		Name:         "smyths",
		Kind:         "stock",
		ParserKey:    "jsonfeed",
		URL:          srv.URL,
		PollInterval: 5 * time.Minute,
	}
	c, err := registry.New(src, zerolog.Nop())
	require.NoError(t, err)

	batch, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 2)

	assert.Equal(t, "smyths", batch[0].SourceName)
	assert.Equal(t, signal.KindStock, batch[0].Kind)
	assert.Equal(t, "SKU123", batch[0].Fields["sku"])
	assert.False(t, batch[0].CollectedAt.IsZero())
}

func TestJSONFeedCollectHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	registry := NewRegistry()
	c, err := registry.New(config.Source{Name: "smyths", Kind: "stock", ParserKey: "jsonfeed", URL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Collect(context.Background())
	assert.Error(t, err)
}

func TestStaticCollect(t *testing.T) {
	src := config.Source{Name: "smyths", Kind: "stock"}
	c := NewStatic(src, map[string]string{"sku": "SKU123", "title": "Pokemon Booster Box", "available": "true"})

	batch, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "SKU123", batch[0].Fields["sku"])
}
