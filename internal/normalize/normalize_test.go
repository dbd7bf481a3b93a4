package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/config"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/signal"
)

func testSources() []config.Source {
	return []config.Source{
		{Name: "smyths", Kind: "stock", ParserKey: "jsonfeed", URL: "https://example.test", PollInterval: 5 * time.Minute, IdentityFields: []string{"sku"}, Enabled: true},
		{Name: "league_events", Kind: "event", ParserKey: "jsonfeed", URL: "https://example.test", PollInterval: 30 * time.Minute, IdentityFields: []string{"id"}, Enabled: true},
	}
}

func stockObservation(fields map[string]string) RawObservation {
	return RawObservation{
		SourceName:  "smyths",
		Kind:        signal.KindStock,
		Fields:      fields,
		CollectedAt: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	}
}

func TestNormalizeStockSignal(t *testing.T) {
	n := New(testSources(), config.FilterConfig{})

	sig, err := n.Normalize(stockObservation(map[string]string{
		"sku":       "SKU123",
		"title":     "Pokemon Booster Box",
		"url":       "https://example.test/sku123",
		"available": "in stock",
		"price":     "24.99",
		"currency":  "eur",
	}))
	require.NoError(t, err)

	assert.Equal(t, "smyths", sig.Source)
	assert.Equal(t, signal.KindStock, sig.Kind)
	require.NotNil(t, sig.Attributes.Available)
	assert.True(t, *sig.Attributes.Available)
	require.NotNil(t, sig.Attributes.Price)
	assert.Equal(t, "24.99", sig.Attributes.Price.String())
	assert.Equal(t, "EUR", sig.Attributes.Currency)
	assert.NotEmpty(t, sig.EntityKey)
	assert.NotEmpty(t, sig.ContentHash)
}

func TestNormalizeDeterministic(t *testing.T) {
	n := New(testSources(), config.FilterConfig{})
	obs := stockObservation(map[string]string{"sku": "SKU123", "title": "Pokemon Booster Box", "available": "true"})

	sig1, err := n.Normalize(obs)
	require.NoError(t, err)
	sig2, err := n.Normalize(obs)
	require.NoError(t, err)

	assert.Equal(t, sig1.EntityKey, sig2.EntityKey)
	assert.Equal(t, sig1.ContentHash, sig2.ContentHash)
}

func TestNormalizeValidationErrors(t *testing.T) {
	n := New(testSources(), config.FilterConfig{})

	cases := []struct {
		name   string
		fields map[string]string
	}{
		{"missing availability", map[string]string{"sku": "SKU123", "title": "Pokemon Booster Box"}},
		{"negative price", map[string]string{"sku": "SKU123", "title": "Pokemon Booster Box", "available": "true", "price": "-5"}},
		{"garbage price", map[string]string{"sku": "SKU123", "title": "Pokemon Booster Box", "available": "true", "price": "free!"}},
		{"missing title", map[string]string{"sku": "SKU123", "available": "true"}},
		{"unknown availability", map[string]string{"sku": "SKU123", "title": "Pokemon Booster Box", "available": "maybe"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(stockObservation(tc.fields))
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
		})
	}
}

func TestNormalizeUnknownSource(t *testing.T) {
	n := New(testSources(), config.FilterConfig{})

	obs := stockObservation(map[string]string{"sku": "SKU123", "title": "Pokemon Booster Box", "available": "true"})
	obs.SourceName = "nowhere"

	_, err := n.Normalize(obs)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestNormalizeEventRequiresDate(t *testing.T) {
	n := New(testSources(), config.FilterConfig{})

	_, err := n.Normalize(RawObservation{
		SourceName:  "league_events",
		Kind:        signal.KindEvent,
		Fields:      map[string]string{"id": "ev-1", "title": "Regional League"},
		CollectedAt: time.Now().UTC(),
	})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "date", validation.Field)
}

func TestKeywordFilters(t *testing.T) {
	filters := config.FilterConfig{
		Allowlist: []string{"pokemon", "elite trainer"},
		Blocklist: []string{"yu-gi-oh"},
	}
	n := New(testSources(), filters)

	_, err := n.Normalize(stockObservation(map[string]string{"sku": "1", "title": "Magic The Gathering Cards", "available": "true"}))
	assert.ErrorIs(t, err, ErrFilteredOut)

	_, err = n.Normalize(stockObservation(map[string]string{"sku": "2", "title": "Yu-Gi-Oh Pokemon Crossover", "available": "true"}))
	assert.ErrorIs(t, err, ErrFilteredOut, "blocklist wins over allowlist")

	_, err = n.Normalize(stockObservation(map[string]string{"sku": "3", "title": "Pokemon Elite Trainer Box", "available": "true"}))
	assert.NoError(t, err)
}

func TestLocationFilterAppliesToEvents(t *testing.T) {
	filters := config.FilterConfig{AllowedLocations: []string{"dublin", "cork"}}
	n := New(testSources(), filters)

	obs := RawObservation{
		SourceName:  "league_events",
		Kind:        signal.KindEvent,
		Fields:      map[string]string{"id": "ev-1", "title": "Regional League", "date": "2026-09-12", "location": "Galway"},
		CollectedAt: time.Now().UTC(),
	}
	_, err := n.Normalize(obs)
	assert.ErrorIs(t, err, ErrFilteredOut)

	obs.Fields["location"] = "Dublin City Centre"
	_, err = n.Normalize(obs)
	assert.NoError(t, err)
}
