package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramTransportSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	transport := NewTelegramTransport("token", "chat", srv.URL, time.Second, zerolog.Nop())
	require.NoError(t, transport.Send(context.Background(), testAlert()))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "Back in stock")
	assert.Contains(t, received["text"], "restock")
}

func TestTelegramTransportAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	transport := NewTelegramTransport("token", "chat", srv.URL, time.Second, zerolog.Nop())
	assert.Error(t, transport.Send(context.Background(), testAlert()), "ok=false must fail")
}

func TestTelegramTransportHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	transport := NewTelegramTransport("token", "chat", srv.URL, time.Second, zerolog.Nop())
	assert.Error(t, transport.Send(context.Background(), testAlert()))
}

func TestDiscordTransportSuccess(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	transport := NewDiscordTransport(srv.URL, nil, nil, time.Second, zerolog.Nop())
	require.NoError(t, transport.Send(context.Background(), testAlert()))
	assert.Contains(t, received["content"], "Back in stock")
}

func TestDiscordTransportRoutesByAlertType(t *testing.T) {
	hits := map[string]int{}
	newChannelServer := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[name]++
			w.WriteHeader(http.StatusNoContent)
		}))
	}
	stockSrv := newChannelServer("stock")
	defer stockSrv.Close()
	defaultSrv := newChannelServer("default")
	defer defaultSrv.Close()

	transport := NewDiscordTransport(
		defaultSrv.URL,
		map[string]string{"stock": stockSrv.URL},
		map[string]string{"restock": "stock"},
		time.Second, zerolog.Nop(),
	)

	// testAlert is a restock: it must land on the stock channel.
	require.NoError(t, transport.Send(context.Background(), testAlert()))
	assert.Equal(t, 1, hits["stock"])
	assert.Equal(t, 0, hits["default"])

	// An unrouted type falls back to the default webhook.
	unrouted := testAlert()
	unrouted.Type = "price_drop"
	require.NoError(t, transport.Send(context.Background(), unrouted))
	assert.Equal(t, 1, hits["default"])
}

func TestDiscordTransportNoWebhookForType(t *testing.T) {
	transport := NewDiscordTransport(
		"",
		map[string]string{"events": "https://discord.test/events"},
		nil,
		time.Second, zerolog.Nop(),
	)

	err := transport.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no discord webhook")
}

func TestDiscordTransportHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	transport := NewDiscordTransport(srv.URL, nil, nil, time.Second, zerolog.Nop())
	assert.Error(t, transport.Send(context.Background(), testAlert()))
}
