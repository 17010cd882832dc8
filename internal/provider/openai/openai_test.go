package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeOpenAI(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o-mini","object":"model","owned_by":"openai"}]}`))
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), "HEARTBEAT.md")
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":0,"model":"gpt-4o-mini",` +
				`"choices":[{"index":0,"message":{"role":"assistant","content":"` + reply + `"},"finish_reason":"stop"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{"api_key": "sk-test", "base_url": "http://localhost:1234/v1/", "timeout": 5})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1234/v1", cfg.BaseURL)
	assert.Equal(t, defaultModel, cfg.Model)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Nil(t, cfg.Temperature)

	_, err = ParseConfig(map[string]any{"model": "gpt-4o"})
	assert.Error(t, err, "api_key is required")
}

func TestProvider_Ask(t *testing.T) {
	srv := fakeOpenAI(t, "HEARTBEAT_OK")
	ctx := context.Background()

	p, err := NewProvider(ctx, Config{APIKey: "sk-test", BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	reply, err := p.Ask(ctx, "you are butler", "check HEARTBEAT.md")
	require.NoError(t, err)
	assert.Equal(t, "HEARTBEAT_OK", reply)
}

func TestProvider_ListModels(t *testing.T) {
	srv := fakeOpenAI(t, "")
	ctx := context.Background()

	p, err := NewProvider(ctx, Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	models, err := p.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-4o-mini", models[0].ID)

	bad, err := NewProvider(ctx, Config{APIKey: "sk-wrong", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = bad.ListModels(ctx)
	assert.ErrorContains(t, err, "401")
}
