package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot/models"

	"github.com/tgifai/butler/internal/channel"
)

func TestToEntities(t *testing.T) {
	tests := []struct {
		name     string
		md       string
		text     string
		entities []models.MessageEntity
	}{
		{
			name: "bold",
			md:   "**hi** there",
			text: "hi there",
			entities: []models.MessageEntity{
				{Type: models.MessageEntityTypeBold, Offset: 0, Length: 2},
			},
		},
		{
			name: "offsets count utf16 units",
			md:   "日本 `code`",
			text: "日本 code",
			entities: []models.MessageEntity{
				{Type: models.MessageEntityTypeCode, Offset: 3, Length: 4},
			},
		},
		{
			name: "heading and paragraph",
			md:   "# Jobs\n\nnone",
			text: "Jobs\n\nnone",
			entities: []models.MessageEntity{
				{Type: models.MessageEntityTypeBold, Offset: 0, Length: 4},
			},
		},
		{
			name: "link",
			md:   "[docs](https://example.com)",
			text: "docs",
			entities: []models.MessageEntity{
				{Type: models.MessageEntityTypeTextLink, Offset: 0, Length: 4, URL: "https://example.com"},
			},
		},
		{
			name: "list",
			md:   "- a\n- b",
			text: "- a\n- b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, entities := toEntities(tt.md)
			if text != tt.text {
				t.Fatalf("text = %q, want %q", text, tt.text)
			}
			if len(entities) != len(tt.entities) {
				t.Fatalf("entities = %+v, want %+v", entities, tt.entities)
			}
			for i := range entities {
				got, want := entities[i], tt.entities[i]
				if got.Type != want.Type || got.Offset != want.Offset || got.Length != want.Length || got.URL != want.URL {
					t.Errorf("entity %d = %+v, want %+v", i, got, want)
				}
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"token":         "123:abc",
		"allowed_users": []any{42, "7"},
	})
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.PollTimeout != defaultPollTimeout {
		t.Errorf("PollTimeout = %v", cfg.PollTimeout)
	}
	if len(cfg.AllowedUsers) != 2 || cfg.AllowedUsers[0] != 42 || cfg.AllowedUsers[1] != 7 {
		t.Errorf("AllowedUsers = %v", cfg.AllowedUsers)
	}

	if _, err := ParseConfig(map[string]any{}); err == nil {
		t.Error("missing token must fail")
	}
	if _, err := ParseConfig(map[string]any{"token": "x", "allowed_users": []any{"bob"}}); err == nil {
		t.Error("non-numeric user must fail")
	}
}

func TestSendMessage_NotConnected(t *testing.T) {
	tg := New(Config{Token: "123:abc"})
	if err := tg.SendMessage(context.Background(), "42", "hi"); !errors.Is(err, channel.ErrNotConnected) {
		t.Fatalf("err = %v", err)
	}
}

// fakeBotAPI answers getMe and records sendMessage calls.
type fakeBotAPI struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Butler","username":"butler_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.mu.Lock()
		f.sent = append(f.sent, map[string]string{
			"chat_id": r.FormValue("chat_id"),
			"text":    r.FormValue("text"),
		})
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	}
}

func TestSend_OneOff(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := Config{Token: "123:abc", ServerURL: srv.URL}
	if err := Send(context.Background(), cfg, "42", "**standup** in 5"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 1 {
		t.Fatalf("sent = %v", api.sent)
	}
	if api.sent[0]["chat_id"] != "42" || api.sent[0]["text"] != "standup in 5" {
		t.Errorf("request = %v", api.sent[0])
	}

	if err := Send(context.Background(), cfg, "not-a-chat", "x"); err == nil {
		t.Error("invalid chat id must fail")
	}
}
