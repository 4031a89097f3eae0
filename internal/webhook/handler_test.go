package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fpang/polybot/internal/event"
	"github.com/fpang/polybot/internal/telegram"
)

const (
	testPath   = "/123:abc/"
	testSecret = "my_test_secret"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (f *fakeDispatcher) Handle(_ context.Context, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func newTestHandler() (*Handler, *fakeDispatcher) {
	d := &fakeDispatcher{}
	return NewHandler(d, testPath, testSecret), d
}

func postUpdate(h http.Handler, path, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(telegram.SecretTokenHeader, secret)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const textUpdate = `{"update_id":1,"message":{"message_id":5,"chat":{"id":42,"type":"private"},"date":1700000000,"text":"/start"}}`

// --- Health check tests ---

func TestHealth(t *testing.T) {
	h, _ := newTestHandler()
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "Ok" {
		t.Errorf("expected body 'Ok', got '%s'", body)
	}
}

func TestUnknownPath(t *testing.T) {
	h, _ := newTestHandler()
	rr := postUpdate(h, "/wrong/", testSecret, textUpdate)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestWebhookPath_GetNotAllowed(t *testing.T) {
	h, _ := newTestHandler()
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, testPath, nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}

// --- Update delivery tests ---

func TestUpdate_Dispatched(t *testing.T) {
	h, d := newTestHandler()
	rr := postUpdate(h, testPath, testSecret, textUpdate)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(d.events) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(d.events))
	}
	text, ok := d.events[0].(event.TextEvent)
	if !ok || text.ChatID != 42 || text.Text != "/start" {
		t.Errorf("unexpected event %+v", d.events[0])
	}
}

func TestUpdate_SecretCheck(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   int
	}{
		{"missing header", "", http.StatusForbidden},
		{"wrong secret", "nope", http.StatusForbidden},
		{"valid secret", testSecret, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestHandler()
			rr := postUpdate(h, testPath, tt.secret, textUpdate)
			if rr.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rr.Code)
			}
			if tt.want != http.StatusOK && len(d.events) != 0 {
				t.Error("unauthenticated update was dispatched")
			}
		})
	}
}

func TestUpdate_NoSecretConfigured(t *testing.T) {
	d := &fakeDispatcher{}
	h := NewHandler(d, testPath, "")
	rr := postUpdate(h, testPath, "", textUpdate)

	if rr.Code != http.StatusOK || len(d.events) != 1 {
		t.Errorf("status %d, %d events", rr.Code, len(d.events))
	}
}

func TestUpdate_BadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestHandler()
			rr := postUpdate(h, testPath, testSecret, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rr.Code)
			}
			if len(d.events) != 0 {
				t.Error("bad body was dispatched")
			}
		})
	}
}

func TestUpdate_AcknowledgedWithoutDispatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"edited message", `{"update_id":2,"edited_message":{"message_id":5,"chat":{"id":42,"type":"private"},"date":1,"text":"x"}}`},
		{"sticker", `{"update_id":3,"message":{"message_id":6,"chat":{"id":42,"type":"private"},"date":1,"sticker":{"file_id":"s"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestHandler()
			rr := postUpdate(h, testPath, testSecret, tt.body)
			if rr.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rr.Code)
			}
			if len(d.events) != 0 {
				t.Errorf("dispatched %d events", len(d.events))
			}
		})
	}
}

func TestUpdate_DispatchErrorStillAcknowledged(t *testing.T) {
	h, d := newTestHandler()
	d.err = errors.New("telegram unreachable")

	rr := postUpdate(h, testPath, testSecret, textUpdate)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}
