package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type capturedRequest struct {
	mu     sync.Mutex
	auth   string
	body   chatRequest
	called int
}

func newChatServer(t *testing.T, status int, content string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if captured != nil {
			captured.mu.Lock()
			captured.called++
			captured.auth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&captured.body)
			captured.mu.Unlock()
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
}

func newTestClient(t *testing.T, url string, timeout time.Duration) *ChatClient {
	t.Helper()
	c, err := NewChatClient(ChatConfig{BaseURL: url, APIKey: "test-key", Model: "test-model", Timeout: timeout}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewChatClient: %v", err)
	}
	return c
}

func TestChatClientComplete(t *testing.T) {
	captured := &capturedRequest{}
	srv := newChatServer(t, http.StatusOK, "```json\n{\"vendor\": \"Widgets Inc.\"}\n```", captured)
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second)
	res := c.Complete(context.Background(), Request{
		Messages:  []Message{{Role: RoleSystem, Content: "extract"}, {Role: RoleUser, Content: "invoice"}},
		JSONOnly:  true,
		MaxTokens: 1500,
		Purpose:   "extraction",
	})
	if !res.OK() {
		t.Fatalf("Complete error: %v", res.Err)
	}

	var out struct {
		Vendor string `json:"vendor"`
	}
	if err := res.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Vendor != "Widgets Inc." {
		t.Errorf("vendor = %q", out.Vendor)
	}

	captured.mu.Lock()
	defer captured.mu.Unlock()
	if captured.called != 1 {
		t.Errorf("server called %d times, want 1", captured.called)
	}
	if captured.auth != "Bearer test-key" {
		t.Errorf("Authorization = %q", captured.auth)
	}
	if captured.body.Model != "test-model" || captured.body.MaxTokens != 1500 {
		t.Errorf("request body = %+v", captured.body)
	}
	if captured.body.ResponseFormat == nil || captured.body.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format not sent")
	}
}

func TestChatClientNonSuccessStatusIsTransport(t *testing.T) {
	captured := &capturedRequest{}
	srv := newChatServer(t, http.StatusTooManyRequests, "{}", captured)
	defer srv.Close()

	res := newTestClient(t, srv.URL, time.Second).Complete(context.Background(), Request{})
	if res.OK() || res.Err.Kind != KindTransport || !res.Err.Unavailable() {
		t.Fatalf("result = %+v, want transport error", res.Err)
	}
	if captured.called != 1 {
		t.Errorf("server called %d times, client must not retry", captured.called)
	}
}

func TestChatClientMalformedContent(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, "I could not read this invoice.", nil)
	defer srv.Close()

	res := newTestClient(t, srv.URL, time.Second).Complete(context.Background(), Request{})
	if res.OK() || res.Err.Kind != KindMalformed {
		t.Fatalf("result = %+v, want malformed", res.Err)
	}
	if res.Err.Unavailable() {
		t.Error("malformed output must not count as unavailable")
	}
}

func TestChatClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := newTestClient(t, srv.URL, 5*time.Second).Complete(ctx, Request{})
	if res.OK() || res.Err.Kind != KindTimeout {
		t.Fatalf("result = %+v, want timeout", res.Err)
	}
}

func TestNewChatClientRequiresKey(t *testing.T) {
	if _, err := NewChatClient(ChatConfig{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestDisabledIsUnavailable(t *testing.T) {
	res := Disabled{}.Complete(context.Background(), Request{})
	if res.OK() || !res.Err.Unavailable() {
		t.Fatalf("Disabled result = %+v", res)
	}
}
