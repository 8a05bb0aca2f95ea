package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chatterbox-chat/chatterbox/internal/backend"
	"github.com/chatterbox-chat/chatterbox/internal/dedup"
	"github.com/chatterbox-chat/chatterbox/internal/directory"
	"github.com/chatterbox-chat/chatterbox/internal/listener"
	"github.com/chatterbox-chat/chatterbox/internal/models"
	"github.com/chatterbox-chat/chatterbox/internal/notify"
	"github.com/chatterbox-chat/chatterbox/internal/poller"
	"github.com/chatterbox-chat/chatterbox/internal/store"
)

type testEnv struct {
	server  *Server
	backend backend.Backend
	events  *notify.EventNotifier
	session *listener.Session
	ts      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewInMemoryStore()
	be := backend.NewLocalBackend(st)
	cache := dedup.NewSeenCache(0)
	events := notify.NewEventNotifier()
	if err := events.EnsureChannel(); err != nil {
		t.Fatalf("EnsureChannel: %v", err)
	}
	lookup := &directory.BackendLookup{Backend: be}
	l := listener.NewListener(be, lookup, events, listener.WithSeenCache(cache))
	p := poller.NewPoller(be, events, poller.WithSeenCache(cache), poller.WithLookup(lookup))
	sess := listener.NewSession("bob")

	srv := NewServer(be, l, p, events, cache, sess)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		l.Stop()
		events.Stop()
	})
	return &testEnv{server: srv, backend: be, events: events, session: sess, ts: ts}
}

func decodeResponse(t *testing.T, resp *http.Response) models.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var out models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if out := decodeResponse(t, resp); out.Status != models.APIStatusOK {
		t.Errorf("unexpected response: %+v", out)
	}

	// Wrong method is rejected
	resp, err = http.Post(env.ts.URL+"/health", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	out := decodeResponse(t, resp)
	result, ok := out.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a result object, got %+v", out)
	}
	if result["listener_running"] != false || result["poller_warmed"] != false {
		t.Errorf("unexpected initial status: %+v", result)
	}
}

func TestSendAndListMessages(t *testing.T) {
	env := newTestEnv(t)

	body := `{"sender_id":"alice","receiver_id":"bob","content":"hello"}`
	resp, err := http.Post(env.ts.URL+"/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /messages: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The session user (bob) lists the conversation with alice.
	resp, err = http.Get(env.ts.URL + "/messages?peer=alice")
	if err != nil {
		t.Fatalf("GET /messages: %v", err)
	}
	out := decodeResponse(t, resp)
	msgs, ok := out.Result.([]interface{})
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected one message, got %+v", out.Result)
	}

	// Missing peer parameter is rejected.
	resp, err = http.Get(env.ts.URL + "/messages")
	if err != nil {
		t.Fatalf("GET /messages: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSendMessageDefaultsToSessionUser(t *testing.T) {
	env := newTestEnv(t)

	body := `{"receiver_id":"alice","content":"from the session user"}`
	resp, err := http.Post(env.ts.URL+"/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /messages: %v", err)
	}
	out := decodeResponse(t, resp)
	msg, ok := out.Result.(map[string]interface{})
	if !ok || msg["sender_id"] != "bob" {
		t.Errorf("expected the session user as sender, got %+v", out.Result)
	}
}

func TestCheckAndNotificationsFlow(t *testing.T) {
	env := newTestEnv(t)

	// Baseline tick: existing history must not alert.
	if _, err := env.backend.SendMessage(context.Background(), "alice", "bob", "old"); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	resp, err := http.Post(env.ts.URL+"/check", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /check: %v", err)
	}
	resp.Body.Close()

	// A fresh inbound message surfaces on the next tick.
	if _, err := env.backend.SendMessage(context.Background(), "alice", "bob", "fresh"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	resp, err = http.Post(env.ts.URL+"/check", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /check: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(env.ts.URL + "/notifications")
	if err != nil {
		t.Fatalf("GET /notifications: %v", err)
	}
	out := decodeResponse(t, resp)
	events, ok := out.Result.([]interface{})
	if !ok || len(events) != 1 {
		t.Fatalf("expected one drained notification, got %+v", out.Result)
	}
	ev := events[0].(map[string]interface{})
	if ev["peer_id"] != "alice" || ev["body"] != "fresh" {
		t.Errorf("unexpected notification: %+v", ev)
	}

	// A second drain is empty.
	resp, err = http.Get(env.ts.URL + "/notifications")
	if err != nil {
		t.Fatalf("GET /notifications: %v", err)
	}
	out = decodeResponse(t, resp)
	if events, ok := out.Result.([]interface{}); ok && len(events) != 0 {
		t.Errorf("expected an empty drain, got %+v", events)
	}
}

func TestReadEndpointClearsAlert(t *testing.T) {
	env := newTestEnv(t)

	if err := env.events.Show("Alice", "hi", "alice"); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if len(env.events.Active()) != 1 {
		t.Fatal("expected one active alert")
	}

	resp, err := http.Post(env.ts.URL+"/read", "application/json", strings.NewReader(`{"peer_id":"alice"}`))
	if err != nil {
		t.Fatalf("POST /read: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(env.events.Active()) != 0 {
		t.Error("alert was not cleared")
	}

	// Missing peer_id is rejected.
	resp, err = http.Post(env.ts.URL+"/read", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /read: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}
