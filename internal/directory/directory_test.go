package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatterbox-chat/chatterbox/internal/models"
)

func TestRestClientGetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/alice":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(models.User{UserID: "alice", Username: "Alice"})
		case "/users/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c, err := NewRestClient(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewRestClient: %v", err)
	}

	user, err := c.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user == nil || user.Username != "Alice" {
		t.Errorf("unexpected user: %+v", user)
	}

	user, err = c.GetUser(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetUser missing: %v", err)
	}
	if user != nil {
		t.Errorf("missing user should resolve to nil, got %+v", user)
	}

	if _, err := c.GetUser(context.Background(), "broken"); err == nil {
		t.Error("server error should surface as an error")
	}
}

func TestRestClientRequiresBaseURL(t *testing.T) {
	if _, err := NewRestClient(); err == nil {
		t.Error("missing base URL should be rejected")
	}
}
