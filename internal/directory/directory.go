// Package directory resolves user ids to profiles for notification titles.
//
// The listener consults a Lookup when its name cache misses. Deployments
// either point at the user-directory REST service or fall back to reading
// profiles straight from the backend.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/chatterbox-chat/chatterbox/internal/backend"
	"github.com/chatterbox-chat/chatterbox/internal/models"
)

// DefaultRequestTimeout bounds a single directory lookup.
const DefaultRequestTimeout = 5 * time.Second

// Lookup resolves a user profile by id. A nil result with nil error means
// the user is unknown.
type Lookup interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// Opts holds configuration options for the REST directory client.
type Opts struct {
	BaseURL string
	Timeout time.Duration
}

// Option defines a configuration option for the REST directory client.
type Option func(*Opts)

// WithBaseURL sets the directory service base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// RestClient looks up users against the Chatterbox user-directory REST
// service (GET {base}/users/{id}).
type RestClient struct {
	client *resty.Client
}

// Compile-time check that RestClient implements Lookup.
var _ Lookup = (*RestClient)(nil)

// NewRestClient creates a directory client for the given base URL.
func NewRestClient(opts ...Option) (*RestClient, error) {
	cfg := Opts{Timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("directory base URL not set")
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	slog.Debug("RestClient created", "baseURL", cfg.BaseURL, "timeout", cfg.Timeout)
	return &RestClient{client: client}, nil
}

// GetUser fetches a user profile. A 404 resolves to (nil, nil).
func (c *RestClient) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}

	var user models.User
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&user).
		SetPathParam("id", userID).
		Get("/users/{id}")
	if err != nil {
		slog.Error("RestClient.GetUser request failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("directory lookup failed for %s: %w", userID, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		slog.Debug("RestClient.GetUser resolved", "userID", userID, "username", user.Username)
		return &user, nil
	case http.StatusNotFound:
		slog.Debug("RestClient.GetUser: user not found", "userID", userID)
		return nil, nil
	default:
		return nil, fmt.Errorf("directory lookup for %s returned status %d", userID, resp.StatusCode())
	}
}

// BackendLookup adapts a backend.Backend to the Lookup interface for
// deployments without a separate directory service.
type BackendLookup struct {
	Backend backend.Backend
}

// Compile-time check that BackendLookup implements Lookup.
var _ Lookup = (*BackendLookup)(nil)

// GetUser resolves the profile through the backend.
func (l *BackendLookup) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return l.Backend.GetUser(ctx, userID)
}
