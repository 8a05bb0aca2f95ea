// Package poller implements the timer-driven half of the notification core.
//
// The poller periodically re-reads recent messages across every conversation
// and surfaces anything the listener path missed, for example after the
// process was restarted and no live subscriptions were running. It shares
// the dedup cache with the listener so the two paths never double-notify.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatterbox-chat/chatterbox/internal/backend"
	"github.com/chatterbox-chat/chatterbox/internal/dedup"
	"github.com/chatterbox-chat/chatterbox/internal/directory"
	"github.com/chatterbox-chat/chatterbox/internal/models"
	"github.com/chatterbox-chat/chatterbox/internal/notify"
	"github.com/chatterbox-chat/chatterbox/internal/timer"
)

const (
	// DefaultInitialDelay is how long after scheduling the first check fires.
	DefaultInitialDelay = 5 * time.Second
	// DefaultInterval is the gap between a completed check and the next one.
	DefaultInterval = 30 * time.Second
	// DefaultLookback caps how far back a check will consider messages,
	// regardless of when the previous check ran.
	DefaultLookback = 15 * time.Minute
	// DefaultLookupTimeout bounds one display-name lookup.
	DefaultLookupTimeout = 5 * time.Second
)

// UserProvider yields the current signed-in user id, if any. A released
// session reports false.
type UserProvider interface {
	Get() (string, bool)
}

// Opts holds configuration options for the poller.
type Opts struct {
	SeenCache     *dedup.SeenCache
	Timer         timer.Timer
	Lookup        directory.Lookup
	InitialDelay  time.Duration
	Interval      time.Duration
	Lookback      time.Duration
	LookupTimeout time.Duration
}

// Option defines a configuration option for the poller.
type Option func(*Opts)

// WithSeenCache shares a dedup cache with another component (the listener).
func WithSeenCache(c *dedup.SeenCache) Option {
	return func(o *Opts) { o.SeenCache = c }
}

// WithTimer sets the timer the poll chain is scheduled on.
func WithTimer(t timer.Timer) Option {
	return func(o *Opts) { o.Timer = t }
}

// WithLookup sets the directory used for notification titles.
func WithLookup(l directory.Lookup) Option {
	return func(o *Opts) { o.Lookup = l }
}

// WithInitialDelay sets the delay before the first check.
func WithInitialDelay(d time.Duration) Option {
	return func(o *Opts) { o.InitialDelay = d }
}

// WithInterval sets the gap between checks.
func WithInterval(d time.Duration) Option {
	return func(o *Opts) { o.Interval = d }
}

// WithLookback sets the maximum age of messages a check will consider.
func WithLookback(d time.Duration) Option {
	return func(o *Opts) { o.Lookback = d }
}

// Poller re-reads conversations on a timer and alerts on recent inbound
// messages that have not been surfaced yet.
type Poller struct {
	backend  backend.Backend
	notifier notify.Notifier
	seen     *dedup.SeenCache
	timer    timer.Timer
	lookup   directory.Lookup

	initialDelay  time.Duration
	interval      time.Duration
	lookback      time.Duration
	lookupTimeout time.Duration

	// checkMu serializes CheckOnce; the timer chain is sequential but a
	// manual check can arrive concurrently.
	checkMu sync.Mutex

	mu        sync.Mutex
	warmed    bool
	lastCheck time.Time
	names     map[string]string
}

// NewPoller creates a poller over the given backend and notifier.
func NewPoller(be backend.Backend, notifier notify.Notifier, opts ...Option) *Poller {
	cfg := Opts{
		InitialDelay:  DefaultInitialDelay,
		Interval:      DefaultInterval,
		Lookback:      DefaultLookback,
		LookupTimeout: DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SeenCache == nil {
		cfg.SeenCache = dedup.NewSeenCache(0)
	}
	if cfg.Timer == nil {
		cfg.Timer = timer.NewSimpleTimer()
	}
	return &Poller{
		backend:       be,
		notifier:      notifier,
		seen:          cfg.SeenCache,
		timer:         cfg.Timer,
		lookup:        cfg.Lookup,
		initialDelay:  cfg.InitialDelay,
		interval:      cfg.Interval,
		lookback:      cfg.Lookback,
		lookupTimeout: cfg.LookupTimeout,
	}
}

// CheckOnce runs a single poll cycle for the given user.
//
// The first cycle establishes a baseline: every existing message id is
// marked processed and nothing is notified, so historical messages never
// alert. Later cycles notify the single most recent qualifying inbound
// message per conversation, bounded below by max(last check, now-lookback).
// An empty user id (no session) is a silent no-op.
func (p *Poller) CheckOnce(ctx context.Context, userID string) error {
	if userID == "" {
		slog.Debug("Poller.CheckOnce: no session, skipping")
		return nil
	}

	p.checkMu.Lock()
	defer p.checkMu.Unlock()

	p.mu.Lock()
	warmed := p.warmed
	lastCheck := p.lastCheck
	p.mu.Unlock()

	now := time.Now()

	partners, err := p.backend.ListChatPartners(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list chat partners for %s: %w", userID, err)
	}

	if !warmed {
		p.warmUp(ctx, userID, partners)
		p.mu.Lock()
		p.warmed = true
		p.lastCheck = now
		p.mu.Unlock()
		return nil
	}

	bound := lastCheck
	if floor := now.Add(-p.lookback); floor.After(bound) {
		bound = floor
	}
	boundMillis := bound.UnixMilli()

	for _, peerID := range partners {
		p.checkConversation(ctx, userID, peerID, boundMillis)
	}

	p.mu.Lock()
	p.lastCheck = now
	p.mu.Unlock()
	return nil
}

// warmUp marks every existing message processed without notifying.
func (p *Poller) warmUp(ctx context.Context, userID string, partners []string) {
	total := 0
	for _, peerID := range partners {
		convID := models.ConversationID(userID, peerID)
		msgs, err := p.backend.ListMessages(ctx, convID)
		if err != nil {
			slog.Error("Poller.warmUp: message read failed", "error", err, "conversationID", convID)
			continue
		}
		for _, m := range msgs {
			if m.ID != "" && p.seen.MarkIfNew(m.ID) {
				total++
			}
		}
	}
	slog.Info("Poller.warmUp: baseline established", "userID", userID, "conversations", len(partners), "marked", total)
}

// checkConversation re-reads one conversation and notifies its latest
// qualifying message, if any. Every inspected unprocessed id is marked as
// it is evaluated.
func (p *Poller) checkConversation(ctx context.Context, userID, peerID string, boundMillis int64) {
	convID := models.ConversationID(userID, peerID)
	msgs, err := p.backend.ListMessages(ctx, convID)
	if err != nil {
		slog.Error("Poller.checkConversation: message read failed", "error", err, "conversationID", convID)
		return
	}

	var latest *models.Message
	for i := range msgs {
		m := &msgs[i]
		if m.ID == "" {
			continue
		}
		if !p.seen.MarkIfNew(m.ID) {
			continue
		}
		if m.SenderID == "" || m.ReceiverID == "" || m.Timestamp == 0 {
			slog.Debug("Poller.checkConversation: malformed record skipped", "messageID", m.ID)
			continue
		}
		if !m.IsInbound(userID, peerID) {
			continue
		}
		if m.Timestamp <= boundMillis {
			continue
		}
		// Coalesce to latest: earlier unseen messages in the same batch
		// are marked processed but not individually surfaced.
		if latest == nil || m.Timestamp >= latest.Timestamp {
			latest = m
		}
	}

	if latest != nil {
		p.notifyLatest(ctx, peerID, latest)
	}
}

func (p *Poller) notifyLatest(ctx context.Context, peerID string, msg *models.Message) {
	body := msg.Content
	if msg.Type == models.MessageTypeImage && body == "" {
		body = "📷 Image"
	}

	title := p.resolveName(ctx, msg.SenderID)
	if err := p.notifier.Show(title, body, peerID); err != nil {
		slog.Error("Poller: notification failed", "error", err, "peerID", peerID)
		return
	}
	slog.Debug("Poller: notification shown", "peerID", peerID, "messageID", msg.ID)
}

// resolveName returns the sender's display name, falling back to a name
// synthesized from the id when no directory is configured or the lookup
// fails.
func (p *Poller) resolveName(ctx context.Context, senderID string) string {
	p.mu.Lock()
	if name, ok := p.names[senderID]; ok {
		p.mu.Unlock()
		return name
	}
	p.mu.Unlock()

	fallback := senderID
	if len(fallback) > models.NameFallbackIDLength {
		fallback = fallback[:models.NameFallbackIDLength]
	}
	fallback = "User " + fallback

	if p.lookup == nil {
		return fallback
	}

	lookupCtx, cancel := context.WithTimeout(ctx, p.lookupTimeout)
	defer cancel()
	user, err := p.lookup.GetUser(lookupCtx, senderID)
	if err != nil {
		slog.Error("Poller: name lookup failed", "error", err, "senderID", senderID)
		return fallback
	}
	if user == nil || user.Username == "" {
		return fallback
	}

	p.mu.Lock()
	if p.names == nil {
		p.names = make(map[string]string)
	}
	p.names[senderID] = user.Username
	p.mu.Unlock()
	return user.Username
}

// Run starts the self-perpetuating poll chain: the first check fires after
// the initial delay, each next one an interval after the previous check
// completed. Failed checks are logged and the chain continues. The chain
// stops when ctx is done.
func (p *Poller) Run(ctx context.Context, user UserProvider) {
	slog.Info("Poller.Run: starting poll chain", "initialDelay", p.initialDelay, "interval", p.interval)
	p.schedule(ctx, user, p.initialDelay)
}

func (p *Poller) schedule(ctx context.Context, user UserProvider, delay time.Duration) {
	if ctx.Err() != nil {
		slog.Debug("Poller: context done, chain stopped")
		return
	}
	if _, err := p.timer.ScheduleAfter(delay, func() { p.tick(ctx, user) }); err != nil {
		slog.Error("Poller: failed to schedule next check", "error", err)
	}
}

func (p *Poller) tick(ctx context.Context, user UserProvider) {
	if ctx.Err() != nil {
		slog.Debug("Poller: context done, chain stopped")
		return
	}

	userID, ok := user.Get()
	if !ok {
		userID = ""
	}
	if err := p.CheckOnce(ctx, userID); err != nil {
		slog.Error("Poller: check failed", "error", err)
	}

	// Reschedule even after a failed tick; the next cycle retries.
	p.schedule(ctx, user, p.interval)
}

// Warmed reports whether the baseline cycle has completed.
func (p *Poller) Warmed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.warmed
}

// LastCheck returns when the previous cycle finished, zero before the
// first one.
func (p *Poller) LastCheck() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCheck
}
