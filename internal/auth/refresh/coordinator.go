// Package refresh decides whether and when a session's vendor access token is
// refreshed, and makes sure at most one refresh per session is in flight
// within this process.
//
// The in-flight map is process-local. Several instances behind a load
// balancer may each redeem the same refresh token; the vendor tolerates
// that within a short window.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"stockroom/internal/auth/metrics"
	"stockroom/internal/auth/models"
	"stockroom/internal/platform/config"
)

// ErrNoRefreshToken means the session cannot be extended; the user must log
// in again.
var ErrNoRefreshToken = errors.New("session has no refresh token")

var tracer = otel.Tracer("stockroom/internal/auth/refresh")

//go:generate mockgen -source=coordinator.go -destination=mocks/refresh-mocks.go -package=mocks TokenRefresher,SessionWriter

// TokenRefresher exchanges a refresh token at the vendor.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error)
}

// SessionWriter persists a session snapshot.
type SessionWriter interface {
	Put(ctx context.Context, id string, session *models.Session, ttl time.Duration) error
}

// Outcome describes what RefreshIfNeeded did.
type Outcome struct {
	Session *models.Session
	// Refreshed is true when the returned session carries a new access token.
	Refreshed bool
	// Deferred is true when a refresh was due but skipped by the
	// minimum-interval guard. The caller gets the current token and may
	// retry on a later request.
	Deferred bool
}

// result is what the single in-flight refresh hands to every waiter.
type result struct {
	tokens *models.TokenSet
	at     time.Time
}

// Coordinator owns the per-session refresh tickets and the interval guard.
// Each instance is independent, so tests can run coordinators side by side.
type Coordinator struct {
	refresher TokenRefresher
	store     SessionWriter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	buffer      time.Duration
	minInterval time.Duration
	sessionTTL  time.Duration
	timeout     time.Duration

	tickets singleflight.Group

	// recent holds the last successful refresh per session while the
	// interval guard is armed.
	mu     sync.Mutex
	recent map[string]*result
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTimeout bounds each vendor refresh call.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds a Coordinator using the session policy from cfg.
func New(refresher TokenRefresher, store SessionWriter, cfg config.SessionConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		refresher:   refresher,
		store:       store,
		logger:      slog.Default(),
		now:         time.Now,
		buffer:      cfg.RefreshBuffer,
		minInterval: cfg.MinRefreshInterval,
		sessionTTL:  cfg.TTL,
		timeout:     config.DefaultOAuthTimeout,
		recent:      make(map[string]*result),
	}
	if c.sessionTTL <= 0 {
		c.sessionTTL = config.DefaultSessionTTL
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NeedsRefresh is true when the token expires within the refresh buffer.
func (c *Coordinator) NeedsRefresh(session *models.Session) bool {
	return session.NeedsRefresh(c.now(), c.buffer)
}

// IsExpired is true when the token has already expired.
func (c *Coordinator) IsExpired(session *models.Session) bool {
	return session.IsExpired(c.now())
}

// CanRefreshNow is false while the last completed refresh for id is younger
// than the minimum interval.
func (c *Coordinator) CanRefreshNow(id string) bool {
	return c.lastResult(id) == nil
}

// lastResult returns the refresh completed for id within the minimum
// interval, if any.
func (c *Coordinator) lastResult(id string) *result {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.recent[id]
	if !ok {
		return nil
	}
	if c.now().Sub(r.at) >= c.minInterval {
		delete(c.recent, id)
		return nil
	}
	return r
}

// Forget drops interval-guard state for id, e.g. after logout.
func (c *Coordinator) Forget(id string) {
	c.mu.Lock()
	delete(c.recent, id)
	c.mu.Unlock()
}

// RefreshIfNeeded applies the refresh policy to the caller's copy of the
// session. Vendor failures are returned as-is and never delete the session.
func (c *Coordinator) RefreshIfNeeded(ctx context.Context, id string, session *models.Session) (*Outcome, error) {
	if !session.HasRefreshToken() {
		c.observe(metrics.OutcomeNoRefreshToken)
		return nil, ErrNoRefreshToken
	}

	if !c.NeedsRefresh(session) {
		session.Touch(c.now())
		c.persist(ctx, id, session)
		c.observe(metrics.OutcomeFresh)
		return &Outcome{Session: session}, nil
	}

	if !c.CanRefreshNow(id) {
		c.logger.DebugContext(ctx, "token refresh deferred by interval guard", "session_id", id)
		c.observe(metrics.OutcomeDeferred)
		return &Outcome{Session: session, Deferred: true}, nil
	}

	return c.Refresh(ctx, id, session)
}

// Refresh exchanges the session's refresh token regardless of the refresh
// buffer, sharing one vendor call among all concurrent callers for the same
// id. Within the minimum interval after a successful refresh the tokens from
// that refresh are reused instead of calling the vendor again; this covers
// callers that read a stale copy because persisting the refresh failed.
func (c *Coordinator) Refresh(ctx context.Context, id string, session *models.Session) (*Outcome, error) {
	if !session.HasRefreshToken() {
		c.observe(metrics.OutcomeNoRefreshToken)
		return nil, ErrNoRefreshToken
	}

	if r := c.lastResult(id); r != nil {
		if c.apply(session, r) {
			c.logger.DebugContext(ctx, "reusing recent token refresh", "session_id", id)
			c.persist(ctx, id, session)
		}
		c.observe(metrics.OutcomeReused)
		return &Outcome{Session: session, Refreshed: true}, nil
	}

	ctx, span := tracer.Start(ctx, "session.refresh")
	defer span.End()

	// The shared call must outlive any single waiter's cancellation; it is
	// bounded by the vendor timeout instead.
	origin := session.Clone()
	detached := context.WithoutCancel(ctx)
	ch := c.tickets.DoChan(id, func() (any, error) {
		return c.doRefresh(detached, id, origin)
	})

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "caller cancelled")
		return nil, ctx.Err()
	case res := <-ch:
		span.SetAttributes(attribute.Bool("refresh.shared", res.Shared))
		if res.Err != nil {
			span.SetStatus(codes.Error, "refresh failed")
			return nil, res.Err
		}
		c.apply(session, res.Val.(*result))
		return &Outcome{Session: session, Refreshed: true}, nil
	}
}

// apply installs r on the caller's copy unless it already carries r's token.
func (c *Coordinator) apply(session *models.Session, r *result) bool {
	if session.AccessToken == r.tokens.AccessToken {
		return false
	}
	session.ApplyTokens(r.tokens, r.at)
	return true
}

// doRefresh runs once per ticket. singleflight forgets the key when it
// returns, whatever the outcome.
func (c *Coordinator) doRefresh(ctx context.Context, id string, origin *models.Session) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("token refresh panicked: %v", p)
			c.observe(metrics.OutcomeFailed)
		}
	}()

	// A ticket started just after another completed reuses its result.
	if r := c.lastResult(id); r != nil {
		return r, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	tokens, err := c.refresher.Refresh(ctx, origin.RefreshToken)
	if c.metrics != nil {
		c.metrics.ObserveRefreshDuration(time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.WarnContext(ctx, "token refresh failed", "session_id", id, "error", err)
		c.observe(metrics.OutcomeFailed)
		return nil, err
	}

	at := c.now()
	updated := origin.Clone()
	updated.ApplyTokens(tokens, at)
	c.persist(ctx, id, updated)

	r := &result{tokens: tokens, at: at}
	c.mu.Lock()
	c.recent[id] = r
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "token refreshed",
		"session_id", id,
		"refresh_count", updated.RefreshCount,
		"expires_at", updated.ExpiresAt,
	)
	c.observe(metrics.OutcomeRefreshed)
	return r, nil
}

// persist writes the snapshot back. A failed write is logged and swallowed so
// the caller still gets its usable token.
func (c *Coordinator) persist(ctx context.Context, id string, session *models.Session) {
	if err := c.store.Put(ctx, id, session, c.sessionTTL); err != nil {
		c.logger.ErrorContext(ctx, "failed to persist session", "session_id", id, "error", err)
		if c.metrics != nil {
			c.metrics.IncrementStoreWriteFailures()
		}
	}
}

func (c *Coordinator) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.ObserveRefresh(outcome)
	}
}
