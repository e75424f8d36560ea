// Package service is the session lifecycle facade used by handlers and the
// request gatekeeper. It composes the session store, the vendor OAuth client
// and the refresh coordinator.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"stockroom/internal/auth/device"
	"stockroom/internal/auth/metrics"
	"stockroom/internal/auth/models"
	"stockroom/internal/auth/refresh"
	"stockroom/internal/platform/config"
	dErrors "stockroom/pkg/domain-errors"
	"stockroom/pkg/platform/middleware/metadata"
	"stockroom/pkg/platform/sentinel"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks SessionStore,OAuthClient,Refresher

type SessionStore interface {
	Put(ctx context.Context, id string, session *models.Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*models.Session, error)
}

type OAuthClient interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*models.TokenSet, error)
	FetchCurrentUser(ctx context.Context, accessToken string) (*models.User, error)
}

type Refresher interface {
	RefreshIfNeeded(ctx context.Context, id string, session *models.Session) (*refresh.Outcome, error)
	Refresh(ctx context.Context, id string, session *models.Session) (*refresh.Outcome, error)
	Forget(id string)
}

// Session deletion reasons, used as metric labels.
const (
	deleteReasonLogout        = "logout"
	deleteReasonNoRefresh     = "expired_no_refresh_token"
	deleteReasonRefreshFailed = "refresh_failed"
	deleteReasonOperator      = "operator"
)

type Service struct {
	sessions  SessionStore
	oauth     OAuthClient
	refresher Refresher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string

	SessionTTL time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the UUIDv4 session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func New(sessions SessionStore, oauth OAuthClient, refresher Refresher, cfg config.SessionConfig, opts ...Option) *Service {
	s := &Service{
		sessions:   sessions,
		oauth:      oauth,
		refresher:  refresher,
		logger:     slog.Default(),
		now:        time.Now,
		newID:      uuid.NewString,
		SessionTTL: cfg.TTL,
	}
	if s.SessionTTL <= 0 {
		s.SessionTTL = config.DefaultSessionTTL
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func sessionNotFound() error {
	return dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeUnauthorized, "session not found or expired")
}

func sessionExpired() error {
	return dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeUnauthorized, "session not found or expired")
}

// permanent reports whether the vendor rejected the refresh token itself, as
// opposed to being unreachable or failing server-side.
func permanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// AuthorizationURL returns the vendor consent URL carrying returnTo in state.
func (s *Service) AuthorizationURL(returnTo string) string {
	return s.oauth.AuthorizationURL(EncodeState(returnTo))
}

// CreateSession fetches the user's profile with a fresh token set and stores
// a new session. A failed store write fails the call, so no identifier is
// handed out that would be rejected on first use.
func (s *Service) CreateSession(ctx context.Context, tokens *models.TokenSet) (string, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "access token required")
	}

	user, err := s.oauth.FetchCurrentUser(ctx, tokens.AccessToken)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to fetch user profile", "error", err)
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user profile")
	}

	now := s.now()
	id := s.newID()
	session := &models.Session{
		ID:           id,
		User:         *user,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		ExpiresAt:    now.Add(time.Duration(tokens.ExpiresIn) * time.Second),
		CreatedAt:    now,
		LastActivity: now,
		Device:       device.ParseUserAgent(metadata.GetUserAgent(ctx)),
	}

	if err := s.sessions.Put(ctx, id, session, s.SessionTTL); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist new session", "user_id", user.ID, "error", err)
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	if !session.HasRefreshToken() {
		s.logger.WarnContext(ctx, "vendor granted no refresh token", "user_id", user.ID)
	}
	s.logger.InfoContext(ctx, "session created",
		"session_id", id,
		"user_id", user.ID,
		"device", session.Device,
		"client_ip", metadata.GetClientIP(ctx),
	)
	if s.metrics != nil {
		s.metrics.IncrementSessionsCreated()
	}
	return id, nil
}

// GetSessionByID loads a session. Store errors read as "not found". A
// hard-expired session is refreshed inline when possible. It is deleted when
// it has no refresh token or the vendor rejects the refresh token; a vendor
// outage leaves it in place and returns CodeUnavailable.
func (s *Service) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	session, _, err := s.load(ctx, id)
	return session, err
}

// load reports whether the session had to be refreshed inline.
func (s *Service) load(ctx context.Context, id string) (*models.Session, bool, error) {
	if id == "" {
		return nil, false, sessionNotFound()
	}

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "session store read failed", "session_id", id, "error", err)
		}
		return nil, false, sessionNotFound()
	}

	if !session.IsExpired(s.now()) {
		return session, false, nil
	}

	if !session.HasRefreshToken() {
		s.drop(ctx, id, deleteReasonNoRefresh)
		return nil, false, sessionExpired()
	}

	out, err := s.refresher.Refresh(ctx, id, session)
	switch {
	case err == nil:
		return out.Session, true, nil
	case ctx.Err() != nil:
		return nil, false, ctx.Err()
	case permanent(err):
		s.logger.WarnContext(ctx, "vendor rejected refresh token", "session_id", id, "error", err)
		s.drop(ctx, id, deleteReasonRefreshFailed)
		return nil, false, sessionExpired()
	default:
		// The session survives a vendor outage and is refreshed on a later
		// request.
		s.logger.WarnContext(ctx, "expired session could not be refreshed", "session_id", id, "error", err)
		return nil, false, dErrors.Wrap(errors.Join(sentinel.ErrUnavailable, err),
			dErrors.CodeUnavailable, "session temporarily unavailable")
	}
}

// Authenticate validates a session for the request gatekeeper and applies
// the proactive refresh policy. A refresh problem on a still-valid token is
// logged and the current session is returned.
func (s *Service) Authenticate(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	out, err := s.refresher.RefreshIfNeeded(ctx, id, session)
	switch {
	case err == nil:
		return out.Session, nil
	case errors.Is(err, refresh.ErrNoRefreshToken):
		return session, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		s.logger.WarnContext(ctx, "proactive refresh failed", "session_id", id, "error", err)
		return session, nil
	}
}

// RefreshSession backs the refresh-check endpoint.
func (s *Service) RefreshSession(ctx context.Context, id string) (*models.RefreshStatus, error) {
	session, inline, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	out, err := s.refresher.RefreshIfNeeded(ctx, id, session)
	if err != nil {
		if errors.Is(err, refresh.ErrNoRefreshToken) {
			return s.status(session, inline), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.ErrorContext(ctx, "token refresh failed", "session_id", id, "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "token refresh failed")
	}

	return s.status(out.Session, inline || out.Refreshed), nil
}

func (s *Service) status(session *models.Session, refreshed bool) *models.RefreshStatus {
	return &models.RefreshStatus{
		Success:          true,
		ExpiresAt:        session.ExpiresAt,
		ExpiresInSeconds: int64(session.ExpiresIn(s.now()).Seconds()),
		Refreshed:        refreshed,
	}
}

// DeleteSessionByID removes a session. It never fails from the caller's
// point of view; store errors are logged.
func (s *Service) DeleteSessionByID(ctx context.Context, id string) {
	if id == "" {
		return
	}
	s.drop(ctx, id, deleteReasonLogout)
}

// RevokeSession is the operator variant of DeleteSessionByID.
func (s *Service) RevokeSession(ctx context.Context, id string) error {
	if id == "" {
		return dErrors.New(dErrors.CodeBadRequest, "session id required")
	}
	if _, err := s.sessions.Get(ctx, id); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete session")
	}
	s.forget(id)
	s.logger.InfoContext(ctx, "session revoked by operator", "session_id", id)
	if s.metrics != nil {
		s.metrics.IncrementSessionsDeleted(deleteReasonOperator)
	}
	return nil
}

// forget clears refresh guard state. Operational tooling runs without a
// refresher.
func (s *Service) forget(id string) {
	if s.refresher != nil {
		s.refresher.Forget(id)
	}
}

func (s *Service) drop(ctx context.Context, id, reason string) {
	s.forget(id)
	if err := s.sessions.Delete(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete session", "session_id", id, "reason", reason, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "session deleted", "session_id", id, "reason", reason)
	if s.metrics != nil {
		s.metrics.IncrementSessionsDeleted(reason)
	}
}

// ProcessCallback completes the authorization-code flow.
func (s *Service) ProcessCallback(ctx context.Context, code, state string) (*models.CallbackResult, error) {
	if code == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "authorization code required")
	}

	tokens, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.ErrorContext(ctx, "authorization code exchange failed", "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "authentication failed")
	}

	id, err := s.CreateSession(ctx, tokens)
	if err != nil {
		return nil, err
	}
	return &models.CallbackResult{SessionID: id, ReturnTo: DecodeState(state)}, nil
}

// ListSessions returns token-free summaries of every stored session.
func (s *Service) ListSessions(ctx context.Context) ([]models.SessionSummary, error) {
	sessions, err := s.sessions.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}
	now := s.now()
	out := make([]models.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.Summary(now))
	}
	return out, nil
}

// EncodeState packs a post-login return path into the OAuth state value.
func EncodeState(returnTo string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(SafeReturnTo(returnTo)))
}

// DecodeState reverses EncodeState. Standard and URL-safe alphabets are
// accepted, padded or not. Anything undecodable or off-site yields "/".
func DecodeState(state string) string {
	if state == "" {
		return "/"
	}
	trimmed := strings.TrimRight(state, "=")
	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(trimmed)
		if err != nil {
			return "/"
		}
	}
	return SafeReturnTo(string(raw))
}

// SafeReturnTo keeps only same-origin absolute paths.
func SafeReturnTo(path string) string {
	if path == "" || path[0] != '/' {
		return "/"
	}
	if strings.HasPrefix(path, "//") || strings.HasPrefix(path, "/\\") {
		return "/"
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return "/"
		}
	}
	return path
}
