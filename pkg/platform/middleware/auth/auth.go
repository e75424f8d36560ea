package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"stockroom/internal/auth/models"
	dErrors "stockroom/pkg/domain-errors"
	"stockroom/pkg/platform/httputil"
	"stockroom/pkg/platform/middleware/metadata"
)

const (
	// SessionCookieName carries the opaque session identifier.
	SessionCookieName = "zoho-session-id"

	// Identity headers seen by downstream handlers.
	HeaderSessionID = "x-session-id"
	HeaderUserID    = "x-user-id"
	HeaderUserEmail = "x-user-email"
	HeaderUserName  = "x-user-name"

	loginPath = "/login"
)

var identityHeaders = []string{HeaderSessionID, HeaderUserID, HeaderUserEmail, HeaderUserName}

// Authenticator validates a session identifier and returns the live session.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*models.Session, error)
}

type contextKeySession struct{}

// ContextKeySession is exported for tests that bypass the middleware.
var ContextKeySession = contextKeySession{}

// GetSession retrieves the authenticated session from the context.
func GetSession(ctx context.Context) *models.Session {
	session, ok := ctx.Value(ContextKeySession).(*models.Session)
	if !ok {
		return nil
	}
	return session
}

// GetSessionID retrieves the authenticated session ID from the context.
func GetSessionID(ctx context.Context) string {
	if session := GetSession(ctx); session != nil {
		return session.ID
	}
	return ""
}

// GetUserID retrieves the authenticated user ID from the context.
func GetUserID(ctx context.Context) string {
	if session := GetSession(ctx); session != nil {
		return session.User.ID
	}
	return ""
}

// WithSession returns a copy of ctx carrying session.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, ContextKeySession, session)
}

// SessionIDFromRequest prefers the cookie and falls back to the header.
func SessionIDFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.Header.Get(HeaderSessionID))
}

// SetSessionCookie issues the session cookie for ttl.
func SetSessionCookie(w http.ResponseWriter, sessionID string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie in the browser.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// IsAPIRequest reports whether the caller expects JSON rather than a page.
func IsAPIRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// LoginRedirect returns the login URL that brings the user back to r.
func LoginRedirect(r *http.Request) string {
	return loginPath + "?" + url.Values{"returnTo": {r.URL.RequestURI()}}.Encode()
}

// RequireSession validates the session identifier on every request. Client
// supplied identity headers are always discarded before the handler runs.
// API requests are rejected with 401 JSON. Page routes mounted behind it are
// redirected to the login page instead; the dashboard's server-rendered pages
// live outside this module, so only /api routes use it here.
func RequireSession(authn Authenticator, logger *slog.Logger, secureCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sessionID := SessionIDFromRequest(r)
			for _, h := range identityHeaders {
				r.Header.Del(h)
			}

			if sessionID == "" {
				logger.DebugContext(ctx, "unauthenticated request - missing session",
					"request_id", middleware.GetReqID(ctx),
					"path", r.URL.Path,
				)
				reject(w, r, secureCookie, false)
				return
			}

			session, err := authn.Authenticate(ctx, sessionID)
			if err != nil {
				if dErrors.HasCode(err, dErrors.CodeUnavailable) {
					// The session still exists; keep the cookie.
					logger.ErrorContext(ctx, "session temporarily unavailable",
						"error", err,
						"request_id", middleware.GetReqID(ctx),
						"client_ip", metadata.GetClientIP(ctx),
					)
					httputil.WriteError(w, err)
					return
				}
				logger.WarnContext(ctx, "unauthenticated request - invalid session",
					"error", err,
					"request_id", middleware.GetReqID(ctx),
					"client_ip", metadata.GetClientIP(ctx),
					"path", r.URL.Path,
				)
				reject(w, r, secureCookie, true)
				return
			}

			r.Header.Set(HeaderSessionID, session.ID)
			r.Header.Set(HeaderUserID, session.User.ID)
			r.Header.Set(HeaderUserEmail, session.User.Email)
			r.Header.Set(HeaderUserName, session.User.Name)

			next.ServeHTTP(w, r.WithContext(WithSession(ctx, session)))
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, secureCookie, stale bool) {
	if stale {
		ClearSessionCookie(w, secureCookie)
	}
	if IsAPIRequest(r) {
		httputil.WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "Session expired or invalid")
		return
	}
	http.Redirect(w, r, LoginRedirect(r), http.StatusFound)
}
