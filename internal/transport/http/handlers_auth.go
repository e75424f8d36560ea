package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	dErrors "stockroom/pkg/domain-errors"
	"stockroom/pkg/platform/httputil"
	authmw "stockroom/pkg/platform/middleware/auth"
)

type meResponse struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	RoleName     string    `json:"role_name,omitempty"`
	IsAccountant bool      `json:"is_accountant"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.auth.AuthorizationURL(r.URL.Query().Get("returnTo")), http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if vendorErr := q.Get("error"); vendorErr != "" {
		h.logger.WarnContext(ctx, "authorization denied by vendor",
			"error", vendorErr,
			"request_id", middleware.GetReqID(ctx),
		)
		httputil.WriteJSONError(w, http.StatusBadRequest, string(dErrors.CodeBadRequest), "Authorization was not granted")
		return
	}
	code := q.Get("code")
	if code == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, string(dErrors.CodeBadRequest), "Missing authorization code")
		return
	}

	res, err := h.auth.ProcessCallback(ctx, code, q.Get("state"))
	if err != nil {
		h.logger.ErrorContext(ctx, "oauth callback failed",
			"error", err,
			"request_id", middleware.GetReqID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	authmw.SetSessionCookie(w, res.SessionID, h.sessionTTL, h.secureCookie)
	http.Redirect(w, r, res.ReturnTo, http.StatusFound)
}

// handleLogout always succeeds, even without a valid session.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := authmw.SessionIDFromRequest(r); id != "" {
		h.auth.DeleteSessionByID(r.Context(), id)
	}
	authmw.ClearSessionCookie(w, h.secureCookie)

	if authmw.IsAPIRequest(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := authmw.SessionIDFromRequest(r)
	if id == "" {
		httputil.WriteJSONError(w, http.StatusUnauthorized, string(dErrors.CodeUnauthorized), "Session expired or invalid")
		return
	}

	status, err := h.auth.RefreshSession(ctx, id)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			authmw.ClearSessionCookie(w, h.secureCookie)
		}
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	session := authmw.GetSession(r.Context())
	if session == nil {
		httputil.WriteJSONError(w, http.StatusUnauthorized, string(dErrors.CodeUnauthorized), "Session expired or invalid")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		SessionID:    session.ID,
		UserID:       session.User.ID,
		Name:         session.User.Name,
		Email:        session.User.Email,
		RoleName:     session.User.RoleName,
		IsAccountant: session.User.IsAccountant,
		ExpiresAt:    session.ExpiresAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	httputil.WriteJSON(w, status, v)
}
