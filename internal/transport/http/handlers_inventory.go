package httptransport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"stockroom/internal/inventory"
	dErrors "stockroom/pkg/domain-errors"
	"stockroom/pkg/platform/httputil"
	authmw "stockroom/pkg/platform/middleware/auth"
)

func (h *Handler) handleList(resource string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		session := authmw.GetSession(ctx)
		if session == nil {
			httputil.WriteJSONError(w, http.StatusUnauthorized, string(dErrors.CodeUnauthorized), "Session expired or invalid")
			return
		}

		listing, err := h.inventory.List(ctx, session.AccessToken, resource, inventory.ParsePage(r.URL.Query()))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.ErrorContext(ctx, "inventory listing failed",
				"resource", resource,
				"session_id", session.ID,
				"error", err,
				"request_id", middleware.GetReqID(ctx),
			)
			httputil.WriteError(w, translateInventoryError(err))
			return
		}
		writeJSON(w, http.StatusOK, listing)
	}
}

func translateInventoryError(err error) error {
	var apiErr *inventory.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "vendor rejected the session token")
	}
	return dErrors.Wrap(err, dErrors.CodeBadGateway, "inventory service unavailable")
}
