// Package httptransport is the thin HTTP layer. Handlers delegate to the
// session facade and the inventory proxy without business logic of their own.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockroom/internal/auth/models"
	"stockroom/internal/inventory"
	"stockroom/internal/platform/metrics"
	authmw "stockroom/pkg/platform/middleware/auth"
	"stockroom/pkg/platform/middleware/metadata"
	"stockroom/pkg/platform/middleware/request"
)

//go:generate mockgen -source=router.go -destination=mocks/mocks.go -package=mocks AuthService,InventoryService,HealthChecker

// AuthService is the subset of the session facade the handlers use.
type AuthService interface {
	authmw.Authenticator
	AuthorizationURL(returnTo string) string
	ProcessCallback(ctx context.Context, code, state string) (*models.CallbackResult, error)
	RefreshSession(ctx context.Context, sessionID string) (*models.RefreshStatus, error)
	DeleteSessionByID(ctx context.Context, sessionID string)
}

// InventoryService lists vendor inventory resources.
type InventoryService interface {
	List(ctx context.Context, accessToken, resource string, page inventory.Page) (*inventory.Listing, error)
}

// HealthChecker reports backing-store health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler holds the dependencies shared by every route.
type Handler struct {
	auth         AuthService
	inventory    InventoryService
	health       HealthChecker
	logger       *slog.Logger
	sessionTTL   time.Duration
	secureCookie bool
}

func NewHandler(auth AuthService, inv InventoryService, health HealthChecker, logger *slog.Logger, sessionTTL time.Duration, secureCookie bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auth:         auth,
		inventory:    inv,
		health:       health,
		logger:       logger,
		sessionTTL:   sessionTTL,
		secureCookie: secureCookie,
	}
}

// NewRouter wires every route. m and gatherer may be nil in tests.
func NewRouter(h *Handler, m *metrics.Metrics, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(request.Logger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(metadata.ClientMetadata)
	if m != nil {
		r.Use(m.Middleware)
	}

	r.Get("/healthz", h.handleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/login", h.handleLogin)
	r.Get("/auth/callback", h.handleCallback)
	r.Get("/auth/logout", h.handleLogout)
	r.Post("/auth/logout", h.handleLogout)
	r.Post("/api/auth/refresh", h.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireSession(h.auth, h.logger, h.secureCookie))
		r.Get("/api/auth/me", h.handleMe)
		for _, resource := range inventory.Resources {
			r.Get("/api/"+resource, h.handleList(resource))
		}
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
