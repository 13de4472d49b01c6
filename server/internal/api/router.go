package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/auth"
	"github.com/fleetd-io/fleetd/server/internal/job"
	"github.com/fleetd-io/fleetd/server/internal/monitor"
	"github.com/fleetd-io/fleetd/server/internal/node"
	"github.com/fleetd-io/fleetd/server/internal/repositories"
	"github.com/fleetd-io/fleetd/server/internal/websocket"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct to keep the constructor signature
// manageable as the number of dependencies grows.
type RouterConfig struct {
	AuthService *auth.AuthService
	Registry    *node.Registry
	JobEngine   *job.Engine
	Monitors    *monitor.Engine
	Hub         *websocket.Hub
	Logger      *zap.Logger

	// Repositories — used directly by handlers that do not need service-layer logic.
	Users         repositories.UserRepository
	Jobs          repositories.JobRepository
	Notifications repositories.NotificationRepository
	OIDCProviders repositories.OIDCProviderRepository

	// Secure controls whether auth cookies are set with the Secure flag.
	// Set to true in production (HTTPS), false in local development.
	Secure bool
}

// NewRouter builds and returns the fully configured Chi router.
// All routes are registered under /api/v1.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and latency.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	// --- Initialize handlers ---
	authHandler := NewAuthHandler(cfg.AuthService, cfg.Logger, cfg.Secure)
	nodeHandler := NewNodeHandler(cfg.Registry, cfg.Logger)
	jobHandler := NewJobHandler(cfg.Jobs, cfg.Logger)
	userHandler := NewUserHandler(cfg.Users, cfg.Logger)
	notificationHandler := NewNotificationHandler(cfg.Notifications, cfg.Logger)
	settingsHandler := NewSettingsHandler(cfg.OIDCProviders, cfg.Logger)
	unitOpsHandler := NewUnitOpsHandler(cfg.JobEngine, cfg.Logger)
	monitorHandler := NewMonitorHandler(cfg.Monitors, cfg.Hub, cfg.Logger)

	// jwtMgr is used by the Authenticate middleware to validate Bearer tokens.
	jwtMgr := cfg.AuthService.JWTManager()
	wsHandler := NewWSHandler(cfg.Hub, jwtMgr, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {

		// --- Public routes (no authentication required) ---
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)

			// OIDC flow — public because the user is not yet authenticated.
			r.Get("/auth/oidc/login", authHandler.OIDCLogin)
			r.Get("/auth/oidc/callback", authHandler.OIDCCallback)

			// WebSocket upgrade authenticates itself via a query-param JWT
			// since browsers cannot set custom headers on the handshake,
			// so it cannot sit behind Authenticate.
			r.Get("/ws", wsHandler.ServeWS)
		})

		// --- Authenticated routes (valid JWT required) ---
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(jwtMgr))

			// Auth
			r.Post("/auth/logout", authHandler.Logout)

			// Current user profile
			r.Get("/users/me", userHandler.GetMe)
			r.Patch("/users/me", userHandler.UpdateMe)

			// Nodes — read-only; membership is controlled by the allow-list
			// and live status by the peer gRPC connection, not by this API.
			r.Get("/nodes", nodeHandler.List)
			r.Get("/nodes/{name}", nodeHandler.GetByName)

			// Jobs
			r.Get("/jobs", jobHandler.List)
			r.Get("/jobs/{id}", jobHandler.GetByID)
			r.Get("/jobs/{id}/logs", jobHandler.GetLogs)

			// Unit operations and fleet-wide isolate — mutating, so scoped
			// to admin/operator; viewers are read-only everywhere.
			r.Group(func(r chi.Router) {
				r.Use(RequireAnyRole("admin", "operator"))

				r.Post("/nodes/{name}/units/{unit}/start", unitOpsHandler.Start)
				r.Post("/nodes/{name}/units/{unit}/stop", unitOpsHandler.Stop)
				r.Post("/nodes/{name}/units/{unit}/restart", unitOpsHandler.Restart)
				r.Post("/nodes/{name}/units/{unit}/reload", unitOpsHandler.Reload)
				r.Post("/nodes/{name}/units/{unit}/freeze", unitOpsHandler.Freeze)
				r.Post("/nodes/{name}/units/{unit}/thaw", unitOpsHandler.Thaw)
				r.Post("/nodes/{name}/units/{unit}/enable", unitOpsHandler.Enable)
				r.Post("/nodes/{name}/units/{unit}/disable", unitOpsHandler.Disable)
				r.Post("/nodes/{name}/reload", unitOpsHandler.DaemonReload)
				r.Post("/isolate", unitOpsHandler.Isolate)
			})

			// Monitors — any authenticated user may watch unit/node events.
			r.Post("/monitors", monitorHandler.Create)
			r.Delete("/monitors/{id}", monitorHandler.Delete)

			// Notifications
			r.Get("/notifications", notificationHandler.List)
			r.Patch("/notifications/{id}/read", notificationHandler.MarkAsRead)
			r.Patch("/notifications/read-all", notificationHandler.MarkAllAsRead)

			// --- Admin-only routes ---
			r.Group(func(r chi.Router) {
				r.Use(RequireRole("admin"))

				// User management
				r.Get("/users", userHandler.List)
				r.Post("/users", userHandler.Create)
				r.Get("/users/{id}", userHandler.GetByID)
				r.Patch("/users/{id}", userHandler.Update)
				r.Delete("/users/{id}", userHandler.Delete)

				// OIDC provider configuration
				r.Get("/settings/oidc", settingsHandler.GetOIDC)
				r.Put("/settings/oidc", settingsHandler.UpsertOIDC)
			})
		})
	})

	return r
}
