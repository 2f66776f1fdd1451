package router

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/docnet/internal/metrics"
	"github.com/ovaphlow/docnet/internal/oidc"
	"github.com/ovaphlow/docnet/internal/user"
	"github.com/ovaphlow/docnet/internal/user/entity"
)

// Deps are the handlers and middleware mounted by RegisterRoutes.
// OAuth may be nil when no identity provider is configured.
type Deps struct {
	Users   *user.Handler
	OAuth   *oidc.Handler
	Auth    *AuthMiddleware
	Metrics *metrics.Metrics
	// Ready reports backing store health for /health.
	Ready  func(ctx context.Context) error
	Logger *zap.SugaredLogger
}

// Routes returns the route table.
func Routes(d Deps) []Route {
	routes := []Route{
		{http.MethodPost, "/login", Public, d.Users.Login},
		{http.MethodPost, "/register", Public, d.Users.Register},
		{http.MethodPost, "/verify-nmc", Public, d.Users.VerifyNMC},
		{http.MethodGet, "/me", SelfAuthenticated, d.Users.Me},
		{http.MethodPut, "/me/profile", Authenticated, d.Users.UpdateProfile},
		{http.MethodGet, "/consultations/doctors", Authenticated, d.Users.Doctors},
		{http.MethodGet, "/doctor/patients", RequiresRole(entity.RoleDoctor), d.Users.Patients},
		{http.MethodGet, "/health", Public, health(d.Ready)},
	}
	if d.OAuth != nil {
		routes = append(routes,
			Route{http.MethodGet, "/oauth2/authorization/{provider}", Public, d.OAuth.Authorize},
			Route{http.MethodGet, "/auth/oauth-success", Public, d.OAuth.Callback},
		)
	}
	return routes
}

// RegisterRoutes mounts the route table behind the auth middleware and the
// authorization gate.
func RegisterRoutes(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	gated := NewGate(d.Metrics).Handler(Routes(d))
	return LoggingMiddleware(logger)(SecurityHeadersMiddleware()(d.Auth.Wrap(gated)))
}

func health(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
