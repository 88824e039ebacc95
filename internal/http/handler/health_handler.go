package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/response"
)

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	env    string
	checks map[string]Pinger
}

func NewHealthHandler(env string, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{env: env, checks: checks}
}

func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]any{
		"message":     "Feature Flag Control Plane API",
		"health":      "/health",
		"environment": h.env,
	})
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	deps := make(map[string]string, len(h.checks))
	healthy := true
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			deps[name] = "unavailable"
			healthy = false
			continue
		}
		deps[name] = "ok"
	}
	if !healthy {
		response.Error(w, r, http.StatusServiceUnavailable, response.CodeDependencyUnready, "dependency unavailable", deps)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "healthy", "dependencies": deps})
}
