package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/handler"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/middleware"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/response"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/service"
)

type Dependencies struct {
	FlagHandler     *handler.FlagHandler
	ApprovalHandler *handler.ApprovalHandler
	RuntimeHandler  *handler.RuntimeHandler
	HealthHandler   *handler.HealthHandler
	Logger          *slog.Logger
	// WriteLimiter may be nil, in which case writes are not throttled.
	WriteLimiter *middleware.RateLimiter
	// IdempotencyStore may be nil, which disables Idempotency-Key replay.
	IdempotencyStore service.IdempotencyStore
	IdempotencyTTL   time.Duration
	CORSOrigins      []string
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Tracing("feature-flag-api"))
	r.Use(middleware.RequestLogger(dep.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(dep.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusMethodNotAllowed, response.CodeMethodNotAllowed, "method not allowed", nil)
	})

	r.Get("/", dep.HealthHandler.Root)
	r.Get("/health", dep.HealthHandler.Health)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if dep.WriteLimiter != nil {
				r.Use(dep.WriteLimiter.Middleware())
			}
			if dep.IdempotencyStore != nil {
				r.Use(middleware.Idempotency(dep.IdempotencyStore, "writes", dep.IdempotencyTTL))
			}
			r.Route("/flags", func(r chi.Router) {
				r.Get("/", dep.FlagHandler.ListFlags)
				r.Post("/", dep.FlagHandler.CreateFlag)
				r.Get("/{id}", dep.FlagHandler.GetFlag)
				r.Patch("/{id}/toggle", dep.FlagHandler.ToggleFlag)
				r.Patch("/{id}/rollout", dep.FlagHandler.UpdateRollout)
			})
			r.Route("/approvals", func(r chi.Router) {
				r.Get("/", dep.ApprovalHandler.ListApprovals)
				r.Post("/", dep.ApprovalHandler.CreateApproval)
				r.Get("/pending/{approverId}", dep.ApprovalHandler.ListPendingForApprover)
				r.Patch("/{id}", dep.ApprovalHandler.ResolveApproval)
			})
		})
		r.Route("/runtime", func(r chi.Router) {
			r.Get("/check", dep.RuntimeHandler.Check)
			r.Get("/all", dep.RuntimeHandler.CheckAll)
		})
	})
	return r
}
