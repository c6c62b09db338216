package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tremedam/Agendamento-Pro/internal/hybrid"
	"github.com/tremedam/Agendamento-Pro/internal/observability"
	"github.com/tremedam/Agendamento-Pro/internal/platform/httpx"
	"github.com/tremedam/Agendamento-Pro/internal/shared"
	"github.com/tremedam/Agendamento-Pro/jobs"
)

// HealthReporter summarizes the state of the overlay service.
type HealthReporter interface {
	Health() hybrid.Health
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Identity        *shared.IdentityResolver
	ScheduleHandler *hybrid.Handler
	Health          HealthReporter
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

type healthResponse struct {
	Status string `json:"status"`
	hybrid.Health
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if params.Health != nil {
			resp.Health = params.Health.Health()
			if resp.LastPersistError != "" {
				resp.Status = "degraded"
			}
		}
		httpx.JSON(w, http.StatusOK, resp)
	})

	if params.ScheduleHandler != nil {
		resolver := params.Identity
		if resolver == nil {
			resolver = shared.NewIdentityResolver("")
		}
		r.Route("/api/schedules", func(r chi.Router) {
			r.Use(shared.Authenticate(resolver))
			params.ScheduleHandler.MountRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
