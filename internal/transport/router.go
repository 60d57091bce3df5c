package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nyakairu/prosa/internal/config"
	"github.com/nyakairu/prosa/internal/deploy"
	"github.com/nyakairu/prosa/internal/instance"
	"github.com/nyakairu/prosa/internal/observability"
	"github.com/nyakairu/prosa/internal/process"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Process      *process.Service
	Deploy       *deploy.Orchestrator
	Instances    *instance.Coordinator
	Readiness    observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(log))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes — bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)
		r.Use(observability.TracingMiddleware)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(log))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Route("/definitions", func(r chi.Router) {
			r.Post("/", handleDefinitionCreate(deps.Process))
			r.Get("/", handleDefinitionList(deps.Process))

			r.Route("/{definitionID}", func(r chi.Router) {
				r.Get("/", handleDefinitionGet(deps.Process))
				r.Put("/", handleDefinitionUpdate(deps.Process))
				r.Delete("/", handleDefinitionDelete(deps.Process))

				r.Route("/versions", func(r chi.Router) {
					r.Post("/", handleVersionCreate(deps.Process))
					r.Get("/", handleVersionList(deps.Process))

					r.Route("/{versionID}", func(r chi.Router) {
						r.Get("/", handleVersionGet(deps.Process))
						r.Put("/", handleVersionUpdate(deps.Process))
						r.Delete("/", handleVersionDelete(deps.Process))
						r.Post("/deploy", handleVersionDeploy(deps.Deploy, deps.Metrics))
						r.Post("/undeploy", handleVersionUndeploy(deps.Deploy, deps.Metrics))
					})
				})
			})
		})

		r.Route("/instances", func(r chi.Router) {
			r.Post("/", handleInstanceStart(deps.Instances, deps.Metrics))
			r.Get("/", handleInstanceList(deps.Instances))
			r.Get("/mine", handleInstanceUserRelated(deps.Instances))

			r.Route("/{instanceID}", func(r chi.Router) {
				r.Get("/", handleInstanceGet(deps.Instances))
				r.Get("/tasks", handleInstanceTasks(deps.Instances))
				r.Post("/tasks/{taskID}/complete", handleTaskComplete(deps.Instances, deps.Metrics))
				r.Post("/tasks/{taskID}/reject", handleTaskReject(deps.Instances, deps.Metrics))
			})
		})
	})

	return r
}
