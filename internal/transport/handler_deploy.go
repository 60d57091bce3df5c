package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nyakairu/prosa/internal/deploy"
	"github.com/nyakairu/prosa/internal/observability"
	"github.com/nyakairu/prosa/model"
)

func handleVersionDeploy(orch *deploy.Orchestrator, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		ver, err := orch.Deploy(r.Context(),
			chi.URLParam(r, "definitionID"), chi.URLParam(r, "versionID"), rctx.SubjectID)
		if err != nil {
			recordDeployment(metrics, "failure")
			WriteError(w, err)
			return
		}
		recordDeployment(metrics, "success")
		WriteJSON(w, http.StatusOK, ver)
	}
}

func handleVersionUndeploy(orch *deploy.Orchestrator, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		ver, err := orch.Undeploy(r.Context(),
			chi.URLParam(r, "definitionID"), chi.URLParam(r, "versionID"), rctx.SubjectID)
		if err != nil {
			recordUndeployment(metrics, "failure")
			WriteError(w, err)
			return
		}
		recordUndeployment(metrics, "success")
		WriteJSON(w, http.StatusOK, ver)
	}
}

func recordDeployment(metrics *observability.Metrics, result string) {
	if metrics != nil {
		metrics.RecordDeployment(result)
	}
}

func recordUndeployment(metrics *observability.Metrics, result string) {
	if metrics != nil {
		metrics.RecordUndeployment(result)
	}
}
