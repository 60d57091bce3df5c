package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nyakairu/prosa/internal/instance"
	"github.com/nyakairu/prosa/internal/observability"
	"github.com/nyakairu/prosa/model"
)

func handleInstanceStart(coord *instance.Coordinator, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DefinitionID string         `json:"definition_id"`
			FormID       string         `json:"form_id"`
			FormContext  string         `json:"form_context"`
			Variables    map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		inst, err := coord.Start(r.Context(), instance.StartInput{
			DefinitionID: body.DefinitionID,
			FormID:       body.FormID,
			FormContext:  body.FormContext,
			Variables:    body.Variables,
		})
		if err != nil {
			recordInstanceStart(metrics, "failure")
			WriteError(w, err)
			return
		}
		recordInstanceStart(metrics, "success")
		WriteJSON(w, http.StatusCreated, inst)
	}
}

func handleInstanceGet(coord *instance.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, err := coord.GetStatus(r.Context(), chi.URLParam(r, "instanceID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleInstanceTasks(coord *instance.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := coord.GetTasks(r.Context(), chi.URLParam(r, "instanceID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": tasks})
	}
}

func handleInstanceList(coord *instance.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := model.Page{
			Number: queryInt(r, "page", 1),
			Size:   queryInt(r, "page_size", 20),
		}

		result, err := coord.List(r.Context(), page)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

// handleInstanceUserRelated lists instances the current user started or holds
// an active task in.
func handleInstanceUserRelated(coord *instance.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		page := model.Page{
			Number: queryInt(r, "page", 1),
			Size:   queryInt(r, "page_size", 20),
		}

		result, err := coord.ListUserRelated(r.Context(), rctx.SubjectID, page)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleTaskComplete(coord *instance.Coordinator, metrics *observability.Metrics) http.HandlerFunc {
	return taskDecisionHandler(coord.CompleteTask, metrics, "complete", "completed")
}

func handleTaskReject(coord *instance.Coordinator, metrics *observability.Metrics) http.HandlerFunc {
	return taskDecisionHandler(coord.RejectTask, metrics, "reject", "rejected")
}

func taskDecisionHandler(
	decide func(ctx context.Context, in instance.TaskDecision) error,
	metrics *observability.Metrics,
	decision, resultStatus string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Payload map[string]any `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		err := decide(r.Context(), instance.TaskDecision{
			InstanceID: chi.URLParam(r, "instanceID"),
			TaskID:     chi.URLParam(r, "taskID"),
			ActorID:    rctx.SubjectID,
			Payload:    body.Payload,
		})
		if err != nil {
			recordTaskCompletion(metrics, decision, "failure")
			WriteError(w, err)
			return
		}
		recordTaskCompletion(metrics, decision, "success")
		WriteJSON(w, http.StatusOK, map[string]string{"status": resultStatus})
	}
}

func recordInstanceStart(metrics *observability.Metrics, result string) {
	if metrics != nil {
		metrics.RecordInstanceStart(result)
	}
}

func recordTaskCompletion(metrics *observability.Metrics, decision, result string) {
	if metrics != nil {
		metrics.RecordTaskCompletion(decision, result)
	}
}
