package integration

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nyakairu/prosa/internal/engine"
	"github.com/nyakairu/prosa/model"
)

// mockEngine serves the execution engine's REST API over a real HTTP server,
// backed by the in-memory stub engine. Tests reach through Stub for failure
// injection and state inspection.
type mockEngine struct {
	Stub      *engine.Stub
	server    *httptest.Server
	unhealthy atomic.Bool
}

func newMockEngine(t *testing.T) *mockEngine {
	t.Helper()

	me := &mockEngine{Stub: engine.NewStub()}

	r := chi.NewRouter()

	r.Get("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if me.unhealthy.Load() {
			writeEngineJSON(w, http.StatusInternalServerError, map[string]string{"message": "engine degraded"})
			return
		}
		writeEngineJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/deployments", func(w http.ResponseWriter, r *http.Request) {
		var req engine.DeployRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEngineJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed deployment"})
			return
		}
		id, err := me.Stub.Deploy(r.Context(), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeEngineJSON(w, http.StatusCreated, map[string]string{"id": id})
	})

	r.Delete("/v1/deployments/{deploymentID}", func(w http.ResponseWriter, r *http.Request) {
		cascade := r.URL.Query().Get("cascade") == "true"
		if err := me.Stub.Undeploy(r.Context(), chi.URLParam(r, "deploymentID"), cascade); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/v1/process-instances", func(w http.ResponseWriter, r *http.Request) {
		var req engine.StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEngineJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed start request"})
			return
		}
		inst, err := me.Stub.StartProcess(r.Context(), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeEngineJSON(w, http.StatusCreated, inst)
	})

	r.Get("/v1/process-instances", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		instances, err := me.Stub.FindInstances(r.Context(), engine.InstanceFilter{
			StartedBy:        q.Get("started_by"),
			InvolvedAssignee: q.Get("involved_assignee"),
			ActiveOnly:       q.Get("active") == "true",
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeEngineJSON(w, http.StatusOK, instances)
	})

	r.Get("/v1/process-instances/{instanceID}", func(w http.ResponseWriter, r *http.Request) {
		inst, err := me.Stub.Instance(r.Context(), chi.URLParam(r, "instanceID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeEngineJSON(w, http.StatusOK, inst)
	})

	r.Get("/v1/process-instances/{instanceID}/tasks", func(w http.ResponseWriter, r *http.Request) {
		tasks, err := me.Stub.ActiveTasks(r.Context(), chi.URLParam(r, "instanceID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeEngineJSON(w, http.StatusOK, tasks)
	})

	r.Put("/v1/tasks/{taskID}/variables", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeEngineJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed variables"})
			return
		}
		if err := me.Stub.SetVariables(r.Context(), chi.URLParam(r, "taskID"), body.Variables); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/v1/tasks/{taskID}/complete", func(w http.ResponseWriter, r *http.Request) {
		if err := me.Stub.CompleteTask(r.Context(), chi.URLParam(r, "taskID")); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	me.server = httptest.NewServer(r)
	t.Cleanup(me.server.Close)
	return me
}

// URL returns the mock engine's base URL.
func (m *mockEngine) URL() string {
	return m.server.URL
}

// SetHealthy flips the /v1/health endpoint between 200 and 500.
func (m *mockEngine) SetHealthy(healthy bool) {
	m.unhealthy.Store(!healthy)
}

// writeEngineError maps stub errors onto the engine's wire format: NOT_FOUND
// envelopes become 404, everything else (including injected failures) 500.
func writeEngineError(w http.ResponseWriter, err error) {
	envErr := &model.ErrorEnvelope{}
	if errors.As(err, &envErr) && envErr.Code == model.ErrNotFound {
		writeEngineJSON(w, http.StatusNotFound, map[string]string{"message": envErr.Message})
		return
	}
	writeEngineJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
}

func writeEngineJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
