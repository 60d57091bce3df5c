package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nyakairu/prosa/internal/businesskey"
	"github.com/nyakairu/prosa/internal/config"
	"github.com/nyakairu/prosa/internal/deploy"
	"github.com/nyakairu/prosa/internal/engine"
	"github.com/nyakairu/prosa/internal/identity"
	"github.com/nyakairu/prosa/internal/instance"
	"github.com/nyakairu/prosa/internal/process"
	"github.com/nyakairu/prosa/internal/store"
	"github.com/nyakairu/prosa/model"
)

const reviewOrderBpmn = `<?xml version="1.0" encoding="UTF-8"?>
<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <bpmn:process id="order_fulfillment" isExecutable="true">
    <bpmn:userTask id="task_review" name="Review Order"/>
  </bpmn:process>
</bpmn:definitions>`

// fakeAuth injects claims for the given subject, rejecting requests that
// carry no Authorization header.
func fakeAuth(subject string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				WriteError(w, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			ctx := WithClaims(r.Context(), map[string]any{"sub": subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newTestRouter(t *testing.T) (chi.Router, *engine.Stub) {
	t.Helper()

	st := store.NewMemoryStore()
	stub := engine.NewStub()
	keys := businesskey.NewGenerator(businesskey.NewMemorySequencer())
	actors := identity.NewStaticClient([]identity.Actor{
		{ID: "user-alice", DisplayName: "Alice A", Email: "alice@example.com"},
		{ID: "user-bob", DisplayName: "Bob B", Email: "bob@example.com"},
	})
	resolver := identity.NewBatchResolver(actors, nil)

	deps := Dependencies{
		Config:       config.Defaults(),
		Process:      process.NewService(st, resolver, nil),
		Deploy:       deploy.NewOrchestrator(st, stub, nil),
		Instances:    instance.NewCoordinator(st, stub, keys, actors, nil),
		Authenticate: fakeAuth("user-alice"),
	}
	return NewRouter(deps), stub
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestRouter_healthBypassesAuth(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200 without auth", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /ready = %d, want 200 without auth", rec.Code)
	}
}

func TestRouter_apiRequiresAuth(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/definitions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated request = %d, want 401", rec.Code)
	}
}

func TestRouter_fullLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)

	// --- create definition ---
	rec := doJSON(t, r, http.MethodPost, "/api/v1/definitions", map[string]any{
		"key":  "order_fulfillment",
		"name": "Order Fulfillment",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create definition = %d, body %s", rec.Code, rec.Body.String())
	}
	var def model.ProcessDefinition
	decode(t, rec, &def)
	if def.OwnerID != "user-alice" {
		t.Errorf("owner = %q, want acting user", def.OwnerID)
	}

	// --- create version ---
	rec = doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/v1/definitions/%s/versions", def.ID), map[string]any{
			"version":  "1.0.0",
			"bpmn_xml": reviewOrderBpmn,
		})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create version = %d, body %s", rec.Code, rec.Body.String())
	}
	var ver model.ProcessVersion
	decode(t, rec, &ver)
	if ver.Status != model.VersionStatusDraft {
		t.Errorf("status = %q, want DRAFT", ver.Status)
	}

	// --- deploy ---
	rec = doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/v1/definitions/%s/versions/%s/deploy", def.ID, ver.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deploy = %d, body %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &ver)
	if ver.Status != model.VersionStatusDeployed {
		t.Errorf("status after deploy = %q, want DEPLOYED", ver.Status)
	}
	if ver.DeploymentID == "" {
		t.Error("deployment id should be set after deploy")
	}

	// --- start instance ---
	rec = doJSON(t, r, http.MethodPost, "/api/v1/instances", map[string]any{
		"definition_id": def.ID,
		"variables":     map[string]any{"amount": 120},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start instance = %d, body %s", rec.Code, rec.Body.String())
	}
	var inst model.ProcessInstance
	decode(t, rec, &inst)
	if inst.BusinessKey != "order_fulfillment-0000000001" {
		t.Errorf("business key = %q, want order_fulfillment-0000000001", inst.BusinessKey)
	}
	if len(inst.ActiveTasks) != 1 || inst.ActiveTasks[0].Name != "Review Order" {
		t.Fatalf("active tasks = %+v, want one Review Order task", inst.ActiveTasks)
	}
	taskID := inst.ActiveTasks[0].TaskID

	// --- list tasks ---
	rec = doJSON(t, r, http.MethodGet,
		fmt.Sprintf("/api/v1/instances/%s/tasks", inst.InstanceID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list tasks = %d", rec.Code)
	}
	var tasks struct {
		Items []model.Task `json:"items"`
	}
	decode(t, rec, &tasks)
	if len(tasks.Items) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks.Items))
	}

	// --- complete task ---
	rec = doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/v1/instances/%s/tasks/%s/complete", inst.InstanceID, taskID),
		map[string]any{"payload": map[string]any{"decision": "approved"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete task = %d, body %s", rec.Code, rec.Body.String())
	}

	// --- verify completion ---
	rec = doJSON(t, r, http.MethodGet, "/api/v1/instances/"+inst.InstanceID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get instance = %d", rec.Code)
	}
	decode(t, rec, &inst)
	if inst.Status != model.InstanceStatusCompleted {
		t.Errorf("status = %q, want completed", inst.Status)
	}

	// --- user-related listing ---
	rec = doJSON(t, r, http.MethodGet, "/api/v1/instances/mine", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list mine = %d", rec.Code)
	}
	var page model.InstancePage
	decode(t, rec, &page)
	if page.TotalCount != 1 {
		t.Errorf("total = %d, want 1", page.TotalCount)
	}
}

func TestRouter_notFoundMapsTo404(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/definitions/nonexistent", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	decode(t, rec, &body)
	if body.Error.Code != model.ErrNotFound {
		t.Errorf("code = %q, want NOT_FOUND", body.Error.Code)
	}
}

func TestRouter_invalidKeyMapsTo422(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/definitions", map[string]any{
		"key":  "Invalid-Key",
		"name": "Bad",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422, body %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_malformedBodyMapsTo400(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/definitions", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRouter_engineFailureMapsTo502(t *testing.T) {
	r, stub := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/definitions", map[string]any{
		"key":  "leave_request",
		"name": "Leave Request",
	})
	var def model.ProcessDefinition
	decode(t, rec, &def)

	rec = doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/v1/definitions/%s/versions", def.ID), map[string]any{
			"version":  "1.0.0",
			"bpmn_xml": reviewOrderBpmn,
		})
	var ver model.ProcessVersion
	decode(t, rec, &ver)

	stub.DeployErr = fmt.Errorf("engine exploded")
	rec = doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/v1/definitions/%s/versions/%s/deploy", def.ID, ver.ID), nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502, body %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_correlationIDEchoed(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-Id", "corr-abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-Id"); got != "corr-abc" {
		t.Errorf("X-Correlation-Id = %q, want corr-abc", got)
	}
}

func TestRouter_securityHeaders(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options header")
	}
}
