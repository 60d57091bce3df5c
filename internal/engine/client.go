// Package engine is the port to the external BPMN execution engine. The
// service never evaluates process semantics itself; it deploys definitions,
// starts instances, and drives tasks through this client.
package engine

import (
	"context"
	"time"
)

// Client is the execution engine port. Implementations translate these calls
// into engine API requests; failures surface as RUNTIME_FAILURE or
// ENGINE_UNAVAILABLE envelopes so callers can map them uniformly.
type Client interface {
	// Deploy registers a process model with the engine and returns the
	// engine-assigned deployment id.
	Deploy(ctx context.Context, req DeployRequest) (string, error)

	// Undeploy removes a deployment. With cascade set, running instances of
	// the deployment are terminated as well.
	Undeploy(ctx context.Context, deploymentID string, cascade bool) error

	// StartProcess starts a new instance of a deployed process.
	StartProcess(ctx context.Context, req StartRequest) (Instance, error)

	// Instance retrieves a single instance by id.
	Instance(ctx context.Context, instanceID string) (Instance, error)

	// FindInstances returns instances matching the filter.
	FindInstances(ctx context.Context, filter InstanceFilter) ([]Instance, error)

	// ActiveTasks returns the open user tasks of an instance.
	ActiveTasks(ctx context.Context, instanceID string) ([]Task, error)

	// SetVariables merges variables into the scope of a task.
	SetVariables(ctx context.Context, taskID string, variables map[string]any) error

	// CompleteTask completes an open user task.
	CompleteTask(ctx context.Context, taskID string) error
}

// DeployRequest carries a process model to register with the engine.
type DeployRequest struct {
	// Name identifies the deployment in the engine, typically
	// "<definition key>:<version label>".
	Name string `json:"name"`
	// ResourceName is the file name the model is registered under.
	ResourceName string `json:"resource_name"`
	// BpmnXML is the full process model.
	BpmnXML string `json:"bpmn_xml"`
}

// StartRequest starts a new instance of a deployed process.
type StartRequest struct {
	// DeploymentID selects the exact deployment to start from.
	DeploymentID string `json:"deployment_id"`
	// ProcessKey is the engine-side process key within the deployment.
	ProcessKey string `json:"process_key"`
	// BusinessKey is the human-readable correlation key for the instance.
	BusinessKey string `json:"business_key"`
	// StartedBy is the subject id of the initiating user.
	StartedBy string `json:"started_by"`
	// Variables seed the instance scope.
	Variables map[string]any `json:"variables,omitempty"`
}

// Instance is the engine's view of a process instance.
type Instance struct {
	ID           string         `json:"id"`
	DeploymentID string         `json:"deployment_id"`
	ProcessKey   string         `json:"process_key"`
	BusinessKey  string         `json:"business_key"`
	StartedBy    string         `json:"started_by"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Ended        bool           `json:"ended"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// Task is an open user task within an instance.
type Task struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Assignee   string    `json:"assignee,omitempty"`
	InstanceID string    `json:"instance_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// InstanceFilter narrows FindInstances. Fields combine with OR when more than
// one is set; callers dedupe the union themselves.
type InstanceFilter struct {
	// StartedBy matches instances initiated by the subject.
	StartedBy string
	// InvolvedAssignee matches instances with an open task assigned to the
	// subject.
	InvolvedAssignee string
	// ActiveOnly drops ended instances from the result.
	ActiveOnly bool
}
