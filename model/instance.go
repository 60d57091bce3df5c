package model

import "time"

// Engine-reported instance status constants. The engine may report further
// business statuses; these two are the ones this layer interprets.
const (
	InstanceStatusActive    = "active"
	InstanceStatusCompleted = "completed"
)

// ProcessInstance is a read model of one execution of a deployed version.
// It is assembled on demand from the engine's runtime and history query
// surfaces and never persisted by this layer.
type ProcessInstance struct {
	InstanceID   string         `json:"instance_id"`
	DefinitionID string         `json:"definition_id"`
	Status       string         `json:"status"`
	BusinessKey  string         `json:"business_key"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	ActiveTasks  []Task         `json:"active_tasks,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// Task is a read model of a unit of work within a running instance. Tasks are
// owned by the engine; this layer only projects them.
type Task struct {
	TaskID     string    `json:"task_id"`
	Name       string    `json:"name"`
	Assignee   string    `json:"assignee,omitempty"`
	InstanceID string    `json:"instance_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// InstancePage is one page of instances together with the total count of the
// filtered set.
type InstancePage struct {
	Items      []ProcessInstance `json:"items"`
	TotalCount int               `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}
