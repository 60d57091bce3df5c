// Package instance coordinates process instance starts and task decisions
// against the execution engine. Instances are never persisted locally; every
// read is a projection of the engine's runtime state.
package instance

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/nyakairu/prosa/internal/businesskey"
	"github.com/nyakairu/prosa/internal/engine"
	"github.com/nyakairu/prosa/internal/identity"
	"github.com/nyakairu/prosa/internal/store"
	"github.com/nyakairu/prosa/model"
)

// Business key rendering contract: zero-padded to ten digits.
const (
	businessKeySeparator   = "-"
	businessKeyPlaceholder = '0'
	businessKeyWidth       = 10
)

// StartInput carries everything needed to start a process instance.
type StartInput struct {
	DefinitionID string
	// FormID and FormContext identify the start form, when the process is
	// form-initiated. Both travel to the engine as instance variables.
	FormID      string
	FormContext string
	Variables   map[string]any
}

// TaskDecision carries a task completion or rejection.
type TaskDecision struct {
	InstanceID string
	TaskID     string
	ActorID    string
	Payload    map[string]any
}

// Coordinator starts instances and drives their tasks.
type Coordinator struct {
	store    store.DefinitionStore
	engine   engine.Client
	keys     *businesskey.Generator
	identity identity.Client
	log      *zap.Logger
}

// NewCoordinator creates an instance coordinator.
func NewCoordinator(
	st store.DefinitionStore,
	eng engine.Client,
	keys *businesskey.Generator,
	id identity.Client,
	log *zap.Logger,
) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{store: st, engine: eng, keys: keys, identity: id, log: log}
}

// Start starts a new instance of the definition's deployed version.
func (c *Coordinator) Start(ctx context.Context, in StartInput) (model.ProcessInstance, error) {
	// 1. Resolve the acting user; an unresolvable actor is a caller problem,
	// not an engine one.
	actorID, err := identity.CurrentActorID(ctx)
	if err != nil {
		return model.ProcessInstance{}, err
	}
	if _, err := c.identity.Resolve(ctx, actorID); err != nil {
		return model.ProcessInstance{}, model.NewValidationMessageError(
			fmt.Sprintf("initiating user %q could not be resolved", actorID),
		)
	}
	if in.DefinitionID == "" {
		return model.ProcessInstance{}, model.NewValidationMessageError("definition id is required")
	}

	// 2. Locate the definition's deployed version.
	def, err := c.store.GetDefinition(ctx, in.DefinitionID)
	if err != nil {
		return model.ProcessInstance{}, err
	}
	ver, err := c.deployedVersion(ctx, def.ID)
	if err != nil {
		return model.ProcessInstance{}, err
	}

	// 3. Allocate the business key from the version's deployment key.
	key, err := c.keys.Generate(ctx, ver.DeploymentKey, businessKeySeparator)
	if err != nil {
		return model.ProcessInstance{}, err
	}
	businessKey, err := key.Render(businessKeyPlaceholder, businessKeyWidth)
	if err != nil {
		return model.ProcessInstance{}, err
	}

	// 4. Start at the engine with the initiator merged into the variables.
	variables := make(map[string]any, len(in.Variables)+4)
	for k, v := range in.Variables {
		variables[k] = v
	}
	variables["initiator"] = actorID
	variables["process_owner"] = def.OwnerID
	if in.FormID != "" {
		variables["form_id"] = in.FormID
	}
	if in.FormContext != "" {
		variables["form_context"] = in.FormContext
	}

	started, err := c.engine.StartProcess(ctx, engine.StartRequest{
		DeploymentID: ver.DeploymentID,
		ProcessKey:   ver.DeploymentKey,
		BusinessKey:  businessKey,
		StartedBy:    actorID,
		Variables:    variables,
	})
	if err != nil {
		return model.ProcessInstance{}, asRuntimeFailure("start process instance", err)
	}

	c.log.Info("instance started",
		zap.String("definition_id", def.ID),
		zap.String("instance_id", started.ID),
		zap.String("business_key", businessKey),
		zap.String("started_by", actorID),
	)

	// 5. Project with the tasks the engine opened on start.
	return c.project(ctx, def.ID, started)
}

// CompleteTask records the payload as task variables and completes the task.
func (c *Coordinator) CompleteTask(ctx context.Context, in TaskDecision) error {
	if err := validateDecision(in, false); err != nil {
		return err
	}
	return c.decide(ctx, in)
}

// RejectTask is a completion whose payload must carry a rejection reason.
func (c *Coordinator) RejectTask(ctx context.Context, in TaskDecision) error {
	if err := validateDecision(in, true); err != nil {
		return err
	}
	return c.decide(ctx, in)
}

func (c *Coordinator) decide(ctx context.Context, in TaskDecision) error {
	if len(in.Payload) > 0 {
		if err := c.engine.SetVariables(ctx, in.TaskID, in.Payload); err != nil {
			return asRuntimeFailure("record task variables", err)
		}
	}
	if err := c.engine.CompleteTask(ctx, in.TaskID); err != nil {
		return asRuntimeFailure("complete task", err)
	}
	c.log.Info("task completed",
		zap.String("instance_id", in.InstanceID),
		zap.String("task_id", in.TaskID),
		zap.String("actor_id", in.ActorID),
	)
	return nil
}

// validateDecision checks all decision inputs are present. Authorization of
// the actor against the task is not enforced at this layer.
func validateDecision(in TaskDecision, requireReason bool) error {
	var details []model.FieldError
	if in.InstanceID == "" {
		details = append(details, model.FieldError{Field: "instance_id", Code: "required", Message: "instance id is required"})
	}
	if in.TaskID == "" {
		details = append(details, model.FieldError{Field: "task_id", Code: "required", Message: "task id is required"})
	}
	if in.ActorID == "" {
		details = append(details, model.FieldError{Field: "actor_id", Code: "required", Message: "actor id is required"})
	}
	if in.Payload == nil {
		details = append(details, model.FieldError{Field: "payload", Code: "required", Message: "payload is required"})
	} else if requireReason {
		if reason, ok := in.Payload["reason"].(string); !ok || reason == "" {
			details = append(details, model.FieldError{Field: "payload.reason", Code: "required", Message: "a rejection reason is required"})
		}
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// GetStatus returns the instance projection including its active tasks.
func (c *Coordinator) GetStatus(ctx context.Context, instanceID string) (model.ProcessInstance, error) {
	if instanceID == "" {
		return model.ProcessInstance{}, model.NewValidationMessageError("instance id is required")
	}
	inst, err := c.engine.Instance(ctx, instanceID)
	if err != nil {
		return model.ProcessInstance{}, asRuntimeFailure("query instance", err)
	}
	return c.project(ctx, c.definitionIDFor(ctx, inst), inst)
}

// GetTasks returns the active tasks of an instance.
func (c *Coordinator) GetTasks(ctx context.Context, instanceID string) ([]model.Task, error) {
	if instanceID == "" {
		return nil, model.NewValidationMessageError("instance id is required")
	}
	tasks, err := c.engine.ActiveTasks(ctx, instanceID)
	if err != nil {
		return nil, asRuntimeFailure("query instance tasks", err)
	}
	return projectTasks(tasks), nil
}

// List returns a page over all instances known to the engine.
func (c *Coordinator) List(ctx context.Context, page model.Page) (model.InstancePage, error) {
	instances, err := c.engine.FindInstances(ctx, engine.InstanceFilter{})
	if err != nil {
		return model.InstancePage{}, asRuntimeFailure("query instances", err)
	}
	return c.pageOf(ctx, instances, page)
}

// ListUserRelated returns a page over the union of instances the user started
// and instances holding a task assigned to the user.
func (c *Coordinator) ListUserRelated(ctx context.Context, userID string, page model.Page) (model.InstancePage, error) {
	if userID == "" {
		return model.InstancePage{}, model.NewValidationMessageError("user id is required")
	}

	started, err := c.engine.FindInstances(ctx, engine.InstanceFilter{StartedBy: userID})
	if err != nil {
		return model.InstancePage{}, asRuntimeFailure("query started instances", err)
	}
	involved, err := c.engine.FindInstances(ctx, engine.InstanceFilter{InvolvedAssignee: userID})
	if err != nil {
		return model.InstancePage{}, asRuntimeFailure("query involved instances", err)
	}

	// Union the two sets, newest first. The engine may return the same
	// instance on both sides.
	seen := make(map[string]bool, len(started)+len(involved))
	union := make([]engine.Instance, 0, len(started)+len(involved))
	for _, inst := range append(started, involved...) {
		if seen[inst.ID] {
			continue
		}
		seen[inst.ID] = true
		union = append(union, inst)
	}
	sort.Slice(union, func(i, j int) bool {
		if !union[i].StartedAt.Equal(union[j].StartedAt) {
			return union[i].StartedAt.After(union[j].StartedAt)
		}
		return union[i].ID < union[j].ID
	})

	return c.pageOf(ctx, union, page)
}

// pageOf pages the already-sorted instance set in memory and projects it.
func (c *Coordinator) pageOf(ctx context.Context, instances []engine.Instance, page model.Page) (model.InstancePage, error) {
	page = page.Normalize()
	total := len(instances)

	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}

	items := make([]model.ProcessInstance, 0, end-start)
	for _, inst := range instances[start:end] {
		projected, err := c.project(ctx, c.definitionIDFor(ctx, inst), inst)
		if err != nil {
			return model.InstancePage{}, err
		}
		items = append(items, projected)
	}
	return model.InstancePage{
		Items:      items,
		TotalCount: total,
		Page:       page.Number,
		PageSize:   page.Size,
	}, nil
}

// project maps an engine instance onto the read model, attaching active tasks
// for instances that are still running.
func (c *Coordinator) project(ctx context.Context, definitionID string, inst engine.Instance) (model.ProcessInstance, error) {
	projected := model.ProcessInstance{
		InstanceID:   inst.ID,
		DefinitionID: definitionID,
		Status:       model.InstanceStatusActive,
		BusinessKey:  inst.BusinessKey,
		StartedAt:    inst.StartedAt,
		EndedAt:      inst.EndedAt,
		Variables:    inst.Variables,
	}
	if inst.Ended {
		projected.Status = model.InstanceStatusCompleted
		return projected, nil
	}

	tasks, err := c.engine.ActiveTasks(ctx, inst.ID)
	if err != nil {
		return model.ProcessInstance{}, asRuntimeFailure("query instance tasks", err)
	}
	projected.ActiveTasks = projectTasks(tasks)
	return projected, nil
}

// definitionIDFor maps the instance's deployment back to its version record.
// Instances of deployments this service no longer tracks keep an empty
// definition id.
func (c *Coordinator) definitionIDFor(ctx context.Context, inst engine.Instance) string {
	if inst.DeploymentID == "" {
		return ""
	}
	ver, err := c.store.GetVersionByDeploymentID(ctx, inst.DeploymentID)
	if err != nil {
		return ""
	}
	return ver.DefinitionID
}

// deployedVersion finds the definition's single deployed version.
func (c *Coordinator) deployedVersion(ctx context.Context, definitionID string) (model.ProcessVersion, error) {
	versions, err := c.store.ListVersions(ctx, definitionID)
	if err != nil {
		return model.ProcessVersion{}, err
	}
	for _, ver := range versions {
		if ver.Status == model.VersionStatusDeployed {
			return ver, nil
		}
	}
	return model.ProcessVersion{}, model.NewRuntimeFailureError(
		"no deployed version",
		fmt.Errorf("definition %q has no deployed version", definitionID),
	)
}

func projectTasks(tasks []engine.Task) []model.Task {
	result := make([]model.Task, 0, len(tasks))
	for _, task := range tasks {
		result = append(result, model.Task{
			TaskID:     task.ID,
			Name:       task.Name,
			Assignee:   task.Assignee,
			InstanceID: task.InstanceID,
			CreatedAt:  task.CreatedAt,
		})
	}
	return result
}

// asRuntimeFailure wraps engine errors as RUNTIME_FAILURE, passing existing
// envelopes through unchanged.
func asRuntimeFailure(msg string, err error) error {
	envErr := &model.ErrorEnvelope{}
	if errors.As(err, &envErr) {
		switch envErr.Code {
		case model.ErrEngineUnavailable, model.ErrRuntimeFailure, model.ErrNotFound:
			return envErr
		}
	}
	return model.NewRuntimeFailureError(msg, err)
}
