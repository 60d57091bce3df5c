package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyakairu/prosa/model"
)

var userTaskNamePattern = regexp.MustCompile(`<(?:[A-Za-z0-9]+:)?userTask[^>]*\bname="([^"]*)"`)

// Stub is an in-memory execution engine for tests and local development. It
// honors the Client contract without evaluating BPMN: starting an instance
// whose model declares a user task opens that task, and completing the last
// open task ends the instance.
type Stub struct {
	mu          sync.Mutex
	deployments map[string]DeployRequest
	instances   map[string]*stubInstance

	// Failure injection. A non-nil error makes the corresponding call fail.
	DeployErr   error
	UndeployErr error
	StartErr    error
	CompleteErr error
}

type stubInstance struct {
	inst  Instance
	tasks map[string]Task
}

// NewStub creates an empty stub engine.
func NewStub() *Stub {
	return &Stub{
		deployments: make(map[string]DeployRequest),
		instances:   make(map[string]*stubInstance),
	}
}

// Deploy registers the model and returns a generated deployment id.
func (s *Stub) Deploy(_ context.Context, req DeployRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeployErr != nil {
		return "", s.DeployErr
	}
	id := uuid.NewString()
	s.deployments[id] = req
	return id, nil
}

// Undeploy removes a deployment. With cascade set, its instances go too.
func (s *Stub) Undeploy(_ context.Context, deploymentID string, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UndeployErr != nil {
		return s.UndeployErr
	}
	if _, exists := s.deployments[deploymentID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("deployment %q not found", deploymentID))
	}
	delete(s.deployments, deploymentID)
	if cascade {
		for id, si := range s.instances {
			if si.inst.DeploymentID == deploymentID {
				delete(s.instances, id)
			}
		}
	}
	return nil
}

// StartProcess creates an instance. If the deployed model declares a user
// task, the instance starts with that task open and assigned to the
// initiator; otherwise the instance runs to completion immediately.
func (s *Stub) StartProcess(_ context.Context, req StartRequest) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.StartErr != nil {
		return Instance{}, s.StartErr
	}
	dep, exists := s.deployments[req.DeploymentID]
	if !exists {
		return Instance{}, model.NewNotFoundError(
			fmt.Sprintf("deployment %q not found", req.DeploymentID),
		)
	}

	now := time.Now().UTC()
	inst := Instance{
		ID:           uuid.NewString(),
		DeploymentID: req.DeploymentID,
		ProcessKey:   req.ProcessKey,
		BusinessKey:  req.BusinessKey,
		StartedBy:    req.StartedBy,
		StartedAt:    now,
		Variables:    cloneVariables(req.Variables),
	}
	si := &stubInstance{inst: inst, tasks: make(map[string]Task)}

	if strings.Contains(dep.BpmnXML, "userTask") {
		task := Task{
			ID:         uuid.NewString(),
			Name:       firstUserTaskName(dep.BpmnXML),
			Assignee:   req.StartedBy,
			InstanceID: inst.ID,
			CreatedAt:  now,
		}
		si.tasks[task.ID] = task
	} else {
		ended := now
		si.inst.Ended = true
		si.inst.EndedAt = &ended
	}

	s.instances[inst.ID] = si
	return si.inst, nil
}

// Instance retrieves a single instance by id.
func (s *Stub) Instance(_ context.Context, instanceID string) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	si, exists := s.instances[instanceID]
	if !exists {
		return Instance{}, model.NewNotFoundError(fmt.Sprintf("instance %q not found", instanceID))
	}
	return si.inst, nil
}

// FindInstances returns instances matching the filter. Filter fields combine
// with OR.
func (s *Stub) FindInstances(_ context.Context, filter InstanceFilter) ([]Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Instance
	for _, si := range s.instances {
		if filter.ActiveOnly && si.inst.Ended {
			continue
		}
		if !s.matchesFilter(si, filter) {
			continue
		}
		result = append(result, si.inst)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Stub) matchesFilter(si *stubInstance, filter InstanceFilter) bool {
	if filter.StartedBy == "" && filter.InvolvedAssignee == "" {
		return true
	}
	if filter.StartedBy != "" && si.inst.StartedBy == filter.StartedBy {
		return true
	}
	if filter.InvolvedAssignee != "" {
		for _, task := range si.tasks {
			if task.Assignee == filter.InvolvedAssignee {
				return true
			}
		}
	}
	return false
}

// ActiveTasks returns the open user tasks of an instance.
func (s *Stub) ActiveTasks(_ context.Context, instanceID string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	si, exists := s.instances[instanceID]
	if !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("instance %q not found", instanceID))
	}
	result := make([]Task, 0, len(si.tasks))
	for _, task := range si.tasks {
		result = append(result, task)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// SetVariables merges variables into the instance owning the task.
func (s *Stub) SetVariables(_ context.Context, taskID string, variables map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	si := s.findTaskInstance(taskID)
	if si == nil {
		return model.NewNotFoundError(fmt.Sprintf("task %q not found", taskID))
	}
	if si.inst.Variables == nil {
		si.inst.Variables = make(map[string]any, len(variables))
	}
	for k, v := range variables {
		si.inst.Variables[k] = v
	}
	return nil
}

// CompleteTask closes the task. Completing the last open task ends the
// instance.
func (s *Stub) CompleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CompleteErr != nil {
		return s.CompleteErr
	}
	si := s.findTaskInstance(taskID)
	if si == nil {
		return model.NewNotFoundError(fmt.Sprintf("task %q not found", taskID))
	}
	delete(si.tasks, taskID)
	if len(si.tasks) == 0 {
		ended := time.Now().UTC()
		si.inst.Ended = true
		si.inst.EndedAt = &ended
	}
	return nil
}

// AssignTask reassigns an open task. Test helper; real engines do this
// through their task API.
func (s *Stub) AssignTask(taskID, assignee string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	si := s.findTaskInstance(taskID)
	if si == nil {
		return model.NewNotFoundError(fmt.Sprintf("task %q not found", taskID))
	}
	task := si.tasks[taskID]
	task.Assignee = assignee
	si.tasks[taskID] = task
	return nil
}

// Deployments returns the ids of all live deployments, sorted. For testing.
func (s *Stub) Deployments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.deployments))
	for id := range s.deployments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Stub) findTaskInstance(taskID string) *stubInstance {
	for _, si := range s.instances {
		if _, ok := si.tasks[taskID]; ok {
			return si
		}
	}
	return nil
}

func firstUserTaskName(bpmnXML string) string {
	if m := userTaskNamePattern.FindStringSubmatch(bpmnXML); m != nil && m[1] != "" {
		return m[1]
	}
	return "User Task"
}

func cloneVariables(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
