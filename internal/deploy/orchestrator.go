// Package deploy coordinates version lifecycle changes with the execution
// engine so that at most one version of a definition is deployed at a time.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nyakairu/prosa/internal/engine"
	"github.com/nyakairu/prosa/internal/lifecycle"
	"github.com/nyakairu/prosa/internal/store"
	"github.com/nyakairu/prosa/model"
)

// Orchestrator sequences store and engine writes for deploy and undeploy.
// Sibling retirement is committed before the engine call: a failed engine
// deploy leaves the definition with no deployed version rather than two.
type Orchestrator struct {
	store  store.DefinitionStore
	engine engine.Client
	log    *zap.Logger
	now    func() time.Time
}

// NewOrchestrator creates a deploy orchestrator.
func NewOrchestrator(st store.DefinitionStore, eng engine.Client, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		store:  st,
		engine: eng,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Deploy registers the version with the execution engine and promotes it to
// DEPLOYED, retiring any previously deployed version of the same definition.
func (o *Orchestrator) Deploy(ctx context.Context, definitionID, versionID, actorID string) (model.ProcessVersion, error) {
	// 1. Load the definition and the target version. GetVersion scopes the
	// lookup, so a version under another definition is NOT_FOUND.
	def, err := o.store.GetDefinition(ctx, definitionID)
	if err != nil {
		return model.ProcessVersion{}, err
	}
	ver, err := o.store.GetVersion(ctx, definitionID, versionID)
	if err != nil {
		return model.ProcessVersion{}, err
	}

	// 2. Reject targets that cannot be deployed.
	switch ver.Status {
	case model.VersionStatusDeployed:
		return model.ProcessVersion{}, model.NewConflictError(
			fmt.Sprintf("version %q is already deployed", ver.Version),
		)
	case model.VersionStatusDeprecated:
		return model.ProcessVersion{}, model.NewConflictError(
			fmt.Sprintf("version %q is deprecated and cannot be redeployed", ver.Version),
		)
	}

	// 3. Retire every currently deployed sibling before touching the engine.
	// More than one deployed sibling is an anomaly; retiring all of them
	// heals it.
	siblings, err := o.store.ListVersions(ctx, definitionID)
	if err != nil {
		return model.ProcessVersion{}, err
	}
	deployed := 0
	for _, sibling := range siblings {
		if sibling.Status != model.VersionStatusDeployed {
			continue
		}
		deployed++
		if err := o.retire(ctx, sibling, actorID); err != nil {
			return model.ProcessVersion{}, err
		}
	}
	if deployed > 1 {
		o.log.Warn("definition had multiple deployed versions, all retired",
			zap.String("definition_id", definitionID),
			zap.Int("deployed_count", deployed),
		)
	}

	// 4. Register with the engine. On failure the siblings stay retired and
	// the target stays DRAFT, so a retry starts from a clean state.
	deploymentID, err := o.engine.Deploy(ctx, engine.DeployRequest{
		Name:         fmt.Sprintf("%s:%s", def.Key, ver.Version),
		ResourceName: def.Key + ".bpmn",
		BpmnXML:      ver.BpmnXML,
	})
	if err != nil {
		o.log.Error("engine deploy failed",
			zap.String("definition_id", definitionID),
			zap.String("version_id", versionID),
			zap.Error(err),
		)
		return model.ProcessVersion{}, asRuntimeFailure("deploy process model", err)
	}

	// 5. Promote the target and record the deployment id.
	if err := lifecycle.Promote(&ver, actorID, o.now()); err != nil {
		return model.ProcessVersion{}, err
	}
	ver.DeploymentID = deploymentID

	// 6. Persist. A store failure here leaves an engine deployment without a
	// version record; log enough to reconcile by hand.
	if err := o.store.UpdateVersion(ctx, ver); err != nil {
		o.log.Error("version promoted in engine but store update failed",
			zap.String("version_id", versionID),
			zap.String("deployment_id", deploymentID),
			zap.Error(err),
		)
		return model.ProcessVersion{}, err
	}

	o.log.Info("version deployed",
		zap.String("definition_id", definitionID),
		zap.String("version_id", versionID),
		zap.String("version", ver.Version),
		zap.String("deployment_id", deploymentID),
	)
	return ver, nil
}

// Undeploy removes the version's engine deployment, cascading to running
// instances, and marks the version DEPRECATED. Versions without a deployment
// id skip the engine entirely, which makes the operation idempotent: a second
// undeploy of the same version succeeds without an engine call.
func (o *Orchestrator) Undeploy(ctx context.Context, definitionID, versionID, actorID string) (model.ProcessVersion, error) {
	if _, err := o.store.GetDefinition(ctx, definitionID); err != nil {
		return model.ProcessVersion{}, err
	}
	ver, err := o.store.GetVersion(ctx, definitionID, versionID)
	if err != nil {
		return model.ProcessVersion{}, err
	}

	if ver.DeploymentID != "" {
		if err := o.engine.Undeploy(ctx, ver.DeploymentID, true); err != nil {
			// An engine-side NOT_FOUND means the deployment is already gone;
			// proceed and clear the stale id.
			envErr := &model.ErrorEnvelope{}
			if !errors.As(err, &envErr) || envErr.Code != model.ErrNotFound {
				o.log.Error("engine undeploy failed",
					zap.String("version_id", versionID),
					zap.String("deployment_id", ver.DeploymentID),
					zap.Error(err),
				)
				return model.ProcessVersion{}, asRuntimeFailure("remove engine deployment", err)
			}
		}
		ver.DeploymentID = ""
	}

	// Retiring an already deprecated version is a no-op, not an error.
	if err := lifecycle.Retire(&ver, actorID, o.now()); err != nil && !errors.Is(err, lifecycle.ErrAlreadyRetired) {
		return model.ProcessVersion{}, err
	}

	if err := o.store.UpdateVersion(ctx, ver); err != nil {
		return model.ProcessVersion{}, err
	}

	o.log.Info("version undeployed",
		zap.String("definition_id", definitionID),
		zap.String("version_id", versionID),
		zap.String("version", ver.Version),
	)
	return ver, nil
}

// retire marks a deployed sibling DEPRECATED and persists it.
func (o *Orchestrator) retire(ctx context.Context, sibling model.ProcessVersion, actorID string) error {
	if err := lifecycle.Retire(&sibling, actorID, o.now()); err != nil && !errors.Is(err, lifecycle.ErrAlreadyRetired) {
		return err
	}
	if err := o.store.UpdateVersion(ctx, sibling); err != nil {
		return err
	}
	o.log.Info("previous version retired",
		zap.String("version_id", sibling.ID),
		zap.String("version", sibling.Version),
	)
	return nil
}

// asRuntimeFailure wraps engine errors as RUNTIME_FAILURE, passing existing
// envelopes through unchanged.
func asRuntimeFailure(msg string, err error) error {
	envErr := &model.ErrorEnvelope{}
	if errors.As(err, &envErr) {
		switch envErr.Code {
		case model.ErrEngineUnavailable, model.ErrRuntimeFailure:
			return envErr
		}
	}
	return model.NewRuntimeFailureError(msg, err)
}
