// Package lifecycle owns the version state machine: DRAFT → DEPLOYED →
// DEPRECATED. Transitions are driven from an explicit table so that adding a
// status forces every transition site to be revisited.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/nyakairu/prosa/model"
)

// ErrAlreadyRetired signals that Retire was called on a version that is
// already DEPRECATED. The operation is a no-op; the caller decides whether
// that counts as success.
var ErrAlreadyRetired = errors.New("version already deprecated")

// transitions is the full state-transition table. Every status in
// model.AllVersionStatuses must appear as a key; Transitions() enforces this
// at test time. DEPRECATED is terminal and has no outgoing transitions.
var transitions = map[model.VersionStatus]map[model.VersionStatus]bool{
	model.VersionStatusDraft: {
		model.VersionStatusDeployed:   true,
		model.VersionStatusDeprecated: true,
	},
	model.VersionStatusDeployed: {
		model.VersionStatusDeprecated: true,
	},
	model.VersionStatusDeprecated: {},
}

// Transitions returns the transition table. Exposed for exhaustiveness tests.
func Transitions() map[model.VersionStatus]map[model.VersionStatus]bool {
	return transitions
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to model.VersionStatus) bool {
	allowed, known := transitions[from]
	return known && allowed[to]
}

// CanEdit reports whether a version's immutable fields may still be changed.
// True only while the version is in DRAFT.
func CanEdit(v model.ProcessVersion) bool {
	return v.Status == model.VersionStatusDraft
}

// Promote moves a DRAFT version to DEPLOYED, recording the acting user and
// time. Deploying a draft is the only path into DEPLOYED; any other source
// status is an invalid transition.
func Promote(v *model.ProcessVersion, actorID string, at time.Time) error {
	if !CanTransition(v.Status, model.VersionStatusDeployed) {
		return model.NewInvalidTransitionError(fmt.Sprintf(
			"version %q cannot move from %s to %s", v.ID, v.Status, model.VersionStatusDeployed,
		))
	}
	v.Status = model.VersionStatusDeployed
	v.UpdatedBy = actorID
	v.UpdatedAt = at
	return nil
}

// Retire moves a version to DEPRECATED, recording the acting user and time.
// Retiring an already-DEPRECATED version returns ErrAlreadyRetired without
// touching the version.
func Retire(v *model.ProcessVersion, actorID string, at time.Time) error {
	if v.Status == model.VersionStatusDeprecated {
		return ErrAlreadyRetired
	}
	if !CanTransition(v.Status, model.VersionStatusDeprecated) {
		return model.NewInvalidTransitionError(fmt.Sprintf(
			"version %q cannot move from %s to %s", v.ID, v.Status, model.VersionStatusDeprecated,
		))
	}
	v.Status = model.VersionStatusDeprecated
	v.UpdatedBy = actorID
	v.UpdatedAt = at
	return nil
}
