// Package store persists process definitions and their versions.
package store

import (
	"context"

	"github.com/nyakairu/prosa/model"
)

// DefinitionStore is the persistence port for definitions and versions.
// All methods return NOT_FOUND envelopes for absent records and CONFLICT for
// uniqueness violations.
type DefinitionStore interface {
	// CreateDefinition persists a new definition. The key must be unique.
	CreateDefinition(ctx context.Context, def model.ProcessDefinition) error

	// GetDefinition retrieves a definition by id, without its versions.
	GetDefinition(ctx context.Context, id string) (model.ProcessDefinition, error)

	// UpdateDefinition persists an updated definition. The key is never
	// written; immutability is enforced by the caller and by the store.
	UpdateDefinition(ctx context.Context, def model.ProcessDefinition) error

	// DeleteDefinition removes a definition and its versions.
	DeleteDefinition(ctx context.Context, id string) error

	// ListDefinitions returns a page of definitions matching the filters,
	// together with the total count of the filtered set.
	ListDefinitions(ctx context.Context, filters ListFilters) ([]model.ProcessDefinition, int, error)

	// CreateVersion persists a new version. The (definition, label) pair must
	// be unique.
	CreateVersion(ctx context.Context, ver model.ProcessVersion) error

	// GetVersion retrieves a version scoped to its definition. A version that
	// exists under a different definition is NOT_FOUND.
	GetVersion(ctx context.Context, definitionID, versionID string) (model.ProcessVersion, error)

	// GetVersionByLabel retrieves a version by its definition and label.
	GetVersionByLabel(ctx context.Context, definitionID, label string) (model.ProcessVersion, error)

	// GetVersionByDeploymentID retrieves the version holding the given engine
	// deployment id.
	GetVersionByDeploymentID(ctx context.Context, deploymentID string) (model.ProcessVersion, error)

	// UpdateVersion persists an updated version.
	UpdateVersion(ctx context.Context, ver model.ProcessVersion) error

	// DeleteVersion removes a version scoped to its definition.
	DeleteVersion(ctx context.Context, definitionID, versionID string) error

	// ListVersions returns all versions of a definition, newest first.
	ListVersions(ctx context.Context, definitionID string) ([]model.ProcessVersion, error)
}

// ListFilters are optional filters for listing definitions.
type ListFilters struct {
	// Query is a free-text filter matched case-insensitively against key,
	// name, and description.
	Query  string
	Limit  int
	Offset int
}
