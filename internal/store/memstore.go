package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nyakairu/prosa/model"
)

// MemoryStore is an in-memory DefinitionStore for tests and single-node use.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions map[string]model.ProcessDefinition // key: definition ID
	versions    map[string]model.ProcessVersion    // key: version ID
}

// NewMemoryStore creates a new in-memory definition store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]model.ProcessDefinition),
		versions:    make(map[string]model.ProcessVersion),
	}
}

// CreateDefinition persists a new definition.
func (s *MemoryStore) CreateDefinition(_ context.Context, def model.ProcessDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.definitions[def.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("definition %q already exists", def.ID))
	}
	for _, existing := range s.definitions {
		if existing.Key == def.Key {
			return model.NewConflictError(fmt.Sprintf("definition key %q already in use", def.Key))
		}
	}

	def.Versions = nil
	s.definitions[def.ID] = def
	return nil
}

// GetDefinition retrieves a definition by id.
func (s *MemoryStore) GetDefinition(_ context.Context, id string) (model.ProcessDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.definitions[id]
	if !exists {
		return model.ProcessDefinition{}, model.NewNotFoundError(
			fmt.Sprintf("definition %q not found", id),
		)
	}
	return def, nil
}

// UpdateDefinition persists an updated definition. The stored key wins over
// whatever the caller passed; the key is immutable.
func (s *MemoryStore) UpdateDefinition(_ context.Context, def model.ProcessDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.definitions[def.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("definition %q not found", def.ID))
	}

	def.Key = existing.Key
	def.CreatedAt = existing.CreatedAt
	def.Versions = nil
	s.definitions[def.ID] = def
	return nil
}

// DeleteDefinition removes a definition and its versions.
func (s *MemoryStore) DeleteDefinition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.definitions[id]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("definition %q not found", id))
	}

	delete(s.definitions, id)
	for vid, ver := range s.versions {
		if ver.DefinitionID == id {
			delete(s.versions, vid)
		}
	}
	return nil
}

// ListDefinitions returns a page of definitions matching the filters.
func (s *MemoryStore) ListDefinitions(_ context.Context, filters ListFilters) ([]model.ProcessDefinition, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(filters.Query)
	var result []model.ProcessDefinition
	for _, def := range s.definitions {
		if query != "" && !matchesQuery(def, query) {
			continue
		}
		result = append(result, def)
	}

	// Sort by created_at descending, id as tiebreaker for stable pages.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	total := len(result)
	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.ProcessDefinition{}, total, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, total, nil
}

// CreateVersion persists a new version.
func (s *MemoryStore) CreateVersion(_ context.Context, ver model.ProcessVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.definitions[ver.DefinitionID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("definition %q not found", ver.DefinitionID))
	}
	if _, exists := s.versions[ver.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("version %q already exists", ver.ID))
	}
	for _, existing := range s.versions {
		if existing.DefinitionID == ver.DefinitionID && existing.Version == ver.Version {
			return model.NewConflictError(fmt.Sprintf(
				"version %q already exists for definition %q", ver.Version, ver.DefinitionID,
			))
		}
	}

	s.versions[ver.ID] = ver
	return nil
}

// GetVersion retrieves a version scoped to its definition.
func (s *MemoryStore) GetVersion(_ context.Context, definitionID, versionID string) (model.ProcessVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ver, exists := s.versions[versionID]
	if !exists || ver.DefinitionID != definitionID {
		return model.ProcessVersion{}, model.NewNotFoundError(
			fmt.Sprintf("version %q not found for definition %q", versionID, definitionID),
		)
	}
	return ver, nil
}

// GetVersionByLabel retrieves a version by its definition and label.
func (s *MemoryStore) GetVersionByLabel(_ context.Context, definitionID, label string) (model.ProcessVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ver := range s.versions {
		if ver.DefinitionID == definitionID && ver.Version == label {
			return ver, nil
		}
	}
	return model.ProcessVersion{}, model.NewNotFoundError(
		fmt.Sprintf("version %q not found for definition %q", label, definitionID),
	)
}

// GetVersionByDeploymentID retrieves the version holding the deployment id.
func (s *MemoryStore) GetVersionByDeploymentID(_ context.Context, deploymentID string) (model.ProcessVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ver := range s.versions {
		if ver.DeploymentID != "" && ver.DeploymentID == deploymentID {
			return ver, nil
		}
	}
	return model.ProcessVersion{}, model.NewNotFoundError(
		fmt.Sprintf("no version with deployment id %q", deploymentID),
	)
}

// UpdateVersion persists an updated version.
func (s *MemoryStore) UpdateVersion(_ context.Context, ver model.ProcessVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.versions[ver.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("version %q not found", ver.ID))
	}

	// DefinitionID, label, and deployment key are immutable.
	ver.DefinitionID = existing.DefinitionID
	ver.Version = existing.Version
	ver.DeploymentKey = existing.DeploymentKey
	ver.CreatedBy = existing.CreatedBy
	ver.CreatedAt = existing.CreatedAt
	s.versions[ver.ID] = ver
	return nil
}

// DeleteVersion removes a version scoped to its definition.
func (s *MemoryStore) DeleteVersion(_ context.Context, definitionID, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ver, exists := s.versions[versionID]
	if !exists || ver.DefinitionID != definitionID {
		return model.NewNotFoundError(
			fmt.Sprintf("version %q not found for definition %q", versionID, definitionID),
		)
	}
	delete(s.versions, versionID)
	return nil
}

// ListVersions returns all versions of a definition, newest first.
func (s *MemoryStore) ListVersions(_ context.Context, definitionID string) ([]model.ProcessVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.definitions[definitionID]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("definition %q not found", definitionID))
	}

	var result []model.ProcessVersion
	for _, ver := range s.versions {
		if ver.DefinitionID == definitionID {
			result = append(result, ver)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Len returns the number of stored definitions. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.definitions)
}

func matchesQuery(def model.ProcessDefinition, query string) bool {
	return strings.Contains(strings.ToLower(def.Key), query) ||
		strings.Contains(strings.ToLower(def.Name), query) ||
		strings.Contains(strings.ToLower(def.Description), query)
}
