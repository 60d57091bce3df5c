// Package process is the artifact management façade: definition and version
// CRUD, paged search, and read-model assembly. Lifecycle changes that touch
// the execution engine live in the deploy package.
package process

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nyakairu/prosa/internal/identity"
	"github.com/nyakairu/prosa/internal/lifecycle"
	"github.com/nyakairu/prosa/internal/store"
	"github.com/nyakairu/prosa/model"
)

var (
	// keyPattern constrains definition keys to stable machine slugs; the key
	// doubles as the engine deployment key and the business key prefix.
	keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	// labelPattern constrains version labels to semantic version triplets.
	labelPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// DefinitionInput carries caller-supplied definition fields.
type DefinitionInput struct {
	Key             string `json:"key"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	OwnerID         string `json:"owner_id"`
	BusinessOwnerID string `json:"business_owner_id"`
}

// VersionInput carries caller-supplied version fields.
type VersionInput struct {
	Version       string `json:"version"`
	Description   string `json:"description"`
	BpmnXML       string `json:"bpmn_xml"`
	FormVersionID string `json:"form_version_id"`
}

// Service implements definition and version management.
type Service struct {
	store    store.DefinitionStore
	resolver *identity.BatchResolver
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates the process service.
func NewService(st store.DefinitionStore, resolver *identity.BatchResolver, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    st,
		resolver: resolver,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// --- definitions ---

// CreateDefinition creates a new definition owned by the acting user unless
// an explicit owner is supplied.
func (s *Service) CreateDefinition(ctx context.Context, in DefinitionInput) (model.ProcessDefinition, error) {
	actorID, err := identity.CurrentActorID(ctx)
	if err != nil {
		return model.ProcessDefinition{}, err
	}
	if err := validateDefinitionInput(in); err != nil {
		return model.ProcessDefinition{}, err
	}

	ownerID := in.OwnerID
	if ownerID == "" {
		ownerID = actorID
	}

	now := s.now()
	def := model.ProcessDefinition{
		ID:              uuid.NewString(),
		Key:             in.Key,
		Name:            in.Name,
		Description:     in.Description,
		OwnerID:         ownerID,
		BusinessOwnerID: in.BusinessOwnerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateDefinition(ctx, def); err != nil {
		return model.ProcessDefinition{}, err
	}

	s.log.Info("definition created",
		zap.String("definition_id", def.ID),
		zap.String("key", def.Key),
		zap.String("actor_id", actorID),
	)
	return def, nil
}

// GetDefinition returns a definition with its versions, newest first.
func (s *Service) GetDefinition(ctx context.Context, id string) (model.ProcessDefinition, error) {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return model.ProcessDefinition{}, err
	}
	versions, err := s.store.ListVersions(ctx, id)
	if err != nil {
		return model.ProcessDefinition{}, err
	}
	def.Versions = versions

	if s.resolver != nil {
		page := []model.ProcessDefinition{def}
		s.resolver.DecorateDefinitions(ctx, page)
		def = page[0]
	}
	return def, nil
}

// UpdateDefinition updates a definition's mutable fields. The key is fixed at
// creation; an attempt to change it is rejected rather than ignored.
func (s *Service) UpdateDefinition(ctx context.Context, id string, in DefinitionInput) (model.ProcessDefinition, error) {
	actorID, err := identity.CurrentActorID(ctx)
	if err != nil {
		return model.ProcessDefinition{}, err
	}

	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return model.ProcessDefinition{}, err
	}
	if in.Key != "" && in.Key != def.Key {
		return model.ProcessDefinition{}, model.NewValidationMessageError(
			fmt.Sprintf("definition key is immutable (current %q)", def.Key),
		)
	}
	if in.Name == "" {
		return model.ProcessDefinition{}, model.NewValidationError([]model.FieldError{
			{Field: "name", Code: "required", Message: "name is required"},
		})
	}

	def.Name = in.Name
	def.Description = in.Description
	if in.OwnerID != "" {
		def.OwnerID = in.OwnerID
	}
	def.BusinessOwnerID = in.BusinessOwnerID
	def.UpdatedAt = s.now()

	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return model.ProcessDefinition{}, err
	}

	s.log.Info("definition updated",
		zap.String("definition_id", id),
		zap.String("actor_id", actorID),
	)
	return def, nil
}

// DeleteDefinition removes a definition and its versions. A definition with a
// deployed version must be undeployed first.
func (s *Service) DeleteDefinition(ctx context.Context, id string) error {
	versions, err := s.store.ListVersions(ctx, id)
	if err != nil {
		return err
	}
	for _, ver := range versions {
		if ver.Status == model.VersionStatusDeployed {
			return model.NewConflictError(fmt.Sprintf(
				"version %q is deployed; undeploy before deleting the definition", ver.Version,
			))
		}
	}
	if err := s.store.DeleteDefinition(ctx, id); err != nil {
		return err
	}
	s.log.Info("definition deleted", zap.String("definition_id", id))
	return nil
}

// ListDefinitions returns a page of definitions matching the free-text query,
// decorated with owner display names.
func (s *Service) ListDefinitions(ctx context.Context, query string, page model.Page) (model.DefinitionPage, error) {
	page = page.Normalize()
	items, total, err := s.store.ListDefinitions(ctx, store.ListFilters{
		Query:  query,
		Limit:  page.Size,
		Offset: page.Offset(),
	})
	if err != nil {
		return model.DefinitionPage{}, err
	}

	if s.resolver != nil {
		s.resolver.DecorateDefinitions(ctx, items)
	}
	return model.DefinitionPage{
		Items:      items,
		TotalCount: total,
		Page:       page.Number,
		PageSize:   page.Size,
	}, nil
}

// --- versions ---

// CreateVersion creates a DRAFT version under a definition. The deployment
// key is inherited from the definition key.
func (s *Service) CreateVersion(ctx context.Context, definitionID string, in VersionInput) (model.ProcessVersion, error) {
	actorID, err := identity.CurrentActorID(ctx)
	if err != nil {
		return model.ProcessVersion{}, err
	}
	if err := validateVersionInput(in); err != nil {
		return model.ProcessVersion{}, err
	}

	def, err := s.store.GetDefinition(ctx, definitionID)
	if err != nil {
		return model.ProcessVersion{}, err
	}

	now := s.now()
	ver := model.ProcessVersion{
		ID:            uuid.NewString(),
		DefinitionID:  def.ID,
		Version:       in.Version,
		Description:   in.Description,
		BpmnXML:       in.BpmnXML,
		Status:        model.VersionStatusDraft,
		DeploymentKey: def.Key,
		FormVersionID: in.FormVersionID,
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateVersion(ctx, ver); err != nil {
		return model.ProcessVersion{}, err
	}

	s.log.Info("version created",
		zap.String("definition_id", def.ID),
		zap.String("version_id", ver.ID),
		zap.String("version", ver.Version),
		zap.String("actor_id", actorID),
	)
	return ver, nil
}

// GetVersion returns a version scoped to its definition.
func (s *Service) GetVersion(ctx context.Context, definitionID, versionID string) (model.ProcessVersion, error) {
	return s.store.GetVersion(ctx, definitionID, versionID)
}

// ListVersions returns all versions of a definition, newest first.
func (s *Service) ListVersions(ctx context.Context, definitionID string) ([]model.ProcessVersion, error) {
	if _, err := s.store.GetDefinition(ctx, definitionID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, definitionID)
}

// UpdateVersion updates a version within its lifecycle constraints: a DRAFT
// accepts any payload change, a DEPLOYED version accepts only description and
// related-form changes, a DEPRECATED version accepts none.
func (s *Service) UpdateVersion(ctx context.Context, definitionID, versionID string, in VersionInput) (model.ProcessVersion, error) {
	actorID, err := identity.CurrentActorID(ctx)
	if err != nil {
		return model.ProcessVersion{}, err
	}

	ver, err := s.store.GetVersion(ctx, definitionID, versionID)
	if err != nil {
		return model.ProcessVersion{}, err
	}

	if ver.Status == model.VersionStatusDeprecated {
		return model.ProcessVersion{}, model.NewInvalidTransitionError(
			fmt.Sprintf("version %q is deprecated and immutable", ver.Version),
		)
	}
	if in.Version != "" && in.Version != ver.Version {
		return model.ProcessVersion{}, model.NewValidationMessageError(
			fmt.Sprintf("version label is immutable (current %q)", ver.Version),
		)
	}
	if !lifecycle.CanEdit(ver) && in.BpmnXML != "" && in.BpmnXML != ver.BpmnXML {
		return model.ProcessVersion{}, model.NewInvalidTransitionError(
			fmt.Sprintf("version %q is deployed; its process model can no longer change", ver.Version),
		)
	}

	ver.Description = in.Description
	ver.FormVersionID = in.FormVersionID
	if lifecycle.CanEdit(ver) && in.BpmnXML != "" {
		ver.BpmnXML = in.BpmnXML
	}
	ver.UpdatedBy = actorID
	ver.UpdatedAt = s.now()

	if err := s.store.UpdateVersion(ctx, ver); err != nil {
		return model.ProcessVersion{}, err
	}
	return ver, nil
}

// DeleteVersion removes a version. Only drafts can be deleted; deployed and
// deprecated versions are part of the definition's history.
func (s *Service) DeleteVersion(ctx context.Context, definitionID, versionID string) error {
	ver, err := s.store.GetVersion(ctx, definitionID, versionID)
	if err != nil {
		return err
	}
	if ver.Status != model.VersionStatusDraft {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("version %q is %s; only drafts can be deleted", ver.Version, ver.Status),
		)
	}
	if err := s.store.DeleteVersion(ctx, definitionID, versionID); err != nil {
		return err
	}
	s.log.Info("version deleted",
		zap.String("definition_id", definitionID),
		zap.String("version_id", versionID),
	)
	return nil
}

// --- validation ---

func validateDefinitionInput(in DefinitionInput) error {
	var details []model.FieldError
	switch {
	case in.Key == "":
		details = append(details, model.FieldError{Field: "key", Code: "required", Message: "key is required"})
	case !keyPattern.MatchString(in.Key):
		details = append(details, model.FieldError{
			Field: "key", Code: "format",
			Message: "key must start with a letter and contain only lowercase letters, digits, and underscores",
		})
	}
	if in.Name == "" {
		details = append(details, model.FieldError{Field: "name", Code: "required", Message: "name is required"})
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

func validateVersionInput(in VersionInput) error {
	var details []model.FieldError
	switch {
	case in.Version == "":
		details = append(details, model.FieldError{Field: "version", Code: "required", Message: "version label is required"})
	case !labelPattern.MatchString(in.Version):
		details = append(details, model.FieldError{
			Field: "version", Code: "format",
			Message: "version label must be of the form major.minor.patch",
		})
	}
	if in.BpmnXML == "" {
		details = append(details, model.FieldError{Field: "bpmn_xml", Code: "required", Message: "process model payload is required"})
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}
