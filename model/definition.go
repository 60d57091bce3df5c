package model

import "time"

// VersionStatus is the lifecycle status of a process version.
type VersionStatus string

// Version lifecycle statuses.
const (
	VersionStatusDraft      VersionStatus = "DRAFT"
	VersionStatusDeployed   VersionStatus = "DEPLOYED"
	VersionStatusDeprecated VersionStatus = "DEPRECATED"
)

// AllVersionStatuses lists every declared status. Lifecycle code iterates this
// to guarantee its transition table stays exhaustive.
var AllVersionStatuses = []VersionStatus{
	VersionStatusDraft,
	VersionStatusDeployed,
	VersionStatusDeprecated,
}

// ProcessDefinition is the named, versioned blueprint of a business process.
// The Key is an immutable business slug fixed at creation.
type ProcessDefinition struct {
	ID              string    `json:"id"`
	Key             string    `json:"key"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	OwnerID         string    `json:"owner_id"`
	BusinessOwnerID string    `json:"business_owner_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Display names resolved from the identity collaborator when assembling
	// read models. Never persisted.
	OwnerName         string `json:"owner_name,omitempty"`
	BusinessOwnerName string `json:"business_owner_name,omitempty"`

	Versions []ProcessVersion `json:"versions,omitempty"`
}

// ProcessVersion is one concrete revision of a definition's process payload.
// It is created in DRAFT and becomes immutable (except for description, BPMN
// payload, and the related form reference) once it leaves DRAFT.
type ProcessVersion struct {
	ID           string        `json:"id"`
	DefinitionID string        `json:"definition_id"`
	Version      string        `json:"version"`
	Description  string        `json:"description,omitempty"`
	BpmnXML      string        `json:"bpmn_xml,omitempty"`
	Status       VersionStatus `json:"status"`

	// DeploymentKey is the stable logical id used to name deployments at the
	// engine. It is derived from the definition key and never changes.
	DeploymentKey string `json:"deployment_key"`
	// DeploymentID is assigned by the engine and set only while DEPLOYED.
	DeploymentID string `json:"deployment_id,omitempty"`

	FormVersionID string `json:"form_version_id,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page describes a page request for list operations.
type Page struct {
	Number int `json:"number"`
	Size   int `json:"size"`
}

// Normalize applies the default page number and size.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	return p
}

// Offset returns the zero-based item offset of the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// DefinitionPage is one page of definitions together with the total count.
type DefinitionPage struct {
	Items      []ProcessDefinition `json:"items"`
	TotalCount int                 `json:"total_count"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
}
