package process

import (
	"context"
	"errors"
	"testing"

	"github.com/nyakairu/prosa/internal/identity"
	"github.com/nyakairu/prosa/internal/store"
	"github.com/nyakairu/prosa/model"
)

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	resolver := identity.NewBatchResolver(identity.NewStaticClient([]identity.Actor{
		{ID: "user-alice", DisplayName: "Alice A"},
		{ID: "user-bob", DisplayName: "Bob B"},
	}), nil)
	return NewService(st, resolver, nil), st
}

func actorContext(subjectID string) context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{SubjectID: subjectID})
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	envErr := &model.ErrorEnvelope{}
	if !errors.As(err, &envErr) || envErr.Code != code {
		t.Fatalf("err = %v, want %s", err, code)
	}
}

func createDefinition(t *testing.T, svc *Service) model.ProcessDefinition {
	t.Helper()
	def, err := svc.CreateDefinition(actorContext("user-alice"), DefinitionInput{
		Key:             "order_fulfillment",
		Name:            "Order Fulfillment",
		BusinessOwnerID: "user-bob",
	})
	if err != nil {
		t.Fatalf("CreateDefinition error: %v", err)
	}
	return def
}

func createVersion(t *testing.T, svc *Service, definitionID, label string) model.ProcessVersion {
	t.Helper()
	ver, err := svc.CreateVersion(actorContext("user-alice"), definitionID, VersionInput{
		Version: label,
		BpmnXML: "<definitions/>",
	})
	if err != nil {
		t.Fatalf("CreateVersion error: %v", err)
	}
	return ver
}

// --- definitions ---

func TestService_CreateDefinition(t *testing.T) {
	svc, _ := newService(t)

	def := createDefinition(t, svc)
	if def.ID == "" {
		t.Error("ID should be generated")
	}
	if def.OwnerID != "user-alice" {
		t.Errorf("OwnerID = %q, want the acting user by default", def.OwnerID)
	}
}

func TestService_CreateDefinition_validation(t *testing.T) {
	svc, _ := newService(t)

	tests := []struct {
		name string
		in   DefinitionInput
	}{
		{"missing key", DefinitionInput{Name: "X"}},
		{"uppercase key", DefinitionInput{Key: "OrderFulfillment", Name: "X"}},
		{"key with dashes", DefinitionInput{Key: "order-fulfillment", Name: "X"}},
		{"key starting with digit", DefinitionInput{Key: "1order", Name: "X"}},
		{"missing name", DefinitionInput{Key: "order_fulfillment"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateDefinition(actorContext("user-alice"), tc.in)
			assertCode(t, err, model.ErrValidationError)
		})
	}
}

func TestService_CreateDefinition_requiresActor(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.CreateDefinition(context.Background(), DefinitionInput{
		Key: "order_fulfillment", Name: "X",
	})
	assertCode(t, err, model.ErrValidationError)
}

func TestService_CreateDefinition_duplicateKey(t *testing.T) {
	svc, _ := newService(t)
	createDefinition(t, svc)

	_, err := svc.CreateDefinition(actorContext("user-alice"), DefinitionInput{
		Key: "order_fulfillment", Name: "Another",
	})
	assertCode(t, err, model.ErrConflict)
}

func TestService_GetDefinition_withVersionsAndNames(t *testing.T) {
	svc, _ := newService(t)
	def := createDefinition(t, svc)
	createVersion(t, svc, def.ID, "1.0.0")

	got, err := svc.GetDefinition(context.Background(), def.ID)
	if err != nil {
		t.Fatalf("GetDefinition error: %v", err)
	}
	if len(got.Versions) != 1 {
		t.Errorf("Versions = %d, want 1", len(got.Versions))
	}
	if got.OwnerName != "Alice A" || got.BusinessOwnerName != "Bob B" {
		t.Errorf("names = %q %q, want resolved display names", got.OwnerName, got.BusinessOwnerName)
	}
}

func TestService_UpdateDefinition_keyImmutable(t *testing.T) {
	svc, _ := newService(t)
	def := createDefinition(t, svc)

	_, err := svc.UpdateDefinition(actorContext("user-alice"), def.ID, DefinitionInput{
		Key:  "new_key",
		Name: "Renamed",
	})
	assertCode(t, err, model.ErrValidationError)

	// Same key (or none) passes.
	got, err := svc.UpdateDefinition(actorContext("user-alice"), def.ID, DefinitionInput{
		Key:  "order_fulfillment",
		Name: "Renamed",
	})
	if err != nil {
		t.Fatalf("UpdateDefinition error: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("Name = %q", got.Name)
	}
}

func TestService_DeleteDefinition_blockedByDeployedVersion(t *testing.T) {
	svc, st := newService(t)
	def := createDefinition(t, svc)
	ver := createVersion(t, svc, def.ID, "1.0.0")

	ver.Status = model.VersionStatusDeployed
	if err := st.UpdateVersion(context.Background(), ver); err != nil {
		t.Fatalf("seed deployed version: %v", err)
	}

	err := svc.DeleteDefinition(context.Background(), def.ID)
	assertCode(t, err, model.ErrConflict)
}

func TestService_DeleteDefinition(t *testing.T) {
	svc, _ := newService(t)
	def := createDefinition(t, svc)
	createVersion(t, svc, def.ID, "1.0.0")

	if err := svc.DeleteDefinition(context.Background(), def.ID); err != nil {
		t.Fatalf("DeleteDefinition error: %v", err)
	}
	_, err := svc.GetDefinition(context.Background(), def.ID)
	assertCode(t, err, model.ErrNotFound)
}

func TestService_ListDefinitions_search(t *testing.T) {
	svc, _ := newService(t)
	createDefinition(t, svc)
	if _, err := svc.CreateDefinition(actorContext("user-alice"), DefinitionInput{
		Key: "invoice_approval", Name: "Invoice Approval",
	}); err != nil {
		t.Fatalf("create second definition: %v", err)
	}

	page, err := svc.ListDefinitions(context.Background(), "invoice", model.Page{})
	if err != nil {
		t.Fatalf("ListDefinitions error: %v", err)
	}
	if page.TotalCount != 1 || len(page.Items) != 1 {
		t.Fatalf("total = %d, items = %d, want 1 match", page.TotalCount, len(page.Items))
	}
	if page.Items[0].OwnerName != "Alice A" {
		t.Errorf("OwnerName = %q, want batch-resolved name", page.Items[0].OwnerName)
	}
}

// --- versions ---

func TestService_CreateVersion(t *testing.T) {
	svc, _ := newService(t)
	def := createDefinition(t, svc)

	ver := createVersion(t, svc, def.ID, "1.0.0")
	if ver.Status != model.VersionStatusDraft {
		t.Errorf("Status = %s, want DRAFT", ver.Status)
	}
	if ver.DeploymentKey != "order_fulfillment" {
		t.Errorf("DeploymentKey = %q, want the definition key", ver.DeploymentKey)
	}
	if ver.CreatedBy != "user-alice" {
		t.Errorf("CreatedBy = %q", ver.CreatedBy)
	}
}

func TestService_CreateVersion_labelValidation(t *testing.T) {
	svc, _ := newService(t)
	def := createDefinition(t, svc)

	for _, label := range []string{"", "1", "1.0", "v1.0.0", "1.0.0-rc1"} {
		_, err := svc.CreateVersion(actorContext("user-alice"), def.ID, VersionInput{
			Version: label, BpmnXML: "<definitions/>",
		})
		envErr := &model.ErrorEnvelope{}
		if !errors.As(err, &envErr) || envErr.Code != model.ErrValidationError {
			t.Errorf("label %q: err = %v, want VALIDATION_ERROR", label, err)
		}
	}
}

func TestService_CreateVersion_duplicateLabel(t *testing.T) {
	svc, _ := newService(t)
	def := createDefinition(t, svc)
	createVersion(t, svc, def.ID, "1.0.0")

	_, err := svc.CreateVersion(actorContext("user-alice"), def.ID, VersionInput{
		Version: "1.0.0", BpmnXML: "<definitions/>",
	})
	assertCode(t, err, model.ErrConflict)
}

func TestService_CreateVersion_requiresPayload(t *testing.T) {
	svc, _ := newService(t)
	def := createDefinition(t, svc)

	_, err := svc.CreateVersion(actorContext("user-alice"), def.ID, VersionInput{Version: "1.0.0"})
	assertCode(t, err, model.ErrValidationError)
}

func TestService_UpdateVersion_draftAcceptsPayload(t *testing.T) {
	svc, _ := newService(t)
	def := createDefinition(t, svc)
	ver := createVersion(t, svc, def.ID, "1.0.0")

	got, err := svc.UpdateVersion(actorContext("user-alice"), def.ID, ver.ID, VersionInput{
		Description: "updated",
		BpmnXML:     "<definitions><process/></definitions>",
	})
	if err != nil {
		t.Fatalf("UpdateVersion error: %v", err)
	}
	if got.BpmnXML != "<definitions><process/></definitions>" {
		t.Errorf("BpmnXML = %q", got.BpmnXML)
	}
	if got.UpdatedBy != "user-alice" {
		t.Errorf("UpdatedBy = %q", got.UpdatedBy)
	}
}

func TestService_UpdateVersion_deployedRejectsPayloadChange(t *testing.T) {
	svc, st := newService(t)
	def := createDefinition(t, svc)
	ver := createVersion(t, svc, def.ID, "1.0.0")
	ver.Status = model.VersionStatusDeployed
	_ = st.UpdateVersion(context.Background(), ver)

	_, err := svc.UpdateVersion(actorContext("user-alice"), def.ID, ver.ID, VersionInput{
		BpmnXML: "<definitions>changed</definitions>",
	})
	assertCode(t, err, model.ErrInvalidTransition)

	// Description and form reference stay editable while deployed.
	got, err := svc.UpdateVersion(actorContext("user-alice"), def.ID, ver.ID, VersionInput{
		Description:   "hotfix notes",
		FormVersionID: "form-7",
	})
	if err != nil {
		t.Fatalf("UpdateVersion error: %v", err)
	}
	if got.Description != "hotfix notes" || got.FormVersionID != "form-7" {
		t.Errorf("got = %+v", got)
	}
}

func TestService_UpdateVersion_deprecatedImmutable(t *testing.T) {
	svc, st := newService(t)
	def := createDefinition(t, svc)
	ver := createVersion(t, svc, def.ID, "1.0.0")
	ver.Status = model.VersionStatusDeprecated
	_ = st.UpdateVersion(context.Background(), ver)

	_, err := svc.UpdateVersion(actorContext("user-alice"), def.ID, ver.ID, VersionInput{
		Description: "anything",
	})
	assertCode(t, err, model.ErrInvalidTransition)
}

func TestService_UpdateVersion_labelImmutable(t *testing.T) {
	svc, _ := newService(t)
	def := createDefinition(t, svc)
	ver := createVersion(t, svc, def.ID, "1.0.0")

	_, err := svc.UpdateVersion(actorContext("user-alice"), def.ID, ver.ID, VersionInput{
		Version: "2.0.0",
	})
	assertCode(t, err, model.ErrValidationError)
}

func TestService_DeleteVersion_draftOnly(t *testing.T) {
	svc, st := newService(t)
	def := createDefinition(t, svc)
	draft := createVersion(t, svc, def.ID, "1.0.0")
	deployed := createVersion(t, svc, def.ID, "2.0.0")
	deployed.Status = model.VersionStatusDeployed
	_ = st.UpdateVersion(context.Background(), deployed)

	if err := svc.DeleteVersion(context.Background(), def.ID, draft.ID); err != nil {
		t.Fatalf("DeleteVersion draft: %v", err)
	}

	err := svc.DeleteVersion(context.Background(), def.ID, deployed.ID)
	assertCode(t, err, model.ErrInvalidTransition)
}
