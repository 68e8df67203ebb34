package store

import (
	"errors"
	"testing"

	"sqlgate/internal/policy"
)

func makeDefinition(t *testing.T, db *DB) *policy.WorkflowDefinition {
	t.Helper()
	def := &policy.WorkflowDefinition{
		Name:     "dba-then-security",
		Priority: 10,
		Roles:    []string{"analyst"},
		Servers:  []string{"prod"},
		Rule: &policy.Rule{
			Kind:   policy.RuleStatementKind,
			Action: policy.ActionAllow,
			Values: []string{"delete", "update"},
		},
		Steps: []policy.Step{
			{ApproverType: "role", ApproverValue: "dba", Required: true},
			{ApproverType: "role", ApproverValue: "security", Required: false},
			{ApproverType: "user", ApproverValue: "cto", Required: true},
		},
	}
	if err := def.Rule.Validate(); err != nil {
		t.Fatalf("rule validation failed: %v", err)
	}
	if err := db.CreateWorkflowDefinition(def); err != nil {
		t.Fatalf("create definition failed: %v", err)
	}
	return def
}

func TestWorkflowDefinitionRoundTrip(t *testing.T) {
	db := testDB(t)

	def := makeDefinition(t, db)

	got, err := db.GetWorkflowDefinition(def.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "dba-then-security" || got.Priority != 10 {
		t.Errorf("definition mismatch: %+v", got)
	}
	if len(got.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(got.Steps))
	}
	if got.Steps[0].ApproverValue != "dba" || !got.Steps[0].Required {
		t.Errorf("step 0 mismatch: %+v", got.Steps[0])
	}
	if got.Steps[1].Required {
		t.Error("step 1 should be optional")
	}
	if got.Rule == nil {
		t.Fatal("rule should survive the round trip")
	}
	if got.Rule.Kind != policy.RuleStatementKind {
		t.Errorf("rule kind = %s, want statement_kind", got.Rule.Kind)
	}
}

func TestListWorkflowDefinitionsOrder(t *testing.T) {
	db := testDB(t)

	low := &policy.WorkflowDefinition{ID: "low", Name: "default", Priority: 1}
	high := &policy.WorkflowDefinition{ID: "high", Name: "strict", Priority: 20}
	for _, def := range []*policy.WorkflowDefinition{low, high} {
		if err := db.CreateWorkflowDefinition(def); err != nil {
			t.Fatalf("create %s failed: %v", def.ID, err)
		}
	}

	defs, err := db.ListWorkflowDefinitions()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].ID != "high" {
		t.Errorf("expected highest priority first, got %s", defs[0].ID)
	}
}

func TestWorkflowInstanceLifecycle(t *testing.T) {
	db := testDB(t)

	def := makeDefinition(t, db)
	approval := makeApproval(t, db)

	inst := &WorkflowInstance{
		DefinitionID:      def.ID,
		PendingApprovalID: approval.ID,
	}
	if err := db.CreateWorkflowInstance(inst); err != nil {
		t.Fatalf("create instance failed: %v", err)
	}
	if inst.Status != InstancePending {
		t.Errorf("new instance status = %s, want pending", inst.Status)
	}

	// Creating again for the same approval returns the existing instance.
	dup := &WorkflowInstance{
		DefinitionID:      def.ID,
		PendingApprovalID: approval.ID,
	}
	if err := db.CreateWorkflowInstance(dup); err != nil {
		t.Fatalf("duplicate create failed: %v", err)
	}
	if dup.ID != inst.ID {
		t.Errorf("duplicate create returned new instance %s, want %s", dup.ID, inst.ID)
	}

	if err := db.UpdateInstanceState(inst.ID, 2, InstanceInProgress, InstancePending); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	rec := &StepRecord{
		InstanceID: inst.ID,
		StepIndex:  0,
		Approver:   "dba-jane",
		Approved:   true,
		Comment:    "looks fine",
	}
	if err := db.RecordStepDecision(rec); err != nil {
		t.Fatalf("record step failed: %v", err)
	}

	if err := db.UpdateInstanceState(inst.ID, 2, InstanceApproved, InstanceInProgress); err != nil {
		t.Fatalf("final update failed: %v", err)
	}

	got, err := db.GetWorkflowInstance(inst.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != InstanceApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("resolved_at should be set")
	}

	records, err := db.ListStepRecords(inst.ID)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if len(records) != 1 || records[0].Approver != "dba-jane" || !records[0].Approved {
		t.Errorf("step records mismatch: %+v", records)
	}

	// Resolved approvals no longer hold an open instance.
	if _, err := db.GetOpenInstanceForApproval(approval.ID); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound for resolved instance, got %v", err)
	}
}

func TestUpdateInstanceStateOptimistic(t *testing.T) {
	db := testDB(t)

	def := makeDefinition(t, db)
	approval := makeApproval(t, db)
	inst := &WorkflowInstance{DefinitionID: def.ID, PendingApprovalID: approval.ID}
	if err := db.CreateWorkflowInstance(inst); err != nil {
		t.Fatalf("create instance failed: %v", err)
	}

	// Wrong expected status must not mutate.
	err := db.UpdateInstanceState(inst.ID, 1, InstanceApproved, InstanceInProgress)
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
	got, err := db.GetWorkflowInstance(inst.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != InstancePending || got.CurrentStepIndex != 0 {
		t.Errorf("failed update mutated instance: %+v", got)
	}
}

func TestReplaceWorkflowDefinition(t *testing.T) {
	db := testDB(t)

	def := makeDefinition(t, db)
	approval := makeApproval(t, db)
	inst := &WorkflowInstance{DefinitionID: def.ID, PendingApprovalID: approval.ID}
	if err := db.CreateWorkflowInstance(inst); err != nil {
		t.Fatalf("create instance failed: %v", err)
	}

	// Update in place: the open instance keeps its reference.
	def.Name = "renamed"
	def.Priority = 99
	def.Steps = def.Steps[:1]
	if err := db.ReplaceWorkflowDefinition(def); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	got, err := db.GetWorkflowDefinition(def.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "renamed" || got.Priority != 99 || len(got.Steps) != 1 {
		t.Errorf("replaced definition = %+v", got)
	}
	if _, err := db.GetWorkflowInstance(inst.ID); err != nil {
		t.Errorf("instance lost after replace: %v", err)
	}

	// Unknown ID creates.
	fresh := &policy.WorkflowDefinition{
		ID:    "brand-new",
		Name:  "fresh",
		Steps: []policy.Step{{ApproverType: "role", ApproverValue: "dba", Required: true}},
	}
	if err := db.ReplaceWorkflowDefinition(fresh); err != nil {
		t.Fatalf("replace-create failed: %v", err)
	}
	if _, err := db.GetWorkflowDefinition("brand-new"); err != nil {
		t.Errorf("created definition missing: %v", err)
	}

	if err := db.ReplaceWorkflowDefinition(&policy.WorkflowDefinition{}); err == nil {
		t.Error("expected error for empty id")
	}
}
