package domain

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carelink-health/platform/internal/shared/types"
)

func newTestWorkflow(t *testing.T) *Workflow {
	t.Helper()

	w, err := NewWorkflow(types.NewID(), types.NewID())
	if err != nil {
		t.Fatalf("Failed to create workflow: %v", err)
	}
	return w
}

func testVisit() Visit {
	return Visit{
		ID:           "V-1001",
		PatientID:    "P-2001",
		ProviderID:   "DR-3001",
		ProviderName: "Dr. Al-Rashid",
		Type:         VisitTypeRegular,
		Status:       VisitStatusCompleted,
		Date:         time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
		Services: []BilledService{
			{ID: "S-1", Code: "99213", Name: "Office visit", ProviderID: "DR-3001", Charges: 250},
			{ID: "S-2", Code: "71045", Name: "Chest X-ray", ProviderID: "DR-3001", Charges: 400},
		},
	}
}

// TestNewWorkflow tests creating a workflow session
func TestNewWorkflow(t *testing.T) {
	ownerID := types.NewID()

	w, err := NewWorkflow(ownerID, types.NewID())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if w.ID.IsZero() {
		t.Error("Expected non-zero ID")
	}
	if w.Progress != 0 {
		t.Errorf("Expected progress 0, got %d", w.Progress)
	}
	if w.Phase != PhaseIdle {
		t.Errorf("Expected phase %s, got %s", PhaseIdle, w.Phase)
	}
	if w.ActiveTab != TabPriorAuth {
		t.Errorf("Expected active tab %s, got %s", TabPriorAuth, w.ActiveTab)
	}

	events := w.GetDomainEvents()
	if len(events) != 1 || events[0].Type != string(WorkflowEventTypeCreated) {
		t.Errorf("Expected a single created event, got %v", events)
	}

	if _, err := NewWorkflow(types.ID(""), types.NewID()); err == nil {
		t.Error("Expected error for missing owner")
	}
}

// TestProgressSteps tests the rounded six-step progress percentage
func TestProgressSteps(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	if w.Progress != 0 {
		t.Fatalf("Expected progress 0, got %d", w.Progress)
	}

	// Step 1: patient selected
	if err := w.SelectPatient(Patient{ID: "P-2001", Name: "Fatima Hassan"}, actor); err != nil {
		t.Fatalf("Failed to select patient: %v", err)
	}
	if w.Progress != 17 {
		t.Errorf("Expected progress 17 after one step, got %d", w.Progress)
	}

	// Steps 2, 3 and 5: visit selection derives care team and procedures
	if err := w.SetVisits([]Visit{testVisit()}, actor); err != nil {
		t.Fatalf("Failed to set visits: %v", err)
	}
	if _, _, err := w.SelectVisit("V-1001", actor); err != nil {
		t.Fatalf("Failed to select visit: %v", err)
	}
	if w.Progress != 67 {
		t.Errorf("Expected progress 67 after four steps, got %d", w.Progress)
	}

	// Step 4: diagnosis
	if err := w.AddDiagnosis(Diagnosis{Code: "J18.9"}, actor); err != nil {
		t.Fatalf("Failed to add diagnosis: %v", err)
	}
	if w.Progress != 83 {
		t.Errorf("Expected progress 83 after five steps, got %d", w.Progress)
	}

	// Step 6: clinical context
	if err := w.UpdateVitalSigns(VitalSigns{BloodPressure: "120/80"}, actor); err != nil {
		t.Fatalf("Failed to update vitals: %v", err)
	}
	if w.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", w.Progress)
	}
}

// TestProgressDemotesOnRemoval tests that removing the last entry of a
// step lowers the percentage again
func TestProgressDemotesOnRemoval(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	w.SelectPatient(Patient{ID: "P-2001", Name: "Fatima Hassan"}, actor)
	w.AddDiagnosis(Diagnosis{Code: "J18.9"}, actor)

	if w.Progress != 33 {
		t.Fatalf("Expected progress 33, got %d", w.Progress)
	}

	if err := w.RemoveDiagnosis("J18.9", actor); err != nil {
		t.Fatalf("Failed to remove diagnosis: %v", err)
	}
	if w.Progress != 17 {
		t.Errorf("Expected progress 17 after removing last diagnosis, got %d", w.Progress)
	}

	if err := w.RemoveDiagnosis("J18.9", actor); err == nil {
		t.Error("Expected error removing absent diagnosis")
	}
}

// TestSelectPatientOnce tests that the patient is set once per session
func TestSelectPatientOnce(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	if err := w.SelectPatient(Patient{ID: "P-1", Name: "A"}, actor); err != nil {
		t.Fatalf("Failed to select patient: %v", err)
	}
	if err := w.SelectPatient(Patient{ID: "P-2", Name: "B"}, actor); err == nil {
		t.Error("Expected error selecting a second patient")
	}

	w.Reset(actor)
	if w.Patient != nil {
		t.Error("Expected reset to clear the patient")
	}
	if err := w.SelectPatient(Patient{ID: "P-2", Name: "B"}, actor); err != nil {
		t.Errorf("Expected patient selection to work after reset, got %v", err)
	}
}

func TestSelectPatientNationalID(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	err := w.SelectPatient(Patient{ID: "P-1", Name: "A", NationalID: "123"}, actor)
	if err == nil {
		t.Error("Expected error for malformed national ID")
	}

	err = w.SelectPatient(Patient{ID: "P-1", Name: "A", NationalID: "1000000001"}, actor)
	if err == nil {
		t.Error("Expected error for bad national ID checksum")
	}

	if err := w.SelectPatient(Patient{ID: "P-1", Name: "A", NationalID: "1000000008"}, actor); err != nil {
		t.Fatalf("Expected valid national ID to be accepted, got %v", err)
	}

	// The event payload carries only the masked form
	events := w.GetDomainEvents()
	masked := events[len(events)-1].WorkflowEvent.Data["national_id"]
	if masked != "100*******" {
		t.Errorf("Expected masked national ID '100*******', got %v", masked)
	}
}

// TestSelectVisitDerivation tests the destructive care team and
// procedure derivation
func TestSelectVisitDerivation(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	w.SelectPatient(Patient{ID: "P-2001", Name: "Fatima Hassan"}, actor)
	w.SetVisits([]Visit{testVisit()}, actor)

	// Manual entries from before the selection get discarded
	w.AddCareTeamMember(CareTeamMember{ID: "DR-9", Name: "Dr. Manual"}, actor)
	w.AddCareTeamMember(CareTeamMember{ID: "DR-10", Name: "Dr. Extra"}, actor)
	w.AddProcedure(Procedure{Code: "00100", Name: "Manual"}, actor)

	replacedMembers, replacedProcedures, err := w.SelectVisit("V-1001", actor)
	if err != nil {
		t.Fatalf("Failed to select visit: %v", err)
	}
	if replacedMembers != 2 {
		t.Errorf("Expected 2 replaced members, got %d", replacedMembers)
	}
	if replacedProcedures != 1 {
		t.Errorf("Expected 1 replaced procedure, got %d", replacedProcedures)
	}

	if len(w.CareTeam) != 1 {
		t.Fatalf("Expected care team of exactly 1, got %d", len(w.CareTeam))
	}
	member := w.CareTeam[0]
	if member.ID != "DR-3001" || member.Role != "Primary Provider" || member.Type != "Provider" {
		t.Errorf("Unexpected derived member: %+v", member)
	}

	if len(w.Procedures) != 2 {
		t.Fatalf("Expected 2 derived procedures, got %d", len(w.Procedures))
	}
	if w.Procedures[0].Code != "99213" || w.Procedures[1].Code != "71045" {
		t.Errorf("Unexpected derived procedures: %+v", w.Procedures)
	}
	if w.Procedures[1].Charges != 400 {
		t.Errorf("Expected charges carried over, got %v", w.Procedures[1].Charges)
	}

	if _, _, err := w.SelectVisit("V-9999", actor); err == nil {
		t.Error("Expected error selecting a visit outside the loaded list")
	}
}

// TestSelectVisitRequiresPatient tests selection ordering
func TestSelectVisitRequiresPatient(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	if err := w.SetVisits([]Visit{testVisit()}, actor); err == nil {
		t.Error("Expected error loading visits before a patient is selected")
	}
	if _, _, err := w.SelectVisit("V-1001", actor); err == nil {
		t.Error("Expected error selecting a visit before a patient is selected")
	}
}

// TestCareTeamRemoval tests removal by id
func TestCareTeamRemoval(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	w.AddCareTeamMember(CareTeamMember{ID: "DR-1", Name: "Dr. One"}, actor)
	w.AddCareTeamMember(CareTeamMember{ID: "DR-2", Name: "Dr. Two"}, actor)

	if err := w.RemoveCareTeamMember("DR-1", actor); err != nil {
		t.Fatalf("Failed to remove member: %v", err)
	}
	if len(w.CareTeam) != 1 || w.CareTeam[0].ID != "DR-2" {
		t.Errorf("Unexpected care team after removal: %+v", w.CareTeam)
	}

	if err := w.RemoveCareTeamMember("DR-1", actor); err == nil {
		t.Error("Expected error removing an absent member")
	}
}

// TestTreatmentPlanLimit tests the treatment plan length cap
func TestTreatmentPlanLimit(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	atLimit := strings.Repeat("x", TreatmentPlanMaxLen)
	if err := w.UpdateClinicalInfo(ClinicalInfo{TreatmentPlan: atLimit}, actor); err != nil {
		t.Errorf("Expected plan at the limit to be accepted, got %v", err)
	}

	over := strings.Repeat("x", TreatmentPlanMaxLen+1)
	if err := w.UpdateClinicalInfo(ClinicalInfo{TreatmentPlan: over}, actor); err == nil {
		t.Error("Expected error for plan over the limit")
	}
	if w.ClinicalInfo.TreatmentPlan != atLimit {
		t.Error("Rejected update must not mutate state")
	}
}

// TestToggleSection tests that collapse state never touches progress
func TestToggleSection(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	w.SelectPatient(Patient{ID: "P-1", Name: "A"}, actor)
	before := w.Progress

	if err := w.ToggleSection(SectionDiagnosis, actor); err != nil {
		t.Fatalf("Failed to toggle section: %v", err)
	}
	if !w.CollapsedSections[SectionDiagnosis] {
		t.Error("Expected section to be collapsed")
	}
	if w.Progress != before {
		t.Errorf("Toggling must not change progress: %d -> %d", before, w.Progress)
	}

	if err := w.ToggleSection(SectionDiagnosis, actor); err != nil {
		t.Fatalf("Failed to toggle section back: %v", err)
	}
	if w.CollapsedSections[SectionDiagnosis] {
		t.Error("Expected section to be expanded again")
	}

	if err := w.ToggleSection(Section("billing"), actor); err == nil {
		t.Error("Expected error for unknown section")
	}
}

// TestBusyPhase tests the single busy phase state machine
func TestBusyPhase(t *testing.T) {
	w := newTestWorkflow(t)

	if err := w.Begin(PhaseSaving); err != nil {
		t.Fatalf("Failed to begin saving: %v", err)
	}
	if !w.IsBusy() {
		t.Error("Expected workflow to be busy")
	}

	if err := w.Begin(PhaseSubmitting); err == nil {
		t.Error("Expected second entry to be rejected while busy")
	}
	if err := w.Begin(PhaseSearching); err == nil {
		t.Error("Expected search entry to be rejected while busy")
	}

	w.End()
	if w.IsBusy() {
		t.Error("Expected workflow to be idle after End")
	}
	if err := w.Begin(PhaseSubmitting); err != nil {
		t.Errorf("Expected begin to work after release, got %v", err)
	}

	w.End()
	if err := w.Begin(PhaseIdle); err == nil {
		t.Error("Expected error beginning the idle phase")
	}
}

// TestBeginSingleWinnerUnderContention tests that concurrent callers
// taking the session lock admit exactly one busy phase
func TestBeginSingleWinnerUnderContention(t *testing.T) {
	w := newTestWorkflow(t)

	const workers = 16
	var wins int32
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Lock()
			err := w.Begin(PhaseValidating)
			w.Unlock()
			if err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins)
	}
	if w.Phase != PhaseValidating {
		t.Errorf("Expected phase %s, got %s", PhaseValidating, w.Phase)
	}
}

// TestSwitchTab tests tab switching
func TestSwitchTab(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()
	w.GetDomainEvents()

	if err := w.SwitchTab(TabClaims, actor); err != nil {
		t.Fatalf("Failed to switch tab: %v", err)
	}
	if w.ActiveTab != TabClaims {
		t.Errorf("Expected active tab %s, got %s", TabClaims, w.ActiveTab)
	}

	events := w.GetDomainEvents()
	if len(events) != 1 || events[0].Type != string(WorkflowEventTypeTabSwitched) {
		t.Errorf("Expected a single tab switched event, got %v", events)
	}

	// Switching to the current tab is a no-op
	if err := w.SwitchTab(TabClaims, actor); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if events := w.GetDomainEvents(); len(events) != 0 {
		t.Errorf("Expected no event for a no-op switch, got %v", events)
	}

	if err := w.SwitchTab(Tab("settings"), actor); err == nil {
		t.Error("Expected error for unknown tab")
	}
}

// TestSnapshotRestore tests the snapshot round trip
func TestSnapshotRestore(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	w.SelectPatient(Patient{ID: "P-2001", Name: "Fatima Hassan"}, actor)
	w.SetVisits([]Visit{testVisit()}, actor)
	w.SelectVisit("V-1001", actor)
	w.AddDiagnosis(Diagnosis{Code: "J18.9", Description: "Pneumonia"}, actor)
	w.UpdateClinicalInfo(ClinicalInfo{TreatmentPlan: "Antibiotics for 7 days"}, actor)

	snap := w.Snapshot()
	progress := w.Progress

	restored := newTestWorkflow(t)
	restored.Restore(snap, actor)

	if restored.Patient == nil || restored.Patient.ID != "P-2001" {
		t.Error("Expected patient restored")
	}
	if restored.Visit == nil || restored.Visit.ID != "V-1001" {
		t.Error("Expected visit restored")
	}
	if len(restored.Procedures) != 2 {
		t.Errorf("Expected 2 procedures restored, got %d", len(restored.Procedures))
	}
	if restored.Progress != progress {
		t.Errorf("Expected progress %d after restore, got %d", progress, restored.Progress)
	}

	// Restoring an empty snapshot normalizes nil slices
	empty := newTestWorkflow(t)
	empty.Restore(Snapshot{}, actor)
	if empty.CareTeam == nil || empty.Diagnoses == nil || empty.Procedures == nil {
		t.Error("Expected empty slices, not nil, after restoring an empty snapshot")
	}
	if empty.Progress != 0 {
		t.Errorf("Expected progress 0 after empty restore, got %d", empty.Progress)
	}
}

// TestCloseWhileBusy tests that closing waits for the busy phase
func TestCloseWhileBusy(t *testing.T) {
	w := newTestWorkflow(t)
	actor := types.NewID()

	w.Begin(PhaseSubmitting)
	if err := w.Close("host", actor); err == nil {
		t.Error("Expected close to be rejected while submitting")
	}

	w.End()
	if err := w.Close("host", actor); err != nil {
		t.Errorf("Expected close to work when idle, got %v", err)
	}
}

// TestVisitLookupTables tests the presentation lookups
func TestVisitLookupTables(t *testing.T) {
	tests := []struct {
		code       int
		typeName   string
		statusName string
		class      string
	}{
		{1, "Regular Visit", "Scheduled", "scheduled"},
		{2, "Follow-up", "In Progress", "in-progress"},
		{3, "Emergency", "Completed", "completed"},
		{4, "Consultation", "Cancelled", "cancelled"},
		{0, "Unknown", "Unknown", "scheduled"},
		{99, "Unknown", "Unknown", "scheduled"},
	}

	for _, tt := range tests {
		if got := VisitTypeName(tt.code); got != tt.typeName {
			t.Errorf("VisitTypeName(%d) = %s, want %s", tt.code, got, tt.typeName)
		}
		if got := VisitStatusName(tt.code); got != tt.statusName {
			t.Errorf("VisitStatusName(%d) = %s, want %s", tt.code, got, tt.statusName)
		}
		if got := VisitStatusClass(tt.code); got != tt.class {
			t.Errorf("VisitStatusClass(%d) = %s, want %s", tt.code, got, tt.class)
		}
	}
}
