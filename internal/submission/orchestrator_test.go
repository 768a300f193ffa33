package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carelink-health/platform/internal/shared/config"
	"github.com/carelink-health/platform/internal/shared/types"
	"github.com/carelink-health/platform/internal/workflow/domain"
)

// --- Fakes ---

type fakeDraftRepo struct {
	drafts  map[string]*domain.Draft
	failing bool
}

func newFakeDraftRepo() *fakeDraftRepo {
	return &fakeDraftRepo{drafts: make(map[string]*domain.Draft)}
}

func (r *fakeDraftRepo) Save(ctx context.Context, d *domain.Draft) error {
	if r.failing {
		return fmt.Errorf("connection refused")
	}
	copied := *d
	r.drafts[d.Key+":"+d.OwnerID.String()] = &copied
	return nil
}

func (r *fakeDraftRepo) Find(ctx context.Context, key string, ownerID types.ID) (*domain.Draft, error) {
	d, ok := r.drafts[key+":"+ownerID.String()]
	if !ok {
		return nil, fmt.Errorf("draft not found")
	}
	return d, nil
}

func (r *fakeDraftRepo) Delete(ctx context.Context, key string, ownerID types.ID) error {
	delete(r.drafts, key+":"+ownerID.String())
	return nil
}

type fakeGateway struct {
	eligibilityErr error
	submitErr      error
	outcome        *Outcome
}

func (g *fakeGateway) VerifyEligibility(ctx context.Context, s domain.Snapshot) (*Outcome, error) {
	if g.eligibilityErr != nil {
		return nil, g.eligibilityErr
	}
	return g.outcome, nil
}

func (g *fakeGateway) SubmitPriorAuth(ctx context.Context, s domain.Snapshot) (*Outcome, error) {
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return g.outcome, nil
}

type notifierCall struct {
	message string
	kind    string
}

type fakeNotifier struct {
	calls  []notifierCall
	closed []string
}

func (n *fakeNotifier) Notify(ctx context.Context, sessionID types.ID, message, notificationType string) {
	n.calls = append(n.calls, notifierCall{message: message, kind: notificationType})
}

func (n *fakeNotifier) WorkflowClosed(ctx context.Context, sessionID types.ID, source string) {
	n.closed = append(n.closed, source)
}

func (n *fakeNotifier) last(t *testing.T) notifierCall {
	t.Helper()
	if len(n.calls) == 0 {
		t.Fatal("Expected a notification")
	}
	return n.calls[len(n.calls)-1]
}

type fakeRecorder struct {
	records []Record
}

func (r *fakeRecorder) Record(ctx context.Context, rec *Record) error {
	r.records = append(r.records, *rec)
	return nil
}

func newTestWorkflow(t *testing.T) *domain.Workflow {
	t.Helper()
	w, err := domain.NewWorkflow(types.NewID(), types.NewID())
	if err != nil {
		t.Fatalf("Failed to create workflow: %v", err)
	}
	w.SelectPatient(domain.Patient{ID: "P-1", Name: "Fatima Hassan"}, w.OwnerID)
	w.AddDiagnosis(domain.Diagnosis{Code: "J18.9"}, w.OwnerID)
	return w
}

// --- Orchestrator tests ---

// TestSaveDraftRoundTrip tests that a saved draft restores the exact
// snapshot bytes
func TestSaveDraftRoundTrip(t *testing.T) {
	repo := newFakeDraftRepo()
	notifier := &fakeNotifier{}
	o := NewOrchestrator(repo, &fakeGateway{outcome: &Outcome{}}, notifier, "priorAuthDraft")

	w := newTestWorkflow(t)
	w.UpdateClinicalInfo(domain.ClinicalInfo{TreatmentPlan: "Antibiotics"}, w.OwnerID)

	if err := o.SaveDraft(context.Background(), w, w.OwnerID); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if call := notifier.last(t); call.kind != "success" {
		t.Errorf("Expected success notification, got %+v", call)
	}
	if w.IsBusy() {
		t.Error("Expected phase released after save")
	}

	saved := repo.drafts["priorAuthDraft:"+w.OwnerID.String()]
	if saved == nil {
		t.Fatal("Expected draft persisted under the fixed key")
	}

	want, _ := json.Marshal(w.Snapshot())
	if string(saved.Snapshot) != string(want) {
		t.Error("Expected stored snapshot to match serialized form state")
	}

	// Restore into a fresh session
	restored, _ := domain.NewWorkflow(w.OwnerID, w.FacilityID)
	if err := o.LoadDraft(context.Background(), restored, w.OwnerID); err != nil {
		t.Fatalf("Failed to load draft: %v", err)
	}

	got, _ := json.Marshal(restored.Snapshot())
	if string(got) != string(want) {
		t.Error("Expected byte-for-byte snapshot round trip")
	}
	if restored.Progress != w.Progress {
		t.Errorf("Expected progress %d restored, got %d", w.Progress, restored.Progress)
	}
}

// TestSaveDraftStorageFailure tests the storage error path
func TestSaveDraftStorageFailure(t *testing.T) {
	repo := newFakeDraftRepo()
	repo.failing = true
	notifier := &fakeNotifier{}
	o := NewOrchestrator(repo, &fakeGateway{}, notifier, "priorAuthDraft")

	w := newTestWorkflow(t)

	err := o.SaveDraft(context.Background(), w, w.OwnerID)
	if err == nil {
		t.Fatal("Expected error")
	}
	if _, ok := err.(*domain.StorageError); !ok {
		t.Fatalf("Expected *domain.StorageError, got %T", err)
	}
	if call := notifier.last(t); call.kind != "error" {
		t.Errorf("Expected error notification, got %+v", call)
	}
	if w.IsBusy() {
		t.Error("Expected phase released after failure")
	}
}

// TestValidateSurfacesUpstreamMessage tests that the upstream message
// reaches the host verbatim and state survives
func TestValidateSurfacesUpstreamMessage(t *testing.T) {
	notifier := &fakeNotifier{}
	gateway := &fakeGateway{eligibilityErr: &ValidationError{Message: "Coverage expired"}}
	o := NewOrchestrator(newFakeDraftRepo(), gateway, notifier, "priorAuthDraft")

	w := newTestWorkflow(t)
	diagnoses := len(w.Diagnoses)

	_, err := o.Validate(context.Background(), w, w.OwnerID)
	if err == nil {
		t.Fatal("Expected error")
	}

	call := notifier.last(t)
	if call.message != "Coverage expired" || call.kind != "error" {
		t.Errorf("Expected verbatim upstream message, got %+v", call)
	}

	if len(w.Diagnoses) != diagnoses || w.Patient == nil {
		t.Error("Validation failure must not mutate form state")
	}
	if w.IsBusy() {
		t.Error("Expected phase released after failure")
	}
}

// TestSubmitSuccessClosesWorkflow tests the happy submit path
func TestSubmitSuccessClosesWorkflow(t *testing.T) {
	notifier := &fakeNotifier{}
	gateway := &fakeGateway{outcome: &Outcome{Reference: "PA-2026-001"}}
	o := NewOrchestrator(newFakeDraftRepo(), gateway, notifier, "priorAuthDraft")

	w := newTestWorkflow(t)

	outcome, err := o.Submit(context.Background(), w, w.OwnerID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if outcome.Reference != "PA-2026-001" {
		t.Errorf("Expected reference preserved, got %+v", outcome)
	}

	if call := notifier.last(t); call.kind != "success" {
		t.Errorf("Expected success notification, got %+v", call)
	}
	if len(notifier.closed) != 1 || notifier.closed[0] != "submission" {
		t.Errorf("Expected workflow closed event, got %v", notifier.closed)
	}
	if w.IsBusy() {
		t.Error("Expected phase released after submit")
	}
}

// TestSubmitFailureGenericFallback tests the generic failure message
func TestSubmitFailureGenericFallback(t *testing.T) {
	notifier := &fakeNotifier{}
	gateway := &fakeGateway{submitErr: &SubmissionError{Message: ""}}
	o := NewOrchestrator(newFakeDraftRepo(), gateway, notifier, "priorAuthDraft")

	w := newTestWorkflow(t)

	if _, err := o.Submit(context.Background(), w, w.OwnerID); err == nil {
		t.Fatal("Expected error")
	}

	call := notifier.last(t)
	if call.message != "Failed to submit prior authorization request" || call.kind != "error" {
		t.Errorf("Expected generic fallback message, got %+v", call)
	}
	if len(notifier.closed) != 0 {
		t.Error("Failed submit must not close the workflow")
	}
	if w.Patient == nil {
		t.Error("Failed submit must preserve form state")
	}
}

// TestMutualExclusion tests that a busy session rejects all entries
func TestMutualExclusion(t *testing.T) {
	notifier := &fakeNotifier{}
	o := NewOrchestrator(newFakeDraftRepo(), &fakeGateway{outcome: &Outcome{}}, notifier, "priorAuthDraft")

	w := newTestWorkflow(t)
	if err := w.Begin(domain.PhaseSearching); err != nil {
		t.Fatalf("Failed to occupy phase: %v", err)
	}

	if err := o.SaveDraft(context.Background(), w, w.OwnerID); err == nil {
		t.Error("Expected save to be rejected while busy")
	}
	if _, err := o.Validate(context.Background(), w, w.OwnerID); err == nil {
		t.Error("Expected validate to be rejected while busy")
	}
	if _, err := o.Submit(context.Background(), w, w.OwnerID); err == nil {
		t.Error("Expected submit to be rejected while busy")
	}

	w.End()
	if err := o.SaveDraft(context.Background(), w, w.OwnerID); err != nil {
		t.Errorf("Expected save to work after release, got %v", err)
	}
}

// TestRecorderTrail tests that gateway calls leave a record trail
func TestRecorderTrail(t *testing.T) {
	repo := newFakeDraftRepo()
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}

	gateway := &fakeGateway{outcome: &Outcome{Reference: "PA-77", Status: "submitted"}}
	o := NewOrchestrator(repo, gateway, notifier, "priorAuthDraft")
	o.SetRecorder(recorder)

	w := newTestWorkflow(t)

	if _, err := o.Validate(context.Background(), w, w.OwnerID); err != nil {
		t.Fatalf("Validation failed: %v", err)
	}
	if _, err := o.Submit(context.Background(), w, w.OwnerID); err != nil {
		t.Fatalf("Submission failed: %v", err)
	}

	if len(recorder.records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(recorder.records))
	}

	if recorder.records[0].Operation != "validate" || recorder.records[0].Outcome != "ok" {
		t.Errorf("Unexpected validate record: %+v", recorder.records[0])
	}
	if recorder.records[1].Operation != "submit" || recorder.records[1].Reference != "PA-77" {
		t.Errorf("Unexpected submit record: %+v", recorder.records[1])
	}
}

// TestRecorderCapturesFailure tests that a failed call is recorded
// with its error message
func TestRecorderCapturesFailure(t *testing.T) {
	repo := newFakeDraftRepo()
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}

	gateway := &fakeGateway{submitErr: &SubmissionError{Message: "Payer gateway rejected the request"}}
	o := NewOrchestrator(repo, gateway, notifier, "priorAuthDraft")
	o.SetRecorder(recorder)

	w := newTestWorkflow(t)

	if _, err := o.Submit(context.Background(), w, w.OwnerID); err == nil {
		t.Fatal("Expected submission error")
	}

	if len(recorder.records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recorder.records))
	}

	rec := recorder.records[0]
	if rec.Outcome != "error" {
		t.Errorf("Expected error outcome, got %q", rec.Outcome)
	}
	if rec.ErrorMessage == "" {
		t.Error("Expected the error message to be recorded")
	}
}

// --- Client tests ---

func testClient(url string) *Client {
	return NewClient(config.SubmissionConfig{
		EligibilityURL: url + "/eligibility",
		PriorAuthURL:   url + "/prior-auth",
		Timeout:        5 * time.Second,
	})
}

// TestClientEnvelopeFailure tests that the envelope flag gates success
func TestClientEnvelopeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"isSuccessfull": false,
			"errorMessage":  "Coverage expired",
		})
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, err := client.VerifyEligibility(context.Background(), domain.Snapshot{})
	vErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}
	if vErr.Message != "Coverage expired" {
		t.Errorf("Expected upstream message preserved, got %q", vErr.Message)
	}

	_, err = client.SubmitPriorAuth(context.Background(), domain.Snapshot{})
	sErr, ok := err.(*SubmissionError)
	if !ok {
		t.Fatalf("Expected *SubmissionError, got %T", err)
	}
	if sErr.Message != "Coverage expired" {
		t.Errorf("Expected upstream message preserved, got %q", sErr.Message)
	}
}

// TestClientSuccess tests outcome decoding
func TestClientSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var snapshot domain.Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
			t.Errorf("Expected snapshot body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"isSuccessfull": true,
			"dynamicResult": map[string]any{"reference": "PA-42", "status": "approved"},
		})
	}))
	defer server.Close()

	client := testClient(server.URL)

	outcome, err := client.SubmitPriorAuth(context.Background(), domain.Snapshot{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if outcome.Reference != "PA-42" || outcome.Status != "approved" {
		t.Errorf("Unexpected outcome: %+v", outcome)
	}
}

// TestClientTransportFailure tests that transport-level errors come
// back undecorated rather than dressed as envelope rejections
func TestClientTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, err := client.VerifyEligibility(context.Background(), domain.Snapshot{})
	if err == nil {
		t.Fatal("Expected error for upstream 503")
	}
	if _, ok := err.(*ValidationError); ok {
		t.Errorf("Expected plain transport error, got *ValidationError: %v", err)
	}

	_, err = client.SubmitPriorAuth(context.Background(), domain.Snapshot{})
	if err == nil {
		t.Fatal("Expected error for upstream 503")
	}
	if _, ok := err.(*SubmissionError); ok {
		t.Errorf("Expected plain transport error, got *SubmissionError: %v", err)
	}
}

// TestTransportFailureGenericNotification tests that an unreachable
// gateway surfaces the generic message, never raw connection text
func TestTransportFailureGenericNotification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	notifier := &fakeNotifier{}
	o := NewOrchestrator(newFakeDraftRepo(), testClient(server.URL), notifier, "priorAuthDraft")

	w := newTestWorkflow(t)
	if _, err := o.Validate(context.Background(), w, w.OwnerID); err == nil {
		t.Fatal("Expected error from unreachable gateway")
	}
	call := notifier.last(t)
	if call.message != "Eligibility verification failed" {
		t.Errorf("Expected generic validation message, got %q", call.message)
	}
	if call.kind != "error" {
		t.Errorf("Expected error notification, got %q", call.kind)
	}

	if _, err := o.Submit(context.Background(), w, w.OwnerID); err == nil {
		t.Fatal("Expected error from unreachable gateway")
	}
	call = notifier.last(t)
	if call.message != "Failed to submit prior authorization request" {
		t.Errorf("Expected generic submission message, got %q", call.message)
	}
}
