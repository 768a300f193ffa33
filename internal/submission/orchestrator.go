package submission

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/carelink-health/platform/internal/shared/metrics"
	"github.com/carelink-health/platform/internal/shared/types"
	"github.com/carelink-health/platform/internal/workflow/domain"
)

// Gateway is the payer-side interface the orchestrator talks to
type Gateway interface {
	VerifyEligibility(ctx context.Context, s domain.Snapshot) (*Outcome, error)
	SubmitPriorAuth(ctx context.Context, s domain.Snapshot) (*Outcome, error)
}

// Notifier delivers outcome notifications to the embedding host page
type Notifier interface {
	Notify(ctx context.Context, sessionID types.ID, message, notificationType string)
	WorkflowClosed(ctx context.Context, sessionID types.ID, source string)
}

// Orchestrator runs the three workflow exits: save draft, validate,
// submit. Each entry takes the session's single busy phase and
// releases it on every path; a busy session rejects all three.
type Orchestrator struct {
	drafts   domain.DraftRepository
	gateway  Gateway
	notifier Notifier
	recorder Recorder
	draftKey string
}

// NewOrchestrator creates a submission orchestrator
func NewOrchestrator(drafts domain.DraftRepository, gateway Gateway, notifier Notifier, draftKey string) *Orchestrator {
	return &Orchestrator{
		drafts:   drafts,
		gateway:  gateway,
		notifier: notifier,
		draftKey: draftKey,
	}
}

// SetRecorder enables the persistent gateway call trail. The recorder
// is best-effort; a failed insert never fails the call it records.
func (o *Orchestrator) SetRecorder(r Recorder) {
	o.recorder = r
}

func (o *Orchestrator) record(ctx context.Context, operation string, outcome *Outcome, callErr error, actorID types.ID) {
	if o.recorder == nil {
		return
	}

	rec := &Record{
		Operation:   operation,
		SubmittedBy: actorID,
	}
	if callErr != nil {
		rec.Outcome = "error"
		rec.ErrorMessage = callErr.Error()
	} else {
		rec.Outcome = "ok"
		if outcome != nil {
			rec.Reference = outcome.Reference
		}
	}

	if err := o.recorder.Record(ctx, rec); err != nil {
		log.Printf("submission: failed to record %s call: %v", operation, err)
	}
}

// begin takes the busy phase and captures the form snapshot in one
// critical section. The lock is not held during the slow call that
// follows; the phase rejects overlapping operations instead.
func begin(w *domain.Workflow, phase domain.Phase) (domain.Snapshot, error) {
	w.Lock()
	defer w.Unlock()

	if err := w.Begin(phase); err != nil {
		return domain.Snapshot{}, err
	}
	return w.Snapshot(), nil
}

// end releases the busy phase under the session lock
func end(w *domain.Workflow) {
	w.Lock()
	w.End()
	w.Unlock()
}

// SaveDraft serializes the full form snapshot and upserts it under
// the fixed draft key for the session owner
func (o *Orchestrator) SaveDraft(ctx context.Context, w *domain.Workflow, actorID types.ID) error {
	snapshot, err := begin(w, domain.PhaseSaving)
	if err != nil {
		return err
	}
	defer end(w)

	start := time.Now()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		metrics.RecordSubmission("draft", "error", time.Since(start))
		o.notifier.Notify(ctx, w.ID, "Failed to save draft", "error")
		return &domain.StorageError{Err: err}
	}

	w.Lock()
	draft := &domain.Draft{
		Key:        o.draftKey,
		OwnerID:    w.OwnerID,
		FacilityID: w.FacilityID,
		Snapshot:   raw,
		Progress:   w.Progress,
		ActiveTab:  w.ActiveTab,
	}
	w.Unlock()

	if err := o.drafts.Save(ctx, draft); err != nil {
		metrics.RecordSubmission("draft", "error", time.Since(start))
		o.notifier.Notify(ctx, w.ID, "Failed to save draft", "error")
		return &domain.StorageError{Err: err}
	}

	metrics.RecordSubmission("draft", "ok", time.Since(start))
	o.notifier.Notify(ctx, w.ID, "Draft saved successfully", "success")

	return nil
}

// LoadDraft restores the owner's saved draft into the session. The
// stored snapshot is trusted as written; only JSON decoding is
// checked.
func (o *Orchestrator) LoadDraft(ctx context.Context, w *domain.Workflow, actorID types.ID) error {
	draft, err := o.drafts.Find(ctx, o.draftKey, w.OwnerID)
	if err != nil {
		return err
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(draft.Snapshot, &snapshot); err != nil {
		return &domain.StorageError{Err: err}
	}

	w.Lock()
	w.Restore(snapshot, actorID)
	if draft.ActiveTab != "" {
		w.ActiveTab = draft.ActiveTab
	}
	w.Unlock()

	return nil
}

// Validate posts the snapshot for eligibility verification. The form
// state is never mutated; the upstream message is surfaced verbatim.
func (o *Orchestrator) Validate(ctx context.Context, w *domain.Workflow, actorID types.ID) (*Outcome, error) {
	snapshot, err := begin(w, domain.PhaseValidating)
	if err != nil {
		return nil, err
	}
	defer end(w)

	start := time.Now()

	outcome, err := o.gateway.VerifyEligibility(ctx, snapshot)
	o.record(ctx, "validate", outcome, err, actorID)
	if err != nil {
		metrics.RecordSubmission("validate", "error", time.Since(start))
		if vErr, ok := err.(*ValidationError); ok {
			o.notifier.Notify(ctx, w.ID, vErr.Message, "error")
		} else {
			o.notifier.Notify(ctx, w.ID, "Eligibility verification failed", "error")
		}
		return nil, err
	}

	metrics.RecordSubmission("validate", "ok", time.Since(start))

	message := outcome.Message
	if message == "" {
		message = "Eligibility verified successfully"
	}
	o.notifier.Notify(ctx, w.ID, message, "success")

	return outcome, nil
}

// Submit posts the snapshot as a prior-authorization request. On
// success the workflow closes and the host page is told; on failure
// the form state is preserved for correction.
func (o *Orchestrator) Submit(ctx context.Context, w *domain.Workflow, actorID types.ID) (*Outcome, error) {
	snapshot, err := begin(w, domain.PhaseSubmitting)
	if err != nil {
		return nil, err
	}
	defer end(w)

	start := time.Now()

	outcome, err := o.gateway.SubmitPriorAuth(ctx, snapshot)
	o.record(ctx, "submit", outcome, err, actorID)
	if err != nil {
		metrics.RecordSubmission("submit", "error", time.Since(start))
		if sErr, ok := err.(*SubmissionError); ok && sErr.Message != "" {
			o.notifier.Notify(ctx, w.ID, sErr.Message, "error")
		} else {
			o.notifier.Notify(ctx, w.ID, "Failed to submit prior authorization request", "error")
		}
		return nil, err
	}

	metrics.RecordSubmission("submit", "ok", time.Since(start))

	message := outcome.Message
	if message == "" {
		message = "Prior authorization request submitted successfully"
	}
	o.notifier.Notify(ctx, w.ID, message, "success")

	// Release the phase before closing so the close is not rejected
	// as busy; the deferred release is then a no-op
	w.Lock()
	w.End()
	closeErr := w.Close("submission", actorID)
	w.Unlock()
	if closeErr == nil {
		o.notifier.WorkflowClosed(ctx, w.ID, "submission")
	}

	return outcome, nil
}
