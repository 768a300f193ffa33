package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carelink-health/platform/internal/directory"
	"github.com/carelink-health/platform/internal/notification"
	"github.com/carelink-health/platform/internal/shared/auth"
	"github.com/carelink-health/platform/internal/shared/errors"
	"github.com/carelink-health/platform/internal/shared/events"
	"github.com/carelink-health/platform/internal/shared/metrics"
	"github.com/carelink-health/platform/internal/shared/types"
	"github.com/carelink-health/platform/internal/submission"
	"github.com/carelink-health/platform/internal/workflow/domain"
)

// Handler provides HTTP handlers for workflow sessions
type Handler struct {
	registry     domain.SessionRegistry
	orchestrator *submission.Orchestrator
	notifier     *notification.Notifier
	sequencer    *directory.Sequencer
	bus          events.EventBus
}

// NewHandler creates a new workflow handler. The sequencer and bus may
// be nil.
func NewHandler(registry domain.SessionRegistry, orchestrator *submission.Orchestrator, notifier *notification.Notifier, sequencer *directory.Sequencer, bus events.EventBus) *Handler {
	return &Handler{
		registry:     registry,
		orchestrator: orchestrator,
		notifier:     notifier,
		sequencer:    sequencer,
		bus:          bus,
	}
}

// Routes registers the workflow session routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)

	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/close", h.CloseSession)
		r.Post("/reset", h.ResetSession)

		// Form sections
		r.Post("/patient", h.SelectPatient)
		r.Post("/visits", h.SetVisits)
		r.Post("/visits/select", h.SelectVisit)

		r.Route("/care-team", func(r chi.Router) {
			r.Post("/", h.AddCareTeamMember)
			r.Delete("/{memberID}", h.RemoveCareTeamMember)
		})

		r.Route("/diagnoses", func(r chi.Router) {
			r.Post("/", h.AddDiagnosis)
			r.Delete("/{code}", h.RemoveDiagnosis)
		})

		r.Route("/procedures", func(r chi.Router) {
			r.Post("/", h.AddProcedure)
			r.Delete("/{code}", h.RemoveProcedure)
		})

		r.Put("/clinical-info", h.UpdateClinicalInfo)
		r.Put("/vital-signs", h.UpdateVitalSigns)

		r.Route("/attachments", func(r chi.Router) {
			r.Post("/", h.AddAttachment)
			r.Delete("/{attachmentID}", h.RemoveAttachment)
		})

		// Widget chrome
		r.Post("/sections/{name}/toggle", h.ToggleSection)
		r.Post("/tab", h.SwitchTab)
		r.Get("/notifications", h.ListNotifications)

		// Drafts and submission
		r.Post("/draft", h.SaveDraft)
		r.Get("/draft", h.LoadDraft)
		r.Post("/validate", h.Validate)
		r.Post("/submit", h.Submit)
	})

	return r
}

// --- Request/Response types ---

type CreateSessionRequest struct {
	FacilityID types.ID `json:"facility_id,omitempty"`
}

type SetVisitsRequest struct {
	Visits []domain.Visit `json:"visits"`
}

type SelectVisitRequest struct {
	VisitID string `json:"visit_id"`
}

type SelectVisitResponse struct {
	Workflow           *domain.Workflow `json:"workflow"`
	ReplacedMembers    int              `json:"replaced_members"`
	ReplacedProcedures int              `json:"replaced_procedures"`
}

type SwitchTabRequest struct {
	Tab domain.Tab `json:"tab"`
}

type CloseSessionRequest struct {
	Source string `json:"source"`
}

type AddAttachmentRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256"`
}

// --- Session lifecycle ---

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.BadRequest("invalid request body"))
			return
		}
	}

	user := currentUser(r)
	facilityID := req.FacilityID
	if facilityID.IsZero() {
		facilityID = user.FacilityID
	}

	wf, err := domain.NewWorkflow(user.ID, facilityID)
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	h.registry.Put(wf)
	metrics.RecordSessionOpened()

	wf.Lock()
	defer wf.Unlock()
	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusCreated, wf)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	wf, _ := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var req CloseSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.BadRequest("invalid request body"))
			return
		}
	}
	if req.Source == "" {
		req.Source = "user"
	}

	if err := wf.Close(req.Source, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	h.publishEvents(r.Context(), wf)
	if h.notifier != nil {
		h.notifier.WorkflowClosed(r.Context(), wf.ID, req.Source)
		h.notifier.Forget(wf.ID)
	}
	if h.sequencer != nil {
		h.sequencer.Forget(wf.ID.String())
	}

	h.registry.Remove(wf.ID)
	metrics.RecordSessionClosed()

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	if wf.IsBusy() {
		writeError(w, errors.Conflict((&domain.BusyError{Phase: wf.Phase}).Error()))
		return
	}

	wf.Reset(user.ID)
	metrics.RecordWorkflowMutation("reset")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

// --- Form sections ---

func (h *Handler) SelectPatient(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var patient domain.Patient
	if err := json.NewDecoder(r.Body).Decode(&patient); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := wf.SelectPatient(patient, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("select_patient")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) SetVisits(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var req SetVisitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := wf.SetVisits(req.Visits, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("set_visits")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) SelectVisit(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var req SelectVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	replacedMembers, replacedProcedures, err := wf.SelectVisit(req.VisitID, user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("select_visit")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, SelectVisitResponse{
		Workflow:           wf,
		ReplacedMembers:    replacedMembers,
		ReplacedProcedures: replacedProcedures,
	})
}

func (h *Handler) AddCareTeamMember(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var member domain.CareTeamMember
	if err := json.NewDecoder(r.Body).Decode(&member); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := wf.AddCareTeamMember(member, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("add_care_team_member")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) RemoveCareTeamMember(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	if err := wf.RemoveCareTeamMember(chi.URLParam(r, "memberID"), user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("remove_care_team_member")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) AddDiagnosis(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var d domain.Diagnosis
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := wf.AddDiagnosis(d, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("add_diagnosis")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) RemoveDiagnosis(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	if err := wf.RemoveDiagnosis(chi.URLParam(r, "code"), user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("remove_diagnosis")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) AddProcedure(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var p domain.Procedure
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := wf.AddProcedure(p, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("add_procedure")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) RemoveProcedure(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	if err := wf.RemoveProcedure(chi.URLParam(r, "code"), user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("remove_procedure")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) UpdateClinicalInfo(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var info domain.ClinicalInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := wf.UpdateClinicalInfo(info, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("update_clinical_info")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) UpdateVitalSigns(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var vitals domain.VitalSigns
	if err := json.NewDecoder(r.Body).Decode(&vitals); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := wf.UpdateVitalSigns(vitals, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("update_vital_signs")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var req AddAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	attachment := domain.Attachment{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		SHA256:      req.SHA256,
	}

	if err := wf.AddAttachment(attachment, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("add_attachment")

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusCreated, wf.Attachments[len(wf.Attachments)-1])
}

func (h *Handler) RemoveAttachment(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	attachmentID, err := types.ParseID(chi.URLParam(r, "attachmentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid attachment ID"))
		return
	}

	if err := wf.RemoveAttachment(attachmentID, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.RecordWorkflowMutation("remove_attachment")

	h.publishEvents(r.Context(), wf)
	w.WriteHeader(http.StatusNoContent)
}

// --- Widget chrome ---

func (h *Handler) ToggleSection(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	section := domain.Section(chi.URLParam(r, "name"))
	if err := wf.ToggleSection(section, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, map[string]any{
		"section":   section,
		"collapsed": wf.CollapsedSections[section],
	})
}

func (h *Handler) SwitchTab(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	wf.Lock()
	defer wf.Unlock()

	var req SwitchTabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	previous := wf.ActiveTab
	if err := wf.SwitchTab(req.Tab, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	if wf.ActiveTab != previous {
		h.publishEvents(r.Context(), wf)
		if h.notifier != nil {
			h.notifier.TabSwitched(r.Context(), wf.ID, string(wf.ActiveTab))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"active_tab": wf.ActiveTab})
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	wf, _ := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	var recent []notification.Notification
	if h.notifier != nil {
		recent = h.notifier.Recent(wf.ID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  recent,
		"total": len(recent),
	})
}

// --- Drafts and submission ---

func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	if err := h.orchestrator.SaveDraft(r.Context(), wf, user.ID); err != nil {
		writeOrchestratorError(w, err)
		return
	}

	wf.Lock()
	defer wf.Unlock()
	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, map[string]any{
		"progress":   wf.Progress,
		"active_tab": wf.ActiveTab,
	})
}

func (h *Handler) LoadDraft(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	if err := h.orchestrator.LoadDraft(r.Context(), wf, user.ID); err != nil {
		writeOrchestratorError(w, err)
		return
	}

	wf.Lock()
	defer wf.Unlock()
	h.publishEvents(r.Context(), wf)
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	outcome, err := h.orchestrator.Validate(r.Context(), wf, user.ID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	wf.Lock()
	h.publishEvents(r.Context(), wf)
	wf.Unlock()
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	wf, user := h.getSessionAndUser(w, r)
	if wf == nil {
		return
	}

	outcome, err := h.orchestrator.Submit(r.Context(), wf, user.ID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	wf.Lock()
	h.publishEvents(r.Context(), wf)
	wf.Unlock()
	writeJSON(w, http.StatusOK, outcome)
}

// --- Search gate ---

// BeginSearch marks the session busy for the duration of a directory
// search
func (h *Handler) BeginSearch(session types.ID) error {
	wf, ok := h.registry.Get(session)
	if !ok {
		return fmt.Errorf("session %s not found", session)
	}

	wf.Lock()
	defer wf.Unlock()
	return wf.Begin(domain.PhaseSearching)
}

// EndSearch releases the search phase
func (h *Handler) EndSearch(session types.ID) {
	if wf, ok := h.registry.Get(session); ok {
		wf.Lock()
		wf.End()
		wf.Unlock()
	}
}

// Ensure the handler can gate directory searches
var _ directory.Gate = (*Handler)(nil)

// --- Helpers ---

func (h *Handler) getSessionAndUser(w http.ResponseWriter, r *http.Request) (*domain.Workflow, *auth.User) {
	id, err := types.ParseID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid session ID"))
		return nil, nil
	}

	wf, ok := h.registry.Get(id)
	if !ok {
		writeError(w, errors.NotFound("workflow session", id.String()))
		return nil, nil
	}

	user := auth.GetUser(r.Context())
	if user == nil {
		// For development without auth
		user = &auth.User{
			ID:         wf.OwnerID,
			FacilityID: wf.FacilityID,
		}
	}

	return wf, user
}

func currentUser(r *http.Request) *auth.User {
	if user := auth.GetUser(r.Context()); user != nil {
		return user
	}
	// For development without auth
	return &auth.User{ID: types.NewID()}
}

func (h *Handler) publishEvents(ctx context.Context, wf *domain.Workflow) {
	if h.bus == nil {
		wf.GetDomainEvents()
		return
	}

	for _, e := range wf.GetDomainEvents() {
		event := events.NewEvent("workflow."+e.Type, "workflow", map[string]any{
			"workflow_id": wf.ID,
			"event":       e.WorkflowEvent,
		}).WithActor(e.WorkflowEvent.ActorID, "staff", wf.FacilityID)

		h.bus.Publish(ctx, event)
	}
}

// writeDomainError maps aggregate errors onto HTTP statuses. Busy
// rejections get a conflict so the host can retry after the phase ends.
func writeDomainError(w http.ResponseWriter, err error) {
	var busy *domain.BusyError
	if stderrors.As(err, &busy) {
		writeError(w, errors.Conflict(busy.Error()))
		return
	}
	writeError(w, errors.BadRequest(err.Error()))
}

// writeOrchestratorError maps save/validate/submit failures. All of
// them leave the form state intact, so none map to a server teardown.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	var busy *domain.BusyError
	if stderrors.As(err, &busy) {
		writeError(w, errors.Conflict(busy.Error()))
		return
	}

	var validationErr *submission.ValidationError
	if stderrors.As(err, &validationErr) {
		writeError(w, errors.Validation(validationErr.Message, nil))
		return
	}

	var submissionErr *submission.SubmissionError
	if stderrors.As(err, &submissionErr) {
		writeError(w, errors.BadRequest(submissionErr.Message))
		return
	}

	var storageErr *domain.StorageError
	if stderrors.As(err, &storageErr) {
		writeError(w, errors.Wrap(storageErr, "draft storage failed"))
		return
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		writeError(w, appErr)
		return
	}

	// Anything left is a transport failure reaching the gateway
	writeError(w, errors.Unavailable("payer gateway", err))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
