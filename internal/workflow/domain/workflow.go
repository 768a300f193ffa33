package domain

import (
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/carelink-health/platform/internal/shared/types"
)

// completionSteps is the number of steps the progress percentage is
// computed over: patient, visit, care team, diagnoses, procedures,
// and clinical context (vitals or clinical info).
const completionSteps = 6

// Workflow is the aggregate root for a prior-authorization session.
// One workflow exists per mounted widget instance; all form state
// lives here and every mutation recomputes the progress percentage.
//
// The registry hands the same instance to every request goroutine, so
// callers hold the session lock around every read and mutation. The
// lock is released during slow gateway or storage calls; the busy
// phase taken under it is what rejects overlapping operations.
type Workflow struct {
	mu sync.Mutex

	ID         types.ID `json:"id"`
	OwnerID    types.ID `json:"owner_id"`
	FacilityID types.ID `json:"facility_id,omitempty"`

	Patient    *Patient         `json:"patient,omitempty"`
	Visits     []Visit          `json:"visits,omitempty"`
	Visit      *Visit           `json:"visit,omitempty"`
	CareTeam   []CareTeamMember `json:"care_team"`
	Diagnoses  []Diagnosis      `json:"diagnoses"`
	Procedures []Procedure      `json:"procedures"`

	ClinicalInfo ClinicalInfo `json:"clinical_info"`
	VitalSigns   VitalSigns   `json:"vital_signs"`
	Attachments  []Attachment `json:"attachments"`

	CollapsedSections map[Section]bool `json:"collapsed_sections"`
	ActiveTab         Tab              `json:"active_tab"`
	Progress          int              `json:"progress"`
	Phase             Phase            `json:"phase"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Domain events (not persisted, used for publishing)
	domainEvents []Event
}

// NewWorkflow creates a workflow session for a widget instance
func NewWorkflow(ownerID, facilityID types.ID) (*Workflow, error) {
	if ownerID.IsZero() {
		return nil, fmt.Errorf("owner is required")
	}

	now := time.Now()
	w := &Workflow{
		ID:                types.NewID(),
		OwnerID:           ownerID,
		FacilityID:        facilityID,
		CareTeam:          []CareTeamMember{},
		Diagnoses:         []Diagnosis{},
		Procedures:        []Procedure{},
		Attachments:       []Attachment{},
		CollapsedSections: make(map[Section]bool),
		ActiveTab:         TabPriorAuth,
		Phase:             PhaseIdle,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	w.addEvent(WorkflowEventTypeCreated, ownerID, "Workflow session created", nil)

	return w, nil
}

// Lock acquires the session lock
func (w *Workflow) Lock() {
	w.mu.Lock()
}

// Unlock releases the session lock
func (w *Workflow) Unlock() {
	w.mu.Unlock()
}

// SelectPatient sets the active patient. The patient is set once per
// session; only Reset clears it.
func (w *Workflow) SelectPatient(p Patient, actorID types.ID) error {
	if p.ID == "" {
		return fmt.Errorf("patient id is required")
	}
	if w.Patient != nil {
		return fmt.Errorf("patient is already selected; reset the workflow to change patient")
	}
	if !p.NationalID.IsZero() {
		if _, err := types.ParseNationalID(p.NationalID.String()); err != nil {
			return fmt.Errorf("invalid national ID: %w", err)
		}
	}

	w.Patient = &p
	w.touch()

	// The national ID never leaves the session unmasked
	data := map[string]any{
		"patient_id": p.ID,
	}
	if !p.NationalID.IsZero() {
		data["national_id"] = p.NationalID.Masked()
	}

	w.addEvent(WorkflowEventTypePatientSelected, actorID,
		fmt.Sprintf("Selected patient: %s", p.Name), data)

	return nil
}

// SetVisits replaces the candidate visit list loaded for the patient
func (w *Workflow) SetVisits(visits []Visit, actorID types.ID) error {
	if w.Patient == nil {
		return fmt.Errorf("select a patient before loading visits")
	}

	w.Visits = visits
	w.touch()

	w.addEvent(WorkflowEventTypeVisitsLoaded, actorID,
		fmt.Sprintf("Loaded %d visits", len(visits)), nil)

	return nil
}

// SelectVisit sets the active visit and derives care team and
// procedures from it. The derivation is destructive: the care team is
// replaced with the visit's provider as Primary Provider and the
// procedures are replaced one-to-one from the visit's billed services.
// It returns the number of care team members and procedures that were
// discarded so callers can warn the user.
func (w *Workflow) SelectVisit(visitID string, actorID types.ID) (replacedMembers, replacedProcedures int, err error) {
	if w.Patient == nil {
		return 0, 0, fmt.Errorf("select a patient before selecting a visit")
	}

	var visit *Visit
	for i := range w.Visits {
		if w.Visits[i].ID == visitID {
			visit = &w.Visits[i]
			break
		}
	}
	if visit == nil {
		return 0, 0, fmt.Errorf("visit %s is not in the loaded visit list", visitID)
	}

	replacedMembers = len(w.CareTeam)
	replacedProcedures = len(w.Procedures)

	selected := *visit
	w.Visit = &selected

	w.CareTeam = []CareTeamMember{{
		ID:   visit.ProviderID,
		Name: visit.ProviderName,
		Role: "Primary Provider",
		Type: "Provider",
	}}

	procedures := make([]Procedure, 0, len(visit.Services))
	for _, svc := range visit.Services {
		procedures = append(procedures, Procedure{
			ID:          svc.ID,
			Code:        svc.Code,
			Name:        svc.Name,
			Description: svc.Description,
			ProviderID:  svc.ProviderID,
			Date:        svc.Date,
			Charges:     svc.Charges,
			Status:      svc.Status,
		})
	}
	w.Procedures = procedures

	w.touch()

	w.addEvent(WorkflowEventTypeVisitSelected, actorID,
		fmt.Sprintf("Selected visit %s (%s)", visit.ID, visit.TypeName()), map[string]any{
			"visit_id":            visit.ID,
			"replaced_members":    replacedMembers,
			"replaced_procedures": replacedProcedures,
			"derived_procedures":  len(procedures),
		})

	return replacedMembers, replacedProcedures, nil
}

// AddCareTeamMember appends a practitioner to the care team.
// Duplicates are not prevented.
func (w *Workflow) AddCareTeamMember(m CareTeamMember, actorID types.ID) error {
	if m.ID == "" {
		return fmt.Errorf("care team member id is required")
	}
	if m.Role == "" {
		m.Role = "Provider"
	}
	if m.Type == "" {
		m.Type = "Provider"
	}

	w.CareTeam = append(w.CareTeam, m)
	w.touch()

	w.addEvent(WorkflowEventTypeCareTeamAdded, actorID,
		fmt.Sprintf("Added care team member: %s (%s)", m.Name, m.Role), map[string]any{
			"member_id": m.ID,
		})

	return nil
}

// RemoveCareTeamMember removes a care team member by id
func (w *Workflow) RemoveCareTeamMember(memberID string, actorID types.ID) error {
	for i, m := range w.CareTeam {
		if m.ID == memberID {
			w.CareTeam = append(w.CareTeam[:i], w.CareTeam[i+1:]...)
			w.touch()

			w.addEvent(WorkflowEventTypeCareTeamRemoved, actorID,
				fmt.Sprintf("Removed care team member: %s", m.Name), map[string]any{
					"member_id": memberID,
				})
			return nil
		}
	}
	return fmt.Errorf("care team member %s not found", memberID)
}

// AddDiagnosis appends a diagnosis. Duplicates are not prevented.
func (w *Workflow) AddDiagnosis(d Diagnosis, actorID types.ID) error {
	if d.Code == "" {
		return fmt.Errorf("diagnosis code is required")
	}

	w.Diagnoses = append(w.Diagnoses, d)
	w.touch()

	w.addEvent(WorkflowEventTypeDiagnosisAdded, actorID,
		fmt.Sprintf("Added diagnosis: %s", d.Code), map[string]any{
			"code": d.Code,
		})

	return nil
}

// RemoveDiagnosis removes the first diagnosis with the given code
func (w *Workflow) RemoveDiagnosis(code string, actorID types.ID) error {
	for i, d := range w.Diagnoses {
		if d.Code == code {
			w.Diagnoses = append(w.Diagnoses[:i], w.Diagnoses[i+1:]...)
			w.touch()

			w.addEvent(WorkflowEventTypeDiagnosisRemoved, actorID,
				fmt.Sprintf("Removed diagnosis: %s", code), map[string]any{
					"code": code,
				})
			return nil
		}
	}
	return fmt.Errorf("diagnosis %s not found", code)
}

// AddProcedure appends a procedure. Duplicates are not prevented.
func (w *Workflow) AddProcedure(p Procedure, actorID types.ID) error {
	if p.Code == "" {
		return fmt.Errorf("procedure code is required")
	}

	w.Procedures = append(w.Procedures, p)
	w.touch()

	w.addEvent(WorkflowEventTypeProcedureAdded, actorID,
		fmt.Sprintf("Added procedure: %s", p.Code), map[string]any{
			"code": p.Code,
		})

	return nil
}

// RemoveProcedure removes the first procedure with the given code
func (w *Workflow) RemoveProcedure(code string, actorID types.ID) error {
	for i, p := range w.Procedures {
		if p.Code == code {
			w.Procedures = append(w.Procedures[:i], w.Procedures[i+1:]...)
			w.touch()

			w.addEvent(WorkflowEventTypeProcedureRemoved, actorID,
				fmt.Sprintf("Removed procedure: %s", code), map[string]any{
					"code": code,
				})
			return nil
		}
	}
	return fmt.Errorf("procedure %s not found", code)
}

// UpdateClinicalInfo replaces the clinical info block
func (w *Workflow) UpdateClinicalInfo(info ClinicalInfo, actorID types.ID) error {
	if utf8.RuneCountInString(info.TreatmentPlan) > TreatmentPlanMaxLen {
		return fmt.Errorf("treatment plan exceeds %d characters", TreatmentPlanMaxLen)
	}

	w.ClinicalInfo = info
	w.touch()

	w.addEvent(WorkflowEventTypeClinicalUpdated, actorID, "Updated clinical info", nil)

	return nil
}

// UpdateVitalSigns replaces the vital signs block
func (w *Workflow) UpdateVitalSigns(vitals VitalSigns, actorID types.ID) error {
	w.VitalSigns = vitals
	w.touch()

	w.addEvent(WorkflowEventTypeVitalsUpdated, actorID, "Updated vital signs", nil)

	return nil
}

// AddAttachment records an uploaded supporting document handle
func (w *Workflow) AddAttachment(a Attachment, actorID types.ID) error {
	if a.FileName == "" {
		return fmt.Errorf("attachment file name is required")
	}
	if a.ID.IsZero() {
		a.ID = types.NewID()
	}
	if a.UploadedAt.IsZero() {
		a.UploadedAt = time.Now()
	}

	w.Attachments = append(w.Attachments, a)
	w.touch()

	w.addEvent(WorkflowEventTypeAttachmentAdded, actorID,
		fmt.Sprintf("Attached document: %s", a.FileName), map[string]any{
			"attachment_id": a.ID,
		})

	return nil
}

// RemoveAttachment removes an attachment handle by id
func (w *Workflow) RemoveAttachment(attachmentID types.ID, actorID types.ID) error {
	for i, a := range w.Attachments {
		if a.ID == attachmentID {
			w.Attachments = append(w.Attachments[:i], w.Attachments[i+1:]...)
			w.touch()

			w.addEvent(WorkflowEventTypeAttachmentRemoved, actorID,
				fmt.Sprintf("Removed document: %s", a.FileName), map[string]any{
					"attachment_id": attachmentID,
				})
			return nil
		}
	}
	return fmt.Errorf("attachment %s not found", attachmentID)
}

// ToggleSection flips the collapse state of a form section. Collapse
// state never affects form data or progress.
func (w *Workflow) ToggleSection(section Section, actorID types.ID) error {
	if !section.IsValid() {
		return fmt.Errorf("unknown section: %s", section)
	}

	w.CollapsedSections[section] = !w.CollapsedSections[section]
	w.UpdatedAt = time.Now()

	w.addEvent(WorkflowEventTypeSectionToggled, actorID,
		fmt.Sprintf("Toggled section: %s", section), map[string]any{
			"section":   section,
			"collapsed": w.CollapsedSections[section],
		})

	return nil
}

// SwitchTab changes the active widget tab
func (w *Workflow) SwitchTab(tab Tab, actorID types.ID) error {
	if !tab.IsValid() {
		return fmt.Errorf("unknown tab: %s", tab)
	}
	if tab == w.ActiveTab {
		return nil
	}

	old := w.ActiveTab
	w.ActiveTab = tab
	w.UpdatedAt = time.Now()

	w.addEvent(WorkflowEventTypeTabSwitched, actorID,
		fmt.Sprintf("Switched tab: %s", tab), map[string]any{
			"old_tab": old,
			"new_tab": tab,
		})

	return nil
}

// BusyError rejects an operation because another busy operation holds
// the session
type BusyError struct {
	Phase Phase
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("workflow is busy: %s in progress", e.Phase)
}

// Begin transitions the workflow into a busy phase. Only one busy
// operation runs at a time; a second entry while busy is rejected.
func (w *Workflow) Begin(phase Phase) error {
	if phase == PhaseIdle {
		return fmt.Errorf("cannot begin the idle phase")
	}
	if w.Phase != PhaseIdle {
		return &BusyError{Phase: w.Phase}
	}

	w.Phase = phase
	return nil
}

// End releases the busy phase. Safe to call from a deferred cleanup
// regardless of how the operation ended.
func (w *Workflow) End() {
	w.Phase = PhaseIdle
}

// IsBusy reports whether a busy operation is in flight
func (w *Workflow) IsBusy() bool {
	return w.Phase != PhaseIdle
}

// Reset clears all form state back to a fresh session. The session
// identity and owner are preserved.
func (w *Workflow) Reset(actorID types.ID) {
	w.Patient = nil
	w.Visits = nil
	w.Visit = nil
	w.CareTeam = []CareTeamMember{}
	w.Diagnoses = []Diagnosis{}
	w.Procedures = []Procedure{}
	w.ClinicalInfo = ClinicalInfo{}
	w.VitalSigns = VitalSigns{}
	w.Attachments = []Attachment{}
	w.CollapsedSections = make(map[Section]bool)
	w.ActiveTab = TabPriorAuth
	w.Progress = 0
	w.UpdatedAt = time.Now()

	w.addEvent(WorkflowEventTypeReset, actorID, "Workflow reset", nil)
}

// Close records the session closing. Form state is left intact so the
// host can still read the final snapshot.
func (w *Workflow) Close(source string, actorID types.ID) error {
	if w.IsBusy() {
		return &BusyError{Phase: w.Phase}
	}

	w.UpdatedAt = time.Now()

	w.addEvent(WorkflowEventTypeClosed, actorID, "Workflow closed", map[string]any{
		"source": source,
	})

	return nil
}

// Snapshot is the serializable form state used for drafts and
// submission payloads
type Snapshot struct {
	Patient      *Patient         `json:"patient"`
	Visit        *Visit           `json:"visit"`
	CareTeam     []CareTeamMember `json:"care_team"`
	Diagnoses    []Diagnosis      `json:"diagnoses"`
	Procedures   []Procedure      `json:"procedures"`
	VitalSigns   VitalSigns       `json:"vital_signs"`
	ClinicalInfo ClinicalInfo     `json:"clinical_info"`
	Attachments  []Attachment     `json:"attachments"`
}

// Snapshot captures the current form state. The slices are copied so
// the snapshot stays stable after the session lock is released.
func (w *Workflow) Snapshot() Snapshot {
	return Snapshot{
		Patient:      w.Patient,
		Visit:        w.Visit,
		CareTeam:     append([]CareTeamMember(nil), w.CareTeam...),
		Diagnoses:    append([]Diagnosis(nil), w.Diagnoses...),
		Procedures:   append([]Procedure(nil), w.Procedures...),
		VitalSigns:   w.VitalSigns,
		ClinicalInfo: w.ClinicalInfo,
		Attachments:  append([]Attachment(nil), w.Attachments...),
	}
}

// Restore replaces the form state from a saved snapshot and
// recomputes progress
func (w *Workflow) Restore(s Snapshot, actorID types.ID) {
	w.Patient = s.Patient
	w.Visit = s.Visit
	w.CareTeam = s.CareTeam
	w.Diagnoses = s.Diagnoses
	w.Procedures = s.Procedures
	w.VitalSigns = s.VitalSigns
	w.ClinicalInfo = s.ClinicalInfo
	w.Attachments = s.Attachments

	if w.CareTeam == nil {
		w.CareTeam = []CareTeamMember{}
	}
	if w.Diagnoses == nil {
		w.Diagnoses = []Diagnosis{}
	}
	if w.Procedures == nil {
		w.Procedures = []Procedure{}
	}
	if w.Attachments == nil {
		w.Attachments = []Attachment{}
	}

	w.touch()

	w.addEvent(WorkflowEventTypeDraftRestored, actorID, "Draft restored", nil)
}

// GetDomainEvents returns and clears domain events
func (w *Workflow) GetDomainEvents() []Event {
	events := w.domainEvents
	w.domainEvents = nil
	return events
}

// touch recomputes progress and bumps the update time. Called after
// every form-data mutation.
func (w *Workflow) touch() {
	w.Progress = w.computeProgress()
	w.UpdatedAt = time.Now()
}

// computeProgress returns the rounded percentage of completed steps
func (w *Workflow) computeProgress() int {
	completed := 0
	if w.Patient != nil {
		completed++
	}
	if w.Visit != nil {
		completed++
	}
	if len(w.CareTeam) > 0 {
		completed++
	}
	if len(w.Diagnoses) > 0 {
		completed++
	}
	if len(w.Procedures) > 0 {
		completed++
	}
	if !w.VitalSigns.IsEmpty() || !w.ClinicalInfo.IsEmpty() {
		completed++
	}

	return int(math.Round(float64(completed) / completionSteps * 100))
}

// addEvent adds a domain event
func (w *Workflow) addEvent(eventType WorkflowEventType, actorID types.ID, description string, data map[string]any) {
	entry := WorkflowEvent{
		ID:          types.NewID(),
		WorkflowID:  w.ID,
		Type:        eventType,
		ActorID:     actorID,
		Description: description,
		Data:        data,
		Timestamp:   time.Now(),
	}

	w.domainEvents = append(w.domainEvents, Event{
		Type:          string(eventType),
		WorkflowID:    w.ID,
		WorkflowEvent: entry,
	})
}
