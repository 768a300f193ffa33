package domain

import (
	"time"

	"github.com/carelink-health/platform/internal/shared/types"
)

// Patient is the subject of the authorization request. Patients arrive
// from the host's patient search widget, so the ID is the directory's
// opaque identifier rather than one of ours.
type Patient struct {
	ID          string          `json:"id"`
	NationalID  types.NationalID `json:"national_id,omitempty"`
	Name        string          `json:"name"`
	Gender      string          `json:"gender,omitempty"`
	DateOfBirth string          `json:"date_of_birth,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Email       string          `json:"email,omitempty"`
	InsuranceID string          `json:"insurance_id,omitempty"`
	PayerName   string          `json:"payer_name,omitempty"`
}

// VisitType codes as delivered by the visit directory
const (
	VisitTypeRegular      = 1
	VisitTypeFollowUp     = 2
	VisitTypeEmergency    = 3
	VisitTypeConsultation = 4
)

// VisitStatus codes as delivered by the visit directory
const (
	VisitStatusScheduled  = 1
	VisitStatusInProgress = 2
	VisitStatusCompleted  = 3
	VisitStatusCancelled  = 4
)

var visitTypeNames = map[int]string{
	VisitTypeRegular:      "Regular Visit",
	VisitTypeFollowUp:     "Follow-up",
	VisitTypeEmergency:    "Emergency",
	VisitTypeConsultation: "Consultation",
}

var visitStatusNames = map[int]string{
	VisitStatusScheduled:  "Scheduled",
	VisitStatusInProgress: "In Progress",
	VisitStatusCompleted:  "Completed",
	VisitStatusCancelled:  "Cancelled",
}

var visitStatusClasses = map[int]string{
	VisitStatusScheduled:  "scheduled",
	VisitStatusInProgress: "in-progress",
	VisitStatusCompleted:  "completed",
	VisitStatusCancelled:  "cancelled",
}

// VisitTypeName returns the display name for a visit type code.
// Unknown codes render as "Unknown".
func VisitTypeName(code int) string {
	if name, ok := visitTypeNames[code]; ok {
		return name
	}
	return "Unknown"
}

// VisitStatusName returns the display name for a visit status code.
// Unknown codes render as "Unknown".
func VisitStatusName(code int) string {
	if name, ok := visitStatusNames[code]; ok {
		return name
	}
	return "Unknown"
}

// VisitStatusClass returns the badge class for a visit status code.
// Unknown codes fall back to the scheduled class.
func VisitStatusClass(code int) string {
	if class, ok := visitStatusClasses[code]; ok {
		return class
	}
	return visitStatusClasses[VisitStatusScheduled]
}

// BilledService is a service billed on a visit. Selecting the visit
// derives one procedure per service.
type BilledService struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	ProviderID  string  `json:"provider_id,omitempty"`
	Date        string  `json:"date,omitempty"`
	Charges     float64 `json:"charges"`
	Status      string  `json:"status,omitempty"`
}

// Visit is an encounter as delivered by the visit directory
type Visit struct {
	ID           string          `json:"id"`
	PatientID    string          `json:"patient_id"`
	ProviderID   string          `json:"provider_id"`
	ProviderName string          `json:"provider_name,omitempty"`
	FacilityID   string          `json:"facility_id,omitempty"`
	FacilityName string          `json:"facility_name,omitempty"`
	Type         int             `json:"type"`
	Status       int             `json:"status"`
	Date         time.Time       `json:"date"`
	Services     []BilledService `json:"services,omitempty"`
}

// TypeName returns the display name for the visit's type
func (v Visit) TypeName() string {
	return VisitTypeName(v.Type)
}

// StatusName returns the display name for the visit's status
func (v Visit) StatusName() string {
	return VisitStatusName(v.Status)
}

// CareTeamMember is a practitioner attached to the request
type CareTeamMember struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	Type      string `json:"type"`
	Specialty string `json:"specialty,omitempty"`
}

// Diagnosis is an ICD-10 coded diagnosis on the request
type Diagnosis struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"` // principal, secondary
	OnsetDate   string `json:"onset_date,omitempty"`
}

// Procedure is a requested procedure, either derived from a visit's
// billed services or added manually from the procedure directory
type Procedure struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	ProviderID  string  `json:"provider_id,omitempty"`
	Date        string  `json:"date,omitempty"`
	Charges     float64 `json:"charges"`
	Status      string  `json:"status,omitempty"`
}

// TreatmentPlanMaxLen caps the free-text treatment plan
const TreatmentPlanMaxLen = 500

// ClinicalInfo holds free-text clinical context
type ClinicalInfo struct {
	TreatmentPlan  string `json:"treatment_plan,omitempty"`
	PatientHistory string `json:"patient_history,omitempty"`
	ChiefComplaint string `json:"chief_complaint,omitempty"`
}

// IsEmpty reports whether no clinical field has been filled
func (c ClinicalInfo) IsEmpty() bool {
	return c.TreatmentPlan == "" && c.PatientHistory == "" && c.ChiefComplaint == ""
}

// VitalSigns holds the measured vitals
type VitalSigns struct {
	BloodPressure string  `json:"blood_pressure,omitempty"`
	Height        float64 `json:"height,omitempty"`
	Weight        float64 `json:"weight,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	Pulse         int     `json:"pulse,omitempty"`
}

// IsEmpty reports whether no vital sign has been recorded
func (v VitalSigns) IsEmpty() bool {
	return v.BloodPressure == "" && v.Height == 0 && v.Weight == 0 &&
		v.Temperature == 0 && v.Pulse == 0
}

// Attachment is a handle to an uploaded supporting document
type Attachment struct {
	ID          types.ID  `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Section names the collapsible form sections
type Section string

const (
	SectionPatient    Section = "patient"
	SectionVisit      Section = "visit"
	SectionCareTeam   Section = "care-team"
	SectionDiagnosis  Section = "diagnosis"
	SectionProcedures Section = "procedures"
	SectionSupporting Section = "supporting"
)

// Sections lists all form sections in display order
var Sections = []Section{
	SectionPatient,
	SectionVisit,
	SectionCareTeam,
	SectionDiagnosis,
	SectionProcedures,
	SectionSupporting,
}

// IsValid reports whether the section name is known
func (s Section) IsValid() bool {
	for _, known := range Sections {
		if s == known {
			return true
		}
	}
	return false
}

// Tab names the widget tabs
type Tab string

const (
	TabPriorAuth Tab = "prior-auth"
	TabClaims    Tab = "claims"
	TabReports   Tab = "reports"
)

// IsValid reports whether the tab name is known
func (t Tab) IsValid() bool {
	return t == TabPriorAuth || t == TabClaims || t == TabReports
}

// Phase is the single busy phase of a workflow session. While a
// session is in any phase other than Idle, searches and the
// draft/validate/submit entry points are rejected.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSearching  Phase = "searching"
	PhaseSaving     Phase = "saving"
	PhaseValidating Phase = "validating"
	PhaseSubmitting Phase = "submitting"
)

// WorkflowEventType defines types of workflow timeline events
type WorkflowEventType string

const (
	WorkflowEventTypeCreated            WorkflowEventType = "created"
	WorkflowEventTypePatientSelected    WorkflowEventType = "patient_selected"
	WorkflowEventTypeVisitsLoaded       WorkflowEventType = "visits_loaded"
	WorkflowEventTypeVisitSelected      WorkflowEventType = "visit_selected"
	WorkflowEventTypeCareTeamAdded      WorkflowEventType = "care_team_member_added"
	WorkflowEventTypeCareTeamRemoved    WorkflowEventType = "care_team_member_removed"
	WorkflowEventTypeDiagnosisAdded     WorkflowEventType = "diagnosis_added"
	WorkflowEventTypeDiagnosisRemoved   WorkflowEventType = "diagnosis_removed"
	WorkflowEventTypeProcedureAdded     WorkflowEventType = "procedure_added"
	WorkflowEventTypeProcedureRemoved   WorkflowEventType = "procedure_removed"
	WorkflowEventTypeClinicalUpdated    WorkflowEventType = "clinical_info_updated"
	WorkflowEventTypeVitalsUpdated      WorkflowEventType = "vital_signs_updated"
	WorkflowEventTypeAttachmentAdded    WorkflowEventType = "attachment_added"
	WorkflowEventTypeAttachmentRemoved  WorkflowEventType = "attachment_removed"
	WorkflowEventTypeSectionToggled     WorkflowEventType = "section_toggled"
	WorkflowEventTypeTabSwitched        WorkflowEventType = "tab_switched"
	WorkflowEventTypeDraftSaved         WorkflowEventType = "draft_saved"
	WorkflowEventTypeDraftRestored      WorkflowEventType = "draft_restored"
	WorkflowEventTypeReset              WorkflowEventType = "reset"
	WorkflowEventTypeClosed             WorkflowEventType = "closed"
)

// WorkflowEvent represents an entry in the workflow timeline
type WorkflowEvent struct {
	ID          types.ID          `json:"id"`
	WorkflowID  types.ID          `json:"workflow_id"`
	Type        WorkflowEventType `json:"type"`
	ActorID     types.ID          `json:"actor_id,omitempty"`
	Description string            `json:"description"`
	Data        map[string]any    `json:"data,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Event is a domain event for publishing
type Event struct {
	Type          string        `json:"type"`
	WorkflowID    types.ID      `json:"workflow_id"`
	WorkflowEvent WorkflowEvent `json:"workflow_event"`
}
