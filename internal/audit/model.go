package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/carelink-health/platform/internal/shared/types"
)

// canonicalJSON produces deterministic JSON output with sorted map keys.
// Go maps have random iteration order and PostgreSQL JSONB may reorder
// keys, so hashing requires a canonical encoding.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// ActorType defines the type of actor
type ActorType string

const (
	ActorTypeStaff    ActorType = "staff"
	ActorTypeSystem   ActorType = "system"
	ActorTypeExternal ActorType = "external"
)

// AuditEntry represents an immutable audit log entry
type AuditEntry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	// Actor
	ActorType       ActorType `json:"actor_type"`
	ActorID         types.ID  `json:"actor_id"`
	ActorFacilityID *types.ID `json:"actor_facility_id,omitempty"`
	ActorIP         string    `json:"actor_ip,omitempty"`
	ActorDevice     string    `json:"actor_device,omitempty"`

	// Action
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   *types.ID `json:"resource_id,omitempty"`

	// Changes
	Changes map[string]any `json:"changes,omitempty"`

	// Context
	SessionID *types.ID `json:"session_id,omitempty"`
}

// NewAuditEntry creates a new audit entry
func NewAuditEntry(
	actorType ActorType,
	actorID types.ID,
	actorFacilityID *types.ID,
	action, resourceType string,
	resourceID *types.ID,
	changes map[string]any,
	prevHash string,
) *AuditEntry {
	entry := &AuditEntry{
		ID:              types.NewID(),
		Timestamp:       time.Now().UTC().Truncate(time.Microsecond), // Truncate to microseconds for PostgreSQL compatibility
		PrevHash:        prevHash,
		ActorType:       actorType,
		ActorID:         actorID,
		ActorFacilityID: actorFacilityID,
		Action:          action,
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		Changes:         changes,
	}

	entry.Hash = entry.calculateHash()

	return entry
}

// calculateHash calculates the SHA-256 hash of the entry using canonical JSON.
// Timestamps are always hashed in UTC so verification does not depend on the
// timezone of the verifying process.
func (e *AuditEntry) calculateHash() string {
	data := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor_type":    e.ActorType,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
	}

	if e.ActorFacilityID != nil {
		data["actor_facility_id"] = e.ActorFacilityID
	}
	if e.ResourceID != nil {
		data["resource_id"] = e.ResourceID
	}
	if len(e.Changes) > 0 {
		data["changes"] = e.Changes
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash verifies the entry's hash
func (e *AuditEntry) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// ComputeHash computes and returns the correct hash for this entry
func (e *AuditEntry) ComputeHash() string {
	return e.calculateHash()
}

// WithSession records the workflow session the action happened in
func (e *AuditEntry) WithSession(sessionID *types.ID) *AuditEntry {
	e.SessionID = sessionID
	return e
}

// WithRequest adds request information to the entry
func (e *AuditEntry) WithRequest(ip, device string) *AuditEntry {
	e.ActorIP = ip
	e.ActorDevice = device
	return e
}

// ListEntriesFilter defines filters for listing audit entries
type ListEntriesFilter struct {
	ActorID      *types.ID  `json:"actor_id,omitempty"`
	ActorType    *ActorType `json:"actor_type,omitempty"`
	Action       string     `json:"action,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   *types.ID  `json:"resource_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// Common audit actions
const (
	// Workflow sessions
	ActionWorkflowCreated   = "workflow.created"
	ActionWorkflowClosed    = "workflow.closed"
	ActionWorkflowReset     = "workflow.reset"
	ActionWorkflowMutated   = "workflow.mutated"
	ActionWorkflowSubmitted = "workflow.submitted"
	ActionDraftSaved        = "workflow.draft_saved"
	ActionDraftLoaded       = "workflow.draft_loaded"

	// Widget surface
	ActionNotification = "widget.notification"
	ActionTabSwitched  = "widget.tab_switched"

	// Facilities
	ActionFacilityRegistered = "facility.registered"
	ActionFacilityUpdated    = "facility.updated"
	ActionProviderAdded      = "facility.provider_added"

	// Attachments
	ActionAttachmentUploaded   = "attachment.uploaded"
	ActionAttachmentDownloaded = "attachment.downloaded"

	// Sensitive data access
	ActionNationalIDAccessed = "sensitive.national_id_accessed"
	ActionDataExported       = "sensitive.data_exported"
)
