package audit

import (
	"testing"
	"time"

	"github.com/carelink-health/platform/internal/shared/events"
	"github.com/carelink-health/platform/internal/shared/types"
)

// TestNewAuditEntry tests creating a new audit entry
func TestNewAuditEntry(t *testing.T) {
	actorID := types.NewID()
	facilityID := types.NewID()
	resourceID := types.NewID()

	entry := NewAuditEntry(
		ActorTypeStaff,
		actorID,
		&facilityID,
		ActionWorkflowCreated,
		"workflow",
		&resourceID,
		map[string]any{"facility": facilityID.String()},
		"",
	)

	if entry.ID.IsZero() {
		t.Error("Expected non-zero ID")
	}

	if entry.ActorType != ActorTypeStaff {
		t.Errorf("Expected ActorTypeStaff, got %s", entry.ActorType)
	}

	if entry.ActorID != actorID {
		t.Errorf("Expected actorID %s, got %s", actorID, entry.ActorID)
	}

	if entry.Action != ActionWorkflowCreated {
		t.Errorf("Expected action %s, got %s", ActionWorkflowCreated, entry.Action)
	}

	if entry.Hash == "" {
		t.Error("Expected non-empty hash")
	}

	if entry.PrevHash != "" {
		t.Error("Expected empty prev_hash for first entry")
	}
}

// TestHashChainIntegrity tests that hash chain links are valid
func TestHashChainIntegrity(t *testing.T) {
	actorID := types.NewID()
	facilityID := types.NewID()

	entries := make([]*AuditEntry, 5)

	prevHash := ""
	for i := 0; i < 5; i++ {
		resourceID := types.NewID()
		entries[i] = NewAuditEntry(
			ActorTypeStaff,
			actorID,
			&facilityID,
			ActionWorkflowMutated,
			"workflow",
			&resourceID,
			map[string]any{"index": i},
			prevHash,
		)
		prevHash = entries[i].Hash
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Errorf("Chain broken at entry %d: expected prev_hash %s, got %s",
				i, entries[i-1].Hash, entries[i].PrevHash)
		}
	}
}

// TestHashChainTamperDetection tests that modifying an entry invalidates its hash
func TestHashChainTamperDetection(t *testing.T) {
	actorID := types.NewID()
	facilityID := types.NewID()
	resourceID := types.NewID()

	entry := NewAuditEntry(
		ActorTypeStaff,
		actorID,
		&facilityID,
		ActionDraftSaved,
		"workflow",
		&resourceID,
		map[string]any{"progress": 67},
		"",
	)

	originalHash := entry.Hash

	if !entry.VerifyHash() {
		t.Error("Hash should be valid before tampering")
	}

	entry.Changes["progress"] = 100

	if entry.VerifyHash() {
		t.Error("Hash should be invalid after tampering")
	}

	computedHash := entry.ComputeHash()
	if computedHash == originalHash {
		t.Error("Computed hash should differ after tampering")
	}
}

// TestVerifyHash tests hash verification
func TestVerifyHash(t *testing.T) {
	actorID := types.NewID()
	facilityID := types.NewID()
	resourceID := types.NewID()

	entry := NewAuditEntry(
		ActorTypeStaff,
		actorID,
		&facilityID,
		ActionWorkflowSubmitted,
		"workflow",
		&resourceID,
		map[string]any{
			"reference": "PA-2026-001",
			"status":    "submitted",
		},
		"abc123prevhash",
	)

	if !entry.VerifyHash() {
		t.Error("Hash should be valid for newly created entry")
	}

	if entry.PrevHash != "abc123prevhash" {
		t.Errorf("Expected prev_hash 'abc123prevhash', got '%s'", entry.PrevHash)
	}
}

// TestCanonicalJSONDeterminism tests that canonical JSON produces consistent output
func TestCanonicalJSONDeterminism(t *testing.T) {
	actorID := types.NewID()
	facilityID := types.NewID()
	resourceID := types.NewID()

	changes := map[string]any{
		"zebra":  "last",
		"apple":  "first",
		"middle": "middle",
		"nested": map[string]any{
			"z": 3,
			"a": 1,
			"m": 2,
		},
	}

	entry1 := NewAuditEntry(
		ActorTypeStaff,
		actorID,
		&facilityID,
		ActionWorkflowMutated,
		"workflow",
		&resourceID,
		changes,
		"prevhash",
	)

	entry2 := &AuditEntry{
		ID:              entry1.ID,
		Timestamp:       entry1.Timestamp,
		PrevHash:        entry1.PrevHash,
		ActorType:       entry1.ActorType,
		ActorID:         entry1.ActorID,
		ActorFacilityID: entry1.ActorFacilityID,
		Action:          entry1.Action,
		ResourceType:    entry1.ResourceType,
		ResourceID:      entry1.ResourceID,
		Changes:         changes,
	}
	entry2.Hash = entry2.calculateHash()

	if entry1.Hash != entry2.Hash {
		t.Errorf("Hashes should be identical for same data: got %s and %s", entry1.Hash, entry2.Hash)
	}
}

// TestEntryTimestampPrecision tests that timestamps are handled correctly
func TestEntryTimestampPrecision(t *testing.T) {
	actorID := types.NewID()

	entry := NewAuditEntry(
		ActorTypeSystem,
		actorID,
		nil,
		ActionNotification,
		"widget",
		nil,
		nil,
		"",
	)

	// Truncated to microseconds for PostgreSQL compatibility
	if entry.Timestamp.Nanosecond()%1000 != 0 {
		t.Error("Timestamp should be truncated to microseconds")
	}

	if entry.Timestamp.Location() != time.UTC {
		t.Error("Timestamp should be in UTC")
	}
}

// TestWithRequest tests adding request info to an entry
func TestWithRequest(t *testing.T) {
	actorID := types.NewID()

	entry := NewAuditEntry(
		ActorTypeStaff,
		actorID,
		nil,
		ActionAttachmentDownloaded,
		"attachment",
		nil,
		nil,
		"",
	)

	entry.WithRequest("192.168.1.100", "Mozilla/5.0 (Windows NT 10.0)")

	if entry.ActorIP != "192.168.1.100" {
		t.Errorf("Expected IP '192.168.1.100', got '%s'", entry.ActorIP)
	}

	if entry.ActorDevice != "Mozilla/5.0 (Windows NT 10.0)" {
		t.Errorf("Expected device info, got '%s'", entry.ActorDevice)
	}
}

// TestWithSession tests recording the originating session
func TestWithSession(t *testing.T) {
	actorID := types.NewID()
	sessionID := types.NewID()

	entry := NewAuditEntry(
		ActorTypeStaff,
		actorID,
		nil,
		ActionDraftLoaded,
		"workflow",
		nil,
		nil,
		"",
	)

	entry.WithSession(&sessionID)

	if entry.SessionID == nil || *entry.SessionID != sessionID {
		t.Error("SessionID not set correctly")
	}
}

// TestChainVerificationWithMultipleEntries tests verifying a longer chain
func TestChainVerificationWithMultipleEntries(t *testing.T) {
	actorID := types.NewID()
	facilityID := types.NewID()

	entries := make([]*AuditEntry, 100)
	prevHash := ""

	for i := 0; i < 100; i++ {
		resourceID := types.NewID()
		entries[i] = NewAuditEntry(
			ActorTypeStaff,
			actorID,
			&facilityID,
			ActionWorkflowMutated,
			"workflow",
			&resourceID,
			map[string]any{"index": i, "timestamp": time.Now().Unix()},
			prevHash,
		)
		prevHash = entries[i].Hash
	}

	for i, entry := range entries {
		if !entry.VerifyHash() {
			t.Errorf("Entry %d has invalid hash", i)
		}
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Errorf("Chain broken at entry %d", i)
		}
	}

	// Tamper with middle entry and verify content check catches it
	middleIndex := 50
	entries[middleIndex].Changes["index"] = 999

	if entries[middleIndex].VerifyHash() {
		t.Error("Tampered entry should have invalid hash")
	}

	expectedPrevHash := entries[middleIndex-1].Hash
	if entries[middleIndex].PrevHash != expectedPrevHash {
		t.Errorf("PrevHash should still reference previous entry's hash")
	}
}

// TestActorTypes tests different actor types
func TestActorTypes(t *testing.T) {
	tests := []struct {
		name      string
		actorType ActorType
	}{
		{"Staff", ActorTypeStaff},
		{"System", ActorTypeSystem},
		{"External", ActorTypeExternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actorID := types.NewID()
			entry := NewAuditEntry(
				tt.actorType,
				actorID,
				nil,
				ActionWorkflowCreated,
				"workflow",
				nil,
				nil,
				"",
			)

			if entry.ActorType != tt.actorType {
				t.Errorf("Expected actor type %s, got %s", tt.actorType, entry.ActorType)
			}

			if !entry.VerifyHash() {
				t.Error("Hash should be valid")
			}
		})
	}
}

// TestEventToAuditEntry tests converting domain events into audit entries
func TestEventToAuditEntry(t *testing.T) {
	s := NewSubscriber(nil, nil)

	actorID := types.NewID()
	facilityID := types.NewID()
	workflowID := types.NewID()

	event := events.NewEvent("workflow.visit_selected", "workflow", map[string]any{
		"workflow_id": workflowID.String(),
		"visit_id":    "V-100",
	}).WithActor(actorID, "staff", facilityID)

	entry := s.eventToAuditEntry(event)
	if entry == nil {
		t.Fatal("Expected an audit entry")
	}

	if entry.Action != "workflow.visit_selected" {
		t.Errorf("Expected action workflow.visit_selected, got %s", entry.Action)
	}

	if entry.ResourceType != "workflow" {
		t.Errorf("Expected resource_type workflow, got %s", entry.ResourceType)
	}

	if entry.ActorType != ActorTypeStaff {
		t.Errorf("Expected staff actor, got %s", entry.ActorType)
	}

	if entry.ActorFacilityID == nil || *entry.ActorFacilityID != facilityID {
		t.Error("Expected actor facility to be carried over")
	}

	if entry.ResourceID == nil || entry.ResourceID.String() != workflowID.String() {
		t.Error("Expected resource ID from workflow_id field")
	}

	if entry.SessionID == nil || entry.SessionID.String() != workflowID.String() {
		t.Error("Expected session ID from workflow_id field")
	}
}

// TestEventWithoutDotIsSkipped tests that untyped events are not audited
func TestEventWithoutDotIsSkipped(t *testing.T) {
	s := NewSubscriber(nil, nil)

	event := events.NewEvent("heartbeat", "system", nil)

	if entry := s.eventToAuditEntry(event); entry != nil {
		t.Errorf("Expected nil entry for event without a resource prefix, got %+v", entry)
	}
}
