package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carelink-health/platform/internal/shared/events"
	"github.com/carelink-health/platform/internal/shared/types"
)

// Subscriber listens to domain events and creates audit entries
type Subscriber struct {
	repo *Repository
	bus  events.EventBus
}

// NewSubscriber creates a new audit subscriber
func NewSubscriber(repo *Repository, bus events.EventBus) *Subscriber {
	return &Subscriber{repo: repo, bus: bus}
}

// Start subscribes to all relevant events
func (s *Subscriber) Start(ctx context.Context) error {
	patterns := []struct {
		pattern      string
		consumerName string
	}{
		{"workflow.*", "audit-workflow-subscriber"},
		{"widget.*", "audit-widget-subscriber"},
		{"facility.*", "audit-facility-subscriber"},
	}

	for _, p := range patterns {
		if err := s.bus.Subscribe(ctx, p.pattern, p.consumerName, s.handleEvent); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", p.pattern, err)
		}
	}

	return nil
}

// handleEvent processes incoming events and creates audit entries
func (s *Subscriber) handleEvent(ctx context.Context, event events.Event) error {
	entry := s.eventToAuditEntry(event)
	if entry == nil {
		return nil // Skip events that don't need auditing
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// eventToAuditEntry converts a domain event to an audit entry
func (s *Subscriber) eventToAuditEntry(event events.Event) *AuditEntry {
	parts := strings.SplitN(event.Type, ".", 2)
	if len(parts) < 2 {
		return nil
	}

	resourceType := parts[0]
	action := event.Type

	// Extract resource ID from event data
	var resourceID *types.ID
	if data, ok := event.Data.(map[string]any); ok {
		idFields := []string{
			resourceType + "_id",
			"id",
		}
		for _, field := range idFields {
			if idVal, ok := data[field]; ok {
				if idStr, ok := idVal.(string); ok {
					id := types.ID(idStr)
					resourceID = &id
					break
				}
				if id, ok := idVal.(types.ID); ok {
					resourceID = &id
					break
				}
			}
		}
	}

	actorType := ActorTypeStaff
	switch event.ActorType {
	case "system":
		actorType = ActorTypeSystem
	case "external":
		actorType = ActorTypeExternal
	}

	// Truncate timestamp to microseconds for deterministic hash verification
	entry := &AuditEntry{
		ID:           types.NewID(),
		Timestamp:    event.Timestamp.UTC().Truncate(time.Microsecond),
		ActorType:    actorType,
		ActorID:      event.ActorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}

	if !event.ActorFacility.IsZero() {
		entry.ActorFacilityID = &event.ActorFacility
	}

	// Workflow events carry the session they happened in
	if data, ok := event.Data.(map[string]any); ok {
		if sessVal, ok := data["workflow_id"]; ok {
			if sessStr, ok := sessVal.(string); ok {
				sessionID := types.ID(sessStr)
				entry.SessionID = &sessionID
			}
		}
		entry.Changes = data
	}

	return entry
}
