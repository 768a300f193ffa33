package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/carelink-health/platform/internal/shared/events"
	"github.com/carelink-health/platform/internal/shared/types"
)

type captureBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *captureBus) Publish(ctx context.Context, event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
	return nil
}

func (b *captureBus) Subscribe(ctx context.Context, pattern, consumerName string, handler events.Handler) error {
	return nil
}

func (b *captureBus) Close() {}

func (b *captureBus) Health() error { return nil }

// TestNotifyPublishesAndBuffers tests event publishing and the replay buffer
func TestNotifyPublishesAndBuffers(t *testing.T) {
	bus := &captureBus{}
	n := NewNotifier(bus)
	session := types.NewID()

	n.Notify(context.Background(), session, "Draft saved successfully", "success")
	n.Notify(context.Background(), session, "Coverage expired", "error")

	if len(bus.published) != 2 {
		t.Fatalf("Expected 2 published events, got %d", len(bus.published))
	}
	if bus.published[0].Type != "widget.notification" {
		t.Errorf("Expected widget.notification, got %s", bus.published[0].Type)
	}

	recent := n.Recent(session)
	if len(recent) != 2 {
		t.Fatalf("Expected 2 buffered notifications, got %d", len(recent))
	}
	if recent[0].Message != "Draft saved successfully" || recent[0].Type != TypeSuccess {
		t.Errorf("Unexpected first notification: %+v", recent[0])
	}
	if recent[1].Type != TypeError {
		t.Errorf("Expected error type, got %s", recent[1].Type)
	}

	// Other sessions see nothing
	if got := n.Recent(types.NewID()); len(got) != 0 {
		t.Errorf("Expected empty buffer for other session, got %d", len(got))
	}
}

// TestNotifyUnknownTypeFallsBackToInfo tests type normalization
func TestNotifyUnknownTypeFallsBackToInfo(t *testing.T) {
	n := NewNotifier(nil)
	session := types.NewID()

	n.Notify(context.Background(), session, "hello", "warning")

	recent := n.Recent(session)
	if len(recent) != 1 || recent[0].Type != TypeInfo {
		t.Errorf("Expected info fallback, got %+v", recent)
	}
}

// TestBufferBounded tests the per-session buffer cap
func TestBufferBounded(t *testing.T) {
	n := NewNotifier(nil)
	session := types.NewID()

	for i := 0; i < keepPerSession+10; i++ {
		n.Notify(context.Background(), session, fmt.Sprintf("message %d", i), "info")
	}

	recent := n.Recent(session)
	if len(recent) != keepPerSession {
		t.Fatalf("Expected buffer capped at %d, got %d", keepPerSession, len(recent))
	}
	if recent[len(recent)-1].Message != fmt.Sprintf("message %d", keepPerSession+9) {
		t.Errorf("Expected newest message kept, got %s", recent[len(recent)-1].Message)
	}

	n.Forget(session)
	if got := n.Recent(session); len(got) != 0 {
		t.Errorf("Expected empty buffer after forget, got %d", len(got))
	}
}

// TestWorkflowClosed tests the close event
func TestWorkflowClosed(t *testing.T) {
	bus := &captureBus{}
	n := NewNotifier(bus)
	session := types.NewID()

	n.WorkflowClosed(context.Background(), session, "submission")

	if len(bus.published) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(bus.published))
	}
	if bus.published[0].Type != "widget.workflow.closed" {
		t.Errorf("Expected widget.workflow.closed, got %s", bus.published[0].Type)
	}
}
