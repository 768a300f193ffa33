package notification

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/carelink-health/platform/internal/shared/events"
	"github.com/carelink-health/platform/internal/shared/metrics"
	"github.com/carelink-health/platform/internal/shared/types"
)

// Type is the notification level shown by the host page
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeInfo    Type = "info"
)

// Notification is a message for the embedding host page
type Notification struct {
	ID        types.ID  `json:"id"`
	SessionID types.ID  `json:"session_id"`
	Message   string    `json:"message"`
	Type      Type      `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// keepPerSession bounds the per-session replay buffer
const keepPerSession = 50

// Notifier publishes host-facing notifications on the event bus and
// keeps a short per-session buffer so widgets can poll for messages
// they missed.
type Notifier struct {
	bus events.EventBus

	mu     sync.RWMutex
	recent map[types.ID][]Notification
}

// NewNotifier creates a notifier. The bus may be nil; notifications
// are then buffer-only.
func NewNotifier(bus events.EventBus) *Notifier {
	return &Notifier{
		bus:    bus,
		recent: make(map[types.ID][]Notification),
	}
}

// Notify emits a widget.notification event for the session. Unknown
// types fall back to info.
func (n *Notifier) Notify(ctx context.Context, sessionID types.ID, message, notificationType string) {
	kind := Type(notificationType)
	if kind != TypeSuccess && kind != TypeError && kind != TypeInfo {
		kind = TypeInfo
	}

	notif := Notification{
		ID:        types.NewID(),
		SessionID: sessionID,
		Message:   message,
		Type:      kind,
		CreatedAt: time.Now(),
	}

	n.mu.Lock()
	buf := append(n.recent[sessionID], notif)
	if len(buf) > keepPerSession {
		buf = buf[len(buf)-keepPerSession:]
	}
	n.recent[sessionID] = buf
	n.mu.Unlock()

	metrics.RecordNotification(string(kind))

	if n.bus == nil {
		return
	}

	event := events.NewEvent("widget.notification", "notification", map[string]any{
		"session_id": sessionID,
		"message":    message,
		"type":       kind,
	})

	if err := n.bus.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish notification for session %s: %v", sessionID, err)
	}
}

// WorkflowClosed emits a widget.workflow.closed event so the host can
// tear down the widget
func (n *Notifier) WorkflowClosed(ctx context.Context, sessionID types.ID, source string) {
	if n.bus == nil {
		return
	}

	event := events.NewEvent("widget.workflow.closed", "notification", map[string]any{
		"session_id": sessionID,
		"source":     source,
	})

	if err := n.bus.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish close event for session %s: %v", sessionID, err)
	}
}

// TabSwitched emits a widget.tab.switched event
func (n *Notifier) TabSwitched(ctx context.Context, sessionID types.ID, tab string) {
	if n.bus == nil {
		return
	}

	event := events.NewEvent("widget.tab.switched", "notification", map[string]any{
		"session_id": sessionID,
		"tab":        tab,
	})

	if err := n.bus.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish tab event for session %s: %v", sessionID, err)
	}
}

// Recent returns the buffered notifications for a session, newest last
func (n *Notifier) Recent(sessionID types.ID) []Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()

	buf := n.recent[sessionID]
	out := make([]Notification, len(buf))
	copy(out, buf)
	return out
}

// Forget drops the buffer for a closed session
func (n *Notifier) Forget(sessionID types.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.recent, sessionID)
}
