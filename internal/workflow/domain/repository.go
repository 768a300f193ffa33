package domain

import (
	"context"
	"fmt"

	"github.com/carelink-health/platform/internal/shared/types"
)

// StorageError reports a failed draft write or read. The form state
// is untouched; the user may retry.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("draft storage failed: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Draft is a persisted form snapshot. The snapshot is stored as raw
// JSON and returned untouched on load.
type Draft struct {
	ID         types.ID `json:"id"`
	Key        string   `json:"key"`
	OwnerID    types.ID `json:"owner_id"`
	FacilityID types.ID `json:"facility_id,omitempty"`
	Snapshot   []byte   `json:"snapshot"`
	Progress   int      `json:"progress"`
	ActiveTab  Tab      `json:"active_tab"`
}

// DraftRepository persists one draft per (key, owner) pair
type DraftRepository interface {
	Save(ctx context.Context, d *Draft) error
	Find(ctx context.Context, key string, ownerID types.ID) (*Draft, error)
	Delete(ctx context.Context, key string, ownerID types.ID) error
}

// SessionRegistry holds live workflow sessions
type SessionRegistry interface {
	Put(w *Workflow)
	Get(id types.ID) (*Workflow, bool)
	Remove(id types.ID)
	Count() int
}
