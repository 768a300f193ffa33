package infrastructure

import (
	"context"
	"sync"

	"github.com/carelink-health/platform/internal/shared/errors"
	"github.com/carelink-health/platform/internal/shared/types"
	"github.com/carelink-health/platform/internal/workflow/domain"
)

// MemoryRegistry holds live workflow sessions in memory. Sessions are
// ephemeral widget state; drafts, not sessions, survive restarts.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[types.ID]*domain.Workflow
}

// NewMemoryRegistry creates an empty session registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[types.ID]*domain.Workflow),
	}
}

// Put stores a session
func (r *MemoryRegistry) Put(w *domain.Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[w.ID] = w
}

// Get returns a session by id
func (r *MemoryRegistry) Get(id types.ID) (*domain.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.sessions[id]
	return w, ok
}

// Remove drops a session
func (r *MemoryRegistry) Remove(id types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Count returns the number of live sessions
func (r *MemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

var _ domain.SessionRegistry = (*MemoryRegistry)(nil)

// MemoryDraftRepository keeps drafts in memory. Used when the server runs
// without a database; drafts are lost on restart.
type MemoryDraftRepository struct {
	mu     sync.RWMutex
	drafts map[string]*domain.Draft
}

// NewMemoryDraftRepository creates an empty in-memory draft store
func NewMemoryDraftRepository() *MemoryDraftRepository {
	return &MemoryDraftRepository{
		drafts: make(map[string]*domain.Draft),
	}
}

func draftKey(key string, ownerID types.ID) string {
	return key + ":" + ownerID.String()
}

// Save upserts a draft keyed by (key, owner)
func (r *MemoryDraftRepository) Save(ctx context.Context, draft *domain.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *draft
	if stored.ID.IsZero() {
		stored.ID = types.NewID()
	}
	snapshot := make([]byte, len(draft.Snapshot))
	copy(snapshot, draft.Snapshot)
	stored.Snapshot = snapshot

	r.drafts[draftKey(draft.Key, draft.OwnerID)] = &stored
	draft.ID = stored.ID
	return nil
}

// Find returns the draft for (key, owner)
func (r *MemoryDraftRepository) Find(ctx context.Context, key string, ownerID types.ID) (*domain.Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	draft, ok := r.drafts[draftKey(key, ownerID)]
	if !ok {
		return nil, errors.NotFound("draft", key)
	}

	out := *draft
	snapshot := make([]byte, len(draft.Snapshot))
	copy(snapshot, draft.Snapshot)
	out.Snapshot = snapshot
	return &out, nil
}

// Delete removes the draft for (key, owner)
func (r *MemoryDraftRepository) Delete(ctx context.Context, key string, ownerID types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drafts, draftKey(key, ownerID))
	return nil
}

var _ domain.DraftRepository = (*MemoryDraftRepository)(nil)
