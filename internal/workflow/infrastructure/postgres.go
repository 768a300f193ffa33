package infrastructure

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink-health/platform/internal/shared/errors"
	"github.com/carelink-health/platform/internal/shared/metrics"
	"github.com/carelink-health/platform/internal/shared/types"
	"github.com/carelink-health/platform/internal/workflow/domain"
)

// PostgresDraftRepository implements domain.DraftRepository using
// PostgreSQL. One row exists per (draft key, owner); saving again
// overwrites the previous snapshot.
type PostgresDraftRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresDraftRepository creates a new PostgreSQL draft repository
func NewPostgresDraftRepository(pool *pgxpool.Pool) *PostgresDraftRepository {
	return &PostgresDraftRepository{pool: pool}
}

// Save upserts the draft for its (key, owner) pair. The snapshot is
// stored as submitted; no schema validation happens here.
func (r *PostgresDraftRepository) Save(ctx context.Context, d *domain.Draft) error {
	if d.ID.IsZero() {
		// Deterministic row id keeps the upsert stable across sessions
		d.ID = types.NewDeterministicID("workflow-draft", d.Key+":"+d.OwnerID.String())
	}

	query := `
		INSERT INTO workflow_drafts (
			id, draft_key, user_id, facility_id, snapshot, progress, active_tab, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW()
		)
		ON CONFLICT (draft_key, user_id) DO UPDATE SET
			facility_id = EXCLUDED.facility_id,
			snapshot = EXCLUDED.snapshot,
			progress = EXCLUDED.progress,
			active_tab = EXCLUDED.active_tab,
			updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.Key, d.OwnerID, d.FacilityID, d.Snapshot, d.Progress, string(d.ActiveTab),
	)
	if err != nil {
		return errors.Wrap(err, "failed to save draft")
	}

	metrics.RecordDraftSaved()

	return nil
}

// Find loads the draft for a (key, owner) pair
func (r *PostgresDraftRepository) Find(ctx context.Context, key string, ownerID types.ID) (*domain.Draft, error) {
	query := `
		SELECT id, draft_key, user_id, facility_id, snapshot, progress, active_tab
		FROM workflow_drafts
		WHERE draft_key = $1 AND user_id = $2`

	d := &domain.Draft{}
	var activeTab string

	err := r.pool.QueryRow(ctx, query, key, ownerID).Scan(
		&d.ID, &d.Key, &d.OwnerID, &d.FacilityID, &d.Snapshot, &d.Progress, &activeTab,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("draft", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find draft")
	}

	d.ActiveTab = domain.Tab(activeTab)

	return d, nil
}

// Delete removes the draft for a (key, owner) pair
func (r *PostgresDraftRepository) Delete(ctx context.Context, key string, ownerID types.ID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM workflow_drafts WHERE draft_key = $1 AND user_id = $2`, key, ownerID)
	if err != nil {
		return errors.Wrap(err, "failed to delete draft")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("draft", key)
	}
	return nil
}
