package attachment

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink-health/platform/internal/shared/errors"
	"github.com/carelink-health/platform/internal/shared/metrics"
	"github.com/carelink-health/platform/internal/shared/types"
)

// Store persists attachment content in Postgres
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new attachment store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Save stores an attachment with its content
func (s *Store) Save(ctx context.Context, a *StoredAttachment) error {
	query := `
		INSERT INTO attachments (
			id, workflow_id, file_name, content_type,
			size_bytes, sha256, content, uploaded_by, uploaded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.WorkflowID, a.FileName, a.ContentType,
		a.SizeBytes, a.SHA256, a.Content, a.UploadedBy, a.UploadedAt,
	)
	metrics.RecordDBQuery("attachment_save", time.Since(start))

	if err != nil {
		return errors.Wrap(err, "failed to save attachment")
	}

	return nil
}

// Get retrieves attachment metadata without content
func (s *Store) Get(ctx context.Context, id types.ID) (*StoredAttachment, error) {
	query := `
		SELECT id, workflow_id, file_name, content_type,
			size_bytes, sha256, uploaded_by, uploaded_at
		FROM attachments
		WHERE id = $1`

	a := &StoredAttachment{}
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.WorkflowID, &a.FileName, &a.ContentType,
		&a.SizeBytes, &a.SHA256, &a.UploadedBy, &a.UploadedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("attachment", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get attachment")
	}

	return a, nil
}

// Content retrieves the stored bytes of an attachment
func (s *Store) Content(ctx context.Context, id types.ID) (*StoredAttachment, error) {
	query := `
		SELECT id, workflow_id, file_name, content_type,
			size_bytes, sha256, content, uploaded_by, uploaded_at
		FROM attachments
		WHERE id = $1`

	a := &StoredAttachment{}
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.WorkflowID, &a.FileName, &a.ContentType,
		&a.SizeBytes, &a.SHA256, &a.Content, &a.UploadedBy, &a.UploadedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("attachment", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get attachment content")
	}

	return a, nil
}

// ListByWorkflow lists attachments held for a workflow session
func (s *Store) ListByWorkflow(ctx context.Context, workflowID types.ID) ([]StoredAttachment, error) {
	query := `
		SELECT id, workflow_id, file_name, content_type,
			size_bytes, sha256, uploaded_by, uploaded_at
		FROM attachments
		WHERE workflow_id = $1
		ORDER BY uploaded_at`

	rows, err := s.pool.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list attachments")
	}
	defer rows.Close()

	var attachments []StoredAttachment
	for rows.Next() {
		var a StoredAttachment
		err := rows.Scan(
			&a.ID, &a.WorkflowID, &a.FileName, &a.ContentType,
			&a.SizeBytes, &a.SHA256, &a.UploadedBy, &a.UploadedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan attachment")
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read attachments")
	}

	return attachments, nil
}

// Delete removes an attachment
func (s *Store) Delete(ctx context.Context, id types.ID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete attachment")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("attachment", id.String())
	}

	return nil
}

// DeleteByWorkflow removes all attachments of a closed session
func (s *Store) DeleteByWorkflow(ctx context.Context, workflowID types.ID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM attachments WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return errors.Wrap(err, "failed to delete workflow attachments")
	}

	return nil
}
