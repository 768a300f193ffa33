package submission

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink-health/platform/internal/shared/errors"
	"github.com/carelink-health/platform/internal/shared/metrics"
	"github.com/carelink-health/platform/internal/shared/types"
)

// Record is one recorded gateway call
type Record struct {
	ID           types.ID  `json:"id"`
	DraftID      *types.ID `json:"draft_id,omitempty"`
	Operation    string    `json:"operation"`
	Reference    string    `json:"reference,omitempty"`
	Outcome      string    `json:"outcome"`
	ErrorMessage string    `json:"error_message,omitempty"`
	SubmittedBy  types.ID  `json:"submitted_by"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Recorder persists gateway call records
type Recorder interface {
	Record(ctx context.Context, r *Record) error
}

// RecordStore keeps an audit trail of every eligibility and prior-auth
// call in Postgres
type RecordStore struct {
	pool *pgxpool.Pool
}

// NewRecordStore creates a submission record store
func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

// Record inserts a gateway call record
func (s *RecordStore) Record(ctx context.Context, r *Record) error {
	if r.ID.IsZero() {
		r.ID = types.NewID()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now()
	}

	query := `
		INSERT INTO submission_records (
			id, draft_id, operation, reference, outcome, error_message,
			submitted_by, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.DraftID, r.Operation, r.Reference, r.Outcome, r.ErrorMessage,
		r.SubmittedBy, r.SubmittedAt,
	)
	metrics.RecordDBQuery("submission_record", time.Since(start))

	if err != nil {
		return errors.Wrap(err, "failed to record submission")
	}

	return nil
}

// ListByUser returns a user's recent gateway calls, newest first
func (s *RecordStore) ListByUser(ctx context.Context, userID types.ID, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT id, draft_id, operation, reference, outcome, error_message,
			submitted_by, submitted_at
		FROM submission_records
		WHERE submitted_by = $1
		ORDER BY submitted_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list submission records")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID, &r.DraftID, &r.Operation, &r.Reference, &r.Outcome, &r.ErrorMessage,
			&r.SubmittedBy, &r.SubmittedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan submission record")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read submission records")
	}

	return records, nil
}

var _ Recorder = (*RecordStore)(nil)
