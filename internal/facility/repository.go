package facility

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink-health/platform/internal/shared/errors"
	"github.com/carelink-health/platform/internal/shared/metrics"
	"github.com/carelink-health/platform/internal/shared/types"
)

// Repository provides database operations for facilities and providers
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new facility repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// --- Facility Operations ---

// CreateFacility registers a new facility
func (r *Repository) CreateFacility(ctx context.Context, f *Facility) error {
	query := `
		INSERT INTO facilities (
			id, code, name, kind,
			street, city, postal_code, country,
			phone, email, payer_code, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	start := time.Now()
	_, err := r.pool.Exec(ctx, query,
		f.ID, f.Code, f.Name, f.Kind,
		f.Address.Street, f.Address.City, f.Address.PostalCode, f.Address.Country,
		f.Contact.Phone, f.Contact.Email, f.PayerCode, f.Active,
	)
	metrics.RecordDBQuery("facility_create", time.Since(start))

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("facility with this code already exists")
		}
		return errors.Wrap(err, "failed to create facility")
	}

	return nil
}

// GetFacility retrieves a facility by ID
func (r *Repository) GetFacility(ctx context.Context, id types.ID) (*Facility, error) {
	query := `
		SELECT id, code, name, kind,
			street, city, postal_code, country,
			phone, email, payer_code, active,
			created_at, updated_at
		FROM facilities
		WHERE id = $1`

	f := &Facility{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.Code, &f.Name, &f.Kind,
		&f.Address.Street, &f.Address.City, &f.Address.PostalCode, &f.Address.Country,
		&f.Contact.Phone, &f.Contact.Email, &f.PayerCode, &f.Active,
		&f.CreatedAt, &f.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("facility", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get facility")
	}

	return f, nil
}

// GetFacilityByCode retrieves a facility by its registration code
func (r *Repository) GetFacilityByCode(ctx context.Context, code string) (*Facility, error) {
	query := `
		SELECT id, code, name, kind,
			street, city, postal_code, country,
			phone, email, payer_code, active,
			created_at, updated_at
		FROM facilities
		WHERE code = $1`

	f := &Facility{}
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&f.ID, &f.Code, &f.Name, &f.Kind,
		&f.Address.Street, &f.Address.City, &f.Address.PostalCode, &f.Address.Country,
		&f.Contact.Phone, &f.Contact.Email, &f.PayerCode, &f.Active,
		&f.CreatedAt, &f.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("facility", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get facility by code")
	}

	return f, nil
}

// UpdateFacility updates a facility
func (r *Repository) UpdateFacility(ctx context.Context, f *Facility) error {
	query := `
		UPDATE facilities SET
			name = $2, street = $3, city = $4, postal_code = $5,
			phone = $6, email = $7, payer_code = $8, active = $9,
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		f.ID, f.Name, f.Address.Street, f.Address.City, f.Address.PostalCode,
		f.Contact.Phone, f.Contact.Email, f.PayerCode, f.Active,
	)

	if err != nil {
		return errors.Wrap(err, "failed to update facility")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("facility", f.ID.String())
	}

	return nil
}

// DeleteFacility deletes a facility and its providers
func (r *Repository) DeleteFacility(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM facilities WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete facility")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("facility", id.String())
	}

	return nil
}

// ListFacilities lists facilities with optional filters
func (r *Repository) ListFacilities(ctx context.Context, filter ListFacilitiesFilter) ([]Facility, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argNum))
		args = append(args, *filter.Kind)
		argNum++
	}

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", argNum))
		args = append(args, *filter.Active)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR code ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM facilities %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count facilities")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT id, code, name, kind,
			street, city, postal_code, country,
			phone, email, payer_code, active,
			created_at, updated_at
		FROM facilities
		%s
		ORDER BY name
		LIMIT $%d OFFSET $%d`, whereClause, argNum, argNum+1)

	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list facilities")
	}
	defer rows.Close()

	var facilities []Facility
	for rows.Next() {
		var f Facility
		err := rows.Scan(
			&f.ID, &f.Code, &f.Name, &f.Kind,
			&f.Address.Street, &f.Address.City, &f.Address.PostalCode, &f.Address.Country,
			&f.Contact.Phone, &f.Contact.Email, &f.PayerCode, &f.Active,
			&f.CreatedAt, &f.UpdatedAt,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan facility")
		}
		facilities = append(facilities, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read facilities")
	}

	return facilities, total, nil
}

// --- Provider Operations ---

// CreateProvider registers a provider under a facility
func (r *Repository) CreateProvider(ctx context.Context, p *Provider) error {
	query := `
		INSERT INTO facility_providers (
			id, facility_id, license_number, name, specialty, role, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.FacilityID, p.LicenseNumber, p.Name, p.Specialty, p.Role, p.Active,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("provider with this license number already exists in facility")
		}
		return errors.Wrap(err, "failed to create provider")
	}

	return nil
}

// GetProvider retrieves a provider by ID
func (r *Repository) GetProvider(ctx context.Context, id types.ID) (*Provider, error) {
	query := `
		SELECT id, facility_id, license_number, name, specialty, role, active, created_at
		FROM facility_providers
		WHERE id = $1`

	p := &Provider{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.FacilityID, &p.LicenseNumber, &p.Name, &p.Specialty, &p.Role, &p.Active, &p.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("provider", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get provider")
	}

	return p, nil
}

// ListProviders lists the providers of a facility
func (r *Repository) ListProviders(ctx context.Context, facilityID types.ID) ([]Provider, error) {
	query := `
		SELECT id, facility_id, license_number, name, specialty, role, active, created_at
		FROM facility_providers
		WHERE facility_id = $1
		ORDER BY name`

	rows, err := r.pool.Query(ctx, query, facilityID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list providers")
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.ID, &p.FacilityID, &p.LicenseNumber, &p.Name, &p.Specialty, &p.Role, &p.Active, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan provider")
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read providers")
	}

	return providers, nil
}

// DeleteProvider removes a provider from a facility
func (r *Repository) DeleteProvider(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM facility_providers WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete provider")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("provider", id.String())
	}

	return nil
}
