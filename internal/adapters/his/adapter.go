package his

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/carelink-health/platform/internal/shared/config"
	"github.com/carelink-health/platform/internal/workflow/domain"
)

// Adapter reads visits and billed services from a legacy hospital
// information system over SQL Server. When enabled, visit lookups for
// the local facility are answered here instead of the remote visit
// catalog.
type Adapter struct {
	db     *sql.DB
	config config.HISConfig

	running bool
	mu      sync.RWMutex
}

// New creates a new HIS adapter
func New(cfg config.HISConfig) *Adapter {
	return &Adapter{config: cfg}
}

// Start opens the database connection
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		a.config.Host,
		a.config.Port,
		a.config.Database,
		a.config.User,
		a.config.Password,
	)

	if a.config.SSLMode != "disable" {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	a.db = db
	a.running = true

	return nil
}

// Stop closes the database connection
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.db != nil {
		a.db.Close()
	}

	a.running = false
	return nil
}

// Health checks database connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("adapter not running")
	}

	return a.db.PingContext(ctx)
}

// IsConnected returns connection status
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running && a.db != nil
}

// FetchVisits retrieves a patient's visits with their billed services
func (a *Adapter) FetchVisits(ctx context.Context, patientID string) ([]domain.Visit, error) {
	if !a.IsConnected() {
		return nil, fmt.Errorf("adapter not connected")
	}

	query := fmt.Sprintf(`
		SELECT
			VisitID,
			PatientID,
			ProviderID,
			ProviderName,
			FacilityID,
			FacilityName,
			VisitType,
			VisitStatus,
			VisitDate
		FROM %s
		WHERE PatientID = @patientID
		ORDER BY VisitDate DESC
	`, a.config.VisitTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("patientID", patientID))
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	var visits []domain.Visit
	for rows.Next() {
		var v domain.Visit
		var providerName, facilityID, facilityName sql.NullString
		var visitType, visitStatus sql.NullString

		err := rows.Scan(
			&v.ID,
			&v.PatientID,
			&v.ProviderID,
			&providerName,
			&facilityID,
			&facilityName,
			&visitType,
			&visitStatus,
			&v.Date,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}

		if providerName.Valid {
			v.ProviderName = providerName.String
		}
		if facilityID.Valid {
			v.FacilityID = facilityID.String
		}
		if facilityName.Valid {
			v.FacilityName = facilityName.String
		}
		if visitType.Valid {
			v.Type = MapVisitType(visitType.String)
		}
		if visitStatus.Valid {
			v.Status = MapVisitStatus(visitStatus.String)
		}

		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read visits: %w", err)
	}

	for i := range visits {
		services, err := a.fetchServices(ctx, visits[i].ID)
		if err != nil {
			return nil, err
		}
		visits[i].Services = services
	}

	return visits, nil
}

// fetchServices retrieves the billed services of a visit
func (a *Adapter) fetchServices(ctx context.Context, visitID string) ([]domain.BilledService, error) {
	query := fmt.Sprintf(`
		SELECT
			ServiceID,
			ServiceCode,
			ServiceName,
			Description,
			ProviderID,
			ServiceDate,
			Charges,
			Status
		FROM %s
		WHERE VisitID = @visitID
		ORDER BY ServiceDate
	`, a.config.ServiceTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("visitID", visitID))
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var services []domain.BilledService
	for rows.Next() {
		var s domain.BilledService
		var description, providerID, date, status sql.NullString
		var charges sql.NullFloat64

		err := rows.Scan(
			&s.ID,
			&s.Code,
			&s.Name,
			&description,
			&providerID,
			&date,
			&charges,
			&status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}

		if description.Valid {
			s.Description = description.String
		}
		if providerID.Valid {
			s.ProviderID = providerID.String
		}
		if date.Valid {
			s.Date = date.String
		}
		if charges.Valid {
			s.Charges = charges.Float64
		}
		if status.Valid {
			s.Status = status.String
		}

		services = append(services, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read services: %w", err)
	}

	return services, nil
}

// MapVisitType maps a HIS visit type label to the directory code
func MapVisitType(label string) int {
	switch label {
	case "REGULAR", "OUTPATIENT", "1":
		return domain.VisitTypeRegular
	case "FOLLOWUP", "FOLLOW_UP", "2":
		return domain.VisitTypeFollowUp
	case "EMERGENCY", "ER", "3":
		return domain.VisitTypeEmergency
	case "CONSULT", "CONSULTATION", "4":
		return domain.VisitTypeConsultation
	default:
		return 0
	}
}

// MapVisitStatus maps a HIS visit status label to the directory code
func MapVisitStatus(label string) int {
	switch label {
	case "SCHEDULED", "BOOKED", "1":
		return domain.VisitStatusScheduled
	case "IN_PROGRESS", "ADMITTED", "2":
		return domain.VisitStatusInProgress
	case "COMPLETED", "DISCHARGED", "3":
		return domain.VisitStatusCompleted
	case "CANCELLED", "NO_SHOW", "4":
		return domain.VisitStatusCancelled
	default:
		return 0
	}
}
