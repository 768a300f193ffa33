package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	EventStore EventStoreConfig
	Auth       AuthConfig
	Directory  DirectoryConfig
	Submission SubmissionConfig
	HIS        HISConfig
	Draft      DraftConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// AllowedOrigins are the host-page origins permitted to embed the widgets
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// EventStoreConfig holds configuration for EventStoreDB, which carries the
// events emitted back to host pages (notifications, workflow close, audit).
type EventStoreConfig struct {
	// Host is the EventStoreDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

type AuthConfig struct {
	// JWTSecret signs the embed tokens issued to host pages
	JWTSecret string
	// Issuer expected in embed token claims
	Issuer string
}

// DirectoryConfig holds the endpoints of the remote search catalogs.
// All catalogs speak the same POST-based paging convention.
type DirectoryConfig struct {
	// PatientURL etc. are the paged-search endpoints per catalog
	PatientURL      string
	PractitionerURL string
	ICD10URL        string
	ProcedureURL    string
	VisitURL        string

	// MinQueryLength below which a search is never dispatched
	MinQueryLength int
	// DefaultPageSize used when the caller does not specify one
	DefaultPageSize int
	// Timeout for a single catalog request
	Timeout time.Duration
}

// SubmissionConfig holds the endpoints of the eligibility and
// prior-authorization services.
type SubmissionConfig struct {
	EligibilityURL string
	PriorAuthURL   string
	Timeout        time.Duration
}

// HISConfig holds configuration for the legacy hospital information system
// adapter (SQL Server). When enabled, visit and service lookups for the
// configured facility are answered from the HIS database directly instead of
// the remote visit catalog.
type HISConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// VisitTable and ServiceTable name the HIS tables queried by the adapter
	VisitTable   string
	ServiceTable string
}

// DraftConfig controls draft persistence.
type DraftConfig struct {
	// Key is the fixed draft key a session owner's draft is stored under
	Key string
}

type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			Env:            getEnv("ENV", "development"),
			AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "platform"),
			Password: getEnv("DB_PASSWORD", "platform"),
			Database: getEnv("DB_NAME", "platform"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		EventStore: EventStoreConfig{
			Host:     getEnv("EVENTSTORE_HOST", "localhost"),
			Port:     getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
			Username: getEnv("EVENTSTORE_USERNAME", ""),
			Password: getEnv("EVENTSTORE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Issuer:    getEnv("JWT_ISSUER", "carelink-widgets"),
		},
		Directory: DirectoryConfig{
			PatientURL:      getEnv("DIRECTORY_PATIENT_URL", "http://localhost:5200/api/patient/paged"),
			PractitionerURL: getEnv("DIRECTORY_PRACTITIONER_URL", "http://localhost:5200/api/practitioner/paged"),
			ICD10URL:        getEnv("DIRECTORY_ICD10_URL", "http://localhost:5200/api/icd10/paged"),
			ProcedureURL:    getEnv("DIRECTORY_PROCEDURE_URL", "http://localhost:5200/api/servicedirectory/paged"),
			VisitURL:        getEnv("DIRECTORY_VISIT_URL", "http://localhost:5200/api/visit/paged"),
			MinQueryLength:  getEnvInt("DIRECTORY_MIN_QUERY_LENGTH", 3),
			DefaultPageSize: getEnvInt("DIRECTORY_PAGE_SIZE", 10),
			Timeout:         getEnvDuration("DIRECTORY_TIMEOUT", 15*time.Second),
		},
		Submission: SubmissionConfig{
			EligibilityURL: getEnv("SUBMISSION_ELIGIBILITY_URL", "http://localhost:5300/api/eligibility/verify"),
			PriorAuthURL:   getEnv("SUBMISSION_PRIORAUTH_URL", "http://localhost:5300/api/priorauth/submit"),
			Timeout:        getEnvDuration("SUBMISSION_TIMEOUT", 30*time.Second),
		},
		HIS: HISConfig{
			Enabled:      getEnvBool("HIS_ENABLED", false),
			Host:         getEnv("HIS_HOST", "localhost"),
			Port:         getEnvInt("HIS_PORT", 1433),
			Database:     getEnv("HIS_DATABASE", "his"),
			User:         getEnv("HIS_USER", "sa"),
			Password:     getEnv("HIS_PASSWORD", ""),
			SSLMode:      getEnv("HIS_SSLMODE", "disable"),
			VisitTable:   getEnv("HIS_VISIT_TABLE", "dbo.PatientVisits"),
			ServiceTable: getEnv("HIS_SERVICE_TABLE", "dbo.VisitServices"),
		},
		Draft: DraftConfig{
			Key: getEnv("DRAFT_KEY", "priorAuthDraft"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 40),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
