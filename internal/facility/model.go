package facility

import (
	"time"

	"github.com/carelink-health/platform/internal/shared/types"
)

// Kind classifies a healthcare facility
type Kind string

const (
	KindHospital Kind = "hospital"
	KindClinic   Kind = "clinic"
	KindPharmacy Kind = "pharmacy"
	KindLab      Kind = "lab"
)

// Facility is a registered healthcare facility that can mount the
// widgets and submit prior-authorization requests
type Facility struct {
	ID   types.ID `json:"id"`
	Code string   `json:"code"`
	Name string   `json:"name"`
	Kind Kind     `json:"kind"`

	Address types.Address     `json:"address"`
	Contact types.ContactInfo `json:"contact"`

	// PayerCode routes the facility's submissions to its payer gateway
	PayerCode string `json:"payer_code,omitempty"`
	Active    bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is a licensed practitioner registered under a facility
type Provider struct {
	ID            types.ID `json:"id"`
	FacilityID    types.ID `json:"facility_id"`
	LicenseNumber string   `json:"license_number"`
	Name          string   `json:"name"`
	Specialty     string   `json:"specialty,omitempty"`
	Role          string   `json:"role"`
	Active        bool     `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

// CreateFacilityRequest is the request to register a facility
type CreateFacilityRequest struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	PayerCode  string `json:"payer_code,omitempty"`
}

// UpdateFacilityRequest is the request to update a facility
type UpdateFacilityRequest struct {
	Name      *string `json:"name,omitempty"`
	Street    *string `json:"street,omitempty"`
	City      *string `json:"city,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Email     *string `json:"email,omitempty"`
	PayerCode *string `json:"payer_code,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

// CreateProviderRequest is the request to register a provider
type CreateProviderRequest struct {
	LicenseNumber string `json:"license_number"`
	Name          string `json:"name"`
	Specialty     string `json:"specialty,omitempty"`
	Role          string `json:"role,omitempty"`
}

// ListFacilitiesFilter defines filters for listing facilities
type ListFacilitiesFilter struct {
	Kind   *Kind  `json:"kind,omitempty"`
	Active *bool  `json:"active,omitempty"`
	Search string `json:"search,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}
