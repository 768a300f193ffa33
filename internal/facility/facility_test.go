package facility

import (
	"testing"
	"time"

	"github.com/carelink-health/platform/internal/shared/types"
)

func TestFacilityKinds(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindHospital, "hospital"},
		{KindClinic, "clinic"},
		{KindPharmacy, "pharmacy"},
		{KindLab, "lab"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if string(tt.kind) != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, tt.kind)
			}
		})
	}
}

func TestFacilityCreation(t *testing.T) {
	f := Facility{
		ID:      types.NewID(),
		Code:    "KFSH-RYD",
		Name:    "King Faisal Specialist Hospital",
		Kind:    KindHospital,
		Address: types.NewAddress("Zahrawi Street", "Riyadh", "11211"),
		Contact: types.ContactInfo{
			Phone: "+966 11 464 7272",
			Email: "info@kfshrc.edu.sa",
		},
		PayerCode: "NPHIES-001",
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if f.ID.IsZero() {
		t.Error("Facility ID should not be zero")
	}

	if f.Code != "KFSH-RYD" {
		t.Errorf("Expected code 'KFSH-RYD', got '%s'", f.Code)
	}

	if f.Kind != KindHospital {
		t.Errorf("Expected kind hospital, got '%s'", f.Kind)
	}

	if f.Address.Country != "SA" {
		t.Errorf("Expected country 'SA', got '%s'", f.Address.Country)
	}

	if f.PayerCode != "NPHIES-001" {
		t.Errorf("Expected payer code 'NPHIES-001', got '%s'", f.PayerCode)
	}
}

func TestProviderCreation(t *testing.T) {
	facilityID := types.NewID()

	p := Provider{
		ID:            types.NewID(),
		FacilityID:    facilityID,
		LicenseNumber: "SCFHS-123456",
		Name:          "Dr. Ahmed Al-Harbi",
		Specialty:     "Internal Medicine",
		Role:          "Provider",
		Active:        true,
		CreatedAt:     time.Now(),
	}

	if p.ID.IsZero() {
		t.Error("Provider ID should not be zero")
	}

	if p.FacilityID != facilityID {
		t.Error("Facility ID mismatch")
	}

	if p.LicenseNumber != "SCFHS-123456" {
		t.Errorf("Expected license 'SCFHS-123456', got '%s'", p.LicenseNumber)
	}

	if p.Specialty != "Internal Medicine" {
		t.Errorf("Expected specialty 'Internal Medicine', got '%s'", p.Specialty)
	}
}

func TestListFacilitiesFilter(t *testing.T) {
	kind := KindClinic
	active := true

	filter := ListFacilitiesFilter{
		Kind:   &kind,
		Active: &active,
		Search: "Riyadh",
		Limit:  10,
		Offset: 0,
	}

	if filter.Kind == nil || *filter.Kind != KindClinic {
		t.Error("Kind filter should be set correctly")
	}

	if filter.Active == nil || !*filter.Active {
		t.Error("Active filter should be set correctly")
	}

	if filter.Search != "Riyadh" {
		t.Errorf("Expected search 'Riyadh', got '%s'", filter.Search)
	}
}

func TestUpdateFacilityRequest(t *testing.T) {
	newName := "Updated Facility Name"
	inactive := false

	req := UpdateFacilityRequest{
		Name:   &newName,
		Active: &inactive,
	}

	if req.Name == nil || *req.Name != newName {
		t.Error("Name should be set correctly")
	}

	if req.Active == nil || *req.Active {
		t.Error("Active should be set correctly")
	}
}
