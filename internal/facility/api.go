package facility

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carelink-health/platform/internal/shared/auth"
	"github.com/carelink-health/platform/internal/shared/errors"
	"github.com/carelink-health/platform/internal/shared/events"
	"github.com/carelink-health/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the facility registry
type Handler struct {
	repo *Repository
	bus  events.EventBus
}

// NewHandler creates a new facility handler
func NewHandler(repo *Repository, bus events.EventBus) *Handler {
	return &Handler{repo: repo, bus: bus}
}

// Routes registers the facility routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListFacilities)
	r.Post("/", h.CreateFacility)

	r.Route("/{facilityID}", func(r chi.Router) {
		r.Get("/", h.GetFacility)
		r.Put("/", h.UpdateFacility)
		r.Delete("/", h.DeleteFacility)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", h.ListProviders)
			r.Post("/", h.CreateProvider)
			r.Delete("/{providerID}", h.DeleteProvider)
		})
	})

	return r
}

// --- Facility Handlers ---

// ListFacilities lists registered facilities
func (h *Handler) ListFacilities(w http.ResponseWriter, r *http.Request) {
	filter := ListFacilitiesFilter{
		Search: r.URL.Query().Get("search"),
	}

	if k := r.URL.Query().Get("kind"); k != "" {
		kind := Kind(k)
		filter.Kind = &kind
	}

	if a := r.URL.Query().Get("active"); a != "" {
		active := a == "true"
		filter.Active = &active
	}

	facilities, total, err := h.repo.ListFacilities(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  facilities,
		"total": total,
	})
}

// GetFacility gets a facility by ID
func (h *Handler) GetFacility(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "facilityID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid facility ID"))
		return
	}

	f, err := h.repo.GetFacility(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, f)
}

// CreateFacility registers a new facility
func (h *Handler) CreateFacility(w http.ResponseWriter, r *http.Request) {
	var req CreateFacilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Code == "" || req.Name == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"code": "code is required",
			"name": "name is required",
		}))
		return
	}

	if req.Kind == "" {
		req.Kind = KindHospital
	}
	if req.Country == "" {
		req.Country = "SA"
	}

	f := &Facility{
		ID:   types.NewID(),
		Code: req.Code,
		Name: req.Name,
		Kind: req.Kind,
		Address: types.Address{
			Street:     req.Street,
			City:       req.City,
			PostalCode: req.PostalCode,
			Country:    req.Country,
		},
		Contact: types.ContactInfo{
			Phone: req.Phone,
			Email: req.Email,
		},
		PayerCode: req.PayerCode,
		Active:    true,
	}

	if err := h.repo.CreateFacility(r.Context(), f); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, "facility.registered", map[string]any{
		"facility_id":   f.ID,
		"facility_code": f.Code,
	})

	writeJSON(w, http.StatusCreated, f)
}

// UpdateFacility updates a facility
func (h *Handler) UpdateFacility(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "facilityID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid facility ID"))
		return
	}

	f, err := h.repo.GetFacility(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateFacilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Name != nil {
		f.Name = *req.Name
	}
	if req.Street != nil {
		f.Address.Street = *req.Street
	}
	if req.City != nil {
		f.Address.City = *req.City
	}
	if req.Phone != nil {
		f.Contact.Phone = *req.Phone
	}
	if req.Email != nil {
		f.Contact.Email = *req.Email
	}
	if req.PayerCode != nil {
		f.PayerCode = *req.PayerCode
	}
	if req.Active != nil {
		f.Active = *req.Active
	}

	if err := h.repo.UpdateFacility(r.Context(), f); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, f)
}

// DeleteFacility deletes a facility
func (h *Handler) DeleteFacility(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "facilityID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid facility ID"))
		return
	}

	if err := h.repo.DeleteFacility(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Provider Handlers ---

// ListProviders lists providers of a facility
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	facilityID, err := types.ParseID(chi.URLParam(r, "facilityID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid facility ID"))
		return
	}

	providers, err := h.repo.ListProviders(r.Context(), facilityID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  providers,
		"total": len(providers),
	})
}

// CreateProvider registers a provider under a facility
func (h *Handler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	facilityID, err := types.ParseID(chi.URLParam(r, "facilityID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid facility ID"))
		return
	}

	var req CreateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.LicenseNumber == "" || req.Name == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"license_number": "license number is required",
			"name":           "name is required",
		}))
		return
	}

	if req.Role == "" {
		req.Role = "Provider"
	}

	p := &Provider{
		ID:            types.NewID(),
		FacilityID:    facilityID,
		LicenseNumber: req.LicenseNumber,
		Name:          req.Name,
		Specialty:     req.Specialty,
		Role:          req.Role,
		Active:        true,
	}

	if err := h.repo.CreateProvider(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// DeleteProvider removes a provider
func (h *Handler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "providerID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid provider ID"))
		return
	}

	if err := h.repo.DeleteProvider(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (h *Handler) publish(r *http.Request, eventType string, data map[string]any) {
	if h.bus == nil {
		return
	}

	event := events.NewEvent(eventType, "facility", data)
	if user := auth.GetUser(r.Context()); user != nil {
		event = event.WithActor(user.ID, "staff", user.FacilityID)
	}

	h.bus.Publish(r.Context(), event)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
