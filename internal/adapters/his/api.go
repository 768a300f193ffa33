package his

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carelink-health/platform/internal/shared/errors"
)

// Handler exposes HIS visit lookups for the visit picker
type Handler struct {
	adapter *Adapter
}

// NewHandler creates a new HIS handler
func NewHandler(adapter *Adapter) *Handler {
	return &Handler{adapter: adapter}
}

// Routes registers the HIS routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/visits", h.ListVisits)

	return r
}

// ListVisits returns a patient's visits from the local system
func (h *Handler) ListVisits(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		writeError(w, errors.BadRequest("patient_id is required"))
		return
	}

	visits, err := h.adapter.FetchVisits(r.Context(), patientID)
	if err != nil {
		writeError(w, errors.Unavailable("hospital information system", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  visits,
		"total": len(visits),
	})
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
