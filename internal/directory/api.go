package directory

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carelink-health/platform/internal/shared/errors"
	"github.com/carelink-health/platform/internal/shared/types"
)

// Gate marks a workflow session busy while its search is in flight.
// A session already in a busy phase rejects the search.
type Gate interface {
	BeginSearch(session types.ID) error
	EndSearch(session types.ID)
}

// Handler provides the directory search proxy
type Handler struct {
	client    *Client
	sequencer *Sequencer
	gate      Gate
}

// NewHandler creates a new directory handler. The gate may be nil for
// searches outside a workflow session.
func NewHandler(client *Client, sequencer *Sequencer, gate Gate) *Handler {
	return &Handler{client: client, sequencer: sequencer, gate: gate}
}

// Routes registers the directory routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/search", h.Search)

	return r
}

// SearchProxyRequest is the body accepted by the search proxy
type SearchProxyRequest struct {
	SessionID types.ID          `json:"session_id,omitempty"`
	Catalog   Catalog           `json:"catalog"`
	Query     string            `json:"query"`
	Page      int               `json:"page"`
	PageSize  int               `json:"pageSize"`
	Filters   map[string]string `json:"filters,omitempty"`
}

// SearchProxyResponse wraps a search result with its ordering state.
// A stale response carries no items; the host drops it.
type SearchProxyResponse struct {
	*Result
	Sequence uint64 `json:"sequence"`
	Stale    bool   `json:"stale"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if !req.Catalog.IsValid() {
		writeError(w, errors.BadRequest("unknown catalog"))
		return
	}

	if h.gate != nil && !req.SessionID.IsZero() {
		if err := h.gate.BeginSearch(req.SessionID); err != nil {
			writeError(w, errors.Conflict(err.Error()))
			return
		}
		defer h.gate.EndSearch(req.SessionID)
	}

	seq := h.sequencer.Next(req.SessionID.String(), req.Catalog)

	result, err := h.client.Search(r.Context(), SearchRequest{
		Catalog:  req.Catalog,
		Query:    req.Query,
		Page:     req.Page,
		PageSize: req.PageSize,
		Filters:  req.Filters,
	})
	if err != nil {
		// A search failure is non-fatal; map to a gateway error so the
		// widget can show an empty list with a diagnostic
		if searchErr, ok := err.(*SearchError); ok {
			writeError(w, errors.Unavailable(string(searchErr.Catalog)+" directory", searchErr.Err))
			return
		}
		writeError(w, errors.Internal(err))
		return
	}

	// Latest request wins: a slower response for an older query gets
	// dropped instead of overwriting fresher results
	if !h.sequencer.Apply(req.SessionID.String(), req.Catalog, seq) {
		writeJSON(w, http.StatusOK, SearchProxyResponse{
			Result:   &Result{Catalog: req.Catalog, Dispatched: result.Dispatched, Items: nil},
			Sequence: seq,
			Stale:    true,
		})
		return
	}

	writeJSON(w, http.StatusOK, SearchProxyResponse{
		Result:   result,
		Sequence: seq,
		Stale:    false,
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
