package attachment

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carelink-health/platform/internal/shared/auth"
	"github.com/carelink-health/platform/internal/shared/errors"
	"github.com/carelink-health/platform/internal/shared/types"
)

// Handler provides HTTP handlers for supporting documents
type Handler struct {
	store *Store
}

// NewHandler creates a new attachment handler
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Routes registers the attachment routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListAttachments)
	r.Post("/", h.UploadAttachment)

	r.Route("/{attachmentID}", func(r chi.Router) {
		r.Get("/", h.GetAttachment)
		r.Get("/content", h.DownloadAttachment)
		r.Delete("/", h.DeleteAttachment)
	})

	return r
}

// ListAttachments lists attachments held for a workflow session
func (h *Handler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	workflowID, err := types.ParseID(r.URL.Query().Get("workflow_id"))
	if err != nil {
		writeError(w, errors.BadRequest("workflow_id is required"))
		return
	}

	attachments, err := h.store.ListByWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  attachments,
		"total": len(attachments),
	})
}

// UploadAttachment accepts a multipart upload for a workflow session
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxSizeBytes); err != nil {
		writeError(w, errors.BadRequest("invalid multipart form"))
		return
	}

	workflowID, err := types.ParseID(r.FormValue("workflow_id"))
	if err != nil {
		writeError(w, errors.BadRequest("workflow_id is required"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errors.BadRequest("file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")

	var uploadedBy types.ID
	if user := auth.GetUser(r.Context()); user != nil {
		uploadedBy = user.ID
	} else {
		// For development without auth
		uploadedBy = types.NewID()
	}

	a, err := NewStoredAttachment(workflowID, header.Filename, contentType, file, uploadedBy)
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	if err := h.store.Save(r.Context(), a); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

// GetAttachment returns attachment metadata
func (h *Handler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "attachmentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid attachment ID"))
		return
	}

	a, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// DownloadAttachment streams the stored content
func (h *Handler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "attachmentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid attachment ID"))
		return
	}

	a, err := h.store.Content(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.FileName))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", a.SizeBytes))
	w.Write(a.Content)
}

// DeleteAttachment removes an attachment
func (h *Handler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "attachmentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid attachment ID"))
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
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
