package attachment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/carelink-health/platform/internal/shared/types"
)

// MaxSizeBytes caps a single supporting document upload
const MaxSizeBytes = 10 << 20 // 10 MB

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"text/plain":      true,
}

// StoredAttachment is a supporting document held for a workflow session
type StoredAttachment struct {
	ID          types.ID `json:"id"`
	WorkflowID  types.ID `json:"workflow_id"`
	FileName    string   `json:"file_name"`
	ContentType string   `json:"content_type"`
	SizeBytes   int64    `json:"size_bytes"`
	SHA256      string   `json:"sha256"`

	// Content is only populated on upload and download paths
	Content []byte `json:"-"`

	UploadedBy types.ID  `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// NewStoredAttachment reads and validates an upload, computing its
// content hash
func NewStoredAttachment(workflowID types.ID, fileName, contentType string, content io.Reader, uploadedBy types.ID) (*StoredAttachment, error) {
	if fileName == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if !allowedContentTypes[contentType] {
		return nil, fmt.Errorf("content type %s is not allowed", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxSizeBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("upload is empty")
	}
	if len(data) > MaxSizeBytes {
		return nil, fmt.Errorf("upload exceeds %d bytes", MaxSizeBytes)
	}

	hash := sha256.Sum256(data)

	return &StoredAttachment{
		ID:          types.NewID(),
		WorkflowID:  workflowID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		SHA256:      hex.EncodeToString(hash[:]),
		Content:     data,
		UploadedBy:  uploadedBy,
		UploadedAt:  time.Now(),
	}, nil
}
