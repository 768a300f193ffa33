package attachment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/carelink-health/platform/internal/shared/types"
)

func TestNewStoredAttachment(t *testing.T) {
	workflowID := types.NewID()
	uploadedBy := types.NewID()
	content := []byte("%PDF-1.4 sample report")

	a, err := NewStoredAttachment(workflowID, "lab-report.pdf", "application/pdf", bytes.NewReader(content), uploadedBy)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if a.ID.IsZero() {
		t.Error("Attachment ID should not be zero")
	}

	if a.SizeBytes != int64(len(content)) {
		t.Errorf("Expected size %d, got %d", len(content), a.SizeBytes)
	}

	expectedHash := sha256.Sum256(content)
	if a.SHA256 != hex.EncodeToString(expectedHash[:]) {
		t.Errorf("Hash mismatch: got %s", a.SHA256)
	}

	if !bytes.Equal(a.Content, content) {
		t.Error("Content should be preserved byte for byte")
	}

	if a.UploadedAt.IsZero() {
		t.Error("UploadedAt should be set")
	}
}

func TestNewStoredAttachmentValidation(t *testing.T) {
	workflowID := types.NewID()
	uploadedBy := types.NewID()

	t.Run("missing file name", func(t *testing.T) {
		_, err := NewStoredAttachment(workflowID, "", "application/pdf", strings.NewReader("data"), uploadedBy)
		if err == nil {
			t.Error("Expected error for missing file name")
		}
	})

	t.Run("disallowed content type", func(t *testing.T) {
		_, err := NewStoredAttachment(workflowID, "run.exe", "application/octet-stream", strings.NewReader("data"), uploadedBy)
		if err == nil {
			t.Error("Expected error for disallowed content type")
		}
	})

	t.Run("empty upload", func(t *testing.T) {
		_, err := NewStoredAttachment(workflowID, "empty.pdf", "application/pdf", strings.NewReader(""), uploadedBy)
		if err == nil {
			t.Error("Expected error for empty upload")
		}
	})

	t.Run("oversized upload", func(t *testing.T) {
		big := bytes.NewReader(make([]byte, MaxSizeBytes+1))
		_, err := NewStoredAttachment(workflowID, "big.pdf", "application/pdf", big, uploadedBy)
		if err == nil {
			t.Error("Expected error for oversized upload")
		}
	})
}
