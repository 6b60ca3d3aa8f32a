package marksheet

import (
	"time"

	"github.com/zombor/marksheet-extractor/internal/extraction"
	"github.com/zombor/marksheet-extractor/internal/pipeline"
)

// Status is the outcome of an extraction
type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// Extraction is the audit record of one processed upload
type Extraction struct {
	ID          string             `json:"id"`
	Filename    string             `json:"filename"`
	ContentType string             `json:"content_type"`
	ArchivePath string             `json:"archive_path,omitempty"` // Path of the archived upload, if kept
	Status      Status             `json:"status"`
	Kind        pipeline.Kind      `json:"kind,omitempty"`
	Detail      string             `json:"detail,omitempty"`
	Result      *extraction.Result `json:"result,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	DurationMS  int64              `json:"duration_ms"`
}
