package marksheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/marksheet-extractor/internal/extraction"
	"github.com/zombor/marksheet-extractor/internal/pipeline"
)

// Extractor turns an uploaded document into a fused result
type Extractor interface {
	Process(ctx context.Context, filename string, data []byte) (*extraction.Result, error)
}

// IDGenerator generates unique IDs for extractions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service runs extractions and keeps their history
type Service struct {
	db          DB
	extractor   Extractor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service. A nil storage disables archiving of
// uploaded documents.
func NewService(db DB, extractor Extractor, storage Storage) *Service {
	return NewServiceWithDeps(db, extractor, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and truncates long names
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaceRuns.ReplaceAllString(base, " "))

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "marksheet"
	}
	return base + ext
}

// ProcessDocument runs an extraction and records it. The record is returned
// even when the extraction fails so callers can report its ID. Only documents
// that extracted successfully are archived.
func (s *Service) ProcessDocument(ctx context.Context, filename string, data []byte, contentType string) (*Extraction, error) {
	start := s.timeSource.Now()
	rec := &Extraction{
		ID:          s.idGenerator.Generate(),
		Filename:    sanitizeFilename(filename),
		ContentType: contentType,
		CreatedAt:   start,
	}

	result, err := s.extractor.Process(ctx, filename, data)
	rec.DurationMS = s.timeSource.Now().Sub(start).Milliseconds()
	if err != nil {
		rec.Status = StatusFailed
		rec.Kind = pipeline.KindOf(err)
		rec.Detail = err.Error()
		var pe *pipeline.Error
		if errors.As(err, &pe) {
			rec.Detail = pe.Detail
		}
		s.record(rec)
		return rec, err
	}

	rec.Status = StatusDone
	rec.Result = result
	s.archive(rec, data)
	s.record(rec)
	return rec, nil
}

func (s *Service) archive(rec *Extraction, data []byte) {
	if s.storage == nil {
		return
	}
	path, err := s.storage.Save(fmt.Sprintf("%s_%s", rec.ID, rec.Filename), data)
	if err != nil {
		slog.Warn("Failed to archive document", "id", rec.ID, "filename", rec.Filename, "error", err)
		return
	}
	rec.ArchivePath = path
}

// record saves the audit entry. History is best effort: a failed save never
// discards an extraction result.
func (s *Service) record(rec *Extraction) {
	if err := s.db.SaveExtraction(rec); err != nil {
		slog.Error("Failed to save extraction", "id", rec.ID, "error", err)
	}
}

// GetExtraction retrieves an extraction by ID
func (s *Service) GetExtraction(id string) (*Extraction, error) {
	e, err := s.db.GetExtraction(id)
	if err != nil {
		return nil, fmt.Errorf("getting extraction: %w", err)
	}
	return e, nil
}

// ListExtractions returns all extractions
func (s *Service) ListExtractions() ([]*Extraction, error) {
	extractions, err := s.db.ListExtractions()
	if err != nil {
		return nil, fmt.Errorf("listing extractions: %w", err)
	}
	return extractions, nil
}

// DeleteExtraction removes an extraction and its archived document
func (s *Service) DeleteExtraction(id string) error {
	e, err := s.db.GetExtraction(id)
	if err != nil {
		return fmt.Errorf("getting extraction for deletion: %w", err)
	}

	if e.ArchivePath != "" && s.storage != nil {
		if err := s.storage.Delete(e.ArchivePath); err != nil {
			slog.Warn("Failed to delete file", "path", e.ArchivePath, "error", err)
		}
	}

	if err := s.db.DeleteExtraction(id); err != nil {
		return fmt.Errorf("deleting extraction from database: %w", err)
	}
	return nil
}

// GetExtractionFile retrieves the archived document of an extraction
func (s *Service) GetExtractionFile(id string) ([]byte, string, error) {
	e, err := s.db.GetExtraction(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting extraction: %w", err)
	}
	if e.ArchivePath == "" || s.storage == nil {
		return nil, "", fmt.Errorf("document for extraction %s: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(e.ArchivePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting extraction file: %w", err)
	}
	return data, e.ContentType, nil
}
