package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/marksheet-extractor/internal/evidence"
	"github.com/zombor/marksheet-extractor/internal/extraction"
	"github.com/zombor/marksheet-extractor/internal/structuring"
)

// Recognizer reads an image or PDF and returns its text blocks in reading
// order, pages concatenated in page order.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, filename string) ([]evidence.Block, error)
}

// State is a step of an extraction.
type State int

const (
	StateReceived State = iota
	StateRecognized
	StateStructured
	StateAssembled
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateRecognized:
		return "recognized"
	case StateStructured:
		return "structured"
	case StateAssembled:
		return "assembled"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	DefaultRecognizeTimeout = 120 * time.Second
	DefaultStructureTimeout = 60 * time.Second
)

// Config tunes an Orchestrator. Zero values take defaults.
type Config struct {
	MaxUploadBytes   int64
	RecognizeTimeout time.Duration
	StructureTimeout time.Duration
	Assembler        *extraction.Assembler
	Logger           *slog.Logger
}

// Orchestrator drives one document through recognition, structuring and
// assembly. It is safe for concurrent use; each Process call is independent.
type Orchestrator struct {
	recognizer Recognizer
	structurer structuring.Structurer
	pool       *Pool
	assembler  extraction.Assembler
	cfg        Config
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(recognizer Recognizer, structurer structuring.Structurer, pool *Pool, cfg Config) *Orchestrator {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.RecognizeTimeout <= 0 {
		cfg.RecognizeTimeout = DefaultRecognizeTimeout
	}
	if cfg.StructureTimeout <= 0 {
		cfg.StructureTimeout = DefaultStructureTimeout
	}
	assembler := extraction.DefaultAssembler
	if cfg.Assembler != nil {
		assembler = *cfg.Assembler
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		recognizer: recognizer,
		structurer: structurer,
		pool:       pool,
		assembler:  assembler,
		cfg:        cfg,
		logger:     logger,
	}
}

// Process runs the full extraction. Every failure is an *Error; a result is
// only returned when every stage succeeded.
func (o *Orchestrator) Process(ctx context.Context, filename string, data []byte) (*extraction.Result, error) {
	logger := o.logger.With("filename", filename)
	start := time.Now()

	if err := Validate(filename, int64(len(data)), o.cfg.MaxUploadBytes); err != nil {
		return nil, o.fail(logger, StateReceived, err)
	}

	blocks, err := o.recognize(ctx, filename, data)
	if err != nil {
		return nil, o.fail(logger, StateReceived, newError(KindRecognitionFailure, err))
	}
	if len(blocks) == 0 {
		return nil, o.fail(logger, StateReceived, &Error{
			Kind:   KindNoEvidence,
			Detail: "no text was recognized in the document",
		})
	}
	ix := evidence.NewIndex(blocks)
	logger.Debug("Stage complete", "state", StateRecognized.String(), "blocks", ix.Len())

	doc, err := o.structure(ctx, ix)
	if err != nil {
		return nil, o.fail(logger, StateRecognized, newError(KindStructuringFailure, err))
	}
	for _, issue := range doc.Issues {
		logger.Warn("Structured response does not match schema", "issue", issue)
	}
	logger.Debug("Stage complete", "state", StateStructured.String())

	res := o.assembler.Assemble(doc, ix)
	logger.Debug("Stage complete", "state", StateAssembled.String())

	logger.Info("Extraction complete", "state", StateDone.String(), "blocks", ix.Len(), "subjects", len(res.Subjects), "duration", time.Since(start))
	return res, nil
}

func (o *Orchestrator) recognize(ctx context.Context, filename string, data []byte) ([]evidence.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RecognizeTimeout)
	defer cancel()

	return Submit(ctx, o.pool, "recognize", func(ctx context.Context) ([]evidence.Block, error) {
		return o.recognizer.Recognize(ctx, data, filename)
	})
}

func (o *Orchestrator) structure(ctx context.Context, ix *evidence.Index) (*structuring.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StructureTimeout)
	defer cancel()

	text, err := Submit(ctx, o.pool, "structure", func(ctx context.Context) (string, error) {
		return o.structurer.Structure(ctx, ix)
	})
	if err != nil {
		return nil, err
	}
	doc, err := structuring.Extract(text)
	if err != nil {
		if errors.Is(err, structuring.ErrNoStructuredObject) {
			o.logger.Debug("Unparseable structuring response", "response", text)
		}
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return doc, nil
}

func (o *Orchestrator) fail(logger *slog.Logger, from State, err error) error {
	logger.Error("Extraction failed", "state", from.String(), "kind", KindOf(err), "error", err)
	return err
}
