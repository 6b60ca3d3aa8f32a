package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// Kind classifies a failed extraction.
type Kind string

const (
	KindUnsupportedType    Kind = "unsupported_type"
	KindPayloadTooLarge    Kind = "payload_too_large"
	KindRecognitionFailure Kind = "recognition_failure"
	KindNoEvidence         Kind = "no_evidence"
	KindStructuringFailure Kind = "structuring_failure"
	// KindMalformedField is absorbed by the assembler and never returned.
	KindMalformedField Kind = "malformed_field"
)

// HTTPStatus maps a kind to the status code the transport responds with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnsupportedType, KindPayloadTooLarge:
		return http.StatusBadRequest
	case KindNoEvidence:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is a terminal pipeline failure.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Detail: err.Error(), Err: err}
}

// KindOf returns the kind of a pipeline error, or "" when err is not one.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// DefaultMaxUploadBytes is the upload size limit.
const DefaultMaxUploadBytes = 10 * 1024 * 1024

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".pdf":  true,
}

// Validate checks an upload before any work is done on it. A limit of zero
// or less uses DefaultMaxUploadBytes.
func Validate(filename string, size int64, limit int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return &Error{
			Kind:   KindUnsupportedType,
			Detail: fmt.Sprintf("unsupported file type %q", ext),
		}
	}
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	if size > limit {
		return &Error{
			Kind:   KindPayloadTooLarge,
			Detail: fmt.Sprintf("file is %d bytes, limit is %d", size, limit),
		}
	}
	return nil
}
