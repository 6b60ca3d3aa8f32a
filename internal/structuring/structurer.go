package structuring

import (
	"context"

	"github.com/zombor/marksheet-extractor/internal/evidence"
)

// Structurer defines the interface for the language-model structuring call
type Structurer interface {
	// Structure sends the recognized blocks to the model and returns its raw
	// response text, which is expected (not guaranteed) to be a JSON object.
	Structure(ctx context.Context, ix *evidence.Index) (string, error)
	// Close closes the structurer and releases resources
	Close() error
}
