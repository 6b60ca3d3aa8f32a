package structuring

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed marksheet.schema.json
var responseSchemaJSON string

var responseSchema = jsonschema.MustCompileString("marksheet.schema.json", responseSchemaJSON)

// conformance validates a located response object against the schema the
// model is asked to follow and returns one line per violation.
func conformance(obj []byte) []string {
	var doc any
	if err := json.Unmarshal(obj, &doc); err != nil {
		return []string{err.Error()}
	}
	err := responseSchema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	return leafIssues(ve, nil)
}

func leafIssues(ve *jsonschema.ValidationError, out []string) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return append(out, fmt.Sprintf("%s: %s", loc, ve.Message))
	}
	for _, c := range ve.Causes {
		out = leafIssues(c, out)
	}
	return out
}
