package extraction

import (
	"math"

	"github.com/zombor/marksheet-extractor/internal/evidence"
	"github.com/zombor/marksheet-extractor/internal/structuring"
)

// DefaultModelConfidence is assumed when the model reports no confidence.
const DefaultModelConfidence = 0.5

// Assembler fuses every field of a structured document with the evidence.
// It holds no state and is safe for concurrent use.
type Assembler struct {
	Matcher                evidence.Matcher
	Weights                evidence.Weights
	DefaultModelConfidence float64
}

// DefaultAssembler uses the default matcher, weights and model confidence.
var DefaultAssembler = Assembler{
	Matcher:                evidence.DefaultMatcher,
	Weights:                evidence.DefaultWeights,
	DefaultModelConfidence: DefaultModelConfidence,
}

// Assemble runs DefaultAssembler.
func Assemble(doc *structuring.Document, ix *evidence.Index) *Result {
	return DefaultAssembler.Assemble(doc, ix)
}

// Assemble builds the Result. It never fails: unreadable fields become
// sentinels and missing groups stay empty.
func (a Assembler) Assemble(doc *structuring.Document, ix *evidence.Index) *Result {
	res := &Result{}
	if doc == nil {
		return res
	}
	res.Candidate = a.fuseGroup(doc.Candidate, ix)
	res.Overall = a.fuseGroup(doc.Overall, ix)
	res.Issue = a.fuseGroup(doc.Issue, ix)
	if len(doc.Subjects) > 0 {
		res.Subjects = make([]FieldSet, len(doc.Subjects))
		for i, row := range doc.Subjects {
			res.Subjects[i] = a.fuseGroup(row, ix)
		}
	}
	return res
}

func (a Assembler) fuseGroup(g structuring.Group, ix *evidence.Index) FieldSet {
	var set FieldSet
	for _, name := range g.Names() {
		f, _ := g.Field(name)
		set.put(name, a.fuseField(f, ix))
	}
	return set
}

func (a Assembler) fuseField(f structuring.RawField, ix *evidence.Index) FusedField {
	if f.Malformed() {
		return Sentinel()
	}

	llm, ok := f.ModelConfidence()
	if !ok {
		llm = a.DefaultModelConfidence
	}
	match := a.Matcher.FindBestMatch(f.Value.String(), ix)
	fused := evidence.Fuse(match.Confidence, llm, a.Weights)

	// meta must stay JSON encodable
	if math.IsNaN(llm) || math.IsInf(llm, 0) {
		llm = 0
	}

	return FusedField{
		Value:      f.Value,
		Confidence: fused,
		BBox:       match.BBox,
		Meta:       &Meta{OCR: match.Confidence, LLM: llm},
	}
}
