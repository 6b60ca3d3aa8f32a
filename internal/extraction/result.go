package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zombor/marksheet-extractor/internal/evidence"
	"github.com/zombor/marksheet-extractor/internal/structuring"
)

// Meta keeps the two source confidences a fused confidence came from.
type Meta struct {
	OCR float64 `json:"ocr"`
	LLM float64 `json:"llm"`
}

// FusedField is one extracted value with its reconciled confidence.
type FusedField struct {
	Value      structuring.Value `json:"value"`
	Confidence float64           `json:"confidence"`
	BBox       *evidence.Box     `json:"bbox"`
	Meta       *Meta             `json:"meta,omitempty"`
}

// Sentinel stands in for a field that could not be read.
func Sentinel() FusedField {
	return FusedField{Value: structuring.NullValue()}
}

// FieldSet is an ordered mapping of field name to FusedField.
type FieldSet struct {
	names  []string
	fields map[string]FusedField
}

// Len returns the number of fields.
func (s FieldSet) Len() int { return len(s.names) }

// Names returns field names in order.
func (s FieldSet) Names() []string { return append([]string(nil), s.names...) }

// Get returns the named field.
func (s FieldSet) Get(name string) (FusedField, bool) {
	f, ok := s.fields[name]
	return f, ok
}

func (s *FieldSet) put(name string, f FusedField) {
	if s.fields == nil {
		s.fields = make(map[string]FusedField)
	}
	if _, exists := s.fields[name]; !exists {
		s.names = append(s.names, name)
	}
	s.fields[name] = f
}

func (s FieldSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.fields[name])
		if err != nil {
			return nil, fmt.Errorf("marshaling field %q: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *FieldSet) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = FieldSet{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("field set must be an object")
	}
	var out FieldSet
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)
		var f FusedField
		if err := dec.Decode(&f); err != nil {
			return fmt.Errorf("decoding field %q: %w", name, err)
		}
		out.put(name, f)
	}
	*s = out
	return nil
}

// Result is the fused extraction for one marksheet.
type Result struct {
	Candidate FieldSet   `json:"candidate"`
	Subjects  []FieldSet `json:"subjects"`
	Overall   FieldSet   `json:"overall"`
	Issue     FieldSet   `json:"issue"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	p := plain(r)
	if p.Subjects == nil {
		p.Subjects = []FieldSet{}
	}
	return json.Marshal(p)
}
