package structuring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind tags the JSON type of a field value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
)

// Value is a field value as reported by the structuring model: null, a
// string, or a number. Numbers keep their JSON literal.
type Value struct {
	kind ValueKind
	text string
}

// NullValue returns the null value.
func NullValue() Value { return Value{} }

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: ValueString, text: s} }

// NumberValue wraps a JSON number literal such as "95" or "87.5".
func NumberValue(literal string) Value { return Value{kind: ValueNumber, text: literal} }

// Kind returns the value's JSON type.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == ValueNull }

// String returns the text used to match the value against evidence. Null is
// the empty string.
func (v Value) String() string { return v.text }

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueString:
		return json.Marshal(v.text)
	case ValueNumber:
		return []byte(v.text), nil
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	parsed, ok := parseValue(b)
	if !ok {
		return fmt.Errorf("value must be null, a string or a number: %s", b)
	}
	*v = parsed
	return nil
}

func parseValue(b []byte) (Value, bool) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, false
	}
	switch x := raw.(type) {
	case nil:
		return NullValue(), true
	case string:
		return StringValue(x), true
	case json.Number:
		return NumberValue(x.String()), true
	default:
		return Value{}, false
	}
}

type confidenceState int

const (
	confidenceAbsent confidenceState = iota
	confidenceValid
	confidenceInvalid
)

// RawField is one {value, llm_confidence} leaf before fusion.
type RawField struct {
	Value         Value
	LLMConfidence float64

	confidence confidenceState
	malformed  bool
	raw        json.RawMessage
}

// NewRawField builds a well-formed leaf.
func NewRawField(v Value, llmConfidence float64) RawField {
	return RawField{Value: v, LLMConfidence: llmConfidence, confidence: confidenceValid}
}

// Malformed reports whether the leaf was not a {value, ...} object with a
// null, string or number value.
func (f RawField) Malformed() bool { return f.malformed }

// ModelConfidence returns the self-reported confidence and whether one was
// present. A present but unreadable confidence is NaN.
func (f RawField) ModelConfidence() (float64, bool) {
	switch f.confidence {
	case confidenceValid:
		return f.LLMConfidence, true
	case confidenceInvalid:
		return math.NaN(), true
	default:
		return 0, false
	}
}

func (f RawField) MarshalJSON() ([]byte, error) {
	if f.raw != nil {
		return f.raw, nil
	}
	if f.malformed {
		return []byte("null"), nil
	}
	leaf := struct {
		Value         Value    `json:"value"`
		LLMConfidence *float64 `json:"llm_confidence,omitempty"`
	}{Value: f.Value}
	if f.confidence == confidenceValid {
		c := f.LLMConfidence
		leaf.LLMConfidence = &c
	}
	return json.Marshal(leaf)
}

func parseRawField(raw json.RawMessage) RawField {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return RawField{malformed: true}
	}
	f := RawField{raw: compact.Bytes()}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(f.raw, &obj); err != nil || obj == nil {
		f.malformed = true
		return f
	}
	rawValue, ok := obj["value"]
	if !ok {
		f.malformed = true
		return f
	}
	v, ok := parseValue(rawValue)
	if !ok {
		f.malformed = true
		return f
	}
	f.Value = v

	if rawConf, ok := obj["llm_confidence"]; ok {
		f.LLMConfidence, f.confidence = parseConfidence(rawConf)
	}
	return f
}

func parseConfidence(raw json.RawMessage) (float64, confidenceState) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return 0, confidenceInvalid
	}
	var (
		c   float64
		err error
	)
	switch t := x.(type) {
	case json.Number:
		c, err = t.Float64()
	case string:
		c, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, confidenceInvalid
	}
	if err != nil || math.IsNaN(c) || math.IsInf(c, 0) {
		return 0, confidenceInvalid
	}
	return c, confidenceValid
}

// Group is an ordered mapping of field name to RawField.
type Group struct {
	names  []string
	fields map[string]RawField
}

// Len returns the number of fields.
func (g Group) Len() int { return len(g.names) }

// Names returns field names in the order the model produced them.
func (g Group) Names() []string {
	return append([]string(nil), g.names...)
}

// Field returns the named field.
func (g Group) Field(name string) (RawField, bool) {
	f, ok := g.fields[name]
	return f, ok
}

func (g *Group) set(name string, f RawField) {
	if g.fields == nil {
		g.fields = make(map[string]RawField)
	}
	if _, exists := g.fields[name]; !exists {
		g.names = append(g.names, name)
	}
	g.fields[name] = f
}

func (g Group) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range g.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(g.fields[name])
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

// decodeGroup reads a JSON object keeping key order. Anything other than an
// object yields an empty group and false.
func decodeGroup(raw json.RawMessage) (Group, bool) {
	var g Group
	if len(raw) == 0 {
		return g, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return g, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return g, false
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Group{}, false
		}
		key, _ := keyTok.(string)
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return Group{}, false
		}
		g.set(key, parseRawField(val))
	}
	return g, true
}

// Document is the structuring model's answer: four groups of raw fields.
type Document struct {
	Candidate Group
	Subjects  []Group
	Overall   Group
	Issue     Group

	// Issues lists schema violations found in the response. They are
	// diagnostic only.
	Issues []string
}

func (d Document) MarshalJSON() ([]byte, error) {
	subjects := d.Subjects
	if subjects == nil {
		subjects = []Group{}
	}
	return json.Marshal(struct {
		Candidate Group   `json:"candidate"`
		Subjects  []Group `json:"subjects"`
		Overall   Group   `json:"overall"`
		Issue     Group   `json:"issue"`
	}{d.Candidate, subjects, d.Overall, d.Issue})
}

// decodeDocument maps a JSON object onto a Document. Groups of the wrong
// type are treated as absent; subject rows that are not objects become
// empty rows.
func decodeDocument(obj []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(obj, &top); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}

	doc := &Document{}
	doc.Candidate, _ = decodeGroup(top["candidate"])
	doc.Overall, _ = decodeGroup(top["overall"])
	doc.Issue, _ = decodeGroup(top["issue"])

	var rows []json.RawMessage
	if raw, ok := top["subjects"]; ok {
		if err := json.Unmarshal(raw, &rows); err != nil {
			rows = nil
		}
	}
	if len(rows) > 0 {
		doc.Subjects = make([]Group, len(rows))
		for i, row := range rows {
			doc.Subjects[i], _ = decodeGroup(row)
		}
	}
	return doc, nil
}
