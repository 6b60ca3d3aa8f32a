package structuring

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoStructuredObject is returned when a response holds no JSON object.
var ErrNoStructuredObject = errors.New("no valid structured object found")

// Extract finds the JSON object in a model response and decodes it into a
// Document. Code fences and surrounding commentary are tolerated.
func Extract(raw string) (*Document, error) {
	obj, ok := locateObject(raw)
	if !ok {
		return nil, ErrNoStructuredObject
	}
	doc, err := decodeDocument(obj)
	if err != nil {
		return nil, ErrNoStructuredObject
	}
	doc.Issues = conformance(obj)
	return doc, nil
}

// locateObject tries the whole (unfenced) text first, then each balanced
// {...} span in order.
func locateObject(raw string) ([]byte, bool) {
	text := stripFences(raw)
	if obj, ok := asObject(text); ok {
		return obj, true
	}

	start := 0
	for {
		i := strings.IndexByte(text[start:], '{')
		if i < 0 {
			return nil, false
		}
		i += start
		end, balanced := closingBrace(text, i)
		if balanced {
			if obj, ok := asObject(text[i : end+1]); ok {
				return obj, true
			}
			start = end + 1
		} else {
			start = i + 1
		}
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = s[4:]
		}
		s = strings.TrimSpace(s)
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func asObject(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !json.Valid([]byte(s)) {
		return nil, false
	}
	return []byte(s), true
}

// closingBrace returns the index of the brace closing the one at open,
// skipping braces inside JSON strings.
func closingBrace(s string, open int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
