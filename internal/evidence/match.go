package evidence

import (
	"math"
	"strings"
	"unicode/utf8"
)

// DefaultFuzzyDiscount scales the confidence of a token-overlap match.
const DefaultFuzzyDiscount = 0.8

// minTokenLen is the rune length a value token must exceed to take part in
// token-overlap matching.
const minTokenLen = 2

// MatchKind reports which rule produced a Match.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchContainment
	MatchToken
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchContainment:
		return "containment"
	case MatchToken:
		return "token"
	default:
		return "none"
	}
}

// Match is the evidence found for a value.
type Match struct {
	Confidence float64
	BBox       *Box
	Kind       MatchKind
}

// Matcher finds the block that best supports a candidate value.
type Matcher struct {
	FuzzyDiscount float64
}

// DefaultMatcher uses DefaultFuzzyDiscount.
var DefaultMatcher = Matcher{FuzzyDiscount: DefaultFuzzyDiscount}

// FindBestMatch runs DefaultMatcher.
func FindBestMatch(value string, ix *Index) Match {
	return DefaultMatcher.FindBestMatch(value, ix)
}

// FindBestMatch compares value against every block, case-insensitively.
//
// An exact match returns immediately. Otherwise the strongest containment
// match (value inside block text or block text inside value) or token
// overlap match (discounted) across all blocks wins.
func (m Matcher) FindBestMatch(value string, ix *Index) Match {
	val := normalize(value)
	if val == "" || ix.Len() == 0 {
		return Match{}
	}

	discount := clamp01(m.FuzzyDiscount)
	tokens := tokenize(val)

	var best Match
	for i, text := range ix.norm {
		if text == "" {
			continue
		}
		block := ix.blocks[i]
		conf := clamp01(block.Confidence)

		if text == val {
			return Match{Confidence: conf, BBox: block.BBox, Kind: MatchExact}
		}

		if strings.Contains(text, val) || strings.Contains(val, text) {
			if conf > best.Confidence {
				best = Match{Confidence: conf, BBox: block.BBox, Kind: MatchContainment}
			}
		}

		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				if c := conf * discount; c > best.Confidence {
					best = Match{Confidence: c, BBox: block.BBox, Kind: MatchToken}
				}
				break
			}
		}
	}
	return best
}

func tokenize(val string) []string {
	fields := strings.Fields(val)
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
