package extract

import (
	"fmt"
	"regexp"
)

// DefaultPattern matches Amazon-style voucher codes: three groups of four
// uppercase alphanumerics joined by hyphens. Other platforms need their own pattern.
//
// RE2's \b only knows ASCII word characters, so a non-ASCII letter glued to a
// code by OCR (as in "éABCD-1234-EFGH") still counts as a boundary.
const DefaultPattern = `\b[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}\b`

// Matcher finds candidate codes in recognized text. Safe for concurrent use.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher compiles pattern; an empty pattern selects DefaultPattern.
func NewMatcher(pattern string) (*Matcher, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid code pattern %q: %w", pattern, err)
	}
	return &Matcher{re: re}, nil
}

// MustMatcher is NewMatcher for patterns known at compile time.
func MustMatcher(pattern string) *Matcher {
	m, err := NewMatcher(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Match returns every non-overlapping match in order of appearance.
// The result is empty, never nil, when nothing matches.
func (m *Matcher) Match(text string) []string {
	found := m.re.FindAllString(text, -1)
	if found == nil {
		return []string{}
	}
	return found
}

func (m *Matcher) String() string { return m.re.String() }
