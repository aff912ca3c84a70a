package core

import (
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// Point is a single labelled value in a sample.
type Point struct {
	Label string `json:"label"`
	Value uint64 `json:"value"`
}

// Sample is an ordered set of labelled values. Order drives chart bar order.
// A Sample is never mutated after construction; holders replace it wholesale.
type Sample []Point

// DefaultSample is shown before any client has sent data.
func DefaultSample() Sample {
	return Sample{
		{Label: "A", Value: 0},
		{Label: "B", Value: 0},
		{Label: "C", Value: 0},
		{Label: "D", Value: 0},
	}
}

// Clone returns an independent copy of s.
func (s Sample) Clone() Sample {
	return slices.Clone(s)
}

// Max returns the largest value in the sample, or 0 for an empty sample.
func (s Sample) Max() uint64 {
	var m uint64
	for _, p := range s {
		m = max(m, p.Value)
	}
	return m
}

// Labels returns the labels in sample order.
func (s Sample) Labels() []string {
	labels := make([]string, len(s))
	for i, p := range s {
		labels[i] = p.Label
	}
	return labels
}

// Equal reports whether both samples hold the same points in the same order.
func (s Sample) Equal(other Sample) bool {
	return slices.Equal(s, other)
}

// String renders the sample as "label=value" pairs.
func (s Sample) String() string {
	var b strings.Builder
	for i, p := range s {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.Label)
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(p.Value, 10))
	}
	return b.String()
}

// Printable replaces control characters so s is safe to draw on a terminal.
// Whitespace controls become a space, everything else becomes U+FFFD.
func Printable(s string) string {
	return strings.Map(func(r rune) rune {
		if !unicode.IsControl(r) {
			return r
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		return '\uFFFD'
	}, s)
}
