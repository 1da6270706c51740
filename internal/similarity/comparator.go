package similarity

import (
	"math"
	"slices"

	"github.com/pmezard/go-difflib/difflib"
)

// Comparator scores two normalized sources in [0,1].
type Comparator interface {
	Compare(a, b string) float64
}

// ComparatorFunc adapts a function to the Comparator interface.
type ComparatorFunc func(a, b string) float64

// Compare implements Comparator.
func (f ComparatorFunc) Compare(a, b string) float64 {
	return f(a, b)
}

// BoundedComparator is a Comparator that also reports a cheap upper bound on Compare.
// UpperBound(a, b) must never be lower than Compare(a, b).
type BoundedComparator interface {
	Comparator
	UpperBound(a, b string) float64
}

// SequenceComparator computes the longest-matching-subsequence ratio over the elements
// produced by Split.
type SequenceComparator struct {
	Split func(string) []string
}

// Compare implements Comparator.
func (c SequenceComparator) Compare(a, b string) float64 {
	return sequenceRatio(c.Split(a), c.Split(b))
}

// UpperBound implements BoundedComparator using the multiset intersection of both sides,
// which runs in linear time.
func (c SequenceComparator) UpperBound(a, b string) float64 {
	left, right := c.Split(a), c.Split(b)
	if len(left) == 0 && len(right) == 0 {
		return 0
	}
	return clampUnit(difflib.NewMatcherWithJunk(left, right, false, nil).QuickRatio())
}

// CharacterRatio is the longest-matching-subsequence ratio over the characters of both sources.
var CharacterRatio = SequenceComparator{Split: characters}

// TokenRatio is the longest-matching-subsequence ratio over lexical tokens.
var TokenRatio = SequenceComparator{Split: Tokenize}

// StructureRatio compares token shapes, ignoring identifier names and literal values.
var StructureRatio = SequenceComparator{Split: func(s string) []string {
	return Shape(Tokenize(s))
}}

// CosineTrigram is the cosine similarity of token trigram frequency vectors.
var CosineTrigram = ComparatorFunc(func(a, b string) float64 {
	left := trigramCounts(Tokenize(a))
	right := trigramCounts(Tokenize(b))
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	var dot, leftNorm, rightNorm float64
	for gram, count := range left {
		leftNorm += float64(count * count)
		if other, ok := right[gram]; ok {
			dot += float64(count * other)
		}
	}
	for _, count := range right {
		rightNorm += float64(count * count)
	}
	if leftNorm == 0 || rightNorm == 0 {
		return 0
	}
	return clampUnit(dot / (math.Sqrt(leftNorm) * math.Sqrt(rightNorm)))
})

// sequenceRatio orders the pair canonically so the ratio is symmetric. Auto-junk is disabled:
// on sources longer than 200 elements it would discard common characters such as spaces.
func sequenceRatio(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if slices.Compare(a, b) > 0 {
		a, b = b, a
	}
	return clampUnit(difflib.NewMatcherWithJunk(a, b, false, nil).Ratio())
}

func characters(s string) []string {
	runes := []rune(s)
	chars := make([]string, len(runes))
	for i, r := range runes {
		chars[i] = string(r)
	}
	return chars
}

func trigramCounts(tokens []string) map[string]int {
	counts := make(map[string]int)
	if len(tokens) < 3 {
		for _, token := range tokens {
			counts[token]++
		}
		return counts
	}
	for i := 0; i+3 <= len(tokens); i++ {
		counts[tokens[i]+" "+tokens[i+1]+" "+tokens[i+2]]++
	}
	return counts
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
