package ctc

import (
	"errors"
	"fmt"
)

// ErrEmptyReference indicates a CER was requested against an empty
// reference string, which has no defined error rate.
var ErrEmptyReference = errors.New("ctc: empty reference")

// CER returns the character error rate of a hypothesis against a
// reference: rune-level edit distance divided by the reference's rune
// count. An empty reference fails with ErrEmptyReference instead of
// dividing by zero.
func CER(hypothesis, reference string) (float64, error) {
	ref := []rune(reference)
	if len(ref) == 0 {
		return 0, ErrEmptyReference
	}
	dist := levenshtein([]rune(hypothesis), ref)
	return float64(dist) / float64(len(ref)), nil
}

// MeanCER returns the arithmetic mean of per-sample CERs. Samples with
// empty references are skipped and counted rather than poisoning the
// mean; skipped reports how many. A fully-skipped set yields mean 0.
func MeanCER(hypotheses, references []string) (mean float64, skipped int, err error) {
	if len(hypotheses) != len(references) {
		return 0, 0, fmt.Errorf("ctc: %d hypotheses for %d references", len(hypotheses), len(references))
	}
	sum := 0.0
	n := 0
	for i := range references {
		c, err := CER(hypotheses[i], references[i])
		if errors.Is(err, ErrEmptyReference) {
			skipped++
			continue
		}
		sum += c
		n++
	}
	if n == 0 {
		return 0, skipped, nil
	}
	return sum / float64(n), skipped, nil
}

// levenshtein computes the edit distance between two rune sequences
// with unit costs, using two rolling rows.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
