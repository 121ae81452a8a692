// Package ctc collapses per-frame symbol probabilities into text and
// scores hypotheses against references.
//
// Decoding is best-path: the highest-probability symbol is taken per
// frame, consecutive repeats are collapsed, and the blank symbol is
// dropped. Beam search is out of scope.
package ctc

import (
	"fmt"

	"github.com/haivivi/earshot/pkg/vocab"
)

// Result is one decoded utterance. Offsets holds the frame index each
// emitted symbol was first seen at; len(Offsets) equals the symbol
// count of Text.
type Result struct {
	Text    string
	Offsets []int
}

// Decoder turns a probability tensor (B, T, V) with per-sample lengths
// into decoded strings.
type Decoder interface {
	Decode(probs []float32, batch, time, vocabSize int, lengths []int) ([]Result, error)
}

// Greedy is the best-path decoder over a vocabulary table. Blank is
// the index dropped during collapsing, 0 by default.
type Greedy struct {
	Table *vocab.Table
	Blank int
}

// NewGreedy returns a Greedy decoder with blank index 0.
func NewGreedy(table *vocab.Table) *Greedy {
	return &Greedy{Table: table}
}

// Decode collapses probs, shaped (batch, time, vocabSize) row-major,
// into one Result per sample. Frames at and beyond lengths[i] are
// ignored for sample i.
func (g *Greedy) Decode(probs []float32, batch, time, vocabSize int, lengths []int) ([]Result, error) {
	if batch <= 0 || time < 0 || vocabSize <= 0 {
		return nil, fmt.Errorf("ctc: bad shape (%d, %d, %d)", batch, time, vocabSize)
	}
	if len(probs) != batch*time*vocabSize {
		return nil, fmt.Errorf("ctc: probs has %d values, want %d for shape (%d, %d, %d)",
			len(probs), batch*time*vocabSize, batch, time, vocabSize)
	}
	if len(lengths) != batch {
		return nil, fmt.Errorf("ctc: %d lengths for batch of %d", len(lengths), batch)
	}

	results := make([]Result, batch)
	for b := 0; b < batch; b++ {
		if lengths[b] < 0 || lengths[b] > time {
			return nil, fmt.Errorf("ctc: sample %d length %d outside [0, %d]", b, lengths[b], time)
		}
		var text []byte
		var offsets []int
		prev := -1
		for t := 0; t < lengths[b]; t++ {
			frame := probs[(b*time+t)*vocabSize : (b*time+t+1)*vocabSize]
			id := argmax(frame)
			if id != prev && id != g.Blank {
				sym, ok := g.Table.Symbol(id)
				if !ok {
					return nil, fmt.Errorf("ctc: sample %d frame %d: index %d outside vocabulary of %d",
						b, t, id, g.Table.Len())
				}
				text = append(text, sym...)
				offsets = append(offsets, t)
			}
			prev = id
		}
		results[b] = Result{Text: string(text), Offsets: offsets}
	}
	return results, nil
}

// ConvertToStrings maps already-encoded label sequences back to text,
// for scoring references that were stored as indices.
func (g *Greedy) ConvertToStrings(labels [][]int32) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = g.Table.Decode(l)
	}
	return out
}

func argmax(frame []float32) int {
	best := 0
	for i := 1; i < len(frame); i++ {
		if frame[i] > frame[best] {
			best = i
		}
	}
	return best
}
