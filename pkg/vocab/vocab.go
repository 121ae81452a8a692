// Package vocab maps transcript characters to model output indices.
//
// A vocabulary is an ordered symbol list: a symbol's index is its
// position in the list, and index 0 is a symbol like any other (for CTC
// models it is conventionally the blank). The on-disk format is a JSON
// array of strings.
package vocab

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Table is an immutable symbol table.
type Table struct {
	symbols []string
	index   map[string]int32
}

// New builds a table from an ordered symbol list. Empty lists and
// duplicate symbols are rejected.
func New(symbols []string) (*Table, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("vocab: empty symbol list")
	}
	index := make(map[string]int32, len(symbols))
	for i, s := range symbols {
		if _, dup := index[s]; dup {
			return nil, fmt.Errorf("vocab: duplicate symbol %q at index %d", s, i)
		}
		index[s] = int32(i)
	}
	return &Table{symbols: append([]string(nil), symbols...), index: index}, nil
}

// Load reads a JSON array of symbols.
func Load(r io.Reader) (*Table, error) {
	var symbols []string
	dec := json.NewDecoder(r)
	if err := dec.Decode(&symbols); err != nil {
		return nil, fmt.Errorf("vocab: decoding symbol list: %w", err)
	}
	return New(symbols)
}

// LoadFile reads a vocabulary file.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()
	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Len returns the symbol count.
func (t *Table) Len() int { return len(t.symbols) }

// Symbol returns the symbol at index i.
func (t *Table) Symbol(i int) (string, bool) {
	if i < 0 || i >= len(t.symbols) {
		return "", false
	}
	return t.symbols[i], true
}

// Index returns the index of a symbol.
func (t *Table) Index(sym string) (int32, bool) {
	i, ok := t.index[sym]
	return i, ok
}

// Symbols returns a copy of the ordered symbol list.
func (t *Table) Symbols() []string {
	return append([]string(nil), t.symbols...)
}

// Encode maps each character of text to its index. Characters absent
// from the table are dropped; index 0 is a valid index and is kept.
func (t *Table) Encode(text string) []int32 {
	out := make([]int32, 0, len(text))
	for _, r := range text {
		if i, ok := t.index[string(r)]; ok {
			out = append(out, i)
		}
	}
	return out
}

// Decode concatenates the symbols for a label sequence, skipping
// out-of-range indices.
func (t *Table) Decode(labels []int32) string {
	var out []byte
	for _, l := range labels {
		if l >= 0 && int(l) < len(t.symbols) {
			out = append(out, t.symbols[l]...)
		}
	}
	return string(out)
}
