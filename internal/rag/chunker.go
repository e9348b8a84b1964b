// Package rag turns local files into knowledge documents and bridges
// the knowledge store to Genkit retrieval.
package rag

import (
	"fmt"
	"unicode/utf8"
)

// Chunker splits text into overlapping windows. Adjacent chunks share
// overlap bytes of context so sentences cut at a boundary stay
// retrievable from at least one side.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window size and overlap,
// both in bytes. Overlap must be smaller than size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the chunks of text in order. Empty input yields no
// chunks. Window boundaries back off to the nearest rune start so no
// chunk ever contains a torn UTF-8 sequence.
func (c *Chunker) Split(text string) []string {
	l := len(text)
	if l == 0 {
		return nil
	}

	step := c.size - c.overlap
	res := make([]string, 0, l/step+1)

	pos := 0
	for pos < l {
		end := pos + c.size
		if end >= l {
			res = append(res, text[pos:])
			break
		}
		end = runeStart(text, end)
		if end == pos {
			_, w := utf8.DecodeRuneInString(text[pos:])
			end = pos + w
		}
		res = append(res, text[pos:end])

		// Backing off to a rune start can land on pos itself when step
		// is smaller than the rune's byte width; force progress by at
		// least one rune or the loop never terminates.
		prev := pos
		pos = runeStart(text, pos+step)
		if pos <= prev {
			_, w := utf8.DecodeRuneInString(text[prev:])
			pos = prev + w
		}
	}
	return res
}

// runeStart walks i back to the start of the rune containing it.
func runeStart(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
