package rag

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunker_Validation(t *testing.T) {
	_, err := NewChunker(0, 0)
	assert.Error(t, err)

	_, err = NewChunker(100, 100)
	assert.Error(t, err)

	_, err = NewChunker(100, -1)
	assert.Error(t, err)

	_, err = NewChunker(1024, 50)
	assert.NoError(t, err)
}

func TestChunkerSplit_Empty(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)
	assert.Empty(t, c.Split(""))
}

func TestChunkerSplit_SingleChunk(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	chunks := c.Split("short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0])
}

func TestChunkerSplit_Overlap(t *testing.T) {
	c, err := NewChunker(10, 4)
	require.NoError(t, err)

	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := c.Split(text)
	require.True(t, len(chunks) > 1)

	// Each chunk starts with the last overlap bytes of its predecessor.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		tail := prev[len(prev)-4:]
		assert.True(t, strings.HasPrefix(chunks[i], tail),
			"chunk %d %q does not continue %q", i, chunks[i], prev)
	}

	// Reassembling without the overlaps restores the original.
	var sb strings.Builder
	sb.WriteString(chunks[0])
	for i := 1; i < len(chunks); i++ {
		sb.WriteString(chunks[i][4:])
	}
	assert.Equal(t, text, sb.String())
}

func TestChunkerSplit_NoOverlap(t *testing.T) {
	c, err := NewChunker(5, 0)
	require.NoError(t, err)

	chunks := c.Split("aaaaabbbbbcc")
	assert.Equal(t, []string{"aaaaa", "bbbbb", "cc"}, chunks)
}

func TestChunkerSplit_UTF8Boundaries(t *testing.T) {
	c, err := NewChunker(10, 3)
	require.NoError(t, err)

	text := strings.Repeat("日本語テキスト", 20)
	for i, chunk := range c.Split(text) {
		assert.True(t, utf8.ValidString(chunk), "chunk %d has torn runes", i)
	}
}

func TestChunkerSplit_TightOverlapMultibyte(t *testing.T) {
	// A step of one byte lands inside every two-byte rune; the window
	// must still advance by whole runes and terminate.
	c, err := NewChunker(64, 63)
	require.NoError(t, err)

	text := strings.Repeat("é", 100)

	done := make(chan []string, 1)
	go func() { done <- c.Split(text) }()

	select {
	case chunks := <-done:
		require.NotEmpty(t, chunks)
		for i, chunk := range chunks {
			assert.True(t, utf8.ValidString(chunk), "chunk %d has torn runes", i)
			assert.NotEmpty(t, chunk, "chunk %d is empty", i)
		}
		assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))
	case <-time.After(2 * time.Second):
		t.Fatal("Split did not return")
	}
}

func TestChunkerSplit_StepSmallerThanRune(t *testing.T) {
	// Four-byte runes with a three-byte step. Successive windows would
	// otherwise back off onto the same rune start forever.
	c, err := NewChunker(8, 5)
	require.NoError(t, err)

	text := strings.Repeat("\U0001F600", 12)
	chunks := c.Split(text)
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk), "chunk %d has torn runes", i)
	}
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))
}

func TestChunkerSplit_CoversWholeInput(t *testing.T) {
	c, err := NewChunker(1024, 50)
	require.NoError(t, err)

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200)
	chunks := c.Split(text)

	assert.True(t, strings.HasPrefix(text, chunks[0]))
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 1024)
	}
}
