package rag

import (
	"fmt"
	"io"
	"strings"

	"code.sajari.com/docconv/v2"
)

// FileReader extracts plain text from one class of file.
// Readers receive an io.Reader instead of a path so the indexer can
// feed them through its confined filesystem root.
type FileReader interface {
	// CanRead reports whether the reader handles the extension
	// (lowercase, with leading dot).
	CanRead(ext string) bool

	// ReadText extracts the text content.
	ReadText(r io.Reader) (string, error)
}

// textExtensions are plain-text file types indexed verbatim.
var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".rst":  true,
	".go":   true,
	".py":   true,
	".js":   true,
	".ts":   true,
	".java": true,
	".rb":   true,
	".sh":   true,
	".yaml": true,
	".yml":  true,
	".json": true,
	".toml": true,
	".html": true,
	".css":  true,
	".sql":  true,
}

// TextReader reads plain-text files as-is.
type TextReader struct{}

func (TextReader) CanRead(ext string) bool { return textExtensions[ext] }

func (TextReader) ReadText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}
	return string(data), nil
}

// PDFReader extracts text from PDF files via docconv.
type PDFReader struct{}

func (PDFReader) CanRead(ext string) bool { return ext == ".pdf" }

func (PDFReader) ReadText(r io.Reader) (string, error) {
	text, _, err := docconv.ConvertPDF(r)
	if err != nil {
		return "", fmt.Errorf("converting pdf: %w", err)
	}
	return text, nil
}

// DefaultReaders returns the standard reader set.
func DefaultReaders() []FileReader {
	return []FileReader{TextReader{}, PDFReader{}}
}

// findReader returns the first reader that handles ext, or nil.
func findReader(readers []FileReader, ext string) FileReader {
	ext = strings.ToLower(ext)
	for _, r := range readers {
		if r.CanRead(ext) {
			return r
		}
	}
	return nil
}
