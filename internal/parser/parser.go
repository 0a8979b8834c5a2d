// Package parser converts uploaded vendor documents into the flat text the
// review pipeline runs on. Whatever a parser emits here is the "original
// document": every chunk boundary and conflict offset refers to it, so
// parsers run once per job and their output is never rewritten.
package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/redlinehq/redline/internal/doc"
)

// Parser converts raw document bytes into a flat Document.
type Parser interface {
	Parse(r io.Reader, filename string) (*doc.Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// section accumulates heading/body blocks into flat document text separated
// by blank lines.
type section struct {
	sb strings.Builder
}

func (s *section) add(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	if s.sb.Len() > 0 {
		s.sb.WriteString("\n\n")
	}
	s.sb.WriteString(block)
}

func (s *section) text() string {
	return s.sb.String()
}

func titleFromFilename(filename string, exts ...string) string {
	name := filename
	for _, ext := range exts {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}
