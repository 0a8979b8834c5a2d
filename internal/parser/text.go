package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/redlinehq/redline/internal/doc"
)

// TextParser handles plain text files.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doc.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out section
	var current strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				out.add(current.String())
				current.Reset()
			}
		} else {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	if current.Len() > 0 {
		out.add(current.String())
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &doc.Document{
		Title: titleFromFilename(filename, ".txt"),
		Text:  out.text(),
	}, nil
}
