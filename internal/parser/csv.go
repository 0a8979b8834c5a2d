package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/redlinehq/redline/internal/doc"
)

// CSVParser handles CSV files: each row becomes a "Header: value" line so the
// reasoning service sees labeled fields.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doc.Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	var out section
	if len(records) > 0 {
		headers := records[0]
		for _, row := range records[1:] {
			var line strings.Builder
			for j, cell := range row {
				if j > 0 {
					line.WriteString(", ")
				}
				if j < len(headers) {
					line.WriteString(headers[j] + ": " + cell)
				} else {
					line.WriteString(cell)
				}
			}
			out.add(line.String())
		}
	}

	return &doc.Document{
		Title: titleFromFilename(filename, ".csv"),
		Text:  out.text(),
	}, nil
}
