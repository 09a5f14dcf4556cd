// Package dataset samples uploaded CSV data and materializes the dataset a
// chat session refers to.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	DefaultFileName = "data.csv"
	SampleSize      = 4
)

var ErrNoHeaders = errors.New("csv has no header row")

// Sample picks n rows spread evenly from first to last. Fewer rows than n
// are returned whole.
func Sample(rows []map[string]string, n int) []map[string]string {
	if n <= 0 {
		return []map[string]string{}
	}
	if len(rows) <= n {
		out := make([]map[string]string, len(rows))
		copy(out, rows)
		return out
	}
	if n == 1 {
		return []map[string]string{rows[0]}
	}

	out := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, rows[i*(len(rows)-1)/(n-1)])
	}
	return out
}

// ParseCSV reads a CSV with a header row. Header names are trimmed and blank
// lines skipped.
func ParseCSV(r io.Reader) ([]string, []map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrNoHeaders
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row: %w", err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

// BuildCSV renders rows under headers, quoting where needed. Missing cells
// are empty.
func BuildCSV(headers []string, rows []map[string]string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(headers)
	record := make([]string, len(headers))
	for _, row := range rows {
		for i, h := range headers {
			record[i] = row[h]
		}
		_ = w.Write(record)
	}
	w.Flush()
	return buf.String()
}
