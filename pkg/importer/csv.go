package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// csvRow looks values up by header name.
type csvRow struct {
	cols   map[string]int
	values []string
}

func (r csvRow) get(col string) string {
	if i, ok := r.cols[col]; ok && i < len(r.values) {
		return r.values[i]
	}
	return ""
}

// readCSV reads a header-first CSV export, calling fn for each well-formed
// row. Malformed rows become warnings.
func readCSV(data []byte, b *builder, normalize func(string) string, required string, fn func(row csvRow)) error {
	// Strip UTF-8 BOM if present
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("importer: failed to read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, col := range header {
		cols[normalize(col)] = i
	}
	if _, ok := cols[required]; !ok {
		return fmt.Errorf("importer: missing required column: %s", required)
	}

	line := 1
	for {
		line++
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			b.warn("row %d: failed to parse: %v", line, err)
			continue
		}
		if len(values) != len(header) {
			b.warn("row %d: column count mismatch (expected %d, got %d)", line, len(header), len(values))
			continue
		}
		fn(csvRow{cols: cols, values: values})
	}
}
