package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// Table is a parsed record table with its column order.
type Table struct {
	Header  []string
	Records []Record
}

// ReadCSV parses a headered CSV table. Every row must have as many
// cells as the header.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.EmptyInputError("csv table")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if seen[h] {
			return nil, errors.Newf(errors.CodeValidation, "duplicate column %q", h)
		}
		seen[h] = true
	}

	t := &Table{Header: header}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", line, err)
		}

		fields := make(map[string]string, len(header))
		for i, h := range header {
			fields[h] = row[i]
		}
		t.Records = append(t.Records, Record{fields: fields})
	}

	return t, nil
}

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// RequireColumns fails unless every key is a column of t.
func (t *Table) RequireColumns(keys ...string) error {
	have := make(map[string]bool, len(t.Header))
	for _, h := range t.Header {
		have[h] = true
	}
	for _, k := range keys {
		if !have[k] {
			return errors.Newf(errors.CodeValidation, "missing column %q", k)
		}
	}
	return nil
}

// WriteCSV writes records under header. Missing fields are written empty.
func WriteCSV(w io.Writer, header []string, records []Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, r := range records {
		for i, h := range header {
			row[i] = r.fields[h]
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes records to path, creating or truncating it.
func WriteCSVFile(path string, header []string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := WriteCSV(f, header, records); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
