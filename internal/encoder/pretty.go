// Package encoder implements row batch encoders for the windowed file sink.
package encoder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jittakal/kafwarehouse/internal/errors"
	pkgencoder "github.com/jittakal/kafwarehouse/pkg/encoder"
	"github.com/jittakal/kafwarehouse/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgencoder.RowEncoder = (*PrettyEncoder)(nil)

// PrettyEncoder writes rows as a stream of indented JSON objects, one per
// row. The output is a diagnostic form: human-readable, and parseable back
// into the same row multiset with DecodePretty.
type PrettyEncoder struct{}

// NewPrettyEncoder creates a pretty-print encoder.
func NewPrettyEncoder() *PrettyEncoder {
	return &PrettyEncoder{}
}

// Encode writes rows to filePath.
func (e *PrettyEncoder) Encode(filePath string, rows []event.Row) (int64, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return 0, &errors.SinkWriteError{Destination: "file", Operation: "create", Err: err}
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return 0, &errors.SinkWriteError{Destination: "file", Operation: "write", Err: err}
		}
	}

	if err := file.Close(); err != nil {
		return 0, &errors.SinkWriteError{Destination: "file", Operation: "write", Err: err}
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat output file: %w", err)
	}
	return info.Size(), nil
}

// Format returns the encoding name.
func (e *PrettyEncoder) Format() string { return "pretty" }

// FileExtension returns the file extension.
func (e *PrettyEncoder) FileExtension() string { return ".json" }

// DecodePretty parses a pretty-printed row stream back into rows.
func DecodePretty(r io.Reader) ([]event.Row, error) {
	var rows []event.Row
	dec := json.NewDecoder(r)
	for {
		var row event.Row
		if err := dec.Decode(&row); err == io.EOF {
			return rows, nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to parse row stream: %w", err)
		}
		rows = append(rows, row)
	}
}

// DecodePrettyFile parses a pretty-printed row file.
func DecodePrettyFile(filePath string) ([]event.Row, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return DecodePretty(file)
}
