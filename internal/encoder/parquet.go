package encoder

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/kafwarehouse/internal/errors"
	pkgencoder "github.com/jittakal/kafwarehouse/pkg/encoder"
	"github.com/jittakal/kafwarehouse/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgencoder.RowEncoder = (*ParquetEncoder)(nil)

// ParquetEncoder writes rows as a parquet file using the struct tags on
// event.Row for the schema.
type ParquetEncoder struct{}

// NewParquetEncoder creates a parquet encoder.
func NewParquetEncoder() *ParquetEncoder {
	return &ParquetEncoder{}
}

// Encode writes rows to filePath.
func (e *ParquetEncoder) Encode(filePath string, rows []event.Row) (int64, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return 0, &errors.SinkWriteError{Destination: "file", Operation: "create", Err: err}
	}
	defer file.Close()

	writer := parquet.NewGenericWriter[event.Row](file)
	if _, err := writer.Write(rows); err != nil {
		return 0, &errors.SinkWriteError{Destination: "file", Operation: "write", Err: err}
	}
	if err := writer.Close(); err != nil {
		return 0, &errors.SinkWriteError{Destination: "file", Operation: "write", Err: err}
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
func (e *ParquetEncoder) Format() string { return "parquet" }

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string { return ".parquet" }
