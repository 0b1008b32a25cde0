// Package encoder defines the interface for serializing row batches to files.
package encoder

import "github.com/jittakal/kafwarehouse/pkg/event"

// RowEncoder writes a batch of rows to a file.
type RowEncoder interface {
	// Encode writes rows to filePath and returns the number of bytes written.
	Encode(filePath string, rows []event.Row) (int64, error)

	// Format returns the encoding name (e.g. "pretty", "parquet").
	Format() string

	// FileExtension returns the file extension including the dot.
	FileExtension() string
}
