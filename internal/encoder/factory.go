package encoder

import (
	"fmt"

	pkgencoder "github.com/jittakal/kafwarehouse/pkg/encoder"
)

// Supported file formats.
const (
	FormatPretty  = "pretty"
	FormatParquet = "parquet"
)

// Factory creates encoders based on format.
type Factory struct {
	format string
}

// NewFactory creates a new encoder factory.
func NewFactory(format string) *Factory {
	return &Factory{format: format}
}

// CreateEncoder creates an encoder based on the configured format.
func (f *Factory) CreateEncoder() (pkgencoder.RowEncoder, error) {
	switch f.format {
	case FormatPretty:
		return NewPrettyEncoder(), nil
	case FormatParquet:
		return NewParquetEncoder(), nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
}

// SupportedFormats returns a list of supported file formats.
func SupportedFormats() []string {
	return []string{FormatPretty, FormatParquet}
}
