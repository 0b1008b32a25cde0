package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jittakal/kafwarehouse/internal/config/dto"
	"github.com/jittakal/kafwarehouse/internal/retry"
	pkgsink "github.com/jittakal/kafwarehouse/pkg/sink"
)

// Resolve picks the destination variant from configuration. An output path
// selects the file sink, otherwise the configured BigQuery table is used.
// Exactly one destination is active per run.
func Resolve(
	ctx context.Context,
	config dto.SinkConfig,
	retryConfig retry.Config,
	logger *slog.Logger,
	metrics MetricsCollector,
) (pkgsink.Sink, error) {
	if config.FileSinkSelected() {
		fileSink, err := NewFileSink(FileConfig{
			OutputPath: config.OutputPath,
			Format:     config.File.Format,
			Shards:     config.File.Shards,
		}, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create file sink: %w", err)
		}
		return fileSink, nil
	}

	bqSink, err := NewBigQuerySink(ctx, config.BigQuery, retryConfig, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery sink: %w", err)
	}
	return bqSink, nil
}
