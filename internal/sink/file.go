// Package sink implements warehouse sink implementations for fired windows.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jittakal/kafwarehouse/internal/encoder"
	pkgencoder "github.com/jittakal/kafwarehouse/pkg/encoder"
	"github.com/jittakal/kafwarehouse/pkg/event"
	pkgsink "github.com/jittakal/kafwarehouse/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgsink.Sink = (*FileSink)(nil)

// MetricsCollector defines metrics operations for sinks.
type MetricsCollector interface {
	AddRowsAppended(destination string, status string, count int)
	IncSinkRetries(destination string)
	IncSinkErrors(destination string, operation string)
	ObserveAppendDuration(destination string, duration float64)
}

// FileConfig contains file sink configuration.
type FileConfig struct {
	// OutputPath is the base path for shard files. The window bounds and
	// shard index are appended to its last element.
	OutputPath string
	Format     string
	Shards     int
}

// FileSink writes each fired window as a set of shard files under a base
// path. Shard names are deterministic for a given window and shard count,
// so re-delivery of a window overwrites the previous files instead of
// accumulating duplicates.
type FileSink struct {
	basePath string
	baseName string
	shards   int
	encoder  pkgencoder.RowEncoder
	logger   *slog.Logger
	metrics  MetricsCollector
	mu       sync.Mutex
}

// NewFileSink creates a new file sink.
func NewFileSink(config FileConfig, logger *slog.Logger, metrics MetricsCollector) (*FileSink, error) {
	if config.OutputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	shards := config.Shards
	if shards <= 0 {
		shards = 1
	}

	rowEncoder, err := encoder.NewFactory(config.Format).CreateEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	cleanPath := strings.TrimPrefix(config.OutputPath, "file://")

	return &FileSink{
		basePath: filepath.Dir(cleanPath),
		baseName: filepath.Base(cleanPath),
		shards:   shards,
		encoder:  rowEncoder,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Open ensures the output directory exists.
func (s *FileSink) Open(ctx context.Context) error {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("file", "mkdir")
		}
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	s.logger.Info("file sink opened",
		"base_path", s.basePath,
		"format", s.encoder.Format(),
		"shards", s.shards,
	)
	return nil
}

// Append writes the window's rows across the configured shard files.
func (s *FileSink) Append(ctx context.Context, w event.Window, rows []event.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	startTime := time.Now()
	var totalBytes int64

	for shard := 0; shard < s.shards; shard++ {
		shardRows := shardSlice(rows, shard, s.shards)
		path := s.shardPath(w, shard)

		size, err := s.encoder.Encode(path, shardRows)
		if err != nil {
			if s.metrics != nil {
				s.metrics.IncSinkErrors("file", "encode")
				s.metrics.AddRowsAppended("file", "error", len(rows))
			}
			return fmt.Errorf("failed to write shard %d of window %s: %w", shard, w, err)
		}
		totalBytes += size
	}

	duration := time.Since(startTime)
	s.logger.Info("wrote window to files",
		"window", w.String(),
		"row_count", len(rows),
		"shards", s.shards,
		"total_bytes", totalBytes,
		"duration_ms", duration.Milliseconds(),
	)

	if s.metrics != nil {
		s.metrics.AddRowsAppended("file", "success", len(rows))
		s.metrics.ObserveAppendDuration("file", duration.Seconds())
	}
	return nil
}

// Close closes the sink.
func (s *FileSink) Close() error {
	s.logger.Info("closing file sink")
	return nil
}

// shardPath builds the deterministic shard filename:
// <base>-<startms>-<endms>-NNNNN-of-NNNNN<ext>
func (s *FileSink) shardPath(w event.Window, shard int) string {
	name := fmt.Sprintf("%s-%d-%d-%05d-of-%05d%s",
		s.baseName,
		w.Start.UnixMilli(),
		w.End.UnixMilli(),
		shard,
		s.shards,
		s.encoder.FileExtension(),
	)
	return filepath.Join(s.basePath, name)
}

// shardSlice returns the contiguous chunk of rows owned by shard index i.
// The split depends only on the row count and shard count.
func shardSlice(rows []event.Row, i, n int) []event.Row {
	total := len(rows)
	base := total / n
	extra := total % n

	start := i*base + min(i, extra)
	length := base
	if i < extra {
		length++
	}
	return rows[start : start+length]
}
