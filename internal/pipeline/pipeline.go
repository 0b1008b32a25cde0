// Package pipeline wires the source, decoder, window assigner, projector
// and sink into the ingestion flow.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jittakal/kafwarehouse/internal/errors"
	"github.com/jittakal/kafwarehouse/internal/projector"
	"github.com/jittakal/kafwarehouse/internal/window"
	"github.com/jittakal/kafwarehouse/pkg/consumer"
	"github.com/jittakal/kafwarehouse/pkg/event"
	pkgsink "github.com/jittakal/kafwarehouse/pkg/sink"
)

// Decoder turns raw change-event bytes into typed records.
type Decoder interface {
	Decode(value []byte) (*event.DecodedRecord, error)
}

// MetricsCollector defines metrics operations for the pipeline.
type MetricsCollector interface {
	IncRecordsDecoded(topic string, partition int32)
	IncLateRecordsRouted(partition string)
}

// Config contains pipeline configuration.
type Config struct {
	Topics     []string
	Window     window.Config
	BufferSize int

	// TickInterval drives watermark advancement and window firing checks.
	// Zero picks a quarter of the window size.
	TickInterval time.Duration
}

// Pipeline runs the full ingestion flow. Records are demultiplexed onto one
// worker per source partition; each worker owns its window assigner, so
// per-partition order is preserved end to end and no locking is needed on
// window state.
type Pipeline struct {
	config    Config
	source    consumer.Source
	decoder   Decoder
	projector *projector.Projector
	sink      pkgsink.Sink
	latePub   consumer.LatePublisher
	clock     window.Clock
	logger    *slog.Logger
	metrics   MetricsCollector

	windowMetrics window.MetricsCollector
	running       atomic.Bool
}

// New creates a pipeline.
func New(
	config Config,
	source consumer.Source,
	decoder Decoder,
	sink pkgsink.Sink,
	latePub consumer.LatePublisher,
	clock window.Clock,
	logger *slog.Logger,
	metrics MetricsCollector,
	windowMetrics window.MetricsCollector,
) *Pipeline {
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.TickInterval <= 0 {
		config.TickInterval = config.Window.Size / 4
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 500 * time.Millisecond
	}
	if clock == nil {
		clock = window.SystemClock{}
	}
	return &Pipeline{
		config:        config,
		source:        source,
		decoder:       decoder,
		projector:     projector.New(),
		sink:          sink,
		latePub:       latePub,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
		windowMetrics: windowMetrics,
	}
}

// Running reports whether the pipeline is consuming.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run consumes until the context is cancelled or a fatal error occurs.
// Decode and projection failures are fatal: the contract guarantees every
// record on the topic is decodable, so a failure means a broken deployment,
// not a bad record.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.source.Subscribe(ctx, p.config.Topics); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := p.sink.Open(ctx); err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}

	events, sourceErrs, err := p.source.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	p.running.Store(true)
	defer p.running.Store(false)

	p.logger.Info("pipeline started",
		"topics", p.config.Topics,
		"window_size", p.config.Window.Size,
		"allowed_lateness", p.config.Window.AllowedLateness,
		"late_policy", p.config.Window.LatePolicy,
		"drain_policy", p.config.Window.DrainPolicy,
	)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	workers := make(map[event.PartitionID]chan *event.RawEvent)
	fatal := make(chan error, 1)

	escalate := func(err error) {
		select {
		case fatal <- err:
			cancel()
		default:
		}
	}

	stopWorkers := func() {
		for _, ch := range workers {
			close(ch)
		}
		wg.Wait()
	}

	for {
		select {
		case raw, ok := <-events:
			if !ok {
				stopWorkers()
				select {
				case err := <-fatal:
					return err
				default:
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.ErrSourceClosed
			}
			pid := raw.PartitionID()
			ch, exists := workers[pid]
			if !exists {
				ch = make(chan *event.RawEvent, p.config.BufferSize)
				workers[pid] = ch
				wg.Add(1)
				go func(pid event.PartitionID, ch <-chan *event.RawEvent) {
					defer wg.Done()
					if err := p.partitionWorker(workerCtx, pid, ch); err != nil {
						escalate(err)
					}
				}(pid, ch)
			}
			select {
			case ch <- raw:
			case <-workerCtx.Done():
				stopWorkers()
				return workerCtx.Err()
			}

		case err, ok := <-sourceErrs:
			if ok && err != nil {
				p.logger.Error("source error", "error", err)
				stopWorkers()
				return fmt.Errorf("source failed: %w", err)
			}

		case <-ctx.Done():
			p.logger.Info("pipeline shutting down")
			stopWorkers()
			select {
			case err := <-fatal:
				return err
			default:
			}
			return ctx.Err()

		case err := <-fatal:
			stopWorkers()
			return err
		}
	}
}

// partitionWorker processes one partition's records in order. It owns the
// partition's window assigner; a ticker advances the watermark so windows
// fire even when the partition goes quiet.
func (p *Pipeline) partitionWorker(ctx context.Context, pid event.PartitionID, records <-chan *event.RawEvent) error {
	assigner := window.New(p.config.Window, pid.String(), p.clock, p.logger, p.windowMetrics)

	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	drain := func() error {
		// By the time a drain runs the run context is usually already
		// cancelled; the final flushes still have to reach the sink, so
		// they get a context that outlives the cancellation.
		drainCtx := context.WithoutCancel(ctx)
		if err := p.flush(drainCtx, assigner.Advance()); err != nil {
			return err
		}
		return p.flush(drainCtx, assigner.Drain())
	}

	for {
		select {
		case raw, ok := <-records:
			if !ok {
				return drain()
			}
			if err := p.process(ctx, assigner, raw); err != nil {
				return err
			}

		case <-ticker.C:
			if err := p.flush(ctx, assigner.Advance()); err != nil {
				return err
			}

		case <-ctx.Done():
			return drain()
		}
	}
}

// process decodes, projects and window-assigns one record.
func (p *Pipeline) process(ctx context.Context, assigner *window.Assigner, raw *event.RawEvent) error {
	record, err := p.decoder.Decode(raw.Value)
	if err != nil {
		return fmt.Errorf("decode failed at %s offset %d: %w", raw.PartitionID(), raw.Offset, err)
	}
	if p.metrics != nil {
		p.metrics.IncRecordsDecoded(raw.Topic, raw.Partition)
	}

	row, err := p.projector.Project(record)
	if err != nil {
		return fmt.Errorf("projection failed at %s offset %d: %w", raw.PartitionID(), raw.Offset, err)
	}

	if assigner.Assign(raw.ArrivalTime, row, raw.CommitFunc) {
		return nil
	}
	return p.handleLate(ctx, raw)
}

// handleLate applies the configured late policy. The record's offset is
// committed either way: late records are accounted for, not redelivered.
func (p *Pipeline) handleLate(ctx context.Context, raw *event.RawEvent) error {
	if p.config.Window.LatePolicy == window.LatePolicyRoute && p.latePub != nil {
		w := event.WindowOf(raw.ArrivalTime, p.config.Window.Size)
		if err := p.latePub.Publish(ctx, raw, w); err != nil {
			return fmt.Errorf("failed to route late record: %w", err)
		}
		if p.metrics != nil {
			p.metrics.IncLateRecordsRouted(raw.PartitionID().String())
		}
	}

	if raw.CommitFunc != nil {
		if err := raw.CommitFunc(); err != nil {
			p.logger.Error("failed to commit late record offset",
				"partition", raw.PartitionID().String(),
				"offset", raw.Offset,
				"error", err,
			)
		}
	}
	return nil
}

// flush appends each fired window to the sink and then, and only then, runs
// the window's offset commits.
func (p *Pipeline) flush(ctx context.Context, fired []window.Fired) error {
	for _, f := range fired {
		if len(f.Rows) > 0 {
			if err := p.sink.Append(ctx, f.Window, f.Rows); err != nil {
				return fmt.Errorf("failed to flush window %s: %w", f.Window, err)
			}
		}
		p.logger.Info("flushed window",
			"window", f.Window.String(),
			"rows", len(f.Rows),
		)

		for _, commit := range f.Commits {
			if err := commit(); err != nil {
				// The window is already flushed; a failed commit means the
				// records will be redelivered, which at-least-once allows.
				p.logger.Error("offset commit failed after flush",
					"window", f.Window.String(),
					"error", err,
				)
			}
		}
	}
	return nil
}
