// Late output publishing for records that miss their window.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafwarehouse/internal/errors"
	"github.com/jittakal/kafwarehouse/pkg/consumer"
	"github.com/jittakal/kafwarehouse/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ consumer.LatePublisher = (*LateOutputPublisher)(nil)

// LateRecord is the envelope published to the late output topic. The
// original value bytes are carried untouched so a downstream reprocessor
// can decode them with the same registry.
type LateRecord struct {
	OriginalKey       []byte    `json:"original_key,omitempty"`
	OriginalValue     []byte    `json:"original_value"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	ArrivalTime       time.Time `json:"arrival_time"`
	WindowStartMS     int64     `json:"window_start_ms"`
	WindowEndMS       int64     `json:"window_end_ms"`
	ProcessorID       string    `json:"processor_id"`
}

// LateOutputConfig contains late output configuration.
type LateOutputConfig struct {
	Enabled     bool
	TopicSuffix string
}

// LateOutputPublisher publishes late arrivals to a per-topic late output
// topic named <topic><suffix>.
type LateOutputPublisher struct {
	producer    sarama.SyncProducer
	config      LateOutputConfig
	logger      *slog.Logger
	mu          sync.RWMutex
	closed      bool
	processorID string
}

// NewLateOutputPublisher creates a new late output publisher.
func NewLateOutputPublisher(
	bootstrapServers []string,
	securityConfig SourceConfig,
	lateConfig LateOutputConfig,
	logger *slog.Logger,
	processorID string,
) (*LateOutputPublisher, error) {
	if !lateConfig.Enabled {
		logger.Info("late output is disabled")
		return &LateOutputPublisher{
			config:      lateConfig,
			logger:      logger,
			processorID: processorID,
			closed:      true,
		}, nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	// Reuse the source security settings
	if err := configureSecurity(saramaConfig, securityConfig); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(bootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("late output publisher created",
		"bootstrap_servers", bootstrapServers,
		"topic_suffix", lateConfig.TopicSuffix,
	)

	return &LateOutputPublisher{
		producer:    producer,
		config:      lateConfig,
		logger:      logger,
		processorID: processorID,
	}, nil
}

// Publish sends a late record to the late output topic with its window
// context.
func (p *LateOutputPublisher) Publish(ctx context.Context, raw *event.RawEvent, window event.Window) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrSourceClosed
	}

	if !p.config.Enabled {
		p.logger.Debug("late output disabled, skipping publish")
		return nil
	}

	lateTopic := raw.Topic + p.config.TopicSuffix

	lateRecord := LateRecord{
		OriginalKey:       raw.Key,
		OriginalValue:     raw.Value,
		OriginalTopic:     raw.Topic,
		OriginalPartition: raw.Partition,
		OriginalOffset:    raw.Offset,
		ArrivalTime:       raw.ArrivalTime.UTC(),
		WindowStartMS:     window.Start.UnixMilli(),
		WindowEndMS:       window.End.UnixMilli(),
		ProcessorID:       p.processorID,
	}

	lateData, err := json.Marshal(lateRecord)
	if err != nil {
		return fmt.Errorf("failed to marshal late record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: lateTopic,
		Key:   sarama.ByteEncoder(raw.Key),
		Value: sarama.ByteEncoder(lateData),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("original_topic"),
				Value: []byte(raw.Topic),
			},
			{
				Key:   []byte("missed_window"),
				Value: []byte(window.String()),
			},
			{
				Key:   []byte("processor_id"),
				Value: []byte(p.processorID),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish late record",
			"error", err,
			"late_topic", lateTopic,
			"original_offset", raw.Offset,
		)
		return fmt.Errorf("failed to send late record: %w", err)
	}

	p.logger.Info("published late record",
		"late_topic", lateTopic,
		"partition", partition,
		"offset", offset,
		"original_offset", raw.Offset,
		"missed_window", window.String(),
	)

	return nil
}

// Close closes the late output publisher.
func (p *LateOutputPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.logger.Info("closing late output publisher")

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}

	p.logger.Info("late output publisher closed")
	return nil
}
