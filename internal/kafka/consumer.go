// Package kafka implements the Kafka source and the late output publisher.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"

	"github.com/jittakal/kafwarehouse/internal/errors"
	"github.com/jittakal/kafwarehouse/pkg/consumer"
	"github.com/jittakal/kafwarehouse/pkg/event"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ consumer.Source = (*SaramaSource)(nil)
)

// SourceConfig contains Kafka consumer configuration.
type SourceConfig struct {
	BootstrapServers    []string
	GroupID             string
	SecurityProtocol    string
	SASLMechanism       string
	SASLUsername        string
	SASLPassword        string
	AutoOffsetReset     string
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	MaxPollIntervalMS   int
	ChannelBufferSize   int
}

// MetricsCollector defines metrics operations for the Kafka source.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncOffsetCommits(topic string, partition int32, status string)
	IncRebalances(groupID string)
}

// SaramaSource implements the consumer.Source interface using the Sarama
// library. Offsets are never auto-committed: each emitted record carries a
// CommitFunc that marks the offset, and the pipeline invokes it only after
// the record's window has been flushed.
type SaramaSource struct {
	consumerGroup sarama.ConsumerGroup
	config        SourceConfig
	logger        *slog.Logger
	metrics       MetricsCollector
	topics        []string
	ready         chan bool
	mu            sync.RWMutex
	closed        bool
}

// NewSaramaSource creates a new Kafka source using the Sarama library.
func NewSaramaSource(
	config SourceConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*SaramaSource, error) {
	saramaConfig := sarama.NewConfig()

	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)

	// Auto-commit would acknowledge records before their window is flushed.
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = false

	saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond

	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}

	saramaConfig.Consumer.Return.Errors = true

	if err := configureSecurity(saramaConfig, config); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	consumerGroup, err := sarama.NewConsumerGroup(
		config.BootstrapServers,
		config.GroupID,
		saramaConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka source created",
		"group_id", config.GroupID,
		"bootstrap_servers", config.BootstrapServers,
		"session_timeout_ms", config.SessionTimeoutMS,
		"max_poll_interval_ms", config.MaxPollIntervalMS,
	)

	return &SaramaSource{
		consumerGroup: consumerGroup,
		config:        config,
		logger:        logger,
		metrics:       metrics,
		ready:         make(chan bool),
	}, nil
}

// Subscribe subscribes to the specified topics.
func (c *SaramaSource) Subscribe(ctx context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrSourceClosed
	}

	c.topics = topics
	c.logger.Info("subscribed to topics", "topics", topics)
	return nil
}

// Consume starts consuming records and returns channels for events and errors.
func (c *SaramaSource) Consume(ctx context.Context) (<-chan *event.RawEvent, <-chan error, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, errors.ErrSourceClosed
	}
	c.mu.RUnlock()

	bufferSize := c.config.ChannelBufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}
	eventChan := make(chan *event.RawEvent, bufferSize)
	errorChan := make(chan error, 10)

	handler := &sourceGroupHandler{
		source:    c,
		eventChan: eventChan,
		errorChan: errorChan,
		ready:     c.ready,
	}

	go func() {
		defer close(eventChan)
		defer close(errorChan)

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("source context cancelled")
				return
			default:
				if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
					c.logger.Error("consumer group error", "error", err)
					errorChan <- err
					return
				}

				if ctx.Err() != nil {
					return
				}
			}
		}
	}()

	// Wait for the first session to be set up
	<-c.ready

	c.logger.Info("kafka source started and ready")
	return eventChan, errorChan, nil
}

// Close closes the source and releases resources.
func (c *SaramaSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info("closing kafka source")

	if err := c.consumerGroup.Close(); err != nil {
		c.logger.Error("error closing consumer group", "error", err)
		return err
	}

	c.logger.Info("kafka source closed")
	return nil
}

// sourceGroupHandler implements sarama.ConsumerGroupHandler.
type sourceGroupHandler struct {
	source    *SaramaSource
	eventChan chan<- *event.RawEvent
	errorChan chan<- error
	ready     chan bool
	readyOnce sync.Once
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *sourceGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.source.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"claims", session.Claims(),
	)

	if h.source.metrics != nil {
		h.source.metrics.IncRebalances(h.source.config.GroupID)
	}

	h.readyOnce.Do(func() {
		close(h.ready)
	})
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *sourceGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.source.logger.Info("consumer group session cleanup",
		"member_id", session.MemberID(),
	)
	return nil
}

// ConsumeClaim emits records from a partition in log order. ArrivalTime is
// stamped at receipt and is the only timestamp used for window assignment.
func (h *sourceGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	topic := claim.Topic()
	partition := claim.Partition()

	h.source.logger.Info("started consuming partition",
		"topic", topic,
		"partition", partition,
		"initial_offset", claim.InitialOffset(),
	)

	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			msg := message
			raw := &event.RawEvent{
				Key:         msg.Key,
				Value:       msg.Value,
				Topic:       msg.Topic,
				Partition:   msg.Partition,
				Offset:      msg.Offset,
				ArrivalTime: time.Now(),
				CommitFunc: func() error {
					session.MarkMessage(msg, "")
					session.Commit()
					if h.source.metrics != nil {
						h.source.metrics.IncOffsetCommits(msg.Topic, msg.Partition, "success")
					}
					return nil
				},
			}

			select {
			case h.eventChan <- raw:
				if h.source.metrics != nil {
					h.source.metrics.IncMessagesConsumed(msg.Topic, msg.Partition)
				}
			case <-session.Context().Done():
				return nil
			}

		case <-session.Context().Done():
			h.source.logger.Info("session context done, stopping partition consumption",
				"topic", topic,
				"partition", partition,
			)
			return nil
		}
	}
}

// MSKAccessTokenProvider implements sarama.AccessTokenProvider for AWS MSK
// IAM authentication.
type MSKAccessTokenProvider struct {
	region string
}

// Token generates an AWS MSK IAM authentication token.
func (m *MSKAccessTokenProvider) Token() (*sarama.AccessToken, error) {
	token, expiryMs, err := signer.GenerateAuthToken(context.Background(), m.region)
	if err != nil {
		return nil, fmt.Errorf("failed to generate MSK IAM token: %w", err)
	}

	return &sarama.AccessToken{
		Token: token,
		Extensions: map[string]string{
			"expiry": fmt.Sprintf("%d", expiryMs),
		},
	}, nil
}

// offsetInitial converts the AutoOffsetReset config to Sarama's offset constant.
func offsetInitial(autoOffsetReset string) int64 {
	switch autoOffsetReset {
	case "earliest":
		return sarama.OffsetOldest
	case "latest":
		return sarama.OffsetNewest
	default:
		return sarama.OffsetNewest
	}
}

func configureSecurity(config *sarama.Config, sourceConfig SourceConfig) error {
	switch sourceConfig.SecurityProtocol {
	case "PLAINTEXT":
		return nil

	case "SASL_PLAINTEXT", "SASL_SSL":
		config.Net.SASL.Enable = true

		switch sourceConfig.SASLMechanism {
		case "PLAIN":
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
			config.Net.SASL.User = sourceConfig.SASLUsername
			config.Net.SASL.Password = sourceConfig.SASLPassword

		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			config.Net.SASL.User = sourceConfig.SASLUsername
			config.Net.SASL.Password = sourceConfig.SASLPassword
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: scramSHA256}
			}

		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			config.Net.SASL.User = sourceConfig.SASLUsername
			config.Net.SASL.Password = sourceConfig.SASLPassword
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: scramSHA512}
			}

		case "AWS_MSK_IAM":
			config.Net.SASL.Mechanism = sarama.SASLTypeOAuth
			config.Net.SASL.Enable = true

			// OAuth doesn't use username/password, but Sarama requires them
			config.Net.SASL.User = "token"
			config.Net.SASL.Password = "token"

			config.Net.SASL.TokenProvider = &MSKAccessTokenProvider{
				region: "us-east-1",
			}

		default:
			return fmt.Errorf("unsupported SASL mechanism: %s", sourceConfig.SASLMechanism)
		}

		if sourceConfig.SecurityProtocol == "SASL_SSL" {
			config.Net.TLS.Enable = true
			config.Net.TLS.Config = &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: true, // For local development with self-signed certs
			}
		}

	case "SSL":
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, // For local development with self-signed certs
		}

	default:
		return fmt.Errorf("unsupported security protocol: %s", sourceConfig.SecurityProtocol)
	}

	return nil
}
