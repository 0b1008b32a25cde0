// Package consumer defines interfaces for pulling change events off the log.
//
// This package provides abstractions for consuming raw byte-pair records
// from Kafka and for routing late arrivals to an explicit late output.
package consumer

import (
	"context"

	"github.com/jittakal/kafwarehouse/pkg/event"
)

// Source reads raw change events from log topics.
type Source interface {
	// Subscribe subscribes to one or more topics.
	Subscribe(ctx context.Context, topics []string) error

	// Consume starts consuming records from subscribed topics.
	// Records are delivered in log order per partition; the event channel is
	// bounded, so a slow downstream throttles the fetch rate.
	Consume(ctx context.Context) (<-chan *event.RawEvent, <-chan error, error)

	// Close closes the source and releases resources.
	Close() error
}

// LatePublisher routes records that arrived after their window closed to an
// explicit late output topic.
type LatePublisher interface {
	// Publish sends a late record to the late output with its window context.
	Publish(ctx context.Context, raw *event.RawEvent, window event.Window) error

	// Close closes the publisher and releases resources.
	Close() error
}
