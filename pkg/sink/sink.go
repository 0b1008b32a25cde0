// Package sink defines the destination contract for fired windows.
//
// A destination is chosen once at configuration time; the pipeline sees
// only this interface.
package sink

import (
	"context"

	"github.com/jittakal/kafwarehouse/pkg/event"
)

// Sink receives the row batch of each fired window.
//
// Append semantics are at-least-once: a batch may be re-delivered after a
// partial failure, and implementations must tolerate that by appending only
// (consumers needing exactly-once dedupe on (id, __lsn)).
type Sink interface {
	// Open prepares the destination: creates the target table if absent, or
	// the output directory for file destinations. Safe to call concurrently
	// with other writers performing the same preparation.
	Open(ctx context.Context) error

	// Append commits the rows of one fired window. Row order within the
	// batch carries no meaning.
	Append(ctx context.Context, w event.Window, rows []event.Row) error

	// Close closes the sink and releases resources.
	Close() error
}
