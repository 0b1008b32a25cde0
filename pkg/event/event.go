// Package event defines the core data types flowing through the CDC
// ingestion pipeline.
package event

import (
	"fmt"
	"time"
)

// RawEvent is a single byte-pair record pulled from the log topic.
// Key carries the upstream message key; the decode contract consumes only
// Value, so Key is retained for diagnostics and late routing but never
// interpreted.
type RawEvent struct {
	Key         []byte
	Value       []byte
	Topic       string
	Partition   int32
	Offset      int64
	ArrivalTime time.Time

	// CommitFunc advances the consumer offset past this record. It must be
	// invoked only after the window containing the record has been flushed.
	CommitFunc func() error
}

// PartitionID uniquely identifies a Kafka partition.
type PartitionID struct {
	Topic     string
	Partition int32
}

// String returns a string representation of the partition ID in the format "topic-partition".
func (p PartitionID) String() string {
	return fmt.Sprintf("%s-%d", p.Topic, p.Partition)
}

// PartitionID returns the partition identity of the raw event.
func (e *RawEvent) PartitionID() PartitionID {
	return PartitionID{Topic: e.Topic, Partition: e.Partition}
}

// Change-event operation codes as emitted by the upstream CDC connector.
const (
	OpCodeCreate = "c"
	OpCodeUpdate = "u"
	OpCodeDelete = "d"
	OpCodeRead   = "r"
)

// Operation names carried on projected rows.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpRead   = "read"
)

// DecodedRecord is a fully typed change event produced by the
// schema-registry decoder. Every field has been validated for presence and
// type; no partially decoded record exists.
type DecodedRecord struct {
	SchemaID   int
	ID         int64
	FirstName  string
	LastName   string
	Email      string
	Op         string // one of the OpCode* constants
	SourceTsMs int64
	LSN        int64
}

// Row is a flat record matching the declared warehouse schema. Field order
// mirrors the target table exactly: id, first_name, last_name, email, __op,
// __source_ts_ms, __lsn.
type Row struct {
	ID         int64  `json:"id" parquet:"id"`
	FirstName  string `json:"first_name" parquet:"first_name"`
	LastName   string `json:"last_name" parquet:"last_name"`
	Email      string `json:"email" parquet:"email"`
	Op         string `json:"__op" parquet:"__op"`
	SourceTsMs int64  `json:"__source_ts_ms" parquet:"__source_ts_ms"`
	LSN        int64  `json:"__lsn" parquet:"__lsn"`
}

// Window is a half-open, fixed-length processing-time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowOf returns the fixed window of the given size containing t.
// A timestamp exactly on a window boundary belongs to the window starting
// at that boundary. Computed on epoch milliseconds with floored division so
// pre-epoch timestamps still land in the correct interval.
func WindowOf(t time.Time, size time.Duration) Window {
	w := size.Milliseconds()
	ms := t.UnixMilli()
	rem := ms % w
	if rem < 0 {
		rem += w
	}
	start := ms - rem
	return Window{
		Start: time.UnixMilli(start).UTC(),
		End:   time.UnixMilli(start + w).UTC(),
	}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Key returns the window start as epoch milliseconds, the canonical map key
// for open-window state.
func (w Window) Key() int64 {
	return w.Start.UnixMilli()
}

// String returns the interval in a compact, log-friendly form.
func (w Window) String() string {
	return fmt.Sprintf("[%d,%d)", w.Start.UnixMilli(), w.End.UnixMilli())
}
