// Package window implements fixed processing-time window assignment.
package window

import (
	"log/slog"
	"sort"
	"time"

	"github.com/jittakal/kafwarehouse/pkg/event"
)

// Late and drain policies. Dropping late records is the only
// policy-sanctioned silent discard in the pipeline; it is still counted and
// logged.
const (
	LatePolicyDrop  = "drop"
	LatePolicyRoute = "route"

	DrainPolicyFlush   = "flush"
	DrainPolicyDiscard = "discard"
)

// Clock abstracts wall-clock time so window firing is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Config contains window assignment configuration.
type Config struct {
	Size            time.Duration
	AllowedLateness time.Duration
	LatePolicy      string
	DrainPolicy     string
}

// MetricsCollector defines metrics operations for the assigner.
type MetricsCollector interface {
	IncWindowsOpened(partition string)
	IncWindowsFired(partition string)
	IncLateRecordsDropped(partition string)
	SetOpenWindows(partition string, count float64)
}

// Fired is a closed window handed off for flushing. Its contents are
// immutable; Commits advance the source offsets of every contained record
// and must run only after a successful flush.
type Fired struct {
	Window  event.Window
	Rows    []event.Row
	Commits []func() error
}

type openWindow struct {
	window  event.Window
	rows    []event.Row
	commits []func() error
}

// Assigner groups rows into fixed, contiguous, non-overlapping
// processing-time windows. Each record is assigned to exactly one window by
// the floor of its arrival time over the window size; a timestamp exactly
// on a boundary opens the window starting there.
//
// An Assigner is owned by a single partition worker and is not safe for
// concurrent use. The watermark is processing time: it advances on every
// Assign and Advance call, and a window fires once the watermark reaches
// its end plus the allowed lateness.
type Assigner struct {
	cfg       Config
	clock     Clock
	partition string
	logger    *slog.Logger
	metrics   MetricsCollector

	open      map[int64]*openWindow
	watermark time.Time
}

// New creates an assigner for one partition's stream.
func New(cfg Config, partition string, clock Clock, logger *slog.Logger, metrics MetricsCollector) *Assigner {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Assigner{
		cfg:       cfg,
		clock:     clock,
		partition: partition,
		logger:    logger,
		metrics:   metrics,
		open:      make(map[int64]*openWindow),
	}
}

// Assign places a row into the window containing its arrival time.
// It returns false when the record is late: its window has already fired
// and may not reopen. The caller applies the configured late policy.
func (a *Assigner) Assign(arrival time.Time, row event.Row, commit func() error) bool {
	a.advanceWatermark()

	w := event.WindowOf(arrival, a.cfg.Size)
	if a.closed(w) {
		if a.cfg.LatePolicy == LatePolicyDrop {
			if a.metrics != nil {
				a.metrics.IncLateRecordsDropped(a.partition)
			}
			a.logger.Warn("dropping late record",
				"partition", a.partition,
				"window", w.String(),
				"arrival", arrival.UnixMilli(),
				"watermark", a.watermark.UnixMilli(),
			)
		}
		return false
	}

	ow, exists := a.open[w.Key()]
	if !exists {
		ow = &openWindow{window: w}
		a.open[w.Key()] = ow
		if a.metrics != nil {
			a.metrics.IncWindowsOpened(a.partition)
			a.metrics.SetOpenWindows(a.partition, float64(len(a.open)))
		}
		a.logger.Debug("opened window", "partition", a.partition, "window", w.String())
	}

	ow.rows = append(ow.rows, row)
	if commit != nil {
		ow.commits = append(ow.commits, commit)
	}
	return true
}

// Advance moves the watermark to the current processing time and returns
// every window whose end plus allowed lateness the watermark has reached,
// ordered by window start. Fired windows leave the open set and can never
// reopen.
func (a *Assigner) Advance() []Fired {
	a.advanceWatermark()

	var fired []Fired
	for key, ow := range a.open {
		if a.closed(ow.window) {
			fired = append(fired, Fired{
				Window:  ow.window,
				Rows:    ow.rows,
				Commits: ow.commits,
			})
			delete(a.open, key)
		}
	}

	if len(fired) == 0 {
		return nil
	}

	sort.Slice(fired, func(i, j int) bool {
		return fired[i].Window.Start.Before(fired[j].Window.Start)
	})

	if a.metrics != nil {
		for range fired {
			a.metrics.IncWindowsFired(a.partition)
		}
		a.metrics.SetOpenWindows(a.partition, float64(len(a.open)))
	}

	return fired
}

// Drain closes out all remaining open windows at shutdown. Under the flush
// policy every open window is returned for a best-effort final flush; under
// the discard policy the contents are dropped.
func (a *Assigner) Drain() []Fired {
	defer func() {
		a.open = make(map[int64]*openWindow)
		if a.metrics != nil {
			a.metrics.SetOpenWindows(a.partition, 0)
		}
	}()

	if a.cfg.DrainPolicy == DrainPolicyDiscard {
		for _, ow := range a.open {
			a.logger.Info("discarding open window on shutdown",
				"partition", a.partition,
				"window", ow.window.String(),
				"rows", len(ow.rows),
			)
		}
		return nil
	}

	var fired []Fired
	for _, ow := range a.open {
		fired = append(fired, Fired{
			Window:  ow.window,
			Rows:    ow.rows,
			Commits: ow.commits,
		})
	}
	sort.Slice(fired, func(i, j int) bool {
		return fired[i].Window.Start.Before(fired[j].Window.Start)
	})
	return fired
}

// OpenCount returns the number of currently open windows.
func (a *Assigner) OpenCount() int {
	return len(a.open)
}

func (a *Assigner) advanceWatermark() {
	if now := a.clock.Now(); now.After(a.watermark) {
		a.watermark = now
	}
}

// closed reports whether the watermark has passed the window's end plus the
// allowed lateness.
func (a *Assigner) closed(w event.Window) bool {
	return !a.watermark.Before(w.End.Add(a.cfg.AllowedLateness))
}
