package pipeline

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jittakal/kafwarehouse/internal/window"
	"github.com/jittakal/kafwarehouse/pkg/event"
	pkgsink "github.com/jittakal/kafwarehouse/pkg/sink"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock is a settable clock shared between the test and the workers.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeSource feeds pre-loaded events through the Source interface.
type fakeSource struct {
	events chan *event.RawEvent
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan *event.RawEvent, 100),
		errs:   make(chan error, 1),
	}
}

func (s *fakeSource) Subscribe(ctx context.Context, topics []string) error { return nil }

func (s *fakeSource) Consume(ctx context.Context) (<-chan *event.RawEvent, <-chan error, error) {
	return s.events, s.errs, nil
}

func (s *fakeSource) Close() error { return nil }

// stubDecoder decodes the value bytes as a decimal record id.
type stubDecoder struct{}

func (d *stubDecoder) Decode(value []byte) (*event.DecodedRecord, error) {
	id, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return nil, err
	}
	return &event.DecodedRecord{
		ID:         id,
		FirstName:  "First",
		LastName:   "Last",
		Email:      "user@example.com",
		Op:         event.OpCodeCreate,
		SourceTsMs: id,
		LSN:        id,
	}, nil
}

// memSink collects appended windows.
type memSink struct {
	mu      sync.Mutex
	windows map[int64][]event.Row
}

func newMemSink() *memSink {
	return &memSink{windows: make(map[int64][]event.Row)}
}

func (s *memSink) Open(ctx context.Context) error { return nil }

func (s *memSink) Append(ctx context.Context, w event.Window, rows []event.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[w.Key()] = append([]event.Row(nil), rows...)
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) rowsIn(windowStart int64) []event.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[windowStart]
}

func (s *memSink) windowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func rawAt(id int64, arrivalMS int64, committed *atomic.Int64) *event.RawEvent {
	return &event.RawEvent{
		Value:       []byte(strconv.FormatInt(id, 10)),
		Topic:       "customers",
		Partition:   0,
		Offset:      id,
		ArrivalTime: time.UnixMilli(arrivalMS),
		CommitFunc: func() error {
			committed.Add(1)
			return nil
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestPipeline(source *fakeSource, sink pkgsink.Sink, clock window.Clock, drainPolicy string) *Pipeline {
	return New(
		Config{
			Topics: []string{"customers"},
			Window: window.Config{
				Size:        2 * time.Second,
				LatePolicy:  window.LatePolicyDrop,
				DrainPolicy: drainPolicy,
			},
			BufferSize:   10,
			TickInterval: 10 * time.Millisecond,
		},
		source,
		&stubDecoder{},
		sink,
		nil,
		clock,
		testLogger(),
		nil,
		nil,
	)
}

func TestPipelineFlushesFiredWindows(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	source := newFakeSource()
	sink := newMemSink()
	p := newTestPipeline(source, sink, clock, window.DrainPolicyFlush)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var committed atomic.Int64
	source.events <- rawAt(1, 100, &committed)
	source.events <- rawAt(2, 1900, &committed)

	waitFor(t, 2*time.Second, func() bool { return p.Running() })

	// Window [0,2000) fires once the watermark passes its end.
	clock.Set(time.UnixMilli(2100))
	waitFor(t, 2*time.Second, func() bool { return len(sink.rowsIn(0)) == 2 })

	rows := sink.rowsIn(0)
	if rows[0].ID != 1 || rows[1].ID != 2 {
		t.Errorf("window rows = %d,%d, want 1,2", rows[0].ID, rows[1].ID)
	}

	// Offsets commit only after the flush.
	waitFor(t, 2*time.Second, func() bool { return committed.Load() == 2 })

	cancel()
	<-done
}

func TestPipelineDropsLateRecords(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	source := newFakeSource()
	sink := newMemSink()
	p := newTestPipeline(source, sink, clock, window.DrainPolicyFlush)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var committed atomic.Int64
	source.events <- rawAt(1, 100, &committed)

	clock.Set(time.UnixMilli(2100))
	waitFor(t, 2*time.Second, func() bool { return len(sink.rowsIn(0)) == 1 })

	// Arrival inside the already fired window is late. It never reaches the
	// sink, but its offset is still committed.
	source.events <- rawAt(9, 500, &committed)
	waitFor(t, 2*time.Second, func() bool { return committed.Load() == 2 })

	if got := len(sink.rowsIn(0)); got != 1 {
		t.Errorf("fired window has %d rows after late arrival, want 1", got)
	}
	if sink.windowCount() != 1 {
		t.Errorf("sink holds %d windows, want 1", sink.windowCount())
	}

	cancel()
	<-done
}

func TestPipelineDrainFlushOnShutdown(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	source := newFakeSource()
	sink := newMemSink()
	p := newTestPipeline(source, sink, clock, window.DrainPolicyFlush)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var committed atomic.Int64
	source.events <- rawAt(1, 100, &committed)
	source.events <- rawAt(2, 300, &committed)

	// No tick fires the window; shutdown drains it.
	waitFor(t, 2*time.Second, func() bool { return committed.Load() == 0 && p.Running() })
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if got := len(sink.rowsIn(0)); got != 2 {
		t.Errorf("drained window has %d rows, want 2", got)
	}
	if committed.Load() != 2 {
		t.Errorf("committed %d offsets after drain, want 2", committed.Load())
	}
}

// ctxSink rejects appends once the append context is cancelled, the way a
// network-backed sink does.
type ctxSink struct {
	memSink
}

func (s *ctxSink) Append(ctx context.Context, w event.Window, rows []event.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memSink.Append(ctx, w, rows)
}

func TestPipelineDrainFlushSurvivesCancelledRunContext(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	source := newFakeSource()
	sink := &ctxSink{memSink: memSink{windows: make(map[int64][]event.Row)}}
	p := newTestPipeline(source, sink, clock, window.DrainPolicyFlush)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var committed atomic.Int64
	source.events <- rawAt(1, 100, &committed)
	source.events <- rawAt(2, 300, &committed)

	waitFor(t, 2*time.Second, func() bool { return committed.Load() == 0 && p.Running() })
	time.Sleep(50 * time.Millisecond)

	// The run context is cancelled before the drain flushes; the sink still
	// has to see every open window.
	cancel()
	err := <-done

	if err != nil && err != context.Canceled {
		t.Errorf("Run() = %v, want nil or context.Canceled", err)
	}
	if got := len(sink.rowsIn(0)); got != 2 {
		t.Errorf("drained window has %d rows, want 2", got)
	}
	if committed.Load() != 2 {
		t.Errorf("committed %d offsets after drain, want 2", committed.Load())
	}
}

func TestPipelineDrainDiscardOnShutdown(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	source := newFakeSource()
	sink := newMemSink()
	p := newTestPipeline(source, sink, clock, window.DrainPolicyDiscard)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var committed atomic.Int64
	source.events <- rawAt(1, 100, &committed)

	waitFor(t, 2*time.Second, func() bool { return p.Running() })
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if sink.windowCount() != 0 {
		t.Errorf("sink holds %d windows after discard drain, want 0", sink.windowCount())
	}
	if committed.Load() != 0 {
		t.Errorf("committed %d offsets after discard, want 0", committed.Load())
	}
}

func TestPipelineFatalOnDecodeFailure(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	source := newFakeSource()
	sink := newMemSink()
	p := newTestPipeline(source, sink, clock, window.DrainPolicyFlush)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	source.events <- &event.RawEvent{
		Value:       []byte("not-a-number"),
		Topic:       "customers",
		ArrivalTime: time.UnixMilli(100),
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Run() = nil, want decode error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not stop on decode failure")
	}
}

// capturePublisher records published late records.
type capturePublisher struct {
	mu        sync.Mutex
	published []event.Window
}

func (p *capturePublisher) Publish(ctx context.Context, raw *event.RawEvent, w event.Window) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, w)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *capturePublisher) windowAt(i int) event.Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[i]
}

func TestPipelineRoutesLateRecords(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	source := newFakeSource()
	sink := newMemSink()
	latePub := &capturePublisher{}

	p := New(
		Config{
			Topics: []string{"customers"},
			Window: window.Config{
				Size:        2 * time.Second,
				LatePolicy:  window.LatePolicyRoute,
				DrainPolicy: window.DrainPolicyFlush,
			},
			BufferSize:   10,
			TickInterval: 10 * time.Millisecond,
		},
		source,
		&stubDecoder{},
		sink,
		latePub,
		clock,
		testLogger(),
		nil,
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var committed atomic.Int64
	source.events <- rawAt(1, 100, &committed)

	clock.Set(time.UnixMilli(2100))
	waitFor(t, 2*time.Second, func() bool { return len(sink.rowsIn(0)) == 1 })

	source.events <- rawAt(9, 500, &committed)
	waitFor(t, 2*time.Second, func() bool { return latePub.count() == 1 })

	if got := latePub.windowAt(0); got.Start.UnixMilli() != 0 || got.End.UnixMilli() != 2000 {
		t.Errorf("routed window = %s, want [0,2000)", got)
	}
	if got := len(sink.rowsIn(0)); got != 1 {
		t.Errorf("fired window has %d rows after routed late arrival, want 1", got)
	}

	cancel()
	<-done
}

func TestPipelinePartitionIsolation(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	source := newFakeSource()
	sink := newMemSink()
	p := newTestPipeline(source, sink, clock, window.DrainPolicyFlush)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var committed atomic.Int64
	a := rawAt(1, 100, &committed)
	b := rawAt(2, 200, &committed)
	b.Partition = 1
	source.events <- a
	source.events <- b

	clock.Set(time.UnixMilli(2100))
	// Both partitions contribute to the same processing-time window.
	waitFor(t, 2*time.Second, func() bool { return len(sink.rowsIn(0)) > 0 && committed.Load() == 2 })

	cancel()
	<-done
}
