package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler hands records to a pool of writer goroutines through a bounded
// queue. A full queue drops the record and counts it; Close reports the total.
type AsyncHandler struct {
	inner slog.Handler
	state *asyncState
}

// asyncState is shared by every handler derived through WithAttrs/WithGroup.
type asyncState struct {
	queue   chan asyncRecord
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
	sink    slog.Handler
}

type asyncRecord struct {
	h   slog.Handler
	rec slog.Record
}

// NewAsyncHandler creates an AsyncHandler with the given queue capacity and writer count.
func NewAsyncHandler(inner slog.Handler, queueSize, writers int) *AsyncHandler {
	st := &asyncState{
		queue: make(chan asyncRecord, queueSize),
		sink:  inner,
	}
	for range writers {
		st.wg.Add(1)
		go st.write()
	}
	return &AsyncHandler{inner: inner, state: st}
}

func (s *asyncState) write() {
	defer s.wg.Done()
	for r := range s.queue {
		_ = r.h.Handle(context.Background(), r.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record without blocking.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.state.queue <- asyncRecord{h: h.inner, rec: rec.Clone()}:
	default:
		h.state.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), state: h.state}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), state: h.state}
}

// DroppedCount returns the number of records dropped because the queue was full.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.state.dropped.Load()
}

// Close drains the queue and waits for the writers. A non-zero drop count is
// written synchronously to the underlying handler. Safe to call more than once.
func (h *AsyncHandler) Close() {
	h.state.once.Do(func() {
		close(h.state.queue)
		h.state.wg.Wait()
		if n := h.state.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.state.sink.Handle(context.Background(), rec)
		}
	})
}
