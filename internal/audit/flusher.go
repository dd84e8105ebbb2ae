package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"actiongate/pkg/platform/circuit"
	"actiongate/pkg/platform/clock"
)

// Sink durably stores batches of records. Write must be idempotent per
// (ChainID, Sequence) because failed batches are retried.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []Record) error
	Close() error
}

// FlushMetrics is the subset of platform metrics the flusher reports to.
type FlushMetrics interface {
	ObserveFlush(sink string, records int, err error)
	IncDropped(sink string, n int)
}

// Flusher moves records from the in-memory log to durable sinks off the
// append path. Each sink keeps its own bounded backlog and breaker, so one
// slow or failing sink never holds back the others.
type Flusher struct {
	interval   time.Duration
	maxBacklog int
	timeout    time.Duration
	clock      clock.Clock
	logger     *slog.Logger
	metrics    FlushMetrics

	mu    sync.Mutex
	sinks []*sinkState
}

type sinkState struct {
	sink    Sink
	breaker *circuit.Breaker
	backlog []Record
	dropped int
}

type FlusherOption func(*Flusher)

func WithFlushInterval(d time.Duration) FlusherOption {
	return func(f *Flusher) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithMaxBacklog bounds the records held per sink; the oldest are dropped.
func WithMaxBacklog(n int) FlusherOption {
	return func(f *Flusher) {
		if n > 0 {
			f.maxBacklog = n
		}
	}
}

func WithWriteTimeout(d time.Duration) FlusherOption {
	return func(f *Flusher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithFlushClock(c clock.Clock) FlusherOption {
	return func(f *Flusher) { f.clock = c }
}

func WithFlushLogger(logger *slog.Logger) FlusherOption {
	return func(f *Flusher) { f.logger = logger }
}

func WithFlushMetrics(m FlushMetrics) FlusherOption {
	return func(f *Flusher) { f.metrics = m }
}

func NewFlusher(sinks []Sink, opts ...FlusherOption) *Flusher {
	f := &Flusher{
		interval:   time.Second,
		maxBacklog: 10000,
		timeout:    5 * time.Second,
		clock:      clock.Real(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	for _, s := range sinks {
		f.sinks = append(f.sinks, &sinkState{
			sink:    s,
			breaker: circuit.New("audit-sink-"+s.Name(), circuit.WithFailureThreshold(3)),
		})
	}
	return f
}

// Observe queues rec for every sink. It never blocks.
func (f *Flusher) Observe(rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.sinks {
		st.backlog = append(st.backlog, rec)
		f.trimLocked(st)
	}
}

// trimLocked sheds the oldest records beyond the backlog bound. The sink's
// copy of the chain then has a gap that offline verification reports as
// missing records.
func (f *Flusher) trimLocked(st *sinkState) {
	over := len(st.backlog) - f.maxBacklog
	if over <= 0 {
		return
	}
	first, last := st.backlog[0].Sequence, st.backlog[over-1].Sequence
	st.backlog = st.backlog[over:]
	st.dropped += over
	if f.metrics != nil {
		f.metrics.IncDropped(st.sink.Name(), over)
	}
	f.logger.Error("audit sink backlog full, records dropped",
		"sink", st.sink.Name(),
		"first_sequence", first,
		"last_sequence", last,
	)
}

// Flush writes every sink's backlog once. Sinks are written concurrently;
// the joined error names each failing sink.
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	batches := make([][]Record, len(f.sinks))
	for i, st := range f.sinks {
		batches[i] = st.backlog
		st.backlog = nil
	}
	f.mu.Unlock()

	errs := make([]error, len(f.sinks))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range f.sinks {
		if len(batches[i]) == 0 {
			continue
		}
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(gctx, f.timeout)
			defer cancel()
			errs[i] = st.sink.Write(wctx, batches[i])
			return nil
		})
	}
	_ = g.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, st := range f.sinks {
		if len(batches[i]) == 0 {
			continue
		}
		if f.metrics != nil {
			f.metrics.ObserveFlush(st.sink.Name(), len(batches[i]), errs[i])
		}
		if errs[i] == nil {
			if _, change := st.breaker.RecordSuccess(); change.Closed {
				f.logger.InfoContext(ctx, "audit sink recovered", "sink", st.sink.Name())
			}
			continue
		}
		// Requeue ahead of anything observed while the write was in flight.
		st.backlog = append(batches[i], st.backlog...)
		f.trimLocked(st)
		if _, change := st.breaker.RecordFailure(); change.Opened {
			f.logger.ErrorContext(ctx, "audit sink circuit opened", "sink", st.sink.Name(), "error", errs[i])
		} else {
			f.logger.WarnContext(ctx, "audit sink write failed", "sink", st.sink.Name(), "error", errs[i])
		}
		errs[i] = errors.Join(errors.New(st.sink.Name()), errs[i])
	}
	return errors.Join(errs...)
}

// Run flushes on every tick until ctx is cancelled, then drains once more
// with a fresh deadline.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), f.timeout)
			defer cancel()
			if err := f.Flush(drainCtx); err != nil {
				f.logger.Error("final audit flush incomplete", "error", err)
			}
			return nil
		case <-ticker.C:
			_ = f.Flush(ctx)
		}
	}
}

// Degraded reports whether any sink is failing or has dropped records.
func (f *Flusher) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.sinks {
		if st.breaker.IsOpen() || st.dropped > 0 {
			return true
		}
	}
	return false
}

// Pending returns the number of records waiting for the named sink.
func (f *Flusher) Pending(sink string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.sinks {
		if st.sink.Name() == sink {
			return len(st.backlog)
		}
	}
	return 0
}

// Close closes every sink. Call after Run has returned.
func (f *Flusher) Close() error {
	var errs []error
	for _, st := range f.sinks {
		if err := st.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
