package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"leadflow/internal/apperr"
	"leadflow/internal/metrics"
)

// Tracker records events off the request path. Each write runs in its own
// goroutine under a timeout; when maxInFlight writes are already running the
// event is dropped rather than queued.
type Tracker struct {
	log     *Log
	logger  *slog.Logger
	timeout time.Duration
	slots   chan struct{}

	// mu orders wg.Add against Close so no write starts once Close waits.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewTracker(log *Log, logger *slog.Logger, timeout time.Duration, maxInFlight int) *Tracker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	return &Tracker{
		log:     log,
		logger:  logger,
		timeout: timeout,
		slots:   make(chan struct{}, maxInFlight),
	}
}

// Track schedules input for recording and returns immediately. Failures are
// logged as TrackingFailure and never reach the caller.
func (t *Tracker) Track(input TrackInput) {
	if t.log.settings != nil && !t.log.settings.TrackingEnabled() {
		metrics.EventsTracked.WithLabelValues(string(input.Type), "disabled").Inc()
		return
	}
	if input.Timestamp.IsZero() {
		input.Timestamp = t.log.now()
	}

	select {
	case t.slots <- struct{}{}:
	default:
		metrics.EventsTracked.WithLabelValues(string(input.Type), "dropped").Inc()
		t.logger.Warn("Tracking saturated, dropping event",
			slog.String("type", string(input.Type)),
			slog.Int("max_in_flight", cap(t.slots)))
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.slots
		metrics.EventsTracked.WithLabelValues(string(input.Type), "dropped").Inc()
		t.logger.Debug("Tracker closed, dropping event", slog.String("type", string(input.Type)))
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	metrics.TrackingInFlight.Inc()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.fail(input, fmt.Errorf("panic: %v", r))
			}
			metrics.TrackingInFlight.Dec()
			<-t.slots
			t.wg.Done()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.log.Record(ctx, input); err != nil {
			t.fail(input, err)
		}
	}()
}

func (t *Tracker) fail(input TrackInput, err error) {
	failure := &apperr.TrackingFailure{EventType: string(input.Type), Err: err}
	metrics.EventsTracked.WithLabelValues(string(input.Type), "failed").Inc()
	t.logger.Warn("Event tracking failed",
		slog.String("type", string(input.Type)),
		slog.String("page", input.Page),
		slog.Any("error", failure))
}

// Wait blocks until every scheduled write has finished. Tracking may
// continue afterwards; use Close at shutdown.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Close stops accepting events and waits for in-flight writes. Track calls
// after Close are dropped.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}
