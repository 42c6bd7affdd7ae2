// Package refresh keeps the published dashboard state current by running
// refresh cycles on a timer.
package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/pkg/logging"
	"sensor-dashboard/pkg/metrics"
)

// Defaults used when Options leaves a duration unset.
const (
	DefaultInterval     = 5 * time.Second
	DefaultFetchTimeout = 4 * time.Second
)

// Cycler produces one snapshot per call.
type Cycler interface {
	Cycle(ctx context.Context) (models.Snapshot, error)
}

// CycleFunc adapts a function to Cycler.
type CycleFunc func(ctx context.Context) (models.Snapshot, error)

// Cycle calls f(ctx).
func (f CycleFunc) Cycle(ctx context.Context) (models.Snapshot, error) {
	return f(ctx)
}

// Options tunes a Scheduler.
type Options struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	// RetainOnError keeps the last good data visible, marked stale, when a
	// cycle fails.
	RetainOnError bool
	Now           func() time.Time
}

// Scheduler runs cycles one at a time: once immediately on Start, then on
// every tick and on every Trigger. Each result replaces the published state
// as a whole.
type Scheduler struct {
	cycler  Cycler
	opts    Options
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	state   atomic.Pointer[models.DisplayState]
	trigger chan struct{}

	mu      sync.Mutex
	subs    map[uint64]chan *models.DisplayState
	nextSub uint64
	started bool
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler publishing the loading state.
func New(cycler Cycler, opts Options, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Scheduler{
		cycler:  cycler,
		opts:    opts,
		logger:  logger,
		metrics: metricsCollector,
		trigger: make(chan struct{}, 1),
		subs:    make(map[uint64]chan *models.DisplayState),
		done:    make(chan struct{}),
	}
	s.state.Store(models.LoadingState())
	return s
}

// Start launches the refresh loop. The first cycle runs immediately.
// Calling Start again, or after Stop, does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	s.logger.Info(ctx, "[REFRESH_START] Refresh scheduler started", logging.Fields{
		"interval":      s.opts.Interval.String(),
		"fetch_timeout": s.opts.FetchTimeout.String(),
		"retain":        s.opts.RetainOnError,
	})
}

// Stop cancels the timer and any in-flight cycle and waits for the loop to
// exit. Nothing is published once Stop has begun. Subscriber channels are
// closed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if started {
		cancel()
		<-s.done
	}

	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
		s.metrics.ActiveSubscribers.Dec()
	}
	s.mu.Unlock()

	s.logger.Info(context.Background(), "[REFRESH_STOP] Refresh scheduler stopped", logging.Fields{})
}

// Current returns the most recently published state. It is never nil and
// must not be modified.
func (s *Scheduler) Current() *models.DisplayState {
	return s.state.Load()
}

// Subscribe returns a channel that receives every published state, starting
// with the current one, and a function that ends the subscription. A slow
// subscriber only ever misses intermediate states, never the newest.
func (s *Scheduler) Subscribe() (<-chan *models.DisplayState, func()) {
	ch := make(chan *models.DisplayState, 1)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.state.Load()
	s.mu.Unlock()

	s.metrics.ActiveSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; !ok {
				return
			}
			delete(s.subs, id)
			close(ch)
			s.metrics.ActiveSubscribers.Dec()
		})
	}
}

// Trigger requests a cycle ahead of the next tick. A request made during a
// cycle runs after it; requests made while one is already pending are
// dropped. Trigger reports whether this request was queued.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		s.metrics.RefreshTriggersSkipped.Inc()
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.runCycle(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.trigger:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	cycleID := uuid.NewString()
	cycleCtx, cancel := context.WithTimeout(logging.WithCycleID(ctx, cycleID), s.opts.FetchTimeout)
	defer cancel()

	timer := s.metrics.NewTimer(s.metrics.RefreshDuration)
	snap, err := s.cycler.Cycle(cycleCtx)
	duration := timer.ObserveDuration()

	if ctx.Err() != nil {
		s.logger.Debug(cycleCtx, "[REFRESH_ABANDONED] Cycle finished after stop, result discarded", logging.Fields{})
		return
	}

	now := s.opts.Now()
	var next *models.DisplayState
	if err != nil {
		if models.Classify(err) == models.KindUnknown && errors.Is(err, context.DeadlineExceeded) {
			err = &models.TransportError{Source: "fetch timeout", Err: err}
		}
		kind := models.Classify(err)
		next = models.ErrorState(err, s.Current(), s.opts.RetainOnError, cycleID, now)
		s.metrics.RecordRefresh(string(kind), now)
		s.logger.Error(cycleCtx, "[REFRESH_ERROR] Refresh cycle failed", logging.Fields{
			"kind":        string(kind),
			"stale":       next.Stale,
			"duration_ms": duration.Milliseconds(),
		}, err)
	} else {
		next = models.SuccessState(snap, cycleID, now)
		s.metrics.RecordRefresh("ok", now)
		s.logger.Info(cycleCtx, "[REFRESH_OK] Refresh cycle published", logging.Fields{
			"readings":    len(snap.Series),
			"dropped":     snap.Dropped,
			"filtered":    snap.Filtered,
			"duration_ms": duration.Milliseconds(),
		})
	}

	s.publish(next)
}

func (s *Scheduler) publish(next *models.DisplayState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.state.Store(next)
	for _, ch := range s.subs {
		select {
		case ch <- next:
			continue
		default:
		}
		// Replace the unread state with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next:
		default:
		}
	}
}
