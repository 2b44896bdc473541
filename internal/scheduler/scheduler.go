// Package scheduler drives the recurring provider refresh task with failure
// backoff and a manual trigger path.
package scheduler

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultMinInterval floors the poll interval to protect providers from
	// misconfigured aggressive polling.
	DefaultMinInterval = 20 * time.Second
	// maxBackoff caps the failure backoff so recovery is observed promptly.
	maxBackoff = 5 * time.Minute
	// maxJitter bounds the random delay added to backed-off reschedules.
	maxJitter = 400 * time.Millisecond
)

// Task is the unit of work the scheduler runs on every tick.
type Task func(context.Context) error

// Scheduler arms a single recurring timer around a task. The state machine is
// Stopped -> Scheduled (timer armed) -> Running (task in flight) -> Scheduled.
// Ticks swallow task errors and back off; TriggerNow runs the task out of
// band, reschedules like a normal tick, and propagates the error to its caller.
type Scheduler struct {
	logger *log.Logger

	mu           sync.Mutex
	task         Task
	pollInterval time.Duration
	minInterval  time.Duration
	failureCount int
	running      bool
	timer        *time.Timer
	ctx          context.Context

	jitter func() time.Duration

	metrics schedulerMetrics
}

type schedulerMetrics struct {
	ticks    metric.Int64Counter
	failures metric.Int64Counter
	backoff  metric.Float64Histogram
}

// Option configures scheduler construction.
type Option func(*Scheduler)

// WithMinInterval overrides the minimum poll interval floor.
func WithMinInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.minInterval = d
		}
	}
}

// WithJitter overrides the jitter source for reschedule delays.
func WithJitter(fn func() time.Duration) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.jitter = fn
		}
	}
}

// New constructs a stopped scheduler around the given task and poll interval.
func New(logger *log.Logger, task Task, pollInterval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:       logger,
		mu:           sync.Mutex{},
		task:         task,
		pollInterval: 0,
		minInterval:  DefaultMinInterval,
		failureCount: 0,
		running:      false,
		timer:        nil,
		ctx:          context.Background(),
		jitter:       func() time.Duration { return time.Duration(rand.Int63n(int64(maxJitter))) },
		metrics:      newSchedulerMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.pollInterval = s.clamp(pollInterval)
	return s
}

func newSchedulerMetrics() schedulerMetrics {
	meter := otel.Meter("statusdeck.scheduler")
	m := schedulerMetrics{ticks: nil, failures: nil, backoff: nil}
	m.ticks, _ = meter.Int64Counter("statusdeck_scheduler_ticks",
		metric.WithDescription("Total scheduler task executions"),
		metric.WithUnit("{tick}"))
	m.failures, _ = meter.Int64Counter("statusdeck_scheduler_failures",
		metric.WithDescription("Total failed scheduler task executions"),
		metric.WithUnit("{tick}"))
	m.backoff, _ = meter.Float64Histogram("statusdeck_scheduler_backoff_seconds",
		metric.WithDescription("Delay applied before the next scheduled tick"),
		metric.WithUnit("s"))
	return m
}

func (s *Scheduler) clamp(d time.Duration) time.Duration {
	if d < s.minInterval {
		return s.minInterval
	}
	return d
}

// Start arms the scheduler with an immediate first run. Starting a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx = ctx
	s.scheduleLocked(0)
}

// Stop clears the pending timer and prevents further scheduling. An in-flight
// task completes but no longer reschedules.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Running reports whether the scheduler is currently started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FailureCount returns the consecutive failure counter.
func (s *Scheduler) FailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureCount
}

// SetPollInterval updates the interval used for future scheduling. An already
// armed timer keeps its remaining delay.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollInterval = s.clamp(d)
}

// PollInterval returns the clamped poll interval.
func (s *Scheduler) PollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollInterval
}

// TriggerNow runs the task immediately, ahead of any pending timer. On
// completion the failure counter updates and, if the scheduler is running,
// the timer is re-armed exactly as after a normal tick. Unlike ticks, the
// task error is returned to the caller.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	task := s.task
	s.mu.Unlock()

	err := s.runTask(ctx, task)
	s.afterRun(err)
	return err
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	task := s.task
	ctx := s.ctx
	s.mu.Unlock()

	err := s.runTask(ctx, task)
	if err != nil && s.logger != nil {
		s.logger.Printf("scheduled refresh failed: %v", err)
	}
	s.afterRun(err)
}

func (s *Scheduler) runTask(ctx context.Context, task Task) error {
	if s.metrics.ticks != nil {
		s.metrics.ticks.Add(ctx, 1)
	}
	err := task(ctx)
	if err != nil && s.metrics.failures != nil {
		s.metrics.failures.Add(ctx, 1)
	}
	return err
}

func (s *Scheduler) afterRun(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.failureCount = 0
	} else {
		s.failureCount++
	}
	if !s.running {
		return
	}
	s.scheduleLocked(s.nextDelayLocked())
}

// nextDelayLocked returns pollInterval after a success, or the capped
// exponential backoff plus jitter after failures.
func (s *Scheduler) nextDelayLocked() time.Duration {
	if s.failureCount == 0 {
		return s.pollInterval
	}
	delay := s.pollInterval
	for i := 0; i < s.failureCount; i++ {
		delay *= 2
		if delay >= maxBackoff {
			delay = maxBackoff
			break
		}
	}
	return delay + s.jitter()
}

func (s *Scheduler) scheduleLocked(delay time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.metrics.backoff != nil {
		s.metrics.backoff.Record(s.ctx, delay.Seconds())
	}
	s.timer = time.AfterFunc(delay, s.tick)
}
