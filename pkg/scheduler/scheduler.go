// Package scheduler runs background jobs on a bounded worker pool with at
// most one outstanding job per owner key.
//
// Each job gets its own context. Scheduling a job for a key that already
// has one either keeps the existing job or, with cancelExisting, cancels it
// and takes its place; a replaced job never queues behind its successor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
)

// Job is a unit of background work. It must return promptly once ctx is
// done.
type Job func(ctx context.Context) error

// JobError wraps failures of a job with its phase and identity.
type JobError struct {
	Phase string // "wait", "run"
	Owner string
	JobID uuid.UUID
	Cause error
	Time  time.Time
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s for %s: %s failed: %v", e.JobID, e.Owner, e.Phase, e.Cause)
}

func (e *JobError) Unwrap() error {
	return e.Cause
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds the number of concurrently running jobs.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRateLimit limits how many jobs start per second. Zero disables the
// limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Scheduler) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithErrorHandler receives job failures. Cancellation is not a failure.
func WithErrorHandler(fn func(*JobError)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

// DefaultWorkers is the worker count used without WithWorkers.
const DefaultWorkers = 4

type task struct {
	id     uuid.UUID
	owner  string
	ctx    context.Context
	cancel context.CancelFunc
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	workers int
	limiter *rate.Limiter
	onError func(*JobError)
	sem     *semaphore.Weighted

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	log    *eventlog.Logger
}

// New returns a running scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		workers: DefaultWorkers,
		tasks:   make(map[string]*task),
		onError: func(*JobError) {},
		log:     eventlog.For("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sem = semaphore.NewWeighted(int64(s.workers))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Schedule submits job for owner. If owner already has an outstanding job,
// Schedule keeps it and returns false unless cancelExisting is set, in which
// case the old job is cancelled and replaced.
func (s *Scheduler) Schedule(owner string, job Job, cancelExisting bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if old, ok := s.tasks[owner]; ok {
		if !cancelExisting {
			s.mu.Unlock()
			return false
		}
		old.cancel()
		metrics.SchedulerJobs.WithLabelValues("replaced").Inc()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{id: uuid.New(), owner: owner, ctx: ctx, cancel: cancel}
	s.tasks[owner] = t
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.SchedulerJobs.WithLabelValues("scheduled").Inc()
	go s.run(t, job)
	return true
}

// Cancel cancels the outstanding job of owner and reports whether there was
// one.
func (s *Scheduler) Cancel(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[owner]
	if !ok {
		return false
	}
	t.cancel()
	delete(s.tasks, owner)
	metrics.SchedulerJobs.WithLabelValues("cancelled").Inc()
	return true
}

// IsEnqueued reports whether owner has an outstanding job, waiting or
// running.
func (s *Scheduler) IsEnqueued(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[owner]
	return ok
}

// Outstanding returns the number of owners with a job.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Wait blocks until every submitted job has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close cancels all jobs and waits for them to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(t *task, job Job) {
	defer s.wg.Done()
	defer s.finish(t)

	if err := s.sem.Acquire(t.ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	if s.limiter != nil {
		if err := s.limiter.Wait(t.ctx); err != nil {
			if t.ctx.Err() == nil {
				s.report(&JobError{Phase: "wait", Owner: t.owner, JobID: t.id, Cause: err, Time: time.Now()})
			}
			return
		}
	}
	if t.ctx.Err() != nil {
		return
	}

	metrics.SchedulerInFlight.Inc()
	start := time.Now()
	jerr := safeRun(t, job)
	metrics.SchedulerInFlight.Dec()
	metrics.SchedulerJobDuration.Observe(time.Since(start).Seconds())

	switch {
	case jerr == nil:
		metrics.SchedulerJobs.WithLabelValues("completed").Inc()
	case t.ctx.Err() != nil && errors.Is(jerr.Cause, context.Canceled):
		// cancelled jobs report nothing
	default:
		s.report(jerr)
	}
}

func (s *Scheduler) finish(t *task) {
	t.cancel()
	s.mu.Lock()
	if cur, ok := s.tasks[t.owner]; ok && cur.id == t.id {
		delete(s.tasks, t.owner)
	}
	s.mu.Unlock()
}

func (s *Scheduler) report(err *JobError) {
	metrics.SchedulerJobs.WithLabelValues("failed").Inc()
	s.log.Error("job_failed", eventlog.Fields{
		"owner": err.Owner,
		"job":   err.JobID.String(),
		"phase": err.Phase,
		"error": err.Cause,
	})
	s.onError(err)
}

// safeRun executes job and recovers from any panics.
func safeRun(t *task, job Job) (result *JobError) {
	defer func() {
		if r := recover(); r != nil {
			result = &JobError{
				Phase: "run",
				Owner: t.owner,
				JobID: t.id,
				Cause: fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
				Time:  time.Now(),
			}
		}
	}()
	if err := job(t.ctx); err != nil {
		return &JobError{Phase: "run", Owner: t.owner, JobID: t.id, Cause: err, Time: time.Now()}
	}
	return nil
}
