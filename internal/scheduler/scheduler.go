// Package scheduler runs the periodic pipeline jobs on a bounded runner.
// A job never overlaps itself: a tick or trigger that finds it queued or
// running is rejected with JOB_ALREADY_RUNNING.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/common/metrics"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotStarted is returned by Trigger outside Start/Stop.
var ErrNotStarted = errors.New("scheduler: not started")

// Func runs one pass of a job and returns its summary counts.
type Func func(ctx context.Context) (map[string]int, error)

type Job struct {
	Name     string
	Interval time.Duration // 0 disables the periodic tick
	Run      Func
	// Then optionally names a job to queue after a successful run.
	Then func(result map[string]int) string
}

// Recorder is the tracing/metrics sink; *observability.Observability satisfies it.
type Recorder interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, trace.Span)
	RecordJobProcessed(ctx context.Context, job, status string)
	RecordJobDuration(ctx context.Context, job string, duration time.Duration, status string)
}

type Config struct {
	MaxConcurrent int
	Periodic      bool
}

// Status is the externally visible state of one job.
type Status struct {
	Name       string         `json:"name"`
	Interval   string         `json:"interval,omitempty"`
	Running    bool           `json:"running"`
	Runs       int            `json:"runs"`
	LastStart  *time.Time     `json:"lastStart,omitempty"`
	LastFinish *time.Time     `json:"lastFinish,omitempty"`
	LastResult map[string]int `json:"lastResult,omitempty"`
	LastError  string         `json:"lastError,omitempty"`
}

type entry struct {
	job     Job
	running bool
	status  Status
}

type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*entry
	queue  chan string
	pool   *pool.Pool
	wg     *conc.WaitGroup
	cancel context.CancelFunc
	config Config
	obs    Recorder
	logger logger.Logger
	now    func() time.Time
}

// New creates an idle scheduler. obs may be nil.
func New(cfg Config, obs Recorder, log logger.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Scheduler{
		jobs:   map[string]*entry{},
		config: cfg,
		obs:    obs,
		logger: log.WithFields(map[string]interface{}{"component": "scheduler"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return apperrors.NewInvalidInputError("job needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return fmt.Errorf("register %q: scheduler already started", job.Name)
	}
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("register %q: duplicate job", job.Name)
	}
	st := Status{Name: job.Name}
	if job.Interval > 0 {
		st.Interval = job.Interval.String()
	}
	s.jobs[job.Name] = &entry{job: job, status: st}
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start launches the runner and, when periodic, one ticker per job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan string, len(s.jobs))
	s.pool = pool.New().WithMaxGoroutines(s.config.MaxConcurrent)
	s.wg = conc.NewWaitGroup()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	s.wg.Go(func() { s.dispatch(ctx) })
	if !s.config.Periodic {
		s.logger.Info("scheduler started", map[string]interface{}{"periodic": false, "jobs": len(entries)})
		return
	}
	for _, e := range entries {
		if e.job.Interval <= 0 {
			continue
		}
		name, every := e.job.Name, e.job.Interval
		s.wg.Go(func() { s.tick(ctx, name, every) })
	}
	s.logger.Info("scheduler started", map[string]interface{}{"periodic": true, "jobs": len(entries), "maxConcurrent": s.config.MaxConcurrent})
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, wg, p := s.cancel, s.wg, s.pool
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	wg.Wait()
	p.Wait()
	s.logger.Info("scheduler stopped", nil)
}

// Trigger queues a run and returns without waiting for it.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil || s.cancel == nil {
		return ErrNotStarted
	}
	e, err := s.acquireLocked(name)
	if err != nil {
		return err
	}
	select {
	case s.queue <- name:
		return nil
	default:
		e.running = false
		return apperrors.NewJobAlreadyRunningError(name)
	}
}

// RunNow runs a job synchronously under ctx.
func (s *Scheduler) RunNow(ctx context.Context, name string) (map[string]int, error) {
	s.mu.Lock()
	e, err := s.acquireLocked(name)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, e)
}

// Status reports the state of one job.
func (s *Scheduler) Status(name string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return Status{}, apperrors.NewJobUnknownError(name)
	}
	st := e.status
	st.Running = e.running
	if st.LastResult != nil {
		st.LastResult = copyCounts(st.LastResult)
	}
	return st, nil
}

func (s *Scheduler) acquireLocked(name string) (*entry, error) {
	e, ok := s.jobs[name]
	if !ok {
		return nil, apperrors.NewJobUnknownError(name)
	}
	if e.running {
		return nil, apperrors.NewJobAlreadyRunningError(name)
	}
	e.running = true
	return e, nil
}

func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case name := <-s.queue:
			s.mu.Lock()
			e := s.jobs[name]
			s.mu.Unlock()
			s.pool.Go(func() { _, _ = s.execute(ctx, e) })
		}
	}
}

// drain releases runs that were queued but never started.
func (s *Scheduler) drain() {
	for {
		select {
		case name := <-s.queue:
			s.mu.Lock()
			s.jobs[name].running = false
			s.mu.Unlock()
		default:
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, name string, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := s.Trigger(name)
			switch {
			case err == nil:
			case apperrors.HasCode(err, apperrors.ErrCodeJobAlreadyRunning):
				s.logger.Debug("tick skipped, job still running", map[string]interface{}{"job": name})
			default:
				s.logger.Warn("tick failed", map[string]interface{}{"job": name, "error": err})
			}
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, e *entry) (map[string]int, error) {
	name := e.job.Name
	started := s.now()
	s.mu.Lock()
	e.status.LastStart = &started
	s.mu.Unlock()

	active := metrics.JobsActive.WithLabelValues(name)
	active.Inc()
	defer active.Dec()

	ctx, span := s.startSpan(ctx, name)
	result, err := run(ctx, e.job.Run)
	span.End()

	finished := s.now()
	duration := finished.Sub(started)
	status := "success"
	if err != nil {
		status = "failed"
	}

	s.mu.Lock()
	e.running = false
	e.status.Runs++
	e.status.LastFinish = &finished
	e.status.LastResult = copyCounts(result)
	e.status.LastError = ""
	if err != nil {
		e.status.LastError = err.Error()
	}
	s.mu.Unlock()

	metrics.JobRuns.WithLabelValues(name, status).Inc()
	metrics.JobDuration.WithLabelValues(name).Observe(duration.Seconds())
	if s.obs != nil {
		s.obs.RecordJobProcessed(ctx, name, status)
		s.obs.RecordJobDuration(ctx, name, duration, status)
	}

	fields := map[string]interface{}{"job": name, "durationMs": duration.Milliseconds()}
	for k, v := range result {
		fields[k] = v
	}
	if err != nil {
		fields["error"] = err
		s.logger.Error("job failed", fields)
		return result, err
	}
	s.logger.Info("job finished", fields)

	if e.job.Then != nil {
		if next := e.job.Then(result); next != "" {
			s.followUp(name, next)
		}
	}
	return result, nil
}

func (s *Scheduler) followUp(from, next string) {
	err := s.Trigger(next)
	switch {
	case err == nil:
		s.logger.Debug("follow-up queued", map[string]interface{}{"job": from, "next": next})
	case errors.Is(err, ErrNotStarted), apperrors.HasCode(err, apperrors.ErrCodeJobAlreadyRunning):
		s.logger.Debug("follow-up not queued", map[string]interface{}{"job": from, "next": next, "reason": err.Error()})
	default:
		s.logger.Warn("follow-up rejected", map[string]interface{}{"job": from, "next": next, "error": err})
	}
}

func (s *Scheduler) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.obs == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.obs.StartSpan(ctx, "job."+name, map[string]string{"job": name})
}

// run converts a panicking job into an error so the runner survives it.
func run(ctx context.Context, fn Func) (result map[string]int, err error) {
	var pc panics.Catcher
	pc.Try(func() { result, err = fn(ctx) })
	if r := pc.Recovered(); r != nil {
		return nil, r.AsError()
	}
	return result, err
}

func copyCounts(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
