// Package scheduler runs recurring jobs (the scheduled conference report)
// on cron expressions. Uses robfig/cron for parsing and firing.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Handler is the work a job performs on every fire.
type Handler func(ctx context.Context) error

// Job is a named recurring task.
type Job struct {
	// Name identifies the job in logs and status output.
	Name string

	// Schedule is a 5-field cron expression or descriptor (@daily, @every 1h).
	Schedule string

	Handler Handler

	// Timeout bounds one run. Defaults to the scheduler's job timeout.
	Timeout time.Duration
}

// Status is a snapshot of one job.
type Status struct {
	Name      string
	Schedule  string
	Running   bool
	RunCount  int
	LastRunAt time.Time
	LastError string
	NextRunAt time.Time
}

type jobState struct {
	job       Job
	entryID   cron.EntryID
	running   bool
	runCount  int
	lastRunAt time.Time
	lastError string
}

// Scheduler manages cron jobs. A job that fires while its previous run is
// still active is skipped.
type Scheduler struct {
	mu         sync.Mutex
	cron       *cron.Cron
	jobs       map[string]*jobState
	jobTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *slog.Logger
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		jobs:       make(map[string]*jobState),
		jobTimeout: 15 * time.Minute,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With("component", "scheduler"),
	}
}

// Add registers a job. The schedule is validated immediately.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Schedule == "" {
		return fmt.Errorf("job %q: schedule is required", job.Name)
	}
	if job.Handler == nil {
		return fmt.Errorf("job %q: handler is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already exists", job.Name)
	}

	state := &jobState{job: job}
	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.execute(state) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	state.entryID = entryID
	s.jobs[job.Name] = state

	s.logger.Info("job added", "name", job.Name, "schedule", job.Schedule)
	return nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops firing and waits up to 10s for running jobs.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
	s.cancel()
	s.logger.Info("scheduler stopped")
}

// Statuses returns a snapshot of every job, sorted by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.jobs))
	for _, st := range s.jobs {
		out = append(out, Status{
			Name:      st.job.Name,
			Schedule:  st.job.Schedule,
			Running:   st.running,
			RunCount:  st.runCount,
			LastRunAt: st.lastRunAt,
			LastError: st.lastError,
			NextRunAt: s.cron.Entry(st.entryID).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// execute runs one fire of a job and reports whether it ran.
func (s *Scheduler) execute(state *jobState) (ran bool) {
	s.mu.Lock()
	if state.running {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "name", state.job.Name)
		return false
	}
	state.running = true
	s.mu.Unlock()

	var runErr error
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("panic: %v", r)
		}
		s.mu.Lock()
		state.running = false
		state.runCount++
		state.lastRunAt = start
		state.lastError = ""
		if runErr != nil {
			state.lastError = runErr.Error()
		}
		s.mu.Unlock()

		if runErr != nil {
			s.logger.Error("job failed", "name", state.job.Name, "error", runErr, "duration", time.Since(start))
		} else {
			s.logger.Info("job completed", "name", state.job.Name, "duration", time.Since(start))
		}
	}()

	timeout := state.job.Timeout
	if timeout <= 0 {
		timeout = s.jobTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	s.logger.Info("job started", "name", state.job.Name)
	runErr = state.job.Handler(ctx)
	return true
}
