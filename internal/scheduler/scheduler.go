package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintainer is the store surface the maintenance jobs use.
// Satisfied by store.Store.
type Maintainer interface {
	Vacuum(ctx context.Context) error
	PruneLayoutRevisions(ctx context.Context, keep int) (int64, error)
}

// Job names.
const (
	JobVacuum         = "vacuum"
	JobPruneRevisions = "prune_layout_revisions"
)

// Config selects the maintenance schedules. An empty schedule disables the job.
type Config struct {
	VacuumSchedule string
	PruneSchedule  string
	// LayoutRetention is how many layout revisions each workflow keeps.
	LayoutRetention int
	// Interval is how often due jobs are checked. Zero means one minute.
	Interval time.Duration
}

// JobStatus is a snapshot of one job's bookkeeping.
type JobStatus struct {
	Name          string     `json:"name"`
	Schedule      string     `json:"schedule"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

type job struct {
	name     string
	expr     string
	schedule cron.Schedule
	run      func(ctx context.Context) error

	nextRunAt     *time.Time
	lastRunAt     *time.Time
	lastRunStatus string
}

// Scheduler runs the store maintenance jobs on their cron schedules.
type Scheduler struct {
	store    Maintainer
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	jobsMu sync.Mutex
	jobs   []*job

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job names currently executing (dedup)
}

// NewScheduler creates a Scheduler with the vacuum and prune jobs of cfg.
// It fails on an invalid cron expression.
func NewScheduler(s Maintainer, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	sched := &Scheduler{
		store:    s,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		interval: interval,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}

	keep := cfg.LayoutRetention
	now := time.Now().UTC()
	if err := sched.add(JobVacuum, cfg.VacuumSchedule, now, s.Vacuum); err != nil {
		return nil, err
	}
	if err := sched.add(JobPruneRevisions, cfg.PruneSchedule, now, func(ctx context.Context) error {
		n, err := s.PruneLayoutRevisions(ctx, keep)
		if err != nil {
			return err
		}
		logger.Info("pruned layout revisions", slog.Int64("deleted", n), slog.Int("keep", keep))
		return nil
	}); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *Scheduler) add(name, expr string, now time.Time, run func(ctx context.Context) error) error {
	if expr == "" {
		return nil
	}
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("parse %s schedule %q: %w", name, expr, err)
	}
	next := schedule.Next(now)
	s.jobs = append(s.jobs, &job{name: name, expr: expr, schedule: schedule, run: run, nextRunAt: &next})
	return nil
}

// Jobs returns a snapshot of every configured job.
func (s *Scheduler) Jobs() []JobStatus {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]JobStatus, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = JobStatus{
			Name:          j.name,
			Schedule:      j.expr,
			NextRunAt:     j.nextRunAt,
			LastRunAt:     j.lastRunAt,
			LastRunStatus: j.lastRunStatus,
		}
	}
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().UTC())
		}
	}
}

// tick runs every job whose next run is due at now.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, j := range s.due(now) {
		if !s.tryAcquire(j.name) {
			continue // already running (dedup)
		}
		s.runJob(ctx, j, now)
		s.releaseJob(j.name)
	}
}

func (s *Scheduler) due(now time.Time) []*job {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	var out []*job
	for _, j := range s.jobs {
		if j.nextRunAt == nil || !j.nextRunAt.After(now) {
			out = append(out, j)
		}
	}
	return out
}

// runJob executes a job and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, j *job, now time.Time) {
	s.logger.Info("running maintenance job", slog.String("job", j.name))

	status := "success"
	if err := j.run(ctx); err != nil {
		status = "error"
		s.logger.Error("maintenance job failed",
			slog.String("job", j.name),
			slog.String("error", err.Error()),
		)
	}

	next := j.schedule.Next(now)
	s.jobsMu.Lock()
	j.lastRunAt = &now
	j.nextRunAt = &next
	j.lastRunStatus = status
	s.jobsMu.Unlock()
}

// RunNow runs the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.jobsMu.Lock()
	var target *job
	for _, j := range s.jobs {
		if j.name == name {
			target = j
		}
	}
	s.jobsMu.Unlock()
	if target == nil {
		return fmt.Errorf("unknown maintenance job %q", name)
	}
	if !s.tryAcquire(name) {
		return fmt.Errorf("maintenance job %q is already running", name)
	}
	defer s.releaseJob(name)
	s.runJob(ctx, target, time.Now().UTC())
	return nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
