package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/paygate/pkg/logger"
)

// Job is a periodic unit of work.
type Job func(ctx context.Context) error

type scheduledJob struct {
	name     string
	schedule Schedule
	run      Job
	nextRun  time.Time
	running  bool
}

// Scheduler runs registered jobs on their schedules. A job never overlaps
// with itself within one process; cross-process exclusion is the job's
// own concern.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*scheduledJob
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]*scheduledJob),
		interval: time.Second,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. With runImmediately the first run happens on Start,
// otherwise at the first scheduled time.
func (s *Scheduler) Add(name string, schedule Schedule, job Job, runImmediately bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return ErrJobAlreadyRegistered
	}

	next := schedule.Next(s.now())
	if runImmediately {
		next = time.Time{}
	}
	s.jobs[name] = &scheduledJob{name: name, schedule: schedule, run: job, nextRun: next}

	s.logger.Info("registered periodic job",
		slog.String("job", name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Start blocks, dispatching due jobs until ctx is cancelled. It waits for
// in-flight jobs before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()
	if count == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.running || now.Before(j.nextRun) {
			continue
		}
		j.running = true
		j.nextRun = j.schedule.Next(now)

		s.wg.Add(1)
		go s.execute(ctx, j)
	}
}

func (s *Scheduler) execute(ctx context.Context, j *scheduledJob) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()

	start := s.now()
	if err := j.run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "periodic job failed",
			slog.String("job", j.name),
			logger.Duration(time.Since(start)),
			logger.Error(err))
		return
	}
	s.logger.DebugContext(ctx, "periodic job finished",
		slog.String("job", j.name),
		logger.Duration(time.Since(start)))
}
