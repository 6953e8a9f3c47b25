package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is a periodic maintenance task. Run returns how many items it removed.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration // Per-run deadline; defaults to 30s
	Run      func(ctx context.Context) (int, error)
}

// Scheduler runs registered jobs on their own tickers until stopped
type Scheduler struct {
	logger  *slog.Logger
	jobs    []Job
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	started bool
}

// NewScheduler creates a new scheduler
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(job Job) error {
	if s.started {
		return fmt.Errorf("scheduler already started, cannot add %q", job.Name)
	}
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job requires a name and a run function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", job.Name)
	}
	if job.Timeout <= 0 {
		job.Timeout = 30 * time.Second
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches one goroutine per job. Each job runs once immediately and then
// on every tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.started = true
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info("background scheduler started", slog.Int("jobs", len(s.jobs)))
}

// Stop signals every job loop to exit and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.runOnce(ctx, job)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, job)
		case <-s.stopCh:
			s.logger.Info("background job stopped", slog.String("job", job.Name))
			return
		case <-ctx.Done():
			s.logger.Info("background job context cancelled", slog.String("job", job.Name))
			return
		}
	}
}

// runOnce executes a single run under the job's deadline. Panics are recovered
// so one faulty job cannot take the process down.
func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	runCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("background job panicked",
				slog.String("job", job.Name),
				slog.Any("panic", r))
		}
	}()

	start := time.Now()
	removed, err := job.Run(runCtx)
	if err != nil {
		s.logger.Error("background job failed",
			slog.String("job", job.Name),
			slog.Any("error", err))
		return
	}

	s.logger.Debug("background job completed",
		slog.String("job", job.Name),
		slog.Int("removed", removed),
		slog.Duration("duration", time.Since(start)))
}
