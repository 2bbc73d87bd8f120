package scheduler

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"av1-worker/pkg/models"
)

// threadsPerJob is the logical CPU share assumed for one encode when the job
// count is automatic.
const threadsPerJob = 4

// Job is one input of a batch.
type Job struct {
	Input  string
	Output string
}

// Handler processes a single job and returns the child exit code. err covers
// failures that prevented or aborted the run.
type Handler func(ctx context.Context, job Job) (exitCode int, err error)

// ThreadCounter reports the host's logical CPU count.
type ThreadCounter interface {
	Threads(ctx context.Context) int
}

// Scheduler runs batch jobs with bounded parallelism.
type Scheduler struct {
	jobs    int
	threads ThreadCounter
	handler Handler
	logger  hclog.Logger
	now     func() time.Time
}

// New creates a scheduler. jobs <= 0 sizes the pool from threads.
func New(jobs int, threads ThreadCounter, handler Handler, logger hclog.Logger) *Scheduler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Scheduler{
		jobs:    jobs,
		threads: threads,
		handler: handler,
		logger:  logger.Named("batch"),
		now:     time.Now,
	}
}

// Parallelism resolves the worker count.
func (s *Scheduler) Parallelism(ctx context.Context) int {
	if s.jobs > 0 {
		return s.jobs
	}
	if s.threads == nil {
		return 1
	}
	if n := s.threads.Threads(ctx) / threadsPerJob; n > 1 {
		return n
	}
	return 1
}

// Run processes every job and returns one outcome per job, in input order.
// A failing job never stops the others; a cancelled context marks the jobs
// that had not started.
func (s *Scheduler) Run(ctx context.Context, jobs []Job) []models.BatchOutcome {
	outcomes := make([]models.BatchOutcome, len(jobs))
	limit := s.Parallelism(ctx)
	s.logger.Info("starting batch", "jobs", len(jobs), "parallel", limit)

	var g errgroup.Group
	g.SetLimit(limit)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			outcomes[i] = s.runOne(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.Succeeded() {
			failed++
		}
	}
	s.logger.Info("batch finished", "jobs", len(jobs), "failed", failed)
	return outcomes
}

func (s *Scheduler) runOne(ctx context.Context, job Job) models.BatchOutcome {
	outcome := models.BatchOutcome{Input: job.Input, Output: job.Output}
	if err := ctx.Err(); err != nil {
		outcome.ExitCode = -1
		outcome.Error = err.Error()
		return outcome
	}

	start := s.now()
	exitCode, err := s.handler(ctx, job)
	outcome.Duration = s.now().Sub(start)
	outcome.ExitCode = exitCode
	if err != nil {
		outcome.Error = err.Error()
		s.logger.Warn("job failed", "input", job.Input, "error", err)
	} else if exitCode != 0 {
		s.logger.Warn("job exited non-zero", "input", job.Input, "exit_code", exitCode)
	} else {
		s.logger.Debug("job done", "input", job.Input, "duration", outcome.Duration)
	}
	return outcome
}
