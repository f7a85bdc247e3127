// Package worker provides the runtime that claims pending jobs and drives
// them to a terminal state.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mlin-dev/dailybrief/pkg/core"
	"github.com/mlin-dev/dailybrief/pkg/schedule"
)

// Store is the persistence surface the worker needs. Claiming is a
// compare-and-swap; losing it is normal operation, not an error.
type Store interface {
	NextPendingJob(ctx context.Context) (*core.Job, error)
	ClaimJob(ctx context.Context, jobID, workerID string) (bool, error)
	CompleteJob(ctx context.Context, jobID, reportID string) error
	FailJob(ctx context.Context, jobID, message string) error
}

// Generator produces the report for one target date.
type Generator interface {
	Generate(ctx context.Context, targetDate string) (*core.Report, error)
}

// Enqueuer admits scheduled jobs. The orchestrator implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType core.JobType, targetDate, requestedBy string, force bool) (*core.Job, bool, error)
}

// Config holds worker settings.
type Config struct {
	// WorkerID identifies this worker in job claims.
	WorkerID string
	// PollInterval is how often the pending queue is checked.
	PollInterval time.Duration
	// StatusRetry tunes the backoff for terminal status writes.
	StatusRetry RetryConfig
}

// Option configures a Worker.
type Option func(*Worker)

// WithWorkerID sets the claim identity. Defaults to a random UUID.
func WithWorkerID(id string) Option {
	return func(w *Worker) {
		if id != "" {
			w.config.WorkerID = id
		}
	}
}

// WithPollInterval sets the queue polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.config.PollInterval = d
		}
	}
}

// WithStatusRetry overrides the backoff used for terminal status writes.
func WithStatusRetry(cfg RetryConfig) Option {
	return func(w *Worker) {
		w.config.StatusRetry = cfg
	}
}

// WithScheduler enables the built-in trigger: at each schedule tick the
// worker enqueues a regeneration for the previous day. The enqueue goes
// through the orchestrator, so single-flight still applies.
func WithScheduler(sched schedule.Schedule, enq Enqueuer) Option {
	return func(w *Worker) {
		w.sched = sched
		w.enqueuer = enq
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Worker polls for pending jobs, claims them, and runs the generation
// pipeline. Every claimed job reaches SUCCESS or FAILED; there is no path
// that leaves a claim dangling short of process death, and process death is
// what the reclaim operation exists for.
type Worker struct {
	store    Store
	gen      Generator
	config   Config
	sched    schedule.Schedule
	enqueuer Enqueuer
	logger   *slog.Logger
}

// New creates a worker over the given store and generator.
func New(store Store, gen Generator, opts ...Option) *Worker {
	w := &Worker{
		store: store,
		gen:   gen,
		config: Config{
			WorkerID:     uuid.New().String(),
			PollInterval: 5 * time.Second,
			StatusRetry:  DefaultRetryConfig(),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WorkerID returns the claim identity of this worker.
func (w *Worker) WorkerID() string {
	return w.config.WorkerID
}

// Start runs the polling loop until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker started", "worker_id", w.config.WorkerID, "poll_interval", w.config.PollInterval)
	if w.sched != nil && w.enqueuer != nil {
		go w.runScheduler(ctx)
	}

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", "worker_id", w.config.WorkerID)
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain runs claimable jobs until the queue is empty or ctx dies.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil && w.RunNext(ctx) {
	}
}

// RunNext claims and executes at most one pending job. It returns true when
// there may be more work: either a job ran or the claim was lost to a
// concurrent worker.
func (w *Worker) RunNext(ctx context.Context) bool {
	job, err := w.store.NextPendingJob(ctx)
	if err != nil {
		w.logger.Error("poll failed", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	claimed, err := w.store.ClaimJob(ctx, job.ID, w.config.WorkerID)
	if err != nil {
		w.logger.Error("claim failed", "job_id", job.ID, "error", err)
		return false
	}
	if !claimed {
		// Lost the race; whoever won owns the job now.
		return true
	}

	w.runJob(ctx, job)
	return true
}

// runJob executes one claimed job and records its terminal state.
func (w *Worker) runJob(ctx context.Context, job *core.Job) {
	start := time.Now()
	w.logger.Info("job started", "job_id", job.ID, "type", job.Type, "target_date", job.TargetDate)

	report, err := w.execute(ctx, job)
	if err != nil {
		w.logger.Error("job failed", "job_id", job.ID, "target_date", job.TargetDate, "error", err)
		if ferr := w.writeStatus(ctx, func() error { return w.store.FailJob(ctx, job.ID, err.Error()) }); ferr != nil {
			w.logger.Error("failed to record job failure", "job_id", job.ID, "error", ferr)
		}
		return
	}

	if cerr := w.writeStatus(ctx, func() error { return w.store.CompleteJob(ctx, job.ID, report.ID) }); cerr != nil {
		w.logger.Error("failed to record job success", "job_id", job.ID, "error", cerr)
		return
	}
	w.logger.Info("job succeeded",
		"job_id", job.ID,
		"report_id", report.ID,
		"target_date", job.TargetDate,
		"duration", time.Since(start))
}

// execute runs the pipeline for one job, converting panics into errors so
// every claimed job still reaches a terminal state.
func (w *Worker) execute(ctx context.Context, job *core.Job) (report *core.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch job.Type {
	case core.JobRegenerateDaily:
		return w.gen.Generate(ctx, job.TargetDate)
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidJobType, job.Type)
	}
}

// writeStatus persists a terminal transition, retrying transient failures.
func (w *Worker) writeStatus(ctx context.Context, op func() error) error {
	return retryWithBackoff(ctx, w.config.StatusRetry, op)
}

// runScheduler enqueues a regeneration for the previous day at each
// schedule tick.
func (w *Worker) runScheduler(ctx context.Context) {
	next := w.sched.Next(time.Now())
	w.logger.Info("scheduler started", "next_run", next)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-time.After(time.Until(next)):
			target := now.UTC().AddDate(0, 0, -1).Format(core.DateLayout)
			job, created, err := w.enqueuer.Enqueue(ctx, core.JobRegenerateDaily, target, "scheduler", false)
			switch {
			case err != nil:
				w.logger.Error("scheduled enqueue failed", "target_date", target, "error", err)
			case created:
				w.logger.Info("scheduled job enqueued", "job_id", job.ID, "target_date", target)
			default:
				w.logger.Info("scheduled enqueue deduplicated", "job_id", job.ID, "target_date", target)
			}
			next = w.sched.Next(now)
		}
	}
}
