// Package orchestrator enforces single-flight job creation and exposes the
// administrative cancel, reclaim and listing operations.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/mlin-dev/dailybrief/pkg/core"
)

// DefaultStaleThreshold is how long a running job may go without finishing
// before it is presumed abandoned.
const DefaultStaleThreshold = 45 * time.Minute

// Store is the job persistence surface the orchestrator needs.
type Store interface {
	CreateJob(ctx context.Context, job *core.Job) error
	CreateJobUnique(ctx context.Context, job *core.Job) (*core.Job, bool, error)
	GetJob(ctx context.Context, jobID string) (*core.Job, error)
	ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error)
	CancelJob(ctx context.Context, jobID string) error
	ReclaimJob(ctx context.Context, jobID string, cutoff time.Time) error
}

// Orchestrator owns job lifecycle decisions. Workers only ever see jobs the
// orchestrator admitted.
type Orchestrator struct {
	store          Store
	staleThreshold time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStaleThreshold overrides the staleness threshold.
func WithStaleThreshold(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.staleThreshold = d
		}
	}
}

// WithClock overrides the time source. Tests use this to move time forward
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator over the given store.
func New(store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		staleThreshold: DefaultStaleThreshold,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StaleThreshold returns the configured staleness threshold.
func (o *Orchestrator) StaleThreshold() time.Duration {
	return o.staleThreshold
}

// Enqueue admits a new job. Without force, an existing pending or running
// job for the same (type, target_date) wins and is returned with
// created=false. Force skips that check for the new row only; it never
// preempts the jobs already in flight.
func (o *Orchestrator) Enqueue(ctx context.Context, jobType core.JobType, targetDate, requestedBy string, force bool) (*core.Job, bool, error) {
	if !core.ValidJobType(jobType) {
		return nil, false, core.ErrInvalidJobType
	}
	if targetDate == "" {
		return nil, false, core.ErrMissingTargetDate
	}
	if _, err := core.ParseDate(targetDate); err != nil {
		return nil, false, core.ErrInvalidTargetDate
	}

	job := &core.Job{
		Type:        jobType,
		Status:      core.StatusPending,
		TargetDate:  targetDate,
		RequestedBy: requestedBy,
	}

	if force {
		if err := o.store.CreateJob(ctx, job); err != nil {
			return nil, false, err
		}
		o.logger.Info("job enqueued", "job_id", job.ID, "target_date", targetDate, "forced", true)
		return job, true, nil
	}

	winner, created, err := o.store.CreateJobUnique(ctx, job)
	if err != nil {
		return nil, false, err
	}
	if created {
		o.logger.Info("job enqueued", "job_id", winner.ID, "target_date", targetDate)
	} else {
		o.logger.Info("enqueue deduplicated", "job_id", winner.ID, "target_date", targetDate)
	}
	return winner, created, nil
}

// Cancel fails a pending job on behalf of an operator.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	if err := o.store.CancelJob(ctx, jobID); err != nil {
		return err
	}
	o.logger.Info("job canceled", "job_id", jobID)
	return nil
}

// Reclaim fails a running job that has exceeded the staleness threshold.
// The store re-checks the same condition inside its conditional update, so
// a job finishing between the read and the write stays untouched.
func (o *Orchestrator) Reclaim(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	now := o.now()
	if !job.Stale(now, o.staleThreshold) {
		return core.ErrInvalidState
	}
	if err := o.store.ReclaimJob(ctx, jobID, now.Add(-o.staleThreshold)); err != nil {
		return err
	}
	o.logger.Warn("job reclaimed", "job_id", jobID, "started_at", job.StartedAt)
	return nil
}

// JobView is a job plus its derived staleness flag. Staleness is never
// stored; it is computed at read time from the shared rule.
type JobView struct {
	core.Job
	IsStale bool `json:"is_stale"`
}

// Get retrieves a single job with its staleness flag.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*JobView, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobView{Job: *job, IsStale: job.Stale(o.now(), o.staleThreshold)}, nil
}

// List returns jobs matching the filter, newest first, each annotated with
// its staleness flag.
func (o *Orchestrator) List(ctx context.Context, filter core.JobFilter) ([]JobView, error) {
	jobs, err := o.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := o.now()
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, JobView{Job: *job, IsStale: job.Stale(now, o.staleThreshold)})
	}
	return views, nil
}
