// Package storage provides the GORM-backed job and report stores.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mlin-dev/dailybrief/pkg/core"
)

// GormStore implements job, report and document persistence using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying gorm handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.Report{}, &core.Document{})
}

// ──────────────────────────────────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────────────────────────────────

// CreateJob inserts a job unconditionally.
func (s *GormStore) CreateJob(ctx context.Context, job *core.Job) error {
	fillJobDefaults(job)
	return s.db.WithContext(ctx).Create(job).Error
}

// CreateJobUnique inserts job unless a pending or running job already holds
// the same (type, target_date) slot. The check and the insert run in one
// transaction so concurrent enqueues for the same slot cannot both insert.
// It returns the job holding the slot after the call and whether the given
// job was the one inserted.
func (s *GormStore) CreateJobUnique(ctx context.Context, job *core.Job) (*core.Job, bool, error) {
	fillJobDefaults(job)

	var existing core.Job
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Where("type = ? AND target_date = ?", job.Type, job.TargetDate).
			Where("status IN ?", []core.JobStatus{core.StatusPending, core.StatusRunning}).
			Order("created_at DESC").
			First(&existing)
		if res.Error == nil {
			return nil
		}
		if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return res.Error
		}
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		return job, true, nil
	}
	return &existing, false, nil
}

// ClaimJob transitions a pending job to running on behalf of workerID. The
// transition is a single conditional update; it returns false when a
// concurrent claimant already won, which callers treat as a plain no-op.
func (s *GormStore) ClaimJob(ctx context.Context, jobID, workerID string) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", jobID, core.StatusPending).
		Updates(map[string]any{
			"status":     core.StatusRunning,
			"started_at": now,
			"claimed_by": workerID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteJob transitions a running job to success and links the produced
// report. Completing an already-terminal job is a no-op.
func (s *GormStore) CompleteJob(ctx context.Context, jobID, reportID string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", jobID, core.StatusRunning).
		Updates(map[string]any{
			"status":      core.StatusSuccess,
			"report_id":   reportID,
			"finished_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.finishConflict(ctx, jobID)
	}
	return nil
}

// FailJob transitions a running job to failed with the given message.
// Failing an already-terminal job is a no-op.
func (s *GormStore) FailJob(ctx context.Context, jobID, message string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", jobID, core.StatusRunning).
		Updates(map[string]any{
			"status":        core.StatusFailed,
			"error_message": message,
			"finished_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.finishConflict(ctx, jobID)
	}
	return nil
}

// finishConflict classifies a complete/fail update that matched zero rows.
// Terminal jobs absorb the call silently so completion stays monotonic.
func (s *GormStore) finishConflict(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	return core.ErrInvalidState
}

// CancelJob fails a pending job on behalf of an operator. Jobs in any other
// state, running included, cannot be canceled.
func (s *GormStore) CancelJob(ctx context.Context, jobID string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", jobID, core.StatusPending).
		Updates(map[string]any{
			"status":        core.StatusFailed,
			"error_message": core.CancelMessage,
			"finished_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.transitionConflict(ctx, jobID)
	}
	return nil
}

// ReclaimJob fails a running job whose start time precedes cutoff. Fresh
// running jobs and jobs in any other state are rejected with
// core.ErrInvalidState.
func (s *GormStore) ReclaimJob(ctx context.Context, jobID string, cutoff time.Time) error {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ? AND started_at IS NOT NULL AND started_at < ?",
			jobID, core.StatusRunning, cutoff).
		Updates(map[string]any{
			"status":        core.StatusFailed,
			"error_message": core.ReclaimMessage,
			"finished_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.transitionConflict(ctx, jobID)
	}
	return nil
}

// transitionConflict classifies a cancel/reclaim update that matched zero
// rows: missing jobs map to ErrNotFound, everything else to ErrInvalidState.
func (s *GormStore) transitionConflict(ctx context.Context, jobID string) error {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return core.ErrInvalidState
}

// GetJob retrieves a job by ID, returning core.ErrNotFound when absent.
func (s *GormStore) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *GormStore) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	q := s.db.WithContext(ctx).Model(&core.Job{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var jobs []*core.Job
	err := q.Order("created_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// NextPendingJob returns the oldest pending job, or nil when the queue is
// empty. It does not claim the job; that is a separate compare-and-swap.
func (s *GormStore) NextPendingJob(ctx context.Context) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", core.StatusPending).
		Order("created_at ASC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func fillJobDefaults(job *core.Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Reports
// ──────────────────────────────────────────────────────────────────────────────

// UpsertReport saves a report, replacing any existing row for the same
// (type, report_date) slot. The slot check and the write share a
// transaction, mirroring the unique-enqueue guard on jobs.
func (s *GormStore) UpsertReport(ctx context.Context, report *core.Report) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing core.Report
		err := tx.
			Where("type = ? AND report_date = ?", report.Type, report.ReportDate).
			First(&existing).Error
		if err == nil {
			report.ID = existing.ID
			report.CreatedAt = existing.CreatedAt
			return tx.Model(&core.Report{}).
				Where("id = ?", existing.ID).
				Updates(map[string]any{
					"content":        report.Content,
					"document_count": report.DocumentCount,
				}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(report).Error
	})
}

// GetReport retrieves a report by ID, returning core.ErrNotFound when absent.
func (s *GormStore) GetReport(ctx context.Context, reportID string) (*core.Report, error) {
	var report core.Report
	err := s.db.WithContext(ctx).Where("id = ?", reportID).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetReportByDate retrieves the report for a (type, date) slot.
func (s *GormStore) GetReportByDate(ctx context.Context, typ core.ReportType, date string) (*core.Report, error) {
	var report core.Report
	err := s.db.WithContext(ctx).
		Where("type = ? AND report_date = ?", typ, date).
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Documents
// ──────────────────────────────────────────────────────────────────────────────

// FetchWindow returns the documents published in the trailing window ending
// on the given date, inclusive. Results are ordered newest first with the ID
// as a deterministic tiebreaker.
func (s *GormStore) FetchWindow(ctx context.Context, end string, days int) ([]core.Document, error) {
	endDate, err := core.ParseDate(end)
	if err != nil {
		return nil, core.ErrInvalidTargetDate
	}
	if days < 1 {
		days = 1
	}
	windowEnd := endDate.AddDate(0, 0, 1)
	windowStart := windowEnd.AddDate(0, 0, -days)

	var docs []core.Document
	err = s.db.WithContext(ctx).
		Where("published_at >= ? AND published_at < ?", windowStart, windowEnd).
		Order("published_at DESC, id ASC").
		Find(&docs).Error
	return docs, err
}
