package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mlin-dev/dailybrief/pkg/core"
)

// newTestStore creates a fresh in-memory SQLite store for each test.
// The database is fully migrated and ready for use.
func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	s := NewGormStore(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// newTestJob builds a minimal valid job for insertion in tests.
func newTestJob(date string) *core.Job {
	return &core.Job{
		Type:       core.JobRegenerateDaily,
		TargetDate: date,
	}
}

// backdateStart rewrites a job's started_at, simulating a worker that
// claimed the job long ago.
func backdateStart(t *testing.T, s *GormStore, jobID string, ago time.Duration) {
	t.Helper()
	past := time.Now().Add(-ago)
	err := s.db.Model(&core.Job{}).Where("id = ?", jobID).Update("started_at", past).Error
	require.NoError(t, err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Create / single-flight
// ──────────────────────────────────────────────────────────────────────────────

func TestCreateJob_FillsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.StatusPending, job.Status)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09", got.TargetDate)
}

func TestCreateJobUnique_SecondEnqueueReturnsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.CreateJobUnique(ctx, newTestJob("2026-03-09"))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.CreateJobUnique(ctx, newTestJob("2026-03-09"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID, "duplicate enqueue should yield the existing job")
}

func TestCreateJobUnique_RunningJobStillHoldsSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _, err := s.CreateJobUnique(ctx, newTestJob("2026-03-09"))
	require.NoError(t, err)
	claimed, err := s.ClaimJob(ctx, first.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, claimed)

	got, created, err := s.CreateJobUnique(ctx, newTestJob("2026-03-09"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, got.ID)
}

func TestCreateJobUnique_TerminalJobReleasesSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _, err := s.CreateJobUnique(ctx, newTestJob("2026-03-09"))
	require.NoError(t, err)
	require.NoError(t, s.CancelJob(ctx, first.ID))

	second, created, err := s.CreateJobUnique(ctx, newTestJob("2026-03-09"))
	require.NoError(t, err)
	assert.True(t, created, "terminal jobs must not block re-enqueue")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateJobUnique_DifferentDatesDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, created, err := s.CreateJobUnique(ctx, newTestJob("2026-03-09"))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = s.CreateJobUnique(ctx, newTestJob("2026-03-10"))
	require.NoError(t, err)
	assert.True(t, created)
}

// ──────────────────────────────────────────────────────────────────────────────
// Claim
// ──────────────────────────────────────────────────────────────────────────────

func TestClaimJob_TransitionsToRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))

	claimed, err := s.ClaimJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, got.Status)
	assert.Equal(t, "worker-1", got.ClaimedBy)
	require.NotNil(t, got.StartedAt)
}

func TestClaimJob_LosingClaimantGetsFalse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))

	claimed, err := s.ClaimJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = s.ClaimJob(ctx, job.ID, "worker-2")
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose the race")

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", got.ClaimedBy)
}

func TestClaimJob_MissingJob(t *testing.T) {
	s := newTestStore(t)

	claimed, err := s.ClaimJob(context.Background(), "no-such-id", "worker-1")
	require.NoError(t, err)
	assert.False(t, claimed)
}

// ──────────────────────────────────────────────────────────────────────────────
// Complete / fail
// ──────────────────────────────────────────────────────────────────────────────

func TestCompleteJob_LinksReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)

	require.NoError(t, s.CompleteJob(ctx, job.ID, "report-1"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, got.Status)
	require.NotNil(t, got.ReportID)
	assert.Equal(t, "report-1", *got.ReportID)
	require.NotNil(t, got.FinishedAt)
}

func TestCompleteJob_TerminalIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	require.NoError(t, s.FailJob(ctx, job.ID, "summarizer unavailable"))

	assert.NoError(t, s.CompleteJob(ctx, job.ID, "report-1"), "completion must stay monotonic")

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Nil(t, got.ReportID)
}

func TestCompleteJob_PendingIsInvalidState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))

	assert.ErrorIs(t, s.CompleteJob(ctx, job.ID, "report-1"), core.ErrInvalidState)
}

func TestFailJob_RecordsMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)

	require.NoError(t, s.FailJob(ctx, job.ID, "upstream summarizer.summarize: timeout"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, "upstream summarizer.summarize: timeout", got.ErrorMessage)
}

func TestFailJob_MissingJob(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.FailJob(context.Background(), "no-such-id", "boom"), core.ErrNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancel / reclaim
// ──────────────────────────────────────────────────────────────────────────────

func TestCancelJob_PendingOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.CancelJob(ctx, job.ID))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, core.CancelMessage, got.ErrorMessage)
}

func TestCancelJob_RunningIsInvalidState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)

	assert.ErrorIs(t, s.CancelJob(ctx, job.ID), core.ErrInvalidState)
}

func TestCancelJob_TerminalIsInvalidState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.CancelJob(ctx, job.ID))

	assert.ErrorIs(t, s.CancelJob(ctx, job.ID), core.ErrInvalidState)
}

func TestCancelJob_MissingJob(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.CancelJob(context.Background(), "no-such-id"), core.ErrNotFound)
}

func TestReclaimJob_StaleRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	backdateStart(t, s, job.ID, 90*time.Minute)

	cutoff := time.Now().Add(-45 * time.Minute)
	require.NoError(t, s.ReclaimJob(ctx, job.ID, cutoff))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, core.ReclaimMessage, got.ErrorMessage)
}

func TestReclaimJob_FreshRunningIsInvalidState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID, "worker-1")
	require.NoError(t, err)
	backdateStart(t, s, job.ID, 30*time.Minute)

	cutoff := time.Now().Add(-45 * time.Minute)
	assert.ErrorIs(t, s.ReclaimJob(ctx, job.ID, cutoff), core.ErrInvalidState)
}

func TestReclaimJob_PendingIsInvalidState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, job))

	cutoff := time.Now().Add(-45 * time.Minute)
	assert.ErrorIs(t, s.ReclaimJob(ctx, job.ID, cutoff), core.ErrInvalidState)
}

// ──────────────────────────────────────────────────────────────────────────────
// Listing / dequeue order
// ──────────────────────────────────────────────────────────────────────────────

func TestListJobs_NewestFirstWithFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newTestJob("2026-03-07")
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.CreateJob(ctx, old))

	recent := newTestJob("2026-03-08")
	recent.CreatedAt = time.Now().Add(-1 * time.Hour)
	require.NoError(t, s.CreateJob(ctx, recent))
	require.NoError(t, s.CancelJob(ctx, recent.ID))

	newest := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, newest))

	all, err := s.ListJobs(ctx, core.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, newest.ID, all[0].ID)
	assert.Equal(t, recent.ID, all[1].ID)
	assert.Equal(t, old.ID, all[2].ID)

	failed, err := s.ListJobs(ctx, core.JobFilter{Status: core.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, recent.ID, failed[0].ID)

	limited, err := s.ListJobs(ctx, core.JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestNextPendingJob_OldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newTestJob("2026-03-08")
	old.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.CreateJob(ctx, old))

	recent := newTestJob("2026-03-09")
	require.NoError(t, s.CreateJob(ctx, recent))

	next, err := s.NextPendingJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, old.ID, next.ID)
}

func TestNextPendingJob_EmptyQueue(t *testing.T) {
	s := newTestStore(t)

	next, err := s.NextPendingJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

// ──────────────────────────────────────────────────────────────────────────────
// Reports
// ──────────────────────────────────────────────────────────────────────────────

func TestUpsertReport_InsertThenReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &core.Report{Type: core.ReportDaily, ReportDate: "2026-03-09", DocumentCount: 12}
	require.NoError(t, first.SetContent(core.ReportContent{Headline: "v1"}))
	require.NoError(t, s.UpsertReport(ctx, first))
	require.NotEmpty(t, first.ID)

	second := &core.Report{Type: core.ReportDaily, ReportDate: "2026-03-09", DocumentCount: 15}
	require.NoError(t, second.SetContent(core.ReportContent{Headline: "v2"}))
	require.NoError(t, s.UpsertReport(ctx, second))
	assert.Equal(t, first.ID, second.ID, "regeneration must replace, not duplicate")

	got, err := s.GetReportByDate(ctx, core.ReportDaily, "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, 15, got.DocumentCount)
	content, err := got.DecodeContent()
	require.NoError(t, err)
	assert.Equal(t, "v2", content.Headline)
}

func TestGetReport_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetReport(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.GetReportByDate(context.Background(), core.ReportDaily, "1999-01-01")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// Documents
// ──────────────────────────────────────────────────────────────────────────────

func TestFetchWindow_TrailingDays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := func(date string, hour int) time.Time {
		d, err := core.ParseDate(date)
		require.NoError(t, err)
		return d.Add(time.Duration(hour) * time.Hour)
	}

	docs := []core.Document{
		{ID: "d-old", AccountID: "a1", PublishedAt: day("2026-03-01", 10)},
		{ID: "d-edge", AccountID: "a1", PublishedAt: day("2026-03-03", 0)},
		{ID: "d-mid", AccountID: "a2", PublishedAt: day("2026-03-06", 9)},
		{ID: "d-new", AccountID: "a3", PublishedAt: day("2026-03-09", 23)},
		{ID: "d-future", AccountID: "a3", PublishedAt: day("2026-03-10", 1)},
	}
	require.NoError(t, s.db.Create(&docs).Error)

	got, err := s.FetchWindow(ctx, "2026-03-09", 7)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "d-new", got[0].ID, "newest first")
	assert.Equal(t, "d-mid", got[1].ID)
	assert.Equal(t, "d-edge", got[2].ID, "window start is inclusive")
}

func TestFetchWindow_BadDate(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FetchWindow(context.Background(), "not-a-date", 7)
	assert.ErrorIs(t, err, core.ErrInvalidTargetDate)
}
