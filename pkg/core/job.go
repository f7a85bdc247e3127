// Package core provides the domain models and shared errors for dailybrief.
package core

import (
	"time"
)

// DateLayout is the civil date format used for target and report dates.
const DateLayout = "2006-01-02"

// ParseDate parses a civil date in DateLayout.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// JobType identifies the kind of work a job performs.
type JobType string

const (
	JobRegenerateDaily JobType = "regenerate_daily"
)

// ValidJobType reports whether t belongs to the closed job type set.
func ValidJobType(t JobType) bool {
	switch t {
	case JobRegenerateDaily:
		return true
	}
	return false
}

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusSuccess JobStatus = "success"
	StatusFailed  JobStatus = "failed"
)

// Terminal reports whether s is a terminal status.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ValidJobStatus reports whether s is a known status value.
func ValidJobStatus(s JobStatus) bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Messages recorded on jobs failed through administrative operations.
const (
	CancelMessage  = "canceled by operator"
	ReclaimMessage = "reclaimed: worker presumed dead"
)

// Job is an immutable record of exactly one generation attempt. Retrying a
// date means enqueueing a brand-new row, never transitioning an old one.
type Job struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Type         JobType    `gorm:"index:idx_jobs_type_date;size:64;not null" json:"job_type"`
	Status       JobStatus  `gorm:"index;size:20;default:'pending'" json:"status"`
	TargetDate   string     `gorm:"index:idx_jobs_type_date;size:10;not null" json:"target_date"`
	ReportID     *string    `gorm:"size:36" json:"report_id"`
	RequestedBy  string     `gorm:"size:100" json:"requested_by"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	ClaimedBy    string     `gorm:"size:36" json:"claimed_by"`
	CreatedAt    time.Time  `gorm:"index;autoCreateTime" json:"created_at"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

// IsStale reports whether a running job should be presumed abandoned by a
// dead worker. It is the single staleness rule, shared by listing and
// reclaim validation so the two cannot drift apart.
func IsStale(status JobStatus, startedAt *time.Time, now time.Time, threshold time.Duration) bool {
	if status != StatusRunning || startedAt == nil {
		return false
	}
	return now.Sub(*startedAt) > threshold
}

// Stale reports whether the job is stale at now, given threshold.
func (j *Job) Stale(now time.Time, threshold time.Duration) bool {
	return IsStale(j.Status, j.StartedAt, now, threshold)
}

// JobFilter narrows a job listing. Zero fields are ignored.
type JobFilter struct {
	Status JobStatus
	Type   JobType
	Limit  int
}
