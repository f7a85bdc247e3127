package core

import (
	"encoding/json"
	"time"
)

// ReportType identifies the cadence of a report.
type ReportType string

const (
	ReportDaily ReportType = "daily"
)

// Report is a finished digest for one (type, date) slot. At most one row
// exists per slot; regeneration replaces the content wholesale.
type Report struct {
	ID            string     `gorm:"primaryKey;size:36"`
	Type          ReportType `gorm:"uniqueIndex:idx_reports_type_date;size:20;not null"`
	ReportDate    string     `gorm:"uniqueIndex:idx_reports_type_date;size:10;not null"`
	Content       []byte     `gorm:"type:text"`
	DocumentCount int        `gorm:"default:0"`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
}

// SetContent serializes c into the report's content column.
func (r *Report) SetContent(c ReportContent) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	r.Content = b
	return nil
}

// DecodeContent deserializes the report's content column.
func (r *Report) DecodeContent() (ReportContent, error) {
	var c ReportContent
	if len(r.Content) == 0 {
		return c, nil
	}
	err := json.Unmarshal(r.Content, &c)
	return c, err
}

// ReportContent is the fixed schema embedded in a report row.
type ReportContent struct {
	Headline     string           `json:"headline"`
	WhyItMatters string           `json:"why_it_matters"`
	BigPicture   string           `json:"big_picture"`
	Hotspots     []HotspotCluster `json:"hotspots"`
	Sources      []SourceRef      `json:"sources"`
}

// SourceRef is a citation entry in a report's source list.
type SourceRef struct {
	DocumentID string `json:"document_id"`
	AccountID  string `json:"account_id"`
	Title      string `json:"title"`
	Published  string `json:"published"`
}

// HotspotCluster is one ranked trending topic inside report content.
// MemberIDs are ordered for display: one representative document per
// account first, then the remainder.
type HotspotCluster struct {
	Label            string   `json:"label"`
	Category         string   `json:"category"`
	MemberIDs        []string `json:"member_ids"`
	CoverageDocs     int      `json:"coverage_docs"`
	CoverageAccounts int      `json:"coverage_accounts"`
	Hotness          int      `json:"hotness"`
	LastSeen         string   `json:"last_seen"`
}

// Document is a processed article available to report generation. Rows are
// written by the upstream ingestion pipeline; dailybrief only reads them.
type Document struct {
	ID          string    `gorm:"primaryKey;size:36"`
	AccountID   string    `gorm:"index;size:100;not null"`
	Title       string    `gorm:"size:500"`
	Text        string    `gorm:"type:text"`
	PublishedAt time.Time `gorm:"index"`
}

// EventTag is the per-document event label produced by the summarizer's
// tagging pass. Tags are ephemeral pipeline values, never persisted.
type EventTag struct {
	DocumentID string
	AccountID  string
	OneLiner   string
	Categories map[string]int
	Keep       bool
	Published  time.Time
}

// ClusterProposal is a semantic grouping proposed by the summarizer. The
// hotspot engine enforces structural rules on proposals but never invents
// groupings of its own.
type ClusterProposal struct {
	Label     string
	Category  string
	MemberIDs []string
}
