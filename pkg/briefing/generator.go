// Package briefing drives the daily report generation pipeline: fetch the
// document window, summarize, rank hotspots, persist the report.
package briefing

import (
	"context"
	"log/slog"
	"time"

	"github.com/mlin-dev/dailybrief/pkg/core"
	"github.com/mlin-dev/dailybrief/pkg/hotspot"
)

// Ingestion fetches the processed document window for a report. The
// documents themselves are produced by an upstream pipeline.
type Ingestion interface {
	FetchWindow(ctx context.Context, end string, days int) ([]core.Document, error)
}

// Summary is the digest prose produced by the summarizer.
type Summary struct {
	Headline     string
	WhyItMatters string
	BigPicture   string
	CitationIDs  []string
}

// TagResult couples per-document event tags with the summarizer's cluster
// proposals for the same window.
type TagResult struct {
	Tags      []core.EventTag
	Proposals []core.ClusterProposal
}

// Summarizer is the generative collaborator. Implementations are expected
// to be slow and fallible; the generator wraps every call in a timeout and
// grants exactly one retry.
type Summarizer interface {
	Summarize(ctx context.Context, docs []core.Document) (Summary, error)
	TagAndCluster(ctx context.Context, docs []core.Document) (TagResult, error)
}

// ReportStore persists finished reports.
type ReportStore interface {
	UpsertReport(ctx context.Context, report *core.Report) error
}

// Config controls pipeline timing.
type Config struct {
	// WindowDays is the trailing document window length.
	WindowDays int
	// CallTimeout bounds each summarizer call.
	CallTimeout time.Duration
	// RetryBackoff is the pause before the single retry.
	RetryBackoff time.Duration
}

// DefaultConfig returns the standard pipeline timing.
func DefaultConfig() Config {
	return Config{
		WindowDays:   7,
		CallTimeout:  3 * time.Minute,
		RetryBackoff: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowDays < 1 {
		c.WindowDays = d.WindowDays
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// Generator produces one daily report per invocation.
type Generator struct {
	ingestion  Ingestion
	summarizer Summarizer
	reports    ReportStore
	engine     *hotspot.Engine
	cfg        Config
	logger     *slog.Logger
}

// NewGenerator wires the pipeline. A nil logger falls back to slog.Default.
func NewGenerator(ing Ingestion, sum Summarizer, reports ReportStore, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		ingestion:  ing,
		summarizer: sum,
		reports:    reports,
		engine:     hotspot.New(),
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Generate builds and persists the daily report for targetDate. Collaborator
// failures come back as *core.UpstreamError so the caller can record the
// message on the failed job.
func (g *Generator) Generate(ctx context.Context, targetDate string) (*core.Report, error) {
	if _, err := core.ParseDate(targetDate); err != nil {
		return nil, core.ErrInvalidTargetDate
	}

	docs, err := g.ingestion.FetchWindow(ctx, targetDate, g.cfg.WindowDays)
	if err != nil {
		return nil, core.Upstream("ingestion.fetch_window", err)
	}
	g.logger.Info("window fetched", "target_date", targetDate, "documents", len(docs))

	content := core.ReportContent{}
	if len(docs) > 0 {
		summary, err := g.summarize(ctx, docs)
		if err != nil {
			return nil, core.Upstream("summarizer.summarize", err)
		}
		tagged, err := g.tagAndCluster(ctx, docs)
		if err != nil {
			return nil, core.Upstream("summarizer.tag_and_cluster", err)
		}

		hotspots := g.engine.Rank(tagged.Tags, tagged.Proposals)
		content = core.ReportContent{
			Headline:     summary.Headline,
			WhyItMatters: summary.WhyItMatters,
			BigPicture:   summary.BigPicture,
			Hotspots:     hotspots,
			Sources:      sourceRefs(docs, summary.CitationIDs, hotspots),
		}
		g.logger.Info("window summarized", "target_date", targetDate, "hotspots", len(hotspots))
	} else {
		g.logger.Warn("empty document window", "target_date", targetDate)
	}

	report := &core.Report{
		Type:          core.ReportDaily,
		ReportDate:    targetDate,
		DocumentCount: len(docs),
	}
	if err := report.SetContent(content); err != nil {
		return nil, err
	}
	if err := g.reports.UpsertReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// summarize runs the summary call with the standard timeout, retrying once.
func (g *Generator) summarize(ctx context.Context, docs []core.Document) (Summary, error) {
	out, err := g.trySummarize(ctx, docs)
	if err == nil {
		return out, nil
	}
	if werr := g.waitRetry(ctx, "summarize", err); werr != nil {
		return Summary{}, werr
	}
	return g.trySummarize(ctx, docs)
}

func (g *Generator) trySummarize(ctx context.Context, docs []core.Document) (Summary, error) {
	cctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	return g.summarizer.Summarize(cctx, docs)
}

// tagAndCluster runs the tagging call with the standard timeout, retrying once.
func (g *Generator) tagAndCluster(ctx context.Context, docs []core.Document) (TagResult, error) {
	out, err := g.tryTagAndCluster(ctx, docs)
	if err == nil {
		return out, nil
	}
	if werr := g.waitRetry(ctx, "tag_and_cluster", err); werr != nil {
		return TagResult{}, werr
	}
	return g.tryTagAndCluster(ctx, docs)
}

func (g *Generator) tryTagAndCluster(ctx context.Context, docs []core.Document) (TagResult, error) {
	cctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	return g.summarizer.TagAndCluster(cctx, docs)
}

// waitRetry sleeps out the retry backoff unless the parent context dies first.
func (g *Generator) waitRetry(ctx context.Context, call string, err error) error {
	g.logger.Warn("summarizer call failed, retrying once", "call", call, "error", err)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.cfg.RetryBackoff):
		return nil
	}
}

// sourceRefs assembles the citation list: documents cited by the summary
// first, then hotspot members, each listed once in that order.
func sourceRefs(docs []core.Document, citationIDs []string, hotspots []core.HotspotCluster) []core.SourceRef {
	byID := make(map[string]core.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	var refs []core.SourceRef
	seen := make(map[string]struct{})
	add := func(id string) {
		doc, ok := byID[id]
		if !ok {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		refs = append(refs, core.SourceRef{
			DocumentID: doc.ID,
			AccountID:  doc.AccountID,
			Title:      doc.Title,
			Published:  doc.PublishedAt.Format(core.DateLayout),
		})
	}

	for _, id := range citationIDs {
		add(id)
	}
	for _, h := range hotspots {
		for _, id := range h.MemberIDs {
			add(id)
		}
	}
	return refs
}
