// Package hotspot turns summarizer cluster proposals into a ranked,
// deduplicated list of trending topics. The engine is purely structural:
// membership comes from the proposals, and every rule here is deterministic
// so the same inputs always yield the same ranked output.
package hotspot

import (
	"sort"
	"strings"
	"unicode"

	"github.com/mlin-dev/dailybrief/pkg/core"
)

const (
	// DefaultMinAccounts is the corroboration floor: a hotspot must span
	// at least this many distinct publisher accounts to surface.
	DefaultMinAccounts = 3

	baseScore       = 20
	perDocScore     = 18
	perAccountScore = 10
	maxScore        = 100
)

// Engine ranks cluster proposals against the event tags of one window.
type Engine struct {
	minAccounts int
}

// New creates an engine with the default corroboration floor.
func New() *Engine {
	return &Engine{minAccounts: DefaultMinAccounts}
}

// NewWithFloor creates an engine with a custom corroboration floor.
// Floors below 1 are clamped to 1.
func NewWithFloor(minAccounts int) *Engine {
	if minAccounts < 1 {
		minAccounts = 1
	}
	return &Engine{minAccounts: minAccounts}
}

// cluster is the working state for one accepted proposal.
type cluster struct {
	label     string
	category  string
	tokens    map[string]struct{}
	memberIDs []string
	seen      map[string]struct{}
}

// Rank builds the ranked hotspot list for a window. Tags with Keep=false are
// invisible: their documents cannot appear as members or count toward
// coverage. Proposals whose normalized labels match are merged, the earliest
// label winning.
func (e *Engine) Rank(tags []core.EventTag, proposals []core.ClusterProposal) []core.HotspotCluster {
	index := buildTagIndex(tags)

	var clusters []*cluster
	for _, p := range proposals {
		members := knownMembers(p.MemberIDs, index)
		if len(members) == 0 {
			continue
		}
		tokens := labelTokens(p.Label)
		if merged := findMergeTarget(clusters, tokens); merged != nil {
			merged.absorb(members)
			continue
		}
		c := &cluster{
			label:    strings.TrimSpace(p.Label),
			category: p.Category,
			tokens:   tokens,
			seen:     make(map[string]struct{}),
		}
		c.absorb(members)
		clusters = append(clusters, c)
	}

	out := make([]core.HotspotCluster, 0, len(clusters))
	for _, c := range clusters {
		hc := c.finalize(index)
		if hc.CoverageAccounts < e.minAccounts {
			continue
		}
		out = append(out, hc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Hotness != out[j].Hotness {
			return out[i].Hotness > out[j].Hotness
		}
		if out[i].LastSeen != out[j].LastSeen {
			return out[i].LastSeen > out[j].LastSeen
		}
		return out[i].CoverageAccounts > out[j].CoverageAccounts
	})
	return out
}

func (c *cluster) absorb(memberIDs []string) {
	for _, id := range memberIDs {
		if _, dup := c.seen[id]; dup {
			continue
		}
		c.seen[id] = struct{}{}
		c.memberIDs = append(c.memberIDs, id)
	}
}

// finalize computes coverage, hotness and display ordering for one cluster.
func (c *cluster) finalize(index map[string]core.EventTag) core.HotspotCluster {
	accounts := make(map[string]struct{})
	var lastSeen string
	for _, id := range c.memberIDs {
		tag := index[id]
		accounts[tag.AccountID] = struct{}{}
		if day := tag.Published.Format(core.DateLayout); day > lastSeen {
			lastSeen = day
		}
	}

	docs := len(c.memberIDs)
	accs := len(accounts)
	return core.HotspotCluster{
		Label:            c.label,
		Category:         c.category,
		MemberIDs:        orderMembers(c.memberIDs, index),
		CoverageDocs:     docs,
		CoverageAccounts: accs,
		Hotness:          score(docs, accs),
		LastSeen:         lastSeen,
	}
}

// score maps coverage to the 0-100 hotness scale.
func score(docs, accounts int) int {
	s := baseScore + docs*perDocScore + accounts*perAccountScore
	if s > maxScore {
		return maxScore
	}
	return s
}

// orderMembers arranges member IDs for display: one representative document
// per account first (the most recent within that account), then the
// remaining documents most recent first. All ties fall back to the stable
// input order, keeping the result deterministic.
func orderMembers(memberIDs []string, index map[string]core.EventTag) []string {
	repByAccount := make(map[string]string)
	var accountOrder []string
	for _, id := range memberIDs {
		acct := index[id].AccountID
		rep, ok := repByAccount[acct]
		if !ok {
			repByAccount[acct] = id
			accountOrder = append(accountOrder, acct)
			continue
		}
		if index[id].Published.After(index[rep].Published) {
			repByAccount[acct] = id
		}
	}

	reps := make([]string, 0, len(accountOrder))
	isRep := make(map[string]struct{}, len(accountOrder))
	for _, acct := range accountOrder {
		reps = append(reps, repByAccount[acct])
		isRep[repByAccount[acct]] = struct{}{}
	}
	sortByPublishedDesc(reps, index)

	var rest []string
	for _, id := range memberIDs {
		if _, ok := isRep[id]; !ok {
			rest = append(rest, id)
		}
	}
	sortByPublishedDesc(rest, index)

	return append(reps, rest...)
}

func sortByPublishedDesc(ids []string, index map[string]core.EventTag) {
	sort.SliceStable(ids, func(i, j int) bool {
		return index[ids[i]].Published.After(index[ids[j]].Published)
	})
}

// buildTagIndex maps document ID to its keep-tag. Only Keep=true tags enter
// the index; the first tag for a document wins.
func buildTagIndex(tags []core.EventTag) map[string]core.EventTag {
	index := make(map[string]core.EventTag, len(tags))
	for _, tag := range tags {
		if !tag.Keep {
			continue
		}
		if _, ok := index[tag.DocumentID]; ok {
			continue
		}
		index[tag.DocumentID] = tag
	}
	return index
}

// knownMembers filters proposal members down to indexed documents, dropping
// duplicates while preserving order.
func knownMembers(memberIDs []string, index map[string]core.EventTag) []string {
	var out []string
	seen := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		if _, ok := index[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// findMergeTarget returns the first cluster whose label token set equals
// tokens, or nil.
func findMergeTarget(clusters []*cluster, tokens map[string]struct{}) *cluster {
	for _, c := range clusters {
		if sameTokens(c.tokens, tokens) {
			return c
		}
	}
	return nil
}

func sameTokens(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for tok := range a {
		if _, ok := b[tok]; !ok {
			return false
		}
	}
	return true
}

// labelTokens normalizes a cluster label into a comparable token set.
// Punctuation becomes a separator and casing is ignored, so "HBM supply!"
// and "hbm  Supply" collapse to the same set.
func labelTokens(label string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}
