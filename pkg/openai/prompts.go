package openai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mlin-dev/dailybrief/pkg/core"
)

// maxDocTextLen bounds how much body text each document contributes to a
// prompt. Long articles add cost without adding signal for tagging.
const maxDocTextLen = 1500

func summaryPrompt(docs []core.Document) string {
	var b strings.Builder
	b.WriteString(`You are writing a daily intelligence digest from the documents below.
Respond with a JSON object of this exact shape:
{"headline": "...", "why_it_matters": "...", "big_picture": "...", "citation_ids": ["..."]}

headline: one sentence capturing the single most important development.
why_it_matters: 2-3 sentences on consequences for a practitioner audience.
big_picture: 2-3 sentences connecting today's developments to the running trend.
citation_ids: the document ids that directly support the text above. Only use ids listed below.

Documents:
`)
	writeDocs(&b, docs)
	return b.String()
}

func tagPrompt(docs []core.Document) string {
	var b strings.Builder
	b.WriteString(`Tag each document below with the event it reports.
Respond with a JSON object: {"items": [{"document_id": "...", "one_liner": "...", "categories": {"<category>": <weight>}, "keep": true}]}

one_liner: a single factual sentence naming the concrete event.
categories: 1-3 topical categories with integer weights 1-10.
keep: false for documents that report no concrete event (opinion, recap, promotion).
Tag every document exactly once. Only use document ids listed below.

Documents:
`)
	writeDocs(&b, docs)
	return b.String()
}

func clusterPrompt(tags []core.EventTag) string {
	var b strings.Builder
	b.WriteString(`Group the tagged events below into clusters that describe the same real-world development.
Respond with a JSON object: {"events": [{"event": "...", "category": "...", "source_ids": ["..."]}]}

event: a short neutral label for the shared development.
category: the dominant category of the cluster.
source_ids: the document ids belonging to the cluster. Only use ids listed below.
Leave unrelated events in clusters of their own. Never merge distinct developments.

Tagged events:
`)
	for _, tag := range tags {
		if !tag.Keep {
			continue
		}
		fmt.Fprintf(&b, "- id=%s account=%s date=%s: %s\n",
			tag.DocumentID, tag.AccountID, tag.Published.Format(core.DateLayout), tag.OneLiner)
	}
	return b.String()
}

func writeDocs(b *strings.Builder, docs []core.Document) {
	for _, d := range docs {
		fmt.Fprintf(b, "--- id=%s account=%s date=%s\ntitle: %s\n%s\n",
			d.ID, d.AccountID, d.PublishedAt.Format(core.DateLayout), d.Title,
			truncate(d.Text, maxDocTextLen))
	}
}

// truncate shortens s to at most max bytes without splitting a rune. Much of
// the source material is CJK text, so a plain byte slice would routinely
// produce invalid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
