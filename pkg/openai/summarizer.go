// Package openai implements the briefing summarizer against the OpenAI
// chat completions API. All calls run in JSON mode and decode into the wire
// structs below; anything the model invents outside the known document set
// is discarded before it reaches the pipeline.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/mlin-dev/dailybrief/pkg/briefing"
	"github.com/mlin-dev/dailybrief/pkg/core"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	defaultTemperature = 0.2
)

// ErrAPIKeyNotSet indicates a missing OpenAI API key.
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY")

// Summarizer calls the chat completions API to produce digest prose, event
// tags and cluster proposals.
type Summarizer struct {
	client openai.Client
	model  string
}

var _ briefing.Summarizer = (*Summarizer)(nil)

// NewSummarizer creates a summarizer with the given API key and model. An
// empty model falls back to DefaultModel.
func NewSummarizer(apiKey, model string) (*Summarizer, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultModel
	}
	return &Summarizer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Summarize produces the digest prose for one document window.
func (s *Summarizer) Summarize(ctx context.Context, docs []core.Document) (briefing.Summary, error) {
	raw, err := s.completeJSON(ctx, summaryPrompt(docs))
	if err != nil {
		return briefing.Summary{}, err
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return briefing.Summary{}, fmt.Errorf("decode summary response: %w", err)
	}
	return payload.toSummary(knownIDs(docs)), nil
}

// TagAndCluster produces per-document event tags and cluster proposals.
// Tagging and clustering are separate model calls so a clustering failure
// does not discard the tags already paid for.
func (s *Summarizer) TagAndCluster(ctx context.Context, docs []core.Document) (briefing.TagResult, error) {
	known := knownIDs(docs)

	rawTags, err := s.completeJSON(ctx, tagPrompt(docs))
	if err != nil {
		return briefing.TagResult{}, err
	}
	var tags tagPayload
	if err := json.Unmarshal([]byte(rawTags), &tags); err != nil {
		return briefing.TagResult{}, fmt.Errorf("decode tag response: %w", err)
	}
	eventTags := tags.toEventTags(docs)

	rawClusters, err := s.completeJSON(ctx, clusterPrompt(eventTags))
	if err != nil {
		return briefing.TagResult{}, err
	}
	var clusters clusterPayload
	if err := json.Unmarshal([]byte(rawClusters), &clusters); err != nil {
		return briefing.TagResult{}, fmt.Errorf("decode cluster response: %w", err)
	}

	return briefing.TagResult{
		Tags:      eventTags,
		Proposals: clusters.toProposals(known),
	}, nil
}

// completeJSON runs one JSON-mode chat completion and returns the raw body.
func (s *Summarizer) completeJSON(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(defaultTemperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	}

	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Wire payloads
// ──────────────────────────────────────────────────────────────────────────────

type summaryPayload struct {
	Headline     string   `json:"headline"`
	WhyItMatters string   `json:"why_it_matters"`
	BigPicture   string   `json:"big_picture"`
	CitationIDs  []string `json:"citation_ids"`
}

func (p summaryPayload) toSummary(known map[string]struct{}) briefing.Summary {
	out := briefing.Summary{
		Headline:     strings.TrimSpace(p.Headline),
		WhyItMatters: strings.TrimSpace(p.WhyItMatters),
		BigPicture:   strings.TrimSpace(p.BigPicture),
	}
	for _, id := range p.CitationIDs {
		if _, ok := known[id]; ok {
			out.CitationIDs = append(out.CitationIDs, id)
		}
	}
	return out
}

type tagPayload struct {
	Items []struct {
		DocumentID string         `json:"document_id"`
		OneLiner   string         `json:"one_liner"`
		Categories map[string]int `json:"categories"`
		Keep       bool           `json:"keep"`
	} `json:"items"`
}

// toEventTags joins tag items back to their documents. Items for unknown
// documents are dropped; account and publish time always come from the
// document record, never from the model.
func (p tagPayload) toEventTags(docs []core.Document) []core.EventTag {
	byID := make(map[string]core.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	var tags []core.EventTag
	for _, item := range p.Items {
		doc, ok := byID[item.DocumentID]
		if !ok {
			continue
		}
		tags = append(tags, core.EventTag{
			DocumentID: doc.ID,
			AccountID:  doc.AccountID,
			OneLiner:   strings.TrimSpace(item.OneLiner),
			Categories: item.Categories,
			Keep:       item.Keep,
			Published:  doc.PublishedAt,
		})
	}
	return tags
}

type clusterPayload struct {
	Events []struct {
		Event     string   `json:"event"`
		Category  string   `json:"category"`
		SourceIDs []string `json:"source_ids"`
	} `json:"events"`
}

func (p clusterPayload) toProposals(known map[string]struct{}) []core.ClusterProposal {
	var out []core.ClusterProposal
	for _, ev := range p.Events {
		var members []string
		for _, id := range ev.SourceIDs {
			if _, ok := known[id]; ok {
				members = append(members, id)
			}
		}
		if len(members) == 0 || strings.TrimSpace(ev.Event) == "" {
			continue
		}
		out = append(out, core.ClusterProposal{
			Label:     strings.TrimSpace(ev.Event),
			Category:  ev.Category,
			MemberIDs: members,
		})
	}
	return out
}

func knownIDs(docs []core.Document) map[string]struct{} {
	ids := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		ids[d.ID] = struct{}{}
	}
	return ids
}
