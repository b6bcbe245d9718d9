// Package ai answers the editor's assist requests: inline suggestions,
// semantic search and summaries.
//
// Requests are routed to a Provider chosen by ai.mode. The stub provider is
// deterministic and needs no model, the HTTP provider forwards JSON to a model
// server at ai.model_url, and the Anthropic provider calls the Messages API.
package ai

import "context"

// SuggestionType classifies a suggestion.
type SuggestionType string

const (
	SuggestionTag     SuggestionType = "tag"
	SuggestionProject SuggestionType = "project"
	SuggestionFocus   SuggestionType = "focus"
	SuggestionSummary SuggestionType = "summary"
	SuggestionLink    SuggestionType = "link"
	SuggestionNote    SuggestionType = "note"
)

// Source values reported in responses.
const (
	SourceDisabled  = "disabled"
	SourceStub      = "stub"
	SourceModel     = "model"
	SourceAnthropic = "anthropic"
)

type Suggestion struct {
	Type       SuggestionType    `json:"type"`
	Label      string            `json:"label"`
	Value      string            `json:"value,omitempty"`
	Confidence *float64          `json:"confidence,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type SuggestRequest struct {
	Content string         `json:"content"`
	Cursor  *int           `json:"cursor,omitempty" validate:"omitempty,min=0"`
	Tags    []string       `json:"tags,omitempty"`
	Mode    string         `json:"mode,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

type SuggestResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
	LatencyMS   *float64     `json:"latency_ms,omitempty"`
	Source      string       `json:"source,omitempty"`
}

// DefaultSearchLimit applies when a search request omits limit.
const DefaultSearchLimit = 5

type SearchRequest struct {
	Query   string             `json:"query"`
	Limit   *int               `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
	Mode    string             `json:"mode,omitempty"`
	Filters map[string]*string `json:"filters,omitempty"`
}

type SearchResult struct {
	ID       string            `json:"id,omitempty"`
	Title    string            `json:"title"`
	Snippet  string            `json:"snippet"`
	Score    *float64          `json:"score,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	LatencyMS *float64       `json:"latency_ms,omitempty"`
	Source    string         `json:"source,omitempty"`
}

type SummaryRequest struct {
	Content string `json:"content"`
	Focus   string `json:"focus,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Length  string `json:"length,omitempty"`
}

type SummaryResponse struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights,omitempty"`
	LatencyMS  *float64 `json:"latency_ms,omitempty"`
	Source     string   `json:"source,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Mode    string `json:"mode"`
	Enabled bool   `json:"enabled"`
}

// Provider produces assist responses. Implementations report model failures
// as errs.KindUnavailable.
type Provider interface {
	Name() string
	Suggest(ctx context.Context, req SuggestRequest) (*SuggestResponse, error)
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	Summarize(ctx context.Context, req SummaryRequest) (*SummaryResponse, error)
	Health(ctx context.Context) error
}

func ptr[T any](v T) *T { return &v }
