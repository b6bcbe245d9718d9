package ai

import (
	"context"
	"strings"
)

const maxStubSummary = 240

var stubProjects = []string{"project", "launch", "roadmap"}

// Stub answers from simple keyword rules. It never fails.
type Stub struct{}

func (Stub) Name() string { return SourceStub }

func (Stub) Suggest(_ context.Context, req SuggestRequest) (*SuggestResponse, error) {
	text := strings.ToLower(req.Content)
	suggestions := []Suggestion{}
	if strings.Contains(text, "focus") && !strings.Contains(text, "#focus") {
		suggestions = append(suggestions, Suggestion{
			Type:       SuggestionFocus,
			Label:      "!focus",
			Value:      "!focus",
			Confidence: ptr(0.42),
			Metadata:   map[string]string{"source": SourceStub},
		})
	}
	for _, word := range stubProjects {
		if strings.Contains(text, word) {
			suggestions = append(suggestions, Suggestion{
				Type:       SuggestionProject,
				Label:      "@" + word,
				Value:      "@" + word,
				Confidence: ptr(0.38),
				Metadata:   map[string]string{"source": SourceStub},
			})
		}
	}
	return &SuggestResponse{Suggestions: suggestions, Source: SourceStub}, nil
}

func (Stub) Search(_ context.Context, req SearchRequest) (*SearchResponse, error) {
	results := []SearchResult{}
	if strings.TrimSpace(req.Query) != "" {
		results = append(results, SearchResult{
			ID:       "stub",
			Title:    "Search unavailable",
			Snippet:  "AI search is running in stub mode.",
			Metadata: map[string]string{"source": SourceStub},
		})
	}
	return &SearchResponse{Results: results, Source: SourceStub}, nil
}

// Summarize joins the first two lines of the content, cut to 240 characters.
func (Stub) Summarize(_ context.Context, req SummaryRequest) (*SummaryResponse, error) {
	text := strings.TrimSpace(req.Content)
	if text == "" {
		return &SummaryResponse{Source: SourceStub}, nil
	}
	lines := splitLines(text)
	if len(lines) > 2 {
		lines = lines[:2]
	}
	summary := []rune(strings.Join(lines, " "))
	if len(summary) > maxStubSummary {
		summary = summary[:maxStubSummary]
	}
	return &SummaryResponse{Summary: string(summary), Source: SourceStub}, nil
}

func (Stub) Health(context.Context) error { return nil }

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}
