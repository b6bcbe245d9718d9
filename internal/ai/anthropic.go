package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/enso-notes/enso/internal/errs"
)

const (
	anthropicMaxTokens  = 512
	maxModelSuggestions = 5
)

const suggestSystemPrompt = `You suggest short tags for a personal note.
Reply with at most five tags, one per line, lowercase, without "#" and without commentary.`

const summarySystemPrompt = `You summarize personal notes in plain prose.
Reply with the summary only.`

// Anthropic calls the Messages API. Search has no model-backed
// implementation and is answered by the stub.
type Anthropic struct {
	client anthropic.Client
	model  string
	stub   Stub
}

// NewAnthropic builds a provider. baseURL may be empty to use the public
// endpoint.
func NewAnthropic(apiKey, baseURL, model string, timeout time.Duration) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: model}
}

func (a *Anthropic) Name() string { return SourceAnthropic }

func (a *Anthropic) Suggest(ctx context.Context, req SuggestRequest) (*SuggestResponse, error) {
	prompt := req.Content
	if len(req.Tags) > 0 {
		prompt += "\n\nExisting tags: " + strings.Join(req.Tags, ", ")
	}
	text, err := a.complete(ctx, suggestSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	have := make(map[string]bool, len(req.Tags))
	for _, t := range req.Tags {
		have[strings.ToLower(t)] = true
	}
	suggestions := []Suggestion{}
	for _, line := range splitLines(text) {
		tag := strings.ToLower(strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*#")))
		if tag == "" || have[tag] {
			continue
		}
		have[tag] = true
		suggestions = append(suggestions, Suggestion{
			Type:     SuggestionTag,
			Label:    "#" + tag,
			Value:    tag,
			Metadata: map[string]string{"source": SourceAnthropic, "model": a.model},
		})
		if len(suggestions) == maxModelSuggestions {
			break
		}
	}
	return &SuggestResponse{Suggestions: suggestions, Source: SourceAnthropic}, nil
}

func (a *Anthropic) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	return a.stub.Search(ctx, req)
}

func (a *Anthropic) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResponse, error) {
	if strings.TrimSpace(req.Content) == "" {
		return &SummaryResponse{Source: SourceAnthropic}, nil
	}
	prompt := req.Content
	if req.Focus != "" {
		prompt += "\n\nFocus on: " + req.Focus
	}
	if req.Length != "" {
		prompt += "\nLength: " + req.Length
	}
	text, err := a.complete(ctx, summarySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return &SummaryResponse{Summary: strings.TrimSpace(text), Source: SourceAnthropic}, nil
}

// Health only checks configuration; probing would spend tokens.
func (a *Anthropic) Health(context.Context) error {
	if a.model == "" {
		return errs.Unavailable("ai.model is not configured", nil)
	}
	return nil
}

func (a *Anthropic) complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", errs.Unavailable(fmt.Sprintf("anthropic: %v", err), err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
