package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enso-notes/enso/internal/config"
	"github.com/enso-notes/enso/internal/errs"
)

func TestStubSuggest(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		content string
		labels  []string
	}{
		{"Need to Focus on the launch", []string{"!focus", "@launch"}},
		{"already #focus here", nil},
		{"project roadmap review", []string{"@project", "@roadmap"}},
		{"nothing to see", nil},
	}
	for _, tt := range tests {
		resp, err := Stub{}.Suggest(ctx, SuggestRequest{Content: tt.content})
		require.NoError(t, err)
		assert.Equal(t, SourceStub, resp.Source)
		var labels []string
		for _, s := range resp.Suggestions {
			labels = append(labels, s.Label)
			assert.Equal(t, "stub", s.Metadata["source"])
		}
		assert.Equal(t, tt.labels, labels, tt.content)
	}

	resp, _ := Stub{}.Suggest(ctx, SuggestRequest{Content: "focus project"})
	require.Len(t, resp.Suggestions, 2)
	assert.Equal(t, SuggestionFocus, resp.Suggestions[0].Type)
	assert.InDelta(t, 0.42, *resp.Suggestions[0].Confidence, 1e-9)
	assert.Equal(t, SuggestionProject, resp.Suggestions[1].Type)
	assert.InDelta(t, 0.38, *resp.Suggestions[1].Confidence, 1e-9)
}

func TestStubSearch(t *testing.T) {
	ctx := context.Background()
	resp, err := Stub{}.Search(ctx, SearchRequest{Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)

	resp, err = Stub{}.Search(ctx, SearchRequest{Query: "ideas"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "stub", resp.Results[0].ID)
	assert.Equal(t, "Search unavailable", resp.Results[0].Title)
	assert.Equal(t, "AI search is running in stub mode.", resp.Results[0].Snippet)
}

func TestStubSummary(t *testing.T) {
	ctx := context.Background()

	resp, err := Stub{}.Summarize(ctx, SummaryRequest{Content: "  \n "})
	require.NoError(t, err)
	assert.Equal(t, "", resp.Summary)

	resp, _ = Stub{}.Summarize(ctx, SummaryRequest{Content: "\nfirst line\nsecond line\nthird line\n"})
	assert.Equal(t, "first line second line", resp.Summary)

	long := strings.Repeat("é", 300)
	resp, _ = Stub{}.Summarize(ctx, SummaryRequest{Content: long})
	assert.Equal(t, 240, len([]rune(resp.Summary)))
}

func TestServiceDisabled(t *testing.T) {
	cfg := config.Default().AI
	cfg.Enabled = false
	s := NewService(cfg, nil)
	ctx := context.Background()

	sg, err := s.Suggest(ctx, SuggestRequest{Content: "focus"})
	require.NoError(t, err)
	assert.Equal(t, SourceDisabled, sg.Source)
	assert.Empty(t, sg.Suggestions)

	sr, err := s.Search(ctx, SearchRequest{Query: "x"})
	require.NoError(t, err)
	assert.Equal(t, SourceDisabled, sr.Source)

	sm, err := s.Summarize(ctx, SummaryRequest{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, "", sm.Summary)

	h := s.Health(ctx)
	assert.Equal(t, HealthResponse{Status: "ok", Detail: "AI features disabled", Mode: config.ModeStub}, h)
}

func TestServiceStubHealth(t *testing.T) {
	s := NewService(config.Default().AI, nil)
	h := s.Health(context.Background())
	assert.Equal(t, HealthResponse{Status: "ok", Detail: "Stub responses", Mode: "stub", Enabled: true}, h)

	resp, err := s.Suggest(context.Background(), SuggestRequest{Content: "focus"})
	require.NoError(t, err)
	require.NotNil(t, resp.LatencyMS)
}

func modelServer(t *testing.T, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "model offline", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /suggest", func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "model offline", http.StatusBadGateway)
			return
		}
		var req SuggestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(SuggestResponse{
			Suggestions: []Suggestion{{Type: SuggestionTag, Label: "#" + req.Content}},
		})
	})
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		results := []SearchResult{}
		for i := 0; i < 10; i++ {
			results = append(results, SearchResult{Title: "hit", Snippet: "..."})
		}
		_ = json.NewEncoder(w).Encode(SearchResponse{Results: results, Source: "local-model"})
	})
	mux.HandleFunc("POST /summary", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"summary":"short","highlights":["a"]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteMode(t *testing.T) {
	var fail atomic.Bool
	srv := modelServer(t, &fail)
	cfg := config.Default().AI
	cfg.Mode = config.ModeRemote
	cfg.ModelURL = srv.URL + "/"
	s := NewService(cfg, nil)
	ctx := context.Background()

	sg, err := s.Suggest(ctx, SuggestRequest{Content: "travel"})
	require.NoError(t, err)
	assert.Equal(t, SourceModel, sg.Source)
	require.Len(t, sg.Suggestions, 1)
	assert.Equal(t, "#travel", sg.Suggestions[0].Label)

	sr, err := s.Search(ctx, SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Len(t, sr.Results, DefaultSearchLimit)
	assert.Equal(t, "local-model", sr.Source)

	sm, err := s.Summarize(ctx, SummaryRequest{Content: "text"})
	require.NoError(t, err)
	assert.Equal(t, "short", sm.Summary)
	assert.Equal(t, []string{"a"}, sm.Highlights)

	assert.Equal(t, "ok", s.Health(ctx).Status)

	fail.Store(true)
	_, err = s.Suggest(ctx, SuggestRequest{Content: "travel"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.Contains(t, err.Error(), "model offline")

	h := s.Health(ctx)
	assert.Equal(t, "unavailable", h.Status)
	assert.Equal(t, "model offline", h.Detail)
}

func TestAutoModeFallsBack(t *testing.T) {
	cfg := config.Default().AI
	cfg.Mode = config.ModeAuto
	cfg.ModelURL = "http://127.0.0.1:1" // nothing listens here
	cfg.Timeout = time.Second
	s := NewService(cfg, nil)
	ctx := context.Background()

	sg, err := s.Suggest(ctx, SuggestRequest{Content: "focus"})
	require.NoError(t, err)
	assert.Equal(t, SourceStub, sg.Source)
	require.Len(t, sg.Suggestions, 1)

	assert.Equal(t, "degraded", s.Health(ctx).Status)
}

func TestBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	bs := DefaultBreakerSettings()
	bs.MinRequests = 2
	bs.Timeout = time.Hour
	m := NewHTTPModel(srv.URL, time.Second, bs, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.Summarize(ctx, SummaryRequest{Content: "x"})
		assert.ErrorIs(t, err, errs.ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, m.State())

	_, err := m.Summarize(ctx, SummaryRequest{Content: "x"})
	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.Contains(t, err.Error(), "temporarily unavailable")
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the server")
}

func TestHTTPModelRequiresURL(t *testing.T) {
	m := NewHTTPModel("", time.Second, DefaultBreakerSettings(), nil)
	err := m.Health(context.Background())
	assert.ErrorIs(t, err, errs.ErrUnavailable)
}

func TestAnthropicProvider(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "test-model",
			"content": [{"type": "text", "text": "travel\n#Work\nwork\n\n- ideas"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer srv.Close()

	a := NewAnthropic("test-key", srv.URL, "test-model", 5*time.Second)
	ctx := context.Background()

	resp, err := a.Suggest(ctx, SuggestRequest{Content: "trip notes", Tags: []string{"ideas"}})
	require.NoError(t, err)
	assert.Equal(t, "test-model", gotModel)
	var values []string
	for _, s := range resp.Suggestions {
		values = append(values, s.Value)
	}
	assert.Equal(t, []string{"travel", "work"}, values)

	sum, err := a.Summarize(ctx, SummaryRequest{Content: "long text"})
	require.NoError(t, err)
	assert.Equal(t, SourceAnthropic, sum.Source)
	assert.NotEmpty(t, sum.Summary)

	sr, err := a.Search(ctx, SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, SourceStub, sr.Source)
}

func TestAnthropicFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer srv.Close()

	a := NewAnthropic("k", srv.URL, "m", time.Second)
	_, err := a.Summarize(context.Background(), SummaryRequest{Content: "x"})
	assert.ErrorIs(t, err, errs.ErrUnavailable)
}
