package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/errs"
)

const maxErrorBody = 4 << 10

// BreakerSettings tunes the circuit breaker in front of the model server.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerSettings trips after 5 requests with at least 60% failures
// and probes again after 30 seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// HTTPModel forwards requests as JSON to a model server that speaks the same
// request and response shapes (POST /suggest, /search, /summary; GET /health).
type HTTPModel struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPModel returns a provider for the server at baseURL.
func NewHTTPModel(baseURL string, timeout time.Duration, bs BreakerSettings, logger *zap.Logger) *HTTPModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPModel{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
	m.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-model",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bs.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= bs.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about the model's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return m
}

func (m *HTTPModel) Name() string { return SourceModel }

// State reports the breaker state, for health output.
func (m *HTTPModel) State() gobreaker.State { return m.cb.State() }

func (m *HTTPModel) Suggest(ctx context.Context, req SuggestRequest) (*SuggestResponse, error) {
	var out SuggestResponse
	if err := m.post(ctx, "/suggest", req, &out); err != nil {
		return nil, err
	}
	if out.Suggestions == nil {
		out.Suggestions = []Suggestion{}
	}
	if out.Source == "" {
		out.Source = SourceModel
	}
	return &out, nil
}

func (m *HTTPModel) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := m.post(ctx, "/search", req, &out); err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = []SearchResult{}
	}
	if out.Source == "" {
		out.Source = SourceModel
	}
	return &out, nil
}

func (m *HTTPModel) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResponse, error) {
	var out SummaryResponse
	if err := m.post(ctx, "/summary", req, &out); err != nil {
		return nil, err
	}
	if out.Source == "" {
		out.Source = SourceModel
	}
	return &out, nil
}

func (m *HTTPModel) Health(ctx context.Context) error {
	return m.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (m *HTTPModel) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	return m.do(ctx, http.MethodPost, path, body, out)
}

// do runs one request through the breaker. Every failure, including an open
// breaker, comes back as errs.KindUnavailable.
func (m *HTTPModel) do(ctx context.Context, method, path string, body []byte, out any) error {
	if m.baseURL == "" {
		return errs.Unavailable("ai.model_url is not configured", nil)
	}
	_, err := m.cb.Execute(func() (interface{}, error) {
		return nil, m.roundTrip(ctx, method, path, body, out)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		m.logger.Debug("model request short-circuited", zap.String("path", path), zap.Error(err))
		return errs.Unavailable("model temporarily unavailable: "+err.Error(), err)
	case errs.KindOf(err) == errs.KindUnavailable:
		return err
	default:
		return errs.Unavailable(err.Error(), err)
	}
}

func (m *HTTPModel) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return errs.Unavailable(err.Error(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(detail))
		if msg == "" {
			msg = fmt.Sprintf("model responded with %d", resp.StatusCode)
		}
		return errs.Unavailable(msg, nil)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Unavailable("decode model response: "+err.Error(), err)
	}
	return nil
}
