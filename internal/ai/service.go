package ai

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/config"
	"github.com/enso-notes/enso/internal/errs"
)

// Service routes assist requests according to the ai.* settings.
type Service struct {
	enabled  bool
	mode     string
	primary  Provider
	fallback bool // answer from the stub when primary fails
	stub     Stub
	logger   *zap.Logger
	now      func() time.Time
}

// NewService picks the provider for cfg.Mode.
func NewService(cfg config.AI, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{enabled: cfg.Enabled, mode: cfg.Mode, logger: logger, now: time.Now}
	switch cfg.Mode {
	case config.ModeLocal, config.ModeRemote:
		s.primary = NewHTTPModel(cfg.ModelURL, cfg.Timeout, DefaultBreakerSettings(), logger)
	case config.ModeAuto:
		s.primary = NewHTTPModel(cfg.ModelURL, cfg.Timeout, DefaultBreakerSettings(), logger)
		s.fallback = true
	case config.ModeAnthropic:
		s.primary = NewAnthropic(cfg.APIKey, "", cfg.Model, cfg.Timeout)
	default:
		s.primary = Stub{}
	}
	return s
}

// NewServiceWith uses p as the primary provider. Used by tests and callers
// that assemble providers themselves.
func NewServiceWith(p Provider, mode string, fallback bool, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{enabled: true, mode: mode, primary: p, fallback: fallback, logger: logger, now: time.Now}
}

// Mode reports the configured mode.
func (s *Service) Mode() string { return s.mode }

func (s *Service) Suggest(ctx context.Context, req SuggestRequest) (*SuggestResponse, error) {
	if !s.enabled {
		return &SuggestResponse{Suggestions: []Suggestion{}, Source: SourceDisabled}, nil
	}
	start := s.now()
	resp, err := s.primary.Suggest(ctx, req)
	if err != nil {
		if !s.degrade("suggest", err) {
			return nil, err
		}
		resp, _ = s.stub.Suggest(ctx, req)
	}
	resp.LatencyMS = s.since(start)
	return resp, nil
}

func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if !s.enabled {
		return &SearchResponse{Results: []SearchResult{}, Source: SourceDisabled}, nil
	}
	if req.Limit == nil {
		req.Limit = ptr(DefaultSearchLimit)
	}
	start := s.now()
	resp, err := s.primary.Search(ctx, req)
	if err != nil {
		if !s.degrade("search", err) {
			return nil, err
		}
		resp, _ = s.stub.Search(ctx, req)
	}
	if len(resp.Results) > *req.Limit {
		resp.Results = resp.Results[:*req.Limit]
	}
	resp.LatencyMS = s.since(start)
	return resp, nil
}

func (s *Service) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResponse, error) {
	if !s.enabled {
		return &SummaryResponse{Source: SourceDisabled}, nil
	}
	start := s.now()
	resp, err := s.primary.Summarize(ctx, req)
	if err != nil {
		if !s.degrade("summary", err) {
			return nil, err
		}
		resp, _ = s.stub.Summarize(ctx, req)
	}
	resp.LatencyMS = s.since(start)
	return resp, nil
}

// Health never fails; an unreachable model is reported in the body.
func (s *Service) Health(ctx context.Context) HealthResponse {
	if !s.enabled {
		return HealthResponse{Status: "ok", Detail: "AI features disabled", Mode: s.mode, Enabled: false}
	}
	if _, ok := s.primary.(Stub); ok {
		return HealthResponse{Status: "ok", Detail: "Stub responses", Mode: config.ModeStub, Enabled: true}
	}
	if err := s.primary.Health(ctx); err != nil {
		h := HealthResponse{Status: "unavailable", Detail: errMessage(err), Mode: s.mode, Enabled: true}
		if s.fallback {
			h.Status = "degraded"
			h.Detail = "serving stub responses: " + h.Detail
		}
		return h
	}
	return HealthResponse{Status: "ok", Mode: s.mode, Enabled: true}
}

func (s *Service) degrade(op string, err error) bool {
	if !s.fallback || errs.KindOf(err) != errs.KindUnavailable {
		return false
	}
	s.logger.Warn("model unavailable, using stub", zap.String("op", op), zap.Error(err))
	return true
}

func (s *Service) since(start time.Time) *float64 {
	return ptr(float64(s.now().Sub(start).Microseconds()) / 1000)
}

func errMessage(err error) string {
	if e, ok := err.(*errs.Error); ok && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
