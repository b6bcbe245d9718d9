package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/enso-notes/enso/internal/api"
	"github.com/enso-notes/enso/internal/errs"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/thought"
)

const (
	syncPath       = "/sync/thoughts"
	maxErrorBody   = 4 << 10
	defaultTimeout = 30 * time.Second
)

// Transport delivers one sync request. *sync.Coordinator satisfies it for
// in-process use.
type Transport interface {
	Sync(ctx context.Context, req thoughtsync.Request) (*thoughtsync.Response, error)
}

var (
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*thoughtsync.Coordinator)(nil)
)

// HTTPTransport posts sync requests to a server's /sync/thoughts endpoint.
type HTTPTransport struct {
	baseURL string
	http    *http.Client
}

// NewHTTPTransport returns a transport for the server at baseURL. A nil hc
// gets a client with a 30 second timeout.
func NewHTTPTransport(baseURL string, hc *http.Client) (*HTTPTransport, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errs.Validation("server url is required")
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), http: hc}, nil
}

// URL returns the server base URL.
func (t *HTTPTransport) URL() string { return t.baseURL }

// Sync implements Transport. Transport failures and server errors come back
// as errs.KindUnavailable; request rejections keep their kind.
func (t *HTTPTransport) Sync(ctx context.Context, req thoughtsync.Request) (*thoughtsync.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode sync request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+syncPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, errs.Unavailable("sync server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var out thoughtsync.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Unavailable("decode sync response", err)
	}
	if out.Changes == nil {
		out.Changes = []thought.Thought{}
	}
	return &out, nil
}

// decodeError turns an error response back into an errs.Error of the same
// kind.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Type == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return errs.Unavailable(fmt.Sprintf("sync server responded with %d: %s", resp.StatusCode, msg), nil)
	}
	kind := errs.Kind(body.Type)
	if kind == errs.KindInternal || resp.StatusCode >= 500 {
		return errs.Unavailable("sync server error: "+body.Message, nil)
	}
	return &errs.Error{Kind: kind, Message: body.Message}
}
