// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/expertdesk/internal/util"
)

// Gateway tuning constants.
const (
	// SessionHeader carries the opaque session token on every
	// authenticated request.
	SessionHeader = "X-Session-Token"

	// DefaultMaxRetries is the retry budget applied when a request does
	// not specify one.
	DefaultMaxRetries = 1

	// defaultBaseDelay seeds the backoff schedules.
	defaultBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps any single backoff sleep.
	retryMaxDelay = 10 * time.Second

	// defaultDedupeGrace keeps a settled in-flight entry alive briefly so
	// near-simultaneous duplicate triggers still coalesce.
	defaultDedupeGrace = time.Second

	// maxResponseSize bounds response body reads.
	maxResponseSize = 10 * 1024 * 1024 // 10MB
)

// TokenProvider supplies the session token attached to outgoing requests.
// It is implemented by the session manager.
type TokenProvider interface {
	// Token returns the active session token, initializing a session
	// first if none exists.
	Token(ctx context.Context) (string, error)

	// RefreshOn401 re-validates the current token after a 401 and, when
	// it is confirmed dead (or validation itself fails), clears it and
	// initializes a fresh session. Returns the token to retry with.
	RefreshOn401(ctx context.Context) (string, error)
}

// =============================================================================
// REQUEST / RESPONSE
// =============================================================================

// Request describes one outbound call through the gateway.
type Request struct {
	Method string
	URL    string

	// Body is JSON-marshaled when non-nil.
	Body any

	// MaxRetries is the retry budget beyond the first attempt.
	// Zero means DefaultMaxRetries; negative disables retries.
	MaxRetries int

	// SkipAuth omits session-token injection. Used by the session
	// endpoints themselves to avoid recursing into initialization.
	SkipAuth bool

	// Header holds extra headers to attach.
	Header http.Header
}

func (r Request) retryBudget(def int) int {
	if r.MaxRetries == 0 {
		return def
	}
	if r.MaxRetries < 0 {
		return 0
	}
	return r.MaxRetries
}

// Response is the transport-level result of a gateway call. The gateway
// never interprets business payloads; callers decode Body themselves.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Attempts is how many HTTP attempts were spent on this request.
	Attempts int
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway wraps outbound HTTP calls with session-header injection,
// status-keyed retry/backoff, and de-duplication of identical in-flight
// requests. It is safe for concurrent use.
type Gateway struct {
	http        *http.Client
	log         *zap.Logger
	clock       util.Clock
	baseDelay   time.Duration
	dedupeGrace time.Duration
	retries     int

	mu       sync.Mutex
	tokens   TokenProvider
	inflight map[string]*inflightCall
}

type inflightCall struct {
	done chan struct{}
	resp *Response
	err  error
}

// NewGateway creates a gateway with pooled connections and default tuning.
func NewGateway(log *zap.Logger) *Gateway {
	return &Gateway{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: 60 * time.Second,
		},
		log:         log,
		clock:       util.SystemClock{},
		baseDelay:   defaultBaseDelay,
		dedupeGrace: defaultDedupeGrace,
		retries:     DefaultMaxRetries,
		inflight:    make(map[string]*inflightCall),
	}
}

// WithMaxRetries sets the default retry budget for requests that do not
// carry their own.
func (g *Gateway) WithMaxRetries(n int) *Gateway {
	if n >= 0 {
		g.retries = n
	}
	return g
}

// WithTimeout sets the per-attempt timeout on the existing HTTP client,
// keeping its pooled transport.
func (g *Gateway) WithTimeout(d time.Duration) *Gateway {
	if d > 0 {
		g.http.Timeout = d
	}
	return g
}

// WithHTTPClient replaces the underlying HTTP client.
func (g *Gateway) WithHTTPClient(c *http.Client) *Gateway {
	g.http = c
	return g
}

// WithBaseDelay sets the backoff base delay.
func (g *Gateway) WithBaseDelay(d time.Duration) *Gateway {
	g.baseDelay = d
	return g
}

// WithDedupeGrace sets how long a settled in-flight entry is kept.
// Zero evicts immediately on settlement: only requests that genuinely
// overlap coalesce.
func (g *Gateway) WithDedupeGrace(d time.Duration) *Gateway {
	g.dedupeGrace = d
	return g
}

// WithClock injects a clock, used by tests to control eviction timing.
func (g *Gateway) WithClock(c util.Clock) *Gateway {
	g.clock = c
	return g
}

// SetTokenProvider wires the session manager in after construction.
// The session manager itself issues requests through this gateway with
// SkipAuth set, so the dependency cycle is broken here.
func (g *Gateway) SetTokenProvider(p TokenProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = p
}

func (g *Gateway) tokenProvider() TokenProvider {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokens
}

// =============================================================================
// REQUEST EXECUTION
// =============================================================================

// Do executes a request with retry, backoff and de-duplication.
//
// Error semantics: a non-nil Response with nil error is returned for every
// HTTP status, including failing statuses that exhausted their retries —
// callers map statuses to errors. A nil Response with a TransportError
// means the backend was never reached within the retry budget. Other
// errors (marshal failure, session initialization failure, context
// cancellation) are returned as-is.
func (g *Gateway) Do(ctx context.Context, req Request) (*Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, &ValidationError{Reason: "marshal request body", Err: err}
		}
	}

	key := dedupeKey(req.Method, req.URL, body)

	// Concurrent identical requests share one underlying call.
	g.mu.Lock()
	if call, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		g.log.Debug("request coalesced with in-flight duplicate",
			zap.String("method", req.Method), zap.String("url", req.URL))
		select {
		case <-call.done:
			return call.resp, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	g.inflight[key] = call
	g.mu.Unlock()

	resp, err := g.execute(ctx, req, body)

	call.resp, call.err = resp, err
	close(call.done)

	// Evict after a grace period, not immediately, so near-simultaneous
	// duplicate triggers arriving just after settlement still coalesce.
	evict := func() {
		g.mu.Lock()
		if g.inflight[key] == call {
			delete(g.inflight, key)
		}
		g.mu.Unlock()
	}
	if g.dedupeGrace <= 0 {
		evict()
	} else {
		g.clock.AfterFunc(g.dedupeGrace, evict)
	}

	return resp, err
}

// execute runs the bounded retry loop for one request.
func (g *Gateway) execute(ctx context.Context, req Request, body []byte) (*Response, error) {
	maxRetries := req.retryBudget(g.retries)

	// The token is read once up front; only the 401 path replaces it,
	// so one logical operation never races a concurrent refresh.
	var token string
	tokens := g.tokenProvider()
	if !req.SkipAuth && tokens != nil {
		var err error
		token, err = tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
	}

	var lastResp *Response
	var lastNetErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := g.send(ctx, req, body, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastNetErr = err
			lastResp = nil
			if attempt < maxRetries {
				if err := g.sleep(ctx, g.linearDelay(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			break
		}

		resp.Attempts = attempt + 1
		lastResp = resp
		lastNetErr = nil

		retry, delay := false, time.Duration(0)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			if !req.SkipAuth && tokens != nil && attempt < maxRetries {
				fresh, rerr := tokens.RefreshOn401(ctx)
				if rerr != nil {
					// Could not obtain any session; surface the 401.
					g.log.Warn("session refresh after 401 failed", zap.Error(rerr))
					return resp, nil
				}
				token = fresh
				retry = true
			}
		case http.StatusTooManyRequests:
			retry, delay = attempt < maxRetries, g.expDelay(attempt, 2.0)
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			retry, delay = attempt < maxRetries, g.expDelay(attempt, 1.5)
		}

		if !retry {
			return resp, nil
		}
		if delay > 0 {
			if err := g.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, &TransportError{
		Method:   req.Method,
		URL:      req.URL,
		Attempts: maxRetries + 1,
		Err:      lastNetErr,
	}
}

// send performs one HTTP attempt.
func (g *Gateway) send(ctx context.Context, req Request, body []byte, token string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set(SessionHeader, token)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	// Never log headers or bodies: the session header is a credential.
	g.log.Debug("api request", zap.String("method", req.Method), zap.String("url", req.URL))

	httpResp, err := g.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := readBounded(httpResp.Body)
	if err != nil {
		return nil, err
	}

	g.log.Debug("api response",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// =============================================================================
// BACKOFF
// =============================================================================

// expDelay computes base × factor^attempt, capped at retryMaxDelay.
func (g *Gateway) expDelay(attempt int, factor float64) time.Duration {
	d := time.Duration(float64(g.baseDelay) * math.Pow(factor, float64(attempt)))
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

// linearDelay computes base × (attempt+1) for network-level failures.
func (g *Gateway) linearDelay(attempt int) time.Duration {
	d := g.baseDelay * time.Duration(attempt+1)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

func (g *Gateway) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// readBounded reads a response body with a hard size limit.
func readBounded(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", maxResponseSize)
	}
	return body, nil
}

// dedupeKey identifies a request by method, URL and body content.
func dedupeKey(method, url string, body []byte) string {
	h := sha256.Sum256(body)
	return method + " " + url + " " + hex.EncodeToString(h[:8])
}
