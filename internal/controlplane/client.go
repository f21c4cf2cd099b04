// Package controlplane talks to the remote control-plane HTTP API: the
// upload-token and upload-notification endpoints named in spec §4.4. This is
// one of the "external collaborators" named in spec §1 — bridge-sync only
// consumes its documented contract. Adapted from the teacher's
// internal/connector/http/client.go (rate-limited *http.Client wrapper) and
// auth.go (bearer-token strategy); paginator.go and base.go are not adapted
// here because this client never paginates a listing (see DESIGN.md).
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nucleus/bridge-sync/internal/model"
)

// Config configures the control-plane client.
type Config struct {
	BaseURL       string
	APIKey        string
	TokenTimeout  time.Duration // token + notify calls (spec §5: default 30s)
	UploadTimeout time.Duration // object upload call (spec §5: default 300s)
	RateLimit     float64
	RateBurst     int
}

// DefaultConfig mirrors the teacher's DefaultClientConfig defaults, tuned to
// spec §5's timeout values.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		TokenTimeout:  30 * time.Second,
		UploadTimeout: 300 * time.Second,
		RateLimit:     10,
		RateBurst:     5,
	}
}

// Client is a bearer-authenticated HTTP client for the token/notify calls
// and a plain streaming PUT/POST for the object upload itself.
type Client struct {
	cfg         Config
	tokenClient *http.Client
	uploadHTTP  *http.Client
	limiter     *rate.Limiter
}

func New(cfg Config) *Client {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 5
	}
	return &Client{
		cfg:         cfg,
		tokenClient: &http.Client{Timeout: cfg.TokenTimeout},
		// uploadHTTP carries no static Timeout: spec §5 requires the upload
		// deadline to reset on every chunk of progress rather than bound the
		// whole request, so Upload drives it with a progress-reset context
		// deadline instead (see progressReader below).
		uploadHTTP: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// TokenRequest is the body of POST /v1/schemas/{slug}/generate-upload-token.
type TokenRequest struct {
	Filename      string `json:"filename"`
	ContentLength int64  `json:"content_length"`
	ContentType   string `json:"content_type"`
	Encoding      string `json:"encoding"`
	UploadID      string `json:"upload_id"`
}

// TokenResponse is the expected response shape (spec §4.4 point 1).
type TokenResponse struct {
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// NotifyRequest is the body of POST /v1/schemas/{slug}/notify-upload.
type NotifyRequest struct {
	UploadID       string `json:"upload_id"`
	RecordCount    int    `json:"record_count"`
	Bytes          int64  `json:"bytes"`
	WatermarkAfter string `json:"watermark_after"`
}

func (c *Client) GenerateUploadToken(ctx context.Context, slug string, req TokenRequest) (TokenResponse, error) {
	var resp TokenResponse
	path := fmt.Sprintf("/v1/schemas/%s/generate-upload-token", slug)
	status, body, err := c.doJSON(ctx, c.tokenClient, http.MethodPost, path, req)
	if err != nil {
		return resp, model.Wrap(model.CodeTransient, true, err)
	}
	if status < 200 || status >= 300 {
		return resp, classifyNonSuccess(status, body)
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, model.Wrap(model.CodeUploadFailed, false, fmt.Errorf("decode token response: %w", err))
	}
	return resp, nil
}

// Upload performs the indicated HTTP method against the token's upload_url
// with the artifact's byte stream and the returned headers verbatim — no
// additional headers are added (spec §4.4 point 2). The body streams
// directly from disk; it is never buffered fully in memory. Per spec §5, the
// upload deadline is reset on every chunk of progress rather than bounding
// the whole request, so a slow-but-continuously-progressing upload never
// fails just for running past UploadTimeout in total.
func (c *Client) Upload(ctx context.Context, token TokenResponse, body io.Reader, contentLength int64) error {
	method := token.Method
	if method == "" {
		method = http.MethodPut
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr := newProgressReader(body, c.cfg.UploadTimeout, cancel)
	defer pr.stop()

	req, err := http.NewRequestWithContext(uploadCtx, method, token.UploadURL, pr)
	if err != nil {
		return model.Wrap(model.CodeUploadFailed, false, err)
	}
	req.ContentLength = contentLength
	for k, v := range token.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.uploadHTTP.Do(req)
	if err != nil {
		if pr.stalled() && ctx.Err() == nil {
			return model.Wrap(model.CodeTransient, true, fmt.Errorf("upload stalled: no progress for %s", c.cfg.UploadTimeout))
		}
		return model.Wrap(model.CodeTransient, true, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyNonSuccess(resp.StatusCode, respBody)
	}
	return nil
}

// progressReader cancels its owning request's context after timeout elapses
// with no Read progress, and pushes that deadline forward on every chunk
// read — the mechanism spec §5 calls for instead of a single static
// http.Client.Timeout bounding the whole upload.
type progressReader struct {
	r        io.Reader
	timer    *time.Timer
	timeout  time.Duration
	timedOut atomic.Bool
}

func newProgressReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *progressReader {
	pr := &progressReader{r: r, timeout: timeout}
	pr.timer = time.AfterFunc(timeout, func() {
		pr.timedOut.Store(true)
		cancel()
	})
	return pr
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.timer.Reset(p.timeout)
	}
	return n, err
}

func (p *progressReader) stop() { p.timer.Stop() }

func (p *progressReader) stalled() bool { return p.timedOut.Load() }

// NotifyUpload treats a 404 as "not required" (some deployments rely on an
// event bus instead, spec §4.4 point 3 / §9 Open Questions) and returns
// (false, nil) in that case; 200 is authoritative; anything else surfaces
// as Transient so the caller's retry loop can try again.
func (c *Client) NotifyUpload(ctx context.Context, slug string, req NotifyRequest) (notified bool, err error) {
	path := fmt.Sprintf("/v1/schemas/%s/notify-upload", slug)
	status, body, doErr := c.doJSON(ctx, c.tokenClient, http.MethodPost, path, req)
	if doErr != nil {
		return false, model.Wrap(model.CodeTransient, true, doErr)
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	if status == http.StatusOK {
		return true, nil
	}
	return false, model.Wrap(model.CodeTransient, true, fmt.Errorf("notify-upload returned HTTP %d: %s", status, string(body)))
}

func (c *Client) doJSON(ctx context.Context, httpClient *http.Client, method, path string, payload any) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// classifyNonSuccess implements spec §7's status classification: 5xx, 429,
// and request timeouts are Transient (retryable); everything else is a
// fatal, non-retryable failure for this upload.
func classifyNonSuccess(status int, body []byte) error {
	err := fmt.Errorf("control plane returned HTTP %d: %s", status, string(body))
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return model.Wrap(model.CodeTransient, true, err)
	}
	return model.Wrap(model.CodeUploadFailed, false, err)
}
