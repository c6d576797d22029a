// Package remote calls the hosted text-to-speech app.
//
// The app is a Gradio server. Two transports are supported: the HTTP call
// API with a server-sent-events result stream (Gradio 4 and later), and the
// legacy websocket queue (Gradio 3). Both return the app's output list with
// file payloads rewritten to absolute URLs, so callers only ever see bytes,
// strings and lists.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/go-tts-unlimited/internal/config"
	"github.com/example/go-tts-unlimited/internal/observability"
	"github.com/gorilla/websocket"
)

var (
	// ErrRequest wraps every failure to obtain a result from the app.
	ErrRequest = errors.New("remote TTS request failed")
	// ErrAppError means the app ran the function and reported an error.
	ErrAppError = errors.New("remote app reported an error")
	// ErrQueueFull means the app refused the job because its queue is full.
	ErrQueueFull = errors.New("remote queue is full")
)

// StatusError carries a non-2xx HTTP status from the app.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Request is the argument list of the TTS function.
type Request struct {
	Prompt        string
	Voice         string
	Emotion       string
	UseRandomSeed bool
}

func (r Request) data() []any {
	return []any{r.Prompt, r.Voice, r.Emotion, r.UseRandomSeed}
}

// Caller performs one remote TTS invocation and returns its untyped result.
type Caller interface {
	Predict(ctx context.Context, req Request) (any, error)
}

type transport interface {
	name() string
	call(ctx context.Context, data []any) ([]any, error)
	fileURL(path string) string
}

type options struct {
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient sets the client used by the SSE transport and Probe.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithDialer sets the websocket dialer used by the ws transport.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLogger sets the slog.Logger used for call diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records call attempts and latency on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Client implements Caller against a Gradio app. It is safe for concurrent use.
type Client struct {
	cfg  config.RemoteConfig
	t    transport
	opts options
	log  *slog.Logger
}

// New returns a Client for cfg.
func New(cfg config.RemoteConfig, optFns ...Option) (*Client, error) {
	opts := options{
		httpClient: &http.Client{},
		dialer:     websocket.DefaultDialer,
		logger:     slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("remote base URL is required")
	}
	name := strings.Trim(cfg.APIName, "/")
	if name == "" {
		return nil, errors.New("remote API name is required")
	}

	kind, err := config.NormalizeTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}

	var t transport
	switch kind {
	case config.TransportWS:
		wsURL, err := queueURL(base)
		if err != nil {
			return nil, err
		}
		t = &wsTransport{
			base:    base,
			wsURL:   wsURL,
			fnIndex: cfg.FnIndex,
			token:   cfg.HFToken,
			dialer:  opts.dialer,
			log:     opts.logger,
		}
	default:
		t = &sseTransport{
			base:   base,
			prefix: "/" + strings.Trim(cfg.APIPrefix, "/"),
			fn:     name,
			token:  cfg.HFToken,
			http:   opts.httpClient,
			log:    opts.logger,
		}
	}

	cfg.BaseURL = base
	return &Client{cfg: cfg, t: t, opts: opts, log: opts.logger}, nil
}

// Transport names the wire protocol in use.
func (c *Client) Transport() string { return c.t.name() }

// Predict invokes the TTS function. The whole call, retries included, is
// bounded by the configured timeout. Network failures, 429/5xx responses and
// full queues are retried with exponential backoff; app-reported errors are not.
func (c *Client) Predict(ctx context.Context, req Request) (any, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() { c.opts.metrics.ObserveRemoteLatency(time.Since(start)) }()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			wait := ExponentialBackoff(attempt-1, c.cfg.RetryBackoff, maxBackoff)
			c.log.WarnContext(ctx, "retrying remote TTS call",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: %w (last error: %v)", ErrRequest, ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		out, err := c.t.call(ctx, req.data())
		if err == nil {
			c.opts.metrics.ObserveRemoteCall(c.t.name(), "ok")
			c.log.DebugContext(ctx, "remote TTS call complete",
				slog.String("transport", c.t.name()),
				slog.Int("outputs", len(out)),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			return resolveFiles(out, c.t.fileURL), nil
		}

		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil || attempt == c.cfg.Retries {
			c.opts.metrics.ObserveRemoteCall(c.t.name(), "error")
			break
		}
		c.opts.metrics.ObserveRemoteCall(c.t.name(), "retry")
	}

	c.log.ErrorContext(ctx, "remote TTS call failed",
		slog.String("transport", c.t.name()),
		slog.String("error", lastErr.Error()),
	)
	return nil, lastErr
}

// Probe checks that the app answers its config endpoint and returns the
// Gradio version it reports, which may be empty.
func (c *Client) Probe(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/config", nil)
	if err != nil {
		return "", err
	}
	setAuth(req.Header, c.cfg.HFToken)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %w", ErrRequest, &StatusError{Code: resp.StatusCode})
	}

	var appCfg struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&appCfg); err != nil {
		return "", fmt.Errorf("%w: decode app config: %w", ErrRequest, err)
	}
	return appCfg.Version, nil
}

func setAuth(h http.Header, token string) {
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}
