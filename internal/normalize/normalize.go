// Package normalize reduces the loosely typed result of a remote TTS call to
// a single audio byte buffer.
//
// Accepted shapes, checked in order:
//
//	[]any / []string  first element is taken, one level only
//	[]byte            returned unchanged
//	"data:..."        base64 payload after the first comma
//	"http..."         downloaded; the response must declare an audio content type
//	existing path     file contents
//
// Anything else fails with ErrUnrecognizedString or ErrUnsupportedResponseType.
package normalize

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/example/go-tts-unlimited/internal/observability"
)

var (
	ErrDataURLDecode           = errors.New("failed to decode audio data URL")
	ErrUnexpectedContentType   = errors.New("no audio returned")
	ErrUnrecognizedString      = errors.New("unrecognized string result")
	ErrUnsupportedResponseType = errors.New("unsupported response type")
	ErrRemoteRequest           = errors.New("audio download failed")
)

// CABundleEnv names the environment variable operators set to trust an
// intercepting proxy.
const CABundleEnv = "REQUESTS_CA_BUNDLE"

const (
	stringSnippetLen = 200
	bodySnippetLen   = 500
)

type options struct {
	timeout  time.Duration
	caBundle string
	maxBytes int64
	logger   *slog.Logger
	metrics  *observability.Metrics
	token    string
	tokenFor string
}

func defaultOptions() options {
	return options{
		timeout:  60 * time.Second,
		maxBytes: 50 << 20,
		logger:   slog.Default(),
	}
}

// Option configures a Normalizer.
type Option func(*options)

// WithTimeout sets the timeout of one audio download attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithCABundle trusts the PEM certificates in path instead of the system pool.
func WithCABundle(path string) Option {
	return func(o *options) { o.caBundle = path }
}

// WithMaxBytes caps the size of a downloaded audio body.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithBearerToken sends token on downloads from the host of baseURL, where
// a private app serves its generated files.
func WithBearerToken(token, baseURL string) Option {
	return func(o *options) {
		o.token = token
		o.tokenFor = baseURL
	}
}

// WithLogger sets the slog.Logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records result shapes and TLS fallbacks on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	client    *http.Client
	insecure  *http.Client
	opts      options
	log       *slog.Logger
	tokenHost string
}

// New builds a Normalizer. It fails when a configured CA bundle cannot be
// read or contains no certificates.
func New(optFns ...Option) (*Normalizer, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	verified := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.caBundle != "" {
		pool, err := LoadCABundle(opts.caBundle)
		if err != nil {
			return nil, err
		}
		verified.RootCAs = pool
	}

	var tokenHost string
	if opts.token != "" {
		u, err := url.Parse(opts.tokenFor)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("bearer token base URL %q has no host", opts.tokenFor)
		}
		tokenHost = strings.ToLower(u.Host)
	}

	// #nosec G402 -- only used for the single retry after a verification failure.
	insecure := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: true}

	return &Normalizer{
		client:    newHTTPClient(opts.timeout, verified),
		insecure:  newHTTPClient(opts.timeout, insecure),
		opts:      opts,
		log:       opts.logger,
		tokenHost: tokenHost,
	}, nil
}

// LoadCABundle reads a PEM file into a fresh certificate pool.
func LoadCABundle(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA bundle %s contains no PEM certificates", path)
	}
	return pool, nil
}

func newHTTPClient(timeout time.Duration, tlsCfg *tls.Config) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Normalize returns the audio bytes carried by result.
func (n *Normalizer) Normalize(ctx context.Context, result any) ([]byte, error) {
	if first, ok := firstElement(result); ok {
		n.log.DebugContext(ctx, "unwrapping sequence result",
			slog.String("type", fmt.Sprintf("%T", result)),
		)
		n.opts.metrics.ObserveShape("sequence")
		result = first
	}

	n.log.DebugContext(ctx, "received remote result", slog.String("type", fmt.Sprintf("%T", result)))

	switch v := result.(type) {
	case []byte:
		n.opts.metrics.ObserveShape("bytes")
		return v, nil
	case string:
		return n.fromString(ctx, v)
	default:
		n.opts.metrics.ObserveShape("unsupported")
		n.log.WarnContext(ctx, "unsupported response type from API",
			slog.String("type", fmt.Sprintf("%T", result)),
		)
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedResponseType, result)
	}
}

// firstElement unwraps exactly one level of a non-empty sequence.
func firstElement(result any) (any, bool) {
	switch v := result.(type) {
	case []any:
		if len(v) >= 1 {
			return v[0], true
		}
	case []string:
		if len(v) >= 1 {
			return v[0], true
		}
	}
	return nil, false
}

func (n *Normalizer) fromString(ctx context.Context, s string) ([]byte, error) {
	switch {
	case strings.HasPrefix(s, "data:"):
		n.opts.metrics.ObserveShape("data_url")
		b, err := DecodeDataURL(s)
		if err != nil {
			n.log.WarnContext(ctx, "error decoding data URL", slog.String("error", err.Error()))
			return nil, err
		}
		return b, nil
	case strings.HasPrefix(s, "http"):
		n.opts.metrics.ObserveShape("http_url")
		return n.download(ctx, s)
	}

	if info, err := os.Stat(s); err == nil && info.Mode().IsRegular() {
		n.opts.metrics.ObserveShape("file_path")
		n.log.DebugContext(ctx, "reading audio from local path", slog.String("path", s))
		b, err := os.ReadFile(s)
		if err != nil {
			return nil, fmt.Errorf("read audio file: %w", err)
		}
		return b, nil
	}

	n.opts.metrics.ObserveShape("unrecognized_string")
	n.log.WarnContext(ctx, "API returned an unexpected string",
		slog.String("snippet", truncate(s, stringSnippetLen)),
	)
	return nil, fmt.Errorf("%w: %q", ErrUnrecognizedString, truncate(s, 64))
}

// DecodeDataURL decodes the base64 payload following the first comma of a
// data URL. Padded, unpadded and URL-safe alphabets are accepted.
func DecodeDataURL(s string) ([]byte, error) {
	_, payload, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing comma", ErrDataURLDecode)
	}
	payload = strings.TrimSpace(payload)

	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(payload)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrDataURLDecode, firstErr)
}

func (n *Normalizer) download(ctx context.Context, rawURL string) ([]byte, error) {
	n.log.DebugContext(ctx, "downloading audio", slog.String("url", stripQuery(rawURL)))

	resp, err := n.get(ctx, n.client, rawURL)
	if err != nil && IsTLSVerificationError(err) {
		n.log.WarnContext(ctx, "TLS verification failed when downloading audio, retrying without verification",
			slog.String("error", err.Error()),
			slog.String("hint", "set "+CABundleEnv+" to a PEM bundle that trusts the intercepting proxy"),
		)
		n.opts.metrics.IncTLSFallback()
		resp, err = n.get(ctx, n.insecure, rawURL)
	}
	if err != nil {
		n.log.ErrorContext(ctx, "audio download failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrRemoteRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "audio") {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLen))
		n.log.WarnContext(ctx, "unexpected content type received",
			slog.String("content_type", contentType),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(snippet)),
		)
		return nil, fmt.Errorf("%w: content type %q", ErrUnexpectedContentType, contentType)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, stringSnippetLen))
		n.log.ErrorContext(ctx, "audio download returned error status",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(snippet)),
		)
		return nil, fmt.Errorf("%w: status %s", ErrRemoteRequest, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, n.opts.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrRemoteRequest, err)
	}
	if int64(len(body)) > n.opts.maxBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrRemoteRequest, n.opts.maxBytes)
	}

	n.log.DebugContext(ctx, "audio downloaded",
		slog.String("content_type", contentType),
		slog.Int("bytes", len(body)),
	)
	return body, nil
}

func (n *Normalizer) get(ctx context.Context, c *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if n.tokenHost != "" && strings.EqualFold(req.URL.Host, n.tokenHost) {
		req.Header.Set("Authorization", "Bearer "+n.opts.token)
	}
	return c.Do(req)
}

// IsTLSVerificationError reports whether err was caused by a failed
// certificate verification rather than a generic network failure.
func IsTLSVerificationError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostname x509.HostnameError
	if errors.As(err, &hostname) {
		return true
	}
	var invalid x509.CertificateInvalidError
	return errors.As(err, &invalid)
}

func stripQuery(rawURL string) string {
	base, _, _ := strings.Cut(rawURL, "?")
	return base
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
