package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/example/go-tts-unlimited/internal/config"
	"github.com/example/go-tts-unlimited/internal/observability"
	"github.com/example/go-tts-unlimited/internal/storage"
	"github.com/example/go-tts-unlimited/internal/tts"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Generator runs one generation request to completion.
type Generator interface {
	HandleRequest(ctx context.Context, req tts.Request) tts.Outcome
}

// VoiceLister returns the list of available voices.
type VoiceLister interface {
	ListVoices() []tts.Voice
}

// AudioFiles resolves the file names of generated audio.
type AudioFiles interface {
	Path(name string) (string, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxPromptBytes int
	workers        int
	logger         *slog.Logger
	metrics        *observability.Metrics
	gatherer       prometheus.Gatherer
}

func defaultOptions() options {
	return options{
		maxPromptBytes: 4096,
		workers:        30,
		logger:         slog.Default(),
		gatherer:       prometheus.DefaultGatherer,
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxPromptBytes sets the maximum allowed prompt length in bytes.
func WithMaxPromptBytes(n int) Option {
	return func(o *options) { o.maxPromptBytes = n }
}

// WithWorkers sets the maximum number of concurrent generations. Zero
// disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records in-flight generations on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithGatherer sets the registry exposed on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *options) { o.gatherer = g }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	gen    Generator
	voices VoiceLister
	files  AudioFiles
	opts   options
	sem    chan struct{} // semaphore for worker pool
	log    *slog.Logger
}

// NewHandler returns an http.Handler serving the form page, the JSON API,
// generated audio files, /health, /voices and /metrics.
func NewHandler(gen Generator, voices VoiceLister, files AudioFiles, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		gen:    gen,
		voices: voices,
		files:  files,
		opts:   opts,
		log:    opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	r := chi.NewRouter()
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/", h.handleIndex)
	r.Post("/generate", h.handleGenerate)
	r.Post("/api/tts", h.handleTTS)
	r.Get("/audio/{name}", h.handleAudio)
	r.Get("/health", h.handleHealth)
	r.Get("/voices", h.handleVoices)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler(opts.gatherer))
	return r
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := h.voices.ListVoices()
	if voices == nil {
		voices = []tts.Voice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

type ttsRequest struct {
	Prompt  string `json:"prompt"`
	Voice   string `json:"voice"`
	Emotion string `json:"emotion"`
}

type ttsResponse struct {
	AudioURL string `json:"audio_url,omitempty"`
	Status   string `json:"status"`
	Voice    string `json:"voice"`
	Emotion  string `json:"emotion"`
	Seed     uint32 `json:"seed,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit())

	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if len(req.Prompt) > h.opts.maxPromptBytes {
		writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
		return
	}

	out, ok := h.generate(r, tts.Request{Prompt: req.Prompt, Voice: req.Voice, Emotion: req.Emotion})
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
		return
	}

	resp := ttsResponse{
		AudioURL: audioURL(out),
		Status:   out.Status,
		Voice:    out.Voice,
		Emotion:  out.Emotion,
		Seed:     out.Seed,
	}
	if !out.OK() {
		resp.Error = out.Status
	}
	writeJSON(w, statusCode(out), resp)
}

// generate runs gen under a worker slot. It reports false when the request
// context ended while waiting for a slot.
func (h *handler) generate(r *http.Request, req tts.Request) (tts.Outcome, bool) {
	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			h.log.WarnContext(r.Context(), "request cancelled while waiting for worker",
				slog.String("voice", req.Voice),
			)
			return tts.Outcome{}, false
		}
		defer func() { <-h.sem }()
	}

	h.opts.metrics.IncInFlight()
	defer h.opts.metrics.DecInFlight()

	start := time.Now()
	out := h.gen.HandleRequest(r.Context(), req)

	attrs := []any{
		slog.String("voice", req.Voice),
		slog.Int("prompt_len", len(req.Prompt)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		slog.Bool("audio", out.OK()),
	}
	if out.Err != nil {
		h.log.WarnContext(r.Context(), "generation failed", append(attrs, slog.String("error", out.Err.Error()))...)
	} else {
		h.log.InfoContext(r.Context(), "generation complete", attrs...)
	}
	return out, true
}

// statusCode maps an outcome to the JSON API status.
func statusCode(out tts.Outcome) int {
	switch {
	case out.OK():
		return http.StatusOK
	case tts.IsInvalidInput(out.Err):
		return http.StatusBadRequest
	case errors.Is(out.Err, tts.ErrFlagged):
		return http.StatusUnprocessableEntity
	case errors.Is(out.Err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case tts.IsUpstream(out.Err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	path, err := h.files.Path(name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrInvalidName) {
			h.log.ErrorContext(r.Context(), "resolve audio file", slog.String("name", name), slog.String("error", err.Error()))
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", audioContentType(path))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}

func audioContentType(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return "audio/wav"
	}
	return "audio/mpeg"
}

func audioURL(out tts.Outcome) string {
	if !out.OK() {
		return ""
	}
	return "/audio/" + filepath.Base(out.AudioPath)
}

// bodyLimit bounds request bodies: the prompt plus room for the other fields
// and encoding overhead.
func (h *handler) bodyLimit() int64 {
	return int64(h.opts.maxPromptBytes)*6 + 64<<10
}

func (h *handler) tooLargeMessage() string {
	return fmt.Sprintf("prompt exceeds maximum size of %d bytes", h.opts.maxPromptBytes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server wires the handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	app             *tts.Components
	shutdownTimeout time.Duration
}

// New returns a Server for cfg. When app is nil, Start builds the pipeline
// from cfg.
func New(cfg config.Config, app *tts.Components) *Server {
	timeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}
	return &Server{
		cfg:             cfg,
		app:             app,
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

func (s *Server) Start(ctx context.Context) error {
	logger := slog.Default()

	app := s.app
	if app == nil {
		var err error
		app, err = tts.Build(s.cfg, logger)
		if err != nil {
			return err
		}
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	janitorDone := app.Store.StartJanitor(janitorCtx, s.cfg.Storage.TTL, s.cfg.Storage.SweepInterval)

	h := NewHandler(app.Service, app.Service.Voices(), app.Store,
		WithWorkers(s.cfg.Server.MaxConcurrent),
		WithMaxPromptBytes(s.cfg.Server.MaxPromptBytes),
		WithLogger(logger),
		WithMetrics(app.Metrics),
		WithGatherer(app.Registry),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("server listening",
		slog.String("addr", s.cfg.Server.ListenAddr),
		slog.String("remote", s.cfg.Remote.BaseURL),
		slog.String("transport", app.Remote.Transport()),
		slog.String("storage_dir", app.Store.Dir()),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		stopJanitor()
		<-janitorDone
		if err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		stopJanitor()
		<-janitorDone
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
