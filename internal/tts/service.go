package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/example/go-tts-unlimited/internal/observability"
	"github.com/example/go-tts-unlimited/internal/remote"
)

// Request is one generation request as submitted by the user.
type Request struct {
	Prompt  string
	Voice   string
	Emotion string
}

// Outcome is what the user sees. AudioPath is empty exactly when no audio was
// produced, and Status is never empty. Err keeps the cause for the transport
// layer; it is not meant for display.
type Outcome struct {
	AudioPath string
	Status    string
	Voice     string
	Emotion   string
	Seed      uint32
	Err       error
}

// OK reports whether audio was produced.
func (o Outcome) OK() bool { return o.AudioPath != "" }

// AudioNormalizer turns a remote result into audio bytes.
type AudioNormalizer interface {
	Normalize(ctx context.Context, result any) ([]byte, error)
}

// AudioStore persists audio bytes and returns the file path.
type AudioStore interface {
	Save(data []byte) (string, error)
}

type options struct {
	classifier PromptClassifier
	voices     *VoiceManager
	seed       func() uint32
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Option configures a Service.
type Option func(*options)

// WithClassifier replaces the default NoopClassifier.
func WithClassifier(c PromptClassifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithSeedSource replaces the random seed generator.
func WithSeedSource(fn func() uint32) Option {
	return func(o *options) { o.seed = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Service orchestrates one request end to end. It holds no per-request state
// and is safe for concurrent use.
type Service struct {
	caller     remote.Caller
	normalizer AudioNormalizer
	store      AudioStore
	opts       options
	log        *slog.Logger
}

func NewService(caller remote.Caller, normalizer AudioNormalizer, store AudioStore, optFns ...Option) *Service {
	opts := options{
		classifier: NoopClassifier{},
		voices:     NewVoiceManager(),
		seed:       rand.Uint32,
		logger:     slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Service{
		caller:     caller,
		normalizer: normalizer,
		store:      store,
		opts:       opts,
		log:        opts.logger,
	}
}

// Voices returns the voice set requests are checked against.
func (s *Service) Voices() *VoiceManager { return s.opts.voices }

// HandleRequest validates req, calls the remote app and stores the audio.
// It never panics and never returns an error: every failure is reported
// through the Outcome status.
func (s *Service) HandleRequest(ctx context.Context, req Request) (out Outcome) {
	start := time.Now()

	emotion := req.Emotion
	if emotion == "" {
		emotion = DefaultEmotion
	}
	out = Outcome{Voice: req.Voice, Emotion: emotion}

	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "panic during audio generation", slog.Any("panic", r))
			out = Outcome{
				Status:  MsgUnexpected,
				Voice:   out.Voice,
				Emotion: out.Emotion,
				Seed:    out.Seed,
				Err:     fmt.Errorf("%w: panic: %v", ErrUnexpected, r),
			}
		}
		s.opts.metrics.ObserveRequest(outcomeLabel(out.Err))
		s.log.InfoContext(ctx, "request finished",
			slog.Bool("audio", out.OK()),
			slog.String("outcome", outcomeLabel(out.Err)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}()

	s.log.InfoContext(ctx, "received request",
		slog.String("voice", req.Voice),
		slog.String("emotion", emotion),
		slog.Int("prompt_len", len(req.Prompt)),
	)

	if strings.TrimSpace(req.Prompt) == "" {
		return s.fail(ctx, out, ErrEmptyPrompt)
	}
	if _, err := s.opts.voices.Resolve(req.Voice); err != nil {
		return s.fail(ctx, out, err)
	}

	out.Seed = s.opts.seed()
	s.log.DebugContext(ctx, "generated seed", slog.Uint64("seed", uint64(out.Seed)))

	flagged, err := s.opts.classifier.IsFlagged(ctx, req.Prompt)
	if err != nil {
		return s.fail(ctx, out, fmt.Errorf("%w: %w", ErrClassifier, err))
	}
	if flagged {
		return s.fail(ctx, out, ErrFlagged)
	}

	result, err := s.caller.Predict(ctx, remote.Request{
		Prompt:        req.Prompt,
		Voice:         req.Voice,
		Emotion:       emotion,
		UseRandomSeed: true,
	})
	if err != nil {
		return s.fail(ctx, out, err)
	}

	audio, err := s.normalizer.Normalize(ctx, result)
	if err != nil {
		return s.fail(ctx, out, err)
	}

	path, err := s.store.Save(audio)
	if err != nil {
		return s.fail(ctx, out, fmt.Errorf("%w: %w", ErrUnexpected, err))
	}

	s.log.InfoContext(ctx, "audio saved", slog.String("path", path), slog.Int("bytes", len(audio)))

	out.AudioPath = path
	out.Status = fmt.Sprintf("Audio generated successfully with voice '%s', emotion '%s', and seed %d.",
		req.Voice, emotion, out.Seed)
	return out
}

func (s *Service) fail(ctx context.Context, out Outcome, err error) Outcome {
	level := slog.LevelError
	if IsInvalidInput(err) || errors.Is(err, ErrFlagged) {
		level = slog.LevelWarn
	}
	s.log.Log(ctx, level, "audio generation failed", slog.String("error", err.Error()))

	out.AudioPath = ""
	out.Status = UserMessage(err, out.Voice)
	out.Err = err
	return out
}
