// Package storage persists generated audio as uniquely named temp files.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwbudde/wav"
	"github.com/example/go-tts-unlimited/internal/observability"
)

// FilePrefix starts the name of every file the store creates.
const FilePrefix = "tts-"

var (
	ErrInvalidName = errors.New("invalid audio file name")
	ErrNotFound    = errors.New("audio file not found")
)

type options struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a TempStore.
type Option func(*options)

// WithLogger sets the slog.Logger used by the store and its janitor.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records written bytes and removed files on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// TempStore writes each payload to a new file in Dir. Files are never
// overwritten; concurrent Saves always get distinct paths.
type TempStore struct {
	dir  string
	opts options
	log  *slog.Logger
}

// NewTempStore returns a store rooted at dir, or the OS temp dir when dir is
// empty. The directory is created if missing.
func NewTempStore(dir string, optFns ...Option) (*TempStore, error) {
	opts := options{logger: slog.Default(), now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}

	if dir == "" {
		dir = os.TempDir()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	return &TempStore{dir: abs, opts: opts, log: opts.logger}, nil
}

// Dir returns the absolute storage directory.
func (s *TempStore) Dir() string { return s.dir }

// Save writes data to a fresh file and returns its absolute path. The suffix
// is ".wav" for RIFF/WAVE payloads and ".mp3" otherwise.
func (s *TempStore) Save(data []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, FilePrefix+"*"+Suffix(data))
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close audio file: %w", err)
	}

	s.opts.metrics.AddStoredBytes(len(data))
	s.log.Debug("audio saved", slog.String("path", path), slog.Int("bytes", len(data)))
	return path, nil
}

// Suffix picks the file extension for an audio payload.
func Suffix(data []byte) string {
	if len(data) >= 12 && wav.NewDecoder(bytes.NewReader(data)).IsValidFile() {
		return ".wav"
	}
	return ".mp3"
}

// Path resolves a bare file name created by Save to its absolute path.
// Names with separators, traversal or a foreign prefix are rejected.
func (s *TempStore) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) ||
		!strings.HasPrefix(name, FilePrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(s.dir, name)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return path, nil
}

// Sweep deletes store files last modified more than ttl ago and returns the
// number removed. A non-positive ttl removes nothing.
func (s *TempStore) Sweep(ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read storage dir: %w", err)
	}

	cutoff := s.opts.now().Add(-ttl)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), FilePrefix) {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".mp3" && ext != ".wav" {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("failed to remove expired audio", slog.String("name", e.Name()), slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.opts.metrics.AddTempFilesRemoved(removed)
		s.log.Info("expired audio removed", slog.Int("files", removed))
	}
	return removed, nil
}

// StartJanitor sweeps every interval until ctx ends. It returns immediately
// when ttl or interval is non-positive. The returned channel closes when the
// janitor has stopped.
func (s *TempStore) StartJanitor(ctx context.Context, ttl, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if ttl <= 0 || interval <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ttl); err != nil {
					s.log.Warn("audio sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return done
}
