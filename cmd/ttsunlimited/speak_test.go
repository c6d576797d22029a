package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// newFakeApp serves the call API with a single audio result.
func newFakeApp(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /gradio_api/call/text_to_speech_app", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event_id":"e1"}`))
	})
	mux.HandleFunc("GET /gradio_api/call/text_to_speech_app/e1", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: complete\ndata: [{\"path\": \"/tmp/gradio/out.mp3\"}]\n\n"))
	})
	mux.HandleFunc("GET /gradio_api/file=/tmp/gradio/out.mp3", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	})
	mux.HandleFunc("GET /config", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version":"4.44.1"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSpeakCmd_PrintsGeneratedPath(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeApp(t, &calls)
	dir := t.TempDir()

	stdout, stderr, err := execute(t, "", "speak",
		"--prompt", "Hello there.",
		"--voice", "nova",
		"--remote-base-url", srv.URL,
		"--storage-dir", dir,
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("speak: %v (stderr %q)", err, stderr)
	}

	path := strings.TrimSpace(stdout)
	if filepath.Dir(path) != dir || !strings.HasSuffix(path, ".mp3") {
		t.Errorf("path = %q; want .mp3 under %s", path, dir)
	}
	if !strings.Contains(stderr, "voice 'nova'") {
		t.Errorf("stderr = %q; want success status", stderr)
	}
	if calls.Load() != 1 {
		t.Errorf("remote calls = %d; want 1", calls.Load())
	}
}

func TestSpeakCmd_ReadsPromptFromStdinAndCopiesOut(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeApp(t, &calls)
	out := filepath.Join(t.TempDir(), "clip.mp3")

	_, stderr, err := execute(t, "Piped prompt.\n", "speak",
		"--out", out,
		"--remote-base-url", srv.URL,
		"--storage-dir", t.TempDir(),
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("speak: %v (stderr %q)", err, stderr)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ID3-fake-mp3" {
		t.Errorf("copied audio = %q", data)
	}
}

func TestSpeakCmd_UnknownVoiceFails(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeApp(t, &calls)

	_, stderr, err := execute(t, "", "speak",
		"--prompt", "Hi.",
		"--voice", "robot",
		"--remote-base-url", srv.URL,
		"--storage-dir", t.TempDir(),
		"--log-level", "error",
	)
	if err == nil {
		t.Fatal("expected error for unknown voice")
	}
	if strings.TrimSpace(stderr) == "" {
		t.Error("expected a status line on stderr")
	}
	if calls.Load() != 0 {
		t.Errorf("remote called %d times for an invalid request", calls.Load())
	}
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt("  flag text ", strings.NewReader("ignored"))
	if err != nil || got != "  flag text " {
		t.Errorf("readPrompt(flag) = %q, %v", got, err)
	}

	got, err = readPrompt("", strings.NewReader("  from stdin\n"))
	if err != nil || got != "from stdin" {
		t.Errorf("readPrompt(stdin) = %q, %v", got, err)
	}

	if _, err := readPrompt(" ", strings.NewReader("\n")); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestWriteSpeakOutput_Stdout(t *testing.T) {
	src := filepath.Join(t.TempDir(), "tts-a.mp3")
	if err := os.WriteFile(src, []byte("abc"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf strings.Builder
	if err := writeSpeakOutput("-", src, &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "abc" {
		t.Errorf("stdout = %q", buf.String())
	}
}
