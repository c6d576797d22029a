package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-tts-unlimited/internal/config"
)

func TestBuild_EndToEndAgainstFakeApp(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /gradio_api/call/text_to_speech_app", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event_id":"e"}`))
	})
	mux.HandleFunc("GET /gradio_api/call/text_to_speech_app/e", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: complete\ndata: [{\"path\": \"/tmp/x/audio.mp3\"}]\n\n"))
	})
	mux.HandleFunc("GET /gradio_api/file=/tmp/x/audio.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3!"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Remote.BaseURL = srv.URL
	cfg.Storage.Dir = t.TempDir()

	app, err := Build(cfg, discardLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	out := app.Service.HandleRequest(context.Background(), Request{Prompt: "hi", Voice: "alloy"})
	if !out.OK() {
		t.Fatalf("no audio: %q (%v)", out.Status, out.Err)
	}
	if filepath.Dir(out.AudioPath) != app.Store.Dir() {
		t.Errorf("audio written outside store: %s", out.AudioPath)
	}
	data, err := os.ReadFile(out.AudioPath)
	if err != nil || string(data) != "mp3!" {
		t.Errorf("audio = %q, %v", data, err)
	}

	families, err := app.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("registry gathered nothing")
	}
}

func TestBuild_RejectsBadCABundle(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Dir = t.TempDir()
	cfg.Fetch.CABundle = filepath.Join(t.TempDir(), "missing.pem")

	if _, err := Build(cfg, discardLogger()); err == nil {
		t.Fatal("expected error for unreadable CA bundle")
	}
}
