package server

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/example/go-tts-unlimited/internal/tts"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type pageData struct {
	Voices   []string
	Prompt   string
	Emotion  string
	Voice    string
	AudioURL string
	Status   string
}

func (h *handler) voiceIDs() []string {
	voices := h.voices.ListVoices()
	ids := make([]string, len(voices))
	for i, v := range voices {
		ids[i] = v.ID
	}
	return ids
}

func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, http.StatusOK, pageData{Voice: tts.DefaultVoice})
}

func (h *handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit())
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.renderPage(w, r, http.StatusRequestEntityTooLarge, pageData{
				Voice:  tts.DefaultVoice,
				Status: h.tooLargeMessage(),
			})
			return
		}
		h.renderPage(w, r, http.StatusBadRequest, pageData{Voice: tts.DefaultVoice, Status: "Invalid form submission."})
		return
	}

	data := pageData{
		Prompt:  r.PostForm.Get("prompt"),
		Emotion: r.PostForm.Get("emotion"),
		Voice:   r.PostForm.Get("voice"),
	}

	if len(data.Prompt) > h.opts.maxPromptBytes {
		data.Status = h.tooLargeMessage()
		h.renderPage(w, r, http.StatusRequestEntityTooLarge, data)
		return
	}

	out, ok := h.generate(r, tts.Request{Prompt: data.Prompt, Voice: data.Voice, Emotion: data.Emotion})
	if !ok {
		data.Status = tts.MsgGenerationFailed
		h.renderPage(w, r, http.StatusServiceUnavailable, data)
		return
	}

	data.AudioURL = audioURL(out)
	data.Status = out.Status
	// The page reports failures in its status box.
	h.renderPage(w, r, http.StatusOK, data)
}

func (h *handler) renderPage(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	data.Voices = h.voiceIDs()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, data); err != nil {
		h.log.ErrorContext(r.Context(), "render page", slog.String("error", err.Error()))
	}
}
