package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/r3labs/sse/v2"
)

// maxEventBytes bounds one SSE event; inline audio may arrive as a data URL.
const maxEventBytes = 64 << 20

// sseTransport speaks the Gradio call API:
//
//	POST {base}{prefix}/call/{name}             {"data": [...]} -> {"event_id": "..."}
//	GET  {base}{prefix}/call/{name}/{event_id}  text/event-stream
type sseTransport struct {
	base   string
	prefix string
	fn     string
	token  string
	http   *http.Client
	log    *slog.Logger
}

func (t *sseTransport) name() string { return "sse" }

func (t *sseTransport) fileURL(path string) string {
	return t.base + strings.TrimRight(t.prefix, "/") + "/file=" + path
}

func (t *sseTransport) callURL() string {
	return t.base + strings.TrimRight(t.prefix, "/") + "/call/" + t.fn
}

func (t *sseTransport) call(ctx context.Context, data []any) ([]any, error) {
	eventID, err := t.submit(ctx, data)
	if err != nil {
		return nil, err
	}
	t.log.DebugContext(ctx, "remote job submitted", slog.String("event_id", eventID))
	return t.await(ctx, eventID)
}

func (t *sseTransport) submit(ctx context.Context, data []any) (string, error) {
	body, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %w", ErrRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.callURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req.Header, t.token)

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return "", fmt.Errorf("%w: submit: %w", ErrRequest, &StatusError{Code: resp.StatusCode, Body: string(snippet)})
	}

	var out struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode submit response: %w", ErrRequest, err)
	}
	if out.EventID == "" {
		return "", fmt.Errorf("%w: submit response has no event_id", ErrRequest)
	}
	return out.EventID, nil
}

func (t *sseTransport) await(ctx context.Context, eventID string) ([]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.callURL()+"/"+url.PathEscape(eventID), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	setAuth(req.Header, t.token)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("%w: stream: %w", ErrRequest, &StatusError{Code: resp.StatusCode, Body: string(snippet)})
	}

	return t.readEvents(ctx, resp.Body)
}

// readEvents consumes the stream until a complete or error event. A final
// event may lack the trailing blank line.
func (t *sseTransport) readEvents(ctx context.Context, r io.Reader) ([]any, error) {
	reader := sse.NewEventStreamReader(r, maxEventBytes)

	for {
		raw, err := reader.ReadEvent()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read stream: %w", ErrRequest, err)
		}

		event, data := parseEvent(raw)
		out, done, err := t.dispatch(ctx, event, data)
		if done || err != nil {
			return out, err
		}
	}
	return nil, fmt.Errorf("%w: stream ended before completion: %w", ErrRequest, io.ErrUnexpectedEOF)
}

// parseEvent extracts the event name and the joined data lines of one
// framed event.
func parseEvent(raw []byte) (string, string) {
	var event string
	var data []string

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSuffix(line, "\r")
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	return event, strings.Join(data, "\n")
}

func (t *sseTransport) dispatch(ctx context.Context, event, data string) ([]any, bool, error) {
	switch event {
	case "complete":
		var out []any
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			return nil, true, fmt.Errorf("%w: decode result: %w", ErrRequest, err)
		}
		return out, true, nil
	case "error":
		t.log.WarnContext(ctx, "remote app returned an error event", slog.String("data", truncate(data, 200)))
		detail := strings.TrimSpace(data)
		if detail == "" || detail == "null" {
			return nil, true, fmt.Errorf("%w: %w", ErrRequest, ErrAppError)
		}
		return nil, true, fmt.Errorf("%w: %w: %s", ErrRequest, ErrAppError, truncate(detail, 200))
	case "", "generating", "heartbeat":
		return nil, false, nil
	default:
		t.log.DebugContext(ctx, "ignoring remote event", slog.String("event", event))
		return nil, false, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
