package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsTransport speaks the Gradio 3 queue protocol on {base}/queue/join.
type wsTransport struct {
	base    string
	wsURL   string
	fnIndex int
	token   string
	dialer  *websocket.Dialer
	log     *slog.Logger
}

type queueMessage struct {
	Msg     string `json:"msg"`
	Success bool   `json:"success"`
	Output  struct {
		Data  []any `json:"data"`
		Error any   `json:"error"`
	} `json:"output"`
	Rank      int     `json:"rank"`
	QueueSize int     `json:"queue_size"`
	RankEta   float64 `json:"rank_eta"`
}

type queueHash struct {
	FnIndex     int    `json:"fn_index"`
	SessionHash string `json:"session_hash"`
}

type queueData struct {
	Data        []any  `json:"data"`
	EventData   any    `json:"event_data"`
	FnIndex     int    `json:"fn_index"`
	SessionHash string `json:"session_hash"`
}

func (t *wsTransport) name() string { return "ws" }

func (t *wsTransport) fileURL(path string) string {
	return t.base + "/file=" + path
}

func (t *wsTransport) call(ctx context.Context, data []any) ([]any, error) {
	headers := http.Header{}
	setAuth(headers, t.token)

	conn, resp, err := t.dialer.DialContext(ctx, t.wsURL, headers)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: dial queue: %w", ErrRequest, &StatusError{Code: resp.StatusCode})
		}
		return nil, fmt.Errorf("%w: dial queue: %w", ErrRequest, err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock ReadJSON when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	hash := uuid.NewString()

	for {
		var msg queueMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrRequest, ctx.Err())
			}
			return nil, fmt.Errorf("%w: read queue message: %w", ErrRequest, err)
		}

		switch msg.Msg {
		case "send_hash":
			if err := conn.WriteJSON(queueHash{FnIndex: t.fnIndex, SessionHash: hash}); err != nil {
				return nil, fmt.Errorf("%w: send hash: %w", ErrRequest, err)
			}
		case "send_data":
			payload := queueData{Data: data, FnIndex: t.fnIndex, SessionHash: hash}
			if err := conn.WriteJSON(payload); err != nil {
				return nil, fmt.Errorf("%w: send data: %w", ErrRequest, err)
			}
		case "estimation":
			t.log.DebugContext(ctx, "queued on remote",
				slog.Int("rank", msg.Rank),
				slog.Int("queue_size", msg.QueueSize),
				slog.Float64("rank_eta", msg.RankEta),
			)
		case "queue_full":
			return nil, fmt.Errorf("%w: %w", ErrRequest, ErrQueueFull)
		case "process_completed":
			if !msg.Success || msg.Output.Error != nil {
				detail, _ := json.Marshal(msg.Output.Error)
				t.log.WarnContext(ctx, "remote app reported failure", slog.String("error", truncate(string(detail), 200)))
				return nil, fmt.Errorf("%w: %w: %s", ErrRequest, ErrAppError, truncate(string(detail), 200))
			}
			return msg.Output.Data, nil
		case "process_starts", "process_generating", "heartbeat", "log":
		default:
			t.log.DebugContext(ctx, "ignoring queue message", slog.String("msg", msg.Msg))
		}
	}
}
