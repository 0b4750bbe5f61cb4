package handlers

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/gdportfolio/internal/modules/optimization"
	"github.com/aristath/gdportfolio/internal/modules/runs"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Stream message types
const (
	MessageProgress = "progress"
	MessageResult   = "result"
	MessageError    = "error"
)

// StreamMessage is sent from server to client on the stream endpoint
type StreamMessage struct {
	Type     string                 `json:"type"`
	Progress *optimization.Progress `json:"progress,omitempty"`
	Data     *optimization.Result   `json:"data,omitempty"`
	RunID    string                 `json:"run_id,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Status   int                    `json:"status,omitempty"`
}

// HandleStream handles GET /api/optimization/stream.
// The client sends one RunRequest; the server replies with progress
// messages every report_every epochs and finally a result or error message.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	var req RunRequest
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		h.log.Debug().Err(err).Msg("Failed to read stream request")
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}

	// The optimizer calls back synchronously; after the first failed write
	// the remaining progress is dropped and the run finishes.
	var writeErr error
	send := func(msg StreamMessage) {
		if writeErr != nil {
			return
		}
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		writeErr = wsjson.Write(writeCtx, conn, msg)
	}

	result, err := execute(req, func(p optimization.Progress) {
		send(StreamMessage{Type: MessageProgress, Progress: &p})
	})
	if err != nil {
		send(StreamMessage{Type: MessageError, Error: err.Error(), Status: statusFor(err)})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	runID := h.persist(ctx, runs.SourceStream, req, result)
	send(StreamMessage{Type: MessageResult, Data: result, RunID: runID})

	if writeErr != nil {
		h.log.Debug().Err(writeErr).Msg("Stream client went away")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
