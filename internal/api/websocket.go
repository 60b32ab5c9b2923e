package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"eloquent/internal/logging"
	"eloquent/internal/pipeline"
)

const socketReadDeadline = 60 * time.Second

type socketDone struct {
	Event          string         `json:"event"`
	State          pipeline.State `json:"state"`
	ConversationID int64          `json:"conversation_id"`
	Messages       interface{}    `json:"messages"`
}

type socketError struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// chatSocket runs one turn over a websocket. The client sends a single
// JSON request, answer fragments come back as raw text frames and the
// turn ends with one JSON done or error frame.
func (h *Handler) chatSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("request_id", logging.RequestIDFromContext(c)),
			zap.Error(err),
		)
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(socketReadDeadline))

	var req chatRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(socketError{Event: "error", Message: "invalid request"})
		return
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), streamTimeout)
	defer cancel()

	var sink pipeline.DeltaSink
	if h.streamDeltas {
		sink = func(delta string) error {
			return conn.WriteMessage(websocket.TextMessage, []byte(delta))
		}
	}
	result, err := h.pipeline.Run(streamCtx, pipeline.TurnRequest{
		ConversationID: req.ConversationID,
		CallerID:       callerID(c),
		Message:        req.Message,
	}, sink)
	if err != nil {
		_, message := h.classify(c, err)
		_ = conn.WriteJSON(socketError{Event: "error", Message: message})
		return
	}
	if result.State == pipeline.StateFailed {
		h.logger.Warn("completion stream interrupted",
			zap.String("request_id", logging.RequestIDFromContext(c)),
			zap.Int64("conversation_id", result.ConversationID),
			zap.Error(result.Err),
		)
		_ = conn.WriteJSON(socketError{Event: "error", Message: "the answer was interrupted"})
		return
	}
	_ = conn.WriteJSON(socketDone{
		Event:          "done",
		State:          result.State,
		ConversationID: result.ConversationID,
		Messages:       result.Messages,
	})
}
