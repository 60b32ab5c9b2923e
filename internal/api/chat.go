package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eloquent/internal/logging"
	"eloquent/internal/pipeline"
)

const streamTimeout = 2 * time.Minute

type chatRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message"`
}

// chat runs one turn and answers with the full visible history once the
// assistant reply is persisted.
func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := h.pipeline.Run(c.Request.Context(), pipeline.TurnRequest{
		ConversationID: req.ConversationID,
		CallerID:       callerID(c),
		Message:        req.Message,
	}, nil)
	if err != nil {
		h.respondPipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":           result.State,
		"conversation_id": result.ConversationID,
		"messages":        result.Messages,
	})
}

// chatStream runs one turn over SSE. The response is always 200; turn
// outcomes travel as ack, delta, done and error events.
func (h *Handler) chatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{"message": req.Message}); err != nil {
		return
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), streamTimeout)
	defer cancel()

	var sink pipeline.DeltaSink
	if h.streamDeltas {
		sink = func(delta string) error {
			return sendEvent("delta", gin.H{"content": delta})
		}
	}
	result, err := h.pipeline.Run(streamCtx, pipeline.TurnRequest{
		ConversationID: req.ConversationID,
		CallerID:       callerID(c),
		Message:        req.Message,
	}, sink)
	if err != nil {
		_, message := h.classify(c, err)
		_ = sendEvent("error", gin.H{"message": message})
		return
	}
	if result.State == pipeline.StateFailed {
		h.logger.Warn("completion stream interrupted",
			zap.String("request_id", logging.RequestIDFromContext(c)),
			zap.Int64("conversation_id", result.ConversationID),
			zap.Error(result.Err),
		)
		_ = sendEvent("error", gin.H{
			"message":         "the answer was interrupted",
			"conversation_id": result.ConversationID,
		})
		return
	}
	_ = sendEvent("done", gin.H{
		"state":           result.State,
		"conversation_id": result.ConversationID,
		"messages":        result.Messages,
	})
}
