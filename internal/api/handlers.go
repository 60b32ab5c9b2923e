package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"eloquent/internal/auth"
	"eloquent/internal/logging"
	"eloquent/internal/models"
	"eloquent/internal/pipeline"
	"eloquent/internal/store"
)

// Handler wires HTTP routes to the turn pipeline and auth service.
type Handler struct {
	pipeline     *pipeline.Pipeline
	store        *store.Store
	auth         *auth.Service
	logger       *zap.Logger
	streamDeltas bool
	upgrader     websocket.Upgrader
}

// NewHandler constructs a Handler instance. streamDeltas gates the delta
// frames on the SSE and websocket transports; when false they deliver the
// answer in the terminal event only.
func NewHandler(p *pipeline.Pipeline, st *store.Store, authService *auth.Service, streamDeltas bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipeline:     p,
		store:        st,
		auth:         authService,
		logger:       logger,
		streamDeltas: streamDeltas,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := router.Group("/api")
	api.POST("/auth/signup", h.signup)
	api.POST("/auth/login", h.login)

	authMW := h.auth.Middleware()
	optionalMW := h.auth.OptionalMiddleware()
	csrfMW := h.auth.CSRFMiddleware()

	api.POST("/auth/logout", authMW, h.logout)

	chat := api.Group("/chat")
	chat.Use(optionalMW, csrfMW)
	chat.POST("", h.chat)
	chat.POST("/stream", h.chatStream)
	chat.GET("/ws", h.chatSocket)

	conversations := api.Group("/conversations")
	conversations.GET("", authMW, h.listConversations)
	conversations.GET("/:id/messages", optionalMW, h.conversationMessages)
	conversations.POST("/:id/delete", optionalMW, csrfMW, h.deleteConversation)
	conversations.POST("/:id/summarize", optionalMW, csrfMW, h.summarizeConversation)
}

// callerID returns the authenticated user id, zero for anonymous callers.
func callerID(c *gin.Context) int64 {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return 0
	}
	return userID
}

func pathConversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

// respondPipelineError maps pipeline errors onto HTTP statuses with client
// safe messages. Unexpected errors are logged and reported generically.
func (h *Handler) respondPipelineError(c *gin.Context, err error) {
	status, message := h.classify(c, err)
	c.JSON(status, gin.H{"error": message})
}

func (h *Handler) classify(c *gin.Context, err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyMessage):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, pipeline.ErrForbidden):
		return http.StatusForbidden, "conversation belongs to another user"
	case errors.Is(err, pipeline.ErrConversationDeleted):
		return http.StatusBadRequest, "conversation is deleted"
	case errors.Is(err, pipeline.ErrTurnInFlight):
		return http.StatusConflict, "another turn is in progress"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "conversation not found"
	default:
		h.logger.Error("request failed",
			zap.String("request_id", logging.RequestIDFromContext(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) listConversations(c *gin.Context) {
	userID := callerID(c)
	includeDeleted := c.Query("include_deleted") == "true"
	conversations, err := h.store.GetConversationsByUser(c.Request.Context(), userID, !includeDeleted)
	if err != nil {
		h.respondPipelineError(c, err)
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (h *Handler) conversationMessages(c *gin.Context) {
	id, ok := pathConversationID(c)
	if !ok {
		return
	}
	messages, err := h.pipeline.History(c.Request.Context(), id, callerID(c))
	if err != nil {
		h.respondPipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "messages": messages})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	id, ok := pathConversationID(c)
	if !ok {
		return
	}
	if err := h.pipeline.Delete(c.Request.Context(), id, callerID(c)); err != nil {
		h.respondPipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "conversation deleted"})
}

func (h *Handler) summarizeConversation(c *gin.Context) {
	id, ok := pathConversationID(c)
	if !ok {
		return
	}
	summary, err := h.pipeline.Summarize(c.Request.Context(), id, callerID(c))
	if err != nil {
		h.respondPipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "summary": summary})
}
