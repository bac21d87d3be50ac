package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"docuchat/internal/app"
	"docuchat/internal/transport/http/middleware"
	"docuchat/internal/transport/http/response"
)

type ChatHandler struct {
	chat *app.ChatService
}

func NewChatHandler(chat *app.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type ChatRequest struct {
	Messages []ChatMessageRequest `json:"messages" binding:"required,min=1"`
	Images   []string             `json:"images"`
}

type ChatMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat streams one assistant turn as server-sent events. Failures before the
// first event produce a JSON error; once the stream has started, a failure
// just ends it without a [DONE] terminator.
func (h *ChatHandler) Chat(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token payload")
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, "streaming not supported")
		return
	}

	turns := make([]app.ChatTurn, len(req.Messages))
	for i, m := range req.Messages {
		turns[i] = app.ChatTurn{Role: m.Role, Content: m.Content}
	}

	stream := &sseStream{c: c, flusher: flusher}
	_, err := h.chat.StreamChat(c.Request.Context(), app.ChatInput{
		UserID:   identity.UserID,
		Email:    identity.Email,
		Name:     identity.Name,
		Messages: turns,
		Images:   req.Images,
	}, stream.send)
	if err != nil {
		if stream.started {
			log.Printf("chat stream aborted: %v", err)
			return
		}
		switch {
		case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
			response.Error(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrLLMConfig):
			response.Error(c, http.StatusInternalServerError, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "chat failed")
		}
		return
	}

	stream.done()
}

// History returns the caller's messages, newest first.
func (h *ChatHandler) History(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token payload")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	messages, err := h.chat.GetHistory(c.Request.Context(), identity.UserID, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "get history failed")
		return
	}

	items := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		items = append(items, MessageResponse{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Images:    m.ImageList(),
			CreatedAt: m.CreatedAt,
		})
	}
	response.OK(c, gin.H{"messages": items})
}

type MessageResponse struct {
	ID        uint      `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Images    []string  `json:"images,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// sseStream writes chat events in SSE framing, deferring headers until the
// first event so pre-stream errors can still be plain JSON.
type sseStream struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

func (s *sseStream) start() {
	if s.started {
		return
	}
	s.c.Header("Content-Type", "text/event-stream")
	s.c.Header("Cache-Control", "no-cache")
	s.c.Header("Connection", "keep-alive")
	s.c.Header("X-Accel-Buffering", "no")
	s.started = true
}

func (s *sseStream) send(ev app.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.start()
	if _, err := s.c.Writer.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) done() {
	s.start()
	if _, err := s.c.Writer.Write([]byte("data: [DONE]\n\n")); err != nil {
		return
	}
	s.flusher.Flush()
}
