package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"docuchat/internal/ai"
	"docuchat/internal/model"
)

var (
	ErrMessageEmpty = errors.New("message is empty")
	ErrLLMConfig    = errors.New("llm is not configured")
)

// EventTextDelta is the single event type emitted while streaming.
const EventTextDelta = "text-delta"

// StreamEvent is one normalized fragment of a streamed chat response,
// regardless of how the upstream provider shapes its deltas.
type StreamEvent struct {
	Type  string      `json:"type"`
	Delta StreamDelta `json:"delta"`
}

type StreamDelta struct {
	Text string `json:"text"`
}

// ContextRetriever supplies grounding text for a question; "" means none.
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, query string) string
}

// ChatStreamer is the completion surface; satisfied by ai.OpenAICompatibleClient.
type ChatStreamer interface {
	StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (string, error)
}

// AsyncMessagePublisher enqueues a chat message for asynchronous persistence.
type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// HistoryCache fronts the message table with a short-lived per-user cache.
type HistoryCache interface {
	GetHistory(ctx context.Context, userID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, userID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, userID string) error
	MarkDirty(ctx context.Context, userID string) error
	IsDirty(ctx context.Context, userID string) (bool, error)
}

type MessageStore interface {
	ListByUserID(ctx context.Context, userID string, limit int) ([]model.Message, error)
}

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatInput struct {
	UserID   string
	Email    string
	Name     string
	Messages []ChatTurn
	Images   []string
}

type ChatService struct {
	users       UserStore
	messages    MessageStore
	retriever   ContextRetriever
	llm         ChatStreamer
	publisher   AsyncMessagePublisher
	history     HistoryCache
	chatCfg     ai.ChatConfig
	visionModel string
	maxMessages int
}

// NewChatService wires the chat orchestrator. retriever, publisher, and
// history may be nil; the corresponding step is skipped.
func NewChatService(
	users UserStore,
	messages MessageStore,
	retriever ContextRetriever,
	llm ChatStreamer,
	publisher AsyncMessagePublisher,
	history HistoryCache,
	chatCfg ai.ChatConfig,
	visionModel string,
	maxMessages int,
) *ChatService {
	if maxMessages <= 0 {
		maxMessages = 20
	}
	return &ChatService{
		users:       users,
		messages:    messages,
		retriever:   retriever,
		llm:         llm,
		publisher:   publisher,
		history:     history,
		chatCfg:     chatCfg,
		visionModel: visionModel,
		maxMessages: maxMessages,
	}
}

const groundedPromptFormat = `You are a helpful assistant answering questions about the user's documents.
Use the following excerpts as your primary source. If they do not contain the answer, say you could not find it in the documents before answering from general knowledge.

Excerpts:
%s`

const ungroundedPrompt = "You are a helpful assistant. No relevant document excerpts were found for this question; answer from general knowledge, and say so if the user asks about their documents."

// StreamChat runs one chat turn: it ensures the user row exists, grounds the
// question with retrieved context, streams the completion through emit as
// text-delta events, and enqueues the exchange for persistence. The returned
// string is the full assistant response.
func (s *ChatService) StreamChat(ctx context.Context, input ChatInput, emit func(StreamEvent) error) (string, error) {
	if input.UserID == "" {
		return "", ErrInvalidInput
	}
	question, images := lastTurn(input)
	if question == "" && len(images) == 0 {
		return "", ErrMessageEmpty
	}
	if s.chatCfg.BaseURL == "" || s.chatCfg.Model == "" {
		return "", ErrLLMConfig
	}

	// The owner row must exist before any message row can reference it.
	user := &model.User{ID: input.UserID, Email: input.Email, DisplayName: input.Name}
	if err := s.users.Ensure(ctx, user); err != nil {
		return "", err
	}

	var contextText string
	if s.retriever != nil {
		contextText = s.retriever.RetrieveContext(ctx, question)
	}

	cfg := s.chatCfg
	if len(images) > 0 && s.visionModel != "" {
		cfg.Model = s.visionModel
	}

	prompt := s.buildPromptMessages(input.Messages, images, contextText)

	answer, err := s.llm.StreamComplete(ctx, cfg, prompt, func(chunk string) error {
		return emit(StreamEvent{Type: EventTextDelta, Delta: StreamDelta{Text: chunk}})
	})
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)

	s.invalidateHistory(ctx, input.UserID)
	s.publishExchange(ctx, input, question, answer)
	return answer, nil
}

// GetHistory returns the user's most recent messages, newest first, serving
// from the cache unless a recent write marked it dirty.
func (s *ChatService) GetHistory(ctx context.Context, userID string, limit int) ([]model.Message, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}

	if s.history != nil {
		dirty, err := s.history.IsDirty(ctx, userID)
		if err != nil {
			log.Printf("history cache dirty check failed: %v", err)
		} else if !dirty {
			cached, ok, err := s.history.GetHistory(ctx, userID)
			if err != nil {
				log.Printf("history cache read failed: %v", err)
			} else if ok {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messages.ListByUserID(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if s.history != nil {
		if err := s.history.SetHistory(ctx, userID, messages); err != nil {
			log.Printf("history cache write failed: %v", err)
		}
	}
	return messages, nil
}

// lastTurn extracts the question text and applicable image attachments from
// the final message. Attachments only apply when the final turn is the user's.
func lastTurn(input ChatInput) (string, []string) {
	if len(input.Messages) == 0 {
		return "", nil
	}
	last := input.Messages[len(input.Messages)-1]
	question := strings.TrimSpace(last.Content)
	if last.Role == "assistant" {
		return question, nil
	}
	return question, input.Images
}

func (s *ChatService) buildPromptMessages(turns []ChatTurn, images []string, contextText string) []ai.ChatMessage {
	recent := turns
	if len(recent) > s.maxMessages {
		recent = recent[len(recent)-s.maxMessages:]
	}

	messages := make([]ai.ChatMessage, 0, len(recent)+1)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: systemPrompt(contextText)})
	for i, turn := range recent {
		role := turn.Role
		if role != "assistant" {
			role = "user"
		}
		msg := ai.ChatMessage{Role: role, Content: strings.TrimSpace(turn.Content)}
		if i == len(recent)-1 && role == "user" {
			msg.Images = images
		}
		messages = append(messages, msg)
	}
	return messages
}

func systemPrompt(contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		return ungroundedPrompt
	}
	return fmt.Sprintf(groundedPromptFormat, contextText)
}

// invalidateHistory drops the cached history ahead of the async writes so a
// follow-up read does not serve the pre-exchange list for the marker's TTL.
func (s *ChatService) invalidateHistory(ctx context.Context, userID string) {
	if s.history == nil {
		return
	}
	if err := s.history.MarkDirty(ctx, userID); err != nil {
		log.Printf("history cache mark dirty failed: %v", err)
	}
	if err := s.history.DeleteHistory(ctx, userID); err != nil {
		log.Printf("history cache delete failed: %v", err)
	}
}

// publishExchange enqueues the user question and assistant answer for the
// persistence worker. Failures are logged; the chat turn already succeeded.
func (s *ChatService) publishExchange(ctx context.Context, input ChatInput, question, answer string) {
	if s.publisher == nil {
		return
	}
	now := time.Now().UTC()

	userMsg := model.Message{UserID: input.UserID, Role: "user", Content: question, CreatedAt: now}
	if len(input.Images) > 0 {
		if err := userMsg.SetImages(input.Images); err != nil {
			log.Printf("encode message images failed: %v", err)
		}
	}
	if err := s.publisher.Publish(ctx, userMsg); err != nil {
		log.Printf("publish user message failed: %v", err)
	}

	assistantMsg := model.Message{UserID: input.UserID, Role: "assistant", Content: answer, CreatedAt: now}
	if err := s.publisher.Publish(ctx, assistantMsg); err != nil {
		log.Printf("publish assistant message failed: %v", err)
	}
}

// trimMessages keeps the first limit entries of a newest-first list.
func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[:limit]
}
