package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/ai"
	"docuchat/internal/model"
)

type fakeUsers struct {
	ensured []model.User
	err     error
}

func (f *fakeUsers) Ensure(_ context.Context, user *model.User) error {
	if f.err != nil {
		return f.err
	}
	f.ensured = append(f.ensured, *user)
	return nil
}

type fakeRetriever struct {
	text     string
	calls    int
	gotQuery string
}

func (f *fakeRetriever) RetrieveContext(_ context.Context, query string) string {
	f.calls++
	f.gotQuery = query
	return f.text
}

type fakeStreamer struct {
	chunks      []string
	err         error
	calls       int
	gotCfg      ai.ChatConfig
	gotMessages []ai.ChatMessage
}

func (f *fakeStreamer) StreamComplete(_ context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (string, error) {
	f.calls++
	f.gotCfg = cfg
	f.gotMessages = messages
	if f.err != nil {
		return "", f.err
	}
	var full strings.Builder
	for _, chunk := range f.chunks {
		if err := onChunk(chunk); err != nil {
			return "", err
		}
		full.WriteString(chunk)
	}
	return full.String(), nil
}

type fakePublisher struct {
	published []model.Message
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, msg model.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

type fakeHistory struct {
	dirty     bool
	dirtyErr  error
	cached    []model.Message
	hasCached bool
	getErr    error
	set       [][]model.Message
	deleted   int
	marked    int
}

func (f *fakeHistory) GetHistory(_ context.Context, _ string) ([]model.Message, bool, error) {
	return f.cached, f.hasCached, f.getErr
}

func (f *fakeHistory) SetHistory(_ context.Context, _ string, messages []model.Message) error {
	f.set = append(f.set, messages)
	return nil
}

func (f *fakeHistory) DeleteHistory(_ context.Context, _ string) error {
	f.deleted++
	return nil
}

func (f *fakeHistory) MarkDirty(_ context.Context, _ string) error {
	f.marked++
	return nil
}

func (f *fakeHistory) IsDirty(_ context.Context, _ string) (bool, error) {
	return f.dirty, f.dirtyErr
}

type fakeMessages struct {
	list     []model.Message
	err      error
	calls    int
	gotLimit int
}

func (f *fakeMessages) ListByUserID(_ context.Context, _ string, limit int) ([]model.Message, error) {
	f.calls++
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.list, nil
}

type chatFixture struct {
	users     *fakeUsers
	messages  *fakeMessages
	retriever *fakeRetriever
	llm       *fakeStreamer
	publisher *fakePublisher
	history   *fakeHistory
	svc       *ChatService
}

func newChatFixture(chunks []string) *chatFixture {
	f := &chatFixture{
		users:     &fakeUsers{},
		messages:  &fakeMessages{},
		retriever: &fakeRetriever{},
		llm:       &fakeStreamer{chunks: chunks},
		publisher: &fakePublisher{},
		history:   &fakeHistory{},
	}
	f.svc = NewChatService(f.users, f.messages, f.retriever, f.llm, f.publisher, f.history,
		ai.ChatConfig{BaseURL: "http://llm.local", Model: "chat-model"}, "vision-model", 20)
	return f
}

func userTurns(contents ...string) []ChatTurn {
	turns := make([]ChatTurn, len(contents))
	for i, c := range contents {
		turns[i] = ChatTurn{Role: "user", Content: c}
	}
	return turns
}

func discardEvents(StreamEvent) error { return nil }

func historyOf(n int) []model.Message {
	messages := make([]model.Message, n)
	for i := range messages {
		messages[i] = model.Message{UserID: "u1", Role: "user", Content: fmt.Sprintf("m%d", i)}
	}
	return messages
}

func TestStreamChatEmitsOneEventPerChunk(t *testing.T) {
	f := newChatFixture([]string{"Hel", "lo ", "world"})

	var events []StreamEvent
	answer, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("hi")},
		func(ev StreamEvent) error {
			events = append(events, ev)
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, "Hello world", answer)
	require.Len(t, events, 3)
	for i, want := range []string{"Hel", "lo ", "world"} {
		assert.Equal(t, EventTextDelta, events[i].Type)
		assert.Equal(t, want, events[i].Delta.Text)
	}
}

func TestStreamChatValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   ChatInput
		wantErr error
	}{
		{"missing user", ChatInput{Messages: userTurns("hi")}, ErrInvalidInput},
		{"no messages", ChatInput{UserID: "u1"}, ErrMessageEmpty},
		{"blank last message", ChatInput{UserID: "u1", Messages: userTurns("   ")}, ErrMessageEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChatFixture(nil)

			_, err := f.svc.StreamChat(context.Background(), tt.input, discardEvents)

			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.llm.calls)
			assert.Empty(t, f.publisher.published)
		})
	}
}

func TestStreamChatRejectsUnconfiguredLLM(t *testing.T) {
	f := newChatFixture(nil)
	f.svc = NewChatService(f.users, f.messages, f.retriever, f.llm, f.publisher, f.history,
		ai.ChatConfig{}, "", 0)

	_, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("hi")}, discardEvents)

	require.ErrorIs(t, err, ErrLLMConfig)
}

func TestStreamChatEnsuresUserBeforeStreaming(t *testing.T) {
	f := newChatFixture([]string{"ok"})

	_, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "new-user", Email: "new@example.com", Name: "New User", Messages: userTurns("hi")},
		discardEvents)

	require.NoError(t, err)
	require.Len(t, f.users.ensured, 1)
	assert.Equal(t, "new-user", f.users.ensured[0].ID)
	assert.Equal(t, "new@example.com", f.users.ensured[0].Email)
	assert.Equal(t, "New User", f.users.ensured[0].DisplayName)
}

func TestStreamChatEnsureFailureAborts(t *testing.T) {
	f := newChatFixture([]string{"ok"})
	f.users.err = errors.New("db down")

	_, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("hi")}, discardEvents)

	require.Error(t, err)
	assert.Zero(t, f.llm.calls)
	assert.Zero(t, f.retriever.calls)
}

func TestStreamChatGroundsSystemMessage(t *testing.T) {
	f := newChatFixture([]string{"answer"})
	f.retriever.text = "Excerpt one.\n\nExcerpt two."

	_, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("what does the contract say")},
		discardEvents)

	require.NoError(t, err)
	assert.Equal(t, "what does the contract say", f.retriever.gotQuery)
	require.NotEmpty(t, f.llm.gotMessages)
	system := f.llm.gotMessages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "Excerpt one.")
	assert.Contains(t, system.Content, "Excerpt two.")
}

func TestStreamChatNeutralSystemMessageWithoutContext(t *testing.T) {
	f := newChatFixture([]string{"answer"})
	f.retriever.text = ""

	_, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("hello")}, discardEvents)

	require.NoError(t, err)
	require.NotEmpty(t, f.llm.gotMessages)
	system := f.llm.gotMessages[0]
	assert.Equal(t, "system", system.Role)
	assert.Equal(t, ungroundedPrompt, system.Content)
}

func TestStreamChatPicksVisionModelForImages(t *testing.T) {
	image := "data:image/png;base64,iVBOR"

	f := newChatFixture([]string{"a dog"})
	_, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("what is this"), Images: []string{image}},
		discardEvents)

	require.NoError(t, err)
	assert.Equal(t, "vision-model", f.llm.gotCfg.Model)
	last := f.llm.gotMessages[len(f.llm.gotMessages)-1]
	assert.Equal(t, []string{image}, last.Images)
}

func TestStreamChatKeepsTextModelWithoutImages(t *testing.T) {
	f := newChatFixture([]string{"answer"})

	_, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("plain question")}, discardEvents)

	require.NoError(t, err)
	assert.Equal(t, "chat-model", f.llm.gotCfg.Model)
	for _, msg := range f.llm.gotMessages {
		assert.Empty(t, msg.Images)
	}
}

func TestStreamChatTrimsHistoryWindow(t *testing.T) {
	f := newChatFixture([]string{"answer"})
	f.svc = NewChatService(f.users, f.messages, f.retriever, f.llm, f.publisher, f.history,
		ai.ChatConfig{BaseURL: "http://llm.local", Model: "chat-model"}, "", 3)

	_, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("m1", "m2", "m3", "m4", "m5", "m6")},
		discardEvents)

	require.NoError(t, err)
	require.Len(t, f.llm.gotMessages, 4)
	assert.Equal(t, "system", f.llm.gotMessages[0].Role)
	assert.Equal(t, "m4", f.llm.gotMessages[1].Content)
	assert.Equal(t, "m6", f.llm.gotMessages[3].Content)
}

func TestStreamChatPublishesExchangeAfterStream(t *testing.T) {
	image := "data:image/jpeg;base64,/9j/"
	f := newChatFixture([]string{"the ", "answer"})

	answer, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("the question"), Images: []string{image}},
		discardEvents)

	require.NoError(t, err)
	assert.Equal(t, "the answer", answer)

	require.Len(t, f.publisher.published, 2)
	userMsg := f.publisher.published[0]
	assert.Equal(t, "user", userMsg.Role)
	assert.Equal(t, "the question", userMsg.Content)
	assert.Equal(t, []string{image}, userMsg.ImageList())
	assistantMsg := f.publisher.published[1]
	assert.Equal(t, "assistant", assistantMsg.Role)
	assert.Equal(t, "the answer", assistantMsg.Content)

	assert.Equal(t, 1, f.history.marked)
	assert.Equal(t, 1, f.history.deleted)
}

func TestStreamChatPublishFailureDoesNotFailTurn(t *testing.T) {
	f := newChatFixture([]string{"answer"})
	f.publisher.err = errors.New("amqp down")

	answer, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("hi")}, discardEvents)

	require.NoError(t, err)
	assert.Equal(t, "answer", answer)
}

func TestStreamChatStreamFailureSkipsPersistence(t *testing.T) {
	f := newChatFixture(nil)
	f.llm.err = errors.New("upstream unavailable")

	_, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("hi")}, discardEvents)

	require.Error(t, err)
	assert.Empty(t, f.publisher.published)
	assert.Zero(t, f.history.marked)
}

func TestStreamChatEmitErrorAborts(t *testing.T) {
	f := newChatFixture([]string{"first", "second"})
	sentinel := errors.New("client went away")

	_, err := f.svc.StreamChat(context.Background(),
		ChatInput{UserID: "u1", Messages: userTurns("hi")},
		func(StreamEvent) error { return sentinel })

	require.ErrorIs(t, err, sentinel)
	assert.Empty(t, f.publisher.published)
}

func TestGetHistoryServesCacheWhenClean(t *testing.T) {
	f := newChatFixture(nil)
	f.history.hasCached = true
	f.history.cached = historyOf(5)

	got, err := f.svc.GetHistory(context.Background(), "u1", 3)

	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Zero(t, f.messages.calls)
}

func TestGetHistoryDirtyMarkerForcesRead(t *testing.T) {
	f := newChatFixture(nil)
	f.history.dirty = true
	f.history.hasCached = true
	f.history.cached = historyOf(1)
	f.messages.list = historyOf(4)

	got, err := f.svc.GetHistory(context.Background(), "u1", 10)

	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, 1, f.messages.calls)
	require.Len(t, f.history.set, 1)
	assert.Len(t, f.history.set[0], 4)
}

func TestGetHistoryCacheMissReadsStore(t *testing.T) {
	f := newChatFixture(nil)
	f.messages.list = historyOf(2)

	got, err := f.svc.GetHistory(context.Background(), "u1", 10)

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 10, f.messages.gotLimit)
	assert.Len(t, f.history.set, 1)
}

func TestGetHistoryWithoutCache(t *testing.T) {
	f := newChatFixture(nil)
	f.svc = NewChatService(f.users, f.messages, nil, f.llm, nil, nil,
		ai.ChatConfig{BaseURL: "http://llm.local", Model: "chat-model"}, "", 0)
	f.messages.list = historyOf(2)

	got, err := f.svc.GetHistory(context.Background(), "u1", 10)

	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestGetHistoryRequiresUser(t *testing.T) {
	f := newChatFixture(nil)

	_, err := f.svc.GetHistory(context.Background(), "", 10)

	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetHistoryStoreErrorPropagates(t *testing.T) {
	f := newChatFixture(nil)
	f.messages.err = errors.New("pg down")

	_, err := f.svc.GetHistory(context.Background(), "u1", 10)

	require.Error(t, err)
}
