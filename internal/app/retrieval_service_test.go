package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/ai"
	"docuchat/internal/vectorstore"
)

type fakeEmbedder struct {
	vector     []float32
	err        error
	failInputs map[string]error
	calls      int
	lastInput  string
}

func (f *fakeEmbedder) Embed(_ context.Context, _ ai.EmbeddingConfig, input string) ([]float32, error) {
	f.calls++
	f.lastInput = input
	if err, ok := f.failInputs[input]; ok {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.vector != nil {
		return f.vector, nil
	}
	return []float32{0.5, 0.5}, nil
}

type fakeSearcher struct {
	matches []vectorstore.Match
	err     error
	calls   int
	gotTopK int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, topK int) ([]vectorstore.Match, error) {
	f.calls++
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func newRetrievalFixture(matches []vectorstore.Match) (*RetrievalService, *fakeEmbedder, *fakeSearcher) {
	embedder := &fakeEmbedder{}
	store := &fakeSearcher{matches: matches}
	svc := NewRetrievalService(embedder, store, ai.EmbeddingConfig{}, 0, 0, "")
	return svc, embedder, store
}

func TestRetrieveContextEmptyQuerySkipsEmbedding(t *testing.T) {
	svc, embedder, store := newRetrievalFixture(nil)

	assert.Equal(t, "", svc.RetrieveContext(context.Background(), ""))
	assert.Equal(t, "", svc.RetrieveContext(context.Background(), "  \n\t "))
	assert.Zero(t, embedder.calls)
	assert.Zero(t, store.calls)
}

func TestRetrieveContextEmbedsRewrittenQuery(t *testing.T) {
	svc, embedder, _ := newRetrievalFixture(nil)

	svc.RetrieveContext(context.Background(), "what is the refund policy")

	require.Equal(t, 1, embedder.calls)
	assert.Contains(t, embedder.lastInput, "what is the refund policy")
	assert.NotEqual(t, "what is the refund policy", embedder.lastInput)
}

func TestRetrieveContextCustomTemplateWithoutPlaceholder(t *testing.T) {
	embedder := &fakeEmbedder{}
	svc := NewRetrievalService(embedder, &fakeSearcher{}, ai.EmbeddingConfig{}, 0, 0, "Summarize the relevant passage.")

	svc.RetrieveContext(context.Background(), "vacation days")

	assert.Equal(t, "Summarize the relevant passage. vacation days", embedder.lastInput)
}

func TestRetrieveContextRanksPhraseMatchFirst(t *testing.T) {
	matches := []vectorstore.Match{
		{Key: "a:0", Content: "Clouds are made of water vapor.", Score: 0.99},
		{Key: "b:0", Content: "Why is the sky blue? Rayleigh scattering.", Score: 0.42},
		{Key: "c:0", Content: "The sky looks blue at noon.", Score: 0.40},
	}
	embedder := &fakeEmbedder{}
	svc := NewRetrievalService(embedder, &fakeSearcher{matches: matches}, ai.EmbeddingConfig{}, 2, 10, "")

	got := svc.RetrieveContext(context.Background(), "why is the sky blue")

	want := "Why is the sky blue? Rayleigh scattering.\n\nThe sky looks blue at noon."
	assert.Equal(t, want, got)
}

func TestRetrieveContextKeepsVectorOrderOnTies(t *testing.T) {
	matches := []vectorstore.Match{
		{Key: "a:0", Content: "alpha"},
		{Key: "b:0", Content: "beta"},
		{Key: "c:0", Content: "gamma"},
	}
	embedder := &fakeEmbedder{}
	svc := NewRetrievalService(embedder, &fakeSearcher{matches: matches}, ai.EmbeddingConfig{}, 2, 10, "")

	got := svc.RetrieveContext(context.Background(), "zzz qqq")

	assert.Equal(t, "alpha\n\nbeta", got)
}

func TestRetrieveContextOverFetchesThenTrims(t *testing.T) {
	matches := make([]vectorstore.Match, 8)
	for i := range matches {
		matches[i] = vectorstore.Match{Content: strings.Repeat("x", i+1)}
	}
	embedder := &fakeEmbedder{}
	store := &fakeSearcher{matches: matches}
	svc := NewRetrievalService(embedder, store, ai.EmbeddingConfig{}, 3, 10, "")

	got := svc.RetrieveContext(context.Background(), "anything")

	assert.Equal(t, 10, store.gotTopK)
	assert.Len(t, strings.Split(got, "\n\n"), 3)
}

func TestRetrieveContextSkipsBlankChunks(t *testing.T) {
	matches := []vectorstore.Match{
		{Content: "   "},
		{Content: "real content"},
		{Content: ""},
	}
	svc, _, _ := newRetrievalFixture(matches)

	assert.Equal(t, "real content", svc.RetrieveContext(context.Background(), "real"))
}

func TestRetrieveContextDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeEmbedder, *fakeSearcher)
	}{
		{"embed failure", func(e *fakeEmbedder, _ *fakeSearcher) { e.err = errors.New("api down") }},
		{"search failure", func(_ *fakeEmbedder, s *fakeSearcher) { s.err = errors.New("pg down") }},
		{"no matches", func(_ *fakeEmbedder, _ *fakeSearcher) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, embedder, store := newRetrievalFixture(nil)
			tt.setup(embedder, store)

			assert.Equal(t, "", svc.RetrieveContext(context.Background(), "question"))
		})
	}
}

func TestNewRetrievalServiceDefaults(t *testing.T) {
	svc := NewRetrievalService(nil, nil, ai.EmbeddingConfig{}, 0, 0, "")
	assert.Equal(t, DefaultRetrievalTopK, svc.topK)
	assert.Equal(t, DefaultRetrievalFetchK, svc.fetchK)
	assert.Equal(t, DefaultQueryTemplate, svc.template)

	svc = NewRetrievalService(nil, nil, ai.EmbeddingConfig{}, 7, 3, "")
	assert.Equal(t, 7, svc.topK)
	assert.Equal(t, 7, svc.fetchK)
}
