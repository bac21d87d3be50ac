package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"docuchat/internal/ai"
	"docuchat/internal/vectorstore"
)

const (
	DefaultRetrievalTopK   = 5
	DefaultRetrievalFetchK = 10

	// DefaultQueryTemplate biases the embedding toward extraction rather
	// than conversation before the query is vectorized.
	DefaultQueryTemplate = "Use the document content to answer. Extract the information most relevant to this question: %s"
)

// VectorSearcher is the read side of the dual store used at retrieval time.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.Match, error)
}

// RetrievalService turns a chat question into grounding text from stored chunks.
type RetrievalService struct {
	embedder Embedder
	store    VectorSearcher
	embCfg   ai.EmbeddingConfig
	topK     int
	fetchK   int
	template string
}

func NewRetrievalService(embedder Embedder, store VectorSearcher, embCfg ai.EmbeddingConfig, topK, fetchK int, queryTemplate string) *RetrievalService {
	if topK <= 0 {
		topK = DefaultRetrievalTopK
	}
	if fetchK <= 0 {
		fetchK = DefaultRetrievalFetchK
	}
	if fetchK < topK {
		fetchK = topK
	}
	if strings.TrimSpace(queryTemplate) == "" {
		queryTemplate = DefaultQueryTemplate
	}
	return &RetrievalService{
		embedder: embedder,
		store:    store,
		embCfg:   embCfg,
		topK:     topK,
		fetchK:   fetchK,
		template: queryTemplate,
	}
}

// RetrieveContext returns document excerpts relevant to query, joined by
// blank lines, or "" when nothing usable is stored. Failures degrade to ""
// so a chat turn can proceed ungrounded instead of failing.
func (s *RetrievalService) RetrieveContext(ctx context.Context, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	vector, err := s.embedder.Embed(ctx, s.embCfg, s.rewriteQuery(query))
	if err != nil {
		log.Printf("retrieval: embed query failed: %v", err)
		return ""
	}

	matches, err := s.store.Search(ctx, vector, s.fetchK)
	if err != nil {
		log.Printf("retrieval: vector search failed: %v", err)
		return ""
	}
	if len(matches) == 0 {
		return ""
	}

	ranked := rerankByOverlap(matches, query)
	if len(ranked) > s.topK {
		ranked = ranked[:s.topK]
	}

	parts := make([]string, 0, len(ranked))
	for _, m := range ranked {
		if content := strings.TrimSpace(m.Content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (s *RetrievalService) rewriteQuery(query string) string {
	if strings.Contains(s.template, "%s") {
		return fmt.Sprintf(s.template, query)
	}
	return s.template + " " + query
}

type scoredMatch struct {
	vectorstore.Match
	lexical float64
}

// rerankByOverlap reorders similarity matches by lexical overlap with the
// user's original question: a full substring hit dominates, each question
// word found adds a small boost. Ties keep vector-similarity order.
func rerankByOverlap(matches []vectorstore.Match, query string) []vectorstore.Match {
	q := strings.ToLower(strings.TrimSpace(query))
	words := strings.Fields(q)

	scored := make([]scoredMatch, len(matches))
	for i, m := range matches {
		content := strings.ToLower(m.Content)
		var lexical float64
		if q != "" && strings.Contains(content, q) {
			lexical += 1.0
		}
		for _, w := range words {
			if strings.Contains(content, w) {
				lexical += 0.1
			}
		}
		scored[i] = scoredMatch{Match: m, lexical: lexical}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].lexical > scored[j].lexical
	})

	out := make([]vectorstore.Match, len(scored))
	for i, sm := range scored {
		out[i] = sm.Match
	}
	return out
}
