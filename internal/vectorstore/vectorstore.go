package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Record is the canonical shape both backing stores accept. Key doubles as
// the secondary-index document id so hits from either store resolve to the
// same chunk.
type Record struct {
	Key        string
	DocumentID string
	ChunkIndex int
	Content    string
	Vector     []float32
	Metadata   map[string]string
}

// Match is the canonical search hit, regardless of which store produced it.
// Score is similarity, closest first, 1 meaning identical direction.
type Match struct {
	Key      string
	Content  string
	Metadata map[string]string
	Score    float64
}

// StoreResult reports a completed write plus any non-fatal issues collected
// along the way. Warnings never indicate data loss in the primary store.
type StoreResult struct {
	Warnings []string
}

// Primary is the authoritative relational store.
type Primary interface {
	Upsert(ctx context.Context, rec Record) error
	Search(ctx context.Context, vector []float32, topK int) ([]Match, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// Secondary is the optional shadow vector index, written best-effort and
// read only when the primary comes up empty.
type Secondary interface {
	Upsert(ctx context.Context, rec Record) error
	Search(ctx context.Context, vector []float32, topK int) ([]Match, error)
	Delete(ctx context.Context, keys []string) error
}

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// DualStore coordinates the two stores. Primary failures are fatal to the
// operation; secondary failures degrade to warnings.
type DualStore struct {
	primary   Primary
	secondary Secondary
	dimension int
}

// NewDualStore wires the stores together. secondary may be nil when no
// shadow index is configured.
func NewDualStore(primary Primary, secondary Secondary, dimension int) *DualStore {
	return &DualStore{primary: primary, secondary: secondary, dimension: dimension}
}

func (s *DualStore) validate(vec []float32) error {
	if len(vec) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dimension)
	}
	return nil
}

// Store upserts the record into the primary store, then mirrors it into the
// secondary index when one is configured. Storing the same key again
// replaces content, vector and metadata in place.
func (s *DualStore) Store(ctx context.Context, rec Record) (*StoreResult, error) {
	if err := s.validate(rec.Vector); err != nil {
		return nil, err
	}
	if err := s.primary.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("primary store upsert failed: %w", err)
	}

	res := &StoreResult{}
	if s.secondary != nil {
		if err := s.secondary.Upsert(ctx, rec); err != nil {
			warn := fmt.Sprintf("secondary index upsert %s: %v", rec.Key, err)
			res.Warnings = append(res.Warnings, warn)
			log.Printf("vector store: %s", warn)
		}
	}
	return res, nil
}

// Search returns the primary store's closest matches. Only when the primary
// yields zero rows is the secondary consulted; results are never merged
// across stores.
func (s *DualStore) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if err := s.validate(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	matches, err := s.primary.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("primary store search failed: %w", err)
	}
	if len(matches) > 0 || s.secondary == nil {
		return matches, nil
	}

	fallback, err := s.secondary.Search(ctx, vector, topK)
	if err != nil {
		log.Printf("vector store: secondary index search failed: %v", err)
		return matches, nil
	}
	return fallback, nil
}

// DeleteDocument removes a document's chunks from the primary store and
// best-effort purges the named keys from the secondary index.
func (s *DualStore) DeleteDocument(ctx context.Context, documentID string, keys []string) (*StoreResult, error) {
	if err := s.primary.DeleteDocument(ctx, documentID); err != nil {
		return nil, fmt.Errorf("primary store delete failed: %w", err)
	}

	res := &StoreResult{}
	if s.secondary != nil && len(keys) > 0 {
		if err := s.secondary.Delete(ctx, keys); err != nil {
			warn := fmt.Sprintf("secondary index delete %s: %v", documentID, err)
			res.Warnings = append(res.Warnings, warn)
			log.Printf("vector store: %s", warn)
		}
	}
	return res, nil
}
