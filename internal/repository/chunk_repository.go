package repository

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docuchat/internal/model"
)

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// Upsert writes a chunk keyed by (document_id, chunk_index). Re-ingesting a
// document replaces content, embedding and metadata of existing rows.
func (r *ChunkRepository) Upsert(ctx context.Context, chunk *model.Chunk) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "chunk_index"}},
		UpdateAll: true,
	}).Create(chunk).Error
	if err != nil {
		return fmt.Errorf("upsert chunk failed: %w", err)
	}
	return nil
}

// ChunkMatch pairs a chunk with its cosine similarity to a query vector.
type ChunkMatch struct {
	model.Chunk
	Score float64
}

// SearchByVector returns the closest chunks first. Similarity is
// 1 - cosine distance, so identical direction scores 1.
func (r *ChunkRepository) SearchByVector(ctx context.Context, vector []float32, limit int) ([]ChunkMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(vector)

	var matches []ChunkMatch
	err := r.db.WithContext(ctx).Raw(
		`SELECT *, 1 - (embedding <=> ?) AS score FROM chunks ORDER BY embedding <=> ? LIMIT ?`,
		vec, vec, limit,
	).Scan(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("search chunks by vector failed: %w", err)
	}
	return matches, nil
}

// KeysByDocumentID returns the secondary-index keys of a document's chunks
// in chunk order.
func (r *ChunkRepository) KeysByDocumentID(ctx context.Context, documentID string) ([]string, error) {
	var indexes []int
	err := r.db.WithContext(ctx).Model(&model.Chunk{}).
		Where("document_id = ?", documentID).
		Order("chunk_index").
		Pluck("chunk_index", &indexes).Error
	if err != nil {
		return nil, fmt.Errorf("list chunk keys failed: %w", err)
	}
	keys := make([]string, len(indexes))
	for i, idx := range indexes {
		keys[i] = fmt.Sprintf("%s:%d", documentID, idx)
	}
	return keys, nil
}

func (r *ChunkRepository) DeleteByDocumentID(ctx context.Context, documentID string) error {
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("delete chunks by document failed: %w", err)
	}
	return nil
}
