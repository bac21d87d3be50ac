package vectorstore

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"docuchat/internal/model"
	"docuchat/internal/repository"
)

// PostgresPrimary adapts the chunk repository to the canonical record and
// match shapes. It is the authoritative side of the dual store.
type PostgresPrimary struct {
	chunks *repository.ChunkRepository
}

func NewPostgresPrimary(chunks *repository.ChunkRepository) *PostgresPrimary {
	return &PostgresPrimary{chunks: chunks}
}

func (p *PostgresPrimary) Upsert(ctx context.Context, rec Record) error {
	chunk := &model.Chunk{
		DocumentID: rec.DocumentID,
		ChunkIndex: rec.ChunkIndex,
		Content:    rec.Content,
		Embedding:  pgvector.NewVector(rec.Vector),
	}
	if err := chunk.SetMetadata(rec.Metadata); err != nil {
		return err
	}
	return p.chunks.Upsert(ctx, chunk)
}

func (p *PostgresPrimary) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	rows, err := p.chunks.SearchByVector(ctx, vector, topK)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(rows))
	for i := range rows {
		matches = append(matches, Match{
			Key:      rows[i].Chunk.Key(),
			Content:  rows[i].Chunk.Content,
			Metadata: rows[i].Chunk.MetadataMap(),
			Score:    rows[i].Score,
		})
	}
	return matches, nil
}

func (p *PostgresPrimary) DeleteDocument(ctx context.Context, documentID string) error {
	return p.chunks.DeleteByDocumentID(ctx, documentID)
}
