package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingDim is the width of the chunk vector column. Changing the
// embedding model requires a column migration and a re-embed of every
// stored chunk, so the value is fixed here rather than read from config.
const EmbeddingDim = 1536

// Chunk is one embedded slice of a document's extracted text, the unit of
// retrieval. Uniqueness is (document_id, chunk_index); re-ingesting the same
// document replaces rows in place instead of accumulating duplicates.
type Chunk struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	DocumentID string          `gorm:"size:64;not null;uniqueIndex:idx_chunks_doc_ordinal,priority:1" json:"document_id"`
	ChunkIndex int             `gorm:"not null;uniqueIndex:idx_chunks_doc_ordinal,priority:2" json:"chunk_index"`
	Content    string          `gorm:"type:text;not null" json:"content"`
	Embedding  pgvector.Vector `gorm:"type:vector(1536)" json:"-"`
	Metadata   string          `gorm:"type:text" json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Key returns the chunk's stable identifier, shared with the secondary
// vector index so hits from either store resolve to the same chunk.
func (c *Chunk) Key() string {
	return fmt.Sprintf("%s:%d", c.DocumentID, c.ChunkIndex)
}

// SetMetadata stores the given attributes as a JSON object.
func (c *Chunk) SetMetadata(meta map[string]string) error {
	if len(meta) == 0 {
		c.Metadata = ""
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal chunk metadata failed: %w", err)
	}
	c.Metadata = string(data)
	return nil
}

// MetadataMap parses the stored metadata JSON. An empty or unparsable
// payload yields an empty map.
func (c *Chunk) MetadataMap() map[string]string {
	meta := make(map[string]string)
	if c.Metadata == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(c.Metadata), &meta); err != nil {
		return make(map[string]string)
	}
	return meta
}
