package vectorstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisIndex mirrors chunk vectors into a RediSearch index over hashes.
// It is the best-effort shadow store; the relational store stays
// authoritative.
type RedisIndex struct {
	client    *redis.Client
	indexName string
	keyPrefix string
	dimension int
}

func NewRedisIndex(client *redis.Client, indexName, keyPrefix string, dimension int) *RedisIndex {
	return &RedisIndex{
		client:    client,
		indexName: indexName,
		keyPrefix: keyPrefix,
		dimension: dimension,
	}
}

// EnsureIndex creates the vector index unless it already exists.
func (r *RedisIndex) EnsureIndex(ctx context.Context) error {
	err := r.client.FTCreate(ctx, r.indexName,
		&redis.FTCreateOptions{
			OnHash: true,
			Prefix: []interface{}{r.keyPrefix},
		},
		&redis.FieldSchema{
			FieldName: "content",
			FieldType: redis.SearchFieldTypeText,
		},
		&redis.FieldSchema{
			FieldName: "document_id",
			FieldType: redis.SearchFieldTypeTag,
		},
		&redis.FieldSchema{
			FieldName: "embedding",
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{
				FlatOptions: &redis.FTFlatOptions{
					Type:           "FLOAT32",
					Dim:            r.dimension,
					DistanceMetric: "COSINE",
				},
			},
		},
	).Err()
	if err != nil && !isIndexExistsErr(err) {
		return fmt.Errorf("create vector index failed: %w", err)
	}
	return nil
}

func isIndexExistsErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "index already exists")
}

func (r *RedisIndex) key(k string) string { return r.keyPrefix + k }

func (r *RedisIndex) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Vector) != r.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Vector), r.dimension)
	}

	fields := map[string]interface{}{
		"content":     rec.Content,
		"document_id": rec.DocumentID,
		"chunk_index": rec.ChunkIndex,
		"embedding":   vectorBytes(rec.Vector),
	}
	for k, v := range rec.Metadata {
		fields["meta_"+k] = v
	}
	if err := r.client.HSet(ctx, r.key(rec.Key), fields).Err(); err != nil {
		return fmt.Errorf("index upsert failed: %w", err)
	}
	return nil
}

func (r *RedisIndex) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if len(vector) != r.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), r.dimension)
	}

	query := fmt.Sprintf("*=>[KNN %d @embedding $vec AS distance]", topK)
	res, err := r.client.FTSearchWithArgs(ctx, r.indexName, query, &redis.FTSearchOptions{
		SortBy:         []redis.FTSearchSortBy{{FieldName: "distance", Asc: true}},
		DialectVersion: 2,
		Limit:          topK,
		Params: map[string]interface{}{
			"vec": vectorBytes(vector),
		},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}

	matches := make([]Match, 0, len(res.Docs))
	for _, doc := range res.Docs {
		matches = append(matches, r.toMatch(doc))
	}
	return matches, nil
}

// toMatch translates a RediSearch hash document into the canonical match
// shape, converting KNN distance back into similarity.
func (r *RedisIndex) toMatch(doc redis.Document) Match {
	m := Match{
		Key:      strings.TrimPrefix(doc.ID, r.keyPrefix),
		Metadata: make(map[string]string),
	}
	for field, value := range doc.Fields {
		switch field {
		case "content":
			m.Content = value
		case "distance":
			if d, err := strconv.ParseFloat(value, 64); err == nil {
				m.Score = 1 - d
			}
		case "embedding":
			// raw vector blob, not useful to callers
		case "document_id", "chunk_index":
			m.Metadata[field] = value
		default:
			m.Metadata[strings.TrimPrefix(field, "meta_")] = value
		}
	}
	return m
}

func (r *RedisIndex) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("index delete failed: %w", err)
	}
	return nil
}

// vectorBytes encodes float32s little-endian, the layout RediSearch expects
// for FLOAT32 vector fields.
func vectorBytes(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
