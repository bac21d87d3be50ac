package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"docuchat/internal/ai"
	"docuchat/internal/model"
	"docuchat/internal/pkg/chunker"
	"docuchat/internal/pkg/extract"
	"docuchat/internal/vectorstore"
	"docuchat/internal/vision"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmptyFile         = errors.New("uploaded file is empty")
	ErrFileTooLarge      = errors.New("uploaded file exceeds the size limit")
	ErrNoExtractableText = errors.New("no extractable text in file")
	ErrDocumentNotFound  = errors.New("document not found")
)

// UserStore is the owner-provisioning surface shared by ingestion and chat.
type UserStore interface {
	Ensure(ctx context.Context, user *model.User) error
}

type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	ListByUserID(ctx context.Context, userID string) ([]model.Document, error)
	GetByIDAndUserID(ctx context.Context, id, userID string) (*model.Document, error)
	Delete(ctx context.Context, id string) error
}

type ChunkKeyLister interface {
	KeysByDocumentID(ctx context.Context, documentID string) ([]string, error)
}

// Embedder turns text into a vector; satisfied by ai.OpenAICompatibleClient.
type Embedder interface {
	Embed(ctx context.Context, cfg ai.EmbeddingConfig, input string) ([]float32, error)
}

// VectorStore is the write side of the dual store used during ingestion.
type VectorStore interface {
	Store(ctx context.Context, rec vectorstore.Record) (*vectorstore.StoreResult, error)
	DeleteDocument(ctx context.Context, documentID string, keys []string) (*vectorstore.StoreResult, error)
}

// ImageClassifier labels an uploaded image so it becomes retrievable text.
type ImageClassifier interface {
	Classify(imageData []byte) ([]vision.LabelScore, error)
}

// IngestOptions carries the chunking and upload limits from configuration.
type IngestOptions struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkChars  int
	MaxUploadBytes int64
}

type IngestService struct {
	users      UserStore
	documents  DocumentStore
	chunkKeys  ChunkKeyLister
	extractor  *extract.Extractor
	embedder   Embedder
	store      VectorStore
	classifier ImageClassifier
	embCfg     ai.EmbeddingConfig
	opts       IngestOptions
}

// NewIngestService wires the ingestion pipeline. classifier may be nil, in
// which case image uploads store without a retrievable chunk.
func NewIngestService(
	users UserStore,
	documents DocumentStore,
	chunkKeys ChunkKeyLister,
	extractor *extract.Extractor,
	embedder Embedder,
	store VectorStore,
	classifier ImageClassifier,
	embCfg ai.EmbeddingConfig,
	opts IngestOptions,
) *IngestService {
	return &IngestService{
		users:      users,
		documents:  documents,
		chunkKeys:  chunkKeys,
		extractor:  extractor,
		embedder:   embedder,
		store:      store,
		classifier: classifier,
		embCfg:     embCfg,
		opts:       opts,
	}
}

type IngestInput struct {
	UserID   string
	Email    string
	Name     string
	FileName string
	MIMEType string
	Data     []byte
}

type IngestResult struct {
	DocumentID   string `json:"document_id"`
	FileName     string `json:"file_name"`
	MIMEType     string `json:"mime_type"`
	ChunksStored int    `json:"chunks_stored"`
	ChunksFailed int    `json:"chunks_failed"`
	Preview      string `json:"preview"`
}

// Ingest extracts, chunks, embeds, and persists one uploaded file. Chunk
// failures are counted rather than fatal, so a partially indexed document
// still reports success with accurate stored/failed counts.
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if input.UserID == "" {
		return nil, ErrInvalidInput
	}
	if len(input.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if s.opts.MaxUploadBytes > 0 && int64(len(input.Data)) > s.opts.MaxUploadBytes {
		return nil, ErrFileTooLarge
	}

	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		fileName = "untitled"
	}
	mimeType := extract.NormalizeMIME(input.MIMEType)

	// The owner row must exist before the document insert.
	user := &model.User{ID: input.UserID, Email: input.Email, DisplayName: input.Name}
	if err := s.users.Ensure(ctx, user); err != nil {
		return nil, err
	}

	text, err := s.extractor.Extract(input.Data, mimeType)
	if err != nil {
		return nil, err
	}
	isImage := extract.IsImage(mimeType)
	if !isImage && strings.TrimSpace(text) == "" {
		return nil, ErrNoExtractableText
	}

	doc := &model.Document{
		ID:        uuid.NewString(),
		UserID:    input.UserID,
		FileName:  fileName,
		MIMEType:  mimeType,
		SizeBytes: int64(len(input.Data)),
		Content:   text,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	var chunks []string
	kind := "text"
	if isImage {
		kind = "image"
		chunks = s.imageChunks(input.Data)
	} else {
		chunks = chunker.Split(text, s.opts.ChunkSize, s.opts.ChunkOverlap, s.opts.MinChunkChars)
	}

	metadata := map[string]string{
		"file_name":   fileName,
		"mime_type":   mimeType,
		"uploaded_at": doc.CreatedAt.UTC().Format(time.RFC3339),
		"kind":        kind,
	}

	stored, failed := 0, 0
	for i, content := range chunks {
		vector, err := s.embedder.Embed(ctx, s.embCfg, content)
		if err != nil {
			failed++
			log.Printf("ingest %s: embed chunk %d failed: %v", doc.ID, i, err)
			continue
		}
		rec := vectorstore.Record{
			Key:        fmt.Sprintf("%s:%d", doc.ID, i),
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    content,
			Vector:     vector,
			Metadata:   metadata,
		}
		if _, err := s.store.Store(ctx, rec); err != nil {
			failed++
			log.Printf("ingest %s: store chunk %d failed: %v", doc.ID, i, err)
			continue
		}
		stored++
	}

	return &IngestResult{
		DocumentID:   doc.ID,
		FileName:     fileName,
		MIMEType:     mimeType,
		ChunksStored: stored,
		ChunksFailed: failed,
		Preview:      preview(text, 200),
	}, nil
}

// ListDocuments returns the owner's documents, newest first, without bodies.
func (s *IngestService) ListDocuments(ctx context.Context, userID string) ([]model.Document, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return s.documents.ListByUserID(ctx, userID)
}

// DeleteDocument removes a document the caller owns along with its chunks
// and their secondary-index entries.
func (s *IngestService) DeleteDocument(ctx context.Context, userID, documentID string) error {
	if userID == "" || documentID == "" {
		return ErrInvalidInput
	}
	doc, err := s.documents.GetByIDAndUserID(ctx, documentID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	keys, err := s.chunkKeys.KeysByDocumentID(ctx, documentID)
	if err != nil {
		return err
	}
	if _, err := s.store.DeleteDocument(ctx, documentID, keys); err != nil {
		return err
	}
	return s.documents.Delete(ctx, documentID)
}

// imageChunks derives retrievable text for an image upload from classifier
// labels. Without a classifier the image stores with zero chunks.
func (s *IngestService) imageChunks(imageData []byte) []string {
	if s.classifier == nil {
		return nil
	}
	labels, err := s.classifier.Classify(imageData)
	if err != nil {
		log.Printf("ingest: classify image failed: %v", err)
		return nil
	}
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Label)
	}
	return []string{"Image depicting: " + strings.Join(names, ", ")}
}

func preview(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
