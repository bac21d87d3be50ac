package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// EmbeddingConfig holds API settings for text embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Dimension     int
	MaxInputChars int
}

// Reasons an embedding call can fail, carried by EmbeddingError.
const (
	ReasonEmptyInput   = "input is empty"
	ReasonNoCredential = "api key is missing"
	ReasonTransport    = "request failed"
	ReasonBadStatus    = "unexpected status"
	ReasonEmptyVector  = "no vector in response"
	ReasonDimension    = "dimension mismatch"
)

type EmbeddingError struct {
	Reason string
	Err    error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding failed: %s: %v", e.Reason, e.Err)
	}
	return "embedding failed: " + e.Reason
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeInput collapses whitespace runs, trims, and truncates to
// maxChars runes so oversized chunks cannot blow the provider's input cap.
func normalizeInput(text string, maxChars int) string {
	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	if maxChars > 0 {
		if r := []rune(text); len(r) > maxChars {
			text = strings.TrimSpace(string(r[:maxChars]))
		}
	}
	return text
}

// Embed returns the embedding vector for the given text. One service call
// per invocation; retrying is the caller's policy. The returned vector is
// checked against cfg.Dimension before anything downstream sees it.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, cfg EmbeddingConfig, text string) ([]float32, error) {
	input := normalizeInput(text, cfg.MaxInputChars)
	if input == "" {
		return nil, &EmbeddingError{Reason: ReasonEmptyInput}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &EmbeddingError{Reason: ReasonNoCredential}
	}

	reqBody := map[string]interface{}{
		"model": cfg.Model,
		"input": input,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &EmbeddingError{Reason: ReasonTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	client := c.httpClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &EmbeddingError{Reason: ReasonTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &EmbeddingError{Reason: ReasonTransport, Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &EmbeddingError{
			Reason: ReasonBadStatus,
			Err:    fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)),
		}
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &EmbeddingError{Reason: ReasonEmptyVector, Err: err}
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, &EmbeddingError{Reason: ReasonEmptyVector}
	}

	vec := parsed.Data[0].Embedding
	if cfg.Dimension > 0 && len(vec) != cfg.Dimension {
		return nil, &EmbeddingError{
			Reason: ReasonDimension,
			Err:    fmt.Errorf("got %d, want %d", len(vec), cfg.Dimension),
		}
	}
	return vec, nil
}
