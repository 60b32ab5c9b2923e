// Package retrieval supplies ranked context snippets for a query. Two
// backends exist: the vector index endpoint and a search-engine fallback;
// either can be wrapped with the redis query cache.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"eloquent/internal/config"
	"eloquent/internal/redis"
)

// Retriever returns a single text blob concatenating up to topK ranked
// snippets for the query. An empty string is a valid no-results response,
// never an error.
type Retriever interface {
	Query(ctx context.Context, text string, topK int) (string, error)
}

// New builds the configured retriever, cached when redis is available.
func New(cfg *config.Config, cache *redis.Client, logger *zap.Logger) (Retriever, error) {
	var inner Retriever
	switch cfg.Retrieval.Mode {
	case "index":
		inner = NewIndexRetriever(cfg.Retrieval)
	case "websearch":
		ws, err := NewWebSearchRetriever(cfg.Retrieval)
		if err != nil {
			return nil, fmt.Errorf("init websearch retriever: %w", err)
		}
		inner = ws
	default:
		return nil, fmt.Errorf("unknown retrieval mode: %s", cfg.Retrieval.Mode)
	}
	if cache.Available() {
		ttl := time.Duration(cfg.Retrieval.CacheTTLMinutes) * time.Minute
		inner = NewCachedRetriever(inner, cache, ttl, logger)
	}
	return inner, nil
}

// IndexRetriever queries the vector index over its REST endpoint.
type IndexRetriever struct {
	endpoint   string
	apiKey     string
	namespace  string
	httpClient *http.Client
}

// NewIndexRetriever builds the index-backed retriever.
func NewIndexRetriever(cfg config.RetrievalConfig) *IndexRetriever {
	return &IndexRetriever{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		namespace:  cfg.Namespace,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type indexQueryRequest struct {
	Query     indexQueryPayload `json:"query"`
	Namespace string            `json:"namespace"`
}

type indexQueryPayload struct {
	Inputs map[string]string `json:"inputs"`
	TopK   int               `json:"top_k"`
}

type indexQueryResponse struct {
	Result struct {
		Hits []struct {
			ID     string            `json:"_id"`
			Fields map[string]string `json:"fields"`
		} `json:"hits"`
	} `json:"result"`
}

// Query posts the search and formats each hit as a labeled snippet.
func (r *IndexRetriever) Query(ctx context.Context, text string, topK int) (string, error) {
	body, err := json.Marshal(indexQueryRequest{
		Query: indexQueryPayload{
			Inputs: map[string]string{"text": text},
			TopK:   topK,
		},
		Namespace: r.namespace,
	})
	if err != nil {
		return "", fmt.Errorf("marshal index query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/records/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Api-Key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("query index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("index returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed indexQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode index response: %w", err)
	}

	var docs strings.Builder
	for _, hit := range parsed.Result.Hits {
		id := hit.ID
		if id == "" {
			id = "unknown"
		}
		category := hit.Fields["category"]
		if category == "" {
			category = "unknown"
		}
		fmt.Fprintf(&docs, "Source: %s\nCategory: %s\nText: %s\n\n", id, category, hit.Fields["text"])
	}
	return docs.String(), nil
}
