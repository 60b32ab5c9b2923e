package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"

	"eloquent/internal/config"
)

// WebSearchRetriever backs context retrieval with public search engines.
// Google is preferred when credentials are configured; DuckDuckGo needs no
// token and serves as the fallback.
type WebSearchRetriever struct {
	google tool.InvokableTool
	duck   tool.InvokableTool
}

// NewWebSearchRetriever constructs the search tools.
func NewWebSearchRetriever(cfg config.RetrievalConfig) (*WebSearchRetriever, error) {
	maxResults := cfg.TopK
	if maxResults <= 0 || maxResults > 10 {
		maxResults = 5
	}

	duckTool, err := duckduckgo.NewTextSearchTool(context.Background(), &duckduckgo.Config{
		ToolName:   "context_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: maxResults,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init duckduckgo tool: %w", err)
	}

	r := &WebSearchRetriever{duck: duckTool}

	apiKey := os.Getenv("GOOGLE_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey != "" && engineID != "" {
		googleTool, err := googlesearch.NewTool(context.Background(), &googlesearch.Config{
			ToolName:       "context_search_google",
			ToolDesc:       "Google Search Tool",
			APIKey:         apiKey,
			SearchEngineID: engineID,
			Lang:           "en",
			Num:            maxResults,
		})
		if err != nil {
			return nil, fmt.Errorf("init google search tool: %w", err)
		}
		r.google = googleTool
	}

	return r, nil
}

// Query runs the search and wraps the raw result as a single labeled
// snippet. A query with no results yields an empty string.
func (r *WebSearchRetriever) Query(ctx context.Context, text string, topK int) (string, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return "", nil
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	var lastErr error
	for _, t := range []tool.InvokableTool{r.google, r.duck} {
		if t == nil {
			continue
		}
		result, err := t.InvokableRun(ctx, payload)
		if err != nil {
			lastErr = err
			continue
		}
		result = strings.TrimSpace(result)
		if result == "" {
			return "", nil
		}
		return fmt.Sprintf("Source: web\nCategory: search\nText: %s\n\n", result), nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("web search: %w", lastErr)
	}
	return "", errors.New("no search provider configured")
}
