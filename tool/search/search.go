// Package search implements the Azure AI Search tool bound to the document
// specialist.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sweetpotato0/ai-router/tool"
)

// NoResults is the fixed answer returned when the index yields nothing or the
// tool has no usable connection.
const NoResults = "I could not find any content for you, sorry."

// APIVersion is the Azure AI Search REST API version used for queries.
const APIVersion = "2023-11-01"

// DefaultMaxResponseBytes caps the size of a search response body.
const DefaultMaxResponseBytes = 4 << 20

// Config describes the index the tool queries.
type Config struct {
	Name       string
	Endpoint   string
	APIKey     string
	IndexName  string
	Top        int
	HTTPClient *http.Client
	// MaxResponseBytes defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int
}

// Tool queries an Azure AI Search index.
type Tool struct {
	cfg    Config
	client *http.Client
}

// New creates a search tool. An empty endpoint or index yields a degraded tool
// that always answers NoResults.
func New(cfg Config) *Tool {
	if cfg.Name == "" {
		cfg.Name = "azure_search"
	}
	if cfg.Top <= 0 {
		cfg.Top = 5
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Tool{cfg: cfg, client: client}
}

// Degraded reports whether the tool has no index to query.
func (t *Tool) Degraded() bool {
	return strings.TrimSpace(t.cfg.Endpoint) == "" || strings.TrimSpace(t.cfg.IndexName) == ""
}

// Definition returns the tool registration for an agent.
func (t *Tool) Definition(description string) *tool.Tool {
	if description == "" {
		description = "Search the licensing knowledge base and return the most relevant passages."
	}
	return &tool.Tool{
		Name:        t.cfg.Name,
		Description: description,
		Parameters: []tool.Parameter{
			{Name: "query", Type: "string", Description: "Full-text search query", Required: true},
		},
		Handler: t.handle,
	}
}

func (t *Tool) handle(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	return t.Search(ctx, query)
}

type searchRequest struct {
	Search string `json:"search"`
	Top    int    `json:"top"`
}

type searchResponse struct {
	Value []map[string]any `json:"value"`
}

// contentFields are checked in order for the passage text of a hit.
var contentFields = []string{"content", "chunk", "text", "merged_content"}

// Search runs a full-text query and returns the cleaned passages.
func (t *Tool) Search(ctx context.Context, query string) (string, error) {
	if t.Degraded() || strings.TrimSpace(query) == "" {
		return NoResults, nil
	}

	body, err := json.Marshal(searchRequest{Search: query, Top: t.cfg.Top})
	if err != nil {
		return "", fmt.Errorf("search: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		strings.TrimRight(t.cfg.Endpoint, "/"), url.PathEscape(t.cfg.IndexName), APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("search: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("api-key", t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.cfg.MaxResponseBytes)+1))
	if err != nil {
		return "", fmt.Errorf("search: read response: %w", err)
	}
	if len(raw) > t.cfg.MaxResponseBytes {
		return "", fmt.Errorf("search: index %s response exceeds %d bytes", t.cfg.IndexName, t.cfg.MaxResponseBytes)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search: index %s returned status %d: %s", t.cfg.IndexName, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded searchResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("search: decode response: %w", err)
	}

	var passages []string
	for _, hit := range decoded.Value {
		for _, field := range contentFields {
			if text, ok := hit[field].(string); ok && strings.TrimSpace(text) != "" {
				if cleaned := htmlToText(text); cleaned != "" {
					passages = append(passages, cleaned)
				}
				break
			}
		}
	}
	if len(passages) == 0 {
		return NoResults, nil
	}
	return strings.Join(passages, "\n\n---\n\n"), nil
}
