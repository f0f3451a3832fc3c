// Package openapi turns the operations of an OpenAPI 3 document into tools
// that call the described HTTP API anonymously.
package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sweetpotato0/ai-router/tool"
)

// DefaultMaxResponseBytes bounds the response body handed back to the model.
const DefaultMaxResponseBytes = 32 << 10

// Document is the subset of an OpenAPI 3 document the tool understands.
type Document struct {
	Info struct {
		Title string `json:"title"`
	} `json:"info"`
	Servers []struct {
		URL string `json:"url"`
	} `json:"servers"`
	Paths map[string]PathItem `json:"paths"`
}

// PathItem holds the operations of one path keyed by lower-case HTTP method.
type PathItem map[string]json.RawMessage

// Operation describes one API call.
type Operation struct {
	OperationID string      `json:"operationId"`
	Summary     string      `json:"summary"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// Parameter describes a path, query or header parameter.
type Parameter struct {
	Name        string `json:"name"`
	In          string `json:"in"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Schema      struct {
		Type string   `json:"type"`
		Enum []string `json:"enum"`
	} `json:"schema"`
}

var httpMethods = map[string]string{
	"get":    http.MethodGet,
	"post":   http.MethodPost,
	"put":    http.MethodPut,
	"patch":  http.MethodPatch,
	"delete": http.MethodDelete,
}

// Config configures the tool set.
type Config struct {
	// Name prefixes every generated tool name.
	Name string
	// ServerURL overrides the first server declared by the document.
	ServerURL        string
	MaxResponseBytes int
	HTTPClient       *http.Client
}

// Load reads a JSON OpenAPI document from disk.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("openapi: read spec %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a JSON OpenAPI document.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("openapi: decode spec: %w", err)
	}
	if len(doc.Paths) == 0 {
		return nil, fmt.Errorf("openapi: spec declares no paths")
	}
	return &doc, nil
}

// Tools builds one tool per operation, ordered by tool name.
func Tools(doc *Document, cfg Config) ([]*tool.Tool, error) {
	if doc == nil {
		return nil, fmt.Errorf("openapi: document is nil")
	}
	base := cfg.ServerURL
	if base == "" && len(doc.Servers) > 0 {
		base = doc.Servers[0].URL
	}
	if base == "" {
		return nil, fmt.Errorf("openapi: no server url declared")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	limit := cfg.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}

	var tools []*tool.Tool
	for path, item := range doc.Paths {
		var shared []Parameter
		if raw, ok := item["parameters"]; ok {
			if err := json.Unmarshal(raw, &shared); err != nil {
				return nil, fmt.Errorf("openapi: decode parameters of %s: %w", path, err)
			}
		}
		for key, raw := range item {
			method, ok := httpMethods[strings.ToLower(key)]
			if !ok {
				continue
			}
			var op Operation
			if err := json.Unmarshal(raw, &op); err != nil {
				return nil, fmt.Errorf("openapi: decode %s %s: %w", key, path, err)
			}
			params := mergeParameters(shared, op.Parameters)
			inv := &invoker{client: client, base: strings.TrimRight(base, "/"), method: method, path: path, params: params, limit: limit}
			tools = append(tools, &tool.Tool{
				Name:        toolName(cfg.Name, op.OperationID, method, path),
				Description: describe(op, method, path),
				Parameters:  toolParameters(params),
				Handler:     inv.call,
			})
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

func mergeParameters(shared, own []Parameter) []Parameter {
	merged := make([]Parameter, 0, len(shared)+len(own))
	seen := make(map[string]bool, len(own))
	for _, p := range own {
		seen[p.In+":"+p.Name] = true
	}
	for _, p := range shared {
		if !seen[p.In+":"+p.Name] {
			merged = append(merged, p)
		}
	}
	return append(merged, own...)
}

var invalidToolChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func toolName(prefix, operationID, method, path string) string {
	name := operationID
	if name == "" {
		name = strings.ToLower(method) + "_" + path
	}
	if prefix != "" {
		name = prefix + "_" + name
	}
	name = strings.Trim(invalidToolChars.ReplaceAllString(name, "_"), "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

func describe(op Operation, method, path string) string {
	desc := strings.TrimSpace(op.Summary)
	if d := strings.TrimSpace(op.Description); d != "" {
		if desc != "" {
			desc += ". "
		}
		desc += d
	}
	if desc == "" {
		desc = fmt.Sprintf("%s %s", method, path)
	}
	return desc
}

func toolParameters(params []Parameter) []tool.Parameter {
	out := make([]tool.Parameter, 0, len(params))
	for _, p := range params {
		if p.In != "path" && p.In != "query" {
			continue
		}
		typ := p.Schema.Type
		if typ == "" {
			typ = "string"
		}
		out = append(out, tool.Parameter{
			Name:        p.Name,
			Type:        typ,
			Description: p.Description,
			Required:    p.Required || p.In == "path",
			Enum:        p.Schema.Enum,
		})
	}
	return out
}

type invoker struct {
	client *http.Client
	base   string
	method string
	path   string
	params []Parameter
	limit  int
}

func (i *invoker) call(ctx context.Context, args map[string]any) (string, error) {
	path := i.path
	query := url.Values{}
	for _, p := range i.params {
		value, ok := args[p.Name]
		if !ok || value == nil {
			continue
		}
		text := fmt.Sprint(value)
		switch p.In {
		case "path":
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(text))
		case "query":
			query.Set(p.Name, text)
		}
	}

	target := i.base + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, i.method, target, nil)
	if err != nil {
		return "", fmt.Errorf("openapi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openapi: %s %s: %w", i.method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(i.limit)+1))
	if err != nil {
		return "", fmt.Errorf("openapi: read response: %w", err)
	}
	truncated := len(body) > i.limit
	if truncated {
		cut := i.limit
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("openapi: %s %s returned status %d: %s", i.method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	text := string(body)
	if truncated {
		text += "\n[response truncated]"
	}
	return text, nil
}
