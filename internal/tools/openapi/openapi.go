// Package openapi turns operations of an OpenAPI 3 document into remote
// tools. Each operation with an operationId becomes one tool whose arguments
// map to the operation's query parameters or JSON request body.
package openapi

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

	"gopkg.in/yaml.v3"
)

// DefaultTimeout bounds one remote call.
const DefaultTimeout = 15 * time.Second

// maxResponseBytes caps the response body read from a remote tool.
const maxResponseBytes = 1 << 20

// Operation describes one remote operation.
type Operation struct {
	Name        string
	Description string
	Method      string
	URL         string
	Schema      json.RawMessage
	Headers     map[string]string
}

// RemoteTool executes one OpenAPI operation over HTTP. It implements the
// same contract as the builtin tools.
type RemoteTool struct {
	op     Operation
	client *http.Client
}

// NewRemoteTool creates a tool for the operation. A nil client gets a
// default one with DefaultTimeout.
func NewRemoteTool(op Operation, client *http.Client) (*RemoteTool, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("openapi: operation has no name")
	}
	if op.URL == "" {
		return nil, fmt.Errorf("openapi: operation %s has no URL", op.Name)
	}
	if op.Method == "" {
		op.Method = http.MethodGet
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &RemoteTool{op: op, client: client}, nil
}

func (t *RemoteTool) Name() string        { return t.op.Name }
func (t *RemoteTool) Description() string { return t.op.Description }

func (t *RemoteTool) Schema() json.RawMessage {
	if len(t.op.Schema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return t.op.Schema
}

// Execute performs the remote call. GET operations receive the arguments as
// query parameters; everything else gets them as the JSON body.
func (t *RemoteTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var body io.Reader
	target := t.op.URL

	if t.op.Method == http.MethodGet {
		query, err := argsToQuery(args)
		if err != nil {
			return "", err
		}
		if query != "" {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + query
		}
	} else if len(args) > 0 {
		body = bytes.NewReader(args)
	}

	req, err := http.NewRequestWithContext(ctx, t.op.Method, target, body)
	if err != nil {
		return "", fmt.Errorf("openapi: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range t.op.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openapi: %s: %w", t.op.Name, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("openapi: %s: read response: %w", t.op.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("openapi: %s: status %d: %s", t.op.Name, resp.StatusCode, truncate(string(payload), 256))
	}
	return string(payload), nil
}

func argsToQuery(args json.RawMessage) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	var fields map[string]any
	if err := json.Unmarshal(args, &fields); err != nil {
		return "", fmt.Errorf("openapi: arguments must be an object: %w", err)
	}
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, fmt.Sprint(v))
	}
	return values.Encode(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// document is the subset of an OpenAPI 3 spec needed to derive operations.
// yaml.v3 decodes both YAML and JSON documents.
type document struct {
	Servers []struct {
		URL string `yaml:"url"`
	} `yaml:"servers"`
	Paths map[string]map[string]operationSpec `yaml:"paths"`
}

type operationSpec struct {
	OperationID string `yaml:"operationId"`
	Summary     string `yaml:"summary"`
	Description string `yaml:"description"`
	Parameters  []struct {
		Name     string         `yaml:"name"`
		In       string         `yaml:"in"`
		Required bool           `yaml:"required"`
		Schema   map[string]any `yaml:"schema"`
	} `yaml:"parameters"`
	RequestBody struct {
		Content map[string]struct {
			Schema map[string]any `yaml:"schema"`
		} `yaml:"content"`
	} `yaml:"requestBody"`
}

var methods = []string{"get", "post", "put", "patch", "delete"}

// ParseDocument extracts operations from an OpenAPI 3 document. Operations
// without an operationId are skipped. baseURL overrides the document's first
// server entry when non-empty.
func ParseDocument(data []byte, baseURL string) ([]Operation, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("openapi: parse document: %w", err)
	}

	base := strings.TrimRight(baseURL, "/")
	if base == "" && len(doc.Servers) > 0 {
		base = strings.TrimRight(doc.Servers[0].URL, "/")
	}
	if base == "" {
		return nil, fmt.Errorf("openapi: document has no server URL and no base URL was given")
	}

	var ops []Operation
	for path, byMethod := range doc.Paths {
		for _, method := range methods {
			spec, ok := byMethod[method]
			if !ok || spec.OperationID == "" {
				continue
			}

			desc := spec.Description
			if desc == "" {
				desc = spec.Summary
			}

			schema, err := operationSchema(spec)
			if err != nil {
				return nil, fmt.Errorf("openapi: operation %s: %w", spec.OperationID, err)
			}

			ops = append(ops, Operation{
				Name:        spec.OperationID,
				Description: desc,
				Method:      strings.ToUpper(method),
				URL:         base + path,
				Schema:      schema,
			})
		}
	}
	return ops, nil
}

// operationSchema derives the argument schema: the JSON request body schema
// when present, otherwise an object synthesized from the query parameters.
func operationSchema(spec operationSpec) (json.RawMessage, error) {
	if content, ok := spec.RequestBody.Content["application/json"]; ok && content.Schema != nil {
		return json.Marshal(content.Schema)
	}

	properties := map[string]any{}
	var required []string
	for _, param := range spec.Parameters {
		if param.In != "query" {
			continue
		}
		schema := param.Schema
		if schema == nil {
			schema = map[string]any{"type": "string"}
		}
		properties[param.Name] = schema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return json.Marshal(out)
}
