package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/glowlab/deskagent/internal/tools"
)

// OpenAPIConnection exposes the operations of an OpenAPI-described HTTP API
// as MCP-style tools: one tool per operation, parameters derived from the
// spec's parameter and request-body schemas.
type OpenAPIConnection struct {
	baseURL string
	client  *http.Client
	headers map[string]string
	ops     map[string]*apiOperation
}

type apiOperation struct {
	descriptor tools.Descriptor
	method     string
	path       string
	params     []apiParameter
	hasBody    bool
}

type apiParameter struct {
	name     string
	in       string // path, query or header
	required bool
}

// OpenAPIOptions configures an OpenAPI session.
type OpenAPIOptions struct {
	// SpecLocation is a file path or URL of the OpenAPI document.
	SpecLocation string
	// BaseURL overrides the server URL of the spec; required when the spec
	// declares none.
	BaseURL string
	// Headers are sent with every request, e.g. an Authorization header.
	Headers map[string]string
	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client
}

// LoadOpenAPI loads an OpenAPI spec and materializes its operations into
// callable tools.
func LoadOpenAPI(ctx context.Context, opts OpenAPIOptions) (*OpenAPIConnection, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = true

	var (
		doc *openapi3.T
		err error
	)
	if u, parseErr := url.Parse(opts.SpecLocation); parseErr == nil && u.Scheme != "" && u.Host != "" {
		doc, err = loader.LoadFromURI(u)
	} else {
		doc, err = loader.LoadFromFile(opts.SpecLocation)
	}
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	return NewOpenAPIConnection(doc, opts)
}

// NewOpenAPIConnection builds a connection from an already loaded document.
func NewOpenAPIConnection(doc *openapi3.T, opts OpenAPIOptions) (*OpenAPIConnection, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = strings.TrimSpace(doc.Servers[0].URL)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no server base URL available")
	}
	if doc.Paths == nil {
		return nil, fmt.Errorf("openapi spec contains no paths")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	c := &OpenAPIConnection{
		baseURL: baseURL,
		client:  client,
		headers: opts.Headers,
		ops:     make(map[string]*apiOperation),
	}

	nameUsage := make(map[string]int)
	for apiPath, pathItem := range doc.Paths.Map() {
		if pathItem == nil {
			continue
		}
		for method, op := range pathItem.Operations() {
			if op == nil {
				continue
			}
			c.addOperation(method, apiPath, pathItem, op, nameUsage)
		}
	}

	if len(c.ops) == 0 {
		return nil, fmt.Errorf("no operations discovered in openapi spec")
	}
	return c, nil
}

func (c *OpenAPIConnection) addOperation(method, apiPath string, pathItem *openapi3.PathItem, op *openapi3.Operation, nameUsage map[string]int) {
	opName := op.OperationID
	if opName == "" {
		opName = fmt.Sprintf("%s_%s", method, strings.Trim(apiPath, "/"))
	}
	name := uniqueToolName(sanitizeName(opName), nameUsage)

	description := op.Summary
	if description == "" {
		description = op.Description
	}
	if description == "" {
		description = fmt.Sprintf("Call %s %s", strings.ToUpper(method), apiPath)
	}

	properties := make(map[string]any)
	var required []any
	var params []apiParameter

	appendParam := func(ref *openapi3.ParameterRef) {
		if ref == nil || ref.Value == nil {
			return
		}
		p := ref.Value
		if _, exists := properties[p.Name]; exists {
			return
		}
		schema := schemaRefToJSONSchema(p.Schema)
		if schema == nil {
			schema = map[string]any{"type": "string"}
		}
		if p.Description != "" {
			schema["description"] = strings.TrimSpace(p.Description)
		}
		properties[p.Name] = schema
		if p.Required {
			required = append(required, p.Name)
		}
		params = append(params, apiParameter{name: p.Name, in: p.In, required: p.Required})
	}
	for _, ref := range pathItem.Parameters {
		appendParam(ref)
	}
	for _, ref := range op.Parameters {
		appendParam(ref)
	}

	hasBody := false
	if op.RequestBody != nil && op.RequestBody.Value != nil {
		hasBody = true
		bodySchema := map[string]any{"type": "object"}
		if media, ok := op.RequestBody.Value.Content["application/json"]; ok {
			if s := schemaRefToJSONSchema(media.Schema); s != nil {
				bodySchema = s
			}
		}
		bodySchema["description"] = "JSON request body"
		properties["body"] = bodySchema
		if op.RequestBody.Value.Required {
			required = append(required, "body")
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	c.ops[name] = &apiOperation{
		descriptor: tools.Descriptor{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
		method:  strings.ToUpper(method),
		path:    apiPath,
		params:  params,
		hasBody: hasBody,
	}
}

func (c *OpenAPIConnection) ServerType() string { return "openapi" }

func (c *OpenAPIConnection) Describe(ctx context.Context) ([]tools.Descriptor, error) {
	out := make([]tools.Descriptor, 0, len(c.ops))
	for _, op := range c.ops {
		out = append(out, op.descriptor)
	}
	return out, nil
}

// CallTool executes the HTTP operation behind a tool name.
func (c *OpenAPIConnection) CallTool(ctx context.Context, toolName string, params map[string]any) (any, error) {
	op, ok := c.ops[toolName]
	if !ok {
		return nil, fmt.Errorf("unknown operation %s", toolName)
	}

	reqURL, err := c.buildURL(op, params)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if op.hasBody {
		if raw, ok := params["body"]; ok && raw != nil {
			switch v := raw.(type) {
			case string:
				bodyReader = strings.NewReader(v)
			default:
				data, err := json.Marshal(v)
				if err != nil {
					return nil, fmt.Errorf("marshal body: %w", err)
				}
				bodyReader = bytes.NewReader(data)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, op.method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, p := range op.params {
		if p.in != "header" {
			continue
		}
		if v, ok := params[p.name]; ok {
			req.Header.Set(p.name, fmt.Sprint(v))
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op.method, reqURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", op.method, reqURL, resp.StatusCode, truncate(string(respBody), 300))
	}

	var parsed any
	if len(respBody) > 0 && json.Unmarshal(respBody, &parsed) == nil {
		return parsed, nil
	}
	return string(respBody), nil
}

func (c *OpenAPIConnection) Close() error { return nil }

func (c *OpenAPIConnection) buildURL(op *apiOperation, params map[string]any) (string, error) {
	relative := op.path
	for _, p := range op.params {
		if p.in != "path" {
			continue
		}
		v, ok := params[p.name]
		if !ok {
			if p.required {
				return "", fmt.Errorf("missing required path parameter %s", p.name)
			}
			continue
		}
		relative = strings.ReplaceAll(relative, "{"+p.name+"}", url.PathEscape(fmt.Sprint(v)))
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.baseURL, err)
	}
	if !strings.HasPrefix(relative, "/") {
		relative = "/" + relative
	}
	base.Path = path.Join(strings.TrimSuffix(base.Path, "/"), relative)

	query := base.Query()
	for _, p := range op.params {
		if p.in != "query" {
			continue
		}
		v, ok := params[p.name]
		if !ok {
			if p.required {
				return "", fmt.Errorf("missing required query parameter %s", p.name)
			}
			continue
		}
		switch vv := v.(type) {
		case []any:
			for _, item := range vv {
				query.Add(p.name, fmt.Sprint(item))
			}
		default:
			query.Set(p.name, fmt.Sprint(v))
		}
	}
	base.RawQuery = query.Encode()

	return base.String(), nil
}

func schemaRefToJSONSchema(ref *openapi3.SchemaRef) map[string]any {
	if ref == nil || ref.Value == nil {
		return nil
	}
	schema := ref.Value

	out := map[string]any{}
	if schema.Type != nil {
		if types := schema.Type.Slice(); len(types) == 1 {
			out["type"] = types[0]
		} else if len(types) > 1 {
			out["type"] = types
		}
	}
	if schema.Format != "" {
		out["format"] = schema.Format
	}
	if schema.Description != "" {
		out["description"] = schema.Description
	}
	if len(schema.Enum) > 0 {
		out["enum"] = schema.Enum
	}
	if schema.Default != nil {
		out["default"] = schema.Default
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	if schema.Items != nil {
		out["items"] = schemaRefToJSONSchema(schema.Items)
	}
	if len(schema.Properties) > 0 {
		props := make(map[string]any, len(schema.Properties))
		for key, propRef := range schema.Properties {
			props[key] = schemaRefToJSONSchema(propRef)
		}
		out["properties"] = props
	}
	return out
}

func sanitizeName(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	prevUnderscore := false
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	result := strings.Trim(b.String(), "_")
	if result == "" {
		return "operation"
	}
	return result
}

func uniqueToolName(base string, usage map[string]int) string {
	count := usage[base]
	usage[base] = count + 1
	if count == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, count+1)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
