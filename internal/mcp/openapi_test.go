package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "weather", "version": "1.0"},
  "paths": {
    "/cities/{city}/weather": {
      "get": {
        "operationId": "getWeather",
        "summary": "Current weather for a city",
        "parameters": [
          {"name": "city", "in": "path", "required": true, "schema": {"type": "string"}},
          {"name": "units", "in": "query", "schema": {"type": "string", "enum": ["metric", "imperial"]}}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/reports": {
      "post": {
        "operationId": "createReport",
        "requestBody": {
          "required": true,
          "content": {
            "application/json": {
              "schema": {"type": "object", "properties": {"text": {"type": "string"}}}
            }
          }
        },
        "responses": {"201": {"description": "created"}}
      }
    }
  }
}`

func loadTestConnection(t *testing.T, baseURL string) *OpenAPIConnection {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(weatherSpec))
	require.NoError(t, err)

	conn, err := NewOpenAPIConnection(doc, OpenAPIOptions{
		BaseURL: baseURL,
		Headers: map[string]string{"Authorization": "Bearer token123"},
	})
	require.NoError(t, err)
	return conn
}

func TestOpenAPIDescriptors(t *testing.T) {
	conn := loadTestConnection(t, "http://example.test")

	descs, err := conn.Describe(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 2)

	byName := map[string]int{}
	for i, d := range descs {
		byName[d.Name] = i
	}
	require.Contains(t, byName, "getweather")
	require.Contains(t, byName, "createreport")

	weather := descs[byName["getweather"]]
	assert.Equal(t, "Current weather for a city", weather.Description)
	props := weather.Parameters["properties"].(map[string]any)
	assert.Contains(t, props, "city")
	assert.Contains(t, props, "units")
	assert.Contains(t, weather.Parameters["required"], any("city"))

	report := descs[byName["createreport"]]
	props = report.Parameters["properties"].(map[string]any)
	assert.Contains(t, props, "body")
}

func TestOpenAPICallToolGet(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"temp": 21.5})
	}))
	defer srv.Close()

	conn := loadTestConnection(t, srv.URL)

	result, err := conn.CallTool(context.Background(), "getweather", map[string]any{
		"city":  "Berlin",
		"units": "metric",
	})
	require.NoError(t, err)

	assert.Equal(t, "/cities/Berlin/weather", gotPath)
	assert.Equal(t, "units=metric", gotQuery)
	assert.Equal(t, "Bearer token123", gotAuth)
	assert.Equal(t, map[string]any{"temp": 21.5}, result)
}

func TestOpenAPICallToolPostBody(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "r1"}`))
	}))
	defer srv.Close()

	conn := loadTestConnection(t, srv.URL)

	result, err := conn.CallTool(context.Background(), "createreport", map[string]any{
		"body": map[string]any{"text": "sunny"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "sunny"}, gotBody)
	assert.Equal(t, map[string]any{"id": "r1"}, result)
}

func TestOpenAPICallToolErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	conn := loadTestConnection(t, srv.URL)

	_, err := conn.CallTool(context.Background(), "getweather", map[string]any{"city": "Berlin"})
	assert.ErrorContains(t, err, "403")

	_, err = conn.CallTool(context.Background(), "getweather", map[string]any{})
	assert.ErrorContains(t, err, "city")

	_, err = conn.CallTool(context.Background(), "unknown_op", nil)
	assert.Error(t, err)
}
