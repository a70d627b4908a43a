package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const weatherDoc = `
openapi: "3.0.0"
servers:
  - url: https://api.example.com/v1
paths:
  /weather:
    get:
      operationId: get_weather
      summary: Current weather for a location
      parameters:
        - name: location
          in: query
          required: true
          schema:
            type: string
        - name: units
          in: query
          schema:
            type: string
  /alerts:
    post:
      operationId: create_alert
      description: Create a weather alert
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                threshold:
                  type: number
  /internal:
    get:
      summary: no operationId, skipped
`

func TestParseDocument(t *testing.T) {
	ops, err := ParseDocument([]byte(weatherDoc), "")
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("operations = %d, want 2 (unnamed skipped)", len(ops))
	}

	byName := map[string]Operation{}
	for _, op := range ops {
		byName[op.Name] = op
	}

	weather, ok := byName["get_weather"]
	if !ok {
		t.Fatal("get_weather missing")
	}
	if weather.Method != http.MethodGet || weather.URL != "https://api.example.com/v1/weather" {
		t.Errorf("get_weather = %+v", weather)
	}

	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(weather.Schema, &schema); err != nil {
		t.Fatalf("schema not JSON: %s", weather.Schema)
	}
	if _, ok := schema.Properties["location"]; !ok {
		t.Error("location parameter missing from schema")
	}
	if len(schema.Required) != 1 || schema.Required[0] != "location" {
		t.Errorf("required = %v", schema.Required)
	}

	alert := byName["create_alert"]
	if alert.Method != http.MethodPost {
		t.Errorf("create_alert method = %q", alert.Method)
	}
}

func TestParseDocument_BaseURLOverride(t *testing.T) {
	ops, err := ParseDocument([]byte(weatherDoc), "http://localhost:9999/")
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	for _, op := range ops {
		if op.URL[:21] != "http://localhost:9999" {
			t.Errorf("URL = %q, want override base", op.URL)
		}
	}
}

func TestRemoteTool_GetSendsQueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("location"); got != "NYC" {
			t.Errorf("location = %q", got)
		}
		w.Write([]byte(`{"temp":21}`))
	}))
	defer server.Close()

	tool, err := NewRemoteTool(Operation{
		Name:   "get_weather",
		Method: http.MethodGet,
		URL:    server.URL + "/weather",
	}, server.Client())
	if err != nil {
		t.Fatalf("NewRemoteTool: %v", err)
	}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"location":"NYC"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != `{"temp":21}` {
		t.Errorf("out = %q", out)
	}
}

func TestRemoteTool_PostSendsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("body not JSON: %v", err)
		}
		if body["threshold"] != 30.0 {
			t.Errorf("threshold = %v", body["threshold"])
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte(`{"id":"a1"}`))
	}))
	defer server.Close()

	tool, err := NewRemoteTool(Operation{
		Name:   "create_alert",
		Method: http.MethodPost,
		URL:    server.URL + "/alerts",
	}, server.Client())
	if err != nil {
		t.Fatalf("NewRemoteTool: %v", err)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"threshold":30}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestRemoteTool_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	tool, err := NewRemoteTool(Operation{Name: "failing", URL: server.URL}, server.Client())
	if err != nil {
		t.Fatalf("NewRemoteTool: %v", err)
	}

	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
