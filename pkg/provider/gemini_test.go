package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Path      string
	APIKey    string
	RequestID string
	Body      map[string]any
}

func newTestServer(t *testing.T, status int, header http.Header, respBody string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.APIKey = r.Header.Get("x-goog-api-key")
		captured.RequestID = r.Header.Get("X-Request-Id")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.Body)
		for k, vs := range header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestGeminiProvider_Name(t *testing.T) {
	assert.Equal(t, "gemini", NewGeminiProvider().Name())
}

func TestGeminiProvider_GenerateContent_Prompt(t *testing.T) {
	srv, captured := newTestServer(t, http.StatusOK, nil, `{
		"candidates": [{"content": {"parts": [{"text": "Scrooge is "}, {"text": "a miser."}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 7}
	}`)
	g := NewGeminiProvider(WithBaseURL(srv.URL + "/"))

	resp, err := g.GenerateContent(context.Background(), GenerateRequest{
		Model:     "models/gemini-2.0-flash-001",
		Content:   Content{Prompt: "who is scrooge?"},
		Config:    GenerationConfig{Temperature: 0.7, MaxOutputTokens: 64, Params: map[string]any{"top_k": 3}},
		APIKey:    "key-1",
		RequestID: "req-1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Text)
	assert.Equal(t, "Scrooge is a miser.", *resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, int32(5), resp.PromptTokens)
	assert.Equal(t, int32(7), resp.OutputTokens)

	assert.Equal(t, "/models/gemini-2.0-flash-001:generateContent", captured.Path)
	assert.Equal(t, "key-1", captured.APIKey)
	assert.Equal(t, "req-1", captured.RequestID)

	contents := captured.Body["contents"].([]any)
	require.Len(t, contents, 1)
	first := contents[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "who is scrooge?", first["parts"].([]any)[0].(map[string]any)["text"])

	genCfg := captured.Body["generationConfig"].(map[string]any)
	assert.InDelta(t, 0.7, genCfg["temperature"], 1e-6)
	assert.EqualValues(t, 64, genCfg["maxOutputTokens"])
	assert.EqualValues(t, 3, genCfg["topK"])
}

func TestGeminiProvider_GenerateContent_Turns(t *testing.T) {
	srv, captured := newTestServer(t, http.StatusOK, nil, `{"candidates": [{"content": {"parts": [{"text": "ok"}]}}]}`)
	g := NewGeminiProvider(WithBaseURL(srv.URL))

	_, err := g.GenerateContent(context.Background(), GenerateRequest{
		Model: "gemini-2.0-flash-001",
		Content: Content{Turns: []Turn{
			{Role: "system", Parts: []Part{{Text: "be brief"}}},
			{Role: "user", Parts: []Part{{Text: "hi"}}},
			{Role: "assistant", Parts: []Part{{Text: "hello"}}},
			{Role: "user", Parts: []Part{{Text: "bye"}}},
		}},
	})
	require.NoError(t, err)

	_, hasMax := captured.Body["generationConfig"].(map[string]any)["maxOutputTokens"]
	assert.False(t, hasMax)

	system := captured.Body["systemInstruction"].(map[string]any)
	assert.Equal(t, "be brief", system["parts"].([]any)[0].(map[string]any)["text"])

	var roles []string
	for _, c := range captured.Body["contents"].([]any) {
		roles = append(roles, c.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"user", "model", "user"}, roles)
}

func TestGeminiProvider_GenerateContent_NoText(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, nil, `{"candidates": [], "promptFeedback": {"blockReason": "SAFETY"}}`)
	g := NewGeminiProvider(WithBaseURL(srv.URL))

	resp, err := g.GenerateContent(context.Background(), GenerateRequest{Model: "m", Content: Content{Prompt: "x"}})
	require.NoError(t, err)
	assert.Nil(t, resp.Text)
	assert.Equal(t, "SAFETY", resp.FinishReason)
}

func TestGeminiProvider_RateLimitError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusTooManyRequests, http.Header{"Retry-After": {"7"}},
		`{"error": {"code": 429, "message": "Resource has been exhausted", "status": "RESOURCE_EXHAUSTED"}}`)
	g := NewGeminiProvider(WithBaseURL(srv.URL))

	_, err := g.GenerateContent(context.Background(), GenerateRequest{Model: "m", Content: Content{Prompt: "x"}})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.RateLimited())
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode())
	assert.Equal(t, "RESOURCE_EXHAUSTED", apiErr.Status)
	assert.Equal(t, "Resource has been exhausted", apiErr.Message)
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter)
}

func TestAPIError_RateLimited(t *testing.T) {
	assert.True(t, (&APIError{HTTPStatus: http.StatusBadRequest, Status: "RESOURCE_EXHAUSTED"}).RateLimited())
	assert.False(t, (&APIError{HTTPStatus: http.StatusForbidden, Status: "PERMISSION_DENIED"}).RateLimited())
	assert.False(t, (&APIError{HTTPStatus: http.StatusInternalServerError}).RateLimited())
}

func TestGeminiProvider_ServerErrorPlainBody(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInternalServerError, nil, "upstream exploded")
	g := NewGeminiProvider(WithBaseURL(srv.URL))

	_, err := g.EmbedContent(context.Background(), EmbedRequest{Model: "text-embedding-004", Text: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.RateLimited())
	assert.Equal(t, "upstream exploded", apiErr.Message)
	assert.Contains(t, err.Error(), "API error 500")
}

func TestGeminiProvider_EmbedContent(t *testing.T) {
	srv, captured := newTestServer(t, http.StatusOK, nil, `{"embedding": {"values": [0.1, 0.2, 0.3]}}`)
	g := NewGeminiProvider(WithBaseURL(srv.URL))

	resp, err := g.EmbedContent(context.Background(), EmbedRequest{
		Model:    "models/text-embedding-004",
		Text:     "a chunk",
		TaskType: "RETRIEVAL_DOCUMENT",
		Params:   map[string]any{"output_dimensionality": 256, "title": "Dickens"},
		APIKey:   "k",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"embedding": []any{0.1, 0.2, 0.3}}, resp)

	assert.Equal(t, "/models/text-embedding-004:embedContent", captured.Path)
	assert.Equal(t, "models/text-embedding-004", captured.Body["model"])
	assert.Equal(t, "RETRIEVAL_DOCUMENT", captured.Body["taskType"])
	assert.EqualValues(t, 256, captured.Body["outputDimensionality"])
	assert.Equal(t, "Dickens", captured.Body["title"])
}

func TestGeminiProvider_EmbedContent_TaskTypeOverride(t *testing.T) {
	srv, captured := newTestServer(t, http.StatusOK, nil, `{"embedding": {"values": [1]}}`)
	g := NewGeminiProvider(WithBaseURL(srv.URL))

	_, err := g.EmbedContent(context.Background(), EmbedRequest{
		Model:    "text-embedding-004",
		TaskType: "RETRIEVAL_DOCUMENT",
		Params:   map[string]any{"task_type": "retrieval_query"},
	})
	require.NoError(t, err)
	assert.Equal(t, "RETRIEVAL_QUERY", captured.Body["taskType"])
}

func TestFlattenEmbedding(t *testing.T) {
	assert.Equal(t, "nope", flattenEmbedding("nope"))
	assert.Equal(t, map[string]any{"embedding": []any{}}, flattenEmbedding(map[string]any{"embedding": []any{}}))
	assert.Equal(t,
		map[string]any{"embedding": map[string]any{"other": 1.0}},
		flattenEmbedding(map[string]any{"embedding": map[string]any{"other": 1.0}}))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, parseRetryAfter(future), 50*time.Minute)
}
