package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultGeminiBaseURL is the public Generative Language API endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements the Provider interface for Google's Gemini REST API.
type GeminiProvider struct {
	client  *http.Client
	baseURL string
}

// GeminiOption customizes a GeminiProvider.
type GeminiOption func(*GeminiProvider)

// WithBaseURL overrides the API endpoint (used by tests and proxies).
func WithBaseURL(u string) GeminiOption {
	return func(g *GeminiProvider) {
		if u != "" {
			g.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *GeminiProvider) {
		if c != nil {
			g.client = c
		}
	}
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(opts ...GeminiOption) *GeminiProvider {
	g := &GeminiProvider{
		client:  &http.Client{},
		baseURL: DefaultGeminiBaseURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GeminiProvider) Name() string { return "gemini" }

// wireNames maps caller parameter names to their REST spelling.
var wireNames = map[string]string{
	"candidate_count":       "candidateCount",
	"stop_sequences":        "stopSequences",
	"top_p":                 "topP",
	"top_k":                 "topK",
	"task_type":             "taskType",
	"output_dimensionality": "outputDimensionality",
}

func wireName(name string) string {
	if w, ok := wireNames[name]; ok {
		return w
	}
	return name
}

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// geminiRequest is the generateContent request body.
type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  map[string]any  `json:"generationConfig,omitempty"`
}

// geminiResponse is the generateContent response body.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int32 `json:"promptTokenCount"`
		CandidatesTokenCount int32 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// toGeminiContents renders normalized content in REST form. Gemini names the
// assistant role "model" and takes system turns as a separate instruction.
func toGeminiContents(c Content) ([]geminiContent, *geminiContent) {
	if c.IsPrompt() {
		return []geminiContent{{Role: "user", Parts: []Part{{Text: c.Prompt}}}}, nil
	}

	var system *geminiContent
	contents := make([]geminiContent, 0, len(c.Turns))
	for _, t := range c.Turns {
		switch t.Role {
		case "system":
			if system == nil {
				system = &geminiContent{}
			}
			system.Parts = append(system.Parts, t.Parts...)
			continue
		case "assistant":
			contents = append(contents, geminiContent{Role: "model", Parts: t.Parts})
		default:
			contents = append(contents, geminiContent{Role: t.Role, Parts: t.Parts})
		}
	}
	return contents, system
}

// GenerateContent performs a unary generateContent call.
func (g *GeminiProvider) GenerateContent(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	contents, system := toGeminiContents(req.Content)

	genCfg := map[string]any{"temperature": req.Config.Temperature}
	if req.Config.MaxOutputTokens > 0 {
		genCfg["maxOutputTokens"] = req.Config.MaxOutputTokens
	}
	for k, v := range req.Config.Params {
		genCfg[wireName(k)] = v
	}

	body := geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig:  genCfg,
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, modelPath(req.Model))
	raw, err := g.post(ctx, url, req.APIKey, req.RequestID, body)
	if err != nil {
		return GenerateResponse{}, err
	}

	var gemResp geminiResponse
	if err := json.Unmarshal(raw, &gemResp); err != nil {
		return GenerateResponse{}, fmt.Errorf("gemini: decode response: %w", err)
	}

	resp := GenerateResponse{
		PromptTokens: gemResp.UsageMetadata.PromptTokenCount,
		OutputTokens: gemResp.UsageMetadata.CandidatesTokenCount,
	}
	if gemResp.PromptFeedback != nil && gemResp.PromptFeedback.BlockReason != "" {
		resp.FinishReason = gemResp.PromptFeedback.BlockReason
	}
	if len(gemResp.Candidates) > 0 {
		cand := gemResp.Candidates[0]
		if cand.FinishReason != "" {
			resp.FinishReason = cand.FinishReason
		}
		var sb strings.Builder
		found := false
		for _, p := range cand.Content.Parts {
			if p.Text != nil {
				sb.WriteString(*p.Text)
				found = true
			}
		}
		if found {
			text := sb.String()
			resp.Text = &text
		}
	}
	return resp, nil
}

// EmbedContent performs an embedContent call. The REST envelope
// {"embedding": {"values": [...]}} is flattened to {"embedding": [...]}.
func (g *GeminiProvider) EmbedContent(ctx context.Context, req EmbedRequest) (any, error) {
	model := modelPath(req.Model)
	body := map[string]any{
		"model":   "models/" + model,
		"content": geminiContent{Parts: []Part{{Text: req.Text}}},
	}
	if req.TaskType != "" {
		body["taskType"] = req.TaskType
	}
	for k, v := range req.Params {
		name := wireName(k)
		if s, ok := v.(string); ok && name == "taskType" {
			v = strings.ToUpper(s)
		}
		body[name] = v
	}

	url := fmt.Sprintf("%s/models/%s:embedContent", g.baseURL, model)
	raw, err := g.post(ctx, url, req.APIKey, req.RequestID, body)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("gemini: decode embedding response: %w", err)
	}
	return flattenEmbedding(decoded), nil
}

func flattenEmbedding(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	inner, ok := m["embedding"].(map[string]any)
	if !ok {
		return v
	}
	values, ok := inner["values"]
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	out["embedding"] = values
	return out
}

func (g *GeminiProvider) post(ctx context.Context, url, apiKey, requestID string, body any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)
	if requestID != "" {
		httpReq.Header.Set("X-Request-Id", requestID)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: do request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, newAPIError(g.Name(), httpResp, respBody)
	}
	return respBody, nil
}

// modelPath strips the optional "models/" resource prefix.
func modelPath(model string) string {
	return strings.TrimPrefix(model, "models/")
}
