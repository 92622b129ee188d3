// Package provider defines the network boundary to a remote LLM provider and
// the shared request/response types.
package provider

import "context"

// Part is one piece of turn content. Only text parts are produced.
type Part struct {
	Text string `json:"text"`
}

// Turn is one conversation turn in provider form.
type Turn struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Content is normalized conversation content. Exactly one of Prompt or Turns
// is meaningful: Turns is non-nil when the conversation was a message list.
type Content struct {
	Prompt string
	Turns  []Turn
}

// IsPrompt reports whether c holds a single free-text prompt.
func (c Content) IsPrompt() bool { return c.Turns == nil }

// GenerationConfig carries the sampling settings for a generation call.
type GenerationConfig struct {
	Temperature     float32
	MaxOutputTokens int32          // 0 means unset
	Params          map[string]any // Provider-valid extras, already filtered
}

// GenerateRequest represents a text generation request.
type GenerateRequest struct {
	Model     string
	Content   Content
	Config    GenerationConfig
	APIKey    string // Injected by the key pool
	RequestID string
}

// GenerateResponse is the decoded generation response. Text is nil when the
// provider returned no text field.
type GenerateResponse struct {
	Text         *string
	FinishReason string
	PromptTokens int32
	OutputTokens int32
}

// EmbedRequest represents an embedding request. A task_type entry in Params
// overrides TaskType and is sent upper-cased, so "retrieval_query" becomes
// RETRIEVAL_QUERY.
type EmbedRequest struct {
	Model     string
	Text      string
	TaskType  string
	Params    map[string]any // Provider-valid extras, already filtered
	APIKey    string         // Injected by the key pool
	RequestID string
}

// Provider is the interface every LLM backend implements.
type Provider interface {
	// Name returns a human-readable identifier for this provider (e.g. "gemini").
	Name() string

	// GenerateContent performs a unary generation call.
	GenerateContent(ctx context.Context, req GenerateRequest) (GenerateResponse, error)

	// EmbedContent performs an embedding call and returns the decoded response
	// envelope. A well-formed envelope is a map with an "embedding" list; the
	// caller validates the shape.
	EmbedContent(ctx context.Context, req EmbedRequest) (any, error)
}
