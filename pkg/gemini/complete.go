package gemini

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/joshyim/lightrag-gemini/pkg/message"
	"github.com/joshyim/lightrag-gemini/pkg/metrics"
	"github.com/joshyim/lightrag-gemini/pkg/params"
	"github.com/joshyim/lightrag-gemini/pkg/provider"
	"github.com/joshyim/lightrag-gemini/pkg/resilience"
)

// CompletionRequest is the input of Complete.
type CompletionRequest struct {
	Conversation message.Conversation
	Model        string   // Empty means Config.CompletionModel
	Temperature  *float32 // nil means DefaultTemperature
	MaxTokens    int      // 0 means no limit is sent; at most math.MaxInt32
	Params       params.Bag
}

// Temperature returns a pointer to v, for CompletionRequest.Temperature.
func Temperature(v float32) *float32 { return &v }

func validateCompletion(req CompletionRequest) error {
	if req.MaxTokens < 0 || req.MaxTokens > math.MaxInt32 {
		return fmt.Errorf("%w: max tokens %d out of range [0, %d]", ErrInvalidRequest, req.MaxTokens, math.MaxInt32)
	}
	if req.Conversation.IsPrompt() {
		return nil
	}
	for _, m := range req.Conversation.List() {
		if m.Role != message.RoleSystem {
			return nil
		}
	}
	return fmt.Errorf("%w: conversation has no user or assistant message", ErrInvalidRequest)
}

// Complete generates text for the conversation. Rate-limited attempts are
// retried with exponential backoff; a response without text fails with a
// *MalformedResponseError and is not retried.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.CompletionModel
	}
	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if err := validateCompletion(req); err != nil {
		return "", fmt.Errorf("gemini: complete: %w", err)
	}

	ctx, cl := c.begin(ctx, opComplete, "gemini.complete", model)

	genReq := provider.GenerateRequest{
		Model:   model,
		Content: message.Normalize(req.Conversation),
		Config: provider.GenerationConfig{
			Temperature:     temperature,
			MaxOutputTokens: int32(req.MaxTokens),
			Params:          c.completion.Translate(req.Params),
		},
		RequestID: cl.requestID,
	}

	resp, err := resilience.Do(ctx, cl.backoff, cl.observeRetry, func(ctx context.Context) (provider.GenerateResponse, error) {
		return attempt(c, func(apiKey string) (provider.GenerateResponse, error) {
			r := genReq
			r.APIKey = apiKey
			return c.provider.GenerateContent(ctx, r)
		})
	})
	if err != nil {
		err = fmt.Errorf("gemini: complete: %w", err)
		cl.end(err)
		return "", err
	}

	metrics.ObserveTokens(cl.label, resp.PromptTokens, resp.OutputTokens)

	if resp.Text == nil {
		shape := "response without text field"
		if resp.FinishReason != "" {
			shape = fmt.Sprintf("%s (finish reason %s)", shape, resp.FinishReason)
		}
		err := &MalformedResponseError{Operation: opComplete, Shape: shape}
		cl.end(err)
		return "", err
	}

	cl.logger.Debug("completion received",
		zap.Int("turns", req.Conversation.Len()),
		zap.Int32("output_tokens", resp.OutputTokens),
	)
	cl.end(nil)
	return *resp.Text, nil
}
