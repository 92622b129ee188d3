package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/joshyim/lightrag-gemini/pkg/params"
	"github.com/joshyim/lightrag-gemini/pkg/provider"
	"github.com/joshyim/lightrag-gemini/pkg/resilience"
)

// TaskTypeRetrievalDocument is the embedding task type sent with every call
// unless the caller passes task_type.
const TaskTypeRetrievalDocument = "RETRIEVAL_DOCUMENT"

// EmbeddingRequest is the input of Embed.
type EmbeddingRequest struct {
	Text   string
	Model  string // Empty means Config.EmbeddingModel
	Params params.Bag
}

// Embed returns the embedding vector of text. The provider response must be
// an object whose "embedding" entry is a non-empty list of numbers; anything
// else fails with a *MalformedResponseError naming what was received.
func (c *Client) Embed(ctx context.Context, req EmbeddingRequest) ([]float64, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.EmbeddingModel
	}

	ctx, cl := c.begin(ctx, opEmbed, "gemini.embed", model)

	embReq := provider.EmbedRequest{
		Model:     model,
		Text:      req.Text,
		TaskType:  TaskTypeRetrievalDocument,
		Params:    c.embedding.Translate(req.Params),
		RequestID: cl.requestID,
	}

	resp, err := resilience.Do(ctx, cl.backoff, cl.observeRetry, func(ctx context.Context) (any, error) {
		return attempt(c, func(apiKey string) (any, error) {
			r := embReq
			r.APIKey = apiKey
			return c.provider.EmbedContent(ctx, r)
		})
	})
	if err != nil {
		err = fmt.Errorf("gemini: embed: %w", err)
		cl.end(err)
		return nil, err
	}

	vec, err := extractEmbedding(resp)
	if err != nil {
		cl.end(err)
		return nil, err
	}

	cl.logger.Debug("embedding received", zap.Int("dimensions", len(vec)))
	cl.end(nil)
	return vec, nil
}

// extractEmbedding validates the response envelope and returns its vector.
func extractEmbedding(resp any) ([]float64, error) {
	malformed := func(format string, args ...any) error {
		return &MalformedResponseError{Operation: opEmbed, Shape: fmt.Sprintf(format, args...)}
	}

	m, ok := resp.(map[string]any)
	if !ok {
		return nil, malformed("expected an object, got %s", describeShape(resp))
	}
	raw, ok := m["embedding"]
	if !ok {
		return nil, malformed(`no "embedding" entry in %s`, describeShape(resp))
	}

	var vec []float64
	switch v := raw.(type) {
	case []float64:
		vec = append([]float64(nil), v...)
	case []float32:
		vec = make([]float64, len(v))
		for i, f := range v {
			vec[i] = float64(f)
		}
	case []any:
		vec = make([]float64, len(v))
		for i, elem := range v {
			f, ok := toFloat(elem)
			if !ok {
				return nil, malformed("embedding element %d is %s, not a number", i, describeShape(elem))
			}
			vec[i] = f
		}
	default:
		return nil, malformed("embedding is %s, not a list", describeShape(raw))
	}

	if len(vec) == 0 {
		return nil, malformed("embedding is an empty list")
	}
	return vec, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
