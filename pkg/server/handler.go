// Package server exposes the Gemini client over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshyim/lightrag-gemini/pkg/gemini"
	"github.com/joshyim/lightrag-gemini/pkg/message"
	"github.com/joshyim/lightrag-gemini/pkg/params"
	"github.com/joshyim/lightrag-gemini/pkg/provider"
	"github.com/joshyim/lightrag-gemini/pkg/resilience"
)

// DefaultRequestTimeout leaves room for the full backoff schedule.
const DefaultRequestTimeout = 2 * time.Minute

// Backend performs the calls; *gemini.Client satisfies it.
type Backend interface {
	Complete(ctx context.Context, req gemini.CompletionRequest) (string, error)
	Embed(ctx context.Context, req gemini.EmbeddingRequest) ([]float64, error)
}

// Handler implements AdapterServer on top of a Backend.
type Handler struct {
	backend        Backend
	requestTimeout time.Duration
	logger         *zap.Logger
}

// Config holds the handler configuration.
type Config struct {
	Backend        Backend
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewHandler creates a new adapter handler.
func NewHandler(cfg Config) *Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Handler{
		backend:        cfg.Backend,
		requestTimeout: cfg.RequestTimeout,
		logger:         cfg.Logger,
	}
}

// Complete handles {conversation, model?, temperature?, max_tokens?, params?}
// and answers {text}. conversation is either a prompt string or a list of
// {role, content} objects.
func (h *Handler) Complete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := completionRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	text, err := h.backend.Complete(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	h.logger.Debug("completion served", zap.Int("chars", len(text)))
	return structpb.NewStruct(map[string]any{"text": text})
}

// Embed handles {text, model?, params?} and answers {embedding}.
func (h *Handler) Embed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := embeddingRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	vec, err := h.backend.Embed(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	h.logger.Debug("embedding served", zap.Int("dimensions", len(vec)))
	values := make([]any, len(vec))
	for i, f := range vec {
		values[i] = f
	}
	return structpb.NewStruct(map[string]any{"embedding": values})
}

func completionRequest(in *structpb.Struct) (gemini.CompletionRequest, error) {
	fields := in.GetFields()
	var req gemini.CompletionRequest

	conv, err := conversation(fields["conversation"])
	if err != nil {
		return req, err
	}
	req.Conversation = conv

	if req.Model, err = optionalString(fields, "model"); err != nil {
		return req, err
	}
	if v, ok := fields["temperature"]; ok {
		n, isNum := v.GetKind().(*structpb.Value_NumberValue)
		if !isNum {
			return req, errors.New("temperature must be a number")
		}
		req.Temperature = gemini.Temperature(float32(n.NumberValue))
	}
	if v, ok := fields["max_tokens"]; ok {
		n, isNum := v.GetKind().(*structpb.Value_NumberValue)
		if !isNum || n.NumberValue < 0 || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue > math.MaxInt32 {
			return req, errors.New("max_tokens must be a non-negative integer")
		}
		req.MaxTokens = int(n.NumberValue)
	}
	if req.Params, err = paramBag(fields); err != nil {
		return req, err
	}
	return req, nil
}

func embeddingRequest(in *structpb.Struct) (gemini.EmbeddingRequest, error) {
	fields := in.GetFields()
	var req gemini.EmbeddingRequest

	v, ok := fields["text"]
	if !ok {
		return req, errors.New("text is required")
	}
	s, isStr := v.GetKind().(*structpb.Value_StringValue)
	if !isStr {
		return req, errors.New("text must be a string")
	}
	req.Text = s.StringValue

	var err error
	if req.Model, err = optionalString(fields, "model"); err != nil {
		return req, err
	}
	if req.Params, err = paramBag(fields); err != nil {
		return req, err
	}
	return req, nil
}

func conversation(v *structpb.Value) (message.Conversation, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return message.Prompt(k.StringValue), nil
	case *structpb.Value_ListValue:
		items := k.ListValue.GetValues()
		msgs := make([]message.Message, 0, len(items))
		for i, item := range items {
			obj := item.GetStructValue()
			if obj == nil {
				return message.Conversation{}, fmt.Errorf("conversation[%d] must be an object", i)
			}
			role, err := optionalString(obj.GetFields(), "role")
			if err != nil || role == "" {
				return message.Conversation{}, fmt.Errorf("conversation[%d].role must be a non-empty string", i)
			}
			content, err := optionalString(obj.GetFields(), "content")
			if err != nil {
				return message.Conversation{}, fmt.Errorf("conversation[%d].content must be a string", i)
			}
			msgs = append(msgs, message.Message{Role: role, Content: content})
		}
		return message.Messages(msgs...), nil
	case nil:
		return message.Conversation{}, errors.New("conversation is required")
	default:
		return message.Conversation{}, errors.New("conversation must be a string or a list of messages")
	}
}

func optionalString(fields map[string]*structpb.Value, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", nil
	}
	s, isStr := v.GetKind().(*structpb.Value_StringValue)
	if !isStr {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s.StringValue, nil
}

func paramBag(fields map[string]*structpb.Value) (params.Bag, error) {
	v, ok := fields["params"]
	if !ok {
		return nil, nil
	}
	obj := v.GetStructValue()
	if obj == nil {
		return nil, errors.New("params must be an object")
	}
	return params.Bag(obj.AsMap()), nil
}

// toStatus maps client errors onto gRPC status codes.
func toStatus(err error) error {
	code := codes.Unknown
	var apiErr *provider.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case resilience.IsRateLimited(err):
		code = codes.ResourceExhausted
	case errors.Is(err, gemini.ErrMalformedResponse):
		code = codes.Internal
	case errors.Is(err, resilience.ErrCircuitOpen):
		code = codes.Unavailable
	case errors.Is(err, gemini.ErrConfiguration):
		code = codes.FailedPrecondition
	case errors.Is(err, gemini.ErrInvalidRequest):
		code = codes.InvalidArgument
	case errors.As(err, &apiErr):
		code = httpCode(apiErr.HTTPStatus)
	}
	return status.Error(code, err.Error())
}

func httpCode(httpStatus int) codes.Code {
	switch {
	case httpStatus == http.StatusBadRequest:
		return codes.InvalidArgument
	case httpStatus == http.StatusUnauthorized:
		return codes.Unauthenticated
	case httpStatus == http.StatusForbidden:
		return codes.PermissionDenied
	case httpStatus == http.StatusNotFound:
		return codes.NotFound
	case httpStatus >= 500:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

// LoggingInterceptor logs every unary call with its status code and latency.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Stringer("code", code),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			logger.Warn("grpc call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("grpc call", fields...)
		}
		return resp, err
	}
}
