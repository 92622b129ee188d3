// Package gemini is the rate-limit resilient Gemini client used by the
// retrieval pipeline for text completion and embedding.
package gemini

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/joshyim/lightrag-gemini/pkg/metrics"
	"github.com/joshyim/lightrag-gemini/pkg/params"
	"github.com/joshyim/lightrag-gemini/pkg/provider"
	"github.com/joshyim/lightrag-gemini/pkg/resilience"
)

const (
	DefaultCompletionModel         = "gemini-2.0-flash-001"
	DefaultEmbeddingModel          = "text-embedding-004"
	DefaultTemperature     float32 = 0.7

	opComplete = "gemini_complete"
	opEmbed    = "gemini_embed"

	// keyCooldown applies when a rate-limited response has no Retry-After.
	keyCooldown = 60 * time.Second

	instrumentationName = "github.com/joshyim/lightrag-gemini/pkg/gemini"
)

// Config holds everything the client needs. It is validated once by New.
type Config struct {
	APIKeys         []string
	BaseURL         string // Empty means the public endpoint
	CompletionModel string
	EmbeddingModel  string
	Retry           resilience.RetryConfig
	// CircuitBreaker enables the breaker around provider attempts when set.
	CircuitBreaker *resilience.CircuitBreakerConfig
}

// DefaultConfig returns a Config with default models and retry policy and
// no API keys.
func DefaultConfig() Config {
	return Config{
		BaseURL:         provider.DefaultGeminiBaseURL,
		CompletionModel: DefaultCompletionModel,
		EmbeddingModel:  DefaultEmbeddingModel,
		Retry:           resilience.DefaultRetryConfig(),
	}
}

// Validate checks the configuration and returns a *ConfigurationError for
// the first problem found.
func (c Config) Validate() error {
	hasKey := false
	for _, k := range c.APIKeys {
		if k != "" {
			hasKey = true
			break
		}
	}
	if !hasKey {
		return &ConfigurationError{Field: "api_keys", Reason: "no Gemini API key configured (set GEMINI_API_KEY)"}
	}
	if c.Retry.MaxRetries < 0 {
		return &ConfigurationError{Field: "retry.max_retries", Reason: "must not be negative"}
	}
	if c.Retry.InitialDelay < 0 {
		return &ConfigurationError{Field: "retry.initial_delay", Reason: "must not be negative"}
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigurationError{Field: "base_url", Reason: "must be an absolute http(s) URL"}
		}
	}
	if cb := c.CircuitBreaker; cb != nil && (cb.FailureThreshold < 0 || cb.Cooldown < 0) {
		return &ConfigurationError{Field: "circuit_breaker", Reason: "threshold and cooldown must not be negative"}
	}
	return nil
}

// Client performs completion and embedding calls against Gemini.
// It is safe for concurrent use.
type Client struct {
	cfg        Config
	provider   provider.Provider
	keys       *resilience.KeyPool
	breaker    *resilience.CircuitBreaker
	sleeper    resilience.Sleeper
	completion *params.Translator
	embedding  *params.Translator
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithProvider replaces the Gemini REST transport.
func WithProvider(p provider.Provider) Option {
	return func(c *Client) { c.provider = p }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleeper replaces the timer used for backoff waits.
func WithSleeper(s resilience.Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleeper = s
		}
	}
}

// WithTracer replaces the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// New validates cfg and builds a Client. Configuration problems are reported
// here as *ConfigurationError, never on the first call.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = DefaultCompletionModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}

	c := &Client{
		cfg:     cfg,
		keys:    resilience.NewKeyPool(cfg.APIKeys),
		sleeper: resilience.TimerSleeper,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.provider == nil {
		c.provider = provider.NewGeminiProvider(provider.WithBaseURL(cfg.BaseURL))
	}

	if cfg.CircuitBreaker != nil {
		cbCfg := *cfg.CircuitBreaker
		if cbCfg.IsFailure == nil {
			cbCfg.IsFailure = breakerFailure
		}
		logger := c.logger
		cbCfg.OnStateChange = func(s resilience.CircuitState) {
			metrics.CircuitBreakerState.Set(float64(s))
			logger.Warn("circuit breaker state changed", zap.Stringer("state", s))
		}
		c.breaker = resilience.NewCircuitBreaker(cbCfg)
	}

	countUnknown := func(operation, _ string) { metrics.ObserveUnrecognizedParam(operation) }
	c.completion = params.NewTranslator(opComplete, params.CompletionParams, params.OrchestrationOnly,
		c.logger, countUnknown)
	c.embedding = params.NewTranslator(opEmbed, params.EmbeddingParams, params.OrchestrationOnly,
		c.logger, countUnknown)

	c.logger.Info("gemini client ready",
		zap.Int("api_keys", c.keys.Size()),
		zap.String("completion_model", cfg.CompletionModel),
		zap.String("embedding_model", cfg.EmbeddingModel),
		zap.Bool("circuit_breaker", c.breaker != nil),
	)
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// breakerFailure counts server faults against the breaker. Rate limits are
// left to the backoff controller so one backoff sequence cannot trip it.
func breakerFailure(err error) bool {
	return resilience.IsServerError(err) && !resilience.IsRateLimited(err)
}

// modelLabel keeps metric label values to the configured models.
func (c *Client) modelLabel(model string) string {
	switch strings.TrimPrefix(model, "models/") {
	case strings.TrimPrefix(c.cfg.CompletionModel, "models/"), strings.TrimPrefix(c.cfg.EmbeddingModel, "models/"):
		return model
	default:
		return metrics.OtherModel
	}
}

// call is the per-request state shared by Complete and Embed.
type call struct {
	operation string
	model     string
	label     string // model metric label
	requestID string
	start     time.Time
	logger    *zap.Logger
	span      trace.Span
	backoff   *resilience.Backoff
}

func (c *Client) begin(ctx context.Context, operation, spanName, model string) (context.Context, *call) {
	requestID := uuid.NewString()
	logger := c.logger.With(
		zap.String("operation", operation),
		zap.String("model", model),
		zap.String("request_id", requestID),
	)
	ctx, span := c.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", c.provider.Name()),
			attribute.String("llm.model", model),
			attribute.String("request.id", requestID),
		))
	metrics.ActiveRequests.WithLabelValues(operation).Inc()

	return ctx, &call{
		operation: operation,
		model:     model,
		label:     c.modelLabel(model),
		requestID: requestID,
		start:     time.Now(),
		logger:    logger,
		span:      span,
		backoff: resilience.NewBackoff(c.cfg.Retry,
			resilience.WithSleeper(c.sleeper),
			resilience.WithLogger(logger),
		),
	}
}

func (cl *call) observeRetry(attempt int, wait time.Duration, _ error) {
	metrics.ObserveBackoff(cl.operation, wait)
	cl.span.AddEvent("rate_limit_backoff", trace.WithAttributes(
		attribute.Int("attempt", attempt),
		attribute.String("wait", wait.String()),
	))
}

func (cl *call) end(err error) {
	defer cl.span.End()
	metrics.ActiveRequests.WithLabelValues(cl.operation).Dec()

	status := "success"
	switch {
	case err == nil:
	case resilience.IsRateLimited(err):
		status = "rate_limited"
	case errors.Is(err, ErrMalformedResponse):
		status = "malformed"
	default:
		status = "error"
	}
	metrics.ObserveRequest(cl.operation, cl.label, status, time.Since(cl.start))

	if err != nil {
		cl.span.RecordError(err)
		cl.span.SetStatus(codes.Error, status)
		cl.logger.Error("provider call failed", zap.String("status", status), zap.Error(err))
		return
	}
	cl.span.SetStatus(codes.Ok, "")
	cl.logger.Debug("provider call finished", zap.Duration("elapsed", time.Since(cl.start)))
}

// attempt runs one provider call with the next API key, through the circuit
// breaker when enabled. A rate-limited key is put into cooldown.
func attempt[T any](c *Client, fn func(apiKey string) (T, error)) (T, error) {
	var out T
	key, err := c.keys.Next()
	if err != nil {
		return out, err
	}

	run := func() error {
		var err error
		out, err = fn(key)
		return err
	}
	if c.breaker != nil {
		err = c.breaker.Execute(run)
	} else {
		err = run()
	}

	if err != nil && resilience.IsRateLimited(err) {
		cooldown := keyCooldown
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			cooldown = apiErr.RetryAfter
		}
		c.keys.MarkRateLimited(key, time.Now().Add(cooldown))
	}
	return out, err
}
