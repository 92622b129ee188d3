// Package config loads the adapter configuration from an optional YAML file
// overlaid by environment variables.
//
// Environment variables:
//
//	GEMINI_API_KEY          single Gemini API key
//	GEMINI_API_KEYS         comma-separated Gemini API keys (rotated)
//	GEMINI_BASE_URL         REST endpoint (default: public v1beta endpoint)
//	GEMINI_COMPLETION_MODEL default completion model (default: gemini-2.0-flash-001)
//	GEMINI_EMBEDDING_MODEL  default embedding model (default: text-embedding-004)
//	MAX_RETRIES             rate-limit attempt ceiling (default: 5)
//	RETRY_INITIAL_DELAY     first backoff wait (default: 1s)
//	CB_ENABLED              enable the circuit breaker (default: false)
//	CB_FAILURE_THRESHOLD    circuit breaker failure threshold (default: 5)
//	CB_COOLDOWN             circuit breaker cooldown (default: 30s)
//	GRPC_PORT               gRPC server port (default: 50051)
//	METRICS_PORT            Prometheus metrics HTTP port (default: 9090)
//	REQUEST_TIMEOUT         per-request timeout of the gRPC surface (default: 2m)
//	LOG_LEVEL               debug, info, warn or error (default: info)
//	LOG_FORMAT              json or console (default: json)
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/joshyim/lightrag-gemini/pkg/gemini"
	"github.com/joshyim/lightrag-gemini/pkg/provider"
	"github.com/joshyim/lightrag-gemini/pkg/resilience"
)

// Config is the full adapter configuration.
// Priority: defaults, then the YAML file, then environment variables.
type Config struct {
	Gemini         GeminiConfig  `yaml:"gemini"`
	Retry          RetryConfig   `yaml:"retry"`
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
	Server         ServerConfig  `yaml:"server"`
	Log            LogConfig     `yaml:"log"`
}

type GeminiConfig struct {
	APIKeys         []string `yaml:"api_keys"`
	BaseURL         string   `yaml:"base_url"`
	CompletionModel string   `yaml:"completion_model"`
	EmbeddingModel  string   `yaml:"embedding_model"`
}

type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type ServerConfig struct {
	GRPCPort       int           `yaml:"grpc_port"`
	MetricsPort    int           `yaml:"metrics_port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig selects the zap logger built by NewLogger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	retry := resilience.DefaultRetryConfig()
	return Config{
		Gemini: GeminiConfig{
			BaseURL:         provider.DefaultGeminiBaseURL,
			CompletionModel: gemini.DefaultCompletionModel,
			EmbeddingModel:  gemini.DefaultEmbeddingModel,
		},
		Retry: RetryConfig{
			MaxRetries:   retry.MaxRetries,
			InitialDelay: retry.InitialDelay,
		},
		CircuitBreaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Server: ServerConfig{
			GRPCPort:       50051,
			MetricsPort:    9090,
			RequestTimeout: 2 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result. Every problem is reported
// as a *gemini.ConfigurationError.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &gemini.ConfigurationError{Field: "config_file", Reason: err.Error()}
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, &gemini.ConfigurationError{Field: "config_file", Reason: fmt.Sprintf("%s: %v", path, err)}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos surface instead of being ignored.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	env := &envReader{}

	keys := splitKeys(os.Getenv("GEMINI_API_KEYS"))
	if k := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); k != "" {
		keys = append([]string{k}, keys...)
	}
	if len(keys) > 0 {
		c.Gemini.APIKeys = keys
	}
	c.Gemini.BaseURL = envOrDefault("GEMINI_BASE_URL", c.Gemini.BaseURL)
	c.Gemini.CompletionModel = envOrDefault("GEMINI_COMPLETION_MODEL", c.Gemini.CompletionModel)
	c.Gemini.EmbeddingModel = envOrDefault("GEMINI_EMBEDDING_MODEL", c.Gemini.EmbeddingModel)

	c.Retry.MaxRetries = env.intOrDefault("MAX_RETRIES", c.Retry.MaxRetries)
	c.Retry.InitialDelay = env.durationOrDefault("RETRY_INITIAL_DELAY", c.Retry.InitialDelay)

	c.CircuitBreaker.Enabled = env.boolOrDefault("CB_ENABLED", c.CircuitBreaker.Enabled)
	c.CircuitBreaker.FailureThreshold = env.intOrDefault("CB_FAILURE_THRESHOLD", c.CircuitBreaker.FailureThreshold)
	c.CircuitBreaker.Cooldown = env.durationOrDefault("CB_COOLDOWN", c.CircuitBreaker.Cooldown)

	c.Server.GRPCPort = env.intOrDefault("GRPC_PORT", c.Server.GRPCPort)
	c.Server.MetricsPort = env.intOrDefault("METRICS_PORT", c.Server.MetricsPort)
	c.Server.RequestTimeout = env.durationOrDefault("REQUEST_TIMEOUT", c.Server.RequestTimeout)

	c.Log.Level = envOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("LOG_FORMAT", c.Log.Format)

	return env.err
}

// Validate checks the whole configuration, including the client part.
func (c Config) Validate() error {
	if err := c.Client().Validate(); err != nil {
		return err
	}
	if c.CircuitBreaker.Enabled && c.CircuitBreaker.FailureThreshold <= 0 {
		return &gemini.ConfigurationError{Field: "circuit_breaker.failure_threshold", Reason: "must be positive when the breaker is enabled"}
	}
	if !validPort(c.Server.GRPCPort) {
		return &gemini.ConfigurationError{Field: "server.grpc_port", Reason: fmt.Sprintf("%d is not a valid port", c.Server.GRPCPort)}
	}
	if !validPort(c.Server.MetricsPort) {
		return &gemini.ConfigurationError{Field: "server.metrics_port", Reason: fmt.Sprintf("%d is not a valid port", c.Server.MetricsPort)}
	}
	if c.Server.RequestTimeout <= 0 {
		return &gemini.ConfigurationError{Field: "server.request_timeout", Reason: "must be positive"}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return &gemini.ConfigurationError{Field: "log.level", Reason: err.Error()}
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return &gemini.ConfigurationError{Field: "log.format", Reason: fmt.Sprintf("%q is neither json nor console", c.Log.Format)}
	}
	return nil
}

// Client returns the gemini.Config described by c.
func (c Config) Client() gemini.Config {
	cfg := gemini.Config{
		APIKeys:         append([]string(nil), c.Gemini.APIKeys...),
		BaseURL:         c.Gemini.BaseURL,
		CompletionModel: c.Gemini.CompletionModel,
		EmbeddingModel:  c.Gemini.EmbeddingModel,
		Retry: resilience.RetryConfig{
			MaxRetries:   c.Retry.MaxRetries,
			InitialDelay: c.Retry.InitialDelay,
		},
	}
	if c.CircuitBreaker.Enabled {
		cfg.CircuitBreaker = &resilience.CircuitBreakerConfig{
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			Cooldown:         c.CircuitBreaker.Cooldown,
		}
	}
	return cfg
}

func validPort(p int) bool { return p > 0 && p < 65536 }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envReader parses typed environment values and keeps the first failure.
type envReader struct {
	err error
}

func (r *envReader) fail(key, v, want string) {
	if r.err == nil {
		r.err = &gemini.ConfigurationError{Field: key, Reason: fmt.Sprintf("%q is not a valid %s", v, want)}
	}
}

func (r *envReader) intOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, "integer")
		return defaultVal
	}
	return i
}

func (r *envReader) boolOrDefault(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, "boolean")
		return defaultVal
	}
	return b
}

func (r *envReader) durationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, "duration")
		return defaultVal
	}
	return d
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var keys []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
