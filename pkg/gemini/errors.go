package gemini

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMalformedResponse matches every *MalformedResponseError.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrInvalidRequest reports a request rejected before any provider call.
	ErrInvalidRequest = errors.New("invalid request")
)

// MalformedResponseError reports a provider response that does not have the
// expected shape. It is never retried.
type MalformedResponseError struct {
	Operation string
	Shape     string // What was actually received
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("gemini: malformed response from %s: %s", e.Operation, e.Shape)
}

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }

// ConfigurationError reports missing or invalid setup, detected before any
// provider call is made.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("gemini: invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// describeShape renders a short description of a decoded response value.
func describeShape(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("object with keys %v", keys)
	case []any:
		if len(t) == 0 {
			return "empty list"
		}
		return fmt.Sprintf("list of %d %s", len(t), describeShape(t[0]))
	case []float64:
		if len(t) == 0 {
			return "empty list"
		}
		return fmt.Sprintf("list of %d numbers", len(t))
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int32, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
