// Package params filters caller parameter bags down to the names a provider
// accepts, dropping orchestration-only names and warning on unknown ones.
package params

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Bag maps parameter names to caller-supplied values.
type Bag map[string]any

// Set is a set of parameter names.
type Set map[string]struct{}

// NewSet builds a Set from names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names pipeline callers pass along that mean nothing to the provider.
// hashing_kv feeds the pipeline's cache-key derivation.
var OrchestrationOnly = NewSet(
	"history_messages",
	"history_turns",
	"only_need_context",
	"only_need_prompt",
	"response_type",
	"stream",
	"hashing_kv",
)

// CompletionParams are the generation settings forwarded to the provider.
var CompletionParams = NewSet("candidate_count", "stop_sequences", "top_p", "top_k")

// EmbeddingParams are the embedding settings forwarded to the provider.
var EmbeddingParams = NewSet("task_type", "title", "output_dimensionality")

// UnrecognizedParameterError describes a dropped parameter that was neither
// provider-valid nor orchestration-only. It is reported, never returned.
type UnrecognizedParameterError struct {
	Operation string
	Name      string
}

func (e *UnrecognizedParameterError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("unknown parameter %q dropped", e.Name)
	}
	return fmt.Sprintf("unknown parameter %q passed to %s, dropped", e.Name, e.Operation)
}

// WarnFunc receives one report per unrecognized parameter.
type WarnFunc func(*UnrecognizedParameterError)

// Translate returns a new bag holding only the entries of bag whose names
// are in valid. Names in ignored are dropped silently; any other name is
// reported to warn (in sorted order) and dropped. bag is not modified.
func Translate(valid, ignored Set, bag Bag, warn WarnFunc) Bag {
	out := make(Bag, len(bag))
	var unknown []string
	for name, v := range bag {
		switch {
		case valid.Has(name):
			out[name] = v
		case ignored.Has(name):
		default:
			unknown = append(unknown, name)
		}
	}
	if warn != nil && len(unknown) > 0 {
		sort.Strings(unknown)
		for _, name := range unknown {
			warn(&UnrecognizedParameterError{Name: name})
		}
	}
	return out
}

// Translator binds the name sets of one provider operation.
type Translator struct {
	operation string
	valid     Set
	ignored   Set
	logger    *zap.Logger
	onUnknown func(operation, name string)
}

// NewTranslator creates a Translator for operation. logger may be nil.
// onUnknown, if set, is called for every dropped unknown name (metrics).
func NewTranslator(operation string, valid, ignored Set, logger *zap.Logger, onUnknown func(operation, name string)) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{
		operation: operation,
		valid:     valid,
		ignored:   ignored,
		logger:    logger,
		onUnknown: onUnknown,
	}
}

// Translate filters bag, logging a warning for each unknown name.
func (t *Translator) Translate(bag Bag) Bag {
	return Translate(t.valid, t.ignored, bag, func(e *UnrecognizedParameterError) {
		e.Operation = t.operation
		t.logger.Warn("unknown parameter dropped",
			zap.String("operation", t.operation),
			zap.String("param", e.Name),
			zap.Error(e),
		)
		if t.onUnknown != nil {
			t.onUnknown(t.operation, e.Name)
		}
	})
}
