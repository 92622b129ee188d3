package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"
)

func TestTranslate(t *testing.T) {
	bag := Bag{
		"top_p":            0.9,
		"stop_sequences":   []string{"END"},
		"history_messages": []string{"prior"},
		"hashing_kv":       struct{}{},
		"stream":           false,
		"frequency":        2,
		"color":            "blue",
	}

	var warned []string
	out := Translate(CompletionParams, OrchestrationOnly, bag, func(e *UnrecognizedParameterError) {
		warned = append(warned, e.Name)
	})

	assert.Equal(t, Bag{"top_p": 0.9, "stop_sequences": []string{"END"}}, out)
	assert.Equal(t, []string{"color", "frequency"}, warned)
	assert.Len(t, bag, 7, "input bag is not modified")
}

func TestTranslate_NilBagAndNilWarn(t *testing.T) {
	out := Translate(EmbeddingParams, OrchestrationOnly, nil, nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)

	out = Translate(EmbeddingParams, OrchestrationOnly, Bag{"bogus": 1, "title": "t"}, nil)
	assert.Equal(t, Bag{"title": "t"}, out)
}

func TestTranslator_LogsAndReports(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	var reported []string
	tr := NewTranslator("gemini_embed", EmbeddingParams, OrchestrationOnly, zap.New(core),
		func(op, name string) { reported = append(reported, op+":"+name) })

	out := tr.Translate(Bag{"task_type": "RETRIEVAL_QUERY", "only_need_prompt": true, "temperature": 0.1})

	assert.Equal(t, Bag{"task_type": "RETRIEVAL_QUERY"}, out)
	assert.Equal(t, []string{"gemini_embed:temperature"}, reported)

	entries := logs.FilterMessage("unknown parameter dropped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "temperature", entries[0].ContextMap()["param"])
	assert.Equal(t, "gemini_embed", entries[0].ContextMap()["operation"])
}

func TestUnrecognizedParameterError(t *testing.T) {
	assert.Equal(t, `unknown parameter "x" dropped`, (&UnrecognizedParameterError{Name: "x"}).Error())
	assert.Equal(t, `unknown parameter "x" passed to gemini_complete, dropped`,
		(&UnrecognizedParameterError{Name: "x", Operation: "gemini_complete"}).Error())
}

func TestProperty_TranslateKeepsExactlyValidKeys(t *testing.T) {
	names := []string{
		"candidate_count", "stop_sequences", "top_p", "top_k",
		"history_messages", "history_turns", "only_need_context", "only_need_prompt",
		"response_type", "stream", "hashing_kv",
		"task_type", "title", "foo", "bar", "",
	}
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.SliceOfDistinct(rapid.OneOf(rapid.SampledFrom(names), rapid.String()), rapid.ID[string]).Draw(rt, "keys")
		bag := make(Bag, len(keys))
		for i, k := range keys {
			bag[k] = i
		}
		before := make(map[string]struct{}, len(bag))
		for k := range bag {
			before[k] = struct{}{}
		}

		warnings := 0
		out := Translate(CompletionParams, OrchestrationOnly, bag, func(*UnrecognizedParameterError) { warnings++ })

		expectedWarnings := 0
		for k, v := range bag {
			switch {
			case CompletionParams.Has(k):
				assert.Equal(rt, v, out[k])
			case OrchestrationOnly.Has(k):
				assert.NotContains(rt, out, k)
			default:
				assert.NotContains(rt, out, k)
				expectedWarnings++
			}
		}
		for k := range out {
			assert.True(rt, CompletionParams.Has(k))
		}
		assert.Equal(rt, expectedWarnings, warnings)

		require.Len(rt, bag, len(before))
		for k := range before {
			assert.Contains(rt, bag, k)
		}
	})
}
