package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshyim/lightrag-gemini/pkg/gemini"
	"github.com/joshyim/lightrag-gemini/pkg/message"
	"github.com/joshyim/lightrag-gemini/pkg/params"
)

type requestLog struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (l *requestLog) all() []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]map[string]any(nil), l.bodies...)
}

// fakeGemini serves generateContent and embedContent; the first rateLimited
// requests get a 429.
func fakeGemini(t *testing.T, rateLimited int32) (*httptest.Server, *requestLog) {
	t.Helper()
	var calls atomic.Int32
	log := &requestLog{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		log.mu.Lock()
		log.bodies = append(log.bodies, body)
		log.mu.Unlock()

		if calls.Add(1) <= rateLimited {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"code": 429, "status": "RESOURCE_EXHAUSTED", "message": "quota"}}`))
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			_, _ = w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "Scrooge is a miser."}]}, "finishReason": "STOP"}]}`))
		case strings.HasSuffix(r.URL.Path, ":embedContent"):
			_, _ = w.Write([]byte(`{"embedding": {"values": [0.1, 0.2, 0.3]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setEnv(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "cli-key")
	t.Setenv("GEMINI_BASE_URL", baseURL)
	t.Setenv("RETRY_INITIAL_DELAY", "1ms")
	t.Setenv("LOG_LEVEL", "error")
}

func TestCompleteCommand(t *testing.T) {
	srv, requests := fakeGemini(t, 0)
	setEnv(t, srv.URL)

	out, err := runCLI(t, "complete", "who is scrooge?", "--temperature", "0.1", "--param", "top_k=40", "--param", "stream=true")
	require.NoError(t, err)
	assert.Equal(t, "Scrooge is a miser.\n", out)

	bodies := requests.all()
	require.Len(t, bodies, 1)
	genCfg := bodies[0]["generationConfig"].(map[string]any)
	assert.EqualValues(t, 40, genCfg["topK"])
	assert.InDelta(t, 0.1, genCfg["temperature"], 1e-6)
	assert.NotContains(t, genCfg, "stream")
}

func TestCompleteCommand_Messages(t *testing.T) {
	srv, requests := fakeGemini(t, 0)
	setEnv(t, srv.URL)

	path := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- role: system
  content: be brief
- role: user
  content: who is scrooge?
`), 0o600))

	out, err := runCLI(t, "complete", "--messages", path)
	require.NoError(t, err)
	assert.Equal(t, "Scrooge is a miser.\n", out)
	assert.Contains(t, requests.all()[0], "systemInstruction")
}

func TestEmbedCommand_RetriesRateLimit(t *testing.T) {
	srv, requests := fakeGemini(t, 2)
	setEnv(t, srv.URL)

	out, err := runCLI(t, "embed", "Marley was dead")
	require.NoError(t, err)

	var vec []float64
	require.NoError(t, json.Unmarshal([]byte(out), &vec))
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
	bodies := requests.all()
	require.Len(t, bodies, 3)
	assert.Equal(t, gemini.TaskTypeRetrievalDocument, bodies[2]["taskType"])
}

func TestCommand_ConfigurationError(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GEMINI_API_KEYS", "")

	_, err := runCLI(t, "complete", "hi")
	assert.ErrorIs(t, err, gemini.ErrConfiguration)
}

func TestBuildConversation(t *testing.T) {
	conv, err := buildConversation([]string{"hello"}, "")
	require.NoError(t, err)
	assert.True(t, conv.IsPrompt())
	assert.Equal(t, "hello", conv.Text())

	_, err = buildConversation(nil, "")
	assert.Error(t, err)
	_, err = buildConversation([]string{"hello"}, "file.yaml")
	assert.Error(t, err)
}

func TestLoadMessages_MissingRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- content: hi\n"), 0o600))

	_, err := loadMessages(path)
	assert.ErrorContains(t, err, "no role")

	require.NoError(t, os.WriteFile(path, []byte("- role: user\n  content: hi\n"), 0o600))
	msgs, err := loadMessages(path)
	require.NoError(t, err)
	assert.Equal(t, []message.Message{{Role: "user", Content: "hi"}}, msgs)
}

func TestParseParams(t *testing.T) {
	bag, err := parseParams([]string{"top_k=40", "top_p=0.9", "stop_sequences=[END, STOP]", "task_type=retrieval_query", "title="})
	require.NoError(t, err)
	assert.Equal(t, params.Bag{
		"top_k":          40,
		"top_p":          0.9,
		"stop_sequences": []any{"END", "STOP"},
		"task_type":      "retrieval_query",
		"title":          nil,
	}, bag)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=1"})
	assert.Error(t, err)

	bag, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, bag)
}
