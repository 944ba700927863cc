package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sammcj/answer-engine/internal/config"
	"github.com/sammcj/answer-engine/internal/extract"
	"github.com/sammcj/answer-engine/internal/history"
	"github.com/sammcj/answer-engine/internal/llm"
	"github.com/sammcj/answer-engine/internal/pipeline"
	"github.com/sammcj/answer-engine/internal/rag"
	"github.com/sammcj/answer-engine/internal/search"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	completeOut  string
	streamDeltas []string
}

func (s *stubCompleter) Complete(context.Context, []llm.Message) (string, error) {
	return s.completeOut, nil
}

func (s *stubCompleter) Stream(_ context.Context, _ []llm.Message, fn func(string) error) (string, error) {
	var full strings.Builder
	for _, d := range s.streamDeltas {
		full.WriteString(d)
		if err := fn(d); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

type stubClients struct{ c *stubCompleter }

func (s stubClients) Client(string) (pipeline.Completer, error) { return s.c, nil }

type stubSearcher struct {
	results     []search.Result
	suggestions []string
}

func (s *stubSearcher) Select(config.OptimizationMode) []search.Provider { return nil }

func (s *stubSearcher) FanOut(context.Context, string, []search.Provider, search.Options) (*search.Response, error) {
	return &search.Response{Results: s.results, Suggestions: s.suggestions}, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, urls []string) []extract.Document {
	docs := make([]extract.Document, len(urls))
	for i, u := range urls {
		docs[i] = extract.Document{URL: u, Title: "Doc", Text: "body text", Method: extract.MethodLocal}
	}
	return docs
}

type stubRanker struct{}

func (stubRanker) Rerank(_ context.Context, _ string, chunks []rag.Chunk) []rag.RankedChunk {
	ranked := make([]rag.RankedChunk, len(chunks))
	for i, c := range chunks {
		ranked[i] = rag.RankedChunk{Chunk: c, Score: 0.5}
	}
	return ranked
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testServer(t *testing.T, completer *stubCompleter, store *history.Store) *Server {
	t.Helper()
	p := pipeline.New(pipeline.Options{
		Registry: &stubSearcher{
			results:     []search.Result{{Title: "Doc", URL: "https://example.com/doc"}},
			suggestions: []string{"related query"},
		},
		Extractor: stubExtractor{},
		Reranker:  stubRanker{},
		Clients:   stubClients{c: completer},
		History:   recorderOrNil(store),
		Logger:    testLogger(),
	})
	return New(p, store, testLogger())
}

func recorderOrNil(store *history.Store) pipeline.Recorder {
	if store == nil {
		return nil
	}
	return store
}

func decodeLines(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var lines []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestChatStreamsEvents(t *testing.T) {
	completer := &stubCompleter{
		completeOut:  "<question>What is QUIC</question>",
		streamDeltas: []string{"QUIC is ", "a protocol[1]."},
	}
	srv := testServer(t, completer, nil)

	body := `{"message": {"content": "what is quic?"}, "optimizationMode": "balanced"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	lines := decodeLines(t, rec.Body.Bytes())
	require.GreaterOrEqual(t, len(lines), 3)

	assert.Equal(t, "sources", lines[0]["type"])
	sources, ok := lines[0]["sources"].([]any)
	require.True(t, ok)
	require.Len(t, sources, 1)
	suggestions, ok := lines[0]["suggestions"].([]any)
	require.True(t, ok)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "related query", suggestions[0])

	var answer strings.Builder
	for _, line := range lines[1 : len(lines)-1] {
		assert.Equal(t, "message", line["type"])
		answer.WriteString(line["data"].(string))
	}
	assert.Equal(t, "QUIC is a protocol[1].", answer.String())

	last := lines[len(lines)-1]
	assert.Equal(t, "messageEnd", last["type"])

	// Every event carries the same generated assistant message id.
	id := lines[0]["messageId"]
	require.NotEmpty(t, id)
	for _, line := range lines {
		assert.Equal(t, id, line["messageId"])
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	srv := testServer(t, &stubCompleter{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": {"content": "  "}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatPersistsBothTurns(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), testLogger())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()

	completer := &stubCompleter{
		completeOut:  "<question>not_needed</question>",
		streamDeltas: []string{"Hello!"},
	}
	srv := testServer(t, completer, store)

	body := `{"message": {"chatId": "chat-1", "content": "hi"}}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	msgs, err := store.Messages(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "Hello!", msgs[1].Content)
}

func TestChatTitleTruncatesOnRunes(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), testLogger())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()

	completer := &stubCompleter{
		completeOut:  "<question>not_needed</question>",
		streamDeltas: []string{"ok"},
	}
	srv := testServer(t, completer, store)

	// 120 multi-byte runes: a byte-index cut would split one in half.
	content := strings.Repeat("é", 120)
	body, err := json.Marshal(map[string]any{
		"message": map[string]string{"chatId": "chat-1", "content": content},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	chats, err := store.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.True(t, utf8.ValidString(chats[0].Title))
	assert.Equal(t, strings.Repeat("é", 100), chats[0].Title)
}

func TestHistoryEndpoints(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), testLogger())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()
	require.NoError(t, store.EnsureChat(context.Background(), "chat-1", "hello"))
	require.NoError(t, store.RecordUserMessage(context.Background(), "chat-1", "m1", "hello"))

	srv := testServer(t, &stubCompleter{}, store)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat-1")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats/chat-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/chats/chat-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	chats, err := store.ListChats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestHistoryEndpointsDisabledWithoutStore(t *testing.T) {
	srv := testServer(t, &stubCompleter{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := testServer(t, &stubCompleter{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
