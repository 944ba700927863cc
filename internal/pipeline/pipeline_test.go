package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sammcj/answer-engine/internal/config"
	"github.com/sammcj/answer-engine/internal/extract"
	"github.com/sammcj/answer-engine/internal/llm"
	"github.com/sammcj/answer-engine/internal/rag"
	"github.com/sammcj/answer-engine/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompleter scripts both the rephrase completion and the synthesis
// stream for one pipeline run.
type fakeCompleter struct {
	completeOut   string
	completeErr   error
	completeCalls [][]llm.Message

	streamDeltas []string
	streamErr    error
	streamCalls  [][]llm.Message
}

func (f *fakeCompleter) Complete(_ context.Context, messages []llm.Message) (string, error) {
	f.completeCalls = append(f.completeCalls, messages)
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.completeOut, nil
}

func (f *fakeCompleter) Stream(_ context.Context, messages []llm.Message, fn func(delta string) error) (string, error) {
	f.streamCalls = append(f.streamCalls, messages)
	var full strings.Builder
	for _, d := range f.streamDeltas {
		full.WriteString(d)
		if err := fn(d); err != nil {
			return full.String(), err
		}
	}
	if f.streamErr != nil {
		return full.String(), f.streamErr
	}
	return full.String(), nil
}

type fakeClients struct {
	client *fakeCompleter
	err    error
}

func (f fakeClients) Client(string) (Completer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

// blockingCompleter parks its synthesis stream on the request context
// after the first delta, signalling started so the test can cancel
// mid-stream.
type blockingCompleter struct {
	started chan struct{}
}

func (b *blockingCompleter) Complete(context.Context, []llm.Message) (string, error) {
	return "<question>not_needed</question>", nil
}

func (b *blockingCompleter) Stream(ctx context.Context, _ []llm.Message, fn func(delta string) error) (string, error) {
	if err := fn("partial "); err != nil {
		return "", err
	}
	close(b.started)
	<-ctx.Done()
	return "partial ", ctx.Err()
}

type staticClients struct{ c Completer }

func (s staticClients) Client(string) (Completer, error) { return s.c, nil }

type fakeSearcher struct {
	resp        *search.Response
	err         error
	fanOutCalls int
	lastQuery   string
}

func (f *fakeSearcher) Select(config.OptimizationMode) []search.Provider { return nil }

func (f *fakeSearcher) FanOut(_ context.Context, query string, _ []search.Provider, _ search.Options) (*search.Response, error) {
	f.fanOutCalls++
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeExtractor struct {
	calls    int
	lastURLs []string
}

func (f *fakeExtractor) Extract(_ context.Context, urls []string) []extract.Document {
	f.calls++
	f.lastURLs = urls
	docs := make([]extract.Document, len(urls))
	for i, u := range urls {
		docs[i] = extract.Document{
			URL:    u,
			Title:  "Title of " + u,
			Text:   "Body of " + u,
			Method: extract.MethodLocal,
		}
	}
	return docs
}

type fakeRanker struct {
	calls     int
	lastQuery string
}

func (f *fakeRanker) Rerank(_ context.Context, query string, chunks []rag.Chunk) []rag.RankedChunk {
	f.calls++
	f.lastQuery = query
	ranked := make([]rag.RankedChunk, len(chunks))
	for i, c := range chunks {
		ranked[i] = rag.RankedChunk{Chunk: c, Score: 1 - float64(i)/float64(len(chunks)+1)}
	}
	return ranked
}

type capturedAnswer struct {
	chatID  string
	content string
	sources []search.Result
}

type fakeRecorder struct {
	answers []capturedAnswer
}

func (f *fakeRecorder) RecordAnswer(_ context.Context, chatID, _ string, content string, sources []search.Result) error {
	f.answers = append(f.answers, capturedAnswer{chatID: chatID, content: content, sources: sources})
	return nil
}

func collectEvents(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for event stream to close")
		}
	}
}

func newTestPipeline(client *fakeCompleter, searcher *fakeSearcher, extractor *fakeExtractor, ranker *fakeRanker, recorder Recorder) *Pipeline {
	return New(Options{
		Registry:  searcher,
		Extractor: extractor,
		Reranker:  ranker,
		Clients:   fakeClients{client: client},
		History:   recorder,
		Logger:    testLogger(),
	})
}

func TestRunHappyPath(t *testing.T) {
	client := &fakeCompleter{
		completeOut:  "<question>What is QUIC</question>",
		streamDeltas: []string{"QUIC is ", "a transport protocol[1]."},
	}
	searcher := &fakeSearcher{resp: &search.Response{
		Results: []search.Result{
			{Title: "QUIC at IETF", URL: "https://example.com/quic"},
			{Title: "HTTP/3 explained", URL: "https://example.com/http3"},
		},
		Suggestions: []string{"quic vs tcp"},
	}}
	extractor := &fakeExtractor{}
	ranker := &fakeRanker{}
	recorder := &fakeRecorder{}
	p := newTestPipeline(client, searcher, extractor, ranker, recorder)

	events := collectEvents(t, p.Run(context.Background(), Request{
		ChatID: "chat-1", MessageID: "msg-1", Query: "what is quic?",
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventSources, events[0].Type)
	require.Len(t, events[0].Sources, 2)
	assert.Equal(t, []string{"quic vs tcp"}, events[0].Suggestions)

	var answer strings.Builder
	terminals := 0
	sawDataAfterTerminal := false
	for i, ev := range events[1:] {
		switch ev.Type {
		case EventData:
			answer.WriteString(ev.Data)
			if terminals > 0 {
				sawDataAfterTerminal = true
			}
		case EventEnd, EventError:
			terminals++
			assert.Equal(t, len(events)-2, i, "terminal event must be last")
		}
	}
	assert.Equal(t, 1, terminals)
	assert.False(t, sawDataAfterTerminal)
	assert.Equal(t, EventEnd, events[len(events)-1].Type)
	assert.Equal(t, "QUIC is a transport protocol[1].", answer.String())

	assert.Equal(t, 1, searcher.fanOutCalls)
	assert.Equal(t, "What is QUIC", searcher.lastQuery)
	assert.Equal(t, []string{"https://example.com/quic", "https://example.com/http3"}, extractor.lastURLs)
	assert.Equal(t, "What is QUIC", ranker.lastQuery)

	// The synthesis system prompt carries the ranked chunks numbered by
	// source position.
	require.Len(t, client.streamCalls, 1)
	system := client.streamCalls[0][0]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "1. Title of https://example.com/quic")
	assert.Contains(t, system.Content, "Body of https://example.com/http3")

	require.Len(t, recorder.answers, 1)
	assert.Equal(t, "chat-1", recorder.answers[0].chatID)
	assert.Equal(t, "QUIC is a transport protocol[1].", recorder.answers[0].content)
	assert.Len(t, recorder.answers[0].sources, 2)
}

func TestRunNotNeededSkipsRetrieval(t *testing.T) {
	client := &fakeCompleter{
		completeOut:  "<question>not_needed</question>",
		streamDeltas: []string{"Hello! How can I help?"},
	}
	searcher := &fakeSearcher{}
	extractor := &fakeExtractor{}
	p := newTestPipeline(client, searcher, extractor, &fakeRanker{}, nil)

	events := collectEvents(t, p.Run(context.Background(), Request{Query: "hi there"}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventSources, events[0].Type)
	assert.Empty(t, events[0].Sources)
	assert.Equal(t, EventEnd, events[len(events)-1].Type)

	assert.Equal(t, 0, searcher.fanOutCalls)
	assert.Equal(t, 0, extractor.calls)
}

func TestRunSearchFailureEmitsSingleError(t *testing.T) {
	client := &fakeCompleter{completeOut: "<question>What is X</question>"}
	searcher := &fakeSearcher{err: fmt.Errorf("all search providers failed: internal detail")}
	p := newTestPipeline(client, searcher, &fakeExtractor{}, &fakeRanker{}, nil)

	events := collectEvents(t, p.Run(context.Background(), Request{Query: "what is X"}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.NotEmpty(t, events[0].Err)
	// Internal failure detail stays out of the user-facing message.
	assert.NotContains(t, events[0].Err, "internal detail")
}

func TestRunSummarizeExtractsLinksWithoutSearch(t *testing.T) {
	client := &fakeCompleter{
		completeOut:  "<question>summarize</question>\n<links>\nhttps://example.com/paper\n</links>",
		streamDeltas: []string{"The paper argues..."},
	}
	searcher := &fakeSearcher{}
	extractor := &fakeExtractor{}
	ranker := &fakeRanker{}
	p := newTestPipeline(client, searcher, extractor, ranker, nil)

	events := collectEvents(t, p.Run(context.Background(), Request{Query: "summarize https://example.com/paper"}))

	assert.Equal(t, 0, searcher.fanOutCalls)
	assert.Equal(t, []string{"https://example.com/paper"}, extractor.lastURLs)
	// Ranking uses the raw turn, not the bare "summarize" marker.
	assert.Equal(t, "summarize https://example.com/paper", ranker.lastQuery)

	require.NotEmpty(t, events)
	require.Equal(t, EventSources, events[0].Type)
	require.Len(t, events[0].Sources, 1)
	assert.Equal(t, "Title of https://example.com/paper", events[0].Sources[0].Title)
	assert.Equal(t, EventEnd, events[len(events)-1].Type)
}

func TestRunSynthesisFailureEmitsError(t *testing.T) {
	client := &fakeCompleter{
		completeOut:  "<question>not_needed</question>",
		streamDeltas: []string{"partial "},
		streamErr:    fmt.Errorf("stream reset"),
	}
	p := newTestPipeline(client, &fakeSearcher{}, &fakeExtractor{}, &fakeRanker{}, nil)

	events := collectEvents(t, p.Run(context.Background(), Request{Query: "hi"}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)

	terminals := 0
	for _, ev := range events {
		if ev.Type == EventEnd || ev.Type == EventError {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestRunNoClientEmitsError(t *testing.T) {
	p := New(Options{
		Registry:  &fakeSearcher{},
		Extractor: &fakeExtractor{},
		Reranker:  &fakeRanker{},
		Clients:   fakeClients{err: fmt.Errorf("bad model")},
		Logger:    testLogger(),
	})

	events := collectEvents(t, p.Run(context.Background(), Request{Query: "hi"}))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
}

func TestRunCancellationMidStreamTerminatesOnce(t *testing.T) {
	// Repeated because losing the terminal event was timing-dependent.
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		completer := &blockingCompleter{started: make(chan struct{})}
		p := New(Options{
			Registry:  &fakeSearcher{},
			Extractor: &fakeExtractor{},
			Reranker:  &fakeRanker{},
			Clients:   staticClients{c: completer},
			Logger:    testLogger(),
		})

		ch := p.Run(ctx, Request{Query: "hi"})
		<-completer.started
		cancel()

		events := collectEvents(t, ch)
		require.NotEmpty(t, events, "run %d", i)

		terminals := 0
		for _, ev := range events {
			if ev.Type == EventEnd || ev.Type == EventError {
				terminals++
			}
		}
		require.Equal(t, 1, terminals, "run %d", i)
		last := events[len(events)-1]
		require.Equal(t, EventError, last.Type, "run %d", i)
	}
}

func TestRunHistoryAppearsInSynthesisMessages(t *testing.T) {
	client := &fakeCompleter{
		completeOut:  "<question>not_needed</question>",
		streamDeltas: []string{"ok"},
	}
	p := newTestPipeline(client, &fakeSearcher{}, &fakeExtractor{}, &fakeRanker{}, nil)

	history := []Message{
		{Role: llm.RoleUser, Content: "earlier question"},
		{Role: llm.RoleAssistant, Content: "earlier answer"},
	}
	collectEvents(t, p.Run(context.Background(), Request{Query: "thanks", History: history}))

	require.Len(t, client.streamCalls, 1)
	msgs := client.streamCalls[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "earlier question", msgs[1].Content)
	assert.Equal(t, "earlier answer", msgs[2].Content)
	assert.Equal(t, "thanks", msgs[3].Content)
}
