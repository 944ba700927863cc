package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sammcj/answer-engine/internal/config"
	"github.com/sammcj/answer-engine/internal/extract"
	"github.com/sammcj/answer-engine/internal/llm"
	"github.com/sammcj/answer-engine/internal/rag"
	"github.com/sammcj/answer-engine/internal/search"
	"github.com/sirupsen/logrus"
)

const (
	// maxSources caps how many merged search results feed extraction.
	maxSources = 10

	// maxContextChunks caps how many ranked chunks reach the prompt.
	maxContextChunks = 12
)

// Completer is the chat completion capability the pipeline consumes.
// *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
	Stream(ctx context.Context, messages []llm.Message, fn func(delta string) error) (string, error)
}

// ClientSource resolves a chat client for a (possibly empty) model
// override.
type ClientSource interface {
	Client(model string) (Completer, error)
}

// Searcher is the provider registry capability.
type Searcher interface {
	Select(mode config.OptimizationMode) []search.Provider
	FanOut(ctx context.Context, query string, providers []search.Provider, opts search.Options) (*search.Response, error)
}

// DocumentExtractor is the content extraction capability.
type DocumentExtractor interface {
	Extract(ctx context.Context, urls []string) []extract.Document
}

// ChunkRanker is the reranking capability.
type ChunkRanker interface {
	Rerank(ctx context.Context, query string, chunks []rag.Chunk) []rag.RankedChunk
}

// Recorder receives the final answer for persistence. Optional.
type Recorder interface {
	RecordAnswer(ctx context.Context, chatID, messageID, content string, sources []search.Result) error
}

// Message is one turn of conversation context.
type Message struct {
	Role    llm.Role
	Content string
}

// Request describes one pipeline invocation. It is owned by the caller
// and never mutated.
type Request struct {
	ChatID             string
	MessageID          string
	Query              string
	History            []Message
	Mode               config.OptimizationMode
	SystemInstructions string
	ChatModel          string
}

// Options wires the pipeline's collaborators.
type Options struct {
	Registry  Searcher
	Extractor DocumentExtractor
	Chunker   *rag.Chunker
	Reranker  ChunkRanker
	Clients   ClientSource
	History   Recorder
	Logger    *logrus.Logger
}

// Pipeline drives a full retrieval-augmented answer for one request and
// streams the result. Each invocation owns its own intermediate state;
// a Pipeline value is safe for concurrent use across requests.
type Pipeline struct {
	registry  Searcher
	extractor DocumentExtractor
	chunker   *rag.Chunker
	reranker  ChunkRanker
	clients   ClientSource
	history   Recorder
	logger    *logrus.Logger
}

// New creates a pipeline from its collaborators.
func New(opts Options) *Pipeline {
	chunker := opts.Chunker
	if chunker == nil {
		chunker = rag.NewChunker(rag.DefaultChunkSize, rag.DefaultChunkOverlap)
	}
	return &Pipeline{
		registry:  opts.Registry,
		extractor: opts.Extractor,
		chunker:   chunker,
		reranker:  opts.Reranker,
		clients:   opts.Clients,
		history:   opts.History,
		logger:    opts.Logger,
	}
}

// CacheSource adapts an llm.Cache to the ClientSource interface.
type CacheSource struct {
	Cache *llm.Cache
}

// Client resolves a chat client for the given model override.
func (s CacheSource) Client(model string) (Completer, error) {
	client, err := s.Cache.Get(model)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Run starts the pipeline for one request and returns its ordered event
// stream. The channel delivers Data events in LLM emission order, one
// Sources event, and exactly one terminal event (End or Error), after
// which the channel is closed. Cancelling ctx stops in-flight work and
// terminates the stream.
func (p *Pipeline) Run(ctx context.Context, req Request) <-chan StreamEvent {
	em := newEmitter(ctx.Done())
	go p.run(ctx, req, em)
	return em.ch
}

func (p *Pipeline) run(ctx context.Context, req Request, em *emitter) {
	client, err := p.clients.Client(req.ChatModel)
	if err != nil {
		p.logger.WithError(err).Error("No usable chat model")
		em.terminate(StreamEvent{Type: EventError, Err: "no usable chat model is configured"})
		return
	}

	rephrased := NewRephraser(client, p.logger).Rephrase(ctx, req.History, req.Query)

	sources, suggestions, contextBlock, failed := p.retrieve(ctx, req, rephrased)
	if failed {
		em.terminate(StreamEvent{Type: EventError, Err: "failed to search the web for this question, please try again later"})
		return
	}

	if !em.send(StreamEvent{Type: EventSources, Sources: sources, Suggestions: suggestions}) {
		em.terminate(StreamEvent{Type: EventError, Err: "client disconnected"})
		return
	}

	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: buildResponsePrompt(req.SystemInstructions, contextBlock, time.Now()),
	})
	for _, m := range req.History {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Query})

	answer, err := client.Stream(ctx, messages, func(delta string) error {
		if !em.send(StreamEvent{Type: EventData, Data: delta}) {
			return fmt.Errorf("consumer gone")
		}
		return nil
	})
	if err != nil {
		p.logger.WithError(err).Error("Answer synthesis failed")
		em.terminate(StreamEvent{Type: EventError, Err: "an error occurred while generating the answer"})
		return
	}

	if p.history != nil {
		if err := p.history.RecordAnswer(ctx, req.ChatID, req.MessageID, answer, sources); err != nil {
			p.logger.WithError(err).Warn("Failed to persist assistant message")
		}
	}

	em.terminate(StreamEvent{Type: EventEnd})
}

// retrieve gathers and ranks context for the request. It returns the
// final source list, the providers' query suggestions, the formatted
// context block and whether retrieval failed hard (every provider
// exhausted).
func (p *Pipeline) retrieve(ctx context.Context, req Request, rephrased RephrasedQuery) (sources []search.Result, suggestions []string, contextBlock string, failed bool) {
	sources = []search.Result{}

	if rephrased.Kind == QueryNotNeeded {
		return sources, nil, "", false
	}

	// The query chunks are ranked against: the rephrased standalone
	// question, or the raw turn for summaries ("summarize" carries no
	// ranking signal).
	rankQuery := rephrased.Text
	if rephrased.Kind == QuerySummarize {
		rankQuery = req.Query
	}

	var urls []string
	if len(rephrased.Links) > 0 {
		urls = rephrased.Links
	} else {
		resp, err := p.registry.FanOut(ctx, rephrased.Text, p.registry.Select(req.Mode), search.Options{MaxResults: maxSources})
		if err != nil {
			p.logger.WithError(err).Error("Search fan-out exhausted all providers")
			return nil, nil, "", true
		}
		suggestions = resp.Suggestions
		results := resp.Results
		if len(results) > maxSources {
			results = results[:maxSources]
		}
		sources = results
		for _, r := range results {
			urls = append(urls, r.URL)
		}
	}

	if len(urls) == 0 {
		return sources, suggestions, "", false
	}

	docs := p.extractor.Extract(ctx, urls)

	// Link-driven requests build their source list from the extracted
	// documents, since no provider results exist.
	if len(rephrased.Links) > 0 {
		for _, d := range docs {
			sources = append(sources, search.Result{Title: d.Title, URL: d.URL})
		}
	}

	sourceIndex := make(map[string]int, len(sources))
	for i, s := range sources {
		sourceIndex[search.NormalizeURL(s.URL)] = i
	}

	var chunks []rag.Chunk
	for _, d := range docs {
		if !d.Usable() {
			continue
		}
		chunks = append(chunks, p.chunker.ChunkDocument(d)...)
	}
	if len(chunks) == 0 {
		return sources, suggestions, "", false
	}

	ranked := p.reranker.Rerank(ctx, rankQuery, chunks)
	if len(ranked) > maxContextChunks {
		ranked = ranked[:maxContextChunks]
	}

	var b strings.Builder
	for _, rc := range ranked {
		num := 0
		if i, ok := sourceIndex[search.NormalizeURL(rc.Chunk.URL)]; ok {
			num = i + 1
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n%s\n\n", num, rc.Chunk.Title, rc.Chunk.URL, rc.Chunk.Text)
	}

	return sources, suggestions, strings.TrimSpace(b.String()), false
}
