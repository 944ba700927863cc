package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/sammcj/answer-engine/internal/llm"
	"github.com/sirupsen/logrus"
)

// QueryKind tags the rephraser's classification of a turn.
type QueryKind string

const (
	// QueryNotNeeded means the turn needs no web search (greeting,
	// writing task).
	QueryNotNeeded QueryKind = "not_needed"

	// QuerySummarize means the user asked for a summary of supplied links.
	QuerySummarize QueryKind = "summarize"

	// QueryStandalone is a self-contained search question, optionally
	// with explicit links the user referenced.
	QueryStandalone QueryKind = "standalone"
)

// RephrasedQuery is the tagged result of query rephrasing.
type RephrasedQuery struct {
	Kind  QueryKind
	Text  string
	Links []string
}

var (
	questionBlock = regexp.MustCompile(`(?s)<question>(.*?)</question>`)
	linksBlock    = regexp.MustCompile(`(?s)<links>(.*?)</links>`)
)

// Rephraser turns a conversational follow-up into a standalone search
// query via an LLM classification call.
type Rephraser struct {
	client Completer
	logger *logrus.Logger
}

// NewRephraser creates a rephraser over the given chat client.
func NewRephraser(client Completer, logger *logrus.Logger) *Rephraser {
	return &Rephraser{client: client, logger: logger}
}

// Rephrase classifies and rewrites one turn. Failures never fail the
// request: a transport error or unparseable model output falls back to
// treating the raw query as a standalone question.
func (r *Rephraser) Rephrase(ctx context.Context, history []Message, query string) RephrasedQuery {
	prompt := buildRetrieverPrompt(history, query)

	out, err := r.client.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		r.logger.WithError(err).Warn("Rephrase completion failed, searching with the raw query")
		return RephrasedQuery{Kind: QueryStandalone, Text: query}
	}

	parsed, ok := parseRephrased(out)
	if !ok {
		r.logger.WithField("output", truncateForLog(out)).Warn("Unparseable rephraser output, searching with the raw query")
		return RephrasedQuery{Kind: QueryStandalone, Text: query}
	}

	r.logger.WithFields(logrus.Fields{
		"kind":  parsed.Kind,
		"links": len(parsed.Links),
	}).Debug("Query rephrased")

	return parsed
}

// parseRephrased parses the question/links block mini-language. The
// links block is optional and treated as empty when absent.
func parseRephrased(out string) (RephrasedQuery, bool) {
	m := questionBlock.FindStringSubmatch(out)
	if m == nil {
		return RephrasedQuery{}, false
	}
	question := strings.TrimSpace(m[1])
	if question == "" {
		return RephrasedQuery{}, false
	}

	var links []string
	if lm := linksBlock.FindStringSubmatch(out); lm != nil {
		for _, line := range strings.Split(lm[1], "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				links = append(links, line)
			}
		}
	}

	switch strings.ToLower(question) {
	case "not_needed":
		return RephrasedQuery{Kind: QueryNotNeeded}, true
	case "summarize":
		if len(links) == 0 {
			return RephrasedQuery{}, false
		}
		return RephrasedQuery{Kind: QuerySummarize, Text: "summarize", Links: links}, true
	default:
		return RephrasedQuery{Kind: QueryStandalone, Text: question, Links: links}, true
	}
}

func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
