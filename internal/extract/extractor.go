// Package extract retrieves full-page content for candidate URLs via
// one of two interchangeable strategies: a local fetch-and-parse path
// and a remote Crawl4AI batch service. Failures never drop a URL from
// the output set; they yield a tagged placeholder document instead.
package extract

import (
	"context"
	"strings"

	"github.com/sammcj/answer-engine/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Method identifies which strategy produced a document.
type Method string

const (
	MethodLocal    Method = "local"
	MethodCrawl4AI Method = "crawl4ai"
)

// maxConcurrentFetches caps parallel local fetches per extraction run.
const maxConcurrentFetches = 8

// Document is the extraction output for one URL. When Failed is true,
// Text carries an explanatory message and Title a generic marker so
// downstream stages can treat the entry uniformly.
type Document struct {
	URL    string
	Title  string
	Text   string
	Method Method
	Failed bool
}

// Usable reports whether the document carries real content.
func (d Document) Usable() bool {
	return !d.Failed && strings.TrimSpace(d.Text) != ""
}

// failedDocument builds the placeholder substituted for an unreachable URL.
func failedDocument(url string, method Method, cause error) Document {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return Document{
		URL:    url,
		Title:  "Extraction Failed",
		Text:   "Failed to retrieve content: " + msg,
		Method: method,
		Failed: true,
	}
}

// Extractor dispatches to the configured strategy with deterministic
// fallback from the remote batch path to per-URL local extraction.
type Extractor struct {
	method config.ExtractionMethod
	local  *LocalExtractor
	remote *Crawl4AIClient
	logger *logrus.Logger
}

// New builds an extractor for the configured method. When crawl4ai is
// selected but not configured, the extractor silently runs local-only.
func New(cfg *config.Config, logger *logrus.Logger) *Extractor {
	e := &Extractor{
		method: cfg.Extraction,
		local:  NewLocalExtractor(logger),
		logger: logger,
	}
	if cfg.Extraction == config.ExtractionCrawl4AI && cfg.Crawl4AI.BaseURL != "" {
		e.remote = NewCrawl4AIClient(cfg.Crawl4AI, logger)
	} else {
		e.method = config.ExtractionLocal
	}
	return e
}

// Extract returns exactly one document per input URL, in input order.
// It never fails as a whole: a remote batch failure falls back to the
// local strategy, and individual URL failures become placeholders.
func (e *Extractor) Extract(ctx context.Context, urls []string) []Document {
	if len(urls) == 0 {
		return nil
	}

	normalized := make([]string, len(urls))
	for i, u := range urls {
		normalized[i] = ensureScheme(u)
	}

	if e.method == config.ExtractionCrawl4AI {
		docs, err := e.remote.ExtractBatch(ctx, normalized)
		if err == nil {
			return docs
		}
		e.logger.WithError(err).Warn("Crawl4AI batch extraction failed, falling back to local strategy")
	}

	return e.extractLocal(ctx, normalized)
}

// extractLocal runs the local strategy per URL with bounded concurrency.
// Per-URL failures are isolated; the group never returns an error.
func (e *Extractor) extractLocal(ctx context.Context, urls []string) []Document {
	docs := make([]Document, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, u := range urls {
		g.Go(func() error {
			doc, err := e.local.Extract(gctx, u)
			if err != nil {
				e.logger.WithField("url", u).WithError(err).Warn("Local extraction failed for URL")
				docs[i] = failedDocument(u, MethodLocal, err)
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	_ = g.Wait()

	return docs
}

// ensureScheme prefixes bare host links with https.
func ensureScheme(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + u
}
