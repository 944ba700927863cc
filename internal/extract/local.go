package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/sammcj/answer-engine/internal/utils/httpclient"
	"github.com/sirupsen/logrus"
)

const (
	// fetchTimeout bounds a single page fetch.
	fetchTimeout = 30 * time.Second

	// maxContentSize limits response bodies to prevent memory issues (20MB).
	maxContentSize = 20 * 1024 * 1024

	userAgent = "Mozilla/5.0 (compatible; answer-engine/1.0)"
)

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// LocalExtractor fetches raw bytes directly and parses them in-process:
// PDF bytes are parsed to text, HTML is converted to readable plain text
// with anchor targets discarded.
type LocalExtractor struct {
	client    *http.Client
	converter *md.Converter
	logger    *logrus.Logger
}

// NewLocalExtractor creates the local extraction strategy.
func NewLocalExtractor(logger *logrus.Logger) *LocalExtractor {
	conv := md.NewConverter("", true, nil)
	// Keep anchor text, drop the href target.
	conv.AddRules(md.Rule{
		Filter: []string{"a"},
		Replacement: func(content string, _ *goquery.Selection, _ *md.Options) *string {
			return md.String(content)
		},
	})

	return &LocalExtractor{
		client:    httpclient.NewHTTPClientWithProxy(fetchTimeout),
		converter: conv,
		logger:    logger,
	}
}

// Extract fetches one URL and returns its readable text. The returned
// document always carries the input URL; callers convert errors into
// placeholder documents.
func (e *LocalExtractor) Extract(ctx context.Context, targetURL string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return Document{}, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			e.logger.WithError(err).Warn("Failed to close response body")
		}
	}()

	if resp.StatusCode >= 400 {
		return Document{}, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentSize))
	if err != nil {
		return Document{}, fmt.Errorf("failed to read response body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") || looksLikePDF(body) {
		text, err := pdfToText(body)
		if err != nil {
			return Document{}, fmt.Errorf("failed to parse PDF: %w", err)
		}
		return Document{
			URL:    targetURL,
			Title:  "PDF Document",
			Text:   normalizeWhitespace(text),
			Method: MethodLocal,
		}, nil
	}

	html := string(body)
	text, err := e.htmlToText(html)
	if err != nil {
		return Document{}, fmt.Errorf("failed to convert HTML: %w", err)
	}

	title := extractTitle(html)
	if title == "" {
		title = targetURL
	}

	e.logger.WithFields(logrus.Fields{
		"url":         targetURL,
		"text_length": len(text),
	}).Debug("Local extraction completed")

	return Document{
		URL:    targetURL,
		Title:  title,
		Text:   normalizeWhitespace(text),
		Method: MethodLocal,
	}, nil
}

// htmlToText converts HTML to readable plain text via the markdown
// converter; the markdown markup that survives whitespace normalization
// is harmless to ranking and synthesis.
func (e *LocalExtractor) htmlToText(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	return e.converter.ConvertString(html)
}

// extractTitle pulls the document title, preferring a proper parse with
// a pattern-match fallback for malformed markup.
func extractTitle(html string) string {
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
			return title
		}
	}
	if m := titlePattern.FindStringSubmatch(html); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// pdfToText extracts plain text from PDF bytes.
func pdfToText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// looksLikePDF sniffs the PDF magic bytes for servers that mislabel
// content types.
func looksLikePDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// normalizeWhitespace collapses newlines to spaces and runs of
// whitespace to a single space.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
