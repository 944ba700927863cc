package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sammcj/answer-engine/internal/config"
	"github.com/sammcj/answer-engine/internal/search"
	"github.com/sammcj/answer-engine/internal/utils/httpclient"
	"github.com/sirupsen/logrus"
)

// socialMediaDomains are excluded from crawling; their pages are login
// walls that waste crawl budget.
var socialMediaDomains = []string{
	"facebook.com", "twitter.com", "x.com", "linkedin.com",
	"instagram.com", "pinterest.com", "tiktok.com", "snapchat.com", "reddit.com",
}

// Crawl4AIClient talks to a Crawl4AI deployment's batch /crawl endpoint,
// handling multiple URLs in one round trip.
type Crawl4AIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
}

type crawlRequest struct {
	URLs          []string      `json:"urls"`
	CrawlerConfig crawlerConfig `json:"crawler_config"`
}

type crawlerConfig struct {
	Type   string              `json:"type"`
	Params crawlerConfigParams `json:"params"`
}

type crawlerConfigParams struct {
	ScrapingStrategy          scrapingStrategy `json:"scraping_strategy"`
	ExcludeSocialMediaDomains []string         `json:"exclude_social_media_domains"`
	Stream                    bool             `json:"stream"`
}

type scrapingStrategy struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

type crawlResponse struct {
	Success bool          `json:"success"`
	Results []crawlResult `json:"results"`
	Error   string        `json:"error"`
	Message string        `json:"message"`
}

type crawlResult struct {
	URL         string         `json:"url"`
	Markdown    string         `json:"markdown"`
	CleanedHTML string         `json:"cleaned_html"`
	HTML        string         `json:"html"`
	Text        string         `json:"text"`
	Title       string         `json:"title"`
	Metadata    map[string]any `json:"metadata"`
}

// NewCrawl4AIClient creates a client for the remote batch strategy.
func NewCrawl4AIClient(cfg config.Crawl4AIConfig, logger *logrus.Logger) *Crawl4AIClient {
	// Extra buffer over the configured crawl timeout for batch overhead.
	return &Crawl4AIClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpclient.NewHTTPClientWithProxyAndLogger(cfg.Timeout()+20*time.Second, logger),
		logger:  logger,
	}
}

// ExtractBatch crawls all URLs in a single request. An error is returned
// only when the batch call itself fails (the caller falls back to the
// local strategy); per-URL misses inside a successful batch become
// placeholder documents.
func (c *Crawl4AIClient) ExtractBatch(ctx context.Context, urls []string) ([]Document, error) {
	payload, err := json.Marshal(crawlRequest{
		URLs: urls,
		CrawlerConfig: crawlerConfig{
			Type: "CrawlerRunConfig",
			Params: crawlerConfigParams{
				ScrapingStrategy: scrapingStrategy{
					Type:   "WebScrapingStrategy",
					Params: map[string]any{},
				},
				ExcludeSocialMediaDomains: socialMediaDomains,
				Stream:                    false,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal crawl request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/crawl", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.WithField("url_count", len(urls)).Debug("Submitting Crawl4AI batch request")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crawl request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read crawl response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Crawl4AI API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed crawlResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse crawl response: %w", err)
	}
	if !parsed.Success {
		reason := parsed.Error
		if reason == "" {
			reason = parsed.Message
		}
		if reason == "" {
			reason = "unknown error"
		}
		return nil, fmt.Errorf("Crawl4AI batch extraction failed: %s", reason)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("no results returned from Crawl4AI batch processing")
	}

	byURL := make(map[string]crawlResult, len(parsed.Results))
	for _, r := range parsed.Results {
		byURL[search.NormalizeURL(r.URL)] = r
	}

	// One document per input URL, in input order, placeholders for misses.
	docs := make([]Document, len(urls))
	for i, u := range urls {
		r, ok := byURL[search.NormalizeURL(u)]
		if !ok {
			docs[i] = failedDocument(u, MethodCrawl4AI, fmt.Errorf("URL missing from batch response"))
			continue
		}
		content := preferredContent(r)
		if content == "" {
			docs[i] = failedDocument(u, MethodCrawl4AI, fmt.Errorf("no usable content in crawl result"))
			continue
		}
		docs[i] = Document{
			URL:    u,
			Title:  resultTitle(r, u),
			Text:   strings.TrimSpace(content),
			Method: MethodCrawl4AI,
		}
	}

	c.logger.WithFields(logrus.Fields{
		"url_count": len(urls),
		"returned":  len(parsed.Results),
	}).Info("Crawl4AI batch extraction completed")

	return docs, nil
}

// preferredContent applies the content preference order:
// markdown > cleaned HTML > raw HTML > plain text > empty.
func preferredContent(r crawlResult) string {
	for _, candidate := range []string{r.Markdown, r.CleanedHTML, r.HTML, r.Text} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

func resultTitle(r crawlResult, fallback string) string {
	if t, ok := r.Metadata["title"].(string); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if strings.TrimSpace(r.Title) != "" {
		return strings.TrimSpace(r.Title)
	}
	return fallback
}
