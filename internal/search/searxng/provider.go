// Package searxng implements the search.Provider interface for a
// self-hosted SearXNG instance. It is the low-latency backend consulted
// in every optimization mode.
package searxng

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sammcj/answer-engine/internal/config"
	"github.com/sammcj/answer-engine/internal/search"
	"github.com/sirupsen/logrus"
)

const providerName = "searxng"

// Provider implements the unified search.Provider interface.
type Provider struct {
	baseURL  string
	username string
	password string
	client   search.HTTPClient
}

type searxngResponse struct {
	Results     []searxngResult `json:"results"`
	Suggestions []string        `json:"suggestions"`
}

type searxngResult struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	URL           string   `json:"url"`
	ImgSrc        string   `json:"img_src"`
	PublishedDate string   `json:"publishedDate"`
	Score         *float64 `json:"score"`
}

// New creates a SearXNG provider, or nil when no base URL is configured.
func New(cfg config.SearXNGConfig) *Provider {
	if cfg.BaseURL == "" {
		return nil
	}

	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil
	}

	return &Provider{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   search.NewRateLimitedClient(),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// Search executes a web search against the SearXNG JSON API.
func (p *Provider) Search(ctx context.Context, logger *logrus.Logger, query string, opts search.Options) (*search.Response, error) {
	searchURL, err := url.Parse(p.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("categories", "general")
	if opts.Page > 1 {
		params.Set("pageno", fmt.Sprintf("%d", opts.Page))
	}
	if opts.Language != "" && opts.Language != "all" {
		params.Set("language", opts.Language)
	}
	switch opts.TimeRange {
	case "day", "month", "year":
		params.Set("time_range", opts.TimeRange)
	}
	searchURL.RawQuery = params.Encode()

	logger.WithFields(logrus.Fields{
		"provider": providerName,
		"query":    query,
		"baseURL":  p.baseURL,
	}).Debug("SearXNG search parameters")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if p.username != "" && p.password != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(p.username + ":" + p.password))
		req.Header.Set("Authorization", "Basic "+auth)
	}
	req.Header.Set("User-Agent", "answer-engine/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &search.ProviderError{Provider: providerName, Kind: search.ErrNetwork, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, search.StatusError(providerName, resp.StatusCode, resp.Status)
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &search.ProviderError{
			Provider: providerName,
			Kind:     search.ErrMalformed,
			Err:      fmt.Errorf("failed to parse response: %w", err),
		}
	}

	results := make([]search.Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, search.Result{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			ImageURL:      r.ImgSrc,
			PublishedDate: r.PublishedDate,
			Score:         r.Score,
		})
	}

	logger.WithFields(logrus.Fields{
		"provider":     providerName,
		"query":        query,
		"result_count": len(results),
	}).Info("SearXNG search completed")

	return &search.Response{Results: results, Suggestions: parsed.Suggestions}, nil
}
