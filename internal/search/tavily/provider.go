// Package tavily implements the search.Provider interface for the
// Tavily search API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sammcj/answer-engine/internal/config"
	"github.com/sammcj/answer-engine/internal/search"
	"github.com/sirupsen/logrus"
)

const (
	providerName = "tavily"

	// APIBaseURL is the base URL for the Tavily API.
	APIBaseURL = "https://api.tavily.com"
)

// Provider implements the unified search.Provider interface.
type Provider struct {
	apiKey  string
	baseURL string
	client  search.HTTPClient
}

type searchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type searchResponse struct {
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Content       string   `json:"content"`
	PublishedDate string   `json:"published_date"`
	Score         *float64 `json:"score"`
}

// New creates a Tavily provider, or nil when no API key is configured.
func New(cfg config.TavilyConfig) *Provider {
	if cfg.APIKey == "" {
		return nil
	}
	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: APIBaseURL,
		client:  search.NewRateLimitedClient(),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// Search executes a web search against the Tavily REST API. Tavily does
// not provide suggestions, so the response carries results only.
func (p *Provider) Search(ctx context.Context, logger *logrus.Logger, query string, opts search.Options) (*search.Response, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	payload, err := json.Marshal(searchRequest{
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	logger.WithFields(logrus.Fields{
		"provider": providerName,
		"query":    query,
	}).Debug("Tavily search parameters")

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
		return nil, search.StatusError(providerName, resp.StatusCode, string(body))
	}

	var parsed searchResponse
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
			PublishedDate: r.PublishedDate,
			Score:         r.Score,
		})
	}

	logger.WithFields(logrus.Fields{
		"provider":     providerName,
		"query":        query,
		"result_count": len(results),
	}).Info("Tavily search completed")

	return &search.Response{Results: results}, nil
}
