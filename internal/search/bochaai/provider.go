// Package bochaai implements the search.Provider interface for the
// BochaAI web search API.
package bochaai

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
	providerName = "bochaai"

	// APIEndpoint is the BochaAI web search endpoint.
	APIEndpoint = "https://api.bochaai.com/v1/web-search"
)

// Provider implements the unified search.Provider interface.
type Provider struct {
	apiKey   string
	endpoint string
	client   search.HTTPClient
}

type searchRequest struct {
	Query     string `json:"query"`
	Freshness string `json:"freshness"`
	Summary   bool   `json:"summary"`
	Count     int    `json:"count"`
	Page      int    `json:"page"`
}

// bochaaiResponse mirrors the nested Bing-style schema BochaAI returns.
type bochaaiResponse struct {
	Data struct {
		WebPages struct {
			Value []bochaaiPage `json:"value"`
		} `json:"webPages"`
	} `json:"data"`
}

type bochaaiPage struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	Summary       string `json:"summary"`
	SiteIcon      string `json:"siteIcon"`
	DatePublished string `json:"datePublished"`
}

// New creates a BochaAI provider, or nil when no API key is configured.
func New(cfg config.BochaAIConfig) *Provider {
	if cfg.APIKey == "" {
		return nil
	}
	return &Provider{
		apiKey:   cfg.APIKey,
		endpoint: APIEndpoint,
		client:   search.NewRateLimitedClient(),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// Search executes a web search against the BochaAI API. Summaries are
// requested so the snippet content is substantial enough for ranking.
func (p *Provider) Search(ctx context.Context, logger *logrus.Logger, query string, opts search.Options) (*search.Response, error) {
	count := opts.MaxResults
	if count <= 0 {
		count = 10
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}

	payload, err := json.Marshal(searchRequest{
		Query:     query,
		Freshness: "noLimit",
		Summary:   true,
		Count:     count,
		Page:      page,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	logger.WithFields(logrus.Fields{
		"provider": providerName,
		"query":    query,
	}).Debug("BochaAI search parameters")

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

	var parsed bochaaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &search.ProviderError{
			Provider: providerName,
			Kind:     search.ErrMalformed,
			Err:      fmt.Errorf("failed to parse response: %w", err),
		}
	}

	pages := parsed.Data.WebPages.Value
	if pages == nil {
		logger.WithField("provider", providerName).Warn("Unexpected BochaAI response structure, returning empty result set")
		return &search.Response{Results: []search.Result{}}, nil
	}

	results := make([]search.Result, 0, len(pages))
	for _, page := range pages {
		title := page.Name
		if title == "" {
			title = page.Title
		}
		content := page.Summary
		if content == "" {
			content = page.Snippet
		}
		results = append(results, search.Result{
			Title:         title,
			URL:           page.URL,
			Content:       content,
			ImageURL:      page.SiteIcon,
			PublishedDate: page.DatePublished,
		})
	}

	logger.WithFields(logrus.Fields{
		"provider":     providerName,
		"query":        query,
		"result_count": len(results),
	}).Info("BochaAI search completed")

	return &search.Response{Results: results}, nil
}
