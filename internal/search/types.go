// Package search defines the normalized search result model, the
// provider capability interface and the registry that fans a query out
// across the configured backends.
package search

import (
	"net/url"
	"strings"
)

// Result represents a unified search result. URL is the natural key:
// the merged result set holds at most one entry per normalized URL.
type Result struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Content       string   `json:"content,omitempty"`
	ImageURL      string   `json:"img_src,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
	Score         *float64 `json:"score,omitempty"`
}

// Response represents a unified response structure from one provider.
type Response struct {
	Results     []Result `json:"results"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Options carries provider-neutral search parameters. Adapters map the
// fields they understand and ignore the rest.
type Options struct {
	Language   string
	TimeRange  string
	MaxResults int
	Page       int
}

// NormalizeURL reduces a URL to its scheme+host+path form for
// deduplication. The host is lowercased, the query string and fragment
// are dropped and a trailing slash on the path is trimmed, so
// near-identical links from different providers collapse to one key.
// Unparseable input is returned trimmed and lowercased as a best effort.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	return scheme + "://" + strings.ToLower(u.Host) + path
}
