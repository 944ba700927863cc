package search

import (
	"net/http"
	"time"

	"github.com/sammcj/answer-engine/internal/utils/httpclient"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single provider HTTP call.
	DefaultTimeout = 15 * time.Second

	// requestsPerSecond is a polite ceiling shared by all calls through
	// one client instance.
	requestsPerSecond = 5
)

// HTTPClient is the subset of http.Client the adapters need; tests
// substitute their own implementation.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RateLimitedClient wraps an HTTP client with a token-bucket limiter so
// bursty fan-outs don't hammer a single backend.
type RateLimitedClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewRateLimitedClient creates a proxy-aware, rate-limited HTTP client
// with the default provider timeout.
func NewRateLimitedClient() *RateLimitedClient {
	return &RateLimitedClient{
		client:  httpclient.NewHTTPClientWithProxy(DefaultTimeout),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// Do waits for limiter admission, then performs the request. The wait
// respects the request context so cancellation is not delayed.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.client.Do(req)
}
