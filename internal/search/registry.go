package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sammcj/answer-engine/internal/config"
	"github.com/sirupsen/logrus"
)

// providerOrder is the declaration order of backends. It decides both
// the fan-out invocation order and which duplicate wins during merge.
var providerOrder = []string{"searxng", "tavily", "bochaai"}

// Registry maps provider identifiers to implementations and applies the
// optimization-mode policy. State is per-process and read-only after
// construction; no cross-request synchronisation is needed beyond the
// merge step, which is local to one FanOut call.
type Registry struct {
	providers map[string]Provider
	timeout   time.Duration
	logger    *logrus.Logger
}

// NewRegistry builds a registry over the given providers. Nil providers
// (unconfigured backends) are skipped.
func NewRegistry(logger *logrus.Logger, providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		timeout:   DefaultTimeout,
		logger:    logger,
	}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// WithTimeout overrides the per-provider call timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// HasProviders reports whether any backend is configured.
func (r *Registry) HasProviders() bool {
	return len(r.providers) > 0
}

// Select maps an optimization mode to the ordered set of providers to
// invoke. Speed consults only the low-latency self-hosted meta-search;
// balanced and quality add the external API backends.
func (r *Registry) Select(mode config.OptimizationMode) []Provider {
	var wanted []string
	switch mode {
	case config.ModeSpeed:
		wanted = providerOrder[:1]
	default:
		wanted = providerOrder
	}

	selected := make([]Provider, 0, len(wanted))
	for _, name := range wanted {
		if p, ok := r.providers[name]; ok {
			selected = append(selected, p)
		}
	}

	// A speed request with no searxng configured still needs a backend.
	if len(selected) == 0 {
		for _, name := range providerOrder {
			if p, ok := r.providers[name]; ok {
				selected = append(selected, p)
				break
			}
		}
	}
	return selected
}

// FanOut invokes the given providers concurrently, each with an
// independent timeout, and merges their results deduplicated by
// normalized URL. A provider failure contributes zero results; the
// returned error is non-nil only when every provider failed. When a
// single configured provider fails with an auth error the failure is
// surfaced as a configuration problem.
func (r *Registry) FanOut(ctx context.Context, query string, providers []Provider, opts Options) (*Response, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no search providers configured")
	}

	type outcome struct {
		resp *Response
		err  error
	}
	outcomes := make([]outcome, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			resp, err := p.Search(callCtx, r.logger, query, opts)
			if err != nil {
				var pe *ProviderError
				if !errors.As(err, &pe) {
					err = &ProviderError{Provider: p.Name(), Kind: ErrNetwork, Err: err}
				}
			}
			outcomes[i] = outcome{resp: resp, err: err}
		}(i, p)
	}
	wg.Wait()

	merged := &Response{Results: []Result{}}
	seen := make(map[string]struct{})
	var failures []error

	// Merge in invocation order so the first-queried provider wins ties.
	for i, p := range providers {
		out := outcomes[i]
		if out.err != nil {
			failures = append(failures, out.err)
			r.logger.WithFields(logrus.Fields{
				"provider": p.Name(),
				"query":    query,
			}).WithError(out.err).Warn("Search provider failed, continuing without it")
			continue
		}
		if out.resp == nil {
			continue
		}
		for _, res := range out.resp.Results {
			key := NormalizeURL(res.URL)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged.Results = append(merged.Results, res)
		}
		merged.Suggestions = append(merged.Suggestions, out.resp.Suggestions...)
	}

	if len(failures) == len(providers) {
		agg := errors.Join(failures...)
		if len(providers) == 1 && IsKind(failures[0], ErrAuth) {
			return nil, fmt.Errorf("search provider configuration error: %w", agg)
		}
		return nil, fmt.Errorf("all search providers failed: %w", agg)
	}

	r.logger.WithFields(logrus.Fields{
		"query":        query,
		"providers":    len(providers),
		"failed":       len(failures),
		"result_count": len(merged.Results),
	}).Info("Search fan-out completed")

	return merged, nil
}
