package llm

import (
	"sync"

	"github.com/sammcj/answer-engine/internal/config"
)

// Cache holds chat clients keyed by model identifier so per-request
// model overrides reuse connections. It is an explicit, explicitly
// owned cache with invalidation, not lazy global state: the process
// creates one Cache and passes it where needed.
type Cache struct {
	mu      sync.Mutex
	clients map[string]*Client
	base    config.LLMConfig
}

// NewCache creates a client cache; base supplies the endpoint and key
// shared by every model.
func NewCache(base config.LLMConfig) *Cache {
	return &Cache{
		clients: make(map[string]*Client),
		base:    base,
	}
}

// Get returns the client for the given model, creating it on first use.
// An empty model selects the configured default.
func (c *Cache) Get(model string) (*Client, error) {
	cfg := c.base
	if model != "" {
		cfg.Model = model
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[cfg.Model]; ok {
		return client, nil
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c.clients[cfg.Model] = client
	return client, nil
}

// Invalidate drops the cached client for a model, or every client when
// model is empty.
func (c *Cache) Invalidate(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if model == "" {
		c.clients = make(map[string]*Client)
		return
	}
	delete(c.clients, model)
}
