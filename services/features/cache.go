package features

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"quant-backtest/services/engine"
)

// Cache keeps enriched frames keyed by (instrument, range, feature params,
// engine version), so repeated runs over the same data skip recomputation.
type Cache struct {
	mu    sync.RWMutex
	cache map[string][]engine.Bar
}

func NewCache() *Cache {
	return &Cache{cache: make(map[string][]engine.Bar)}
}

func (c *Cache) Key(instrument string, from, to time.Time, cfg Config) string {
	params, _ := json.Marshal(cfg)
	sum := sha256.Sum256(params)
	return fmt.Sprintf("%s_%d_%d_%x_%s", instrument, from.Unix(), to.Unix(), sum[:8], engine.EngineVersion)
}

func (c *Cache) Get(key string) ([]engine.Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars, ok := c.cache[key]
	return bars, ok
}

func (c *Cache) Set(key string, bars []engine.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = bars
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Enrich returns the cached frame for key or computes and stores it.
func (c *Cache) Enrich(key string, p *Pipeline, bars []engine.Bar) ([]engine.Bar, error) {
	if cached, ok := c.Get(key); ok {
		return cached, nil
	}
	out, err := p.Enrich(bars)
	if err != nil {
		return nil, err
	}
	c.Set(key, out)
	return out, nil
}

// Config exposes the pipeline parameters, used for cache keys.
func (p *Pipeline) Config() Config { return p.cfg }
