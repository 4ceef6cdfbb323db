// Package cache memoizes non-streaming chat completions by request fingerprint.
// InMemoryCache serves a single instance; RedisCache is shared across instances.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/felipepmaragno/llmbridge/internal/domain"
)

const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 100
)

// Cache defines the interface for response caching backends.
// A zero ttl in Set means the backend default.
type Cache interface {
	Get(ctx context.Context, key string) (*domain.CompletionResponse, bool)
	Set(ctx context.Context, key string, resp *domain.CompletionResponse, ttl time.Duration) error
}

// GenerateCacheKey hashes the fields that determine a completion. The fields
// are marshaled from a map so the encoding has sorted keys.
func GenerateCacheKey(req domain.CompletionRequest) string {
	data, _ := json.Marshal(map[string]any{
		"model":       req.Model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
		"top_p":       req.TopP,
		"max_tokens":  req.MaxTokens,
		"tools":       req.Tools,
		"tool_choice": req.ToolChoice,
	})

	hash := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(hash[:])
}

// Entry is a cached response with its bookkeeping.
type Entry struct {
	Response  *domain.CompletionResponse
	Timestamp time.Time
	TTL       time.Duration
	Hits      int
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

// Stats is a point-in-time view of an InMemoryCache.
type Stats struct {
	Size    int   `json:"size"`
	MaxSize int   `json:"max_size"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// InMemoryCache holds at most maxSize entries. When full, Set evicts the entry
// with the oldest insertion time; reads do not refresh it.
type InMemoryCache struct {
	mu      sync.Mutex
	items   map[string]*Entry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	hits    int64
	misses  int64
}

type Option func(*InMemoryCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *InMemoryCache) {
		c.now = now
	}
}

func NewInMemoryCache(maxSize int, ttl time.Duration, opts ...Option) *InMemoryCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &InMemoryCache{
		items:   make(map[string]*Entry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (*domain.CompletionResponse, bool) {
	entry, ok := c.Lookup(key)
	if !ok {
		return nil, false
	}
	return entry.Response, true
}

// Lookup returns a copy of the entry. An expired entry is removed and reported
// as a miss.
func (c *InMemoryCache) Lookup(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	if entry.expired(c.now()) {
		delete(c.items, key)
		c.misses++
		return Entry{}, false
	}

	entry.Hits++
	c.hits++
	return *entry, true
}

func (c *InMemoryCache) Set(ctx context.Context, key string, resp *domain.CompletionResponse, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictOldest()
	}

	c.items[key] = &Entry{
		Response:  resp,
		Timestamp: c.now(),
		TTL:       ttl,
	}
	return nil
}

func (c *InMemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.items {
		if oldestKey == "" || entry.Timestamp.Before(oldest) {
			oldestKey, oldest = key, entry.Timestamp
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*Entry)
	c.hits, c.misses = 0, 0
}

// Purge removes expired entries and returns how many were removed.
func (c *InMemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.items {
		if entry.expired(now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

func (c *InMemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:    len(c.items),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// RunJanitor purges expired entries every interval until ctx is done.
func (c *InMemoryCache) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}
