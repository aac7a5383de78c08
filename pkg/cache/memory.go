package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/catowabisabi/newsfilter/pkg/domain"
)

// MemoryCache is the in-process hot cache, used when no Redis address is
// configured and in tests. Same contract as the Redis implementation.
type MemoryCache struct {
	maxEntries int
	mu         sync.RWMutex
	entries    map[string]*entry   // fingerprint -> entry
	symbols    map[string][]string // SYMBOL -> fingerprints in insert order
	nowFn      func() time.Time
}

// NewMemoryCache creates an in-memory hot cache capped at maxEntries
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
		symbols:    make(map[string][]string),
		nowFn:      time.Now,
	}
}

// Upsert stores articles for a symbol, skipping existing fingerprints
func (c *MemoryCache) Upsert(_ context.Context, symbol string, articles []domain.Article) (int, error) {
	symbol = strings.ToUpper(symbol)
	now := c.nowFn()

	c.mu.Lock()
	defer c.mu.Unlock()

	inserted := 0
	for i := range articles {
		fp := articles[i].Fingerprint
		if fp == "" {
			continue
		}
		if _, exists := c.entries[fp]; exists {
			continue
		}
		a := articles[i]
		a.Symbol = symbol
		c.entries[fp] = &entry{Article: a, StoredAt: now}
		c.symbols[symbol] = append(c.symbols[symbol], fp)
		inserted++
	}

	if len(c.entries) > c.maxEntries {
		c.evictOverflowLocked(now)
	}

	return inserted, nil
}

// GetRecent returns articles for a symbol stored within maxAge, newest first
func (c *MemoryCache) GetRecent(_ context.Context, symbol string, limit int, maxAge time.Duration) ([]domain.Article, error) {
	symbol = strings.ToUpper(symbol)
	cutoff := c.nowFn().Add(-maxAge)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var recent []*entry
	for _, fp := range c.symbols[symbol] {
		e, ok := c.entries[fp]
		if !ok || e.StoredAt.Before(cutoff) {
			continue
		}
		recent = append(recent, e)
	}

	sort.Slice(recent, func(i, j int) bool { return recent[i].StoredAt.After(recent[j].StoredAt) })

	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}

	articles := make([]domain.Article, len(recent))
	for i, e := range recent {
		articles[i] = e.Article
	}
	return articles, nil
}

// UpdateTranslation patches translated fields, monotonic
func (c *MemoryCache) UpdateTranslation(_ context.Context, fingerprint, titleCn, summaryCn string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return nil
	}
	patchTranslation(e, titleCn, summaryCn)
	return nil
}

// Cleanup applies the retention policy
func (c *MemoryCache) Cleanup(_ context.Context) error {
	now := c.nowFn()

	c.mu.Lock()
	defer c.mu.Unlock()

	for symbol := range c.symbols {
		c.cleanupSymbolLocked(symbol, now)
	}
	return nil
}

// Stats returns entry and symbol counts
func (c *MemoryCache) Stats(_ context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Entries: len(c.entries), Symbols: len(c.symbols)}, nil
}

// Close is a no-op for the in-memory cache
func (c *MemoryCache) Close() error { return nil }

// cleanupSymbolLocked evicts per the retention policy. A symbol is active
// while any of its entries is still inside the read window; active symbols
// keep older entries up to ActiveRetention, quiet ones only up to
// HotWindow.
func (c *MemoryCache) cleanupSymbolLocked(symbol string, now time.Time) {
	fps := c.symbols[symbol]

	active := false
	for _, fp := range fps {
		if e, ok := c.entries[fp]; ok && now.Sub(e.StoredAt) < HotWindow {
			active = true
			break
		}
	}

	horizon := HotWindow
	if active {
		horizon = ActiveRetention
	}

	var kept []string
	for _, fp := range fps {
		e, ok := c.entries[fp]
		if !ok {
			continue
		}
		if now.Sub(e.StoredAt) > horizon {
			delete(c.entries, fp)
			continue
		}
		kept = append(kept, fp)
	}

	if len(kept) == 0 {
		delete(c.symbols, symbol)
		return
	}
	c.symbols[symbol] = kept
}

// evictOverflowLocked drops the oldest entries when over capacity
func (c *MemoryCache) evictOverflowLocked(now time.Time) {
	for symbol := range c.symbols {
		c.cleanupSymbolLocked(symbol, now)
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type aged struct {
		fp       string
		storedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for fp, e := range c.entries {
		all = append(all, aged{fp: fp, storedAt: e.StoredAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })

	for _, a := range all[:len(c.entries)-c.maxEntries] {
		delete(c.entries, a.fp)
	}

	for symbol, fps := range c.symbols {
		var kept []string
		for _, fp := range fps {
			if _, ok := c.entries[fp]; ok {
				kept = append(kept, fp)
			}
		}
		if len(kept) == 0 {
			delete(c.symbols, symbol)
			continue
		}
		c.symbols[symbol] = kept
	}
}
