package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/redis/go-redis/v9"

	"github.com/catowabisabi/newsfilter/pkg/domain"
)

// RedisCache is the Redis-backed hot cache. Entries live under
// "article:<fingerprint>" as JSON, and each symbol keeps a sorted set
// "symbol:<SYM>" scored by store time for recency reads.
type RedisCache struct {
	client *redis.Client
	nowFn  func() time.Time
}

// redis keys expire on their own; the sorted sets are pruned by Cleanup
const redisEntryTTL = ActiveRetention + time.Hour

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisCache{client: client, nowFn: time.Now}, nil
}

func entryKey(fingerprint string) string { return "article:" + fingerprint }
func symbolKey(symbol string) string     { return "symbol:" + strings.ToUpper(symbol) }

// Upsert stores articles for a symbol, skipping existing fingerprints
func (c *RedisCache) Upsert(ctx context.Context, symbol string, articles []domain.Article) (int, error) {
	symbol = strings.ToUpper(symbol)
	now := c.nowFn()

	inserted := 0
	for i := range articles {
		fp := articles[i].Fingerprint
		if fp == "" {
			continue
		}

		a := articles[i]
		a.Symbol = symbol
		data, err := json.Marshal(entry{Article: a, StoredAt: now})
		if err != nil {
			return inserted, fmt.Errorf("marshal cache entry %s: %w", fp, err)
		}

		// SetNX keeps the first write, a duplicate fingerprint is a no-op
		ok, err := c.client.SetNX(ctx, entryKey(fp), data, redisEntryTTL).Result()
		if err != nil {
			return inserted, fmt.Errorf("cache set %s: %w", fp, err)
		}
		if !ok {
			continue
		}

		err = c.client.ZAdd(ctx, symbolKey(symbol), redis.Z{Score: float64(now.UnixMilli()), Member: fp}).Err()
		if err != nil {
			return inserted, fmt.Errorf("cache index %s: %w", symbol, err)
		}
		inserted++
	}

	if inserted > 0 {
		c.client.Expire(ctx, symbolKey(symbol), redisEntryTTL)
	}

	return inserted, nil
}

// GetRecent returns articles for a symbol stored within maxAge, newest first
func (c *RedisCache) GetRecent(ctx context.Context, symbol string, limit int, maxAge time.Duration) ([]domain.Article, error) {
	cutoff := c.nowFn().Add(-maxAge).UnixMilli()

	opt := &redis.ZRangeBy{Min: fmt.Sprintf("%d", cutoff), Max: "+inf"}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	fps, err := c.client.ZRevRangeByScore(ctx, symbolKey(symbol), opt).Result()
	if err != nil {
		return nil, fmt.Errorf("cache range %s: %w", symbol, err)
	}
	if len(fps) == 0 {
		return nil, nil
	}

	keys := make([]string, len(fps))
	for i, fp := range fps {
		keys[i] = entryKey(fp)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache mget %s: %w", symbol, err)
	}

	articles := make([]domain.Article, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok { // entry expired under the index, skip it
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			lgr.Printf("[WARN] corrupt cache entry %s: %v", fps[i], err)
			continue
		}
		articles = append(articles, e.Article)
	}
	return articles, nil
}

// UpdateTranslation patches translated fields, monotonic. Missing entries
// are silently skipped, the hot tier may have evicted them already.
func (c *RedisCache) UpdateTranslation(ctx context.Context, fingerprint, titleCn, summaryCn string) error {
	key := entryKey(fingerprint)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("cache get %s: %w", fingerprint, err)
	}

	var e entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return fmt.Errorf("unmarshal cache entry %s: %w", fingerprint, err)
	}

	if !patchTranslation(&e, titleCn, summaryCn) {
		return nil
	}

	updated, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", fingerprint, err)
	}
	if err := c.client.Set(ctx, key, updated, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("cache update %s: %w", fingerprint, err)
	}
	return nil
}

// Cleanup applies the retention policy across all symbol indexes
func (c *RedisCache) Cleanup(ctx context.Context) error {
	now := c.nowFn()

	iter := c.client.Scan(ctx, 0, "symbol:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.cleanupSymbol(ctx, iter.Val(), now); err != nil {
			lgr.Printf("[WARN] cleanup %s: %v", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	return nil
}

// cleanupSymbol evicts entries for one symbol index key. Symbols with any
// entry still inside the HotWindow read window keep older entries up to
// ActiveRetention, quiet symbols are trimmed to HotWindow.
func (c *RedisCache) cleanupSymbol(ctx context.Context, key string, now time.Time) error {
	freshCutoff := now.Add(-HotWindow).UnixMilli()

	active, err := c.client.ZCount(ctx, key, fmt.Sprintf("%d", freshCutoff), "+inf").Result()
	if err != nil {
		return err
	}

	horizon := HotWindow
	if active > 0 {
		horizon = ActiveRetention
	}
	cutoff := now.Add(-horizon).UnixMilli()

	stale, err := c.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("(%d", cutoff)}).Result()
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		keys := make([]string, len(stale))
		for i, fp := range stale {
			keys[i] = entryKey(fp)
		}
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
		if err := c.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff)).Err(); err != nil {
			return err
		}
	}

	// drop the index entirely when nothing survived
	n, err := c.client.ZCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return c.client.Del(ctx, key).Err()
	}
	return nil
}

// Stats returns entry and symbol counts
func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	iter := c.client.Scan(ctx, 0, "symbol:*", 100).Iterator()
	for iter.Next(ctx) {
		stats.Symbols++
		n, err := c.client.ZCard(ctx, iter.Val()).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("cache zcard %s: %w", iter.Val(), err)
		}
		stats.Entries += int(n)
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("cache scan: %w", err)
	}
	return stats, nil
}

// Close closes the underlying Redis client
func (c *RedisCache) Close() error { return c.client.Close() }
