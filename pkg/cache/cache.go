// Package cache provides the hot tier of the article lookup pipeline: a
// short-TTL store keyed by article fingerprint with a per-symbol recency
// index. Two implementations are provided, Redis-backed and in-memory,
// selected at construction time.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/catowabisabi/newsfilter/pkg/domain"
)

// ErrNotFound is returned when a key is not found in cache
var ErrNotFound = errors.New("cache: key not found")

const (
	// HotWindow is how far back a cache read looks. Entries older than
	// this are invisible to readers even when still stored.
	HotWindow = time.Hour

	// ActiveRetention is how long entries of an active symbol survive
	// cleanup. A symbol is active while it has any entry inside the read
	// window; its older entries are then kept up to this boundary so
	// actively-traded symbols need fewer origin re-fetches.
	ActiveRetention = 24 * time.Hour
)

// Stats holds hot cache statistics
type Stats struct {
	Entries int `json:"entries"`
	Symbols int `json:"symbols"`
}

// ArticleCache is the hot cache contract. Implementations must treat a
// duplicate fingerprint insert as a no-op and must never regress an
// existing translation on update.
type ArticleCache interface {
	// Upsert stores articles for a symbol, skipping fingerprints already
	// present. Returns the number of newly inserted entries.
	Upsert(ctx context.Context, symbol string, articles []domain.Article) (int, error)

	// GetRecent returns up to limit articles for a symbol stored within
	// maxAge, most recently stored first.
	GetRecent(ctx context.Context, symbol string, limit int, maxAge time.Duration) ([]domain.Article, error)

	// UpdateTranslation patches translated fields for a fingerprint.
	// Monotonic: only non-empty values distinct from the source text are
	// written. Missing fingerprints are not an error.
	UpdateTranslation(ctx context.Context, fingerprint, titleCn, summaryCn string) error

	// Cleanup applies the retention policy: entries older than HotWindow
	// are evicted unless their symbol has any entry still inside the
	// HotWindow read window, in which case eviction waits for the
	// ActiveRetention boundary.
	Cleanup(ctx context.Context) error

	// Stats returns entry and symbol counts
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// entry is the stored representation: the article plus the time it entered
// the hot tier, which drives both the read window and eviction.
type entry struct {
	Article  domain.Article `json:"article"`
	StoredAt time.Time      `json:"stored_at"`
}

// patchTranslation applies the monotonic update rule to a stored entry.
// Returns true when anything changed.
func patchTranslation(e *entry, titleCn, summaryCn string) bool {
	changed := false
	if titleCn != "" && titleCn != e.Article.Title && e.Article.TitleCn != titleCn {
		e.Article.TitleCn = titleCn
		changed = true
	}
	if summaryCn != "" && summaryCn != e.Article.Summary && e.Article.SummaryCn != summaryCn {
		e.Article.SummaryCn = summaryCn
		changed = true
	}
	return changed
}
