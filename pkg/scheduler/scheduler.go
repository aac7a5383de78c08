// Package scheduler runs the background maintenance loops: periodic
// retention sweeps over both storage tiers and the watchlist pre-warmer
// that keeps configured symbols populated from RSS.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/catowabisabi/newsfilter/pkg/domain"
)

// HotCleaner is the hot cache maintenance surface
type HotCleaner interface {
	Cleanup(ctx context.Context) error
	Upsert(ctx context.Context, symbol string, articles []domain.Article) (int, error)
}

// WarmMaintainer is the warm store maintenance surface
type WarmMaintainer interface {
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	UpsertArticles(ctx context.Context, symbol string, articles []domain.Article) (int, error)
}

// FeedSource fetches pre-warm articles for one symbol
type FeedSource interface {
	FetchSymbol(ctx context.Context, symbol string) ([]domain.Article, error)
}

// Config holds scheduler configuration
type Config struct {
	CleanupInterval time.Duration
	PrewarmInterval time.Duration
	RetentionDays   int
	Watchlist       []string
	MaxWorkers      int
}

// Scheduler owns the maintenance goroutines
type Scheduler struct {
	hot    HotCleaner
	warm   WarmMaintainer
	feeds  FeedSource // nil disables pre-warming
	cfg    Config
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. feeds may be nil when no watchlist is
// configured.
func NewScheduler(hot HotCleaner, warm WarmMaintainer, feeds FeedSource, cfg Config) *Scheduler {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.PrewarmInterval == 0 {
		cfg.PrewarmInterval = 30 * time.Minute
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 5
	}
	return &Scheduler{hot: hot, warm: warm, feeds: feeds, cfg: cfg}
}

// Start begins the maintenance loops
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.cleanupWorker(ctx)

	if s.feeds != nil && len(s.cfg.Watchlist) > 0 {
		s.wg.Add(1)
		go s.prewarmWorker(ctx)
	}

	lgr.Printf("[INFO] scheduler started, cleanup every %v, pre-warm every %v for %d symbols",
		s.cfg.CleanupInterval, s.cfg.PrewarmInterval, len(s.cfg.Watchlist))
}

// Stop cancels the loops and waits for them to finish
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

func (s *Scheduler) cleanupWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCleanup(ctx)
		}
	}
}

// RunCleanup performs one maintenance sweep over both tiers. Also called
// directly by the admin cleanup endpoint.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	if err := s.hot.Cleanup(ctx); err != nil {
		lgr.Printf("[WARN] hot cache cleanup: %v", err)
	}

	purged, err := s.warm.PurgeOlderThan(ctx, s.cfg.RetentionDays)
	if err != nil {
		lgr.Printf("[WARN] warm store purge: %v", err)
		return
	}
	if purged > 0 {
		lgr.Printf("[INFO] purged %d articles older than %d days", purged, s.cfg.RetentionDays)
	}
}

func (s *Scheduler) prewarmWorker(ctx context.Context) {
	defer s.wg.Done()

	// first run shortly after startup so the watchlist is warm before the
	// regular interval kicks in
	timer := time.NewTimer(10 * time.Second)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		s.RunPrewarm(ctx)
	}

	ticker := time.NewTicker(s.cfg.PrewarmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunPrewarm(ctx)
		}
	}
}

// RunPrewarm fetches the feed for every watchlist symbol with bounded
// concurrency and stores new articles in both tiers.
func (s *Scheduler) RunPrewarm(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)

	for _, symbol := range s.cfg.Watchlist {
		g.Go(func() error {
			s.prewarmSymbol(ctx, symbol)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		lgr.Printf("[WARN] pre-warm run: %v", err)
	}
}

func (s *Scheduler) prewarmSymbol(ctx context.Context, symbol string) {
	articles, err := s.feeds.FetchSymbol(ctx, symbol)
	if err != nil {
		lgr.Printf("[WARN] pre-warm fetch %s: %v", symbol, err)
		return
	}
	if len(articles) == 0 {
		return
	}

	hotN, err := s.hot.Upsert(ctx, symbol, articles)
	if err != nil {
		lgr.Printf("[WARN] pre-warm hot store %s: %v", symbol, err)
	}
	warmN, err := s.warm.UpsertArticles(ctx, symbol, articles)
	if err != nil {
		lgr.Printf("[WARN] pre-warm warm store %s: %v", symbol, err)
	}

	if hotN > 0 || warmN > 0 {
		lgr.Printf("[DEBUG] pre-warmed %s, %d new hot, %d new warm", symbol, hotN, warmN)
	}
}
