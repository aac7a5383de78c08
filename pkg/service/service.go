// Package service implements the article lookup pipeline: hot cache, then
// the warm store, then the origin provider, with write-through on miss,
// keyword scoring, translation and async translation write-back.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/catowabisabi/newsfilter/pkg/analyzer"
	"github.com/catowabisabi/newsfilter/pkg/cache"
	"github.com/catowabisabi/newsfilter/pkg/domain"
	"github.com/catowabisabi/newsfilter/pkg/newsfilter"
	"github.com/catowabisabi/newsfilter/pkg/translator"
)

// RecencyDays is how far back returned articles may reach. Older articles
// stay stored but are filtered out before scoring and translation.
const RecencyDays = 10

// DefaultLimit applies when a caller does not specify a result count
const DefaultLimit = 10

// WarmStore is the durable article tier
type WarmStore interface {
	UpsertArticles(ctx context.Context, symbol string, articles []domain.Article) (int, error)
	GetBySymbol(ctx context.Context, symbol string, limit int) ([]domain.Article, error)
	UpdateTranslation(ctx context.Context, fingerprint, titleCn, summaryCn string) error
}

// Origin fetches articles from the upstream provider
type Origin interface {
	FetchArticles(ctx context.Context, symbol string) ([]domain.Article, error)
}

// AuthState exposes the provider login state to the pipeline
type AuthState interface {
	IsInCooldown(ctx context.Context) bool
}

// Recorder receives pipeline events, implemented by the metrics package
type Recorder interface {
	TierHit(tier string)
	OriginFault()
	TranslationQueued()
}

// nopRecorder is the default when no metrics are wired
type nopRecorder struct{}

func (nopRecorder) TierHit(string)     {}
func (nopRecorder) OriginFault()       {}
func (nopRecorder) TranslationQueued() {}

// translationPatch is one pending write-back
type translationPatch struct {
	fingerprint string
	titleCn     string
	summaryCn   string
}

// News is the lookup pipeline
type News struct {
	hot        cache.ArticleCache
	warm       WarmStore
	origin     Origin
	auth       AuthState
	analyzer   *analyzer.Analyzer
	translator translator.Translator

	patches   chan translationPatch
	patchWG   sync.WaitGroup
	closeOnce sync.Once
	nowFn     func() time.Time
	recorder  Recorder
}

// NewNews wires the pipeline and starts the write-back worker
func NewNews(hot cache.ArticleCache, warm WarmStore, origin Origin, auth AuthState,
	an *analyzer.Analyzer, tr translator.Translator) *News {

	s := &News{
		hot:        hot,
		warm:       warm,
		origin:     origin,
		auth:       auth,
		analyzer:   an,
		translator: tr,
		patches:    make(chan translationPatch, 256),
		nowFn:      time.Now,
		recorder:   nopRecorder{},
	}

	s.patchWG.Add(1)
	go s.writeBackLoop()
	return s
}

// WithRecorder attaches a metrics recorder, call before serving traffic
func (s *News) WithRecorder(r Recorder) *News {
	s.recorder = r
	return s
}

// Close stops the write-back worker after draining pending patches
func (s *News) Close() {
	s.closeOnce.Do(func() { close(s.patches) })
	s.patchWG.Wait()
}

// GetSymbolNews runs the full pipeline for a symbol. Returned errors are
// typed: newsfilter.ErrCooldown means the provider is in login cooldown,
// newsfilter.ErrOriginFault means the origin fetch failed. An empty slice
// with a nil error is a true "no news" answer.
func (s *News) GetSymbolNews(ctx context.Context, symbol string, limit int) ([]domain.NewsItem, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if limit <= 0 {
		limit = DefaultLimit
	}

	// a known-bad login blocks the whole lookup, even the cached tiers
	// would eventually need origin refreshes that cannot happen
	if s.auth.IsInCooldown(ctx) {
		return nil, newsfilter.ErrCooldown
	}

	// hot tier, a cache fault is a miss, not a failure
	articles, err := s.hot.GetRecent(ctx, symbol, limit, cache.HotWindow)
	if err != nil {
		lgr.Printf("[WARN] hot cache read for %s: %v", symbol, err)
		articles = nil
	}
	if len(articles) > 0 {
		lgr.Printf("[DEBUG] hot cache hit for %s, %d articles", symbol, len(articles))
		s.recorder.TierHit("hot")
		return s.enrich(ctx, symbol, articles), nil
	}

	// warm tier, hits are promoted back into the hot cache
	articles, err = s.warm.GetBySymbol(ctx, symbol, limit)
	if err != nil {
		lgr.Printf("[WARN] warm store read for %s: %v", symbol, err)
		articles = nil
	}
	if len(articles) > 0 {
		lgr.Printf("[DEBUG] warm store hit for %s, %d articles", symbol, len(articles))
		s.recorder.TierHit("warm")
		if _, err := s.hot.Upsert(ctx, symbol, articles); err != nil {
			lgr.Printf("[WARN] hot cache backfill for %s: %v", symbol, err)
		}
		return s.enrich(ctx, symbol, articles), nil
	}

	// origin fetch, write-through to both tiers on success
	articles, err = s.origin.FetchArticles(ctx, symbol)
	if err != nil {
		s.recorder.OriginFault()
		return nil, err
	}
	if len(articles) == 0 {
		lgr.Printf("[INFO] no articles found for %s", symbol)
		s.recorder.TierHit("miss")
		return []domain.NewsItem{}, nil
	}

	lgr.Printf("[INFO] origin returned %d articles for %s", len(articles), symbol)
	s.recorder.TierHit("origin")
	if _, err := s.hot.Upsert(ctx, symbol, articles); err != nil {
		lgr.Printf("[WARN] hot cache store for %s: %v", symbol, err)
	}
	if _, err := s.warm.UpsertArticles(ctx, symbol, articles); err != nil {
		lgr.Printf("[WARN] warm store for %s: %v", symbol, err)
	}

	if len(articles) > limit {
		articles = articles[:limit]
	}
	return s.enrich(ctx, symbol, articles), nil
}

// enrich filters stale articles, scores and translates the rest, and
// queues translation write-backs. The recency filter runs first so no
// translation tokens are spent on articles that will not be returned.
func (s *News) enrich(ctx context.Context, symbol string, articles []domain.Article) []domain.NewsItem {
	now := s.nowFn()

	items := make([]domain.NewsItem, 0, len(articles))
	for i := range articles {
		a := &articles[i]
		if !a.WithinDays(RecencyDays, now) {
			continue
		}

		scored := s.analyzer.Analyze(a.Title, a.Summary)

		titleCn, summaryCn := s.translator.TranslateNews(ctx, a.Title, a.Summary, a.TitleCn, a.SummaryCn)
		// persist only real translations, a passthrough of the source text
		// is not worth a write
		newTitle := titleCn != a.TitleCn && titleCn != a.Title
		newSummary := summaryCn != a.SummaryCn && summaryCn != a.Summary
		if newTitle || newSummary {
			s.queuePatch(translationPatch{fingerprint: a.Fingerprint, titleCn: titleCn, summaryCn: summaryCn})
		}

		items = append(items, domain.NewsItem{
			Title:        a.Title,
			TitleCn:      titleCn,
			Summary:      a.Summary,
			SummaryCn:    summaryCn,
			Timestamp:    a.PublishedAt.Unix(),
			OriginalTime: a.OriginalTime,
			Source:       a.SourceName,
			Link:         a.URL,
			Tickers:      []string{symbol},
			Type:         "news",
			Score:        scored.Score,
			Keywords:     scored.Keywords,
		})
	}
	return items
}

// queuePatch hands a translation to the write-back worker. A full queue
// drops the patch, the translation will be redone on a later lookup.
func (s *News) queuePatch(p translationPatch) {
	select {
	case s.patches <- p:
		s.recorder.TranslationQueued()
	default:
		lgr.Printf("[WARN] translation write-back queue full, dropping patch for %s", p.fingerprint)
	}
}

// writeBackLoop persists translations to both tiers in the background so
// request latency does not include the extra writes.
func (s *News) writeBackLoop() {
	defer s.patchWG.Done()

	ctx := context.Background()
	for p := range s.patches {
		if err := s.warm.UpdateTranslation(ctx, p.fingerprint, p.titleCn, p.summaryCn); err != nil {
			lgr.Printf("[WARN] warm translation write-back for %s: %v", p.fingerprint, err)
		}
		if err := s.hot.UpdateTranslation(ctx, p.fingerprint, p.titleCn, p.summaryCn); err != nil {
			lgr.Printf("[WARN] hot translation write-back for %s: %v", p.fingerprint, err)
		}
	}
}
