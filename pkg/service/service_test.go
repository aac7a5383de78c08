package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catowabisabi/newsfilter/pkg/analyzer"
	"github.com/catowabisabi/newsfilter/pkg/cache"
	"github.com/catowabisabi/newsfilter/pkg/domain"
	"github.com/catowabisabi/newsfilter/pkg/newsfilter"
	"github.com/catowabisabi/newsfilter/pkg/translator"
)

// fakeWarm is an in-memory WarmStore
type fakeWarm struct {
	mu       sync.Mutex
	articles map[string][]domain.Article // symbol -> articles
	patches  []string                    // fingerprints patched
	getErr   error
}

func newFakeWarm() *fakeWarm {
	return &fakeWarm{articles: map[string][]domain.Article{}}
}

func (f *fakeWarm) UpsertArticles(_ context.Context, symbol string, articles []domain.Article) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, a := range articles {
		dup := false
		for _, existing := range f.articles[symbol] {
			if existing.Fingerprint == a.Fingerprint {
				dup = true
				break
			}
		}
		if !dup {
			f.articles[symbol] = append(f.articles[symbol], a)
			inserted++
		}
	}
	return inserted, nil
}

func (f *fakeWarm) GetBySymbol(_ context.Context, symbol string, limit int) ([]domain.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	articles := f.articles[symbol]
	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	return append([]domain.Article(nil), articles...), nil
}

func (f *fakeWarm) UpdateTranslation(_ context.Context, fingerprint, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, fingerprint)
	return nil
}

func (f *fakeWarm) patchedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches)
}

// fakeOrigin is a scripted Origin
type fakeOrigin struct {
	mu       sync.Mutex
	articles []domain.Article
	err      error
	calls    int
}

func (f *fakeOrigin) FetchArticles(_ context.Context, _ string) ([]domain.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.articles, f.err
}

func (f *fakeOrigin) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAuth is a settable AuthState
type fakeAuth struct{ cooldown bool }

func (f *fakeAuth) IsInCooldown(context.Context) bool { return f.cooldown }

func freshArticle(symbol, title string, age time.Duration) domain.Article {
	published := time.Now().Add(-age)
	url := "https://example.com/" + title
	ts := published.UTC().Format(time.RFC3339)
	return domain.Article{
		Fingerprint:  domain.Fingerprint(title, url, ts),
		Symbol:       symbol,
		Title:        title,
		Summary:      "summary of " + title,
		URL:          url,
		SourceName:   "Example Wire",
		PublishedAt:  published,
		OriginalTime: ts,
	}
}

func newTestService(hot cache.ArticleCache, warm WarmStore, origin Origin, auth AuthState) *News {
	return NewNews(hot, warm, origin, auth, analyzer.New(), translator.Noop{})
}

func TestNews_OriginFetchWritesThrough(t *testing.T) {
	hot := cache.NewMemoryCache(100)
	warm := newFakeWarm()
	origin := &fakeOrigin{articles: []domain.Article{
		freshArticle("TSLA", "delivery record", time.Hour),
		freshArticle("TSLA", "new factory", 2*time.Hour),
	}}

	svc := newTestService(hot, warm, origin, &fakeAuth{})
	defer svc.Close()

	items, err := svc.GetSymbolNews(context.Background(), "tsla", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, origin.callCount())

	t.Run("items carry the full shape", func(t *testing.T) {
		item := items[0]
		assert.Equal(t, "delivery record", item.Title)
		assert.Equal(t, []string{"TSLA"}, item.Tickers)
		assert.Equal(t, "news", item.Type)
		assert.Equal(t, "Example Wire", item.Source)
		assert.Positive(t, item.Timestamp)
		assert.Equal(t, "delivery record", item.TitleCn, "noop translator passes source through")
	})

	t.Run("both tiers were populated", func(t *testing.T) {
		stats, err := hot.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Entries)
		assert.Len(t, warm.articles["TSLA"], 2)
	})

	t.Run("second lookup is served from hot cache", func(t *testing.T) {
		items, err := svc.GetSymbolNews(context.Background(), "TSLA", 10)
		require.NoError(t, err)
		assert.Len(t, items, 2)
		assert.Equal(t, 1, origin.callCount(), "origin not called again")
	})
}

func TestNews_WarmHitBackfillsHot(t *testing.T) {
	hot := cache.NewMemoryCache(100)
	warm := newFakeWarm()
	_, err := warm.UpsertArticles(context.Background(), "NVDA",
		[]domain.Article{freshArticle("NVDA", "chip demand", time.Hour)})
	require.NoError(t, err)

	origin := &fakeOrigin{}
	svc := newTestService(hot, warm, origin, &fakeAuth{})
	defer svc.Close()

	items, err := svc.GetSymbolNews(context.Background(), "NVDA", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Zero(t, origin.callCount(), "warm hit stops before origin")

	stats, err := hot.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries, "warm hit promoted to hot cache")
}

func TestNews_CooldownBlocksLookup(t *testing.T) {
	origin := &fakeOrigin{}
	svc := newTestService(cache.NewMemoryCache(100), newFakeWarm(), origin, &fakeAuth{cooldown: true})
	defer svc.Close()

	_, err := svc.GetSymbolNews(context.Background(), "TSLA", 10)
	require.ErrorIs(t, err, newsfilter.ErrCooldown)
	assert.Zero(t, origin.callCount(), "no origin call during cooldown")
}

func TestNews_TrueMissIsEmptyNotError(t *testing.T) {
	svc := newTestService(cache.NewMemoryCache(100), newFakeWarm(), &fakeOrigin{}, &fakeAuth{})
	defer svc.Close()

	items, err := svc.GetSymbolNews(context.Background(), "XXXX", 10)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestNews_OriginFaultPropagates(t *testing.T) {
	origin := &fakeOrigin{err: newsfilter.ErrOriginFault}
	svc := newTestService(cache.NewMemoryCache(100), newFakeWarm(), origin, &fakeAuth{})
	defer svc.Close()

	_, err := svc.GetSymbolNews(context.Background(), "TSLA", 10)
	require.ErrorIs(t, err, newsfilter.ErrOriginFault)
}

func TestNews_RecencyFilter(t *testing.T) {
	origin := &fakeOrigin{articles: []domain.Article{
		freshArticle("TSLA", "fresh news", 24*time.Hour),
		freshArticle("TSLA", "ancient news", 15*24*time.Hour),
		{ // unparsable published time, zero PublishedAt
			Fingerprint:  domain.Fingerprint("undated news", "https://example.com/undated", "garbage"),
			Symbol:       "TSLA",
			Title:        "undated news",
			URL:          "https://example.com/undated",
			OriginalTime: "garbage",
		},
	}}

	svc := newTestService(cache.NewMemoryCache(100), newFakeWarm(), origin, &fakeAuth{})
	defer svc.Close()

	items, err := svc.GetSymbolNews(context.Background(), "TSLA", 10)
	require.NoError(t, err)
	require.Len(t, items, 1, "stale and undated articles filtered out")
	assert.Equal(t, "fresh news", items[0].Title)
}

func TestNews_ScoringApplied(t *testing.T) {
	origin := &fakeOrigin{articles: []domain.Article{
		func() domain.Article {
			a := freshArticle("BIOX", "FDA grants Breakthrough Designation", time.Hour)
			a.Summary = "pivotal trial met primary endpoints"
			a.Fingerprint = domain.Fingerprint(a.Title, a.URL, a.OriginalTime)
			return a
		}(),
	}}

	svc := newTestService(cache.NewMemoryCache(100), newFakeWarm(), origin, &fakeAuth{})
	defer svc.Close()

	items, err := svc.GetSymbolNews(context.Background(), "BIOX", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	// FDA 2 + Grants 1 + Breakthrough 4 + Designation 4 + Pivotal 4 +
	// Primary 3 + Endpoints 4
	assert.Equal(t, 22, items[0].Score)
	assert.Contains(t, items[0].Keywords, "Breakthrough")
	assert.Contains(t, items[0].Keywords, "FDA")
}

// stubTranslator returns fixed translations and counts calls
type stubTranslator struct {
	mu    sync.Mutex
	calls int
}

func (s *stubTranslator) TranslateNews(_ context.Context, title, summary, titleCn, summaryCn string) (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if titleCn == "" {
		titleCn = "中文:" + title
	}
	if summaryCn == "" {
		summaryCn = "中文:" + summary
	}
	return titleCn, summaryCn
}

func TestNews_TranslationWriteBack(t *testing.T) {
	hot := cache.NewMemoryCache(100)
	warm := newFakeWarm()
	origin := &fakeOrigin{articles: []domain.Article{freshArticle("TSLA", "to translate", time.Hour)}}
	tr := &stubTranslator{}

	svc := NewNews(hot, warm, origin, &fakeAuth{}, analyzer.New(), tr)

	items, err := svc.GetSymbolNews(context.Background(), "TSLA", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "中文:to translate", items[0].TitleCn)

	// drain the write-back queue
	svc.Close()
	assert.Equal(t, 1, warm.patchedCount(), "translation persisted to warm store")

	articles, err := hot.GetRecent(context.Background(), "TSLA", 10, cache.HotWindow)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "中文:to translate", articles[0].TitleCn, "translation persisted to hot cache")
}

func TestNews_HotCacheFaultFallsThrough(t *testing.T) {
	warm := newFakeWarm()
	_, err := warm.UpsertArticles(context.Background(), "TSLA",
		[]domain.Article{freshArticle("TSLA", "resilient", time.Hour)})
	require.NoError(t, err)

	// a closed redis connection behaves like an erroring cache; the memory
	// cache cannot fail, so simulate with a wrapper
	svc := newTestService(failingCache{}, warm, &fakeOrigin{}, &fakeAuth{})
	defer svc.Close()

	items, err := svc.GetSymbolNews(context.Background(), "TSLA", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1, "warm tier serves despite hot cache failure")
}

// failingCache errors on every operation
type failingCache struct{}

func (failingCache) Upsert(context.Context, string, []domain.Article) (int, error) {
	return 0, assert.AnError
}
func (failingCache) GetRecent(context.Context, string, int, time.Duration) ([]domain.Article, error) {
	return nil, assert.AnError
}
func (failingCache) UpdateTranslation(context.Context, string, string, string) error {
	return assert.AnError
}
func (failingCache) Cleanup(context.Context) error              { return assert.AnError }
func (failingCache) Stats(context.Context) (cache.Stats, error) { return cache.Stats{}, assert.AnError }
func (failingCache) Close() error                               { return nil }
