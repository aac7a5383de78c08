package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catowabisabi/newsfilter/pkg/domain"
)

func TestArticleRepository_UpsertDedup(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	articles := []domain.Article{
		testArticle("TSLA", "first", now),
		testArticle("TSLA", "second", now.Add(-time.Hour)),
	}

	inserted, err := repos.Article.UpsertArticles(ctx, "TSLA", articles)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// same batch again is a no-op
	inserted, err = repos.Article.UpsertArticles(ctx, "TSLA", articles)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	// a batch mixing known and new fingerprints inserts only the new one
	mixed := append(articles, testArticle("TSLA", "third", now.Add(-2*time.Hour)))
	inserted, err = repos.Article.UpsertArticles(ctx, "TSLA", mixed)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	got, err := repos.Article.GetBySymbol(ctx, "TSLA", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestArticleRepository_GetBySymbolOrdering(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	articles := []domain.Article{
		testArticle("NVDA", "oldest", now.Add(-48*time.Hour)),
		testArticle("NVDA", "undated", time.Time{}),
		testArticle("NVDA", "newest", now),
		testArticle("NVDA", "middle", now.Add(-24*time.Hour)),
	}
	_, err := repos.Article.UpsertArticles(ctx, "NVDA", articles)
	require.NoError(t, err)

	got, err := repos.Article.GetBySymbol(ctx, "nvda", 10) // case-insensitive symbol
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "newest", got[0].Title)
	assert.Equal(t, "middle", got[1].Title)
	assert.Equal(t, "oldest", got[2].Title)
	assert.Equal(t, "undated", got[3].Title) // no published time sorts last
	assert.True(t, got[3].PublishedAt.IsZero())
}

func TestArticleRepository_GetBySymbolLimit(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var articles []domain.Article
	for i := 0; i < 5; i++ {
		articles = append(articles, testArticle("AAPL", string(rune('a'+i)), now.Add(-time.Duration(i)*time.Hour)))
	}
	_, err := repos.Article.UpsertArticles(ctx, "AAPL", articles)
	require.NoError(t, err)

	got, err := repos.Article.GetBySymbol(ctx, "AAPL", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestArticleRepository_UpdateTranslation(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	a := testArticle("TSLA", "Tesla reports record deliveries", time.Now().UTC())
	_, err := repos.Article.UpsertArticles(ctx, "TSLA", []domain.Article{a})
	require.NoError(t, err)

	fetch := func() domain.Article {
		got, err := repos.Article.GetBySymbol(ctx, "TSLA", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		return got[0]
	}

	t.Run("translation applied", func(t *testing.T) {
		err := repos.Article.UpdateTranslation(ctx, a.Fingerprint, "特斯拉交付量創紀錄", "中文摘要")
		require.NoError(t, err)

		got := fetch()
		assert.Equal(t, "特斯拉交付量創紀錄", got.TitleCn)
		assert.Equal(t, "中文摘要", got.SummaryCn)
	})

	t.Run("empty values do not clear", func(t *testing.T) {
		err := repos.Article.UpdateTranslation(ctx, a.Fingerprint, "", "")
		require.NoError(t, err)

		got := fetch()
		assert.Equal(t, "特斯拉交付量創紀錄", got.TitleCn)
		assert.Equal(t, "中文摘要", got.SummaryCn)
	})

	t.Run("source echo does not overwrite", func(t *testing.T) {
		err := repos.Article.UpdateTranslation(ctx, a.Fingerprint, a.Title, a.Summary)
		require.NoError(t, err)

		got := fetch()
		assert.Equal(t, "特斯拉交付量創紀錄", got.TitleCn)
	})

	t.Run("new translation replaces old", func(t *testing.T) {
		err := repos.Article.UpdateTranslation(ctx, a.Fingerprint, "更新的標題", "中文摘要")
		require.NoError(t, err)

		got := fetch()
		assert.Equal(t, "更新的標題", got.TitleCn)
	})

	t.Run("unknown fingerprint is not an error", func(t *testing.T) {
		err := repos.Article.UpdateTranslation(ctx, "no-such-fp", "x", "y")
		require.NoError(t, err)
	})
}

func TestArticleRepository_PurgeOlderThan(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := testArticle("TSLA", "fresh", now)
	stale := testArticle("TSLA", "stale", now.Add(-40*24*time.Hour))
	_, err := repos.Article.UpsertArticles(ctx, "TSLA", []domain.Article{fresh, stale})
	require.NoError(t, err)

	// age the stale row's ingestion time directly
	_, err = repos.DB.ExecContext(ctx,
		`UPDATE articles SET created_at = datetime('now', '-40 days') WHERE fingerprint = ?`, stale.Fingerprint)
	require.NoError(t, err)

	purged, err := repos.Article.PurgeOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	got, err := repos.Article.GetBySymbol(ctx, "TSLA", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].Title)
}

func TestArticleRepository_Stats(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repos.Article.UpsertArticles(ctx, "TSLA", []domain.Article{
		testArticle("TSLA", "one", now), testArticle("TSLA", "two", now),
	})
	require.NoError(t, err)
	_, err = repos.Article.UpsertArticles(ctx, "NVDA", []domain.Article{testArticle("NVDA", "one", now)})
	require.NoError(t, err)

	total, top, err := repos.Article.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.NotEmpty(t, top)
	assert.Equal(t, "TSLA", top[0].Symbol)
	assert.Equal(t, 2, top[0].Count)
}

func TestArticleRepository_RawPreserved(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	a := testArticle("TSLA", "raw test", time.Now().UTC())
	a.Raw = []byte(`{"id":"abc","extra":true}`)
	_, err := repos.Article.UpsertArticles(ctx, "TSLA", []domain.Article{a})
	require.NoError(t, err)

	got, err := repos.Article.GetBySymbol(ctx, "TSLA", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"id":"abc","extra":true}`, string(got[0].Raw))
}
