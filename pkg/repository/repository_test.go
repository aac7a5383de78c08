package repository

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/catowabisabi/newsfilter/pkg/domain"
)

var testDBSeq atomic.Int64

// setupTestDB creates repositories backed by a private in-memory database.
// Each test gets its own named memory DB so tests never share state.
func setupTestDB(t *testing.T) *Repositories {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))
	repos, err := NewRepositories(context.Background(), Config{
		DSN:          dsn,
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, repos.Close()) })
	return repos
}

// testArticle builds an article with a unique fingerprint
func testArticle(symbol, title string, published time.Time) domain.Article {
	url := fmt.Sprintf("https://example.com/%s/%s", symbol, title)
	a := domain.Article{
		Symbol:     symbol,
		Title:      title,
		Summary:    "summary of " + title,
		URL:        url,
		SourceName: "Test Wire",
	}
	if !published.IsZero() {
		a.PublishedAt = published
		a.OriginalTime = published.Format(time.RFC3339)
	}
	a.Fingerprint = domain.Fingerprint(a.Title, a.URL, a.OriginalTime)
	return a
}

func TestRepositories_Ping(t *testing.T) {
	repos := setupTestDB(t)
	require.NoError(t, repos.Ping(context.Background()))
}
