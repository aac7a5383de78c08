package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/catowabisabi/newsfilter/pkg/domain"
)

// ArticleRepository is the warm store: durable, deduplicated by fingerprint,
// read per-symbol in published-time order.
type ArticleRepository struct {
	db *sqlx.DB
}

// articleSQL represents an article row for SQL operations
type articleSQL struct {
	ID           int64      `db:"id"`
	Fingerprint  string     `db:"fingerprint"`
	Symbol       string     `db:"symbol"`
	Title        string     `db:"title"`
	Summary      string     `db:"summary"`
	URL          string     `db:"url"`
	SourceName   string     `db:"source_name"`
	PublishedAt  *time.Time `db:"published_at"`
	OriginalTime string     `db:"original_time"`
	TitleCn      string     `db:"title_cn"`
	SummaryCn    string     `db:"summary_cn"`
	RawData      string     `db:"raw_data"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// NewArticleRepository creates a new article repository
func NewArticleRepository(database *sqlx.DB) *ArticleRepository {
	return &ArticleRepository{db: database}
}

// UpsertArticles inserts articles, silently skipping fingerprints that are
// already stored. Existing rows are never overwritten here; only the
// translation patch may touch them later. Returns the number of rows
// actually inserted. A failure on one article does not abort the batch.
func (r *ArticleRepository) UpsertArticles(ctx context.Context, symbol string, articles []domain.Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	query := `
		INSERT OR IGNORE INTO articles (
			fingerprint, symbol, title, summary, url, source_name,
			published_at, original_time, title_cn, summary_cn, raw_data
		) VALUES (
			:fingerprint, :symbol, :title, :summary, :url, :source_name,
			:published_at, :original_time, :title_cn, :summary_cn, :raw_data
		)
	`

	inserted := 0
	for i := range articles {
		row := toSQLArticle(symbol, &articles[i])
		result, err := r.db.NamedExecContext(ctx, query, row)
		if err != nil {
			lgr.Printf("[WARN] failed to store article %s: %v", row.Fingerprint, err)
			continue
		}
		if n, err := result.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	return inserted, nil
}

// GetBySymbol retrieves articles for a symbol ordered by published time
// descending. Articles without a parseable published time sort last.
func (r *ArticleRepository) GetBySymbol(ctx context.Context, symbol string, limit int) ([]domain.Article, error) {
	query := `
		SELECT * FROM articles
		WHERE symbol = ?
		ORDER BY published_at IS NULL, published_at DESC, created_at DESC
		LIMIT ?
	`
	var rows []articleSQL
	err := r.db.SelectContext(ctx, &rows, query, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("get articles by symbol: %w", err)
	}

	articles := make([]domain.Article, len(rows))
	for i := range rows {
		articles[i] = toDomainArticle(&rows[i])
	}
	return articles, nil
}

// UpdateTranslation patches translated fields for a fingerprint. The patch
// is monotonic: a field is only written when the new value is non-empty and
// distinct from the source text, so an existing translation is never
// cleared or regressed.
func (r *ArticleRepository) UpdateTranslation(ctx context.Context, fingerprint, titleCn, summaryCn string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE articles
			SET title_cn = CASE WHEN ? != '' AND ? != title THEN ? ELSE title_cn END,
			    summary_cn = CASE WHEN ? != '' AND ? != summary THEN ? ELSE summary_cn END,
			    updated_at = datetime('now')
			WHERE fingerprint = ?
		`
		_, err := r.db.ExecContext(ctx, query,
			titleCn, titleCn, titleCn,
			summaryCn, summaryCn, summaryCn,
			fingerprint)
		if err != nil {
			if isLockError(err) {
				return err // repeater will retry this
			}
			return &criticalError{err: fmt.Errorf("update translation: %w", err)}
		}
		return nil
	})
}

// PurgeOlderThan removes articles ingested more than the given number of
// days ago. Best effort; the caller logs failures and moves on.
func (r *ArticleRepository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM articles WHERE created_at < datetime('now', ?)`,
		fmt.Sprintf("-%d days", days))
	if err != nil {
		return 0, fmt.Errorf("purge old articles: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

// SymbolCount holds per-symbol article counts for stats
type SymbolCount struct {
	Symbol string `db:"symbol" json:"symbol"`
	Count  int    `db:"cnt" json:"count"`
}

// Stats returns total article count and the most populated symbols
func (r *ArticleRepository) Stats(ctx context.Context) (total int, topSymbols []SymbolCount, err error) {
	if err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM articles`); err != nil {
		return 0, nil, fmt.Errorf("count articles: %w", err)
	}

	err = r.db.SelectContext(ctx, &topSymbols,
		`SELECT symbol, COUNT(*) AS cnt FROM articles GROUP BY symbol ORDER BY cnt DESC LIMIT 10`)
	if err != nil {
		return 0, nil, fmt.Errorf("symbol stats: %w", err)
	}
	return total, topSymbols, nil
}

func toSQLArticle(symbol string, a *domain.Article) *articleSQL {
	raw := "{}"
	if len(a.Raw) > 0 {
		raw = string(a.Raw)
	}

	row := &articleSQL{
		Fingerprint:  a.Fingerprint,
		Symbol:       strings.ToUpper(symbol),
		Title:        a.Title,
		Summary:      a.Summary,
		URL:          a.URL,
		SourceName:   a.SourceName,
		OriginalTime: a.OriginalTime,
		TitleCn:      a.TitleCn,
		SummaryCn:    a.SummaryCn,
		RawData:      raw,
	}
	if !a.PublishedAt.IsZero() {
		ts := a.PublishedAt.UTC()
		row.PublishedAt = &ts
	}
	return row
}

func toDomainArticle(row *articleSQL) domain.Article {
	a := domain.Article{
		Fingerprint:  row.Fingerprint,
		Symbol:       row.Symbol,
		Title:        row.Title,
		Summary:      row.Summary,
		URL:          row.URL,
		SourceName:   row.SourceName,
		OriginalTime: row.OriginalTime,
		TitleCn:      row.TitleCn,
		SummaryCn:    row.SummaryCn,
		Raw:          json.RawMessage(row.RawData),
		CreatedAt:    row.CreatedAt,
	}
	if row.PublishedAt != nil {
		a.PublishedAt = *row.PublishedAt
	}
	return a
}
