// Package feed fetches per-symbol RSS feeds for the watchlist pre-warmer.
// Feed entries are a cheap way to keep hot symbols populated without
// spending provider API quota.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/catowabisabi/newsfilter/pkg/content"
	"github.com/catowabisabi/newsfilter/pkg/domain"
)

// Parser fetches and parses a symbol feed into articles
type Parser struct {
	urlTemplate string // %s is replaced with the symbol
	client      *http.Client
	userAgent   string
}

// NewParser creates a feed parser for the given URL template
func NewParser(urlTemplate string, timeout time.Duration) *Parser {
	return &Parser{
		urlTemplate: urlTemplate,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: "newsfilter/1.0 feed fetcher",
	}
}

// FetchSymbol retrieves the feed for a symbol and converts the entries to
// articles. Entries without a title or link are skipped.
func (p *Parser) FetchSymbol(ctx context.Context, symbol string) ([]domain.Article, error) {
	symbol = strings.ToUpper(symbol)
	url := fmt.Sprintf(p.urlTemplate, symbol)

	body, err := p.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch feed for %s: %w", symbol, err)
	}
	defer body.Close() //nolint:errcheck // read-only body

	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed for %s: %w", symbol, err)
	}

	articles := make([]domain.Article, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Title == "" || item.Link == "" {
			continue
		}

		var published time.Time
		var original string
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
			original = item.Published
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
			original = item.Updated
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		articles = append(articles, domain.Article{
			Fingerprint:  domain.Fingerprint(item.Title, item.Link, original),
			Symbol:       symbol,
			Title:        strings.TrimSpace(item.Title),
			Summary:      content.CleanSummary(summary),
			URL:          item.Link,
			SourceName:   sourceName(parsed, item),
			PublishedAt:  published,
			OriginalTime: original,
		})
	}
	return articles, nil
}

func sourceName(feed *gofeed.Feed, item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	if feed.Title != "" {
		return feed.Title
	}
	return "RSS"
}

func (p *Parser) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() //nolint:errcheck,gosec // error response body
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
