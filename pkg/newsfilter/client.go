package newsfilter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/catowabisabi/newsfilter/pkg/config"
	"github.com/catowabisabi/newsfilter/pkg/content"
	"github.com/catowabisabi/newsfilter/pkg/domain"
)

// ErrOriginFault marks a provider failure that is not an empty result.
// Callers must not treat it as "no news exists".
var ErrOriginFault = fmt.Errorf("newsfilter: origin request failed")

// Client fetches articles from the provider search endpoint
type Client struct {
	cfg  config.NewsFilterConfig
	auth *Auth
	http *http.Client

	mu       sync.Mutex // serializes requests for rate limiting
	lastCall time.Time
	nowFn    func() time.Time
	sleepFn  func(ctx context.Context, d time.Duration) error
}

// NewClient creates the provider client
func NewClient(cfg config.NewsFilterConfig, auth *Auth) *Client {
	return &Client{
		cfg:     cfg,
		auth:    auth,
		http:    &http.Client{Timeout: cfg.Timeout},
		nowFn:   time.Now,
		sleepFn: sleepCtx,
	}
}

// searchResponse is the provider payload, only the fields we use
type searchResponse struct {
	Articles []providerArticle `json:"articles"`
}

type providerArticle struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Content     string          `json:"content"`
	URL         string          `json:"url"`
	PublishedAt string          `json:"publishedAt"`
	Published   string          `json:"published"`
	Source      json.RawMessage `json:"source"`
	raw         json.RawMessage
}

// FetchArticles queries the provider for a symbol. An empty result with a
// nil error is a true miss. Transport and decode failures return
// ErrOriginFault wrapped; auth exhaustion and throttling come back as a
// soft empty so a flaky provider does not poison downstream tiers.
func (c *Client) FetchArticles(ctx context.Context, symbol string) ([]domain.Article, error) {
	symbol = strings.ToUpper(symbol)

	headers, err := c.auth.Headers(ctx)
	if err != nil {
		if errors.Is(err, ErrCooldown) {
			return nil, ErrCooldown
		}
		lgr.Printf("[WARN] no auth for origin fetch %s: %v", symbol, err)
		return nil, nil
	}

	// the broad query matches title, description or tagged symbols
	query := fmt.Sprintf("title:%[1]q OR description:%[1]q OR symbols:%[1]q", symbol)

	articles, retryable, err := c.search(ctx, headers, query)
	if err != nil {
		return nil, err
	}

	// a broad query that finds nothing is retried once with the bare
	// symbol, some articles are only tagged and not mentioned in text
	if len(articles) == 0 && retryable {
		if err := c.sleepFn(ctx, time.Second); err != nil {
			return nil, err
		}
		articles, _, err = c.search(ctx, headers, symbol)
		if err != nil {
			return nil, err
		}
	}

	return c.normalize(symbol, articles), nil
}

// search posts one filterArticles query. retryable reports whether an
// empty result is worth the narrow-query retry.
func (c *Client) search(ctx context.Context, headers map[string]string, query string) (articles []providerArticle, retryable bool, err error) {
	if err := c.throttle(ctx); err != nil {
		return nil, false, err
	}

	payload := map[string]any{
		"type":        "filterArticles",
		"isPublic":    false,
		"queryString": query,
		"from":        0,
		"size":        50,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("%w: marshal query: %v", ErrOriginFault, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("%w: create request: %v", ErrOriginFault, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrOriginFault, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, false, fmt.Errorf("%w: read response: %v", ErrOriginFault, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusTooManyRequests:
		lgr.Printf("[WARN] origin rate limited")
		return nil, false, nil
	case http.StatusUnauthorized:
		lgr.Printf("[WARN] origin rejected token")
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("%w: status %d: %s", ErrOriginFault, resp.StatusCode, truncate(string(body), 200))
	}

	// decode twice, once typed and once raw, to keep the original JSON of
	// each article for storage
	var typed searchResponse
	if err := json.Unmarshal(body, &typed); err != nil {
		return nil, false, fmt.Errorf("%w: parse response: %v", ErrOriginFault, err)
	}
	var rawResp struct {
		Articles []json.RawMessage `json:"articles"`
	}
	if err := json.Unmarshal(body, &rawResp); err == nil {
		for i := range typed.Articles {
			if i < len(rawResp.Articles) {
				typed.Articles[i].raw = rawResp.Articles[i]
			}
		}
	}

	return typed.Articles, true, nil
}

// normalize converts provider articles to the domain shape
func (c *Client) normalize(symbol string, articles []providerArticle) []domain.Article {
	result := make([]domain.Article, 0, len(articles))
	for _, pa := range articles {
		published := pa.PublishedAt
		if published == "" {
			published = pa.Published
		}

		summary := pa.Description
		if summary == "" {
			summary = pa.Content
		}
		summary = content.CleanSummary(summary)

		a := domain.Article{
			Fingerprint:  domain.Fingerprint(pa.Title, pa.URL, published),
			Symbol:       symbol,
			Title:        strings.TrimSpace(pa.Title),
			Summary:      summary,
			URL:          pa.URL,
			SourceName:   sourceName(pa.Source),
			PublishedAt:  domain.ParsePublishedTime(published),
			OriginalTime: published,
			Raw:          pa.raw,
		}
		result = append(result, a)
	}
	return result
}

// sourceName handles both {"name": "..."} objects and plain strings
func sourceName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "Unknown"
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Name != "" {
		return obj.Name
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return "Unknown"
}

// throttle enforces the inter-request delay
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.nowFn().Sub(c.lastCall)
	if wait := c.cfg.RequestDelay - elapsed; wait > 0 {
		if err := c.sleepFn(ctx, wait); err != nil {
			return err
		}
	}
	c.lastCall = c.nowFn()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
