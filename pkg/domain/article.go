package domain

import (
	"crypto/md5" //nolint:gosec // not used for security, only for dedup keys
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Article is a normalized news article as stored in both cache tiers.
// PublishedAt is zero when the provider timestamp could not be parsed;
// such articles are excluded from any recency-filtered view and are
// never defaulted to "now".
type Article struct {
	Fingerprint  string
	Symbol       string
	Title        string
	Summary      string
	URL          string
	SourceName   string
	PublishedAt  time.Time
	OriginalTime string
	TitleCn      string
	SummaryCn    string
	Raw          json.RawMessage
	CreatedAt    time.Time
}

// Fingerprint computes the dedup key from title, url and the original
// published time string. Unique across all storage tiers.
func Fingerprint(title, url, published string) string {
	h := md5.Sum([]byte(title + url + published)) //nolint:gosec // dedup key, not a credential
	return hex.EncodeToString(h[:])
}

// HasTranslation reports whether both translated fields are present and
// distinct from their source text. Used as the idempotence guard to skip
// re-translating cached content.
func (a *Article) HasTranslation() bool {
	return translationSet(a.TitleCn, a.Title) && translationSet(a.SummaryCn, a.Summary)
}

func translationSet(translated, source string) bool {
	t := strings.TrimSpace(translated)
	return t != "" && t != source
}

// WithinDays reports whether the article was published within the last
// given number of days. Articles with no parseable published time never
// pass.
func (a *Article) WithinDays(days int, now time.Time) bool {
	if a.PublishedAt.IsZero() {
		return false
	}
	return now.Sub(a.PublishedAt) <= time.Duration(days)*24*time.Hour
}

// NewsItem is the enriched, client-facing representation of an article,
// format-compatible with the legacy API. A degraded condition is signaled
// by a single-element list carrying only Msg.
type NewsItem struct {
	Title        string   `json:"title"`
	TitleCn      string   `json:"title_cn"`
	Summary      string   `json:"summary"`
	SummaryCn    string   `json:"summary_cn"`
	Timestamp    int64    `json:"timestamp"`
	OriginalTime string   `json:"original_time"`
	Source       string   `json:"source"`
	Link         string   `json:"link"`
	Tickers      []string `json:"tickers"`
	Type         string   `json:"type"`
	Score        int      `json:"score"`
	Keywords     []string `json:"keywords"`
	Msg          string   `json:"msg,omitempty"`
}

// ErrorResult builds the single-element degraded response used across the
// service boundary instead of exceptions.
func ErrorResult(msg string) []NewsItem {
	return []NewsItem{{Msg: msg}}
}

// ErrorMsg extracts the degraded-condition message from a result, if any.
func ErrorMsg(items []NewsItem) (string, bool) {
	if len(items) == 1 && items[0].Msg != "" {
		return items[0].Msg, true
	}
	return "", false
}

// AuthToken is the persisted provider access token. Only one token is
// active at a time; superseded rows are deactivated, never deleted.
type AuthToken struct {
	Value        string
	RefreshToken string
	ExpiresAt    time.Time
	IsActive     bool
	CreatedAt    time.Time
}

// Valid reports whether the token is usable at the given instant, with a
// one-minute proactive expiry margin to avoid mid-request expiration.
func (t *AuthToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-time.Minute))
}
