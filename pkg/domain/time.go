package domain

import (
	"regexp"
	"strings"
	"time"
)

// layouts tried in order when parsing provider timestamps
var publishedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

var tzNoColonRe = regexp.MustCompile(`([+-])(\d{2})(\d{2})$`)

// ParsePublishedTime parses a provider publish-time string. Unparsable or
// empty input yields the zero time, which downstream filters treat as "no
// timestamp" rather than "now".
func ParsePublishedTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	// normalize +0000 style zone offsets to +00:00 for RFC3339 parsing
	if len(s) >= 6 && !strings.Contains(s[len(s)-6:], ":") {
		if m := tzNoColonRe.FindStringSubmatch(s); m != nil {
			s = s[:len(s)-5] + m[1] + m[2] + ":" + m[3]
		}
	}

	for _, layout := range publishedLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
