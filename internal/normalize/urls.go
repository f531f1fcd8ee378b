package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/scripe/tweetsync/internal/upstream"
)

const (
	shortenerHost = "t.co"
	// Shortener links at least this long are treated as tracking redirects.
	trackingURLLength = 25
)

var (
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	trailingURL     = regexp.MustCompile(`https?://\S+$`)
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
	trailingSpacing = " \t\r\n"
)

// IsImportantURL reports whether a link carries meaning for the reader: it
// points anywhere but the provider's shortener, or it is a short shortener
// link.
func IsImportantURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(u.Hostname(), shortenerHost) {
		return true
	}
	return len(raw) < trackingURLLength
}

// CleanText strips a trailing tracking link from text. When that removes
// the only link in the text, the first important link from extracted is
// re-appended on its own line. Runs of three or more newlines collapse to
// two.
func CleanText(text string, extracted []string) string {
	out := strings.TrimRight(text, trailingSpacing)

	if loc := trailingURL.FindStringIndex(out); loc != nil && !IsImportantURL(out[loc[0]:]) {
		out = strings.TrimRight(out[:loc[0]], trailingSpacing)
		if !urlPattern.MatchString(out) {
			if important := firstImportant(extracted); important != "" {
				out += "\n" + important
			}
		}
	}

	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = excessNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// extractURLs returns the links found in text followed by the expanded
// links the record lists in its entities, without duplicates.
func extractURLs(rec upstream.Record, text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	for _, u := range urlPattern.FindAllString(text, -1) {
		add(u)
	}
	for _, path := range entityURLPaths {
		for _, entity := range rec.Records(path) {
			add(entity.String("expanded_url", "unwound_url", "url"))
		}
	}
	return out
}

func firstImportant(urls []string) string {
	for _, u := range urls {
		if IsImportantURL(u) {
			return u
		}
	}
	return ""
}
