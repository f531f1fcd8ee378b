package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxPostLength is the provider's limit for a regular post.
	MaxPostLength = 280

	latinCutLength    = 240
	nonLatinCutLength = 180
)

var (
	ellipsisBeforeURL = regexp.MustCompile(`…\s*https?://\S+$`)
	trailingURLs      = regexp.MustCompile(`(\s*https?://\S+)+$`)

	// Words that rarely end a finished sentence.
	cutWords = map[string]bool{
		"a": true, "an": true, "the": true,
		"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
		"for": true, "from": true, "with": true, "into": true, "onto": true,
		"about": true, "over": true, "under": true, "between": true, "through": true,
		"and": true, "or": true, "but": true, "as": true, "than": true,
		"my": true, "your": true, "our": true, "their": true,
	}

	cutPairs = map[string]bool{
		"in order":   true,
		"as soon":    true,
		"as far":     true,
		"such as":    true,
		"not only":   true,
		"whether or": true,
	}

	nonLatinScripts = []*unicode.RangeTable{
		unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul,
		unicode.Arabic, unicode.Hebrew, unicode.Cyrillic, unicode.Devanagari, unicode.Thai,
	}
)

// IsLong reports whether text exceeds a regular post or looks truncated.
func IsLong(text string) bool {
	return utf8.RuneCountInString(text) > MaxPostLength || IsTruncated(text)
}

// IsTruncated guesses whether the provider cut text short.
func IsTruncated(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	if strings.HasSuffix(text, "…") || strings.HasSuffix(text, "...") {
		return true
	}
	if ellipsisBeforeURL.MatchString(text) {
		return true
	}

	body := strings.TrimSpace(trailingURLs.ReplaceAllString(text, ""))
	if body == "" {
		return false
	}

	words := strings.Fields(strings.ToLower(body))
	if last := words[len(words)-1]; cutWords[last] {
		return true
	}
	if len(words) >= 2 && cutPairs[words[len(words)-2]+" "+words[len(words)-1]] {
		return true
	}

	limit := latinCutLength
	if hasNonLatin(body) {
		limit = nonLatinCutLength
	}
	return utf8.RuneCountInString(body) > limit && !endsSentence(body)
}

func endsSentence(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	switch r {
	case '.', '!', '?', '"', '”':
		return true
	}
	return false
}

func hasNonLatin(s string) bool {
	for _, r := range s {
		if unicode.IsOneOf(nonLatinScripts, r) {
			return true
		}
	}
	return false
}
