package indexer

import (
	"strings"
	"unicode"

	"github.com/scripe/tweetsync/internal/models"
)

// ownThreadPost approximates "this post continues the subject's own
// thread": it was written by handle and does not open by addressing
// someone else.
func ownThreadPost(p *models.Post, handle string) bool {
	if !strings.EqualFold(p.Author.Handle, handle) {
		return false
	}
	mention, ok := leadingMention(p.Text)
	return !ok || strings.EqualFold(mention, handle)
}

// leadingMention returns the handle the text opens with, if any.
func leadingMention(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "@") {
		return "", false
	}
	fields := strings.Fields(text)
	name := strings.TrimLeft(fields[0], "@")
	name = strings.TrimRightFunc(name, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	return name, name != ""
}
