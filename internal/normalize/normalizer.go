// Package normalize maps raw upstream post records to canonical posts.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/upstream"
)

// DefaultMaxDepth bounds retweet and quote nesting.
const DefaultMaxDepth = 3

var (
	retweetPrefix = regexp.MustCompile(`^RT @(\w{1,50}):\s*`)

	createdAtLayouts = []string{
		time.RubyDate,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02 15:04:05",
	}
)

// Normalizer converts upstream records into posts. It has no side effects
// and is safe for concurrent use.
type Normalizer struct {
	maxDepth int
}

// New creates a Normalizer with the default nesting depth.
func New() *Normalizer {
	return &Normalizer{maxDepth: DefaultMaxDepth}
}

// Normalize maps one record. Missing fields default to their zero value.
func (n *Normalizer) Normalize(rec upstream.Record) *models.Post {
	return n.normalize(rec, 0)
}

// NormalizeAll maps a page of records, dropping records without an id.
func (n *Normalizer) NormalizeAll(recs []upstream.Record) []*models.Post {
	posts := make([]*models.Post, 0, len(recs))
	for _, rec := range recs {
		if p := n.Normalize(rec); p.ID != "" {
			posts = append(posts, p)
		}
	}
	return posts
}

func (n *Normalizer) normalize(rec upstream.Record, depth int) *models.Post {
	p := &models.Post{
		ID:        rec.String(precedence[fieldID]...),
		CreatedAt: createdAt(rec),
		Author: models.Author{
			ID:          rec.String(precedence[fieldAuthorID]...),
			DisplayName: rec.String(precedence[fieldAuthorName]...),
			Handle:      strings.TrimPrefix(rec.String(precedence[fieldAuthorHandle]...), "@"),
			AvatarURL:   rec.String(precedence[fieldAuthorAvatar]...),
		},
		Metrics: models.Metrics{
			ReplyCount: rec.Int(precedence[fieldReplyCount]...),
			ShareCount: rec.Int(precedence[fieldShareCount]...),
			LikeCount:  rec.Int(precedence[fieldLikeCount]...),
			QuoteCount: rec.Int(precedence[fieldQuoteCount]...),
		},
		ConversationID:    rec.String(precedence[fieldConversationID]...),
		InReplyToAuthorID: models.StringPtr(rec.String(precedence[fieldInReplyToAuthorID]...)),
		InReplyToPostID:   models.StringPtr(rec.String(precedence[fieldInReplyToPostID]...)),
	}

	p.ThreadID = rec.String(precedence[fieldThreadID]...)
	if p.ThreadID == "" {
		p.ThreadID = p.ConversationID
	}
	p.IsSelfThread = p.InReplyToAuthorID != nil && p.Author.ID != "" && *p.InReplyToAuthorID == p.Author.ID

	text := rec.String(precedence[fieldText]...)

	if depth < n.maxDepth {
		if inner, ok := rec.Object(precedence[fieldRetweeted]...); ok {
			p.RetweetedPost = n.normalize(inner, depth+1)
		}
	}
	if p.RetweetedPost == nil {
		if m := retweetPrefix.FindStringSubmatch(text); m != nil {
			rest := text[len(m[0]):]
			p.RetweetedPost = &models.Post{
				Text:        rest,
				DisplayText: rest,
				CreatedAt:   p.CreatedAt,
				Author:      models.Author{Handle: m[1]},
				IsLong:      IsLong(rest),
			}
		}
	}
	if rt := p.RetweetedPost; rt != nil {
		p.IsRetweet = true
		handle := rt.Author.Handle
		if handle == "" {
			if m := retweetPrefix.FindStringSubmatch(text); m != nil {
				handle = m[1]
			}
		}
		text = "RT @" + handle + ": " + rt.Text
	}
	p.IsLong = IsLong(text) || (p.RetweetedPost != nil && p.RetweetedPost.IsLong)

	if depth < n.maxDepth {
		if inner, ok := rec.Object(precedence[fieldQuoted]...); ok {
			q := n.normalize(inner, depth+1)
			p.IsQuote = true
			p.QuotedPost = q
			text += "\n\nQuoted: @" + q.Author.Handle + ": " + q.Text
		}
	}

	p.Text = text
	p.DisplayText = CleanText(text, extractURLs(rec, text))
	p.Media = collectMedia(rec, p.RetweetedPost, p.QuotedPost)
	return p
}

func createdAt(rec upstream.Record) time.Time {
	if raw := rec.String(precedence[fieldCreatedAt]...); raw != "" {
		for _, layout := range createdAtLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	if raw := rec.String(precedence[fieldTimestamp]...); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			// Millisecond timestamps.
			if secs > 1e12 {
				return time.UnixMilli(secs).UTC()
			}
			return time.Unix(secs, 0).UTC()
		}
	}
	return time.Time{}
}
