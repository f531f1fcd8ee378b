package models

import (
	"time"
)

// MediaType classifies an attached media item
type MediaType string

const (
	MediaPhoto       MediaType = "photo"
	MediaVideo       MediaType = "video"
	MediaAnimatedGIF MediaType = "animated_gif"
)

// Category groups posts the way saved posts are browsed
type Category string

const (
	CategoryNormal Category = "normal"
	CategoryThread Category = "thread"
	CategoryLong   Category = "long"
)

// Author is a snapshot of the posting account
type Author struct {
	ID          string `json:"id" validate:"required_without=Handle"`
	DisplayName string `json:"displayName"`
	Handle      string `json:"handle" validate:"required_without=ID"`
	AvatarURL   string `json:"avatarUrl"`
}

// Metrics holds public engagement counters
type Metrics struct {
	ReplyCount int `json:"replyCount"`
	ShareCount int `json:"shareCount"`
	LikeCount  int `json:"likeCount"`
	QuoteCount int `json:"quoteCount"`
}

// Media is one photo, video or animated GIF
type Media struct {
	Type       MediaType `json:"type"`
	URL        string    `json:"url"`
	PreviewURL string    `json:"previewUrl,omitempty"`
}

// Post is the canonical, provider-agnostic post. Posts are built fresh on
// every fetch; they become durable only through the persistence gateway.
type Post struct {
	ID          string    `json:"id" validate:"required"`
	Text        string    `json:"text"`
	DisplayText string    `json:"displayText"`
	CreatedAt   time.Time `json:"createdAt"`
	Author      Author    `json:"author"`
	Metrics     Metrics   `json:"metrics"`
	Media       []Media   `json:"media"`

	ConversationID    string  `json:"conversationId,omitempty"`
	ThreadID          string  `json:"threadId,omitempty"`
	InReplyToAuthorID *string `json:"inReplyToAuthorId"`
	InReplyToPostID   *string `json:"inReplyToPostId"`

	IsLong        bool  `json:"isLong"`
	IsSelfThread  bool  `json:"isSelfThread"`
	IsRetweet     bool  `json:"isRetweet"`
	RetweetedPost *Post `json:"retweetedPost,omitempty" validate:"-"`
	IsQuote       bool  `json:"isQuote"`
	QuotedPost    *Post `json:"quotedPost,omitempty" validate:"-"`

	ThreadPosition *int     `json:"threadPosition"`
	ThreadIndex    *int     `json:"threadIndex"`
	IsRootPost     bool     `json:"isRootPost"`
	Category       Category `json:"category,omitempty"`
}

// Clone returns a deep copy, so nested retweet and quote values are never
// shared between posts.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	if p.Media != nil {
		c.Media = append([]Media(nil), p.Media...)
	}
	c.InReplyToAuthorID = cloneString(p.InReplyToAuthorID)
	c.InReplyToPostID = cloneString(p.InReplyToPostID)
	c.ThreadPosition = cloneInt(p.ThreadPosition)
	c.ThreadIndex = cloneInt(p.ThreadIndex)
	c.RetweetedPost = p.RetweetedPost.Clone()
	c.QuotedPost = p.QuotedPost.Clone()
	return &c
}

// SetThreadPosition records the post's place in its thread.
func (p *Post) SetThreadPosition(i int) {
	index, position := i, i
	p.ThreadIndex = &index
	p.ThreadPosition = &position
	p.IsRootPost = i == 0
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
