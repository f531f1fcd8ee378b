package models

import (
	"strings"
	"time"
)

// SavedPost is a Post persisted for one owning user. (OwnerID, PostID) is
// unique; the same post may be saved by many owners.
type SavedPost struct {
	RowID   uint   `gorm:"primaryKey;autoIncrement;column:row_id" bson:"-"`
	OwnerID string `gorm:"type:varchar(64);not null;uniqueIndex:ux_saved_posts_owner_post,priority:1;column:owner_id" bson:"owner_id"`
	PostID  string `gorm:"type:varchar(64);not null;uniqueIndex:ux_saved_posts_owner_post,priority:2;column:post_id" bson:"id"`

	// AuthorHandle is lower-cased for bulk deletion by handle.
	AuthorHandle string `gorm:"type:varchar(64);index;column:author_handle" bson:"author_handle"`

	Text          string    `gorm:"type:text;column:text" bson:"text"`
	DisplayText   string    `gorm:"type:text;column:display_text" bson:"display_text"`
	PostCreatedAt time.Time `gorm:"column:post_created_at" bson:"created_at"`
	Author        Author    `gorm:"serializer:json;type:text;column:author" bson:"author"`
	Metrics       Metrics   `gorm:"serializer:json;type:text;column:metrics" bson:"metrics"`
	Media         []Media   `gorm:"serializer:json;type:text;column:media" bson:"media"`

	ConversationID    string  `gorm:"type:varchar(64);column:conversation_id" bson:"conversation_id"`
	ThreadID          string  `gorm:"type:varchar(64);index;column:thread_id" bson:"thread_id"`
	InReplyToAuthorID *string `gorm:"type:varchar(64);column:in_reply_to_author_id" bson:"in_reply_to_author_id"`
	InReplyToPostID   *string `gorm:"type:varchar(64);column:in_reply_to_post_id" bson:"in_reply_to_post_id"`

	IsLong        bool  `gorm:"not null;default:false;column:is_long" bson:"is_long"`
	IsSelfThread  bool  `gorm:"not null;default:false;column:is_self_thread" bson:"is_self_thread"`
	IsRetweet     bool  `gorm:"not null;default:false;column:is_retweet" bson:"is_retweet"`
	RetweetedPost *Post `gorm:"serializer:json;type:text;column:retweeted_post" bson:"retweeted_post"`
	IsQuote       bool  `gorm:"not null;default:false;column:is_quote" bson:"is_quote"`
	QuotedPost    *Post `gorm:"serializer:json;type:text;column:quoted_post" bson:"quoted_post"`

	ThreadPosition *int   `gorm:"column:thread_position" bson:"thread_position"`
	ThreadIndex    *int   `gorm:"column:thread_index" bson:"thread_index"`
	IsRootPost     bool   `gorm:"not null;default:false;column:is_root_post" bson:"is_root_post"`
	Category       string `gorm:"type:varchar(16);column:category" bson:"category"`

	SavedAt   time.Time `gorm:"not null;column:saved_at" bson:"saved_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false" bson:"updated_at"`
}

// TableName specifies the table name for SavedPost
func (SavedPost) TableName() string {
	return "saved_posts"
}

// NewSavedPost builds the stored row for ownerID from p.
func NewSavedPost(ownerID string, p *Post, now time.Time) *SavedPost {
	row := &SavedPost{
		OwnerID: ownerID,
		PostID:  p.ID,
		SavedAt: now,
	}
	row.ApplyContent(p)
	row.ApplyMetadata(p)
	row.UpdatedAt = now
	return row
}

// ApplyContent copies the fields a full overwrite replaces beyond metadata.
func (s *SavedPost) ApplyContent(p *Post) {
	s.Text = p.Text
	s.DisplayText = p.DisplayText
	s.PostCreatedAt = p.CreatedAt
	s.Metrics = p.Metrics
	s.InReplyToAuthorID = cloneString(p.InReplyToAuthorID)
	s.InReplyToPostID = cloneString(p.InReplyToPostID)
	s.IsLong = p.IsLong
	s.IsSelfThread = p.IsSelfThread
	s.IsRetweet = p.IsRetweet
	s.RetweetedPost = p.RetweetedPost.Clone()
	s.IsQuote = p.IsQuote
	s.QuotedPost = p.QuotedPost.Clone()
}

// ApplyMetadata copies the cheap derived fields: author snapshot, media and
// thread grouping.
func (s *SavedPost) ApplyMetadata(p *Post) {
	s.Author = p.Author
	s.AuthorHandle = strings.ToLower(p.Author.Handle)
	s.Media = append([]Media(nil), p.Media...)
	s.ConversationID = p.ConversationID
	s.ThreadID = p.ThreadID
	s.ThreadIndex = cloneInt(p.ThreadIndex)
	s.ThreadPosition = cloneInt(p.ThreadPosition)
	s.IsRootPost = p.IsRootPost
	s.Category = string(p.Category)
}

// ToPost converts the stored row back to a canonical Post.
func (s *SavedPost) ToPost() *Post {
	return &Post{
		ID:                s.PostID,
		Text:              s.Text,
		DisplayText:       s.DisplayText,
		CreatedAt:         s.PostCreatedAt,
		Author:            s.Author,
		Metrics:           s.Metrics,
		Media:             append([]Media(nil), s.Media...),
		ConversationID:    s.ConversationID,
		ThreadID:          s.ThreadID,
		InReplyToAuthorID: cloneString(s.InReplyToAuthorID),
		InReplyToPostID:   cloneString(s.InReplyToPostID),
		IsLong:            s.IsLong,
		IsSelfThread:      s.IsSelfThread,
		IsRetweet:         s.IsRetweet,
		RetweetedPost:     s.RetweetedPost.Clone(),
		IsQuote:           s.IsQuote,
		QuotedPost:        s.QuotedPost.Clone(),
		ThreadPosition:    cloneInt(s.ThreadPosition),
		ThreadIndex:       cloneInt(s.ThreadIndex),
		IsRootPost:        s.IsRootPost,
		Category:          Category(s.Category),
	}
}
