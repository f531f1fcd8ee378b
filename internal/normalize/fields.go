package normalize

// field is a canonical Post field that can be read from several raw
// locations.
type field int

const (
	fieldID field = iota
	fieldText
	fieldCreatedAt
	fieldTimestamp
	fieldAuthorID
	fieldAuthorHandle
	fieldAuthorName
	fieldAuthorAvatar
	fieldReplyCount
	fieldShareCount
	fieldLikeCount
	fieldQuoteCount
	fieldConversationID
	fieldThreadID
	fieldInReplyToAuthorID
	fieldInReplyToPostID
	fieldRetweeted
	fieldQuoted
)

// precedence lists, per canonical field, the raw paths to try in order. The
// first path holding a non-empty value wins. Supporting a new payload shape
// means adding a path here.
var precedence = map[field][]string{
	fieldID:   {"tweet_id", "id_str", "rest_id", "id"},
	fieldText: {"note_tweet.text", "extended_tweet.full_text", "full_text", "text"},

	fieldCreatedAt: {"creation_date", "created_at"},
	fieldTimestamp: {"timestamp", "created_at_ms"},

	fieldAuthorID: {
		"user.user_id", "user.id_str", "user.rest_id", "user.id",
		"author.id", "author.user_id", "author_id", "user_id",
	},
	fieldAuthorHandle: {
		"user.username", "user.screen_name",
		"author.username", "author.screen_name",
		"username", "screen_name",
	},
	fieldAuthorName: {"user.name", "author.name", "name"},
	fieldAuthorAvatar: {
		"user.profile_pic_url", "user.profile_image_url_https", "user.profile_image_url",
		"author.profile_image_url", "author.avatar_url",
	},

	fieldReplyCount: {"reply_count", "public_metrics.reply_count", "replies"},
	fieldShareCount: {"retweet_count", "public_metrics.retweet_count", "retweets"},
	fieldLikeCount:  {"favorite_count", "like_count", "public_metrics.like_count", "likes"},
	fieldQuoteCount: {"quote_count", "public_metrics.quote_count", "quotes"},

	fieldConversationID: {"conversation_id", "conversation_id_str"},
	fieldThreadID:       {"thread_id"},

	fieldInReplyToAuthorID: {"in_reply_to_user_id_str", "in_reply_to_user_id", "in_reply_to_author_id"},
	fieldInReplyToPostID:   {"in_reply_to_status_id_str", "in_reply_to_status_id", "in_reply_to_tweet_id"},

	fieldRetweeted: {"retweet_status", "retweeted_status", "retweeted_tweet"},
	fieldQuoted:    {"quoted_status", "quoted_tweet", "quoted"},
}

// Raw media locations, in the order their entries are collected.
var (
	topLevelMediaPaths = []string{"media", "media_url", "video_url"}
	entityMediaPaths   = []string{"extended_entities.media", "entities.media"}
	entityURLPaths     = []string{"entities.urls"}
)
