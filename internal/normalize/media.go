package normalize

import (
	"net/url"
	"sort"
	"strings"

	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/upstream"
)

// collectMedia gathers media from the top-level fields, both entity lists
// and the nested retweet and quote, deduplicated by URL. Entries without a
// usable URL are dropped.
func collectMedia(rec upstream.Record, nested ...*models.Post) []models.Media {
	var c mediaCollector

	for _, path := range topLevelMediaPaths {
		if v, ok := rec.Lookup(path); ok {
			c.addValue(v, "")
		}
	}
	for _, path := range entityMediaPaths {
		for _, entry := range rec.Records(path) {
			c.addEntry(entry, "")
		}
	}
	for _, p := range nested {
		if p == nil {
			continue
		}
		for _, m := range p.Media {
			c.add(m)
		}
	}
	return c.items
}

type mediaCollector struct {
	seen  map[string]bool
	items []models.Media
}

func (c *mediaCollector) add(m models.Media) {
	if m.URL == "" {
		return
	}
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.seen[m.URL] {
		return
	}
	c.seen[m.URL] = true
	c.items = append(c.items, m)
}

// addValue accepts a URL string, a media object, a list of either, or an
// object grouping lists by media type ({"photo": [...], "video": [...]}).
func (c *mediaCollector) addValue(v interface{}, hint string) {
	switch t := v.(type) {
	case string:
		c.add(models.Media{Type: mediaType(hint, t), URL: t})
	case []interface{}:
		if best, ok := bestVariant(t); ok {
			c.add(models.Media{Type: mediaType(hint, best), URL: best})
			return
		}
		for _, item := range t {
			c.addValue(item, hint)
		}
	case map[string]interface{}:
		rec := upstream.Record(t)
		if looksLikeMediaEntry(rec) {
			c.addEntry(rec, hint)
			return
		}
		keys := make([]string, 0, len(t))
		for key := range t {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			c.addValue(t[key], key)
		}
	}
}

func (c *mediaCollector) addEntry(entry upstream.Record, hint string) {
	preview := entry.String("media_url_https", "media_url", "preview_image_url", "thumbnail", "thumbnail_url")
	target, _ := bestVariant(entry.List("video_info.variants"))
	if target == "" {
		target, _ = bestVariant(entry.List("variants"))
	}
	if target == "" {
		target = entry.String("video_url", "media_url_https", "media_url", "url", "preview_image_url")
		if target == preview {
			preview = ""
		}
	}
	if t := entry.String("type"); t != "" {
		hint = t
	}
	c.add(models.Media{Type: mediaType(hint, target), URL: target, PreviewURL: preview})
}

func looksLikeMediaEntry(rec upstream.Record) bool {
	for _, key := range []string{"url", "media_url", "media_url_https", "video_info", "variants", "type"} {
		if _, ok := rec[key]; ok {
			return true
		}
	}
	return false
}

// bestVariant picks the highest bitrate mp4 from a list of video variants.
// ok is false when list is not a variant list.
func bestVariant(list []interface{}) (best string, ok bool) {
	if len(list) == 0 {
		return "", false
	}
	bestRate := -1
	for _, item := range list {
		m, isMap := item.(map[string]interface{})
		if !isMap {
			return "", false
		}
		v := upstream.Record(m)
		if _, hasRate := v["bitrate"]; !hasRate {
			if _, hasType := v["content_type"]; !hasType {
				return "", false
			}
		}
		if ct := v.String("content_type"); ct != "" && ct != "video/mp4" {
			continue
		}
		if rate := v.Int("bitrate"); rate > bestRate && v.String("url") != "" {
			best, bestRate = v.String("url"), rate
		}
	}
	return best, true
}

// mediaType uses a recognized raw type, otherwise infers it from the URL.
func mediaType(raw, rawURL string) models.MediaType {
	switch strings.ToLower(raw) {
	case "photo", "image":
		return models.MediaPhoto
	case "video":
		return models.MediaVideo
	case "animated_gif", "gif":
		return models.MediaAnimatedGIF
	}
	return InferMediaType(rawURL)
}

// InferMediaType classifies a media URL by extension or path fragment.
func InferMediaType(rawURL string) models.MediaType {
	p := strings.ToLower(rawURL)
	if u, err := url.Parse(rawURL); err == nil {
		p = strings.ToLower(u.Path)
	}
	switch {
	case strings.HasSuffix(p, ".mp4") || strings.Contains(p, "/video/"):
		return models.MediaVideo
	case strings.HasSuffix(p, ".gif"):
		return models.MediaAnimatedGIF
	}
	return models.MediaPhoto
}
