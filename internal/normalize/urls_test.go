package normalize

import "testing"

const trackingLink = "https://t.co/abcdefghijklmnopqrstuvwxyz"

func TestCleanText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		extracted []string
		want      string
	}{
		{
			name:      "strip trailing tracking link",
			text:      "hello " + trackingLink,
			extracted: []string{trackingLink},
			want:      "hello",
		},
		{
			name:      "re-append important link",
			text:      "new article " + trackingLink,
			extracted: []string{trackingLink, "https://example.com/article"},
			want:      "new article\nhttps://example.com/article",
		},
		{
			name:      "link left in text",
			text:      "read https://example.com/a and " + trackingLink,
			extracted: []string{"https://example.com/a", trackingLink, "https://example.com/b"},
			want:      "read https://example.com/a and",
		},
		{
			name:      "short shortener link kept",
			text:      "see https://t.co/abc",
			extracted: []string{"https://t.co/abc"},
			want:      "see https://t.co/abc",
		},
		{
			name:      "important trailing link kept",
			text:      "see https://example.com/a",
			extracted: []string{"https://example.com/a"},
			want:      "see https://example.com/a",
		},
		{
			name: "collapse newlines",
			text: "first\n\n\n\nsecond\r\n\r\n\r\nthird  ",
			want: "first\n\nsecond\n\nthird",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.text, tt.extracted); got != tt.want {
				t.Errorf("CleanText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeDisplayTextUsesEntityLinks(t *testing.T) {
	p := New().Normalize(record(t, `{"tweet_id":"1",
		"text":"new post `+trackingLink+`",
		"entities":{"urls":[{"url":"`+trackingLink+`","expanded_url":"https://blog.example.com/p/1"}]}}`))

	if want := "new post\nhttps://blog.example.com/p/1"; p.DisplayText != want {
		t.Errorf("DisplayText = %q, want %q", p.DisplayText, want)
	}
	if p.Text != "new post "+trackingLink {
		t.Errorf("Text = %q, want original text", p.Text)
	}
}
