package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/scripe/tweetsync/internal/clock"
	"github.com/scripe/tweetsync/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testSchedulerConfig()
	cfg.MinInterval = 0
	s := NewScheduler(cfg, clock.Real())
	t.Cleanup(s.Close)

	c, err := NewClient(&config.UpstreamConfig{
		URL:    srv.URL,
		APIKey: "secret",
		Host:   "twitter154.p.rapidapi.com",
	}, s, srv.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestClientUserID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/details" {
			t.Errorf("path = %s, want /user/details", r.URL.Path)
		}
		if got := r.URL.Query().Get("username"); got != "alice" {
			t.Errorf("username = %q, want alice", got)
		}
		if got := r.Header.Get("X-RapidAPI-Key"); got != "secret" {
			t.Errorf("key header = %q, want secret", got)
		}
		if got := r.Header.Get("X-RapidAPI-Host"); got != "twitter154.p.rapidapi.com" {
			t.Errorf("host header = %q", got)
		}
		w.Write([]byte(`{"user_id": 1234567890123456789, "username": "alice"}`))
	})

	id, err := c.UserID(context.Background(), "alice")
	if err != nil {
		t.Fatalf("UserID() error = %v", err)
	}
	if id != "1234567890123456789" {
		t.Errorf("UserID() = %s, want exact 64-bit id", id)
	}
}

func TestClientUserNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"username": "ghost"}`))
	})

	if _, err := c.UserID(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UserID() error = %v, want ErrUserNotFound", err)
	}
}

func TestClientPages(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		fetch     func(c *Client) (*Page, error)
		wantPath  string
		wantQuery map[string]string
		wantCount int
		wantToken string
	}{
		{
			name: "timeline results",
			body: `{"results":[{"tweet_id":"1"},{"tweet_id":"2"}],"continuation_token":"abc"}`,
			fetch: func(c *Client) (*Page, error) {
				return c.Timeline(context.Background(), "alice", "42", 50)
			},
			wantPath:  "/user/tweets",
			wantQuery: map[string]string{"username": "alice", "user_id": "42", "limit": "50"},
			wantCount: 2,
			wantToken: "abc",
		},
		{
			name: "timeline continuation",
			body: `{"tweets":[{"tweet_id":"3"}]}`,
			fetch: func(c *Client) (*Page, error) {
				return c.TimelineContinuation(context.Background(), "alice", "42", "abc")
			},
			wantPath:  "/user/tweets/continuation",
			wantQuery: map[string]string{"continuation_token": "abc"},
			wantCount: 1,
		},
		{
			name: "replies",
			body: `{"replies":[{"tweet_id":"3"},{"tweet_id":"4"},"junk"],"cursor":"next"}`,
			fetch: func(c *Client) (*Page, error) {
				return c.Replies(context.Background(), "2")
			},
			wantPath:  "/tweet/replies",
			wantQuery: map[string]string{"tweet_id": "2"},
			wantCount: 2,
			wantToken: "next",
		},
		{
			name: "replies continuation bare array",
			body: `[{"tweet_id":"5"}]`,
			fetch: func(c *Client) (*Page, error) {
				return c.RepliesContinuation(context.Background(), "2", "next")
			},
			wantPath:  "/tweet/replies/continuation",
			wantQuery: map[string]string{"tweet_id": "2", "continuation_token": "next"},
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.wantPath {
					t.Errorf("path = %s, want %s", r.URL.Path, tt.wantPath)
				}
				for k, v := range tt.wantQuery {
					if got := r.URL.Query().Get(k); got != v {
						t.Errorf("query %s = %q, want %q", k, got, v)
					}
				}
				w.Write([]byte(tt.body))
			})

			page, err := tt.fetch(c)
			if err != nil {
				t.Fatalf("fetch error = %v", err)
			}
			if len(page.Records) != tt.wantCount {
				t.Errorf("records = %d, want %d", len(page.Records), tt.wantCount)
			}
			if page.ContinuationToken != tt.wantToken {
				t.Errorf("token = %q, want %q", page.ContinuationToken, tt.wantToken)
			}
		})
	}
}

func TestClientErrors(t *testing.T) {
	t.Run("status error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		})

		_, err := c.Replies(context.Background(), "9")
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
			t.Fatalf("Replies() error = %v, want 404 StatusError", err)
		}
	})

	t.Run("malformed body is not retried", func(t *testing.T) {
		var calls int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Write([]byte(`<html>oops</html>`))
		})

		if _, err := c.Replies(context.Background(), "9"); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("Replies() error = %v, want ErrMalformedResponse", err)
		}
		if _, err := c.Replies(context.Background(), "9"); !errors.Is(err, ErrRecentlyFailed) {
			t.Errorf("second Replies() error = %v, want ErrRecentlyFailed", err)
		}
		if atomic.LoadInt32(&calls) != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestRecordLookup(t *testing.T) {
	rec := Record{
		"user": map[string]interface{}{
			"screen_name": "alice",
			"id":          "",
		},
		"favorite_count": "12",
		"quoted":         map[string]interface{}{},
	}

	if got := rec.String("user.id", "user.screen_name"); got != "alice" {
		t.Errorf("String() = %q, want first non-empty path", got)
	}
	if got := rec.Int("like_count", "favorite_count"); got != 12 {
		t.Errorf("Int() = %d, want 12", got)
	}
	if _, ok := rec.Object("quoted"); ok {
		t.Error("Object() matched an empty object")
	}
	if _, ok := rec.Lookup("user.screen_name.x"); ok {
		t.Error("Lookup() walked through a string")
	}
}
