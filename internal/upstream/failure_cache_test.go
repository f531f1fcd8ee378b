package upstream

import (
	"testing"
	"time"
)

func TestFailureCache(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		retryAfter time.Duration
		lookupAt   time.Duration
		live       bool
	}{
		{"rate limited within retry-after", time.Minute, 59 * time.Second, true},
		{"rate limited after retry-after", time.Minute, 61 * time.Second, false},
		{"default ttl still live", 0, 9 * time.Minute, true},
		{"default ttl expired", 0, 10 * time.Minute, false},
		{"retry-after capped by ttl", time.Hour, 11 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewFailureCache(10 * time.Minute)
			c.Record("https://api/x", 429, t0, tt.retryAfter)

			_, live := c.Lookup("https://api/x", t0.Add(tt.lookupAt))
			if live != tt.live {
				t.Errorf("Lookup() live = %v, want %v", live, tt.live)
			}
			if !tt.live && c.Len() != 0 {
				t.Errorf("expired entry not removed, Len() = %d", c.Len())
			}
		})
	}
}

func TestFailureCacheKeepsFirstFailure(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewFailureCache(10 * time.Minute)

	c.Record("k", 500, t0, 0)
	entry := c.Record("k", 503, t0.Add(time.Minute), 0)

	if !entry.FirstFailedAt.Equal(t0) {
		t.Errorf("FirstFailedAt = %v, want %v", entry.FirstFailedAt, t0)
	}
	if entry.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", entry.StatusCode)
	}
	if _, live := c.Lookup("k", t0.Add(10*time.Minute)); live {
		t.Error("entry should expire ttl after the first failure")
	}
}

func TestFailureCachePurge(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewFailureCache(10 * time.Minute)
	c.Record("a", 429, t0, time.Minute)
	c.Record("b", 500, t0, 0)

	if removed := c.Purge(t0.Add(2 * time.Minute)); removed != 1 {
		t.Errorf("Purge() = %d, want 1", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
