package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/persist"
	"github.com/scripe/tweetsync/pkg/config"
)

type stubIngester struct {
	fail    map[string]bool
	handles []string
	opts    []Options
}

func (s *stubIngester) Ingest(ctx context.Context, handle, ownerID string, opts Options) (*Result, error) {
	s.handles = append(s.handles, handle)
	s.opts = append(s.opts, opts)
	if s.fail[handle] {
		return nil, errors.New("upstream down")
	}
	return &Result{Handle: handle, Count: 1, Posts: []*models.Post{{ID: handle + "-1"}}}, nil
}

type stubSaver struct {
	owners []string
}

func (s *stubSaver) Reconcile(ctx context.Context, ownerID string, posts []*models.Post, opts persist.Options) (*persist.Result, error) {
	s.owners = append(s.owners, ownerID)
	return &persist.Result{Total: len(posts), SavedCount: len(posts)}, nil
}

func watchConfig() *config.IngestConfig {
	return &config.IngestConfig{
		Watchlist:     []string{"alice", "bob", "carol"},
		WatchOwner:    "owner-1",
		WatchSchedule: "*/5 * * * *",
		SoftDeadline:  time.Minute,
	}
}

func TestNewSyncValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.IngestConfig)
	}{
		{"missing owner", func(c *config.IngestConfig) { c.WatchOwner = "" }},
		{"bad schedule", func(c *config.IngestConfig) { c.WatchSchedule = "every day" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := watchConfig()
			tt.mutate(cfg)
			if _, err := NewSync(cfg, &stubIngester{}, &stubSaver{}); err == nil {
				t.Error("NewSync() error = nil")
			}
		})
	}
}

func TestSyncRunOnce(t *testing.T) {
	ing := &stubIngester{fail: map[string]bool{"bob": true}}
	saver := &stubSaver{}
	s, err := NewSync(watchConfig(), ing, saver)
	if err != nil {
		t.Fatalf("NewSync() error = %v", err)
	}

	reports := s.RunOnce(context.Background())
	if len(reports) != 3 {
		t.Fatalf("reports = %d, want 3", len(reports))
	}
	if reports[0].Saved != 1 || reports[0].Err != nil {
		t.Errorf("alice report = %+v", reports[0])
	}
	if reports[1].Err == nil {
		t.Error("bob report has no error")
	}
	if reports[2].Saved != 1 {
		t.Errorf("carol report = %+v, want sync to continue after a failure", reports[2])
	}
	for _, opts := range ing.opts {
		if !opts.SkipCache {
			t.Error("watchlist sync read the ingest cache")
		}
	}
	for _, owner := range saver.owners {
		if owner != "owner-1" {
			t.Errorf("saved for %q, want owner-1", owner)
		}
	}
}

func TestSyncRunStopsOnCancel(t *testing.T) {
	s, err := NewSync(watchConfig(), &stubIngester{}, &stubSaver{})
	if err != nil {
		t.Fatalf("NewSync() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
