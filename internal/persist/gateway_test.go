package persist

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scripe/tweetsync/internal/clock"
	"github.com/scripe/tweetsync/internal/models"
)

var epoch = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

// memoryStore keeps rows keyed by owner and post id.
type memoryStore struct {
	mu      sync.Mutex
	rows    map[string]*models.SavedPost
	writes  int
	failIDs map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]*models.SavedPost)}
}

func key(ownerID, postID string) string { return ownerID + "/" + postID }

func (m *memoryStore) ExistingIDs(ctx context.Context, ownerID string, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.rows[key(ownerID, id)]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memoryStore) Insert(ctx context.Context, row *models.SavedPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[row.PostID] {
		return errors.New("disk full")
	}
	k := key(row.OwnerID, row.PostID)
	if _, ok := m.rows[k]; ok {
		return errors.New("duplicate key")
	}
	m.rows[k] = row
	m.writes++
	return nil
}

func (m *memoryStore) UpdateMetadata(ctx context.Context, ownerID string, p *models.Post, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[key(ownerID, p.ID)]
	row.ApplyMetadata(p)
	row.UpdatedAt = now
	m.writes++
	return nil
}

func (m *memoryStore) Replace(ctx context.Context, ownerID string, p *models.Post, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[key(ownerID, p.ID)]
	row.ApplyContent(p)
	row.ApplyMetadata(p)
	row.UpdatedAt = now
	m.writes++
	return nil
}

func (m *memoryStore) DeleteByOwnerAndID(ctx context.Context, ownerID, postID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(ownerID, postID)
	_, ok := m.rows[k]
	delete(m.rows, k)
	return ok, nil
}

func (m *memoryStore) DeleteByHandle(ctx context.Context, handle string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, row := range m.rows {
		if row.AuthorHandle == handle {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.SavedPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SavedPost
	for _, row := range m.rows {
		if row.OwnerID == ownerID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostCreatedAt.After(out[j].PostCreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) row(ownerID, postID string) *models.SavedPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[key(ownerID, postID)]
}

func newPost(id, threadID, text string, minute int) *models.Post {
	return &models.Post{
		ID:        id,
		Text:      text,
		CreatedAt: epoch.Add(time.Duration(minute) * time.Minute),
		Author:    models.Author{ID: "7", Handle: "Alice"},
		ThreadID:  threadID,
	}
}

func TestReconcileDefaultsAreIdempotent(t *testing.T) {
	store := newMemoryStore()
	g := NewGateway(store, clock.Fake(epoch))
	posts := []*models.Post{newPost("1", "", "a", 0), newPost("2", "", "b", 1)}

	first, err := g.Reconcile(context.Background(), "owner", posts, DefaultOptions())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if first.SavedCount != 2 || first.SkippedCount != 0 || first.Total != 2 {
		t.Errorf("first result = %+v", first)
	}

	writes := store.writes
	second, err := g.Reconcile(context.Background(), "owner", posts, DefaultOptions())
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if second.SavedCount != 0 || second.SkippedCount != 2 || len(second.SavedPosts) != 0 {
		t.Errorf("second result = %+v, want everything skipped", second)
	}
	if store.writes != writes {
		t.Errorf("second call wrote %d times", store.writes-writes)
	}

	// Another owner saves the same posts independently.
	other, err := g.Reconcile(context.Background(), "owner-2", posts, DefaultOptions())
	if err != nil || other.SavedCount != 2 {
		t.Errorf("other owner result = %+v, err = %v", other, err)
	}
}

func TestReconcileOverwriteIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	clk := clock.Fake(epoch)
	g := NewGateway(store, clk)
	overwrite := Options{PreserveThreadOrder: true}

	if _, err := g.Reconcile(context.Background(), "owner", []*models.Post{newPost("1", "", "old", 0)}, DefaultOptions()); err != nil {
		t.Fatalf("seed Reconcile() error = %v", err)
	}

	updated := []*models.Post{newPost("1", "", "new text", 0)}
	updated[0].Metrics.LikeCount = 10

	if _, err := g.Reconcile(context.Background(), "owner", updated, overwrite); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	after1 := *store.row("owner", "1")

	clk.Advance(time.Minute)
	result, err := g.Reconcile(context.Background(), "owner", updated, overwrite)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if result.SavedCount != 1 {
		t.Errorf("SavedCount = %d, want 1", result.SavedCount)
	}
	after2 := *store.row("owner", "1")

	if after2.Text != "new text" || after2.Metrics.LikeCount != 10 {
		t.Errorf("row = %+v, want overwritten content", after2)
	}
	after1.UpdatedAt, after2.UpdatedAt = time.Time{}, time.Time{}
	if after1.Text != after2.Text || after1.Metrics != after2.Metrics || after1.SavedAt != after2.SavedAt {
		t.Errorf("overwrite not idempotent: %+v vs %+v", after1, after2)
	}
}

func TestReconcilePreserveExistingUpdatesMetadataOnly(t *testing.T) {
	store := newMemoryStore()
	g := NewGateway(store, clock.Fake(epoch))

	if _, err := g.Reconcile(context.Background(), "owner", []*models.Post{newPost("1", "", "original", 0)}, DefaultOptions()); err != nil {
		t.Fatalf("seed Reconcile() error = %v", err)
	}

	changed := newPost("1", "", "edited", 0)
	changed.Author.DisplayName = "Alice A."
	changed.Media = []models.Media{{Type: models.MediaPhoto, URL: "https://img/1.jpg"}}
	changed.Metrics.LikeCount = 99

	opts := Options{PreserveExisting: true}
	if _, err := g.Reconcile(context.Background(), "owner", []*models.Post{changed}, opts); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	row := store.row("owner", "1")
	if row.Text != "original" || row.Metrics.LikeCount != 0 {
		t.Errorf("content changed: text = %q likes = %d", row.Text, row.Metrics.LikeCount)
	}
	if row.Author.DisplayName != "Alice A." || len(row.Media) != 1 {
		t.Errorf("metadata not updated: %+v", row)
	}
}

func TestReconcileThreadOrder(t *testing.T) {
	store := newMemoryStore()
	g := NewGateway(store, clock.Fake(epoch))

	posts := []*models.Post{
		newPost("9", "", "loose", 9),
		newPost("4", "2", "third", 4),
		newPost("2", "2", "first", 2),
		newPost("3", "2", "second", 3),
	}
	result, err := g.Reconcile(context.Background(), "owner", posts, DefaultOptions())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	var got []string
	for _, p := range result.SavedPosts {
		got = append(got, p.ID)
	}
	if strings.Join(got, ",") != "2,3,4,9" {
		t.Errorf("saved order = %v, want [2 3 4 9]", got)
	}
	for i, id := range []string{"2", "3", "4"} {
		row := store.row("owner", id)
		if row.ThreadIndex == nil || *row.ThreadIndex != i || row.IsRootPost != (i == 0) {
			t.Errorf("row %s index = %v root = %v", id, row.ThreadIndex, row.IsRootPost)
		}
	}
	if posts[1].ThreadIndex != nil {
		t.Error("Reconcile mutated the caller's posts")
	}
}

func TestReconcileValidation(t *testing.T) {
	store := newMemoryStore()
	g := NewGateway(store, clock.Fake(epoch))

	if _, err := g.Reconcile(context.Background(), " ", nil, DefaultOptions()); !errors.Is(err, ErrMissingOwner) {
		t.Errorf("Reconcile() error = %v, want ErrMissingOwner", err)
	}

	noAuthor := newPost("5", "", "x", 0)
	noAuthor.Author = models.Author{}
	posts := []*models.Post{
		newPost("1", "", "ok", 0),
		{Text: "no id", Author: models.Author{Handle: "alice"}},
		noAuthor,
		nil,
		newPost("1", "", "repeat", 0),
	}

	result, err := g.Reconcile(context.Background(), "owner", posts, DefaultOptions())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Total != 5 || result.SavedCount != 1 || result.SkippedCount != 4 {
		t.Errorf("result = %+v, want 1 saved and 4 skipped", result)
	}
	if store.row("owner", "1").Text != "ok" {
		t.Error("first occurrence of a repeated id did not win")
	}
}

func TestReconcileWriteFailureIsCounted(t *testing.T) {
	store := newMemoryStore()
	store.failIDs = map[string]bool{"2": true}
	g := NewGateway(store, clock.Fake(epoch))

	result, err := g.Reconcile(context.Background(), "owner",
		[]*models.Post{newPost("1", "", "a", 0), newPost("2", "", "b", 1)}, DefaultOptions())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.SavedCount != 1 || result.SkippedCount != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestGatewayMaintenance(t *testing.T) {
	store := newMemoryStore()
	g := NewGateway(store, clock.Fake(epoch))
	ctx := context.Background()

	bob := newPost("3", "", "bob's", 5)
	bob.Author = models.Author{Handle: "bob"}
	if _, err := g.Reconcile(ctx, "owner", []*models.Post{newPost("1", "", "a", 0), newPost("2", "", "b", 1), bob}, DefaultOptions()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	posts, err := g.List(ctx, "owner", 0)
	if err != nil || len(posts) != 3 || posts[0].ID != "3" {
		t.Fatalf("List() = %v, err = %v", posts, err)
	}

	found, err := g.Delete(ctx, "owner", "1")
	if err != nil || !found {
		t.Errorf("Delete() = %v, %v", found, err)
	}
	if found, _ := g.Delete(ctx, "owner", "1"); found {
		t.Error("second Delete() found the post")
	}

	n, err := g.DeleteByHandle(ctx, "@BOB")
	if err != nil || n != 1 {
		t.Errorf("DeleteByHandle() = %d, %v", n, err)
	}
	if _, err := g.DeleteByHandle(ctx, ""); !errors.Is(err, ErrMissingHandle) {
		t.Errorf("DeleteByHandle(\"\") error = %v", err)
	}
}
