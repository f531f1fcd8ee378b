package posts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/scripe/tweetsync/internal/indexer"
	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/persist"
)

type stubIngestor struct {
	heartbeats int
	gotHandle  string
	gotOpts    indexer.Options
	err        error
}

func (s *stubIngestor) Ingest(ctx context.Context, handle, ownerID string, opts indexer.Options) (*indexer.Result, error) {
	s.gotHandle = handle
	s.gotOpts = opts
	for i := 0; i < s.heartbeats; i++ {
		opts.Heartbeat()
	}
	if s.err != nil {
		return nil, s.err
	}
	return &indexer.Result{Handle: handle, Count: 1, Posts: []*models.Post{{ID: "1"}}}, nil
}

type stubGateway struct {
	gotOpts  persist.Options
	gotPosts []*models.Post
	gotLimit int
}

func (s *stubGateway) Reconcile(ctx context.Context, ownerID string, posts []*models.Post, opts persist.Options) (*persist.Result, error) {
	s.gotOpts = opts
	s.gotPosts = posts
	return &persist.Result{Total: len(posts), SavedCount: len(posts), SavedPosts: posts}, nil
}

func (s *stubGateway) Delete(ctx context.Context, ownerID, postID string) (bool, error) {
	return postID == "1", nil
}

func (s *stubGateway) DeleteByHandle(ctx context.Context, handle string) (int64, error) {
	if handle == "" {
		return 0, persist.ErrMissingHandle
	}
	return 3, nil
}

func (s *stubGateway) List(ctx context.Context, ownerID string, limit int) ([]*models.Post, error) {
	s.gotLimit = limit
	return []*models.Post{{ID: "1"}, {ID: "2"}}, nil
}

func testContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	return c, w
}

func isInvalidParams(err error) bool {
	var pe *paramError
	return errors.As(err, &pe) && pe.RPCCode() == invalidParamsCode
}

func TestIngestWritesHeartbeats(t *testing.T) {
	ing := &stubIngestor{heartbeats: 2}
	a := NewAPI(ing, &stubGateway{})
	c, w := testContext(t)

	out, err := a.Ingest(c, json.RawMessage(`{"handle":"@alice","owner_id":"u1","max_total":50,"refresh":true}`))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res := out.(*indexer.Result); res.Count != 1 {
		t.Errorf("Count = %d, want 1", res.Count)
	}
	if w.Body.String() != "  " {
		t.Errorf("body = %q, want two spaces", w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Errorf("Content-Type = %q", got)
	}
	if ing.gotOpts.MaxTotal != 50 || !ing.gotOpts.SkipCache {
		t.Errorf("options = %+v", ing.gotOpts)
	}
}

func TestIngestParamErrors(t *testing.T) {
	tests := []struct {
		name   string
		params string
	}{
		{"missing", ``},
		{"malformed", `{"handle":`},
		{"no handle", `{"owner_id":"u1"}`},
		{"no owner", `{"handle":"alice"}`},
		{"fetch count too large", `{"handle":"alice","owner_id":"u1","initial_fetch_count":500}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAPI(&stubIngestor{}, &stubGateway{})
			c, _ := testContext(t)
			_, err := a.Ingest(c, json.RawMessage(tt.params))
			if !isInvalidParams(err) {
				t.Errorf("Ingest() error = %v, want invalid params", err)
			}
		})
	}
}

func TestIngestMissingHandleIsInvalidParams(t *testing.T) {
	a := NewAPI(&stubIngestor{err: indexer.ErrMissingHandle}, &stubGateway{})
	c, _ := testContext(t)
	_, err := a.Ingest(c, json.RawMessage(`{"handle":"@","owner_id":"u1"}`))
	if !isInvalidParams(err) {
		t.Errorf("Ingest() error = %v, want invalid params", err)
	}
}

func TestIngestUpstreamErrorPassesThrough(t *testing.T) {
	upstream := errors.New("boom")
	a := NewAPI(&stubIngestor{err: upstream}, &stubGateway{})
	c, _ := testContext(t)
	_, err := a.Ingest(c, json.RawMessage(`{"handle":"alice","owner_id":"u1"}`))
	if !errors.Is(err, upstream) || isInvalidParams(err) {
		t.Errorf("Ingest() error = %v, want upstream error", err)
	}
}

func TestSaveOptions(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   persist.Options
	}{
		{
			name:   "defaults",
			params: `{"owner_id":"u1","posts":[{"id":"1"}]}`,
			want:   persist.DefaultOptions(),
		},
		{
			name:   "overrides",
			params: `{"owner_id":"u1","posts":[{"id":"1"}],"skip_duplicates":false,"preserve_thread_order":false}`,
			want:   persist.Options{SkipDuplicates: false, PreserveExisting: true, PreserveThreadOrder: false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &stubGateway{}
			a := NewAPI(&stubIngestor{}, gw)
			c, _ := testContext(t)
			out, err := a.Save(c, json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if gw.gotOpts != tt.want {
				t.Errorf("options = %+v, want %+v", gw.gotOpts, tt.want)
			}
			if res := out.(*persist.Result); res.SavedCount != 1 {
				t.Errorf("SavedCount = %d, want 1", res.SavedCount)
			}
		})
	}
}

func TestSaveRequiresPosts(t *testing.T) {
	a := NewAPI(&stubIngestor{}, &stubGateway{})
	c, _ := testContext(t)
	if _, err := a.Save(c, json.RawMessage(`{"owner_id":"u1"}`)); !isInvalidParams(err) {
		t.Errorf("Save() error = %v, want invalid params", err)
	}
}

func TestMaintenanceMethods(t *testing.T) {
	gw := &stubGateway{}
	a := NewAPI(&stubIngestor{}, gw)
	c, _ := testContext(t)

	out, err := a.Delete(c, json.RawMessage(`{"owner_id":"u1","post_id":"1"}`))
	if err != nil || out.(gin.H)["deleted"] != true {
		t.Errorf("Delete() = %v, %v", out, err)
	}
	out, err = a.DeleteByHandle(c, json.RawMessage(`{"handle":"alice"}`))
	if err != nil || out.(gin.H)["deleted"] != int64(3) {
		t.Errorf("DeleteByHandle() = %v, %v", out, err)
	}
	out, err = a.List(c, json.RawMessage(`{"owner_id":"u1","limit":10}`))
	if err != nil || out.(gin.H)["count"] != 2 {
		t.Errorf("List() = %v, %v", out, err)
	}
	if gw.gotLimit != 10 {
		t.Errorf("limit = %d, want 10", gw.gotLimit)
	}
	if _, err := a.List(c, json.RawMessage(`{"owner_id":"u1","limit":5000}`)); !isInvalidParams(err) {
		t.Errorf("List() error = %v, want invalid params", err)
	}
}
