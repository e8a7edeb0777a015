package services

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/docshare/linkdrive/internal/mirror"
	"github.com/docshare/linkdrive/internal/models"
	"github.com/docshare/linkdrive/internal/pathutil"
	"github.com/docshare/linkdrive/internal/storage"
	"github.com/docshare/linkdrive/internal/testutil"
	"github.com/google/uuid"
)

type searchEnv struct {
	*coordinatorEnv
	merger *SearchMerger
}

func setupSearch(t *testing.T) *searchEnv {
	t.Helper()
	env := setupCoordinator(t)
	return &searchEnv{
		coordinatorEnv: env,
		merger:         NewSearchMerger(env.store, env.mirror, env.coord.Locks, 32, 100),
	}
}

func resultPaths(results []SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Path)
	}
	return out
}

func bySource(results []SearchResult) map[string]string {
	out := make(map[string]string, len(results))
	for _, r := range results {
		out[r.Path] = r.Source
	}
	return out
}

func TestSearchMergesSources(t *testing.T) {
	env := setupSearch(t)
	ctx := context.Background()
	env.mkdir(t, "/", "docs")
	env.upload(t, "/docs", "report.txt", "in both")
	testutil.WriteFile(t, env.store, pathutil.StorePath(env.owner, "/docs/report-draft.txt"), "store only")
	stale := &models.FileNode{
		OwnerID:    env.owner,
		Name:       "old-report.txt",
		Path:       "/docs/old-report.txt",
		ParentPath: "/docs",
		Size:       7,
		MimeType:   "text/plain",
	}
	if err := env.mirror.Insert(ctx, stale); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	results, err := env.merger.Search(ctx, SearchRequest{OwnerID: env.owner, Query: "REPORT", Recursive: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	sources := bySource(results)
	want := map[string]string{
		"/docs/report.txt":       SourceBoth,
		"/docs/report-draft.txt": SourceStoreOnly,
		"/docs/old-report.txt":   SourceMirrorOnly,
	}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %v", len(want), resultPaths(results))
	}
	for p, source := range want {
		if sources[p] != source {
			t.Fatalf("%s: expected %s, got %q", p, source, sources[p])
		}
	}
	for _, r := range results {
		if r.Source == SourceBoth && (r.MimeType == "" || r.UpdatedAt == nil || r.Hash == "") {
			t.Fatalf("expected enriched result, got %+v", r)
		}
	}
}

func TestSearchFoldsNonASCIICase(t *testing.T) {
	env := setupSearch(t)
	ctx := context.Background()
	env.upload(t, "/", "Ärger.txt", "both sides")
	stale := &models.FileNode{
		OwnerID:    env.owner,
		Name:       "ÜBERSICHT-ärger.md",
		Path:       "/ÜBERSICHT-ärger.md",
		ParentPath: "/",
		Size:       3,
		MimeType:   "text/markdown",
	}
	if err := env.mirror.Insert(ctx, stale); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	results, err := env.merger.Search(ctx, SearchRequest{OwnerID: env.owner, Query: "ÄRGER", Recursive: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	sources := bySource(results)
	want := map[string]string{
		"/Ärger.txt":          SourceBoth,
		"/ÜBERSICHT-ärger.md": SourceMirrorOnly,
	}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %v", len(want), resultPaths(results))
	}
	for p, source := range want {
		if sources[p] != source {
			t.Fatalf("%s: expected %s, got %q", p, source, sources[p])
		}
	}
}

func TestSearchRanking(t *testing.T) {
	env := setupSearch(t)
	env.mkdir(t, "/", "a")
	env.mkdir(t, "/", "b")
	env.mkdir(t, "/b", "c")
	env.upload(t, "/b/c", "report-x", "x")
	env.upload(t, "/", "reports.txt", "r")
	env.upload(t, "/a", "report", "exact")
	env.upload(t, "/", "annual-report", "a")

	results, err := env.merger.Search(context.Background(), SearchRequest{OwnerID: env.owner, Query: "report", Recursive: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := "/a/report,/annual-report,/reports.txt,/b/c/report-x"
	if got := strings.Join(resultPaths(results), ","); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestSearchScopeAndFilters(t *testing.T) {
	env := setupSearch(t)
	env.mkdir(t, "/", "docs")
	env.mkdir(t, "/docs", "plans")
	env.upload(t, "/docs", "plan.txt", "p")
	env.upload(t, "/docs/plans", "plan-b.txt", "b")
	env.upload(t, "/", "plan-top.txt", "t")

	tests := []struct {
		name string
		req  SearchRequest
		want string
	}{
		{"one level", SearchRequest{Scope: "/docs", Query: "plan"}, "/docs/plan.txt,/docs/plans"},
		{"recursive in scope", SearchRequest{Scope: "/docs", Query: "plan", Recursive: true}, "/docs/plan.txt,/docs/plans,/docs/plans/plan-b.txt"},
		{"folders only", SearchRequest{Query: "plan", Recursive: true, Type: "folder"}, "/docs/plans"},
		{"files only", SearchRequest{Query: "plan", Recursive: true, Type: "file"}, "/plan-top.txt,/docs/plan.txt,/docs/plans/plan-b.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.OwnerID = env.owner
			results, err := env.merger.Search(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if got := strings.Join(resultPaths(results), ","); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			for _, r := range results {
				if r.Source != SourceBoth {
					t.Fatalf("expected %s in both sources, got %s", r.Path, r.Source)
				}
			}
		})
	}
}

func TestSearchRejectsBadInput(t *testing.T) {
	env := setupSearch(t)
	for _, req := range []SearchRequest{
		{Query: "   "},
		{Query: "x", Type: "blob"},
	} {
		req.OwnerID = env.owner
		if _, err := env.merger.Search(context.Background(), req); !errors.Is(err, apperr.ErrInvalidQuery) {
			t.Fatalf("expected invalid query for %+v, got %v", req, err)
		}
	}
	_, err := env.merger.Search(context.Background(), SearchRequest{OwnerID: env.owner, Query: "x", Scope: "/../etc"})
	if !errors.Is(err, apperr.ErrInvalidPath) {
		t.Fatalf("expected invalid path scope, got %v", err)
	}
}

// unlistableStore fails List for one folder.
type unlistableStore struct {
	storage.Store
	path string
}

func (u unlistableStore) List(ctx context.Context, p string) iter.Seq2[storage.Entry, error] {
	if strings.HasSuffix(p, u.path) {
		return func(yield func(storage.Entry, error) bool) {
			yield(storage.Entry{}, apperr.E("store.list", p, apperr.ErrStoreUnavailable, errors.New("shard offline")))
		}
	}
	return u.Store.List(ctx, p)
}

func TestSearchSkipsUnlistableFolders(t *testing.T) {
	env := setupSearch(t)
	env.mkdir(t, "/", "ok")
	env.mkdir(t, "/", "broken")
	env.upload(t, "/ok", "match.txt", "m")
	testutil.WriteFile(t, env.store, pathutil.StorePath(env.owner, "/broken/match-hidden.txt"), "h")

	env.merger.Store = unlistableStore{Store: env.store, path: "/broken"}
	results, err := env.merger.Search(context.Background(), SearchRequest{OwnerID: env.owner, Query: "match", Recursive: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := strings.Join(resultPaths(results), ","); got != "/ok/match.txt" {
		t.Fatalf("expected only the listable match, got %s", got)
	}
}

// failingSearchMirror always fails.
type failingSearchMirror struct{}

func (failingSearchMirror) Search(context.Context, mirror.SearchQuery) ([]models.FileNode, error) {
	return nil, apperr.E("mirror.search", "/", apperr.ErrMirrorUnavailable, nil)
}

func TestSearchFailsWhenMirrorFails(t *testing.T) {
	store := testutil.NewTestStore()
	merger := NewSearchMerger(store, failingSearchMirror{}, nil, 8, 10)
	_, err := merger.Search(context.Background(), SearchRequest{OwnerID: uuid.New(), Query: "x"})
	if !errors.Is(err, apperr.ErrMirrorUnavailable) {
		t.Fatalf("expected mirror unavailable, got %v", err)
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	env := setupSearch(t)
	env.merger.Limit = 2
	for _, name := range []string{"n1", "n2", "n3"} {
		env.upload(t, "/", name, name)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := env.merger.Search(ctx, SearchRequest{OwnerID: env.owner, Query: "n"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := strings.Join(resultPaths(results), ","); got != "/n1,/n2" {
		t.Fatalf("expected the first two ranked results, got %s", got)
	}
}
