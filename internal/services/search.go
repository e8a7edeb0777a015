package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/docshare/linkdrive/internal/mirror"
	"github.com/docshare/linkdrive/internal/models"
	"github.com/docshare/linkdrive/internal/pathutil"
	"github.com/docshare/linkdrive/internal/storage"
	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	SourceBoth       = "both"
	SourceStoreOnly  = "store-only"
	SourceMirrorOnly = "mirror-only"
)

type SearchMirror interface {
	Search(ctx context.Context, q mirror.SearchQuery) ([]models.FileNode, error)
}

type SearchRequest struct {
	OwnerID   uuid.UUID
	Scope     string
	Query     string
	Recursive bool
	Type      string
}

type SearchResult struct {
	Path      string     `json:"path"`
	Name      string     `json:"name"`
	IsFolder  bool       `json:"isFolder"`
	Hash      string     `json:"hash,omitempty"`
	Size      int64      `json:"size"`
	MimeType  string     `json:"mimeType,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Source    string     `json:"source"`
	depth     int
	exact     bool
}

// SearchMerger runs a live store walk and a mirror query side by side and
// merges the two by path.
type SearchMerger struct {
	Store    storage.Store
	Mirror   SearchMirror
	Locks    *TreeLocker
	MaxDepth int
	Limit    int
}

func NewSearchMerger(store storage.Store, m SearchMirror, locks *TreeLocker, maxDepth, limit int) *SearchMerger {
	return &SearchMerger{Store: store, Mirror: m, Locks: locks, MaxDepth: maxDepth, Limit: limit}
}

func (s *SearchMerger) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperr.E("search", "", apperr.ErrInvalidQuery, errors.New("query is empty"))
	}
	kind := req.Type
	switch kind {
	case "":
		kind = mirror.TypeAll
	case mirror.TypeAll, mirror.TypeFile, mirror.TypeFolder:
	default:
		return nil, apperr.E("search", kind, apperr.ErrInvalidQuery, errors.New("type must be file, folder or all"))
	}
	scope := req.Scope
	if scope == "" {
		scope = pathutil.Root
	}
	scope, err := pathutil.Clean(scope)
	if err != nil {
		return nil, err
	}

	unlock := s.Locks.RLock(req.OwnerID)
	defer unlock()

	needle := strings.ToLower(query)
	var fromStore []SearchResult
	var fromMirror []models.FileNode

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fromStore, err = s.walk(gctx, req.OwnerID, scope, needle, kind, req.Recursive)
		return err
	})
	g.Go(func() error {
		var err error
		fromMirror, err = s.Mirror.Search(gctx, mirror.SearchQuery{
			OwnerID:   req.OwnerID,
			Scope:     scope,
			Query:     query,
			Recursive: req.Recursive,
			Type:      kind,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := merge(fromStore, fromMirror, scope, needle)
	if s.Limit > 0 && len(results) > s.Limit {
		results = results[:s.Limit]
	}
	return results, nil
}

type walkFrame struct {
	path  string
	depth int
}

// walk lists the store below scope with an explicit stack. A folder that
// cannot be listed is logged and skipped; only cancellation stops the walk.
func (s *SearchMerger) walk(ctx context.Context, ownerID uuid.UUID, scope, needle, kind string, recursive bool) ([]SearchResult, error) {
	var results []SearchResult
	visited := map[string]struct{}{scope: {}}
	stack := []walkFrame{{path: scope}}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for entry, err := range s.Store.List(ctx, pathutil.StorePath(ownerID, frame.path)) {
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, apperr.E("search.walk", frame.path, nil, ctxErr)
				}
				logger.WarnWithOwner(ownerID.String(), "search_subtree_skipped", map[string]interface{}{
					"path":  frame.path,
					"error": err.Error(),
				})
				break
			}

			p := pathutil.Join(frame.path, entry.Name)
			depth := frame.depth + 1
			if matches(entry.Name, entry.IsFolder, needle, kind) {
				results = append(results, SearchResult{
					Path:     p,
					Name:     entry.Name,
					IsFolder: entry.IsFolder,
					Hash:     entry.Hash,
					Size:     entry.Size,
					Source:   SourceStoreOnly,
				})
			}
			if !recursive || !entry.IsFolder {
				continue
			}
			if _, seen := visited[p]; seen {
				continue
			}
			if s.MaxDepth > 0 && depth >= s.MaxDepth {
				logger.WarnWithOwner(ownerID.String(), "search_depth_limited", map[string]interface{}{
					"path":  p,
					"depth": depth,
				})
				continue
			}
			visited[p] = struct{}{}
			stack = append(stack, walkFrame{path: p, depth: depth})
		}
	}
	return results, nil
}

func matches(name string, isFolder bool, needle, kind string) bool {
	switch kind {
	case mirror.TypeFile:
		if isFolder {
			return false
		}
	case mirror.TypeFolder:
		if !isFolder {
			return false
		}
	}
	return strings.Contains(strings.ToLower(name), needle)
}

// merge dedups by path and ranks: exact name match, then depth from scope,
// then name, then path.
func merge(fromStore []SearchResult, fromMirror []models.FileNode, scope, needle string) []SearchResult {
	byPath := make(map[string]int, len(fromStore)+len(fromMirror))
	results := make([]SearchResult, 0, len(fromStore)+len(fromMirror))

	for _, r := range fromStore {
		if _, dup := byPath[r.Path]; dup {
			continue
		}
		byPath[r.Path] = len(results)
		results = append(results, r)
	}
	for i := range fromMirror {
		node := &fromMirror[i]
		updated := node.UpdatedAt
		if idx, ok := byPath[node.Path]; ok {
			r := &results[idx]
			r.Source = SourceBoth
			r.MimeType = node.MimeType
			r.UpdatedAt = &updated
			if !node.IsFolder {
				r.Size = node.Size
			}
			continue
		}
		byPath[node.Path] = len(results)
		results = append(results, SearchResult{
			Path:      node.Path,
			Name:      node.Name,
			IsFolder:  node.IsFolder,
			Hash:      node.ContentHash,
			Size:      node.Size,
			MimeType:  node.MimeType,
			UpdatedAt: &updated,
			Source:    SourceMirrorOnly,
		})
	}

	for i := range results {
		results[i].depth = pathutil.Depth(results[i].Path, scope)
		results[i].exact = strings.ToLower(results[i].Name) == needle
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.exact != b.exact {
			return a.exact
		}
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Path < b.Path
	})
	return results
}
