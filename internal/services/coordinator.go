package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/docshare/linkdrive/internal/models"
	"github.com/docshare/linkdrive/internal/pathutil"
	"github.com/docshare/linkdrive/internal/storage"
	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/google/uuid"
)

// TreeMirror is the part of the mirror the coordinator writes through.
type TreeMirror interface {
	Get(ctx context.Context, ownerID uuid.UUID, p string) (*models.FileNode, error)
	Insert(ctx context.Context, node *models.FileNode) error
	EnsureFolder(ctx context.Context, node *models.FileNode) (*models.FileNode, bool, error)
	Relocate(ctx context.Context, ownerID uuid.UUID, from, to string) (int64, error)
	DeleteSubtree(ctx context.Context, ownerID uuid.UUID, p string) (int64, error)
	RecordTask(ctx context.Context, task *models.ReconciliationTask) error
}

const (
	KindFile   = "file"
	KindFolder = "folder"
)

// compensationRetries bounds how often a transiently failing undo is tried
// again before the mutation is recorded as a partial failure.
const compensationRetries = 3

// Coordinator applies every tree mutation to the store first and the mirror
// second, undoing the store step when the mirror step fails.
type Coordinator struct {
	Store               storage.Store
	Mirror              TreeMirror
	Locks               *TreeLocker
	CompensationTimeout time.Duration
}

func NewCoordinator(store storage.Store, mirror TreeMirror, locks *TreeLocker, compensationTimeout time.Duration) *Coordinator {
	return &Coordinator{
		Store:               store,
		Mirror:              mirror,
		Locks:               locks,
		CompensationTimeout: compensationTimeout,
	}
}

type CreateRequest struct {
	OwnerID    uuid.UUID
	ParentPath string
	Name       string
	Kind       string
	Content    io.Reader
	MimeType   string
}

type MoveResult struct {
	Node        *models.FileNode `json:"node"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Descendants int64            `json:"descendants"`
}

type DeleteResult struct {
	Path    string `json:"path"`
	Removed int64  `json:"removed"`
	Healed  bool   `json:"healed,omitempty"`
}

func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*models.FileNode, error) {
	switch req.Kind {
	case KindFolder:
		return c.CreateFolder(ctx, req.OwnerID, req.ParentPath, req.Name)
	case KindFile, "":
		if req.Content == nil {
			return nil, apperr.E("tree.create", req.Name, apperr.ErrInvalidPath, errors.New("file content required"))
		}
		return c.CreateFile(ctx, req.OwnerID, req.ParentPath, req.Name, req.Content, req.MimeType)
	default:
		return nil, apperr.E("tree.create", req.Name, apperr.ErrInvalidPath, fmt.Errorf("unknown kind %q", req.Kind))
	}
}

func (c *Coordinator) CreateFolder(ctx context.Context, ownerID uuid.UUID, parentPath, name string) (*models.FileNode, error) {
	p, err := target(parentPath, name)
	if err != nil {
		return nil, err
	}
	unlock := c.Locks.Lock(ownerID)
	defer unlock()

	if err := c.ensureParent(ctx, ownerID, pathutil.Parent(p)); err != nil {
		return nil, err
	}

	sp := pathutil.StorePath(ownerID, p)
	created := false
	st, err := c.Store.Stat(ctx, sp)
	switch {
	case err == nil && !st.IsFolder:
		return nil, apperr.E("tree.mkdir", p, apperr.ErrConflict, nil)
	case errors.Is(err, apperr.ErrNotFound):
		if err := c.Store.Mkdir(ctx, sp, false); err != nil {
			return nil, err
		}
		created = true
		if st, err = c.Store.Stat(ctx, sp); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	node := &models.FileNode{
		OwnerID:     ownerID,
		Name:        pathutil.Base(p),
		Path:        p,
		ParentPath:  pathutil.Parent(p),
		IsFolder:    true,
		ContentHash: st.Hash,
	}
	row, _, err := c.Mirror.EnsureFolder(ctx, node)
	if err != nil {
		if !created {
			return nil, err
		}
		return nil, c.compensate(ctx, "create", ownerID, p, "", st.Hash, err, func(cctx context.Context) error {
			return c.Store.Remove(cctx, sp, false)
		})
	}

	logger.InfoWithOwner(ownerID.String(), "folder_created", map[string]interface{}{
		"path":    p,
		"created": created,
	})
	return row, nil
}

func (c *Coordinator) CreateFile(ctx context.Context, ownerID uuid.UUID, parentPath, name string, content io.Reader, mimeType string) (*models.FileNode, error) {
	p, err := target(parentPath, name)
	if err != nil {
		return nil, err
	}
	unlock := c.Locks.Lock(ownerID)
	defer unlock()

	if err := c.ensureParent(ctx, ownerID, pathutil.Parent(p)); err != nil {
		return nil, err
	}
	sp := pathutil.StorePath(ownerID, p)
	if err := c.requireAbsent(ctx, ownerID, p, sp); err != nil {
		return nil, err
	}

	sniffed, body, err := Sniff(content)
	if err != nil {
		return nil, apperr.E("tree.upload", p, nil, err)
	}
	hash, size, err := c.Store.Add(ctx, body)
	if err != nil {
		return nil, err
	}
	if err := c.Store.LinkByHash(ctx, hash, sp); err != nil {
		return nil, err
	}

	node := &models.FileNode{
		OwnerID:     ownerID,
		Name:        pathutil.Base(p),
		Path:        p,
		ParentPath:  pathutil.Parent(p),
		ContentHash: hash,
		Size:        size,
		MimeType:    ResolveContentType(mimeType, sniffed, name),
	}
	if err := c.Mirror.Insert(ctx, node); err != nil {
		return nil, c.compensate(ctx, "create", ownerID, p, "", hash, err, func(cctx context.Context) error {
			return c.Store.Remove(cctx, sp, false)
		})
	}

	logger.InfoWithOwner(ownerID.String(), "file_uploaded", map[string]interface{}{
		"path":      p,
		"hash":      hash,
		"size":      size,
		"mime_type": node.MimeType,
	})
	return node, nil
}

// Rename keeps p in its folder under newName.
func (c *Coordinator) Rename(ctx context.Context, ownerID uuid.UUID, p, newName string) (*MoveResult, error) {
	return c.Relocate(ctx, ownerID, p, "", newName)
}

// Move puts p into newParent under its current name.
func (c *Coordinator) Move(ctx context.Context, ownerID uuid.UUID, p, newParent string) (*MoveResult, error) {
	return c.Relocate(ctx, ownerID, p, newParent, "")
}

// Relocate moves p to newParent under newName in one step. An empty
// newParent keeps the current folder, an empty newName the current name.
func (c *Coordinator) Relocate(ctx context.Context, ownerID uuid.UUID, p, newParent, newName string) (*MoveResult, error) {
	from, err := pathutil.Clean(p)
	if err != nil {
		return nil, err
	}
	if newParent == "" && newName == "" {
		return nil, apperr.E("tree.relocate", from, apperr.ErrInvalidPath, errors.New("new name or parent required"))
	}

	parent := pathutil.Parent(from)
	op := "rename"
	if newParent != "" {
		if parent, err = pathutil.Clean(newParent); err != nil {
			return nil, err
		}
		op = "move"
	}
	name := pathutil.Base(from)
	if newName != "" {
		if err := pathutil.ValidateName(newName); err != nil {
			return nil, err
		}
		name = newName
	}
	return c.relocate(ctx, op, ownerID, from, pathutil.Join(parent, name))
}

func (c *Coordinator) relocate(ctx context.Context, op string, ownerID uuid.UUID, from, to string) (*MoveResult, error) {
	if from == pathutil.Root {
		return nil, apperr.E("tree."+op, from, apperr.ErrInvalidPath, errors.New("cannot move the root"))
	}
	if to != from && pathutil.Within(to, from) {
		return nil, apperr.E("tree."+op, to, apperr.ErrInvalidPath, errors.New("destination inside source"))
	}

	unlock := c.Locks.Lock(ownerID)
	defer unlock()

	fromSP := pathutil.StorePath(ownerID, from)
	toSP := pathutil.StorePath(ownerID, to)
	if _, err := c.Store.Stat(ctx, fromSP); err != nil {
		return nil, err
	}
	if to == from {
		node, err := c.Mirror.Get(ctx, ownerID, from)
		if err != nil {
			return nil, err
		}
		return &MoveResult{Node: node, From: from, To: to}, nil
	}
	if err := c.ensureParent(ctx, ownerID, pathutil.Parent(to)); err != nil {
		return nil, err
	}
	if err := c.requireAbsent(ctx, ownerID, to, toSP); err != nil {
		return nil, err
	}

	if err := c.Store.Move(ctx, fromSP, toSP); err != nil {
		return nil, err
	}
	rewritten, err := c.Mirror.Relocate(ctx, ownerID, from, to)
	if err != nil {
		return nil, c.compensate(ctx, op, ownerID, from, to, "", err, func(cctx context.Context) error {
			return c.Store.Move(cctx, toSP, fromSP)
		})
	}

	node, err := c.Mirror.Get(ctx, ownerID, to)
	if err != nil {
		return nil, err
	}
	logger.InfoWithOwner(ownerID.String(), "node_"+op+"d", map[string]interface{}{
		"from":        from,
		"to":          to,
		"descendants": rewritten,
	})
	return &MoveResult{Node: node, From: from, To: to, Descendants: rewritten}, nil
}

// Delete removes p and everything below it from both sides. A path the
// store no longer has but the mirror still lists is healed on the mirror.
func (c *Coordinator) Delete(ctx context.Context, ownerID uuid.UUID, p string) (*DeleteResult, error) {
	p, err := pathutil.Clean(p)
	if err != nil {
		return nil, err
	}
	if p == pathutil.Root {
		return nil, apperr.E("tree.delete", p, apperr.ErrInvalidPath, errors.New("cannot delete the root"))
	}

	unlock := c.Locks.Lock(ownerID)
	defer unlock()

	sp := pathutil.StorePath(ownerID, p)
	st, err := c.Store.Stat(ctx, sp)
	if errors.Is(err, apperr.ErrNotFound) {
		removed, mErr := c.Mirror.DeleteSubtree(ctx, ownerID, p)
		if mErr != nil {
			return nil, mErr
		}
		if removed == 0 {
			return nil, err
		}
		logger.WarnWithOwner(ownerID.String(), "mirror_healed", map[string]interface{}{
			"path":    p,
			"removed": removed,
		})
		return &DeleteResult{Path: p, Removed: removed, Healed: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := c.Store.Remove(ctx, sp, true); err != nil {
		return nil, err
	}
	removed, err := c.Mirror.DeleteSubtree(ctx, ownerID, p)
	if err != nil {
		return nil, c.compensate(ctx, "delete", ownerID, p, "", st.Hash, err, func(cctx context.Context) error {
			return c.Store.LinkByHash(cctx, st.Hash, sp)
		})
	}

	logger.InfoWithOwner(ownerID.String(), "node_deleted", map[string]interface{}{
		"path":    p,
		"hash":    st.Hash,
		"removed": removed,
	})
	return &DeleteResult{Path: p, Removed: removed}, nil
}

func target(parentPath, name string) (string, error) {
	parent, err := pathutil.Clean(parentPath)
	if err != nil {
		return "", err
	}
	if err := pathutil.ValidateName(name); err != nil {
		return "", err
	}
	return pathutil.Join(parent, name), nil
}

// ensureParent makes sure parent exists as a folder in the store. The owner
// root is created on first use.
func (c *Coordinator) ensureParent(ctx context.Context, ownerID uuid.UUID, parent string) error {
	if parent == pathutil.Root {
		return c.Store.Mkdir(ctx, pathutil.OwnerRoot(ownerID), true)
	}
	st, err := c.Store.Stat(ctx, pathutil.StorePath(ownerID, parent))
	if err != nil {
		return err
	}
	if !st.IsFolder {
		return apperr.E("tree.parent", parent, apperr.ErrInvalidPath, errors.New("parent is not a folder"))
	}
	return nil
}

func (c *Coordinator) requireAbsent(ctx context.Context, ownerID uuid.UUID, p, sp string) error {
	if _, err := c.Store.Stat(ctx, sp); err == nil {
		return apperr.E("tree.check", p, apperr.ErrConflict, nil)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if _, err := c.Mirror.Get(ctx, ownerID, p); err == nil {
		return apperr.E("tree.check", p, apperr.ErrConflict, nil)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return nil
}

// compensate undoes a store mutation after the mirror step failed with
// cause. It runs detached from the caller's cancellation. The returned error
// is cause itself when the undo worked, a partial failure otherwise.
func (c *Coordinator) compensate(ctx context.Context, op string, ownerID uuid.UUID, source, dest, hash string, cause error, undo func(context.Context) error) error {
	cctx, cancel := c.compensationContext(ctx)
	defer cancel()

	undoErr := c.retryUndo(cctx, undo)
	if undoErr == nil {
		logger.WarnWithOwner(ownerID.String(), "tree_compensation_applied", map[string]interface{}{
			"operation":   op,
			"source_path": source,
			"target_path": dest,
			"cause":       cause.Error(),
		})
		return apperr.E("tree."+op, source, nil, cause)
	}

	task := &models.ReconciliationTask{
		OwnerID:           ownerID,
		Operation:         op,
		SourcePath:        source,
		TargetPath:        dest,
		ContentHash:       hash,
		Failure:           cause.Error(),
		CompensationError: undoErr.Error(),
	}
	logger.ErrorWithOwner(ownerID.String(), "tree_partial_failure", cause, map[string]interface{}{
		"operation":          op,
		"source_path":        source,
		"target_path":        dest,
		"hash":               hash,
		"compensation_error": undoErr.Error(),
	})
	if err := c.Mirror.RecordTask(cctx, task); err != nil {
		logger.ErrorWithOwner(ownerID.String(), "reconciliation_task_insert_failed", err, map[string]interface{}{
			"operation":   op,
			"source_path": source,
		})
	}
	return apperr.E("tree."+op, source, apperr.ErrPartialFailure, errors.Join(cause, undoErr))
}

// retryUndo retries undo while it fails with a transient kind, within the
// compensation deadline.
func (c *Coordinator) retryUndo(ctx context.Context, undo func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0

	var last error
	err := backoff.Retry(func() error {
		last = undo(ctx)
		if last != nil && !apperr.Retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, backoff.WithContext(backoff.WithMaxRetries(b, compensationRetries), ctx))
	if err != nil && last != nil {
		return last
	}
	return err
}

func (c *Coordinator) compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.CompensationTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, c.CompensationTimeout)
}
