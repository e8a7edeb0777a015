// Package mirror is the relational shadow of the store tree. Rows are keyed by
// (owner, path); subtrees are addressed by path prefix, never by parent ids.
package mirror

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/docshare/linkdrive/internal/models"
	"github.com/docshare/linkdrive/internal/pathutil"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	TypeAll    = "all"
	TypeFile   = "file"
	TypeFolder = "folder"
)

type Mirror struct {
	db      *gorm.DB
	timeout time.Duration
}

func New(db *gorm.DB, timeout time.Duration) *Mirror {
	return &Mirror{db: db, timeout: timeout}
}

type SearchQuery struct {
	OwnerID   uuid.UUID
	Scope     string
	Query     string
	Recursive bool
	Type      string
	Limit     int
}

func (m *Mirror) bound(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if m.timeout <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		return m.db.WithContext(ctx), cancel
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	return m.db.WithContext(ctx), cancel
}

func (m *Mirror) Get(ctx context.Context, ownerID uuid.UUID, p string) (*models.FileNode, error) {
	db, cancel := m.bound(ctx)
	defer cancel()

	var node models.FileNode
	if err := db.Where("owner_id = ? AND path = ?", ownerID, p).First(&node).Error; err != nil {
		return nil, mirrorError("mirror.get", p, err)
	}
	return &node, nil
}

func (m *Mirror) Children(ctx context.Context, ownerID uuid.UUID, p string) ([]models.FileNode, error) {
	db, cancel := m.bound(ctx)
	defer cancel()

	var nodes []models.FileNode
	err := db.Where("owner_id = ? AND parent_path = ?", ownerID, p).
		Order("is_folder DESC, name ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, mirrorError("mirror.children", p, err)
	}
	return nodes, nil
}

// Descendants returns every row strictly below p, in path order.
func (m *Mirror) Descendants(ctx context.Context, ownerID uuid.UUID, p string) ([]models.FileNode, error) {
	db, cancel := m.bound(ctx)
	defer cancel()

	var nodes []models.FileNode
	err := below(db.Where("owner_id = ?", ownerID), p).
		Order("path ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, mirrorError("mirror.descendants", p, err)
	}
	return nodes, nil
}

// Search matches names case-insensitively with Unicode folding. SQLite's
// LOWER only folds ASCII, so SQL narrows by scope and type and the name test
// runs here while rows stream in.
func (m *Mirror) Search(ctx context.Context, q SearchQuery) ([]models.FileNode, error) {
	db, cancel := m.bound(ctx)
	defer cancel()

	query := db.Model(&models.FileNode{}).Where("owner_id = ?", q.OwnerID)
	if q.Recursive {
		query = below(query, q.Scope)
	} else {
		query = query.Where("parent_path = ?", q.Scope)
	}
	switch q.Type {
	case TypeFile:
		query = query.Where("is_folder = ?", false)
	case TypeFolder:
		query = query.Where("is_folder = ?", true)
	}

	rows, err := query.Order("path ASC").Rows()
	if err != nil {
		return nil, mirrorError("mirror.search", q.Scope, err)
	}
	defer rows.Close()

	needle := strings.ToLower(q.Query)
	var nodes []models.FileNode
	for rows.Next() {
		var node models.FileNode
		if err := db.ScanRows(rows, &node); err != nil {
			return nil, mirrorError("mirror.search", q.Scope, err)
		}
		if !strings.Contains(strings.ToLower(node.Name), needle) {
			continue
		}
		nodes = append(nodes, node)
		if q.Limit > 0 && len(nodes) >= q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mirrorError("mirror.search", q.Scope, err)
	}
	return nodes, nil
}

// Insert adds one row. Its parent must be the owner root or a folder row.
func (m *Mirror) Insert(ctx context.Context, node *models.FileNode) error {
	db, cancel := m.bound(ctx)
	defer cancel()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := requireParent(tx, node.OwnerID, node.ParentPath); err != nil {
			return err
		}
		return tx.Create(node).Error
	})
	if err != nil {
		return mirrorError("mirror.insert", node.Path, err)
	}
	return nil
}

// EnsureFolder inserts a folder row or returns the one already at its path.
// created is false when the row existed.
func (m *Mirror) EnsureFolder(ctx context.Context, node *models.FileNode) (*models.FileNode, bool, error) {
	db, cancel := m.bound(ctx)
	defer cancel()

	node.IsFolder = true
	node.MimeType = models.FolderMimeType
	created := false
	var existing models.FileNode

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := requireParent(tx, node.OwnerID, node.ParentPath); err != nil {
			return err
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(node)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			created = true
			existing = *node
			return nil
		}
		if err := tx.Where("owner_id = ? AND path = ?", node.OwnerID, node.Path).First(&existing).Error; err != nil {
			return err
		}
		if !existing.IsFolder {
			return apperr.E("mirror.ensure_folder", node.Path, apperr.ErrConflict, nil)
		}
		return nil
	})
	if err != nil {
		return nil, false, mirrorError("mirror.ensure_folder", node.Path, err)
	}
	return &existing, created, nil
}

// Relocate moves the row at from to to and rewrites every descendant's path
// and parent_path with one set-based update, all in one transaction. It
// returns the number of descendant rows rewritten.
func (m *Mirror) Relocate(ctx context.Context, ownerID uuid.UUID, from, to string) (int64, error) {
	db, cancel := m.bound(ctx)
	defer cancel()

	var rewritten int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var node models.FileNode
		if err := tx.Where("owner_id = ? AND path = ?", ownerID, from).First(&node).Error; err != nil {
			return err
		}

		var taken int64
		if err := tx.Model(&models.FileNode{}).Where("owner_id = ? AND path = ?", ownerID, to).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return apperr.E("mirror.relocate", to, apperr.ErrConflict, nil)
		}
		newParent := pathutil.Parent(to)
		if err := requireParent(tx, ownerID, newParent); err != nil {
			return err
		}

		now := time.Now().UTC()
		err := tx.Model(&models.FileNode{}).
			Where("id = ?", node.ID).
			Updates(map[string]interface{}{
				"path":        to,
				"parent_path": newParent,
				"name":        pathutil.Base(to),
				"updated_at":  now,
			}).Error
		if err != nil {
			return err
		}
		if !node.IsFolder {
			return nil
		}

		cut := utf8.RuneCountInString(from) + 1
		result := below(tx.Model(&models.FileNode{}).Where("owner_id = ?", ownerID), from).
			Updates(map[string]interface{}{
				"path":        gorm.Expr("CAST(? AS TEXT) || SUBSTR(path, CAST(? AS INTEGER))", to, cut),
				"parent_path": gorm.Expr("CAST(? AS TEXT) || SUBSTR(parent_path, CAST(? AS INTEGER))", to, cut),
				"updated_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		rewritten = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, mirrorError("mirror.relocate", from, err)
	}
	return rewritten, nil
}

// DeleteSubtree removes the row at p and everything below it. Deleting a
// path with no rows is not an error; the count tells the caller.
func (m *Mirror) DeleteSubtree(ctx context.Context, ownerID uuid.UUID, p string) (int64, error) {
	db, cancel := m.bound(ctx)
	defer cancel()

	var deleted int64
	err := db.Transaction(func(tx *gorm.DB) error {
		own := tx.Where("owner_id = ? AND path = ?", ownerID, p).Delete(&models.FileNode{})
		if own.Error != nil {
			return own.Error
		}
		rest := below(tx.Where("owner_id = ?", ownerID), p).Delete(&models.FileNode{})
		if rest.Error != nil {
			return rest.Error
		}
		deleted = own.RowsAffected + rest.RowsAffected
		return nil
	})
	if err != nil {
		return 0, mirrorError("mirror.delete", p, err)
	}
	return deleted, nil
}

func (m *Mirror) RecordTask(ctx context.Context, task *models.ReconciliationTask) error {
	db, cancel := m.bound(ctx)
	defer cancel()

	if task.Status == "" {
		task.Status = models.ReconciliationOpen
	}
	if err := db.Create(task).Error; err != nil {
		return mirrorError("mirror.record_task", task.SourcePath, err)
	}
	return nil
}

func (m *Mirror) OpenTasks(ctx context.Context, ownerID uuid.UUID) ([]models.ReconciliationTask, error) {
	db, cancel := m.bound(ctx)
	defer cancel()

	var tasks []models.ReconciliationTask
	err := db.Where("owner_id = ? AND status = ?", ownerID, models.ReconciliationOpen).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, mirrorError("mirror.tasks", "", err)
	}
	return tasks, nil
}

func (m *Mirror) ResolveTask(ctx context.Context, ownerID, taskID uuid.UUID) error {
	db, cancel := m.bound(ctx)
	defer cancel()

	result := db.Model(&models.ReconciliationTask{}).
		Where("id = ? AND owner_id = ? AND status = ?", taskID, ownerID, models.ReconciliationOpen).
		Update("status", models.ReconciliationResolved)
	if result.Error != nil {
		return mirrorError("mirror.resolve_task", taskID.String(), result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.E("mirror.resolve_task", taskID.String(), apperr.ErrNotFound, nil)
	}
	return nil
}

func requireParent(tx *gorm.DB, ownerID uuid.UUID, parentPath string) error {
	if parentPath == pathutil.Root {
		return nil
	}
	var parent models.FileNode
	if err := tx.Where("owner_id = ? AND path = ?", ownerID, parentPath).First(&parent).Error; err != nil {
		return err
	}
	if !parent.IsFolder {
		return apperr.E("mirror.parent", parentPath, apperr.ErrInvalidPath, errors.New("parent is not a folder"))
	}
	return nil
}

// below scopes q to rows strictly under p. LIKE narrows the scan; the
// SUBSTR comparison keeps the match exact where LIKE folds case.
func below(q *gorm.DB, p string) *gorm.DB {
	if p == pathutil.Root {
		return q.Where("path <> ?", pathutil.Root)
	}
	prefix := p + "/"
	return q.Where("path LIKE ? ESCAPE '\\' AND SUBSTR(path, 1, CAST(? AS INTEGER)) = ?",
		escapeLike(prefix)+"%", utf8.RuneCountInString(prefix), prefix)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func mirrorError(op, p string, err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.E(op, p, apperr.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.E(op, p, apperr.ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.E(op, p, apperr.ErrTimeout, err)
	}
	return apperr.E(op, p, apperr.ErrMirrorUnavailable, err)
}
