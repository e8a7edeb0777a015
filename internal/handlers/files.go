package handlers

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/docshare/linkdrive/internal/middleware"
	"github.com/docshare/linkdrive/internal/mirror"
	"github.com/docshare/linkdrive/internal/models"
	"github.com/docshare/linkdrive/internal/pathutil"
	"github.com/docshare/linkdrive/internal/services"
	"github.com/docshare/linkdrive/internal/storage"
	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/docshare/linkdrive/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type FilesHandler struct {
	Coordinator *services.Coordinator
	Mirror      *mirror.Mirror
	Store       storage.Store
	Archive     *services.ArchiveStreamer
	Search      *services.SearchMerger
}

func NewFilesHandler(coordinator *services.Coordinator, m *mirror.Mirror, store storage.Store, archive *services.ArchiveStreamer, search *services.SearchMerger) *FilesHandler {
	return &FilesHandler{Coordinator: coordinator, Mirror: m, Store: store, Archive: archive, Search: search}
}

type createDirectoryRequest struct {
	ParentPath string `json:"parentPath"`
	Name       string `json:"name"`
}

type updateFileRequest struct {
	Path       string  `json:"path"`
	Name       *string `json:"name"`
	ParentPath *string `json:"parentPath"`
}

// storeEntry is what stat reports for an entry the mirror does not know.
type storeEntry struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	IsFolder    bool   `json:"isFolder"`
	ContentHash string `json:"contentHash"`
	Size        int64  `json:"size"`
	Source      string `json:"source"`
}

func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return utils.Error(c, fiber.StatusUnauthorized, "owner not resolved")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	filename := strings.TrimSpace(c.FormValue("name"))
	if filename == "" {
		filename = filepath.Base(strings.TrimSpace(fileHeader.Filename))
	}
	if filename == "" || filename == "." || filename == "/" {
		return utils.Error(c, fiber.StatusBadRequest, "invalid filename")
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	node, err := h.Coordinator.Create(c.UserContext(), services.CreateRequest{
		OwnerID:    ownerID,
		ParentPath: c.FormValue("parentPath", pathutil.Root),
		Name:       filename,
		Kind:       services.KindFile,
		Content:    stream,
		MimeType:   fileHeader.Header.Get("Content-Type"),
	})
	if err != nil {
		return writeError(c, ownerID.String(), "file_upload_failed", err)
	}
	return utils.Success(c, fiber.StatusCreated, node)
}

func (h *FilesHandler) CreateDirectory(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return utils.Error(c, fiber.StatusUnauthorized, "owner not resolved")
	}

	var req createDirectoryRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}
	if req.ParentPath == "" {
		req.ParentPath = pathutil.Root
	}

	node, err := h.Coordinator.Create(c.UserContext(), services.CreateRequest{
		OwnerID:    ownerID,
		ParentPath: req.ParentPath,
		Name:       req.Name,
		Kind:       services.KindFolder,
	})
	if err != nil {
		return writeError(c, ownerID.String(), "folder_create_failed", err)
	}
	return utils.Success(c, fiber.StatusCreated, node)
}

// List returns the immediate children of ?path= from the mirror, folders
// first. With ?recursive=true it returns the whole subtree in path order.
func (h *FilesHandler) List(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return utils.Error(c, fiber.StatusUnauthorized, "owner not resolved")
	}

	p, err := pathutil.Clean(c.Query("path", pathutil.Root))
	if err != nil {
		return utils.AppError(c, err)
	}
	if p != pathutil.Root {
		folder, err := h.Mirror.Get(c.UserContext(), ownerID, p)
		if err != nil {
			return writeError(c, ownerID.String(), "list_failed", err)
		}
		if !folder.IsFolder {
			return utils.Error(c, fiber.StatusBadRequest, "path is not a folder")
		}
	}

	recursive := false
	if raw := c.Query("recursive"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "recursive must be a boolean")
		}
		recursive = parsed
	}

	var nodes []models.FileNode
	if recursive {
		nodes, err = h.Mirror.Descendants(c.UserContext(), ownerID, p)
	} else {
		nodes, err = h.Mirror.Children(c.UserContext(), ownerID, p)
	}
	if err != nil {
		return writeError(c, ownerID.String(), "list_failed", err)
	}
	return utils.List(c, nodes)
}

// Stat prefers the mirror row and falls back to the store for entries the
// mirror has not caught up with.
func (h *FilesHandler) Stat(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return utils.Error(c, fiber.StatusUnauthorized, "owner not resolved")
	}

	p, err := pathutil.Clean(c.Query("path"))
	if err != nil {
		return utils.AppError(c, err)
	}
	if p == pathutil.Root {
		return utils.Error(c, fiber.StatusBadRequest, "the root has no metadata")
	}

	node, err := h.Mirror.Get(c.UserContext(), ownerID, p)
	if err == nil {
		return utils.Success(c, fiber.StatusOK, node)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return writeError(c, ownerID.String(), "stat_failed", err)
	}

	st, err := h.Store.Stat(c.UserContext(), pathutil.StorePath(ownerID, p))
	if err != nil {
		return writeError(c, ownerID.String(), "stat_failed", err)
	}
	logger.WarnWithOwner(ownerID.String(), "stat_store_only", map[string]interface{}{
		"path": p,
		"hash": st.Hash,
	})
	return utils.Success(c, fiber.StatusOK, storeEntry{
		Path:        p,
		Name:        pathutil.Base(p),
		IsFolder:    st.IsFolder,
		ContentHash: st.Hash,
		Size:        st.Size,
		Source:      services.SourceStoreOnly,
	})
}

// Download streams a file as is and a folder as a zip. A folder archive that
// fails midway is cut off by closing the pipe with the error, so the client
// sees a truncated chunked body rather than a short valid one.
func (h *FilesHandler) Download(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return utils.Error(c, fiber.StatusUnauthorized, "owner not resolved")
	}

	ctx := c.UserContext()
	dl, err := h.Archive.Open(ctx, ownerID, c.Query("path", pathutil.Root))
	if err != nil {
		return writeError(c, ownerID.String(), "download_failed", err)
	}

	if !dl.IsFolder {
		logger.InfoWithOwner(ownerID.String(), "file_downloaded", map[string]interface{}{
			"path":      c.Query("path"),
			"size":      dl.Size,
			"mime_type": dl.ContentType,
		})
		c.Set("Content-Type", dl.ContentType)
		c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Name))
		return c.SendStream(dl.Body, int(dl.Size))
	}

	p := c.Query("path", pathutil.Root)
	pr, pw := io.Pipe()
	go func() {
		err := h.Archive.Stream(ctx, ownerID, p, pw)
		if err != nil {
			logger.ErrorWithOwner(ownerID.String(), "archive_stream_failed", err, map[string]interface{}{
				"path": p,
			})
		}
		pw.CloseWithError(err)
	}()

	c.Set("Content-Type", "application/zip")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.ArchiveName()))
	return c.SendStream(pr)
}

func (h *FilesHandler) SearchFiles(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return utils.Error(c, fiber.StatusUnauthorized, "owner not resolved")
	}

	recursive := true
	if raw := c.Query("recursive"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "recursive must be a boolean")
		}
		recursive = parsed
	}

	results, err := h.Search.Search(c.UserContext(), services.SearchRequest{
		OwnerID:   ownerID,
		Scope:     c.Query("path", pathutil.Root),
		Query:     c.Query("q"),
		Recursive: recursive,
		Type:      strings.ToLower(strings.TrimSpace(c.Query("type"))),
	})
	if err != nil {
		return writeError(c, ownerID.String(), "search_failed", err)
	}
	return utils.List(c, results)
}

// Update renames and/or moves the entry at body.path.
func (h *FilesHandler) Update(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return utils.Error(c, fiber.StatusUnauthorized, "owner not resolved")
	}

	var req updateFileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Path) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "path is required")
	}

	var newName, newParent string
	if req.Name != nil {
		if newName = strings.TrimSpace(*req.Name); newName == "" {
			return utils.Error(c, fiber.StatusBadRequest, "name cannot be empty")
		}
	}
	if req.ParentPath != nil {
		if newParent = strings.TrimSpace(*req.ParentPath); newParent == "" {
			newParent = pathutil.Root
		}
	}
	if newName == "" && newParent == "" {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result, err := h.Coordinator.Relocate(c.UserContext(), ownerID, req.Path, newParent, newName)
	if err != nil {
		return writeError(c, ownerID.String(), "file_update_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, result)
}

func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	ownerID, ok := middleware.GetOwnerID(c)
	if !ok {
		return utils.Error(c, fiber.StatusUnauthorized, "owner not resolved")
	}

	p := c.Query("path")
	if strings.TrimSpace(p) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "path is required")
	}

	result, err := h.Coordinator.Delete(c.UserContext(), ownerID, p)
	if err != nil {
		return writeError(c, ownerID.String(), "file_delete_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, result)
}

// writeError logs server-side failures and answers with the mapped status.
func writeError(c *fiber.Ctx, ownerID, action string, err error) error {
	status := apperr.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		logger.ErrorWithOwner(ownerID, action, err, map[string]interface{}{
			"path":   c.Path(),
			"query":  string(c.Request().URI().QueryString()),
			"status": status,
		})
	}
	return utils.AppError(c, err)
}
