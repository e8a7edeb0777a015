package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/docshare/linkdrive/internal/pathutil"
	"github.com/docshare/linkdrive/internal/storage"
	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

const rootArchiveName = "files"

// ArchiveStreamer turns a store subtree into a zip written straight to the
// response. Nothing but the current listing frames and one open file stream
// is held at a time.
type ArchiveStreamer struct {
	Store    storage.Store
	Locks    *TreeLocker
	MaxDepth int
}

func NewArchiveStreamer(store storage.Store, locks *TreeLocker, maxDepth int) *ArchiveStreamer {
	return &ArchiveStreamer{Store: store, Locks: locks, MaxDepth: maxDepth}
}

// Download describes what a path resolves to. Files carry an open Body;
// folders are written later through Stream.
type Download struct {
	Name        string
	IsFolder    bool
	Size        int64
	ContentType string
	Body        io.ReadCloser
}

// ArchiveName is the file name offered for a folder download.
func (d *Download) ArchiveName() string {
	return d.Name + ".zip"
}

// Open stats p and, for a file, opens its byte stream with the sniffed
// content type. The caller closes Body.
func (a *ArchiveStreamer) Open(ctx context.Context, ownerID uuid.UUID, p string) (*Download, error) {
	p, err := pathutil.Clean(p)
	if err != nil {
		return nil, err
	}
	name := pathutil.Base(p)
	if p == pathutil.Root {
		name = rootArchiveName
	}

	st, err := a.Store.Stat(ctx, pathutil.StorePath(ownerID, p))
	if errors.Is(err, apperr.ErrNotFound) && p == pathutil.Root {
		return &Download{Name: name, IsFolder: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if st.IsFolder {
		return &Download{Name: name, IsFolder: true, Size: st.Size}, nil
	}

	rc, err := a.Store.ReadStream(ctx, pathutil.StorePath(ownerID, p))
	if err != nil {
		return nil, err
	}
	sniffed, body, err := Sniff(rc)
	if err != nil {
		_ = rc.Close()
		return nil, apperr.E("archive.open", p, nil, err)
	}
	return &Download{
		Name:        name,
		Size:        st.Size,
		ContentType: ResolveContentType("", sniffed, name),
		Body:        readCloser{Reader: body, Closer: rc},
	}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type archiveFrame struct {
	storePath string
	entryPath string
	depth     int
	entries   int
	next      func() (storage.Entry, error, bool)
	stop      func()
}

// Stream writes the folder at p as a zip to w. Entries are named
// "<folder name>/<relative path>". The first failure aborts the archive and
// is returned; w is left without a central directory so the output cannot be
// mistaken for a complete archive.
func (a *ArchiveStreamer) Stream(ctx context.Context, ownerID uuid.UUID, p string, w io.Writer) error {
	p, err := pathutil.Clean(p)
	if err != nil {
		return err
	}
	unlock := a.Locks.RLock(ownerID)
	defer unlock()

	rootName := pathutil.Base(p)
	if p == pathutil.Root {
		rootName = rootArchiveName
	}
	root := pathutil.StorePath(ownerID, p)

	buffered := bufio.NewWriterSize(w, 64<<10)
	zw := zip.NewWriter(buffered)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	var stack []*archiveFrame
	defer func() {
		for _, f := range stack {
			f.stop()
		}
	}()
	push := func(storePath, entryPath string, depth int) {
		next, stop := iter.Pull2(a.Store.List(ctx, storePath))
		stack = append(stack, &archiveFrame{
			storePath: storePath,
			entryPath: entryPath,
			depth:     depth,
			next:      next,
			stop:      stop,
		})
	}

	visited := map[string]struct{}{root: {}}
	push(root, rootName, 0)
	files := 0
	start := time.Now()

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return apperr.E("archive.stream", p, nil, err)
		}
		top := stack[len(stack)-1]
		entry, err, ok := top.next()
		if !ok {
			top.stop()
			stack = stack[:len(stack)-1]
			if top.entries == 0 {
				if _, err := zw.CreateHeader(dirHeader(top.entryPath)); err != nil {
					return apperr.E("archive.stream", p, nil, err)
				}
			}
			continue
		}
		if err != nil {
			if top.depth == 0 && errors.Is(err, apperr.ErrNotFound) && p == pathutil.Root {
				continue
			}
			return err
		}
		top.entries++

		childStore := top.storePath + "/" + entry.Name
		childEntry := top.entryPath + "/" + entry.Name
		if entry.IsFolder {
			if _, seen := visited[childStore]; seen {
				logger.WarnWithOwner(ownerID.String(), "archive_cycle_skipped", map[string]interface{}{
					"path": childEntry,
				})
				continue
			}
			if a.MaxDepth > 0 && top.depth+1 > a.MaxDepth {
				return apperr.E("archive.stream", childEntry, apperr.ErrInvalidPath,
					fmt.Errorf("folder nesting exceeds %d levels", a.MaxDepth))
			}
			visited[childStore] = struct{}{}
			push(childStore, childEntry, top.depth+1)
			continue
		}

		if err := a.writeFile(ctx, zw, childStore, childEntry); err != nil {
			return err
		}
		files++
	}

	if err := zw.Close(); err != nil {
		return apperr.E("archive.stream", p, nil, err)
	}
	if err := buffered.Flush(); err != nil {
		return apperr.E("archive.stream", p, nil, err)
	}
	logger.InfoWithOwner(ownerID.String(), "archive_streamed", map[string]interface{}{
		"path":        p,
		"files":       files,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

func (a *ArchiveStreamer) writeFile(ctx context.Context, zw *zip.Writer, storePath, entryPath string) error {
	rc, err := a.Store.ReadStream(ctx, storePath)
	if err != nil {
		return err
	}
	defer rc.Close()

	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entryPath,
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return apperr.E("archive.entry", entryPath, nil, err)
	}
	if _, err := io.Copy(fw, rc); err != nil {
		return apperr.E("archive.entry", entryPath, nil, err)
	}
	return nil
}

func dirHeader(entryPath string) *zip.FileHeader {
	return &zip.FileHeader{
		Name:     entryPath + "/",
		Method:   zip.Store,
		Modified: time.Now().UTC(),
	}
}
