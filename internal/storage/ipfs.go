package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/docshare/linkdrive/pkg/logger"
	shell "github.com/ipfs/go-ipfs-api"
)

// IPFS keeps the tree in a Kubo node's mutable file system (MFS) under root.
// Objects are linked into the tree with files/cp from /ipfs/<cid>, so moves,
// links and relinks never copy bytes.
type IPFS struct {
	sh   *shell.Shell
	root string
}

func NewIPFS(apiURL, root string) *IPFS {
	sh := shell.NewShellWithClient(apiURL, &http.Client{})
	return &IPFS{sh: sh, root: strings.TrimSuffix(root, "/")}
}

func (s *IPFS) full(p string) string {
	if p == "/" || p == "" {
		if s.root == "" {
			return "/"
		}
		return s.root
	}
	return s.root + p
}

func (s *IPFS) Mkdir(ctx context.Context, p string, parents bool) error {
	st, err := s.Stat(ctx, p)
	switch {
	case err == nil && st.IsFolder:
		return nil
	case err == nil:
		return apperr.E("store.mkdir", p, apperr.ErrConflict, nil)
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	if err := s.sh.FilesMkdir(ctx, s.full(p), shell.FilesMkdir.Parents(parents)); err != nil {
		return ipfsError("store.mkdir", p, err)
	}
	return nil
}

func (s *IPFS) LinkByHash(ctx context.Context, hash, p string) error {
	if _, err := s.Stat(ctx, p); err == nil {
		return apperr.E("store.link", p, apperr.ErrConflict, nil)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	if err := s.sh.FilesCp(ctx, "/ipfs/"+hash, s.full(p)); err != nil {
		return ipfsError("store.link", p, err)
	}
	return nil
}

func (s *IPFS) Move(ctx context.Context, from, to string) error {
	if to == from || strings.HasPrefix(to, from+"/") {
		return apperr.E("store.move", to, apperr.ErrInvalidPath, fmt.Errorf("destination inside source"))
	}
	if _, err := s.Stat(ctx, from); err != nil {
		return err
	}
	// files/mv into an existing folder nests the source; refuse instead.
	if _, err := s.Stat(ctx, to); err == nil {
		return apperr.E("store.move", to, apperr.ErrConflict, nil)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	if err := s.sh.FilesMv(ctx, s.full(from), s.full(to)); err != nil {
		return ipfsError("store.move", from, err)
	}
	return nil
}

func (s *IPFS) Remove(ctx context.Context, p string, recursive bool) error {
	if p == "/" {
		return apperr.E("store.remove", p, apperr.ErrInvalidPath, fmt.Errorf("cannot remove root"))
	}
	st, err := s.Stat(ctx, p)
	if err != nil {
		return err
	}
	if st.IsFolder && !recursive {
		entries, err := s.sh.FilesLs(ctx, s.full(p))
		if err != nil {
			return ipfsError("store.remove", p, err)
		}
		if len(entries) > 0 {
			return apperr.E("store.remove", p, apperr.ErrConflict, fmt.Errorf("directory not empty"))
		}
	}

	// MFS refuses folders without -r even when empty.
	req := s.sh.Request("files/rm", s.full(p)).Option("recursive", st.IsFolder)
	if err := req.Exec(ctx, nil); err != nil {
		return ipfsError("store.remove", p, err)
	}
	return nil
}

func (s *IPFS) Stat(ctx context.Context, p string) (*Stat, error) {
	obj, err := s.sh.FilesStat(ctx, s.full(p))
	if err != nil {
		return nil, ipfsError("store.stat", p, err)
	}
	st := &Stat{Hash: obj.Hash, Size: int64(obj.Size), Type: TypeFile}
	if obj.Type == TypeDirectory {
		st.Type = TypeDirectory
		st.IsFolder = true
		st.Size = int64(obj.CumulativeSize)
	}
	return st, nil
}

func (s *IPFS) List(ctx context.Context, p string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		entries, err := s.sh.FilesLs(ctx, s.full(p), shell.FilesLs.Stat(true))
		if err != nil {
			yield(Entry{}, ipfsError("store.list", p, err))
			return
		}
		for _, e := range entries {
			entry := Entry{
				Name:     e.Name,
				Hash:     e.Hash,
				Size:     int64(e.Size),
				IsFolder: e.Type == shell.TDirectory,
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (s *IPFS) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	rc, err := s.sh.FilesRead(ctx, s.full(p))
	if err != nil {
		return nil, ipfsError("store.read", p, err)
	}
	return rc, nil
}

func (s *IPFS) Add(ctx context.Context, r io.Reader) (string, int64, error) {
	counted := &countingReader{ctx: ctx, r: r}
	hash, err := s.sh.Add(counted, shell.Pin(true), shell.CidVersion(1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", 0, apperr.E("store.add", "", nil, ctxErr)
		}
		return "", 0, ipfsError("store.add", "", err)
	}
	logger.Info("ipfs_add_success", map[string]interface{}{
		"hash": hash,
		"size": counted.n,
	})
	return hash, counted.n, nil
}

func (s *IPFS) ReadObject(ctx context.Context, hash string) (io.ReadCloser, error) {
	resp, err := s.sh.Request("cat", hash).Send(ctx)
	if err != nil {
		return nil, ipfsError("store.object", hash, err)
	}
	if resp.Error != nil {
		_ = resp.Close()
		return nil, ipfsError("store.object", hash, resp.Error)
	}
	return resp.Output, nil
}

// countingReader stops feeding the upload body once ctx is done, which aborts
// the request the shell is writing.
type countingReader struct {
	ctx context.Context
	r   io.Reader
	n   int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ipfsError maps Kubo RPC failures onto apperr kinds. The RPC only reports
// failures as text, so this is the one place that reads it.
func ipfsError(op, p string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.E(op, p, apperr.ErrTimeout, err)
	}

	var rpcErr *shell.Error
	if !errors.As(err, &rpcErr) {
		return apperr.E(op, p, apperr.ErrStoreUnavailable, err)
	}

	msg := strings.ToLower(rpcErr.Message)
	switch {
	case strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "no link named"):
		return apperr.E(op, p, apperr.ErrNotFound, err)
	case strings.Contains(msg, "already exists"),
		strings.Contains(msg, "already has entry"),
		strings.Contains(msg, "not empty"):
		return apperr.E(op, p, apperr.ErrConflict, err)
	case strings.Contains(msg, "invalid path"),
		strings.Contains(msg, "paths must start with"),
		strings.Contains(msg, "not a directory"),
		strings.Contains(msg, "invalid cid"),
		strings.Contains(msg, "selected encoding not supported"):
		return apperr.E(op, p, apperr.ErrInvalidPath, err)
	}
	return apperr.E(op, p, apperr.ErrStoreUnavailable, err)
}
