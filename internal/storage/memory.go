package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/docshare/linkdrive/internal/apperr"
)

// Memory is an in-process Store used by tests and local development. Objects
// are addressed by blake3; folder hashes are derived from their children so
// a removed subtree can be linked back by the hash Stat reported for it.
type Memory struct {
	mu      sync.RWMutex
	root    *memNode
	blobs   map[string]blob
	folders map[string]*memNode
}

type memNode struct {
	isFolder bool
	hash     string
	size     int64
	children map[string]*memNode
}

type blob interface {
	size() int64
	open() io.Reader
}

type bytesBlob []byte

func (b bytesBlob) size() int64     { return int64(len(b)) }
func (b bytesBlob) open() io.Reader { return bytes.NewReader(b) }

// syntheticBlob produces size bytes of fill on every read without holding
// them.
type syntheticBlob struct {
	n    int64
	fill byte
}

func (b syntheticBlob) size() int64     { return b.n }
func (b syntheticBlob) open() io.Reader { return io.LimitReader(repeatReader(b.fill), b.n) }

type repeatReader byte

func (r repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

func NewMemory() *Memory {
	return &Memory{
		root:    newFolder(),
		blobs:   make(map[string]blob),
		folders: make(map[string]*memNode),
	}
}

func newFolder() *memNode {
	return &memNode{isFolder: true, children: make(map[string]*memNode)}
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func splitParent(p string) ([]string, string) {
	segments := splitPath(p)
	if len(segments) == 0 {
		return nil, ""
	}
	return segments[:len(segments)-1], segments[len(segments)-1]
}

func (m *Memory) lookup(segments []string) (*memNode, bool) {
	node := m.root
	for _, name := range segments {
		if !node.isFolder {
			return nil, false
		}
		child, ok := node.children[name]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

func (m *Memory) Mkdir(ctx context.Context, p string, parents bool) error {
	if err := ctx.Err(); err != nil {
		return apperr.E("store.mkdir", p, nil, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	segments := splitPath(p)
	for i, name := range segments {
		child, ok := node.children[name]
		switch {
		case ok && !child.isFolder:
			return apperr.E("store.mkdir", p, apperr.ErrConflict, nil)
		case !ok && i < len(segments)-1 && !parents:
			return apperr.E("store.mkdir", p, apperr.ErrNotFound, fmt.Errorf("parent %q does not exist", name))
		case !ok:
			child = newFolder()
			node.children[name] = child
		}
		node = child
	}
	return nil
}

func (m *Memory) LinkByHash(ctx context.Context, hash, p string) error {
	if err := ctx.Err(); err != nil {
		return apperr.E("store.link", p, nil, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	dir, name := splitParent(p)
	if name == "" {
		return apperr.E("store.link", p, apperr.ErrInvalidPath, nil)
	}
	parent, ok := m.lookup(dir)
	if !ok || !parent.isFolder {
		return apperr.E("store.link", p, apperr.ErrNotFound, fmt.Errorf("parent does not exist"))
	}
	if _, exists := parent.children[name]; exists {
		return apperr.E("store.link", p, apperr.ErrConflict, nil)
	}

	if b, ok := m.blobs[hash]; ok {
		parent.children[name] = &memNode{hash: hash, size: b.size()}
		return nil
	}
	if snapshot, ok := m.folders[hash]; ok {
		parent.children[name] = snapshot.clone()
		return nil
	}
	return apperr.E("store.link", hash, apperr.ErrNotFound, fmt.Errorf("unknown object"))
}

func (m *Memory) Move(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return apperr.E("store.move", from, nil, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	fromDir, fromName := splitParent(from)
	toDir, toName := splitParent(to)
	if fromName == "" || toName == "" {
		return apperr.E("store.move", from, apperr.ErrInvalidPath, nil)
	}
	if to == from || strings.HasPrefix(to, strings.TrimSuffix(from, "/")+"/") {
		return apperr.E("store.move", to, apperr.ErrInvalidPath, fmt.Errorf("destination inside source"))
	}

	src, ok := m.lookup(fromDir)
	if !ok || !src.isFolder {
		return apperr.E("store.move", from, apperr.ErrNotFound, nil)
	}
	node, ok := src.children[fromName]
	if !ok {
		return apperr.E("store.move", from, apperr.ErrNotFound, nil)
	}
	dst, ok := m.lookup(toDir)
	if !ok || !dst.isFolder {
		return apperr.E("store.move", to, apperr.ErrNotFound, fmt.Errorf("destination parent does not exist"))
	}
	if _, exists := dst.children[toName]; exists {
		return apperr.E("store.move", to, apperr.ErrConflict, nil)
	}

	delete(src.children, fromName)
	dst.children[toName] = node
	return nil
}

func (m *Memory) Remove(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return apperr.E("store.remove", p, nil, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	dir, name := splitParent(p)
	if name == "" {
		return apperr.E("store.remove", p, apperr.ErrInvalidPath, fmt.Errorf("cannot remove root"))
	}
	parent, ok := m.lookup(dir)
	if !ok || !parent.isFolder {
		return apperr.E("store.remove", p, apperr.ErrNotFound, nil)
	}
	node, ok := parent.children[name]
	if !ok {
		return apperr.E("store.remove", p, apperr.ErrNotFound, nil)
	}
	if node.isFolder && len(node.children) > 0 && !recursive {
		return apperr.E("store.remove", p, apperr.ErrConflict, fmt.Errorf("directory not empty"))
	}

	if node.isFolder {
		m.folders[m.folderHash(node)] = node
	}
	delete(parent.children, name)
	return nil
}

func (m *Memory) Stat(ctx context.Context, p string) (*Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.E("store.stat", p, nil, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.lookup(splitPath(p))
	if !ok {
		return nil, apperr.E("store.stat", p, apperr.ErrNotFound, nil)
	}
	if !node.isFolder {
		return &Stat{Hash: node.hash, Size: node.size, Type: TypeFile}, nil
	}

	sum := m.folderHash(node)
	if _, known := m.folders[sum]; !known {
		m.folders[sum] = node.clone()
	}
	return &Stat{Hash: sum, Size: m.cumulativeSize(node), Type: TypeDirectory, IsFolder: true}, nil
}

func (m *Memory) List(ctx context.Context, p string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		entries, err := m.snapshotChildren(ctx, p)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, apperr.E("store.list", p, nil, err))
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (m *Memory) snapshotChildren(ctx context.Context, p string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.E("store.list", p, nil, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.lookup(splitPath(p))
	if !ok {
		return nil, apperr.E("store.list", p, apperr.ErrNotFound, nil)
	}
	if !node.isFolder {
		return nil, apperr.E("store.list", p, apperr.ErrInvalidPath, fmt.Errorf("not a directory"))
	}

	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	slices.Sort(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		child := node.children[name]
		entry := Entry{Name: name, Hash: child.hash, Size: child.size, IsFolder: child.isFolder}
		if child.isFolder {
			entry.Hash = m.folderHash(child)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (m *Memory) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.E("store.read", p, nil, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.lookup(splitPath(p))
	if !ok {
		return nil, apperr.E("store.read", p, apperr.ErrNotFound, nil)
	}
	if node.isFolder {
		return nil, apperr.E("store.read", p, apperr.ErrInvalidPath, fmt.Errorf("is a directory"))
	}
	b, ok := m.blobs[node.hash]
	if !ok {
		return nil, apperr.E("store.read", p, apperr.ErrNotFound, fmt.Errorf("object %s missing", node.hash))
	}
	return io.NopCloser(b.open()), nil
}

func (m *Memory) Add(ctx context.Context, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, apperr.E("store.add", "", nil, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, apperr.E("store.add", "", apperr.ErrStoreUnavailable, err)
	}
	sum := HashBytes(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[sum] = bytesBlob(data)
	return sum, int64(len(data)), nil
}

// AddSynthetic registers an object of size bytes, all equal to fill, without
// allocating it.
func (m *Memory) AddSynthetic(size int64, fill byte) (string, error) {
	b := syntheticBlob{n: size, fill: fill}
	sum, _, err := HashReader(b.open())
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[sum] = b
	return sum, nil
}

func (m *Memory) ReadObject(ctx context.Context, hash string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.E("store.object", hash, nil, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[hash]
	if !ok {
		return nil, apperr.E("store.object", hash, apperr.ErrNotFound, nil)
	}
	return io.NopCloser(b.open()), nil
}

func (m *Memory) folderHash(n *memNode) string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	slices.Sort(names)

	h := NewHasher()
	_, _ = io.WriteString(h, "dir\n")
	for _, name := range names {
		child := n.children[name]
		sum := child.hash
		if child.isFolder {
			sum = m.folderHash(child)
		}
		_, _ = fmt.Fprintf(h, "%s\x00%s\n", name, sum)
	}
	return h.Sum()
}

func (m *Memory) cumulativeSize(n *memNode) int64 {
	var total int64
	for _, child := range n.children {
		if child.isFolder {
			total += m.cumulativeSize(child)
			continue
		}
		total += child.size
	}
	return total
}

func (n *memNode) clone() *memNode {
	c := &memNode{isFolder: n.isFolder, hash: n.hash, size: n.size}
	if n.isFolder {
		c.children = make(map[string]*memNode, len(n.children))
		for name, child := range n.children {
			c.children[name] = child.clone()
		}
	}
	return c
}
