// Package storage adapts content-addressed backends to the path-addressed
// tree the coordinator works on. Every path given to a Store is absolute and
// already owner-scoped (see pathutil.StorePath); backends add their own root.
package storage

import (
	"context"
	"io"
	"iter"
)

const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// Entry is one immediate child returned by List. Folder hashes may be empty
// on backends that cannot compute them cheaply.
type Entry struct {
	Name     string
	Hash     string
	Size     int64
	IsFolder bool
}

type Stat struct {
	Hash     string
	Size     int64
	Type     string
	IsFolder bool
}

// Store is the tree surface of a content-addressed backend. Failures are
// *apperr.Error values carrying one of the apperr kinds.
type Store interface {
	// Mkdir is a no-op when path already is a folder.
	Mkdir(ctx context.Context, path string, parents bool) error
	// LinkByHash attaches an existing object (file or folder) at path.
	LinkByHash(ctx context.Context, hash, path string) error
	Move(ctx context.Context, from, to string) error
	Remove(ctx context.Context, path string, recursive bool) error
	Stat(ctx context.Context, path string) (*Stat, error)
	// List yields the immediate children of a folder. The sequence is single
	// use; an error ends it.
	List(ctx context.Context, path string) iter.Seq2[Entry, error]
	ReadStream(ctx context.Context, path string) (io.ReadCloser, error)

	// Add stores bytes as an unlinked object and returns its hash.
	Add(ctx context.Context, r io.Reader) (string, int64, error)
	ReadObject(ctx context.Context, hash string) (io.ReadCloser, error)
}
