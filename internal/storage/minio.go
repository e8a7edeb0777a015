package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/docshare/linkdrive/internal/config"
	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	objectsPrefix = "objects/"
	treePrefix    = "tree"
	stagingPrefix = "staging/"

	metaHash = "Content-Hash"
	metaSize = "Content-Size"
	metaKind = "Content-Kind"

	kindManifest = "manifest"

	uploadPartSize = 16 << 20
	copyPartSize   = 1 << 30
)

// MinIO lays a content-addressed store over an S3 bucket. Objects live at
// objects/<blake3>; the tree is a set of zero-byte link objects under tree/
// whose metadata names the object, plus tree/<folder>/ markers. Removing a
// folder first writes a manifest object so the subtree can be linked back by
// hash. Folder moves copy and delete key by key, so they are not atomic.
type MinIOClient struct {
	client   *minio.Client
	bucket   string
	partSize uint64
}

type manifestEntry struct {
	Path     string `json:"path"`
	Hash     string `json:"hash,omitempty"`
	Size     int64  `json:"size,omitempty"`
	IsFolder bool   `json:"isFolder,omitempty"`
}

func NewMinIOClient(cfg config.MinIOConfig) (*MinIOClient, error) {
	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	if cfg.AccessKey == "" {
		creds = credentials.NewIAM("")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOClient{client: client, bucket: cfg.Bucket, partSize: copyPartSize}, nil
}

func (m *MinIOClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed creating bucket %s: %w", m.bucket, err)
	}
	return nil
}

func linkKey(p string) string {
	return treePrefix + p
}

func folderKey(p string) string {
	if p == "/" {
		return treePrefix + "/"
	}
	return treePrefix + p + "/"
}

func objectKey(hash string) string {
	return objectsPrefix + hash
}

func parentOf(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

func (m *MinIOClient) Mkdir(ctx context.Context, p string, parents bool) error {
	exists, isFolder, err := m.probe(ctx, "store.mkdir", p)
	switch {
	case err != nil:
		return err
	case exists && isFolder:
		return nil
	case exists:
		return apperr.E("store.mkdir", p, apperr.ErrConflict, nil)
	}

	if parent := parentOf(p); parent != "/" {
		if err := m.requireFolder(ctx, "store.mkdir", parent); err != nil {
			if !parents || !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			if err := m.Mkdir(ctx, parent, true); err != nil {
				return err
			}
		}
	}

	return m.putMarker(ctx, "store.mkdir", p)
}

// probe reports whether p is a link or a folder without walking the subtree.
func (m *MinIOClient) probe(ctx context.Context, op, p string) (exists, isFolder bool, err error) {
	if p == "/" {
		return true, true, nil
	}
	if _, err := m.client.StatObject(ctx, m.bucket, linkKey(p), minio.StatObjectOptions{}); err == nil {
		return true, false, nil
	} else if !isNoSuchKey(err) {
		return false, false, minioError(op, p, err)
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range m.client.ListObjects(listCtx, m.bucket, minio.ListObjectsOptions{
		Prefix:    folderKey(p),
		Recursive: true,
		MaxKeys:   1,
	}) {
		if obj.Err != nil {
			return false, false, minioError(op, p, obj.Err)
		}
		return true, true, nil
	}
	return false, false, nil
}

func (m *MinIOClient) putMarker(ctx context.Context, op, p string) error {
	_, err := m.client.PutObject(ctx, m.bucket, folderKey(p), bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: "application/x-directory",
	})
	if err != nil {
		return minioError(op, p, err)
	}
	return nil
}

func (m *MinIOClient) requireFolder(ctx context.Context, op, p string) error {
	exists, isFolder, err := m.probe(ctx, op, p)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.E(op, p, apperr.ErrNotFound, nil)
	}
	if !isFolder {
		return apperr.E(op, p, apperr.ErrInvalidPath, fmt.Errorf("not a directory"))
	}
	return nil
}

func (m *MinIOClient) LinkByHash(ctx context.Context, hash, p string) error {
	if exists, _, err := m.probe(ctx, "store.link", p); err != nil {
		return err
	} else if exists {
		return apperr.E("store.link", p, apperr.ErrConflict, nil)
	}
	if err := m.requireFolder(ctx, "store.link", parentOf(p)); err != nil {
		return err
	}

	info, err := m.client.StatObject(ctx, m.bucket, objectKey(hash), minio.StatObjectOptions{})
	if err != nil {
		return minioError("store.link", hash, err)
	}
	if metaValue(info.UserMetadata, metaKind) == kindManifest {
		return m.restoreManifest(ctx, hash, p)
	}
	return m.putLink(ctx, "store.link", p, hash, info.Size)
}

func (m *MinIOClient) putLink(ctx context.Context, op, p, hash string, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, linkKey(p), bytes.NewReader(nil), 0, minio.PutObjectOptions{
		UserMetadata: map[string]string{
			metaHash: hash,
			metaSize: strconv.FormatInt(size, 10),
		},
	})
	if err != nil {
		return minioError(op, p, err)
	}
	return nil
}

func (m *MinIOClient) Move(ctx context.Context, from, to string) error {
	if to == from || strings.HasPrefix(to, from+"/") {
		return apperr.E("store.move", to, apperr.ErrInvalidPath, fmt.Errorf("destination inside source"))
	}
	exists, isFolder, err := m.probe(ctx, "store.move", from)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.E("store.move", from, apperr.ErrNotFound, nil)
	}
	if taken, _, err := m.probe(ctx, "store.move", to); err != nil {
		return err
	} else if taken {
		return apperr.E("store.move", to, apperr.ErrConflict, nil)
	}
	if err := m.requireFolder(ctx, "store.move", parentOf(to)); err != nil {
		return err
	}

	if !isFolder {
		if err := m.copyKey(ctx, linkKey(from), linkKey(to)); err != nil {
			return minioError("store.move", from, err)
		}
		if err := m.client.RemoveObject(ctx, m.bucket, linkKey(from), minio.RemoveObjectOptions{}); err != nil {
			return minioError("store.move", from, err)
		}
		return nil
	}

	keys, err := m.subtreeKeys(ctx, from)
	if err != nil {
		return err
	}
	if err := m.putMarker(ctx, "store.move", to); err != nil {
		return err
	}
	oldPrefix, newPrefix := folderKey(from), folderKey(to)
	for _, key := range keys {
		if key == oldPrefix {
			continue
		}
		if err := m.copyKey(ctx, key, newPrefix+strings.TrimPrefix(key, oldPrefix)); err != nil {
			return minioError("store.move", from, err)
		}
	}
	return m.removeKeys(ctx, "store.move", from, keys)
}

func (m *MinIOClient) copyKey(ctx context.Context, src, dst string) error {
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: m.bucket, Object: src},
	)
	return err
}

// composeKey copies src to dst server-side in parts of m.partSize, so objects
// past the 5 GiB single-copy limit go through too.
func (m *MinIOClient) composeKey(ctx context.Context, src, dst string) error {
	_, err := m.client.ComposeObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: dst, PartSize: m.partSize},
		minio.CopySrcOptions{Bucket: m.bucket, Object: src},
	)
	return err
}

func (m *MinIOClient) Remove(ctx context.Context, p string, recursive bool) error {
	if p == "/" {
		return apperr.E("store.remove", p, apperr.ErrInvalidPath, fmt.Errorf("cannot remove root"))
	}
	exists, isFolder, err := m.probe(ctx, "store.remove", p)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.E("store.remove", p, apperr.ErrNotFound, nil)
	}
	if !isFolder {
		if err := m.client.RemoveObject(ctx, m.bucket, linkKey(p), minio.RemoveObjectOptions{}); err != nil {
			return minioError("store.remove", p, err)
		}
		return nil
	}

	keys, err := m.subtreeKeys(ctx, p)
	if err != nil {
		return err
	}
	if !recursive && slices.ContainsFunc(keys, func(k string) bool { return k != folderKey(p) }) {
		return apperr.E("store.remove", p, apperr.ErrConflict, fmt.Errorf("directory not empty"))
	}
	if _, err := m.writeManifest(ctx, p); err != nil {
		return err
	}
	return m.removeKeys(ctx, "store.remove", p, keys)
}

func (m *MinIOClient) removeKeys(ctx context.Context, op, p string, keys []string) error {
	for _, key := range keys {
		if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			logger.Error("minio_remove_failed", err, map[string]interface{}{
				"object_name": key,
				"bucket":      m.bucket,
			})
			return minioError(op, p, err)
		}
	}
	return nil
}

func (m *MinIOClient) Stat(ctx context.Context, p string) (*Stat, error) {
	if p == "/" {
		return &Stat{Type: TypeDirectory, IsFolder: true}, nil
	}

	info, err := m.client.StatObject(ctx, m.bucket, linkKey(p), minio.StatObjectOptions{})
	if err == nil {
		size, _ := strconv.ParseInt(metaValue(info.UserMetadata, metaSize), 10, 64)
		return &Stat{Hash: metaValue(info.UserMetadata, metaHash), Size: size, Type: TypeFile}, nil
	}
	if !isNoSuchKey(err) {
		return nil, minioError("store.stat", p, err)
	}

	entries, err := m.manifest(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperr.E("store.stat", p, apperr.ErrNotFound, nil)
	}
	data, err := json.Marshal(entries[1:])
	if err != nil {
		return nil, apperr.E("store.stat", p, apperr.ErrStoreUnavailable, err)
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return &Stat{Hash: HashBytes(data), Size: total, Type: TypeDirectory, IsFolder: true}, nil
}

// manifest lists the subtree at p as relative entries. The first entry is the
// folder itself; an empty result means p does not exist.
func (m *MinIOClient) manifest(ctx context.Context, p string) ([]manifestEntry, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prefix := folderKey(p)
	var entries []manifestEntry
	found := false
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, minioError("store.stat", p, obj.Err)
		}
		found = true
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" {
			continue
		}
		if strings.HasSuffix(rel, "/") {
			entries = append(entries, manifestEntry{Path: strings.TrimSuffix(rel, "/"), IsFolder: true})
			continue
		}
		hash := metaValue(obj.UserMetadata, metaHash)
		size, _ := strconv.ParseInt(metaValue(obj.UserMetadata, metaSize), 10, 64)
		if hash == "" {
			info, err := m.client.StatObject(ctx, m.bucket, obj.Key, minio.StatObjectOptions{})
			if err != nil {
				return nil, minioError("store.stat", p, err)
			}
			hash = metaValue(info.UserMetadata, metaHash)
			size, _ = strconv.ParseInt(metaValue(info.UserMetadata, metaSize), 10, 64)
		}
		entries = append(entries, manifestEntry{Path: rel, Hash: hash, Size: size})
	}
	if !found {
		return nil, nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return append([]manifestEntry{{Path: "", IsFolder: true}}, entries...), nil
}

func (m *MinIOClient) writeManifest(ctx context.Context, p string) (string, error) {
	entries, err := m.manifest(ctx, p)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(entries[1:])
	if err != nil {
		return "", apperr.E("store.remove", p, apperr.ErrStoreUnavailable, err)
	}
	hash := HashBytes(data)
	_, err = m.client.PutObject(ctx, m.bucket, objectKey(hash), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{metaKind: kindManifest},
	})
	if err != nil {
		return "", minioError("store.remove", p, err)
	}
	return hash, nil
}

func (m *MinIOClient) restoreManifest(ctx context.Context, hash, p string) error {
	obj, err := m.client.GetObject(ctx, m.bucket, objectKey(hash), minio.GetObjectOptions{})
	if err != nil {
		return minioError("store.link", hash, err)
	}
	defer obj.Close()

	var entries []manifestEntry
	if err := json.NewDecoder(obj).Decode(&entries); err != nil {
		return minioError("store.link", hash, err)
	}

	if err := m.putMarker(ctx, "store.link", p); err != nil {
		return err
	}
	for _, e := range entries {
		target := p + "/" + e.Path
		if e.IsFolder {
			if err := m.putMarker(ctx, "store.link", target); err != nil {
				return err
			}
			continue
		}
		if err := m.putLink(ctx, "store.link", target, e.Hash, e.Size); err != nil {
			return err
		}
	}
	return nil
}

func (m *MinIOClient) subtreeKeys(ctx context.Context, p string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    folderKey(p),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, minioError("store.list", p, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (m *MinIOClient) List(ctx context.Context, p string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if err := m.requireFolder(ctx, "store.list", p); err != nil {
			yield(Entry{}, err)
			return
		}

		listCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		prefix := folderKey(p)
		for obj := range m.client.ListObjects(listCtx, m.bucket, minio.ListObjectsOptions{
			Prefix:       prefix,
			WithMetadata: true,
		}) {
			if obj.Err != nil {
				yield(Entry{}, minioError("store.list", p, obj.Err))
				return
			}
			name := strings.TrimPrefix(obj.Key, prefix)
			if name == "" {
				continue
			}

			entry := Entry{Name: strings.TrimSuffix(name, "/"), IsFolder: strings.HasSuffix(name, "/")}
			if !entry.IsFolder {
				entry.Hash = metaValue(obj.UserMetadata, metaHash)
				entry.Size, _ = strconv.ParseInt(metaValue(obj.UserMetadata, metaSize), 10, 64)
				if entry.Hash == "" {
					st, err := m.Stat(listCtx, p+"/"+entry.Name)
					if err != nil {
						yield(Entry{}, err)
						return
					}
					entry.Hash, entry.Size = st.Hash, st.Size
				}
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (m *MinIOClient) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	info, err := m.client.StatObject(ctx, m.bucket, linkKey(p), minio.StatObjectOptions{})
	if err != nil {
		if !isNoSuchKey(err) {
			return nil, minioError("store.read", p, err)
		}
		if _, isFolder, probeErr := m.probe(ctx, "store.read", p); probeErr == nil && isFolder {
			return nil, apperr.E("store.read", p, apperr.ErrInvalidPath, fmt.Errorf("is a directory"))
		}
		return nil, apperr.E("store.read", p, apperr.ErrNotFound, err)
	}
	return m.ReadObject(ctx, metaValue(info.UserMetadata, metaHash))
}

// Add stages the upload under staging/ while hashing it, then copies it to
// its content address server-side.
func (m *MinIOClient) Add(ctx context.Context, r io.Reader) (string, int64, error) {
	staging := stagingPrefix + uuid.New().String()
	hasher := NewHasher()

	_, err := m.client.PutObject(ctx, m.bucket, staging, io.TeeReader(r, hasher), -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		PartSize:    uploadPartSize,
	})
	if err != nil {
		logger.Error("minio_upload_failed", err, map[string]interface{}{
			"object_name": staging,
			"bucket":      m.bucket,
		})
		return "", 0, minioError("store.add", "", err)
	}
	defer func() {
		if err := m.client.RemoveObject(context.WithoutCancel(ctx), m.bucket, staging, minio.RemoveObjectOptions{}); err != nil {
			logger.Warn("minio_staging_cleanup_failed", map[string]interface{}{
				"object_name": staging,
				"error":       err.Error(),
			})
		}
	}()

	hash := hasher.Sum()
	if _, err := m.client.StatObject(ctx, m.bucket, objectKey(hash), minio.StatObjectOptions{}); err == nil {
		return hash, hasher.Size(), nil
	} else if !isNoSuchKey(err) {
		return "", 0, minioError("store.add", "", err)
	}

	if err := m.composeKey(ctx, staging, objectKey(hash)); err != nil {
		return "", 0, minioError("store.add", "", err)
	}
	logger.Info("minio_upload_success", map[string]interface{}{
		"object_name": objectKey(hash),
		"size":        hasher.Size(),
		"bucket":      m.bucket,
	})
	return hash, hasher.Size(), nil
}

func (m *MinIOClient) ReadObject(ctx context.Context, hash string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectKey(hash), minio.GetObjectOptions{})
	if err != nil {
		return nil, minioError("store.object", hash, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, minioError("store.object", hash, err)
	}
	return obj, nil
}

// metaValue looks a user metadata key up regardless of the prefix and case
// the listing or stat call returned it with.
func metaValue(meta map[string]string, key string) string {
	want := strings.ToLower(key)
	for k, v := range meta {
		lk := strings.ToLower(k)
		if lk == want || strings.HasSuffix(lk, "-meta-"+want) {
			return v
		}
	}
	return ""
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func minioError(op, p string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.E(op, p, apperr.ErrTimeout, err)
	}
	if isNoSuchKey(err) {
		return apperr.E(op, p, apperr.ErrNotFound, err)
	}
	return apperr.E(op, p, apperr.ErrStoreUnavailable, err)
}
