// Package drive projects a remote, API-described hierarchical storage onto
// the local filesystem call surface. The adapter is read-only: it serves
// attribute lookups, directory listings, and ranged reads against a
// high-latency remote, with listing coalescing, cooldown caching, synthetic
// strm files, and archive members exposed as pseudo-directories.
package drive

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config is the compiled configuration for one mount. Predicates arrive as
// closed function values; their source syntax is the caller's business.
type Config struct {
	// Hide omits matched items from listings. Strm takes precedence.
	Hide Predicate
	// Strm exposes matched files as synthetic URL-payload files.
	Strm Predicate
	// ZipAsDir, when non-nil, additionally exposes archives whose name
	// matches as browsable pseudo-directories.
	ZipAsDir func(name string) bool

	// Cooldown is the minimum interval between refresh attempts for one
	// directory, success or failure.
	Cooldown time.Duration
	// CacheTTL bounds how long a directory snapshot stays usable. Zero
	// keeps snapshots until explicitly invalidated.
	CacheTTL time.Duration
	// MaxReadStreams caps concurrent physical streams per file: <=0 is one
	// stream per handle, 1 serializes all reads of a file.
	MaxReadStreams int

	// DirectOpenNames / DirectOpenExes allow-list processes that get the
	// kill-and-relaunch direct-open handoff.
	DirectOpenNames func(string) bool
	DirectOpenExes  func(string) bool

	// Spill optionally backs the attribute cache with an external KV store.
	Spill KV

	// Logger defaults to the standard logrus logger.
	Logger *logrus.Logger
}

// FileSystem is the adapter object owning all mount state: attribute cache,
// coalescer, handle table, normalization map, and configuration. Multiple
// independent mounts are just multiple FileSystems.
type FileSystem struct {
	store     Store
	cache     *AttrCache
	coalescer *Coalescer
	norm      *Normalizer
	mat       *Materializer
	handles   *HandleTable
	direct    *DirectOpen
	log       *logrus.Entry

	rootAttr Attribute
}

// New builds a FileSystem over the given remote store.
func New(store Store, cfg Config) *FileSystem {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "drive")
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}

	fs := &FileSystem{
		store:    store,
		norm:     NewNormalizer(),
		handles:  newHandleTable(cfg.MaxReadStreams, log),
		log:      log,
		rootAttr: Attribute{Mode: dirMode, Origin: OriginReal, Mtime: time.Now()},
	}
	fs.cache = NewAttrCache(cfg.CacheTTL, cfg.Spill, log)
	fs.mat = newMaterializer(store, fs.norm, cfg, log)
	fs.coalescer = newCoalescer(fs.cache, fs.listDirectory, cfg.Cooldown, log)
	if cfg.DirectOpenNames != nil || cfg.DirectOpenExes != nil {
		fs.direct = &DirectOpen{Names: cfg.DirectOpenNames, Exes: cfg.DirectOpenExes, log: log}
	}
	return fs
}

// Close releases every open stream and drops the caches.
func (fs *FileSystem) Close() {
	fs.handles.Close()
	fs.cache.Clear()
}

// GetAttr looks up the attribute for path. The parent directory is listed
// (blocking, coalesced) when no snapshot exists; a name still absent after
// a guaranteed-fresh listing is NotFound.
func (fs *FileSystem) GetAttr(ctx context.Context, p string) (*Attribute, error) {
	p = canonicalPath(p)
	fs.log.WithField("path", p).Debug("getattr")
	if p == "/" {
		attr := fs.rootAttr
		return &attr, nil
	}
	dir, name := splitPath(p)
	snap, err := fs.coalescer.Fresh(ctx, dir)
	if err != nil {
		return nil, err
	}
	attr, ok := snap.Children[name]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, p)
	}
	return attr, nil
}

// ReadDir lists the directory at path. The returned names start with "."
// and ".."; a cached snapshot within its cooldown is served as-is.
func (fs *FileSystem) ReadDir(ctx context.Context, p string) ([]string, error) {
	p = canonicalPath(p)
	fs.log.WithField("path", p).Debug("readdir")
	snap, err := fs.coalescer.Snapshot(ctx, p)
	if err != nil {
		return nil, err
	}
	return append([]string{".", ".."}, snap.Names()...), nil
}

// DirEntry is one named child of a directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// ReadDirEntries lists a directory with per-entry type information, without
// the "." and ".." names. Same caching behavior as ReadDir.
func (fs *FileSystem) ReadDirEntries(ctx context.Context, p string) ([]DirEntry, error) {
	p = canonicalPath(p)
	snap, err := fs.coalescer.Snapshot(ctx, p)
	if err != nil {
		return nil, err
	}
	entries := make([]DirEntry, 0, len(snap.Children))
	for name, attr := range snap.Children {
		entries = append(entries, DirEntry{Name: name, IsDir: attr.IsDir()})
	}
	return entries, nil
}

// Open allocates a file handle. No I/O happens here; the remote stream is
// dialed on first read. When the calling process matches the direct-open
// allow-list the process is handed the direct URL instead and the sentinel
// handle 0 is returned.
func (fs *FileSystem) Open(ctx context.Context, p string, pid uint32) (uint64, error) {
	p = canonicalPath(p)
	fs.log.WithFields(logrus.Fields{"path": p, "pid": pid}).Info("open")
	if fs.direct.Attempt(pid, func() (string, error) {
		attr, err := fs.GetAttr(ctx, p)
		if err != nil {
			return "", err
		}
		return fs.directURL(ctx, attr)
	}) {
		return 0, nil
	}
	return fs.handles.Open(), nil
}

// Read serves up to size bytes at offset through the handle. The sentinel
// handle 0 reads empty. A stale cached size detected at stream-open time
// invalidates the parent listing and surfaces as an error.
func (fs *FileSystem) Read(ctx context.Context, p string, size int, offset int64, fh uint64) ([]byte, error) {
	p = canonicalPath(p)
	fs.log.WithFields(logrus.Fields{
		"path": p, "size": size, "offset": offset, "fh": fh,
	}).Debug("read")
	if fh == 0 {
		return nil, nil
	}
	attr, err := fs.GetAttr(ctx, p)
	if err != nil {
		return nil, err
	}
	if attr.IsDir() {
		return nil, errors.Wrap(ErrIsDirectory, p)
	}
	data, err := fs.handles.Read(ctx, fs.store, p, attr, size, offset, fh)
	if err != nil {
		var mismatch *SizeMismatchError
		if errors.As(err, &mismatch) {
			dir, _ := splitPath(p)
			fs.cache.Invalidate(dir)
			fs.log.WithField("path", p).Warn(mismatch.Error())
		}
		return nil, err
	}
	return data, nil
}

// Release drops the handle's stream. Releasing twice, or releasing the
// sentinel handle, is a no-op.
func (fs *FileSystem) Release(p string, fh uint64) {
	p = canonicalPath(p)
	fs.log.WithFields(logrus.Fields{"path": p, "fh": fh}).Debug("release")
	if fh == 0 {
		return
	}
	fs.handles.Release(p, fh)
}

// OpenDir verifies path is a directory. Only needed when pseudo-directories
// are in play, but cheap enough to always do.
func (fs *FileSystem) OpenDir(ctx context.Context, p string) error {
	attr, err := fs.GetAttr(ctx, canonicalPath(p))
	if err != nil {
		return err
	}
	if !attr.IsDir() {
		return errors.Wrap(ErrNotDirectory, p)
	}
	return nil
}

// ReleaseDir is a no-op; directory handles hold no state.
func (fs *FileSystem) ReleaseDir(p string) {}

// ListXattr names the extended attributes exposed on an entry.
func (fs *FileSystem) ListXattr(ctx context.Context, p string) ([]string, error) {
	if canonicalPath(p) == "/" {
		return nil, nil
	}
	if _, err := fs.GetAttr(ctx, p); err != nil {
		return nil, err
	}
	return []string{"id", "url", "hash"}, nil
}

// GetXattr resolves one extended attribute: the remote id, the direct URL
// (files only), or the content hash when the remote reported one.
func (fs *FileSystem) GetXattr(ctx context.Context, p, name string) ([]byte, error) {
	attr, err := fs.GetAttr(ctx, canonicalPath(p))
	if err != nil {
		return nil, err
	}
	switch name {
	case "id":
		return []byte(attr.Item.ID), nil
	case "url":
		if attr.IsDir() {
			return nil, errors.Wrap(ErrIsDirectory, p)
		}
		url, err := fs.directURL(ctx, attr)
		if err != nil {
			return nil, err
		}
		return []byte(url), nil
	case "hash":
		return []byte(attr.Item.Hash), nil
	default:
		return nil, errors.Wrap(ErrNoAttribute, name)
	}
}

func (fs *FileSystem) directURL(ctx context.Context, attr *Attribute) (string, error) {
	if attr.Origin == OriginStrm {
		return string(attr.Data), nil
	}
	if attr.Item.URL != "" {
		return attr.Item.URL, nil
	}
	url, err := fs.store.DirectURL(ctx, attr.Item)
	if err != nil {
		return "", remoteErr(err, "can't get url for %s", attr.Item.Name)
	}
	return url, nil
}

// listDirectory is the coalescer's refresh path: one remote (or archive)
// listing, materialized and published wholesale.
func (fs *FileSystem) listDirectory(ctx context.Context, dir string) (*DirSnapshot, error) {
	if dir != "/" {
		began := time.Now()
		parent, name := splitPath(dir)
		psnap, err := fs.coalescer.Fresh(ctx, parent)
		if err != nil {
			return nil, err
		}
		attr, ok := psnap.Children[name]
		if !ok {
			return nil, errors.Wrap(ErrNotFound, dir)
		}
		if !attr.IsDir() {
			return nil, errors.Wrap(ErrNotDirectory, dir)
		}
		if attr.Origin == OriginZipDir {
			// resolving the parent on a cold path may have just parsed
			// this archive and published our snapshot along the way
			if snap, ok := fs.cache.Get(ctx, dir); ok && snap.CreatedAt.After(began) {
				return snap, nil
			}
			return fs.listZipDir(ctx, dir, attr)
		}
	}
	raw := fs.norm.Resolve(dir)
	items, err := fs.store.ListChildren(ctx, raw)
	if err != nil {
		return nil, remoteErr(err, "can't list %s", raw)
	}
	snap := fs.mat.Materialize(ctx, dir, raw, items)
	fs.cache.Set(ctx, dir, snap)
	return snap, nil
}

// listZipDir parses the archive's central directory and publishes snapshots
// for the zip root and every member subdirectory at once, so descending
// into the archive needs no further remote work until the cooldown expires.
func (fs *FileSystem) listZipDir(ctx context.Context, dir string, attr *Attribute) (*DirSnapshot, error) {
	root := dir
	if attr.Member != "" {
		root = strings.TrimSuffix(dir, "/"+attr.Member)
	}
	snaps, err := listZip(ctx, fs.store, attr.Item)
	if err != nil {
		return nil, err
	}
	for rel, snap := range snaps {
		fs.cache.Set(ctx, path.Join(root, rel), snap)
	}
	snap, ok := snaps[attr.Member]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, dir)
	}
	return snap, nil
}

// canonicalPath cleans p and brings it to NFC form.
func canonicalPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return Canonical(path.Clean(p))
}

func splitPath(p string) (dir, name string) {
	dir, name = path.Split(p)
	if dir != "/" {
		dir = strings.TrimSuffix(dir, "/")
	}
	return dir, name
}
