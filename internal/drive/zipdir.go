package drive

import (
	"context"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
)

// remoteReaderAt adapts a Store item to io.ReaderAt so the zip central
// directory can be parsed without downloading the archive. One ranged
// stream is kept open and repositioned under a mutex.
type remoteReaderAt struct {
	ctx   context.Context
	store Store
	item  Item

	mu   sync.Mutex
	file File
	pos  int64
}

func (r *remoteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		f, err := r.store.OpenRange(r.ctx, r.item, off)
		if err != nil {
			return 0, err
		}
		r.file = f
		r.pos = off
	} else if r.pos != off {
		if _, err := r.file.Seek(off, io.SeekStart); err != nil {
			return 0, err
		}
		r.pos = off
	}
	n, err := io.ReadFull(r.file, p)
	r.pos += int64(n)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (r *remoteReaderAt) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// listZip opens the archive item as a random-access stream, parses its
// central directory, and returns one snapshot per directory of the archive,
// keyed by the directory's path relative to the zip root ("" is the root).
func listZip(ctx context.Context, store Store, item Item) (map[string]*DirSnapshot, error) {
	ra := &remoteReaderAt{ctx: ctx, store: store, item: item}
	defer ra.Close()
	zr, err := zip.NewReader(ra, item.Size)
	if err != nil {
		return nil, remoteErr(err, "can't open archive %s", item.Name)
	}

	snaps := map[string]*DirSnapshot{"": newSnapshot()}
	dirSnap := func(dir string) *DirSnapshot {
		if snap, ok := snaps[dir]; ok {
			return snap
		}
		snap := newSnapshot()
		snaps[dir] = snap
		return snap
	}
	// every directory along a member path shows up as a child of its parent
	addDir := func(dir string) {
		for dir != "" {
			parent, name := path.Split(strings.TrimSuffix(dir, "/"))
			parent = strings.TrimSuffix(parent, "/")
			snap := dirSnap(parent)
			if _, ok := snap.Children[name]; !ok {
				snap.Children[name] = &Attribute{
					Mode:   dirMode,
					Ctime:  item.Ctime,
					Mtime:  item.Mtime,
					Atime:  atimeOf(item),
					Origin: OriginZipDir,
					Item:   item,
					Member: dir,
				}
			}
			dirSnap(dir)
			dir = parent
		}
	}

	for _, f := range zr.File {
		member := strings.TrimSuffix(f.Name, "/")
		if member == "" {
			continue
		}
		if strings.HasSuffix(f.Name, "/") {
			addDir(member)
			continue
		}
		dir, name := path.Split(member)
		dir = strings.TrimSuffix(dir, "/")
		addDir(dir)
		dirSnap(dir).Children[name] = &Attribute{
			Mode:   fileMode,
			Size:   int64(f.UncompressedSize64),
			Ctime:  item.Ctime,
			Mtime:  f.Modified,
			Atime:  f.Modified,
			Origin: OriginZipEntry,
			Item:   item,
			Member: f.Name,
		}
	}
	return snaps, nil
}

// readMember decompresses one archive member into memory. Member payloads
// are always served as in-memory slices afterwards.
func readMember(ctx context.Context, store Store, item Item, member string) ([]byte, error) {
	ra := &remoteReaderAt{ctx: ctx, store: store, item: item}
	defer ra.Close()
	zr, err := zip.NewReader(ra, item.Size)
	if err != nil {
		return nil, remoteErr(err, "can't open archive %s", item.Name)
	}
	for _, f := range zr.File {
		if f.Name != member {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, remoteErr(err, "can't open member %s of %s", member, item.Name)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, remoteErr(err, "can't read member %s of %s", member, item.Name)
		}
		return data, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "member %s of %s", member, item.Name)
}
