// Package fusefs bridges the drive adapter onto bazil.org/fuse. It is the
// only layer that speaks POSIX errnos; internal error kinds are mapped here
// and never leak to the kernel.
package fusefs

import (
	"context"
	"os"
	"path"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/pkg/errors"

	"github.com/drivefs-fuse/drivefs-go/internal/drive"
)

// FS implements the fuse.FS interface over a drive.FileSystem.
type FS struct {
	drive *drive.FileSystem
}

var _ fs.FS = (*FS)(nil)

// New wraps the adapter for serving.
func New(d *drive.FileSystem) *FS {
	return &FS{drive: d}
}

// Root returns the root directory node.
func (f *FS) Root() (fs.Node, error) {
	return &Dir{drive: f.drive, path: "/"}, nil
}

// toErrno maps the drive error taxonomy to the fixed POSIX set.
func toErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, drive.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, drive.ErrIsDirectory):
		return fuse.Errno(syscall.EISDIR)
	case errors.Is(err, drive.ErrNotDirectory):
		return fuse.Errno(syscall.ENOTDIR)
	case errors.Is(err, drive.ErrNoAttribute):
		return fuse.ErrNoXattr
	default:
		// remote failures, size mismatches, anything unexpected
		return fuse.EIO
	}
}

func fillAttr(a *fuse.Attr, attr *drive.Attribute) {
	a.Mode = attr.Mode
	a.Size = uint64(attr.Size)
	a.Ctime = attr.Ctime
	a.Mtime = attr.Mtime
	a.Atime = attr.Atime
	a.Uid = uint32(os.Getuid())
	a.Gid = uint32(os.Getgid())
}

// Dir is a directory node.
type Dir struct {
	drive *drive.FileSystem
	path  string
}

var _ fs.Node = (*Dir)(nil)
var _ fs.NodeStringLookuper = (*Dir)(nil)
var _ fs.NodeOpener = (*Dir)(nil)
var _ fs.HandleReadDirAller = (*Dir)(nil)

// Attr returns directory attributes.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := d.drive.GetAttr(ctx, d.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(a, attr)
	return nil
}

// Lookup looks up a child node.
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	childPath := path.Join(d.path, name)
	attr, err := d.drive.GetAttr(ctx, childPath)
	if err != nil {
		return nil, toErrno(err)
	}
	if attr.IsDir() {
		return &Dir{drive: d.drive, path: childPath}, nil
	}
	return &File{drive: d.drive, path: childPath}, nil
}

// Open opens the directory handle (opendir).
func (d *Dir) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if err := d.drive.OpenDir(ctx, d.path); err != nil {
		return nil, toErrno(err)
	}
	return d, nil
}

// ReadDirAll reads all directory entries.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.drive.ReadDirEntries(ctx, d.path)
	if err != nil {
		return nil, toErrno(err)
	}
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, entry := range entries {
		dirent := fuse.Dirent{Name: entry.Name, Type: fuse.DT_File}
		if entry.IsDir {
			dirent.Type = fuse.DT_Dir
		}
		dirents = append(dirents, dirent)
	}
	return dirents, nil
}

// File is a regular (or synthetic) file node.
type File struct {
	drive *drive.FileSystem
	path  string
}

var _ fs.Node = (*File)(nil)
var _ fs.NodeOpener = (*File)(nil)
var _ fs.NodeGetxattrer = (*File)(nil)
var _ fs.NodeListxattrer = (*File)(nil)

// Attr returns file attributes.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := f.drive.GetAttr(ctx, f.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(a, attr)
	return nil
}

// Open allocates a handle. The mount is read-only, so any write intent is
// rejected up front.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if req.Flags.IsWriteOnly() || req.Flags.IsReadWrite() {
		return nil, fuse.Errno(syscall.EROFS)
	}
	fh, err := f.drive.Open(ctx, f.path, req.Pid)
	if err != nil {
		return nil, toErrno(err)
	}
	return &FileHandle{drive: f.drive, path: f.path, fh: fh}, nil
}

// Getxattr resolves the remote id, direct URL, or content hash.
func (f *File) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	data, err := f.drive.GetXattr(ctx, f.path, req.Name)
	if err != nil {
		return toErrno(err)
	}
	resp.Xattr = data
	return nil
}

// Listxattr names the exposed extended attributes.
func (f *File) Listxattr(ctx context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	names, err := f.drive.ListXattr(ctx, f.path)
	if err != nil {
		return toErrno(err)
	}
	resp.Append(names...)
	return nil
}

// FileHandle carries one open handle's id through read and release.
type FileHandle struct {
	drive *drive.FileSystem
	path  string
	fh    uint64
}

var _ fs.Handle = (*FileHandle)(nil)
var _ fs.HandleReader = (*FileHandle)(nil)
var _ fs.HandleReleaser = (*FileHandle)(nil)

// Read serves a ranged read.
func (h *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := h.drive.Read(ctx, h.path, req.Size, req.Offset, h.fh)
	if err != nil {
		return toErrno(err)
	}
	resp.Data = data
	return nil
}

// Release closes the handle's stream.
func (h *FileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	h.drive.Release(h.path, h.fh)
	return nil
}

// Mount mounts the adapter read-only at mountpoint and serves until the
// filesystem is unmounted.
func Mount(mountpoint string, d *drive.FileSystem) error {
	conn, err := fuse.Mount(
		mountpoint,
		fuse.FSName("drivefs"),
		fuse.Subtype("drivefs"),
		fuse.ReadOnly(),
	)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer d.Close()
	return fs.Serve(conn, New(d))
}
