package drive

import (
	"context"
	"io"
	"time"
)

// Item is one entry of a remote directory listing. It is an immutable
// snapshot: the listing pipeline consumes it once to build attributes and
// never mutates it afterwards.
type Item struct {
	ID       string
	Name     string
	ParentID string
	IsDir    bool
	Size     int64
	Ctime    time.Time
	Mtime    time.Time
	Atime    time.Time
	URL      string // direct-access URL, if the listing already carried one
	Hash     string
}

// File is a remote byte stream opened for ranged reads. Seek repositions
// the stream; implementations reconnect at the new offset when the
// underlying transport cannot rewind.
type File interface {
	io.Reader
	io.Seeker
	io.Closer

	// Length reports the total size of the remote object as seen by the
	// open stream, independent of the current offset.
	Length() int64
}

// Store is the remote side of the filesystem: a hierarchical, API-described
// storage that can list directories, open ranged byte streams, and hand out
// direct-access URLs. Authentication and session renewal live behind the
// implementation.
type Store interface {
	// ListChildren lists the children of the directory at the given remote
	// path ("/" is the root).
	ListChildren(ctx context.Context, dir string) ([]Item, error)

	// OpenRange opens a byte stream for item starting at offset start.
	OpenRange(ctx context.Context, item Item, start int64) (File, error)

	// DirectURL returns a URL that resolves the item's content without
	// going through the filesystem.
	DirectURL(ctx context.Context, item Item) (string, error)
}
