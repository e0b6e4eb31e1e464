package drive

import (
	"os"
	"time"
)

// Origin says where an exposed entry's bytes come from.
type Origin int

const (
	// OriginReal entries proxy a remote item byte for byte.
	OriginReal Origin = iota
	// OriginStrm entries are synthetic files whose whole payload is the
	// item's direct URL, materialized at listing time.
	OriginStrm
	// OriginZipDir entries are pseudo-directories projecting an archive's
	// members.
	OriginZipDir
	// OriginZipEntry entries are members of such an archive.
	OriginZipEntry
)

// Exposed permissions. The mount is read-only.
const (
	fileMode = os.FileMode(0444)
	dirMode  = os.ModeDir | os.FileMode(0555)
)

// Attribute is the stat-like record kept per exposed entry. For strm
// entries Data holds the whole payload; for zip entries Member names the
// archive member and the payload is loaded on first read.
type Attribute struct {
	Mode   os.FileMode
	Size   int64
	Ctime  time.Time
	Mtime  time.Time
	Atime  time.Time
	Origin Origin

	// Item is the remote item backing this entry. For zip entries it is
	// the archive itself.
	Item Item

	// Data is the in-memory payload for strm entries.
	Data []byte

	// Member is the path of the member inside the archive, for zip entries.
	Member string
}

// IsDir reports whether the entry is exposed as a directory.
func (a *Attribute) IsDir() bool { return a.Mode.IsDir() }

// DirSnapshot is one directory's children, built wholesale from a single
// remote listing and swapped into the cache by reference. Readers never see
// attributes from two different listings mixed.
type DirSnapshot struct {
	Children  map[string]*Attribute
	CreatedAt time.Time
}

// Names returns the child names in insertion-independent (map) order.
func (s *DirSnapshot) Names() []string {
	names := make([]string, 0, len(s.Children))
	for name := range s.Children {
		names = append(names, name)
	}
	return names
}

func newSnapshot() *DirSnapshot {
	return &DirSnapshot{
		Children:  make(map[string]*Attribute),
		CreatedAt: time.Now(),
	}
}
