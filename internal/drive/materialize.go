package drive

import (
	"context"
	"path"
	"time"

	"github.com/sirupsen/logrus"
)

// Predicate classifies one remote item. Predicates are compiled outside the
// core (from globs, regexps, or whatever the caller speaks) and arrive here
// as plain closed function values.
type Predicate func(Item) bool

// Materializer turns remote items into the entries a directory exposes.
// One item can yield zero entries (hidden), one entry (real or strm), or
// two (a normal entry plus a pseudo-directory for an archive).
type Materializer struct {
	hide     Predicate
	strm     Predicate
	zipByExt func(name string) bool
	norm     *Normalizer
	store    Store
	log      *logrus.Entry
}

func newMaterializer(store Store, norm *Normalizer, cfg Config, log *logrus.Entry) *Materializer {
	return &Materializer{
		hide:     cfg.Hide,
		strm:     cfg.Strm,
		zipByExt: cfg.ZipAsDir,
		norm:     norm,
		store:    store,
		log:      log,
	}
}

// Materialize builds a directory snapshot from one listing. dir is the
// canonical (NFC) path under which the snapshot is cached; rawDir the form
// the remote was actually asked for. Name mismatches between the two worlds
// are recorded with the normalizer as they are discovered.
func (m *Materializer) Materialize(ctx context.Context, dir, rawDir string, items []Item) *DirSnapshot {
	snap := newSnapshot()
	for _, item := range items {
		rawName := item.Name
		name := Canonical(rawName)

		switch {
		case !item.IsDir && m.strm != nil && m.strm(item):
			// strm wins over hide: a hidden video still gets its
			// pointer file.
			payload := m.strmPayload(ctx, item)
			strmName := name + ".strm"
			snap.Children[strmName] = &Attribute{
				Mode:   fileMode,
				Size:   int64(len(payload)),
				Ctime:  item.Ctime,
				Mtime:  item.Mtime,
				Atime:  atimeOf(item),
				Origin: OriginStrm,
				Item:   item,
				Data:   payload,
			}
		case m.hide != nil && m.hide(item):
			// omitted entirely
		default:
			attr := &Attribute{
				Mode:   fileMode,
				Size:   item.Size,
				Ctime:  item.Ctime,
				Mtime:  item.Mtime,
				Atime:  atimeOf(item),
				Origin: OriginReal,
				Item:   item,
			}
			if item.IsDir {
				attr.Mode = dirMode
				attr.Size = 0
			}
			snap.Children[name] = attr
			// the raw parent path alone can make these differ, so every
			// descendant of a deviating directory inherits its raw form
			m.norm.Record(path.Join(dir, name), path.Join(rawDir, rawName))
		}

		if !item.IsDir && m.zipByExt != nil && m.zipByExt(rawName) {
			// the archive also shows up as a browsable pseudo-directory,
			// in addition to whatever entry it got above
			snap.Children[name+".d"] = &Attribute{
				Mode:   dirMode,
				Ctime:  item.Ctime,
				Mtime:  item.Mtime,
				Atime:  atimeOf(item),
				Origin: OriginZipDir,
				Item:   item,
			}
		}
	}
	return snap
}

func (m *Materializer) strmPayload(ctx context.Context, item Item) []byte {
	url := item.URL
	if url == "" {
		var err error
		url, err = m.store.DirectURL(ctx, item)
		if err != nil {
			m.log.WithError(err).WithField("name", item.Name).Warn("can't make strm payload")
			return nil
		}
	}
	return []byte(url)
}

func atimeOf(item Item) time.Time {
	if item.Atime.IsZero() {
		return item.Mtime
	}
	return item.Atime
}
