package drive

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// prereadSize is the header buffer pulled on the first physical open so
// that probing reads at small offsets never cost a second round trip.
// Files at most this large are buffered whole and their stream closed.
const prereadSize = 2048

type streamKey struct {
	slot uint64
	path string
}

// stream is one physical remote byte stream, possibly shared by several
// handles under read-thread budgeting. Seek+read interleavings on a shared
// HTTP stream are unsafe, so every access holds mu.
type stream struct {
	mu      sync.Mutex
	opened  bool
	closed  bool // evicted from the table; must not be revived
	file    File // nil when the payload lives entirely in preread
	preread []byte
	refs    map[uint64]struct{}
}

// HandleTable bridges stateless-offset reads onto remote streams. Handle
// ids come from a single atomic counter; opening performs no I/O, the
// stream is dialed lazily on first read.
type HandleTable struct {
	next   atomic.Uint64
	budget int

	mu      sync.Mutex
	streams map[streamKey]*stream
	log     *logrus.Entry
}

// newHandleTable creates a table. budget is the maximum number of physical
// streams per file: <=0 means one stream per handle, 1 serializes all reads
// of a file onto a single stream.
func newHandleTable(budget int, log *logrus.Entry) *HandleTable {
	return &HandleTable{
		budget:  budget,
		streams: make(map[streamKey]*stream),
		log:     log,
	}
}

// Open allocates a handle id. No remote call is made.
func (t *HandleTable) Open() uint64 {
	return t.next.Add(1)
}

func (t *HandleTable) slot(fh uint64) uint64 {
	if t.budget <= 0 {
		return fh
	}
	return fh % uint64(t.budget)
}

// Read serves one read call for the handle. attr is the entry's attribute
// as built by the listing pipeline; a *SizeMismatchError is returned when
// the live stream disagrees with it.
func (t *HandleTable) Read(ctx context.Context, store Store, path string, attr *Attribute, size int, offset int64, fh uint64) ([]byte, error) {
	if size <= 0 || offset < 0 {
		return nil, nil
	}
	key := streamKey{slot: t.slot(fh), path: path}
	t.mu.Lock()
	s, ok := t.streams[key]
	if !ok {
		s = &stream{refs: make(map[uint64]struct{})}
		t.streams[key] = s
	}
	s.refs[fh] = struct{}{}
	t.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// a release evicted this stream between the table lookup and
		// taking its lock. A pooled peer's release never closes a stream
		// we are attached to, so the handle itself is gone: read empty
		// instead of dialing a stream nothing would ever close.
		return nil, nil
	}
	if !s.opened {
		if err := t.open(ctx, store, path, attr, offset, s); err != nil {
			return nil, err
		}
	}
	return s.read(size, offset)
}

// open populates the stream on first read. Synthetic payloads never touch
// the remote; small files are buffered whole and the stream dropped.
func (t *HandleTable) open(ctx context.Context, store Store, path string, attr *Attribute, offset int64, s *stream) error {
	switch {
	case attr.Origin == OriginStrm:
		s.preread = attr.Data
	case attr.Origin == OriginZipEntry:
		data, err := readMember(ctx, store, attr.Item, attr.Member)
		if err != nil {
			return err
		}
		s.preread = data
	default:
		f, err := store.OpenRange(ctx, attr.Item, 0)
		if err != nil {
			return remoteErr(err, "can't open %s", path)
		}
		if f.Length() != attr.Size {
			live := f.Length()
			f.Close()
			return &SizeMismatchError{Path: path, Cached: attr.Size, Live: live}
		}
		if attr.Size <= prereadSize {
			data, err := readUpTo(f, int(attr.Size))
			f.Close()
			if err != nil {
				return remoteErr(err, "can't read %s", path)
			}
			s.preread = data
		} else if offset == 0 {
			data, err := readUpTo(f, prereadSize)
			if err != nil {
				f.Close()
				return remoteErr(err, "can't read %s", path)
			}
			s.preread = data
			s.file = f
		} else {
			s.file = f
		}
	}
	s.opened = true
	return nil
}

// read serves from the preread window first and fetches only the remainder
// past it, so no byte is pulled from the remote twice.
func (s *stream) read(size int, offset int64) ([]byte, error) {
	window := int64(len(s.preread))
	if s.file == nil {
		if offset >= window {
			return nil, nil
		}
		end := offset + int64(size)
		if end > window {
			end = window
		}
		out := make([]byte, end-offset)
		copy(out, s.preread[offset:end])
		return out, nil
	}
	if offset < window {
		if offset+int64(size) <= window {
			out := make([]byte, size)
			copy(out, s.preread[offset:offset+int64(size)])
			return out, nil
		}
		if _, err := s.file.Seek(window, io.SeekStart); err != nil {
			return nil, remoteErr(err, "seek failed")
		}
		rest, err := readUpTo(s.file, int(offset+int64(size)-window))
		if err != nil {
			return nil, remoteErr(err, "read failed")
		}
		return append(append([]byte{}, s.preread[offset:]...), rest...), nil
	}
	if _, err := s.file.Seek(offset, io.SeekStart); err != nil {
		return nil, remoteErr(err, "seek failed")
	}
	out, err := readUpTo(s.file, size)
	if err != nil {
		return nil, remoteErr(err, "read failed")
	}
	return out, nil
}

// Release detaches fh and closes its stream once no handle references it.
// Releasing an unknown or already released handle is a no-op; a pooled
// stream stays open for the handles still attached to it.
func (t *HandleTable) Release(path string, fh uint64) {
	key := streamKey{slot: t.slot(fh), path: path}
	t.mu.Lock()
	s, ok := t.streams[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	if _, attached := s.refs[fh]; !attached {
		t.mu.Unlock()
		return
	}
	delete(s.refs, fh)
	last := len(s.refs) == 0
	if last {
		delete(t.streams, key)
	}
	t.mu.Unlock()
	if last {
		s.close(t.log)
	}
}

// Close drops every stream. Used when the mount is torn down.
func (t *HandleTable) Close() {
	t.mu.Lock()
	streams := t.streams
	t.streams = make(map[streamKey]*stream)
	t.mu.Unlock()
	for _, s := range streams {
		s.close(t.log)
	}
}

func (s *stream) close(log *logrus.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			log.WithError(err).Warn("closing remote stream failed")
		}
		s.file = nil
	}
	s.preread = nil
}

// readUpTo reads at most n bytes, stopping early at EOF without error.
func readUpTo(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return buf[:read], err
}
