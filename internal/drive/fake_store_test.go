package drive

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeStore is a scripted in-memory remote for tests. It counts listing
// calls per raw path and tracks how many ranged streams are open at once.
type fakeStore struct {
	mu        sync.Mutex
	dirs      map[string][]Item // raw path -> listing
	data      map[string][]byte // item id -> content
	urls      map[string]string // item id -> direct url
	listErr   map[string]error
	listDelay time.Duration
	lengths   map[string]int64 // item id -> reported stream length override

	listCalls map[string]int
	openTotal int
	openNow   int
	openPeak  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		dirs:      make(map[string][]Item),
		data:      make(map[string][]byte),
		urls:      make(map[string]string),
		listErr:   make(map[string]error),
		lengths:   make(map[string]int64),
		listCalls: make(map[string]int),
	}
}

func (s *fakeStore) ListChildren(ctx context.Context, dir string) ([]Item, error) {
	s.mu.Lock()
	s.listCalls[dir]++
	delay := s.listDelay
	err := s.listErr[dir]
	items, ok := s.dirs[dir]
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return append([]Item(nil), items...), nil
}

func (s *fakeStore) OpenRange(ctx context.Context, item Item, start int64) (File, error) {
	s.mu.Lock()
	data := s.data[item.ID]
	length := int64(len(data))
	if l, ok := s.lengths[item.ID]; ok {
		length = l
	}
	s.openTotal++
	s.openNow++
	if s.openNow > s.openPeak {
		s.openPeak = s.openNow
	}
	s.mu.Unlock()
	f := &fakeFile{store: s, reader: bytes.NewReader(data), length: length}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (s *fakeStore) DirectURL(ctx context.Context, item Item) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if url, ok := s.urls[item.ID]; ok {
		return url, nil
	}
	return item.URL, nil
}

func (s *fakeStore) listed(dir string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls[dir]
}

func (s *fakeStore) opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openTotal
}

func (s *fakeStore) peakOpen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openPeak
}

func (s *fakeStore) nowOpen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openNow
}

type fakeFile struct {
	store  *fakeStore
	reader *bytes.Reader
	length int64
	closed bool
}

func (f *fakeFile) Read(p []byte) (int, error) { return f.reader.Read(p) }

func (f *fakeFile) Seek(offset int64, whence int) (int64, error) {
	return f.reader.Seek(offset, whence)
}

func (f *fakeFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.store.mu.Lock()
	f.store.openNow--
	f.store.mu.Unlock()
	return nil
}

func (f *fakeFile) Length() int64 { return f.length }

// testConfig builds a quiet config suitable for unit tests.
func testConfig() Config {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return Config{
		Cooldown: time.Hour,
		CacheTTL: time.Hour,
		Logger:   logger,
	}
}

func fileItem(id, name string, size int64) Item {
	ts := time.Unix(1700000000, 0)
	return Item{ID: id, Name: name, Size: size, Ctime: ts, Mtime: ts, Atime: ts}
}

func dirItem(id, name string) Item {
	ts := time.Unix(1700000000, 0)
	return Item{ID: id, Name: name, IsDir: true, Ctime: ts, Mtime: ts, Atime: ts}
}
