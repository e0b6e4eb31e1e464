package drive

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// memKV is an in-memory KV spill for tests.
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func testLogEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func sampleSnapshot() *DirSnapshot {
	snap := newSnapshot()
	snap.Children["a.txt"] = &Attribute{
		Mode: fileMode, Size: 7, Mtime: time.Unix(1700000000, 0),
		Origin: OriginReal, Item: Item{ID: "1", Name: "a.txt", Size: 7},
	}
	snap.Children["sub"] = &Attribute{
		Mode: dirMode, Mtime: time.Unix(1700000000, 0),
		Origin: OriginReal, Item: Item{ID: "2", Name: "sub", IsDir: true},
	}
	return snap
}

func TestCacheSetGetInvalidate(t *testing.T) {
	c := NewAttrCache(time.Hour, nil, testLogEntry())
	ctx := context.Background()

	if _, ok := c.Get(ctx, "/d"); ok {
		t.Fatal("empty cache reported a hit")
	}
	snap := sampleSnapshot()
	c.Set(ctx, "/d", snap)
	got, ok := c.Get(ctx, "/d")
	if !ok || got != snap {
		t.Fatal("Get should return the snapshot by reference")
	}
	c.Invalidate("/d")
	if _, ok := c.Get(ctx, "/d"); ok {
		t.Fatal("invalidated entry still served")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewAttrCache(20*time.Millisecond, nil, testLogEntry())
	ctx := context.Background()
	c.Set(ctx, "/d", sampleSnapshot())
	if _, ok := c.Get(ctx, "/d"); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get(ctx, "/d"); ok {
		t.Fatal("expired entry still served")
	}
}

func TestCacheSpillRoundTrip(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	c := NewAttrCache(time.Hour, kv, testLogEntry())
	c.Set(ctx, "/d", sampleSnapshot())

	// a fresh cache over the same KV sees the spilled snapshot
	c2 := NewAttrCache(time.Hour, kv, testLogEntry())
	snap, ok := c2.Get(ctx, "/d")
	if !ok {
		t.Fatal("spilled snapshot not recovered")
	}
	if len(snap.Children) != 2 {
		t.Fatalf("recovered %d children, want 2", len(snap.Children))
	}
	a := snap.Children["a.txt"]
	if a == nil || a.Size != 7 || a.Item.ID != "1" || a.IsDir() {
		t.Errorf("recovered a.txt = %+v", a)
	}
	sub := snap.Children["sub"]
	if sub == nil || !sub.IsDir() || sub.Item.ID != "2" {
		t.Errorf("recovered sub = %+v", sub)
	}
}

func TestCacheSpillFailuresAreSoft(t *testing.T) {
	kv := newMemKV()
	kv.err = io.ErrClosedPipe
	c := NewAttrCache(time.Hour, kv, testLogEntry())
	ctx := context.Background()

	snap := sampleSnapshot()
	c.Set(ctx, "/d", snap) // spill write fails, memory entry must survive
	got, ok := c.Get(ctx, "/d")
	if !ok || got != snap {
		t.Fatal("memory entry lost on spill failure")
	}
	if _, ok := c.Get(ctx, "/other"); ok {
		t.Fatal("failing spill produced a hit")
	}
}

func TestCacheSpillEntryExpiresByCreationTime(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	c := NewAttrCache(20*time.Millisecond, kv, testLogEntry())
	c.Set(ctx, "/d", sampleSnapshot())
	time.Sleep(40 * time.Millisecond)

	c2 := NewAttrCache(20*time.Millisecond, kv, testLogEntry())
	if _, ok := c2.Get(ctx, "/d"); ok {
		t.Fatal("expired spill entry served")
	}
}
