package drive

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// KV is an optional caller-supplied key-value store backing the attribute
// cache. Only get/set are consumed; anything richer stays behind the
// implementation.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// AttrCache maps canonical directory paths to their latest DirSnapshot.
// Snapshots are replaced wholesale by reference swap; entries expire after
// a TTL and can spill to an external KV store.
type AttrCache struct {
	mu      sync.RWMutex
	entries map[string]*DirSnapshot
	ttl     time.Duration
	spill   KV
	log     *logrus.Entry
}

// NewAttrCache creates a cache with the given TTL. A zero TTL keeps entries
// until they are explicitly invalidated. spill may be nil.
func NewAttrCache(ttl time.Duration, spill KV, log *logrus.Entry) *AttrCache {
	return &AttrCache{
		entries: make(map[string]*DirSnapshot),
		ttl:     ttl,
		spill:   spill,
		log:     log,
	}
}

// Get returns the cached snapshot for dir, falling back to the spill store
// on a miss.
func (c *AttrCache) Get(ctx context.Context, dir string) (*DirSnapshot, bool) {
	c.mu.RLock()
	snap, ok := c.entries[dir]
	c.mu.RUnlock()
	if ok {
		if c.ttl > 0 && time.Since(snap.CreatedAt) > c.ttl {
			return nil, false
		}
		return snap, true
	}
	if c.spill == nil {
		return nil, false
	}
	raw, found, err := c.spill.Get(ctx, dir)
	if err != nil || !found {
		if err != nil {
			c.log.WithError(err).WithField("dir", dir).Warn("cache spill get failed")
		}
		return nil, false
	}
	snap, err = decodeSnapshot(raw)
	if err != nil {
		c.log.WithError(err).WithField("dir", dir).Warn("cache spill entry undecodable")
		return nil, false
	}
	if c.ttl > 0 && time.Since(snap.CreatedAt) > c.ttl {
		return nil, false
	}
	c.mu.Lock()
	c.entries[dir] = snap
	c.mu.Unlock()
	return snap, true
}

// Set publishes a new snapshot for dir.
func (c *AttrCache) Set(ctx context.Context, dir string, snap *DirSnapshot) {
	c.mu.Lock()
	c.entries[dir] = snap
	c.mu.Unlock()
	if c.spill != nil {
		raw, err := encodeSnapshot(snap)
		if err == nil {
			err = c.spill.Set(ctx, dir, raw)
		}
		if err != nil {
			c.log.WithError(err).WithField("dir", dir).Warn("cache spill set failed")
		}
	}
}

// Invalidate drops the snapshot for dir.
func (c *AttrCache) Invalidate(dir string) {
	c.mu.Lock()
	delete(c.entries, dir)
	c.mu.Unlock()
}

// Clear drops all snapshots.
func (c *AttrCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*DirSnapshot)
	c.mu.Unlock()
}

func encodeSnapshot(snap *DirSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(raw []byte) (*DirSnapshot, error) {
	var snap DirSnapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
