package drive

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// listFunc performs one remote listing of dir, materializes its entries,
// publishes the snapshot into the cache, and returns it.
type listFunc func(ctx context.Context, dir string) (*DirSnapshot, error)

// Coalescer serializes directory refreshes: concurrent callers for the same
// directory share one remote listing, and a fresh directory is not re-listed
// until the cooldown since the last refresh attempt has elapsed. Within the
// cooldown window at most one detached background refresh is outstanding.
type Coalescer struct {
	group    singleflight.Group
	cache    *AttrCache
	list     listFunc
	cooldown time.Duration
	log      *logrus.Entry

	mu          sync.Mutex
	lastAttempt map[string]time.Time
}

func newCoalescer(cache *AttrCache, list listFunc, cooldown time.Duration, log *logrus.Entry) *Coalescer {
	return &Coalescer{
		cache:       cache,
		list:        list,
		cooldown:    cooldown,
		log:         log,
		lastAttempt: make(map[string]time.Time),
	}
}

// Snapshot serves readdir: a cached snapshot is returned immediately, with
// a background refresh kicked off once per cooldown window. A cache miss
// blocks on a (coalesced) remote listing.
func (c *Coalescer) Snapshot(ctx context.Context, dir string) (*DirSnapshot, error) {
	if snap, ok := c.cache.Get(ctx, dir); ok {
		if c.claimAttempt(dir) {
			go func() {
				if _, err := c.refresh(context.Background(), dir); err != nil {
					c.log.WithError(err).WithField("dir", dir).Warn("background refresh failed")
				}
			}()
		}
		return snap, nil
	}
	return c.refresh(ctx, dir)
}

// Fresh serves getattr: it guarantees dir has a snapshot, blocking on a
// listing when none is cached.
func (c *Coalescer) Fresh(ctx context.Context, dir string) (*DirSnapshot, error) {
	if snap, ok := c.cache.Get(ctx, dir); ok {
		return snap, nil
	}
	return c.refresh(ctx, dir)
}

// refresh runs (or joins) the single in-flight listing for dir. The leader
// clears its in-flight marker on both success and failure, so waiters never
// deadlock and later callers may retry as new leaders.
func (c *Coalescer) refresh(ctx context.Context, dir string) (*DirSnapshot, error) {
	v, err, _ := c.group.Do(dir, func() (interface{}, error) {
		c.markAttempt(dir)
		return c.list(ctx, dir)
	})
	if err != nil {
		return nil, err
	}
	return v.(*DirSnapshot), nil
}

// claimAttempt reports whether the cooldown for dir has elapsed, claiming
// the next attempt slot when it has.
func (c *Coalescer) claimAttempt(dir string) bool {
	if c.cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastAttempt[dir]) < c.cooldown {
		return false
	}
	c.lastAttempt[dir] = time.Now()
	return true
}

func (c *Coalescer) markAttempt(dir string) {
	c.mu.Lock()
	c.lastAttempt[dir] = time.Now()
	c.mu.Unlock()
}
