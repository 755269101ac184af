package hashindex

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"latchdb/internal/page"
)

// dirSnapshot is a read-only copy of the directory metadata GetValues needs:
// enough to route a key to a bucket page id without a buffer pool round
// trip for the directory page itself.
type dirSnapshot struct {
	globalDepth   uint32
	bucketPageIDs []page.ID
}

// dirCache fronts the directory page with a cost-bounded, short-lived cache,
// exercising ristretto/v2 the way SPEC_FULL.md §2 describes: a dependency the
// teacher listed but never imported. Every structural mutation (split,
// merge, incr/decr global depth) invalidates the entry for its directory
// page id before the table write-latch releases, so a reader can never
// observe a directory snapshot older than the mutation that just committed.
type dirCache struct {
	cache *ristretto.Cache[uint64, dirSnapshot]
	ttl   time.Duration
}

func newDirCache() (*dirCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[uint64, dirSnapshot]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &dirCache{cache: c, ttl: 50 * time.Millisecond}, nil
}

func (c *dirCache) get(id page.ID) (dirSnapshot, bool) {
	return c.cache.Get(uint64(id))
}

func (c *dirCache) put(id page.ID, snap dirSnapshot) {
	cost := int64(len(snap.bucketPageIDs)*4 + 8)
	c.cache.SetWithTTL(uint64(id), snap, cost, c.ttl)
	c.cache.Wait()
}

func (c *dirCache) invalidate(id page.ID) {
	c.cache.Del(uint64(id))
}

func snapshotOf(dir *DirectoryPage) dirSnapshot {
	size := dir.Size()
	ids := make([]page.ID, size)
	for i := uint32(0); i < size; i++ {
		ids[i] = dir.BucketPageID(i)
	}
	return dirSnapshot{globalDepth: dir.GlobalDepth(), bucketPageIDs: ids}
}

func (s dirSnapshot) bucketFor(hash uint32) page.ID {
	mask := (uint32(1) << s.globalDepth) - 1
	return s.bucketPageIDs[hash&mask]
}
