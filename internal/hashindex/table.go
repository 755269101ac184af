// Package hashindex implements the on-disk extendible hash index: a
// directory page addressing an array of bucket pages, grown and shrunk as
// buckets split and merge, grounded on
// original_source/src/container/hash/extendible_hash_table.cpp and its
// companion directory/bucket page sources.
package hashindex

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"latchdb/internal/buffer"
	"latchdb/internal/page"
	"latchdb/internal/rid"
)

// MaxBits bounds how many times the directory can double: MaxDirSize (512)
// is 2^9, so global depth never needs to exceed 9.
const MaxBits = 9

// Table is a latch-coupled extendible hash index. A single RW-latch
// serializes structural changes (splits, merges, directory growth); readers
// take it in shared mode, writers in exclusive mode, matching spec.md
// §4.3's "coarse but correct" concurrency note.
type Table struct {
	pool *buffer.Pool

	tableLatch      sync.RWMutex
	directoryPageID page.ID

	cache *dirCache
	log   *zap.SugaredLogger
}

// NewTable allocates a fresh directory page and a single starting bucket
// page shared by both of its slots, mirroring ExtendibleHashTable's
// constructor.
func NewTable(pool *buffer.Pool, log *zap.SugaredLogger) (*Table, error) {
	dirPg, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("hashindex: allocate directory page: %w", err)
	}
	dir := NewDirectoryPage(dirPg)
	dir.InitDirectory(dirPg.ID(), -1)

	bucketPg, err := pool.NewPage()
	if err != nil {
		pool.UnpinPage(dirPg.ID(), false)
		return nil, fmt.Errorf("hashindex: allocate initial bucket page: %w", err)
	}

	dir.SetBucketPageID(0, bucketPg.ID())
	dir.SetBucketPageID(1, bucketPg.ID())
	dir.IncrGlobalDepth()
	dir.SetLocalDepth(0, 0)
	dir.SetLocalDepth(1, 0)

	pool.UnpinPage(bucketPg.ID(), false)
	pool.UnpinPage(dirPg.ID(), true)

	cache, err := newDirCache()
	if err != nil {
		return nil, fmt.Errorf("hashindex: build directory cache: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Table{pool: pool, directoryPageID: dirPg.ID(), cache: cache, log: log}, nil
}

func (t *Table) keyToDirectoryIndex(dir *DirectoryPage, key Key) uint32 {
	return hashKey(key[:]) & dir.GetGlobalDepthMask()
}

// GetValues returns every value inserted under key.
func (t *Table) GetValues(key Key) ([]rid.RID, error) {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	bucketID, err := t.routeRead(key)
	if err != nil {
		return nil, err
	}

	bucketPg, err := t.pool.FetchPage(bucketID)
	if err != nil {
		return nil, fmt.Errorf("hashindex: fetch bucket %d: %w", bucketID, err)
	}
	bucketPg.RLatch()
	var result []rid.RID
	NewBucketPage(bucketPg).GetValue(key, &result)
	bucketPg.RUnlatch()
	t.pool.UnpinPage(bucketID, false)
	return result, nil
}

// routeRead resolves key to a bucket page id, consulting the directory
// cache before paying for a buffer pool fetch of the directory page.
func (t *Table) routeRead(key Key) (page.ID, error) {
	h := hashKey(key[:])
	if snap, ok := t.cache.get(t.directoryPageID); ok {
		return snap.bucketFor(h), nil
	}

	dirPg, err := t.pool.FetchPage(t.directoryPageID)
	if err != nil {
		return page.InvalidID, fmt.Errorf("hashindex: fetch directory: %w", err)
	}
	dirPg.RLatch()
	dir := NewDirectoryPage(dirPg)
	snap := snapshotOf(dir)
	bucketID := snap.bucketFor(h)
	dirPg.RUnlatch()
	t.pool.UnpinPage(t.directoryPageID, false)

	t.cache.put(t.directoryPageID, snap)
	return bucketID, nil
}

// Insert adds (key, value). Returns false without error on a duplicate.
func (t *Table) Insert(key Key, value rid.RID) (bool, error) {
	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()

	dirPg, err := t.pool.FetchPage(t.directoryPageID)
	if err != nil {
		return false, fmt.Errorf("hashindex: fetch directory: %w", err)
	}
	dir := NewDirectoryPage(dirPg)
	bucketIdx := t.keyToDirectoryIndex(dir, key)
	bucketID := dir.BucketPageID(bucketIdx)

	bucketPg, err := t.pool.FetchPage(bucketID)
	if err != nil {
		t.pool.UnpinPage(t.directoryPageID, false)
		return false, fmt.Errorf("hashindex: fetch bucket %d: %w", bucketID, err)
	}
	bucketPg.Latch()
	bucket := NewBucketPage(bucketPg)

	if bucket.Insert(key, value) {
		bucketPg.Unlatch()
		t.pool.UnpinPage(t.directoryPageID, false)
		t.pool.UnpinPage(bucketID, true)
		return true, nil
	}
	full := bucket.IsFull()
	duplicate := false
	if full {
		var existing []rid.RID
		bucket.GetValue(key, &existing)
		for _, v := range existing {
			if v == value {
				duplicate = true
				break
			}
		}
	}
	bucketPg.Unlatch()
	t.pool.UnpinPage(bucketID, false)
	t.pool.UnpinPage(t.directoryPageID, false)

	if !full || duplicate {
		// Not inserted, and either the bucket has room or it already holds
		// this exact (key, value) pair: a duplicate.
		return false, nil
	}
	return t.splitInsert(key, value)
}

// splitInsert grows the bucket housing key into two, redistributes its
// contents (plus the pending insert) by rehashing under the new local
// depth, and retries if the split didn't actually separate anything —
// decided per the open question on split-insert non-progress: loop until
// the insert lands in a bucket with room, bounded by MaxBits since global
// depth cannot grow past it.
func (t *Table) splitInsert(key Key, value rid.RID) (bool, error) {
	for attempt := 0; attempt < MaxBits; attempt++ {
		dirPg, err := t.pool.FetchPage(t.directoryPageID)
		if err != nil {
			return false, fmt.Errorf("hashindex: fetch directory: %w", err)
		}
		dir := NewDirectoryPage(dirPg)

		oldIdx := t.keyToDirectoryIndex(dir, key)
		oldBucketID := dir.BucketPageID(oldIdx)

		oldBucketPg, err := t.pool.FetchPage(oldBucketID)
		if err != nil {
			t.pool.UnpinPage(t.directoryPageID, false)
			return false, fmt.Errorf("hashindex: fetch bucket %d: %w", oldBucketID, err)
		}
		oldBucketPg.Latch()
		oldBucket := NewBucketPage(oldBucketPg)

		var localBucketIdx uint32
		if uint32(dir.LocalDepth(oldIdx)) < dir.GlobalDepth() {
			localBucketIdx = oldIdx & dir.getLocalHighBit(oldIdx)
		} else {
			localBucketIdx = oldIdx
		}

		dir.IncrLocalDepth(oldIdx)

		newBucketPg, err := t.pool.NewPage()
		if err != nil {
			oldBucketPg.Unlatch()
			t.pool.UnpinPage(oldBucketID, false)
			t.pool.UnpinPage(t.directoryPageID, false)
			return false, fmt.Errorf("hashindex: allocate split bucket: %w", err)
		}
		newBucket := NewBucketPage(newBucketPg)

		keys, values := oldBucket.EmptyAll()
		keys = append(keys, key)
		values = append(values, value)

		var newBucketIdx uint32
		progressed := false
		landed := false
		for i, k := range keys {
			idx := hashKey(k[:]) & dir.GetGlobalDepthMask()
			updatedLocal := idx & dir.getLocalHighBit(idx)
			var ok bool
			if updatedLocal != localBucketIdx {
				newBucketIdx = idx
				dir.SetBucketPageID(idx, newBucketPg.ID())
				ok = newBucket.Insert(k, values[i])
				progressed = true
			} else {
				ok = oldBucket.Insert(k, values[i])
			}
			if i == len(keys)-1 {
				landed = ok // the pending (key, value) is the last entry
			}
		}
		if progressed {
			dir.CheckAndUpdateDirectory(newBucketIdx)
		}
		t.cache.invalidate(t.directoryPageID)

		oldBucketPg.Unlatch()
		t.pool.UnpinPage(newBucketPg.ID(), true)
		t.pool.UnpinPage(t.directoryPageID, true)
		t.pool.UnpinPage(oldBucketID, true)

		if progressed && landed {
			return true, nil
		}
	}
	return false, fmt.Errorf("hashindex: split-insert did not converge within %d levels", MaxBits)
}

// Remove deletes (key, value). If the bucket becomes empty, it attempts to
// merge with its split image.
func (t *Table) Remove(key Key, value rid.RID) (bool, error) {
	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()

	dirPg, err := t.pool.FetchPage(t.directoryPageID)
	if err != nil {
		return false, fmt.Errorf("hashindex: fetch directory: %w", err)
	}
	dir := NewDirectoryPage(dirPg)
	bucketIdx := t.keyToDirectoryIndex(dir, key)
	bucketID := dir.BucketPageID(bucketIdx)

	bucketPg, err := t.pool.FetchPage(bucketID)
	if err != nil {
		t.pool.UnpinPage(t.directoryPageID, false)
		return false, fmt.Errorf("hashindex: fetch bucket %d: %w", bucketID, err)
	}
	bucketPg.Latch()
	bucket := NewBucketPage(bucketPg)

	if !bucket.Remove(key, value) {
		bucketPg.Unlatch()
		t.pool.UnpinPage(bucketID, false)
		t.pool.UnpinPage(t.directoryPageID, false)
		return false, nil
	}
	empty := bucket.IsEmpty()
	bucketPg.Unlatch()
	t.pool.UnpinPage(bucketID, true)
	t.pool.UnpinPage(t.directoryPageID, false)

	if empty {
		if err := t.merge(key); err != nil {
			return true, err
		}
	}
	return true, nil
}

// merge repeatedly attempts to combine an empty bucket with its split
// image, retargeting every directory slot pointing at the empty bucket and
// decrementing local depths on both sides. It loops rather than recursing
// (the original re-fetches and re-checks the newly combined bucket,
// Merge's own tail call) because the combined bucket may itself now be
// empty and eligible for a further merge with its own split image.
func (t *Table) merge(key Key) error {
	for {
		dirPg, err := t.pool.FetchPage(t.directoryPageID)
		if err != nil {
			return fmt.Errorf("hashindex: fetch directory: %w", err)
		}
		dir := NewDirectoryPage(dirPg)
		bucketIdx := t.keyToDirectoryIndex(dir, key)
		bucketID := dir.BucketPageID(bucketIdx)

		bucketPg, err := t.pool.FetchPage(bucketID)
		if err != nil {
			t.pool.UnpinPage(t.directoryPageID, false)
			return fmt.Errorf("hashindex: fetch bucket %d: %w", bucketID, err)
		}
		bucketPg.RLatch()
		empty := NewBucketPage(bucketPg).IsEmpty()
		bucketPg.RUnlatch()
		if !empty {
			t.pool.UnpinPage(bucketID, false)
			t.pool.UnpinPage(t.directoryPageID, false)
			return nil
		}

		splitIdx := dir.GetSplitImageIndex(bucketIdx)
		splitID := dir.BucketPageID(splitIdx)
		// Buckets can only merge with a split image at the same local
		// depth, and only once that depth exceeds zero.
		mergeable := dir.LocalDepth(splitIdx) == dir.LocalDepth(bucketIdx) && dir.LocalDepth(bucketIdx) > 0
		if !mergeable {
			t.pool.UnpinPage(bucketID, false)
			t.pool.UnpinPage(t.directoryPageID, false)
			return nil
		}

		for i := uint32(0); i < MaxDirSize; i++ {
			switch dir.BucketPageID(i) {
			case bucketID:
				dir.SetBucketPageID(i, splitID)
				dir.DecrLocalDepth(i)
			case splitID:
				dir.DecrLocalDepth(i)
			}
		}
		t.cache.invalidate(t.directoryPageID)

		t.pool.UnpinPage(t.directoryPageID, true)
		t.pool.UnpinPage(bucketID, true)
		t.pool.DeletePage(bucketID)
		// Loop again: key now routes to splitID, which may itself be empty
		// and mergeable with its own split image.
	}
}

// VerifyIntegrity checks the directory's structural invariants.
func (t *Table) VerifyIntegrity() error {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dirPg, err := t.pool.FetchPage(t.directoryPageID)
	if err != nil {
		return fmt.Errorf("hashindex: fetch directory: %w", err)
	}
	dirPg.RLatch()
	err = NewDirectoryPage(dirPg).VerifyIntegrity()
	dirPg.RUnlatch()
	t.pool.UnpinPage(t.directoryPageID, false)
	return err
}

// GlobalDepth returns the directory's current global depth.
func (t *Table) GlobalDepth() (uint32, error) {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dirPg, err := t.pool.FetchPage(t.directoryPageID)
	if err != nil {
		return 0, fmt.Errorf("hashindex: fetch directory: %w", err)
	}
	dirPg.RLatch()
	gd := NewDirectoryPage(dirPg).GlobalDepth()
	dirPg.RUnlatch()
	t.pool.UnpinPage(t.directoryPageID, false)
	return gd, nil
}
