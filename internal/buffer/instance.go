// Package buffer implements the page cache: a single-partition Instance
// grounded on original_source/src/buffer/buffer_pool_manager_instance.cpp
// and DaemonDB's storage_engine/bufferpool package, plus a top-level Pool
// that routes across several Instances the way spec.md §4.2 describes a
// partitioned buffer pool.
//
// DaemonDB's own BufferPool (storage_engine/bufferpool/bufferpool.go) keys
// pages by id in a map and tracks LRU order with a plain slice
// (accessOrder), which is an O(n) per-touch design. spec.md requires the
// classic frame-array-plus-free-list-plus-replacer shape (§3, §4.1, §4.2),
// so Instance below generalizes the teacher's map-of-pages idea into that
// shape: frames is a fixed frame array, a page table maps page ids to frame
// indices, a free list seeds frames with no resident page, and eviction
// victims come from internal/replacer.LRU instead of a linear scan.
package buffer

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"latchdb/internal/diskmanager"
	"latchdb/internal/metrics"
	"latchdb/internal/page"
	"latchdb/internal/replacer"
)

// Sentinel errors surfaced by Instance operations. spec.md §7 treats these
// as operation failures the buffer pool itself never turns into aborts;
// callers decide what to do.
var (
	ErrNoFreeFrame     = errors.New("buffer: no free frame available")
	ErrPageNotBuffered = errors.New("buffer: page not buffered")
	ErrPagePinned      = errors.New("buffer: page is pinned")
)

// Instance owns pool_size frames, the page table, the free list, and the
// replacer for one partition of the overall buffer pool.
type Instance struct {
	mu sync.Mutex

	poolSize     int
	numInstances int
	instanceIdx  int
	nextPageID   int64 // instanceIdx, instanceIdx+numInstances, ...

	disk     *diskmanager.DiskManager
	replacer replacer.Replacer

	frames    []*page.Page
	pageTable map[page.ID]replacer.FrameID
	freeList  []replacer.FrameID

	log     *zap.SugaredLogger
	metrics *metrics.Registry
}

// Option configures an Instance at construction time.
type Option func(*Instance)

// WithLogger attaches a logger; the zero value falls back to a no-op logger.
func WithLogger(l *zap.SugaredLogger) Option { return func(i *Instance) { i.log = l } }

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metrics.Registry) Option { return func(i *Instance) { i.metrics = m } }

// NewInstance builds one partition of a buffer pool: poolSize frames, backed
// by disk, responsible for page ids congruent to instanceIdx modulo
// numInstances. Pass numInstances=1, instanceIdx=0 for a non-partitioned
// pool.
func NewInstance(poolSize, numInstances, instanceIdx int, disk *diskmanager.DiskManager, opts ...Option) *Instance {
	if numInstances <= 0 {
		numInstances = 1
	}
	if instanceIdx < 0 || instanceIdx >= numInstances {
		panic("buffer: instance index out of range")
	}

	inst := &Instance{
		poolSize:     poolSize,
		numInstances: numInstances,
		instanceIdx:  instanceIdx,
		nextPageID:   int64(instanceIdx),
		disk:         disk,
		replacer:     replacer.NewLRU(poolSize),
		frames:       make([]*page.Page, poolSize),
		pageTable:    make(map[page.ID]replacer.FrameID, poolSize),
		freeList:     make([]replacer.FrameID, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		inst.frames[i] = page.New()
		inst.freeList[i] = replacer.FrameID(i)
	}
	for _, opt := range opts {
		opt(inst)
	}
	if inst.log == nil {
		inst.log = zap.NewNop().Sugar()
	}
	return inst
}

// allocatePageID returns this instance's next page id, stepping by
// numInstances so that id % numInstances == instanceIdx always holds,
// matching buffer_pool_manager_instance.cpp's AllocatePage/ValidatePageId.
func (inst *Instance) allocatePageID() page.ID {
	id := inst.nextPageID
	inst.nextPageID += int64(inst.numInstances)
	if int(id)%inst.numInstances != inst.instanceIdx {
		panic("buffer: allocated page id does not belong to this instance")
	}
	return page.ID(id)
}

// victim picks a frame to reuse: free list first, else the LRU replacer.
// Caller must hold inst.mu. Returns ErrNoFreeFrame if every frame is pinned.
func (inst *Instance) victim() (replacer.FrameID, error) {
	if n := len(inst.freeList); n > 0 {
		f := inst.freeList[n-1]
		inst.freeList = inst.freeList[:n-1]
		return f, nil
	}
	f, ok := inst.replacer.Victim()
	if !ok {
		return 0, ErrNoFreeFrame
	}
	if inst.metrics != nil {
		inst.metrics.BufferPoolEvictions.Inc()
	}
	return f, nil
}

// evictForReuse prepares frame's current occupant (if any) for reuse: flushes
// it if dirty and removes it from the page table. Caller holds inst.mu.
func (inst *Instance) evictForReuse(frame replacer.FrameID) error {
	pg := inst.frames[frame]
	oldID := pg.ID()
	if oldID == page.InvalidID {
		return nil
	}
	if pg.IsDirty() {
		if err := inst.disk.WritePage(oldID, pg.Data()); err != nil {
			return fmt.Errorf("buffer: flush victim page %d: %w", oldID, err)
		}
		if inst.metrics != nil {
			inst.metrics.BufferPoolFlushes.Inc()
		}
	}
	delete(inst.pageTable, oldID)
	pg.Reset()
	return nil
}

// NewPage allocates a fresh page id and pins a zeroed frame for it. Returns
// ErrNoFreeFrame without allocating an id if every frame is pinned.
func (inst *Instance) NewPage() (*page.Page, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	frame, err := inst.victim()
	if err != nil {
		return nil, err
	}
	if err := inst.evictForReuse(frame); err != nil {
		return nil, err
	}

	id := inst.allocatePageID()
	pg := inst.frames[frame]
	pg.SetID(id)
	pg.Pin()
	pg.ClearDirty()
	inst.pageTable[id] = frame
	inst.replacer.Pin(frame)

	inst.log.Debugw("new page", "page_id", id, "frame_id", frame)
	return pg, nil
}

// FetchPage returns the page for id, pinned, loading it from disk if it is
// not already buffered. Returns ErrNoFreeFrame if a load is required but
// every frame is pinned.
func (inst *Instance) FetchPage(id page.ID) (*page.Page, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if frame, ok := inst.pageTable[id]; ok {
		pg := inst.frames[frame]
		pg.Pin()
		inst.replacer.Pin(frame)
		if inst.metrics != nil {
			inst.metrics.BufferPoolHits.Inc()
		}
		return pg, nil
	}

	if inst.metrics != nil {
		inst.metrics.BufferPoolMisses.Inc()
	}

	frame, err := inst.victim()
	if err != nil {
		return nil, err
	}
	if err := inst.evictForReuse(frame); err != nil {
		return nil, err
	}

	pg := inst.frames[frame]
	if err := inst.disk.ReadPage(id, pg.Data()); err != nil {
		inst.freeList = append(inst.freeList, frame)
		return nil, fmt.Errorf("buffer: read page %d: %w", id, err)
	}
	pg.SetID(id)
	pg.Pin()
	pg.ClearDirty()
	inst.pageTable[id] = frame
	inst.replacer.Pin(frame)

	inst.log.Debugw("fetched page from disk", "page_id", id, "frame_id", frame)
	return pg, nil
}

// UnpinPage decrements id's pin count and OR-accumulates isDirty into the
// frame's dirty flag. When the pin count reaches zero the frame becomes an
// eviction candidate. Returns false if id is not buffered or was already
// unpinned to zero.
func (inst *Instance) UnpinPage(id page.ID, isDirty bool) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	frame, ok := inst.pageTable[id]
	if !ok {
		return false
	}
	pg := inst.frames[frame]
	if pg.PinCount() == 0 {
		return false
	}
	pg.Unpin()
	pg.MarkDirty(isDirty)
	if pg.PinCount() == 0 {
		inst.replacer.Unpin(frame)
	}
	return true
}

// FlushPage writes id to disk if it is buffered and dirty. Returns whether
// id was buffered at all.
func (inst *Instance) FlushPage(id page.ID) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	frame, ok := inst.pageTable[id]
	if !ok {
		return false
	}
	pg := inst.frames[frame]
	if pg.IsDirty() {
		if err := inst.disk.WritePage(id, pg.Data()); err != nil {
			inst.log.Warnw("flush failed", "page_id", id, "error", err)
			return true
		}
		pg.ClearDirty()
		if inst.metrics != nil {
			inst.metrics.BufferPoolFlushes.Inc()
		}
	}
	return true
}

// FlushAllPages flushes every buffered dirty page.
func (inst *Instance) FlushAllPages() {
	inst.mu.Lock()
	ids := make([]page.ID, 0, len(inst.pageTable))
	for id := range inst.pageTable {
		ids = append(ids, id)
	}
	inst.mu.Unlock()

	for _, id := range ids {
		inst.FlushPage(id)
	}
}

// DeletePage removes id from the buffer pool and returns its disk slot for
// reuse. Returns true if id was not buffered, or was buffered unpinned;
// false if it is pinned and cannot be deleted.
func (inst *Instance) DeletePage(id page.ID) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	frame, ok := inst.pageTable[id]
	if !ok {
		return true
	}
	pg := inst.frames[frame]
	if pg.PinCount() > 0 {
		return false
	}

	delete(inst.pageTable, id)
	pg.Reset()
	inst.disk.DeallocatePage(id)
	inst.freeList = append(inst.freeList, frame)
	inst.replacer.Pin(frame) // removes it from the replacer, mirroring the original's DeletePgImp

	return true
}

// Size returns the number of frames currently holding a valid page.
func (inst *Instance) Size() int {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return len(inst.pageTable)
}
