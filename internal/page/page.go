// Package page defines the in-memory representation of a fixed-size disk page.
//
// A Page is a raw byte buffer plus bookkeeping the buffer pool needs to
// enforce pin discipline and dirty tracking. The payload is interpreted
// polymorphically by higher layers (a directory page, a bucket page, or
// whatever the caller's access method wants) via the accessor helpers those
// packages define over Data(); Page itself never inspects its own bytes.
package page

import "sync"

const (
	// Size is the fixed size, in bytes, of every page on disk and in the
	// buffer pool. Chosen to match the teaching-scale reference (4 KiB).
	Size = 4096

	// LSNOffset is a byte offset set aside for a log sequence number.
	// Nothing in latchdb reads or writes it: the hash index's directory page
	// keeps its own LSN at byte 4 (after its page id), and bucket pages carry
	// no LSN and use byte 0 for their occupied bitmap.
	LSNOffset = 0

	// InvalidID marks the absence of a page.
	InvalidID ID = -1
)

// ID identifies a page. It doubles as a file offset in pages: page_id * Size
// is the page's byte offset in the backing file.
type ID int32

// Page is one frame's worth of buffered content plus its metadata. The
// buffer pool owns Page values for the lifetime of the process; a frame
// holds exactly one Page value, reused across evictions rather than
// reallocated.
type Page struct {
	mu sync.RWMutex

	id       ID
	data     [Size]byte
	pinCount int32
	isDirty  bool
}

// New returns a page with no identity, as a fresh frame slot is initialized.
func New() *Page {
	return &Page{id: InvalidID}
}

// Latch acquires the page's reader/writer latch for exclusive (write) access.
// The caller must hold a pin on the page for as long as the latch is held.
func (p *Page) Latch() { p.mu.Lock() }

// Unlatch releases a previously acquired write latch.
func (p *Page) Unlatch() { p.mu.Unlock() }

// RLatch acquires the page's latch for shared (read) access.
func (p *Page) RLatch() { p.mu.RLock() }

// RUnlatch releases a previously acquired read latch.
func (p *Page) RUnlatch() { p.mu.RUnlock() }

// ID returns the page's current identity. INVALID_PAGE_ID for an unused frame.
func (p *Page) ID() ID { return p.id }

// SetID sets the page's identity. Only the buffer pool calls this, while it
// alone holds a reference to the frame (before publishing it to the page
// table), so no latch is taken here.
func (p *Page) SetID(id ID) { p.id = id }

// PinCount returns the page's current pin count.
func (p *Page) PinCount() int32 { return p.pinCount }

// Pin increments the pin count.
func (p *Page) Pin() { p.pinCount++ }

// Unpin decrements the pin count. Panics on underflow: a caller unpinning a
// page it never pinned is a programming error the spec requires we assert on.
func (p *Page) Unpin() {
	if p.pinCount <= 0 {
		panic("page: pin count underflow")
	}
	p.pinCount--
}

// IsDirty reports whether the page has unflushed writes.
func (p *Page) IsDirty() bool { return p.isDirty }

// MarkDirty ORs dirty into the page's dirty flag. It never clears a
// previously set flag; only a flush or eviction write-back does that,
// matching spec.md §4.2's dirty-OR semantics on UnpinPage.
func (p *Page) MarkDirty(dirty bool) {
	if dirty {
		p.isDirty = true
	}
}

// ClearDirty resets the dirty flag, called only after the page's bytes have
// actually been written to disk.
func (p *Page) ClearDirty() { p.isDirty = false }

// Data returns the page's raw byte buffer for in-place reads and writes.
// Callers must hold the appropriate latch before touching it.
func (p *Page) Data() []byte { return p.data[:] }

// Reset zeroes the buffer and clears metadata other than pin count, which
// the buffer pool manages separately during eviction and reuse.
func (p *Page) Reset() {
	for i := range p.data {
		p.data[i] = 0
	}
	p.id = InvalidID
	p.isDirty = false
}
