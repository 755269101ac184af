package hashindex

import (
	"latchdb/internal/page"
	"latchdb/internal/rid"
)

// KeySize is the width in bytes of a hash index key. Concrete keys are
// fixed-size byte arrays, generalizing bustub's GenericKey<N> template
// instantiations (extendible_hash_table.cpp's closing template block lists
// GenericKey<4/8/16/32/64>); this port picks the 8-byte instantiation.
const KeySize = 8

// Key is a fixed-width comparable key, encoded by callers via EncodeKey.
type Key [KeySize]byte

// EncodeKey truncates or zero-pads b into a Key.
func EncodeKey(b []byte) Key {
	var k Key
	copy(k[:], b)
	return k
}

const (
	bucketArraySize = 248
	bucketBitmapLen = (bucketArraySize + 7) / 8
	bucketOccOff    = 0
	bucketReadOff   = bucketOccOff + bucketBitmapLen
	bucketPairsOff  = bucketReadOff + bucketBitmapLen
	pairSize        = KeySize + rid.Size
)

// BucketPage is a view over a buffered page's bytes, grounded on
// hash_table_bucket_page.cpp/.h: a fixed-capacity open-addressed array of
// (key, value) pairs plus parallel occupied/readable bitmaps.
type BucketPage struct {
	pg *page.Page
}

// NewBucketPage wraps pg as a bucket page view.
func NewBucketPage(pg *page.Page) *BucketPage { return &BucketPage{pg: pg} }

func (b *BucketPage) buf() []byte { return b.pg.Data() }

func (b *BucketPage) isOccupied(i uint32) bool {
	return b.buf()[bucketOccOff+i/8]&(1<<(i%8)) != 0
}

func (b *BucketPage) setOccupied(i uint32) {
	b.buf()[bucketOccOff+i/8] |= 1 << (i % 8)
}

// IsReadable reports whether slot i currently holds a live (non-tombstoned)
// entry.
func (b *BucketPage) IsReadable(i uint32) bool {
	return b.buf()[bucketReadOff+i/8]&(1<<(i%8)) != 0
}

func (b *BucketPage) setReadable(i uint32) {
	b.buf()[bucketReadOff+i/8] |= 1 << (i % 8)
}

func (b *BucketPage) clearReadable(i uint32) {
	b.buf()[bucketReadOff+i/8] &^= 1 << (i % 8)
}

func (b *BucketPage) pairOffset(i uint32) uint32 { return bucketPairsOff + i*pairSize }

// KeyAt returns the key stored at slot i, regardless of occupied/readable.
func (b *BucketPage) KeyAt(i uint32) Key {
	var k Key
	off := b.pairOffset(i)
	copy(k[:], b.buf()[off:off+KeySize])
	return k
}

func (b *BucketPage) setKeyAt(i uint32, k Key) {
	off := b.pairOffset(i)
	copy(b.buf()[off:off+KeySize], k[:])
}

// ValueAt returns the value stored at slot i.
func (b *BucketPage) ValueAt(i uint32) rid.RID {
	off := b.pairOffset(i) + KeySize
	return rid.Unmarshal(b.buf()[off : off+rid.Size])
}

func (b *BucketPage) setValueAt(i uint32, v rid.RID) {
	off := b.pairOffset(i) + KeySize
	v.Marshal(b.buf()[off : off+rid.Size])
}

// GetValue appends every readable slot matching key to result and returns
// whether it found at least one. Probing stops at the first unoccupied slot;
// tombstones (readable cleared, occupied still set) never terminate the
// probe, matching the original's comment that occupied stays monotone.
func (b *BucketPage) GetValue(key Key, result *[]rid.RID) bool {
	found := false
	for i := uint32(0); i < bucketArraySize; i++ {
		if !b.isOccupied(i) {
			break
		}
		if b.IsReadable(i) && b.KeyAt(i) == key {
			*result = append(*result, b.ValueAt(i))
			found = true
		}
	}
	return found
}

// Insert places (key, value) in the first non-occupied slot, rejecting an
// exact (key, value) duplicate already present and readable. Returns false
// if the bucket is full or the pair is a duplicate.
func (b *BucketPage) Insert(key Key, value rid.RID) bool {
	for i := uint32(0); i < bucketArraySize; i++ {
		if b.isOccupied(i) && b.IsReadable(i) && b.KeyAt(i) == key && b.ValueAt(i) == value {
			return false
		}
		if !b.isOccupied(i) {
			b.setKeyAt(i, key)
			b.setValueAt(i, value)
			b.setOccupied(i)
			b.setReadable(i)
			return true
		}
	}
	return false
}

// Remove tombstones the first occupied+readable slot matching (key, value).
// Returns whether a slot was cleared.
func (b *BucketPage) Remove(key Key, value rid.RID) bool {
	for i := uint32(0); i < bucketArraySize; i++ {
		if b.isOccupied(i) && b.IsReadable(i) && b.KeyAt(i) == key && b.ValueAt(i) == value {
			b.clearReadable(i)
			return true
		}
	}
	return false
}

// EmptyAll drains every readable entry into keys/values and clears both
// bitmaps entirely, used to redistribute a bucket's contents during a split.
func (b *BucketPage) EmptyAll() (keys []Key, values []rid.RID) {
	for i := uint32(0); i < bucketArraySize; i++ {
		if !b.isOccupied(i) {
			break
		}
		if b.IsReadable(i) {
			keys = append(keys, b.KeyAt(i))
			values = append(values, b.ValueAt(i))
		}
	}
	for i := range b.buf()[bucketOccOff : bucketOccOff+2*bucketBitmapLen] {
		b.buf()[bucketOccOff+i] = 0
	}
	return keys, values
}

// IsFull reports whether every slot is occupied.
func (b *BucketPage) IsFull() bool {
	for i := uint32(0); i < bucketArraySize; i++ {
		if !b.isOccupied(i) {
			return false
		}
	}
	return true
}

// NumReadable counts live entries.
func (b *BucketPage) NumReadable() uint32 {
	var n uint32
	for i := uint32(0); i < bucketArraySize; i++ {
		if b.IsReadable(i) {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the bucket holds no live entries.
func (b *BucketPage) IsEmpty() bool { return b.NumReadable() == 0 }
