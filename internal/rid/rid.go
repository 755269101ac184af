// Package rid defines the row identifier shared by the hash index and the
// lock manager, generalized from DaemonDB's types.RowPointer (a page number
// plus a slot index) to the (page_id, slot_num) pair bustub's RID uses.
package rid

import (
	"encoding/binary"

	"latchdb/internal/page"
)

// Size is the marshaled byte width of an RID: a 4-byte page id plus a
// 4-byte slot number.
const Size = 8

// RID identifies a row by the page it lives on and its slot within that
// page's slot directory.
type RID struct {
	PageID  page.ID
	SlotNum uint32
}

// Marshal encodes r into buf, which must be at least Size bytes.
func (r RID) Marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(r.PageID)))
	binary.LittleEndian.PutUint32(buf[4:8], r.SlotNum)
}

// Unmarshal decodes an RID from buf, which must be at least Size bytes.
func Unmarshal(buf []byte) RID {
	return RID{
		PageID:  page.ID(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		SlotNum: binary.LittleEndian.Uint32(buf[4:8]),
	}
}
