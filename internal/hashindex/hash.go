package hashindex

import "github.com/cespare/xxhash/v2"

// hashKey downcasts an xxhash 64-bit digest to 32 bits, replacing the
// original's MurmurHash-then-downcast (Hash() in extendible_hash_table.cpp).
func hashKey(k []byte) uint32 {
	sum := xxhash.Sum64(k)
	return uint32(sum ^ (sum >> 32))
}
