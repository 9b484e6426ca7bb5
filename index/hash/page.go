// Package hash implements an extendible hash table index over the
// buffer pool: a fixed header page fanning out to directory pages,
// which fan out to bucket pages, following the three-level design
// spec.md §4.7 describes. The on-disk layout continues the
// length-prefixed, direct-byte-slice codec style established in
// index/bplustree/page.go, itself grounded on
// storage_engine/access/indexfile_manager/bplustree/node_to_index_page.go.
package hash

import (
	"encoding/binary"
	"fmt"

	"latchdb/page"
)

const (
	keySlotLen = 2 + KeyMaxLen
	ridSlotLen = 12

	hdrOffType  = 0
	hdrOffDepth = 1 // header: max depth (bits); directory: global depth; bucket: unused
	hdrOffMax   = 5 // header: unused; directory: max depth; bucket: max size
	hdrOffSize  = 9 // bucket only: current size
	hdrLen      = 16

	headerOffDirIDs = hdrLen
	dirOffLocal     = hdrLen
)

// KeyMaxLen bounds a single key's serialized length, matching
// index/bplustree's key trait boundary.
const KeyMaxLen = 32

// RID mirrors bplustree.RID: a table-heap page id and slot index.
type RID struct {
	PageID page.ID
	Slot   uint32
}

func (r RID) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.PageID))
	binary.LittleEndian.PutUint32(buf[8:12], r.Slot)
}

func decodeRID(buf []byte) RID {
	return RID{
		PageID: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Slot:   binary.LittleEndian.Uint32(buf[8:12]),
	}
}

func getType(buf *[page.Size]byte) page.Type { return page.Type(buf[hdrOffType]) }
func setType(buf *[page.Size]byte, t page.Type) { buf[hdrOffType] = byte(t) }

// --- header page: header_max_depth + a 2^header_max_depth array of
// directory page ids, indexed by the top header_max_depth bits of the
// hash (spec.md §4.7 "three-level fan-out"). ---------------------------

func initHeaderPage(buf *[page.Size]byte, maxDepth int) {
	setType(buf, page.TypeHashHeader)
	setHeaderMaxDepth(buf, maxDepth)
	n := 1 << uint(maxDepth)
	for i := 0; i < n; i++ {
		setDirPageID(buf, i, page.InvalidID)
	}
}

func getHeaderMaxDepth(buf *[page.Size]byte) int {
	return int(buf[hdrOffDepth])
}

func setHeaderMaxDepth(buf *[page.Size]byte, d int) {
	buf[hdrOffDepth] = byte(d)
}

// headerIndex returns the top maxDepth bits of hash as an index into
// the directory-page-id array.
func headerIndex(hash uint64, maxDepth int) int {
	if maxDepth == 0 {
		return 0
	}
	return int(hash >> uint(64-maxDepth))
}

func dirPageIDOffset(idx int) int {
	return headerOffDirIDs + idx*8
}

func getDirPageID(buf *[page.Size]byte, idx int) page.ID {
	off := dirPageIDOffset(idx)
	return int64(binary.LittleEndian.Uint64(buf[off:]))
}

func setDirPageID(buf *[page.Size]byte, idx int, id page.ID) {
	off := dirPageIDOffset(idx)
	binary.LittleEndian.PutUint64(buf[off:], uint64(id))
}

// HeaderCapacity estimates the default header max depth: the largest d
// such that 2^d directory-page-id slots fit in one page.
func HeaderCapacity() int {
	avail := page.Size - hdrLen
	d := 0
	for (1 << uint(d+1) * 8) <= avail {
		d++
	}
	return d
}

// --- directory page: global depth, max depth, and parallel
// local-depth / bucket-page-id arrays sized 2^max_depth, indexed by
// the bottom global_depth bits of the hash. ----------------------------

func initDirectoryPage(buf *[page.Size]byte, maxDepth int) {
	setType(buf, page.TypeHashDirectory)
	setGlobalDepth(buf, 0)
	setDirMaxDepth(buf, maxDepth)
	n := 1 << uint(maxDepth)
	for i := 0; i < n; i++ {
		setLocalDepth(buf, i, 0)
		setBucketPageID(buf, maxDepth, i, page.InvalidID)
	}
}

func getGlobalDepth(buf *[page.Size]byte) int { return int(buf[hdrOffDepth]) }
func setGlobalDepth(buf *[page.Size]byte, d int) { buf[hdrOffDepth] = byte(d) }

func getDirMaxDepth(buf *[page.Size]byte) int {
	return int(binary.LittleEndian.Uint32(buf[hdrOffMax:]))
}
func setDirMaxDepth(buf *[page.Size]byte, d int) {
	binary.LittleEndian.PutUint32(buf[hdrOffMax:], uint32(d))
}

func localDepthOffset(idx int) int { return dirOffLocal + idx }

func getLocalDepth(buf *[page.Size]byte, idx int) int {
	return int(buf[localDepthOffset(idx)])
}
func setLocalDepth(buf *[page.Size]byte, idx, d int) {
	buf[localDepthOffset(idx)] = byte(d)
}

func bucketIDArrayOffset(maxDepth int) int {
	return dirOffLocal + (1 << uint(maxDepth))
}

func bucketPageIDOffset(maxDepth, idx int) int {
	return bucketIDArrayOffset(maxDepth) + idx*8
}

func getBucketPageID(buf *[page.Size]byte, maxDepth, idx int) page.ID {
	off := bucketPageIDOffset(maxDepth, idx)
	return int64(binary.LittleEndian.Uint64(buf[off:]))
}

func setBucketPageID(buf *[page.Size]byte, maxDepth, idx int, id page.ID) {
	off := bucketPageIDOffset(maxDepth, idx)
	binary.LittleEndian.PutUint64(buf[off:], uint64(id))
}

// directoryIndex returns the bottom globalDepth bits of hash.
func directoryIndex(hash uint64, globalDepth int) int {
	if globalDepth == 0 {
		return 0
	}
	return int(hash & ((1 << uint(globalDepth)) - 1))
}

// DirectoryCapacity estimates the default directory max depth: the
// largest d such that 2^d (local-depth byte + bucket-id 8 bytes) slots
// fit in one page.
func DirectoryCapacity() int {
	avail := page.Size - hdrLen
	d := 0
	for (1<<uint(d+1))*(1+8) <= avail {
		d++
	}
	return d
}

// --- bucket page: max size, current size, parallel key/value arrays. --

func initBucketPage(buf *[page.Size]byte, maxSize int) {
	setType(buf, page.TypeHashBucket)
	setBucketMax(buf, maxSize)
	setBucketSize(buf, 0)
}

func getBucketMax(buf *[page.Size]byte) int {
	return int(binary.LittleEndian.Uint32(buf[hdrOffMax:]))
}
func setBucketMax(buf *[page.Size]byte, n int) {
	binary.LittleEndian.PutUint32(buf[hdrOffMax:], uint32(n))
}
func getBucketSize(buf *[page.Size]byte) int {
	return int(binary.LittleEndian.Uint32(buf[hdrOffSize:]))
}
func setBucketSize(buf *[page.Size]byte, n int) {
	binary.LittleEndian.PutUint32(buf[hdrOffSize:], uint32(n))
}

func bucketKeyOffset(idx int) int { return hdrLen + idx*keySlotLen }

func bucketKey(buf *[page.Size]byte, idx int) []byte {
	off := bucketKeyOffset(idx)
	n := int(binary.LittleEndian.Uint16(buf[off:]))
	key := make([]byte, n)
	copy(key, buf[off+2:off+2+n])
	return key
}

func setBucketKey(buf *[page.Size]byte, idx int, key []byte) error {
	if len(key) > KeyMaxLen {
		return fmt.Errorf("hash: key length %d exceeds max %d", len(key), KeyMaxLen)
	}
	off := bucketKeyOffset(idx)
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(key)))
	copy(buf[off+2:], key)
	return nil
}

func bucketValOffset(maxSize, idx int) int {
	return hdrLen + maxSize*keySlotLen + idx*ridSlotLen
}

func bucketValue(buf *[page.Size]byte, maxSize, idx int) RID {
	off := bucketValOffset(maxSize, idx)
	return decodeRID(buf[off : off+ridSlotLen])
}

func setBucketValue(buf *[page.Size]byte, maxSize, idx int, rid RID) {
	off := bucketValOffset(maxSize, idx)
	rid.encode(buf[off : off+ridSlotLen])
}

// BucketCapacity estimates the default bucket max size analogous to
// bplustree.PageCapacity.
func BucketCapacity() int {
	return (page.Size - hdrLen) / (keySlotLen + ridSlotLen)
}
