package hash

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"latchdb/buffer"
	"latchdb/page"
)

// ErrDuplicateKey mirrors bplustree.ErrDuplicateKey for the hash index.
var ErrDuplicateKey = errors.New("hash: duplicate key")

// ErrDirectoryFull is returned when a bucket needs to split but the
// directory has already reached its configured max depth — the
// physical directory page has no more room to double into (spec.md
// §4.7 "directory/bucket splitting").
var ErrDirectoryFull = errors.New("hash: directory at max depth")

// Config fixes the header/directory fan-out and bucket capacity.
// Zero values derive defaults from page.Size, mirroring
// bplustree.Config.
type Config struct {
	HeaderMaxDepth int
	DirMaxDepth    int
	BucketMaxSize  int
}

// Table is an extendible hash table index over the buffer pool:
// header page -> directory page -> bucket pages (spec.md §4.7).
// Structural mutations (splits, merges, directory growth/shrink) are
// serialized through mu; this is a coarser grain than the B+Tree's
// latch-crabbing, justified in DESIGN.md (index/hash) because the directory
// page is rewritten wholesale on every split/merge rather than
// incrementally, unlike a B+Tree's localized splits.
type Table struct {
	pool           *buffer.Pool
	headerID       page.ID
	headerMaxDepth int
	dirMaxDepth    int
	bucketMax      int
	mu             sync.Mutex
}

// New builds a Table rooted at headerID, initializing it if the page
// has never been used.
func New(pool *buffer.Pool, headerID page.ID, cfg Config) (*Table, error) {
	headerMaxDepth := cfg.HeaderMaxDepth
	if headerMaxDepth == 0 {
		headerMaxDepth = HeaderCapacity()
	}
	dirMaxDepth := cfg.DirMaxDepth
	if dirMaxDepth == 0 {
		dirMaxDepth = DirectoryCapacity()
	}
	bucketMax := cfg.BucketMaxSize
	if bucketMax == 0 {
		bucketMax = BucketCapacity()
	}

	tbl := &Table{pool: pool, headerID: headerID, headerMaxDepth: headerMaxDepth, dirMaxDepth: dirMaxDepth, bucketMax: bucketMax}

	g, err := pool.FetchWrite(headerID)
	if err != nil {
		return nil, fmt.Errorf("hash: new: %w", err)
	}
	if getType(g.Data()) != page.TypeHashHeader {
		initHeaderPage(g.Data(), headerMaxDepth)
	}
	g.Drop()
	return tbl, nil
}

func hashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// GetValue looks up key, descending header -> directory -> bucket
// under reader latches.
func (t *Table) GetValue(key []byte) (RID, bool, error) {
	h := hashKey(key)

	hg, err := t.pool.FetchRead(t.headerID)
	if err != nil {
		return RID{}, false, err
	}
	dirID := getDirPageID(hg.Data(), headerIndex(h, t.headerMaxDepth))
	hg.Drop()
	if dirID == page.InvalidID {
		return RID{}, false, nil
	}

	dg, err := t.pool.FetchRead(dirID)
	if err != nil {
		return RID{}, false, err
	}
	bucketID := getBucketPageID(dg.Data(), t.dirMaxDepth, directoryIndex(h, getGlobalDepth(dg.Data())))
	dg.Drop()
	if bucketID == page.InvalidID {
		return RID{}, false, nil
	}

	bg, err := t.pool.FetchRead(bucketID)
	if err != nil {
		return RID{}, false, err
	}
	defer bg.Drop()
	idx, found := t.bucketFind(bg.Data(), key)
	if !found {
		return RID{}, false, nil
	}
	return bucketValue(bg.Data(), t.bucketMax, idx), true, nil
}

func (t *Table) bucketFind(buf *[page.Size]byte, key []byte) (int, bool) {
	size := getBucketSize(buf)
	for i := 0; i < size; i++ {
		if bytes.Equal(bucketKey(buf, i), key) {
			return i, true
		}
	}
	return -1, false
}

// Insert adds key/value, splitting buckets (and doubling the
// directory's active depth when necessary) until the key fits.
func (t *Table) Insert(key []byte, value RID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := hashKey(key)

	hg, err := t.pool.FetchWrite(t.headerID)
	if err != nil {
		return false, err
	}
	defer hg.Drop()
	hIdx := headerIndex(h, t.headerMaxDepth)
	dirID := getDirPageID(hg.Data(), hIdx)
	if dirID == page.InvalidID {
		dirID, err = t.pool.NewPage()
		if err != nil {
			return false, err
		}
		dg, err := t.pool.FetchWrite(dirID)
		if err != nil {
			return false, err
		}
		initDirectoryPage(dg.Data(), t.dirMaxDepth)
		bucketID, err := t.pool.NewPage()
		if err != nil {
			dg.Drop()
			return false, err
		}
		bg, err := t.pool.FetchWrite(bucketID)
		if err != nil {
			dg.Drop()
			return false, err
		}
		initBucketPage(bg.Data(), t.bucketMax)
		bg.Drop()
		setBucketPageID(dg.Data(), t.dirMaxDepth, 0, bucketID)
		dg.Drop()
		setDirPageID(hg.Data(), hIdx, dirID)
	}

	for {
		dg, err := t.pool.FetchWrite(dirID)
		if err != nil {
			return false, err
		}
		dIdx := directoryIndex(h, getGlobalDepth(dg.Data()))
		bucketID := getBucketPageID(dg.Data(), t.dirMaxDepth, dIdx)

		bg, err := t.pool.FetchWrite(bucketID)
		if err != nil {
			dg.Drop()
			return false, err
		}

		if _, found := t.bucketFind(bg.Data(), key); found {
			bg.Drop()
			dg.Drop()
			return false, fmt.Errorf("hash: insert: %w", ErrDuplicateKey)
		}

		size := getBucketSize(bg.Data())
		if size < t.bucketMax {
			if err := setBucketKey(bg.Data(), size, key); err != nil {
				bg.Drop()
				dg.Drop()
				return false, err
			}
			setBucketValue(bg.Data(), t.bucketMax, size, value)
			setBucketSize(bg.Data(), size+1)
			bg.Drop()
			dg.Drop()
			return true, nil
		}

		// Bucket full: split and retry.
		if err := t.splitBucket(dg, dIdx, bucketID, bg); err != nil {
			bg.Drop()
			dg.Drop()
			return false, err
		}
		bg.Drop()
		dg.Drop()
	}
}

// splitBucket grows the directory's active depth if the bucket's
// local depth has caught up to it, then redistributes the bucket's
// entries between it and a freshly allocated sibling according to the
// updated directory pointers (spec.md §4.7 "split-image rehashing").
func (t *Table) splitBucket(dg *buffer.WriteGuard, dIdx int, bucketID page.ID, bg *buffer.WriteGuard) error {
	dbuf := dg.Data()
	ld := getLocalDepth(dbuf, dIdx)
	gd := getGlobalDepth(dbuf)

	if ld == gd {
		if gd >= t.dirMaxDepth {
			return ErrDirectoryFull
		}
		half := 1 << uint(gd)
		for i := 0; i < half; i++ {
			setLocalDepth(dbuf, i+half, getLocalDepth(dbuf, i))
			setBucketPageID(dbuf, t.dirMaxDepth, i+half, getBucketPageID(dbuf, t.dirMaxDepth, i))
		}
		gd++
		setGlobalDepth(dbuf, gd)
	}

	newLD := ld + 1
	newBucketID, err := t.pool.NewPage()
	if err != nil {
		return err
	}
	ng, err := t.pool.FetchWrite(newBucketID)
	if err != nil {
		return err
	}
	initBucketPage(ng.Data(), t.bucketMax)

	n := 1 << uint(gd)
	for i := 0; i < n; i++ {
		if getBucketPageID(dbuf, t.dirMaxDepth, i) == bucketID {
			setLocalDepth(dbuf, i, newLD)
			if i&(1<<uint(newLD-1)) != 0 {
				setBucketPageID(dbuf, t.dirMaxDepth, i, newBucketID)
			}
		}
	}

	oldBuf := bg.Data()
	size := getBucketSize(oldBuf)
	keys := make([][]byte, size)
	vals := make([]RID, size)
	for i := 0; i < size; i++ {
		keys[i] = bucketKey(oldBuf, i)
		vals[i] = bucketValue(oldBuf, t.bucketMax, i)
	}
	setBucketSize(oldBuf, 0)

	for i := 0; i < size; i++ {
		h := hashKey(keys[i])
		target := getBucketPageID(dbuf, t.dirMaxDepth, directoryIndex(h, gd))
		var dst *[page.Size]byte
		if target == newBucketID {
			dst = ng.Data()
		} else {
			dst = oldBuf
		}
		sz := getBucketSize(dst)
		if err := setBucketKey(dst, sz, keys[i]); err != nil {
			ng.Drop()
			return err
		}
		setBucketValue(dst, t.bucketMax, sz, vals[i])
		setBucketSize(dst, sz+1)
	}
	ng.Drop()
	return nil
}

// Remove deletes key if present, merging the emptied bucket with its
// split-image sibling when possible and shrinking the directory's
// active depth when every bucket no longer needs it (spec.md §4.7
// "merge-on-removal with global-depth shrink").
func (t *Table) Remove(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := hashKey(key)

	hg, err := t.pool.FetchRead(t.headerID)
	if err != nil {
		return err
	}
	dirID := getDirPageID(hg.Data(), headerIndex(h, t.headerMaxDepth))
	hg.Drop()
	if dirID == page.InvalidID {
		return nil
	}

	dg, err := t.pool.FetchWrite(dirID)
	if err != nil {
		return err
	}
	defer dg.Drop()
	dIdx := directoryIndex(h, getGlobalDepth(dg.Data()))
	bucketID := getBucketPageID(dg.Data(), t.dirMaxDepth, dIdx)
	if bucketID == page.InvalidID {
		return nil
	}

	bg, err := t.pool.FetchWrite(bucketID)
	if err != nil {
		return err
	}
	idx, found := t.bucketFind(bg.Data(), key)
	if !found {
		bg.Drop()
		return nil
	}
	size := getBucketSize(bg.Data())
	for i := idx; i < size-1; i++ {
		_ = setBucketKey(bg.Data(), i, bucketKey(bg.Data(), i+1))
		setBucketValue(bg.Data(), t.bucketMax, i, bucketValue(bg.Data(), t.bucketMax, i+1))
	}
	setBucketSize(bg.Data(), size-1)
	empty := size-1 == 0
	bg.Drop()

	if empty {
		return t.mergeIfEmpty(dg.Data(), dIdx, bucketID)
	}
	return nil
}

func (t *Table) mergeIfEmpty(dbuf *[page.Size]byte, idx int, bucketID page.ID) error {
	ld := getLocalDepth(dbuf, idx)
	if ld == 0 {
		return nil
	}
	imageIdx := idx ^ (1 << uint(ld-1))
	if getLocalDepth(dbuf, imageIdx) != ld {
		return nil // sibling has split further; can't merge yet
	}
	imageBucketID := getBucketPageID(dbuf, t.dirMaxDepth, imageIdx)
	if imageBucketID == bucketID {
		return nil
	}

	gd := getGlobalDepth(dbuf)
	newLD := ld - 1
	n := 1 << uint(gd)
	for i := 0; i < n; i++ {
		id := getBucketPageID(dbuf, t.dirMaxDepth, i)
		if id == bucketID || id == imageBucketID {
			setBucketPageID(dbuf, t.dirMaxDepth, i, imageBucketID)
			setLocalDepth(dbuf, i, newLD)
		}
	}
	if err := t.pool.DeletePage(bucketID); err != nil {
		return err
	}

	for gd > 0 {
		half := 1 << uint(gd-1)
		canShrink := true
		for i := 0; i < half; i++ {
			if getLocalDepth(dbuf, i) == gd {
				canShrink = false
				break
			}
		}
		if !canShrink {
			break
		}
		gd--
		setGlobalDepth(dbuf, gd)
	}
	return nil
}
