package cache

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// directory is the two-level linear-hashing table mapping a page-aligned
// offset to the Bucket responsible for it. Growth happens one bucket at a
// time: expand() takes the bucket currently pointed to by the split cursor,
// creates its sibling at index split+size, and moves every page that now
// hashes to the sibling across. This spreads the cost of growing the table
// over many small steps instead of one large stop-the-world rehash.
//
// groups holds fixed-size slices of *Bucket, mirroring the C original's
// array-of-arrays cells_table: growing the directory appends a new group
// rather than reallocating and copying everything addressed so far.
type directory struct {
	mu sync.RWMutex

	groups     [][]*Bucket
	initCells  int
	cellSize   int
	pageSize   int
	policyName string
	expandable bool
	mem        *MemoryManager

	level int64
	split int64
	total atomic.Int64

	expanding atomic.Bool
}

func newDirectory(initCells, cellSize, pageSize int, policyName string, expandable bool, mem *MemoryManager) (*directory, error) {
	if initCells <= 0 || cellSize <= 0 {
		return nil, errors.New("cache: initCells and cellSize must be positive")
	}
	d := &directory{
		initCells:  initCells,
		cellSize:   cellSize,
		pageSize:   pageSize,
		policyName: policyName,
		expandable: expandable,
		mem:        mem,
	}
	group, err := d.newGroup()
	if err != nil {
		return nil, err
	}
	d.groups = append(d.groups, group)
	d.total.Add(int64(initCells))
	return d, nil
}

// groupBytes is the memory footprint of one full group of buckets, reserved
// against the owning MemoryManager (if any) before the group is allocated.
func (d *directory) groupBytes() int64 {
	return int64(d.initCells) * int64(d.cellSize) * int64(d.pageSize)
}

func (d *directory) newGroup() ([]*Bucket, error) {
	if d.mem != nil && !d.mem.Reserve(d.groupBytes()) {
		return nil, ErrOutOfMemory
	}
	group := make([]*Bucket, d.initCells)
	for i := range group {
		b, err := newBucket(0, d.cellSize, d.pageSize, d.policyName)
		if err != nil {
			if d.mem != nil {
				d.mem.Release(d.groupBytes())
			}
			return nil, err
		}
		group[i] = b
	}
	return group, nil
}

// getCell returns the bucket at absolute index idx, allocating any missing
// groups along the way. Growing the groups slice requires the write lock;
// reading an existing bucket only needs the read lock.
func (d *directory) getCell(idx int64) (*Bucket, error) {
	groupIdx := int(idx / int64(d.initCells))
	within := int(idx % int64(d.initCells))

	d.mu.RLock()
	if groupIdx < len(d.groups) {
		b := d.groups[groupIdx][within]
		d.mu.RUnlock()
		b.index = idx
		return b, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	for groupIdx >= len(d.groups) {
		group, err := d.newGroup()
		if err != nil {
			return nil, err
		}
		d.groups = append(d.groups, group)
		d.total.Add(int64(d.initCells))
	}
	b := d.groups[groupIdx][within]
	b.index = idx
	return b, nil
}

// cellForOffset applies the standard linear-hashing rule: hash into the
// current-level table, and if that lands below the split cursor, the page
// has already been redistributed into the next level, so rehash there
// instead.
func (d *directory) cellForOffset(offset int64) (*Bucket, error) {
	d.mu.RLock()
	level := d.level
	split := d.split
	initCells := int64(d.initCells)
	d.mu.RUnlock()

	pageID := offset / int64(d.pageSize)
	size := initCells << uint(level)
	idx := pageID % size
	if idx < split {
		idx = pageID % (size << 1)
	}
	return d.getCell(idx)
}

// size returns initCells * 2^level, the width of the current hashing round.
func (d *directory) size() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(d.initCells) << uint(d.level)
}

// expand performs one linear-hashing split step: it moves pages out of the
// bucket at the current split cursor into a freshly allocated sibling, then
// advances the cursor (bumping the level and resetting the cursor to zero
// once a full round completes).
//
// Only one expansion runs at a time; a concurrent caller's expand() loses
// the CAS and returns ErrExpansionInProgress immediately rather than
// blocking or retrying. This means a bucket that signaled overflow is not
// guaranteed to be the one split by any single expand() call — the split
// cursor advances round-robin through the table — but repeated overflow
// signals converge on every bucket eventually getting its turn, which keeps
// the growth step itself bounded and non-blocking.
func (d *directory) expand() error {
	if !d.expandable {
		return nil
	}
	if !d.expanding.CompareAndSwap(false, true) {
		return ErrExpansionInProgress
	}
	defer d.expanding.Store(false)

	// Fairness gate: a cache already holding at least its share of a memory
	// budget shared with other caches does not get to grow further just
	// because one of its buckets overflowed. It waits for the next round of
	// overflow signals once its siblings have released some memory back.
	if d.mem != nil {
		footprint := d.numBuckets() * int64(d.cellSize) * int64(d.pageSize)
		if footprint >= d.mem.AverageSize() {
			return nil
		}
	}

	d.mu.RLock()
	split := d.split
	size := int64(d.initCells) << uint(d.level)
	d.mu.RUnlock()

	oldCell, err := d.getCell(split)
	if err != nil {
		return err
	}
	newCell, err := d.getCell(split + size)
	if err != nil {
		return err
	}

	d.rehash(oldCell, newCell, size)

	d.mu.Lock()
	d.split++
	if d.split == size {
		d.level++
		d.split = 0
	}
	d.mu.Unlock()
	return nil
}

// rehash moves every page in oldCell whose new-round hash lands on newCell's
// index across to it. Pages that are pinned are left behind and get a hits
// reset, matching a concurrent access winning the race against expansion.
//
// Both bucket locks are held for the duration, always in ascending index
// order (oldCell.index < newCell.index by construction, since newCell sits
// a full round ahead of oldCell), so this can never deadlock against another
// expand() call, which is excluded by directory.expanding anyway, or against
// a plain lookup, which only ever takes one bucket lock at a time.
func (d *directory) rehash(oldCell, newCell *Bucket, size int64) {
	oldCell.Lock()
	newCell.Lock()
	defer newCell.Unlock()
	defer oldCell.Unlock()

	d.mu.RLock()
	newLevel := d.level
	d.mu.RUnlock()
	newSize := int64(d.initCells) << uint(newLevel+1)
	for i, pg := range oldCell.slots {
		if pg.stateOf() == pageEmpty {
			continue
		}
		pageID := pg.Offset() / int64(d.pageSize)
		targetIdx := pageID % newSize
		if targetIdx == oldCell.index {
			pg.ResetHits()
			continue
		}
		if pg.Pinned() {
			pg.ResetHits()
			continue
		}
		// The page now belongs to newCell. Swap slot pointers rather than
		// copying the Page struct, since Page embeds a sync.Mutex.
		oldCell.slots[i], newCell.slots[i] = newCell.slots[i], oldCell.slots[i]
	}
	oldCell.overflow = false
}

func (d *directory) numBuckets() int64 {
	return d.total.Load()
}

func (d *directory) prevBucket(b *Bucket) (*Bucket, error) {
	if b.index == 0 {
		return nil, nil
	}
	return d.getCell(b.index - 1)
}

func (d *directory) nextBucket(b *Bucket, upperBound int64) (*Bucket, error) {
	if b.index+1 >= upperBound {
		return nil, nil
	}
	return d.getCell(b.index + 1)
}
