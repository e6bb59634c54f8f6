package cache

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shadowCache is an optional admission hint: a small count-min sketch that
// remembers how often recently evicted offsets were touched, so that when
// one of them comes back and is re-admitted as a brand new page, its hit
// counter can be seeded above zero instead of starting cold. This mirrors
// the original cache's shadow-page mechanism, which kept a small LRU/CLOCK
// set of evicted-page metadata purely to answer "have I seen this offset
// hit before" without paying for a full page's worth of memory per entry.
//
// It is disabled by default (Config.ShadowEntries == 0); enabling it costs
// a fixed, small amount of memory independent of the main cache's size.
type shadowCache struct {
	mu       sync.Mutex
	counters [depthShadow][]uint8
	mask     uint64
	adds     uint64
	resetAt  uint64
}

const depthShadow = 4

var shadowSeeds = [depthShadow]uint64{
	0x9e3779b97f4a7c15,
	0xbf58476d1ce4e5b9,
	0x94d049bb133111eb,
	0xd6e8feb86659fd93,
}

func newShadowCache(entries int) *shadowCache {
	if entries <= 0 {
		return nil
	}
	width := nextPowerOfTwo(entries)
	sc := &shadowCache{
		mask:    uint64(width - 1),
		resetAt: uint64(width) * 8,
	}
	for i := range sc.counters {
		sc.counters[i] = make([]uint8, width)
	}
	return sc
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (sc *shadowCache) row(row int, offset int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(offset)^shadowSeeds[row])
	return xxhash.Sum64(buf[:]) & sc.mask
}

// Add records one hit on offset, saturating each row's counter at 15.
func (sc *shadowCache) Add(offset int64) {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for i := 0; i < depthShadow; i++ {
		idx := sc.row(i, offset)
		if sc.counters[i][idx] < 15 {
			sc.counters[i][idx]++
		}
	}
	sc.adds++
	if sc.adds >= sc.resetAt {
		sc.halve()
		sc.adds = 0
	}
}

// Estimate returns the minimum counter across all rows for offset, the
// count-min sketch's standard (over-)estimate of how often it's been seen.
func (sc *shadowCache) Estimate(offset int64) uint32 {
	if sc == nil {
		return 0
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	min := uint8(15)
	for i := 0; i < depthShadow; i++ {
		idx := sc.row(i, offset)
		if sc.counters[i][idx] < min {
			min = sc.counters[i][idx]
		}
	}
	return uint32(min)
}

// halve divides every counter by two, keeping recent history weighted more
// heavily than old history without ever fully forgetting. Callers must hold
// sc.mu.
func (sc *shadowCache) halve() {
	for i := range sc.counters {
		for j := range sc.counters[i] {
			sc.counters[i][j] /= 2
		}
	}
}
