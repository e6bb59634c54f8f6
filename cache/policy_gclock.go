package cache

// gclockPolicy is the generalized clock: instead of clearing a slot's hit
// count to zero on each pass, it decays it by one. A hot slot that has been
// accessed many times survives many more sweeps than a slot touched only
// once, which gives GCLOCK a rough LFU-like memory that plain CLOCK lacks.
type gclockPolicy struct {
	head int
}

func newGClockPolicy() *gclockPolicy { return &gclockPolicy{} }

func (g *gclockPolicy) Name() string { return "gclock" }

func (g *gclockPolicy) Evict(buf *slotSet) int {
	n := buf.size()
	numReferenced, numDirty := 0, 0
	avoidDirty := true
	for {
		idx := g.head % n
		if numDirty+numReferenced >= n {
			numDirty, numReferenced = 0, 0
			avoidDirty = false
		}
		pg := buf.get(idx)
		if pg.Pinned() {
			numReferenced++
			g.head++
			if numReferenced >= n {
				return -1
			}
			continue
		}
		if avoidDirty && pg.IsDirty() {
			numDirty++
			g.head++
			continue
		}
		if pg.Hits() == 0 {
			return idx
		}
		pg.decHits()
		g.head++
	}
}

func (g *gclockPolicy) SignalExpand(victim *Page) bool { return signalExpandOnHits(victim) }

func (g *gclockPolicy) OnAccess(buf *slotSet, idx int) bool {
	return buf.get(idx).IncHits()
}
