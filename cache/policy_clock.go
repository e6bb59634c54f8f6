package cache

// clockPolicy is the classic second-chance clock: a slot with a nonzero hit
// count gets its count cleared and is given one more lap before it is
// eligible again. It favors evicting clean pages over dirty ones as long as
// it can still make progress without starving.
type clockPolicy struct {
	head int
}

func newClockPolicy() *clockPolicy { return &clockPolicy{} }

func (c *clockPolicy) Name() string { return "clock" }

func (c *clockPolicy) Evict(buf *slotSet) int {
	n := buf.size()
	numReferenced, numDirty := 0, 0
	avoidDirty := true
	for {
		idx := c.head % n
		if numDirty+numReferenced >= n {
			numDirty, numReferenced = 0, 0
			avoidDirty = false
		}
		pg := buf.get(idx)
		if pg.Pinned() {
			numReferenced++
			c.head++
			if numReferenced >= n {
				return -1
			}
			continue
		}
		if avoidDirty && pg.IsDirty() {
			numDirty++
			c.head++
			continue
		}
		if pg.Hits() == 0 {
			pg.ResetHits()
			return idx
		}
		pg.ResetHits()
		c.head++
	}
}

func (c *clockPolicy) SignalExpand(victim *Page) bool { return signalExpandOnHits(victim) }

func (c *clockPolicy) OnAccess(buf *slotSet, idx int) bool {
	return buf.get(idx).IncHits()
}
