package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSlots(n, pageSize int) *slotSet {
	pages := make([]*Page, n)
	for i := range pages {
		pages[i] = newPage(pageSize)
		pages[i].setOffset(int64(i))
		pages[i].SetReady()
	}
	return &slotSet{pages: pages}
}

func TestLRUPolicyEvictsLeastRecentlyUsed(t *testing.T) {
	p := newLRUPolicy(3)
	s := newTestSlots(3, 8)

	// Fill order: 0, 1, 2.
	require.Equal(t, 0, p.Evict(s))
	require.Equal(t, 1, p.Evict(s))
	require.Equal(t, 2, p.Evict(s))

	// Touch slot 0, making 1 the new least-recently-used.
	p.OnAccess(s, 0)
	require.Equal(t, 1, p.Evict(s))
}

func TestLRUPolicySkipsPinnedSlots(t *testing.T) {
	p := newLRUPolicy(2)
	s := newTestSlots(2, 8)
	p.Evict(s)
	p.Evict(s)

	s.get(0).Pin()
	victim := p.Evict(s)
	require.Equal(t, 1, victim)
	s.get(0).Unpin()
}

func TestLFUPolicyPrefersFewestHits(t *testing.T) {
	p := newLFUPolicy()
	s := newTestSlots(3, 8)
	s.get(0).IncHits()
	s.get(0).IncHits()
	s.get(1).IncHits()

	victim := p.Evict(s)
	require.Equal(t, 2, victim) // slot 2 has zero hits
}

func TestLFUPolicyLeavesVictimHitsForSignalExpand(t *testing.T) {
	p := newLFUPolicy()
	s := newTestSlots(1, 8)
	s.get(0).IncHits()
	victim := p.Evict(s)
	require.Equal(t, 0, victim)
	// Evict must not clear the victim's hits itself: FindOrAdmit relies on
	// seeing the pre-eviction count to decide SignalExpand, and clears hits
	// afterward (Page.reset / an explicit ResetHits for the OldDirty path).
	require.Equal(t, uint32(1), s.get(0).Hits())
	require.True(t, p.SignalExpand(s.get(0)))
}

func TestFIFOPolicyIgnoresAccessOrder(t *testing.T) {
	p := newFIFOPolicy(3)
	s := newTestSlots(3, 8)

	first := p.Evict(s)
	require.Equal(t, 0, first)
	// Touching slot 0 heavily must not change FIFO's rotation.
	p.OnAccess(s, 0)
	p.OnAccess(s, 0)
	second := p.Evict(s)
	require.Equal(t, 1, second)
}

func TestClockPolicyGivesSecondChanceToHitPages(t *testing.T) {
	p := newClockPolicy()
	s := newTestSlots(2, 8)
	s.get(0).IncHits()

	// Slot 0 has a nonzero hit count so it survives the first pass (its
	// count gets cleared instead); slot 1 has zero hits and is picked.
	victim := p.Evict(s)
	require.Equal(t, 1, victim)
	require.Equal(t, uint32(0), s.get(0).Hits())
}

func TestClockPolicyReturnsMinusOneWhenAllPinned(t *testing.T) {
	p := newClockPolicy()
	s := newTestSlots(2, 8)
	s.get(0).Pin()
	s.get(1).Pin()
	require.Equal(t, -1, p.Evict(s))
	s.get(0).Unpin()
	s.get(1).Unpin()
}

func TestGClockPolicyPicksZeroHitSlotOnFirstPass(t *testing.T) {
	p := newGClockPolicy()
	s := newTestSlots(2, 8)
	s.get(0).IncHits()
	s.get(0).IncHits()
	// The clock hand visits slot 0 first (decaying it by one) before
	// reaching slot 1, which already has zero hits and is picked.
	victim := p.Evict(s)
	require.Equal(t, 1, victim)
	require.Equal(t, uint32(1), s.get(0).Hits())
}

func TestGClockPolicyDecaysByOnePerPassRatherThanResetting(t *testing.T) {
	p := newGClockPolicy()
	s := newTestSlots(1, 8)
	s.get(0).IncHits()
	s.get(0).IncHits()
	s.get(0).IncHits() // hits == 3, requires three decay passes to reach zero

	require.Equal(t, 0, p.Evict(s))
	require.Equal(t, uint32(0), s.get(0).Hits())
}

func TestGClockPolicyReturnsMinusOneWhenAllPinned(t *testing.T) {
	p := newGClockPolicy()
	s := newTestSlots(2, 8)
	s.get(0).Pin()
	s.get(1).Pin()
	require.Equal(t, -1, p.Evict(s))
	s.get(0).Unpin()
	s.get(1).Unpin()
}
