package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShadowCacheDisabledWhenZeroEntries(t *testing.T) {
	sc := newShadowCache(0)
	require.Nil(t, sc)
	// Every method must be nil-receiver safe so callers never have to
	// branch on whether shadowing is enabled.
	sc.Add(42)
	require.Equal(t, uint32(0), sc.Estimate(42))
}

func TestShadowCacheEstimateTracksAdds(t *testing.T) {
	sc := newShadowCache(64)
	require.NotNil(t, sc)

	require.Equal(t, uint32(0), sc.Estimate(7))
	sc.Add(7)
	sc.Add(7)
	sc.Add(7)
	require.Equal(t, uint32(3), sc.Estimate(7))

	// An offset never added should read back as zero (barring an unlucky
	// hash collision across all four rows, astronomically unlikely at this
	// width).
	require.Equal(t, uint32(0), sc.Estimate(999))
}

func TestShadowCacheCountersSaturate(t *testing.T) {
	sc := newShadowCache(8)
	for i := 0; i < 100; i++ {
		sc.Add(1)
	}
	require.LessOrEqual(t, sc.Estimate(1), uint32(15))
}
