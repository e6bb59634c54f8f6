package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PageSize = 512
	cfg.InitialBuckets = 4
	cfg.CellSize = 2
	cfg.MaxBytes = 1 << 20
	cfg.AccessRetryBackoff = time.Millisecond
	return cfg
}

func TestCacheReadWriteRoundTrip(t *testing.T) {
	tr := newMemTransport(64*1024, 512)
	c, err := New(testConfig(), tr)
	require.NoError(t, err)
	defer c.Close()

	want := bytes.Repeat([]byte("A"), 512)
	require.NoError(t, c.WriteAt(context.Background(), 512, want))

	got := make([]byte, 512)
	require.NoError(t, c.ReadAt(context.Background(), 512, got))
	require.Equal(t, want, got)
}

func TestCacheSubPageWritePreservesRestOfPage(t *testing.T) {
	tr := newMemTransport(64*1024, 512)
	// Seed the backing store with a known pattern before the cache ever
	// touches it, so a sub-page write's read-modify-write path has
	// something real to preserve.
	for i := range tr.data[:512] {
		tr.data[i] = 0xAB
	}

	c, err := New(testConfig(), tr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteAt(context.Background(), 10, []byte("hello")))

	got := make([]byte, 512)
	require.NoError(t, c.ReadAt(context.Background(), 0, got))
	require.Equal(t, byte(0xAB), got[0])
	require.Equal(t, []byte("hello"), got[10:15])
	require.Equal(t, byte(0xAB), got[15])
}

func TestCacheMultiPageReadCoalescesIntoOneSubmit(t *testing.T) {
	tr := newMemTransport(64*1024, 512)
	c, err := New(testConfig(), tr)
	require.NoError(t, err)
	defer c.Close()

	buf := make([]byte, 512*3)
	require.NoError(t, c.ReadAt(context.Background(), 0, buf))
	// Three brand-new, contiguous pages should merge into a single
	// transport.Request rather than three.
	require.Equal(t, 1, tr.submitCount())
}

func TestCacheRepeatedReadIsAHitNotASecondSubmit(t *testing.T) {
	tr := newMemTransport(64*1024, 512)
	c, err := New(testConfig(), tr)
	require.NoError(t, err)
	defer c.Close()

	buf := make([]byte, 512)
	require.NoError(t, c.ReadAt(context.Background(), 0, buf))
	before := tr.submitCount()
	require.NoError(t, c.ReadAt(context.Background(), 0, buf))
	require.Equal(t, before, tr.submitCount())
}

func TestCacheMalformedRequestRejected(t *testing.T) {
	tr := newMemTransport(4096, 512)
	c, err := New(testConfig(), tr)
	require.NoError(t, err)
	defer c.Close()

	err = c.Access(context.Background(), &AccessRequest{Offset: -1, Buf: []byte{1}})
	require.ErrorIs(t, err, ErrMalformedRequest)

	err = c.Access(context.Background(), &AccessRequest{Offset: 0, Buf: nil})
	require.ErrorIs(t, err, ErrMalformedRequest)
}

func TestCacheClosedRejectsFurtherAccess(t *testing.T) {
	tr := newMemTransport(4096, 512)
	c, err := New(testConfig(), tr)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	err = c.ReadAt(context.Background(), 0, make([]byte, 512))
	require.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	require.NoError(t, c.Close())
}

func TestCacheFlushWritesDirtyPagesBack(t *testing.T) {
	tr := newMemTransport(64*1024, 512)
	cfg := testConfig()
	cfg.DirtyPagesThreshold = 1000 // high enough that noteDirty never auto-queues
	c, err := New(cfg, tr)
	require.NoError(t, err)
	defer c.Close()

	payload := bytes.Repeat([]byte("z"), 512)
	require.NoError(t, c.WriteAt(context.Background(), 1024, payload))
	require.NoError(t, c.Flush(context.Background()))

	require.Equal(t, payload, tr.snapshot()[1024:1536])

	stats := c.Stats()
	require.Equal(t, int64(0), stats["dirty_pages"])
}

func TestCachePageSizeMustBeMultipleOfBlockSize(t *testing.T) {
	tr := newMemTransport(4096, 500) // not a divisor of the default 4096 page size
	cfg := DefaultConfig()
	cfg.MaxBytes = 1 << 20
	_, err := New(cfg, tr)
	require.Error(t, err)
}

func TestCacheStatsReportsInitialBucketCount(t *testing.T) {
	tr := newMemTransport(1<<20, 512)
	cfg := testConfig()
	c, err := New(cfg, tr)
	require.NoError(t, err)
	defer c.Close()

	stats := c.Stats()
	require.Equal(t, int64(cfg.InitialBuckets), stats["buckets"])
}
