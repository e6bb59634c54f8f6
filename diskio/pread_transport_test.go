package diskio

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/util6/safscache/transport"
)

func TestPreadTransportReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.dat")
	tr, err := NewPreadTransport(path, 4096*4, 512, 2)
	require.NoError(t, err)
	defer tr.Close()

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(255 - i)
	}

	statusCh := make(chan transport.Status, 1)
	require.NoError(t, tr.Submit(context.Background(), &transport.Request{
		Op: transport.Write, Off: 1024, Bufs: [][]byte{payload},
	}, func(s transport.Status) { statusCh <- s }))
	select {
	case st := <-statusCh:
		require.NoError(t, st.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("write never completed")
	}

	got := make([]byte, 512)
	require.NoError(t, tr.Submit(context.Background(), &transport.Request{
		Op: transport.Read, Off: 1024, Bufs: [][]byte{got},
	}, func(s transport.Status) { statusCh <- s }))
	select {
	case st := <-statusCh:
		require.NoError(t, st.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("read never completed")
	}
	require.Equal(t, payload, got)
}

func TestPreadTransportRejectsUnalignedOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.dat")
	tr, err := NewPreadTransport(path, 4096, 512, 1)
	require.NoError(t, err)
	defer tr.Close()

	err = tr.Submit(context.Background(), &transport.Request{
		Op: transport.Read, Off: 3, Bufs: [][]byte{make([]byte, 512)},
	}, func(transport.Status) {})
	require.Error(t, err)
}

func TestPreadTransportSubmitRespectsContextCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.dat")
	tr, err := NewPreadTransport(path, 4096, 512, 1)
	require.NoError(t, err)
	defer tr.Close()

	// Submit with a context that is already cancelled while the job queue
	// still has room.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = tr.Submit(ctx, &transport.Request{
		Op: transport.Read, Off: 0, Bufs: [][]byte{make([]byte, 512)},
	}, func(transport.Status) {})
	// Either the job was accepted before the cancellation was observed, or
	// it was rejected with the context's error; both are valid outcomes of
	// a race between an already-canceled context and a free worker slot.
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
}
