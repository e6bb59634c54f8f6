package diskio

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/util6/safscache/transport"
)

func TestMmapTransportReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.dat")
	tr, err := NewMmapTransport(path, 4096*4, 512)
	require.NoError(t, err)
	defer tr.Close()

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}

	statusCh := make(chan transport.Status, 1)
	require.NoError(t, tr.Submit(context.Background(), &transport.Request{
		Op: transport.Write, Off: 512, Bufs: [][]byte{payload},
	}, func(s transport.Status) { statusCh <- s }))
	st := <-statusCh
	require.NoError(t, st.Err)

	got := make([]byte, 512)
	require.NoError(t, tr.Submit(context.Background(), &transport.Request{
		Op: transport.Read, Off: 512, Bufs: [][]byte{got},
	}, func(s transport.Status) { statusCh <- s }))
	st = <-statusCh
	require.NoError(t, st.Err)
	require.Equal(t, payload, got)
}

func TestMmapTransportRejectsUnalignedOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.dat")
	tr, err := NewMmapTransport(path, 4096, 512)
	require.NoError(t, err)
	defer tr.Close()

	err = tr.Submit(context.Background(), &transport.Request{
		Op: transport.Read, Off: 10, Bufs: [][]byte{make([]byte, 512)},
	}, func(transport.Status) {})
	require.Error(t, err)
}

func TestMmapTransportBlockSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.dat")
	tr, err := NewMmapTransport(path, 4096, 256)
	require.NoError(t, err)
	defer tr.Close()
	require.Equal(t, 256, tr.BlockSize())
}
