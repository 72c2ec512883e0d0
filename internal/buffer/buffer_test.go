package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndFlatten(t *testing.T) {
	f := New()
	off1 := f.Append([]byte{1, 2, 3, 4})
	off2 := f.Append([]byte{5, 6})
	require.Equal(t, int64(0), off1)
	require.Equal(t, int64(4), off2)
	require.Equal(t, int64(6), f.Len())
	require.True(t, bytes.Equal(f.Flatten(), []byte{1, 2, 3, 4, 5, 6}))
}

func TestEnsureCrossesChunkBoundary(t *testing.T) {
	f := New()
	// Fill the first chunk to exactly its capacity, then append one
	// more byte, which must roll over into a new chunk without
	// corrupting the already-written bytes.
	f.Append(make([]byte, chunkSize))
	off := f.Append([]byte{0xAB})
	require.Equal(t, int64(chunkSize), off)
	require.Equal(t, int64(chunkSize+1), f.Len())
	require.Len(t, f.chunks, 2)
	flat := f.Flatten()
	require.Equal(t, byte(0xAB), flat[chunkSize])
}

func TestEnsureOversizedRequest(t *testing.T) {
	f := New()
	f.Append([]byte{1})
	big := make([]byte, chunkSize*2)
	for i := range big {
		big[i] = byte(i)
	}
	off := f.Append(big)
	require.Equal(t, int64(1), off)
	flat := f.Flatten()
	require.Equal(t, 1+len(big), len(flat))
	require.True(t, bytes.Equal(flat[1:], big))
}

func TestNewSizedRoundsUpToChunkMultiple(t *testing.T) {
	f := NewSized(chunkSize + 1)
	require.Len(t, f.chunks, 1)
	require.Equal(t, chunkSize*2, len(f.chunks[0]))

	small := NewSized(16)
	require.Equal(t, chunkSize, len(small.chunks[0]))
}

func TestByteAtLocatesAppendedByte(t *testing.T) {
	f := New()
	f.Append([]byte{0, 0, 0})
	off := f.Append([]byte{0x42})
	p := f.ByteAt(off)
	require.NotNil(t, p)
	require.Equal(t, byte(0x42), *p)
}

func TestReverseIsNoOp(t *testing.T) {
	f := New()
	f.Append([]byte{1, 2, 3})
	before := append([]byte(nil), f.Flatten()...)
	f.Reverse()
	require.Equal(t, before, f.Flatten())
}
