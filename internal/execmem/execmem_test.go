package execmem

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenericAllocatorRoundTrip(t *testing.T) {
	a, err := newGenericAllocator()
	require.NoError(t, err)

	b, err := a.MallocExec(4)
	require.NoError(t, err)
	copy(b.Writable, []byte{1, 2, 3, 4})
	require.Equal(t, []byte{1, 2, 3, 4}, []byte(b.Writable[:4]))

	require.NoError(t, a.FreeExec(b))
}

func TestGenericAllocatorBestFitReuse(t *testing.T) {
	ga, err := newGenericAllocator()
	require.NoError(t, err)
	a := ga.(*genericAllocator)

	first, err := a.MallocExec(64)
	require.NoError(t, err)
	require.NoError(t, a.FreeExec(first))

	// A second allocation of the same size should reuse the freed
	// span from the same chunk rather than mapping a new one.
	second, err := a.MallocExec(64)
	require.NoError(t, err)
	require.Len(t, a.chunks, 1)
	require.NoError(t, a.FreeExec(second))
}

func TestGenericAllocatorFreeUnknownBlock(t *testing.T) {
	a, err := newGenericAllocator()
	require.NoError(t, err)
	err = a.FreeExec(Block{Writable: make([]byte, 4)})
	require.Error(t, err)
}

func TestGenericAllocatorRejectsNonPositiveSize(t *testing.T) {
	a, err := newGenericAllocator()
	require.NoError(t, err)
	_, err = a.MallocExec(0)
	require.Error(t, err)
}

func TestSelectedRespectsAllocatorEnvOverride(t *testing.T) {
	prev := os.Getenv("LIRJIT_ALLOCATOR")
	defer os.Setenv("LIRJIT_ALLOCATOR", prev)

	require.NoError(t, os.Setenv("LIRJIT_ALLOCATOR", "generic"))
	ResetForTest()
	a, err := Selected()
	require.NoError(t, err)
	require.Equal(t, "generic", a.Name())
}

func TestBlockExecOffsetZeroWhenSameMapping(t *testing.T) {
	b := Block{Writable: make([]byte, 8)}
	require.Equal(t, int64(0), b.ExecOffset())
}

func TestDualMappedAllocatorExecOffset(t *testing.T) {
	a, err := newDualMappedAllocator()
	if err != nil {
		t.Skipf("dual-mapped allocator unavailable: %v", err)
	}
	b, err := a.MallocExec(16)
	require.NoError(t, err)
	defer a.FreeExec(b)
	require.NotEqual(t, int64(0), b.ExecOffset())
}
