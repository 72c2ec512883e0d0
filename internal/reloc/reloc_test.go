package reloc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/buffer"
	"github.com/lirjit/lirjit/internal/execmem"
	"github.com/lirjit/lirjit/internal/ir"
)

// fakeAllocator is a minimal in-memory Allocator for exercising Link
// without touching the OS-backed backends in internal/execmem.
type fakeAllocator struct {
	freed []execmem.Block
}

func (a *fakeAllocator) MallocExec(size int) (execmem.Block, error) {
	return execmem.Block{Writable: make([]byte, size)}, nil
}

func (a *fakeAllocator) FreeExec(b execmem.Block) error {
	a.freed = append(a.freed, b)
	return nil
}

func (a *fakeAllocator) Name() string { return "fake" }

type failingAllocator struct{}

func (failingAllocator) MallocExec(size int) (execmem.Block, error) {
	return execmem.Block{}, fmt.Errorf("out of memory")
}
func (failingAllocator) FreeExec(execmem.Block) error { return nil }
func (failingAllocator) Name() string                 { return "failing" }

func TestLinkEmptyProgramRejected(t *testing.T) {
	_, err := Link(buffer.New(), nil, &fakeAllocator{})
	require.Error(t, err)
}

func TestLinkCopiesFlattenedBytesAndRunsFixups(t *testing.T) {
	buf := buffer.New()
	buf.Append([]byte{0xDE, 0xAD, 0xBE, 0xEF})

	var sawBase uintptr
	fix := func(codeBase uintptr, flat []byte) error {
		sawBase = codeBase
		flat[0] = 0x90
		return nil
	}

	a := &fakeAllocator{}
	linked, err := Link(buf, []arch.Fixup{fix}, a)
	require.NoError(t, err)
	require.NotZero(t, sawBase)
	require.Equal(t, sawBase, linked.CodeBase)
	require.Equal(t, []byte{0x90, 0xAD, 0xBE, 0xEF}, linked.Code)
}

func TestLinkFixupErrorFreesBlockAndPropagates(t *testing.T) {
	buf := buffer.New()
	buf.Append([]byte{0x01})

	a := &fakeAllocator{}
	boom := func(codeBase uintptr, flat []byte) error {
		return fmt.Errorf("bad fixup")
	}

	_, err := Link(buf, []arch.Fixup{boom}, a)
	require.Error(t, err)
	require.Len(t, a.freed, 1)
}

func TestLinkPropagatesAllocatorFailure(t *testing.T) {
	buf := buffer.New()
	buf.Append([]byte{0x01})

	_, err := Link(buf, nil, failingAllocator{})
	require.Error(t, err)
}

func TestLinkCodeBaseFallsBackToWritableAddress(t *testing.T) {
	// The fakeAllocator never sets Block.Executable, mirroring the
	// generic/W^X backends; CodeBase must fall back to the address of
	// the writable view rather than staying zero.
	buf := buffer.New()
	buf.Append([]byte{0x01, 0x02})

	linked, err := Link(buf, nil, &fakeAllocator{})
	require.NoError(t, err)
	require.NotZero(t, linked.CodeBase)
}

func TestResolveLabelsAddsCodeBaseToOffset(t *testing.T) {
	labels := []ir.Label{{ID: 1, Size: 0}, {ID: 2, Size: 16}}
	ResolveLabels(labels, 0x1000)
	require.Equal(t, uintptr(0x1000), labels[0].Addr)
	require.Equal(t, uintptr(0x1010), labels[1].Addr)
}

func TestResolveJumpsAddsCodeBaseToOffset(t *testing.T) {
	jumps := []ir.Jump{{ID: 1, Addr: 8}}
	ResolveJumps(jumps, 0x2000)
	require.Equal(t, uintptr(0x2008), jumps[0].Addr)
}

func TestResolveConstsAddsCodeBaseToOffset(t *testing.T) {
	consts := []ir.Const{{ID: 1, Init: 42, Addr: 4}}
	ResolveConsts(consts, 0x3000)
	require.Equal(t, uintptr(0x3004), consts[0].Addr)
}

// TestLinkEndToEndWithGenericAllocator exercises the real
// execmem backend rather than the fake, verifying the whole pipeline
// (flatten, allocate, copy, fixup, resolve) produces bytes at the
// address the fixups and resolvers agreed on.
func TestLinkEndToEndWithGenericAllocator(t *testing.T) {
	alloc, err := execmem.Selected()
	require.NoError(t, err)

	buf := buffer.New()
	buf.Append([]byte{0x00, 0x00, 0x00, 0x00})

	label := []ir.Label{{ID: 0, Size: 0}}
	jump := []ir.Jump{{ID: 0, Addr: 0}}

	fix := func(codeBase uintptr, flat []byte) error {
		// Pretend to patch a self-referential displacement now that
		// codeBase is known.
		flat[0] = byte(codeBase)
		return nil
	}

	linked, err := Link(buf, []arch.Fixup{fix}, alloc)
	require.NoError(t, err)
	defer alloc.FreeExec(linked.Block)

	ResolveLabels(label, linked.CodeBase)
	ResolveJumps(jump, linked.CodeBase)
	require.Equal(t, linked.CodeBase, label[0].Addr)
	require.Equal(t, linked.CodeBase, jump[0].Addr)
}
