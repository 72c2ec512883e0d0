package ppc

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lirjit/lirjit/internal/ir"
)

func newTestBackend() *PPCBackend {
	return New(logrus.NewEntry(logrus.New()))
}

func readWord(t *testing.T, flat []byte, off int64) uint32 {
	t.Helper()
	return read32(flat, off)
}

func TestPPCEnterEmitsLinkSaveThenStackFrame(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Saveds: 1}))

	flat := b.Context().Buf.Flatten()
	require.Equal(t, mflr(r0), readWord(t, flat, 0))
	require.Equal(t, std(r0, r1, 16), readWord(t, flat, 4))

	frameSize := alignUp(frameHeader+8*1, 16)
	require.Equal(t, stdu(r1, r1, -int16(frameSize)), readWord(t, flat, 8))

	p0, _ := physOf(calleeSavedOrder[0])
	require.Equal(t, std(p0, r1, int16(frameHeader)), readWord(t, flat, 12))
}

func TestPPCEnterRejectsTooManySaveds(t *testing.T) {
	b := newTestBackend()
	err := b.Enter(ir.ABIProfile{Saveds: len(calleeSavedOrder) + 1})
	require.Error(t, err)
}

func TestPPCFakeEnterEmitsNoBytes(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.FakeEnter(ir.ABIProfile{Saveds: 1}))
	require.Equal(t, int64(0), b.Context().Buf.Len())
	require.True(t, b.Context().ABI.Fake)
}

func TestPPCOpAddRegRegEncoding(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 2}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpAdd, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	flat := b.Context().Buf.Flatten()[before:]
	require.Len(t, flat, 4)
	p0, _ := physOf(ir.R0)
	p1, _ := physOf(ir.R1)
	require.Equal(t, add(p0, p0, p1), readWord(t, flat, 0))
}

func TestPPCOpSubComputesFirstMinusSecond(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 2}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpSub, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	flat := b.Context().Buf.Flatten()[before:]
	p0, _ := physOf(ir.R0)
	p1, _ := physOf(ir.R1)
	// subf computes rb - ra, so p1 - p0 must be swapped to land on p0 - p1.
	require.Equal(t, subf(p0, p1, p0), readWord(t, flat, 0))
}

func TestPPCConstAndPatchConstRoundTripPreservesDestRegister(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 3}))

	// S0 is neither tmp0 nor tmp1, exercising patchStubImm's register
	// readback rather than an accidental match.
	_, err := b.Const(ir.R(ir.S0), 1234)
	require.NoError(t, err)

	flat := b.Context().Buf.Flatten()
	offset := int64(b.Context().Consts[0].Addr)
	require.NoError(t, b.PatchConst(flat, offset, 9876))

	dst, _ := physOf(ir.S0)
	// 9876 fits entirely in the low 16 bits, so lis/ori/oris each carry
	// a zero immediate and only the final ori's imm16 holds the value.
	require.Equal(t, uint16(0), uint16(readWord(t, flat, offset)))
	require.Equal(t, uint16(0), uint16(readWord(t, flat, offset+4)))
	require.Equal(t, uint16(0), uint16(readWord(t, flat, offset+12)))
	require.Equal(t, uint16(9876), uint16(readWord(t, flat, offset+16)))

	// Every rewritten instruction must still target dst, not tmp0.
	for _, w := range []uint32{
		readWord(t, flat, offset),
		readWord(t, flat, offset+4),
		readWord(t, flat, offset+12),
		readWord(t, flat, offset+16),
	} {
		require.Equal(t, uint32(dst&0x1F), (w>>21)&0x1F)
	}
}

func TestPPCPatchConstRejectsNonLisWord(t *testing.T) {
	b := newTestBackend()
	err := b.PatchConst(make([]byte, 20), 0, 1)
	require.Error(t, err)
}

func TestPPCOpsErrorBeforeEnter(t *testing.T) {
	b := newTestBackend()
	_, err := b.Const(ir.R(ir.R0), 1)
	require.Error(t, err)
}
