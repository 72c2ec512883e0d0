package arm

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lirjit/lirjit/internal/ir"
)

func newTestBackend() *ARMBackend {
	return New(logrus.NewEntry(logrus.New()))
}

func TestARMEnterRejectsTooManySaveds(t *testing.T) {
	b := newTestBackend()
	err := b.Enter(ir.ABIProfile{Saveds: len(calleeSavedOrder) + 1})
	require.Error(t, err)
}

func TestARMEnterPushesLRAndRequestedSaveds(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Saveds: 2}))

	flat := b.Context().Buf.Flatten()
	require.GreaterOrEqual(t, len(flat), 4)
	word := binary.LittleEndian.Uint32(flat[:4])
	mask := uint16(1 << lr)
	p0, _ := physOf(calleeSavedOrder[0])
	p1, _ := physOf(calleeSavedOrder[1])
	mask |= 1 << p0
	mask |= 1 << p1
	require.Equal(t, pushRegs(mask), word)
}

func TestARMFakeEnterEmitsNoBytes(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.FakeEnter(ir.ABIProfile{Saveds: 1}))
	require.Equal(t, int64(0), b.Context().Buf.Len())
}

func TestARMOpAddRegRegEncoding(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 3}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpAdd, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	flat := b.Context().Buf.Flatten()[before:]
	require.Len(t, flat, 4)
	require.Equal(t, dpReg(condAL, opADD, false, r0, r0, r1), binary.LittleEndian.Uint32(flat))
}

func TestARMOpAddSmallImmediateUsesDataProcImm(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 3}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpAdd, true, ir.R(ir.R0), ir.R(ir.R0), ir.Imm(7)))

	flat := b.Context().Buf.Flatten()[before:]
	require.Equal(t, dpImm(condAL, opADD, true, r0, r0, 7), binary.LittleEndian.Uint32(flat))
}

func TestARMConstAndPatchConstRoundTrip(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 1}))

	_, err := b.Const(ir.R(ir.R0), 1234)
	require.NoError(t, err)

	flat := b.Context().Buf.Flatten()
	offset := int64(b.Context().Consts[0].Addr)
	require.NoError(t, b.PatchConst(flat, offset, 9876))

	got := decodeMaterializedImm(t, flat, offset)
	require.Equal(t, uint32(9876), got)
}

// decodeMaterializedImm mirrors patchStubImm's own dispatch on which of
// the two immediate-materialization shapes (MOVW/MOVT pair, or the
// ARMv5 PC-relative literal) this build's movImm emitted.
func decodeMaterializedImm(t *testing.T, flat []byte, wordOffset int64) uint32 {
	t.Helper()
	first := binary.LittleEndian.Uint32(flat[wordOffset : wordOffset+4])
	if first&0xFFF00000 == condAL<<28|0x30<<20 {
		lo := uint16(first&0xFFF) | uint16(first>>16&0xF)<<12
		second := binary.LittleEndian.Uint32(flat[wordOffset+4 : wordOffset+8])
		hi := uint16(second&0xFFF) | uint16(second>>16&0xF)<<12
		return uint32(hi)<<16 | uint32(lo)
	}
	return binary.LittleEndian.Uint32(flat[wordOffset+8 : wordOffset+12])
}

func TestARMPatchConstRejectsUnrecognizedShape(t *testing.T) {
	b := newTestBackend()
	err := b.PatchConst(make([]byte, 16), 0, 1)
	require.Error(t, err)
}

func TestARMOpsErrorBeforeEnter(t *testing.T) {
	b := newTestBackend()
	_, err := b.Const(ir.R(ir.R0), 1)
	require.Error(t, err)
}
