package sparc

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lirjit/lirjit/internal/ir"
)

func newTestBackend() *SPARCBackend {
	return New(logrus.NewEntry(logrus.New()))
}

func readWord(t *testing.T, flat []byte, off int64) uint32 {
	t.Helper()
	return read32(flat, off)
}

func TestSPARCEnterBumpsStackThenStoresSaveds(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Saveds: 1}))

	flat := b.Context().Buf.Flatten()
	frameSize := alignUp(minFrame+8*1, 16)
	require.Equal(t, arithImm(opSUB, sp, sp, int32(frameSize)), readWord(t, flat, 0))

	p0, _ := physOf(calleeSavedOrder[0])
	require.Equal(t, stx(p0, sp, int32(minFrame)), readWord(t, flat, 4))
}

func TestSPARCEnterRejectsTooManySaveds(t *testing.T) {
	b := newTestBackend()
	err := b.Enter(ir.ABIProfile{Saveds: len(calleeSavedOrder) + 1})
	require.Error(t, err)
}

func TestSPARCFakeEnterEmitsNoBytes(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.FakeEnter(ir.ABIProfile{Saveds: 1}))
	require.Equal(t, int64(0), b.Context().Buf.Len())
	require.True(t, b.Context().ABI.Fake)
}

func TestSPARCOpAddRegRegEncoding(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 2}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpAdd, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	flat := b.Context().Buf.Flatten()[before:]
	require.Len(t, flat, 4)
	p0, _ := physOf(ir.R0)
	p1, _ := physOf(ir.R1)
	require.Equal(t, arith(opADD, p0, p0, p1), readWord(t, flat, 0))
}

func TestSPARCOpSubPreservesOperandOrder(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 2}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpSub, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	flat := b.Context().Buf.Flatten()[before:]
	p0, _ := physOf(ir.R0)
	p1, _ := physOf(ir.R1)
	require.Equal(t, arith(opSUB, p0, p0, p1), readWord(t, flat, 0))
}

func TestSPARCConstAndPatchConstRoundTripPreservesDestRegister(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 3}))

	_, err := b.Const(ir.R(ir.S0), 1234)
	require.NoError(t, err)

	flat := b.Context().Buf.Flatten()
	offset := int64(b.Context().Consts[0].Addr)
	require.NoError(t, b.PatchConst(flat, offset, 9876))

	dst, _ := physOf(ir.S0)
	lmWord := readWord(t, flat, offset+12)
	loWord := readWord(t, flat, offset+16)
	require.Equal(t, uint32(dst&0x1F), (lmWord>>25)&0x1F)
	require.Equal(t, uint32(dst&0x1F), (loWord>>25)&0x1F)

	lm22 := uint32(9876>>10) & 0x3FFFFF
	lo10 := uint32(9876) & 0x3FF
	require.Equal(t, sethi(dst, lm22), lmWord)
	require.Equal(t, orImm(dst, dst, int32(lo10)), loWord)
}

func TestSPARCPatchConstRejectsNonSethiWord(t *testing.T) {
	b := newTestBackend()
	err := b.PatchConst(make([]byte, 24), 0, 1)
	require.Error(t, err)
}

func TestSPARCOpsErrorBeforeEnter(t *testing.T) {
	b := newTestBackend()
	_, err := b.Const(ir.R(ir.R0), 1)
	require.Error(t, err)
}
