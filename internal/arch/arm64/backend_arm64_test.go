package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lirjit/lirjit/internal/ir"
)

func newTestBackend() *ARM64Backend {
	return New(logrus.NewEntry(logrus.New()))
}

func readWord(t *testing.T, b []byte, i int) uint32 {
	t.Helper()
	return binary.LittleEndian.Uint32(b[i*4 : i*4+4])
}

func TestARM64EnterEmitsFramePushThenSaveds(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Saveds: 1, Scratches: 1}))

	flat := b.Context().Buf.Flatten()
	// stp x29, x30, [sp, #-16]! ; mov x29, sp ; stp x19, x30, [sp, #-16]!
	require.GreaterOrEqual(t, len(flat), 12)
	require.Equal(t, uint32(0xA9BF7BFD), readWord(t, flat, 0))
}

func TestARM64EnterRejectsTooManyRegisters(t *testing.T) {
	b := newTestBackend()
	err := b.Enter(ir.ABIProfile{Scratches: ir.NumScratch + 1})
	require.Error(t, err)
}

func TestARM64FakeEnterEmitsNoBytes(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.FakeEnter(ir.ABIProfile{Saveds: 1}))
	require.Equal(t, int64(0), b.Context().Buf.Len())
	require.True(t, b.Context().ABI.Fake)
}

func TestARM64OpAddRegRegEncoding(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 2}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpAdd, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	flat := b.Context().Buf.Flatten()[before:]
	require.Len(t, flat, 4)
	require.Equal(t, addSubReg(false, false, x0, x0, x1), binary.LittleEndian.Uint32(flat))
}

func TestARM64OpSubSetFlagsSelectsSUBS(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 2}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpSub, true, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	word := binary.LittleEndian.Uint32(b.Context().Buf.Flatten()[before:])
	require.Equal(t, addSubReg(true, true, x0, x0, x1), word)
	// setFlags must flip bit 29 relative to the flags-free encoding.
	require.NotEqual(t, addSubReg(true, false, x0, x0, x1), word)
}

func TestARM64ConstAndPatchConstRoundTrip(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 1}))

	_, err := b.Const(ir.R(ir.R0), 1234)
	require.NoError(t, err)

	flat := b.Context().Buf.Flatten()
	offset := int64(b.Context().Consts[0].Addr)
	require.NoError(t, b.PatchConst(flat, offset, 9876))

	// Reconstruct the value from the four patched MOVZ/MOVK immediates.
	var got uint64
	for i := 0; i < 4; i++ {
		w := binary.LittleEndian.Uint32(flat[offset+int64(i*4) : offset+int64(i*4)+4])
		got |= uint64((w>>5)&0xFFFF) << uint(16*i)
	}
	require.Equal(t, uint64(9876), got)
}

func TestARM64PatchConstRejectsOutOfRangeOffset(t *testing.T) {
	b := newTestBackend()
	err := b.PatchConst(make([]byte, 8), 0, 1)
	require.Error(t, err)
}

func TestARM64CmpAlwaysBindsAJump(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Saveds: 2}))
	jumpID, err := b.Cmp(ir.CondSigLess, ir.JumpToLabel, ir.R(ir.S0), ir.R(ir.S1))
	require.NoError(t, err)
	require.Len(t, b.Context().Jumps, 1)
	require.Equal(t, jumpID, b.Context().Jumps[0].ID)
}

func TestARM64OpsErrorBeforeEnter(t *testing.T) {
	b := newTestBackend()
	_, err := b.Const(ir.R(ir.R0), 1)
	require.Error(t, err)
}
