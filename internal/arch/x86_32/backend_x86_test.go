package x86_32

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lirjit/lirjit/internal/ir"
)

func newTestBackend() *X86Backend {
	return New(logrus.NewEntry(logrus.New()))
}

func TestX86EnterEmitsPushEbpMovThenSaveds(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Saveds: 1}))

	flat := b.Context().Buf.Flatten()
	require.Equal(t, byte(0x55), flat[0])             // push ebp
	require.Equal(t, []byte{0x89, 0xE5}, flat[1:3])   // mov ebp, esp
	require.Equal(t, byte(0x50+byte(edi&7)), flat[3]) // push edi (s0)
}

func TestX86EnterRejectsTooManySaveds(t *testing.T) {
	b := newTestBackend()
	err := b.Enter(ir.ABIProfile{Saveds: len(calleeSavedOrder) + 1})
	require.Error(t, err)
}

func TestX86OpAddRegRegEncoding(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpAdd, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	flat := b.Context().Buf.Flatten()[before:]
	// add eax, ebx: opcode 0x01 /r, ModRM.reg=ebx(src2), rm=eax(dst).
	require.Equal(t, []byte{0x01, modrmReg(ebx, eax)}, flat)
}

func TestX86ShiftByImmediateEncoding(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpShl, false, ir.R(ir.R0), ir.R(ir.R0), ir.Imm(3)))

	flat := b.Context().Buf.Flatten()[before:]
	require.Equal(t, []byte{0xC1, modrmReg(4, eax), 3}, flat)
}

func TestX86ConstAndPatchConstRoundTrip(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{}))

	_, err := b.Const(ir.R(ir.R0), 1234)
	require.NoError(t, err)

	flat := b.Context().Buf.Flatten()
	offset := int64(b.Context().Consts[0].Addr)
	require.Equal(t, uint32(1234), binary.LittleEndian.Uint32(flat[offset+1:offset+5]))

	require.NoError(t, b.PatchConst(flat, offset, 9876))
	require.Equal(t, uint32(9876), binary.LittleEndian.Uint32(flat[offset+1:offset+5]))
}

func TestX86PatchConstRejectsOutOfRangeOffset(t *testing.T) {
	b := newTestBackend()
	err := b.PatchConst(make([]byte, 2), 0, 1)
	require.Error(t, err)
}

func TestX86OpsErrorBeforeEnter(t *testing.T) {
	b := newTestBackend()
	_, err := b.Const(ir.R(ir.R0), 1)
	require.Error(t, err)
}
