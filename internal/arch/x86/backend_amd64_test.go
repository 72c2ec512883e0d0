package x86

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lirjit/lirjit/internal/ir"
)

func newTestBackend() *AMD64Backend {
	return New(logrus.NewEntry(logrus.New()))
}

func TestAMD64EnterPushesRequestedSavedsInOrder(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Saveds: 2, Scratches: 1}))

	flat := b.Context().Buf.Flatten()
	// push rbx (s0); 0x53.
	require.Equal(t, byte(0x53), flat[0])
	// push r12 (s1); REX.B + 0x54.
	require.Equal(t, byte(0x41), flat[1])
	require.Equal(t, byte(0x54), flat[2])
}

func TestAMD64EnterRejectsTooManyRegisters(t *testing.T) {
	b := newTestBackend()
	err := b.Enter(ir.ABIProfile{Saveds: ir.NumSaved + 1})
	require.Error(t, err)
	require.ErrorIs(t, b.Context().Err, err)
}

func TestAMD64FakeEnterEmitsNoBytes(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.FakeEnter(ir.ABIProfile{Saveds: 2}))
	require.Equal(t, int64(0), b.Context().Buf.Len())
	require.True(t, b.Context().ABI.Fake)
}

func TestAMD64ReturnEmitsRetByte(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{}))
	require.NoError(t, b.Return(ir.Operand{}, false))

	flat := b.Context().Buf.Flatten()
	require.Equal(t, byte(0xC3), flat[len(flat)-1])
}

func TestAMD64OpAddRegRegEncoding(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 3}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpAdd, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	flat := b.Context().Buf.Flatten()
	add := flat[before:]
	// movInto(rax, rax) is a no-op (dst==src1), leaving just
	// "add rax, rcx": REX.W + 0x01 /r.
	require.Equal(t, []byte{0x48, 0x01, 0xC8}, add)
}

func TestAMD64ConstAndPatchConstRoundTrip(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 1}))

	id, err := b.Const(ir.R(ir.R0), 1234)
	require.NoError(t, err)
	require.Equal(t, 0, id)

	flat := b.Context().Buf.Flatten()
	offset := int64(b.Context().Consts[0].Addr)
	require.Equal(t, int64(1234), int64(binary.LittleEndian.Uint64(flat[offset+2:offset+10])))

	require.NoError(t, b.PatchConst(flat, offset, 9876))
	require.Equal(t, int64(9876), int64(binary.LittleEndian.Uint64(flat[offset+2:offset+10])))
}

func TestAMD64PatchConstRejectsOutOfRangeOffset(t *testing.T) {
	b := newTestBackend()
	err := b.PatchConst(make([]byte, 4), 0, 1)
	require.Error(t, err)
}

func TestAMD64UnknownPredicateHasNoConditionCode(t *testing.T) {
	_, err := ccOf(ir.Predicate(250))
	require.Error(t, err)
}

func TestAMD64OpsErrorBeforeEnter(t *testing.T) {
	b := newTestBackend()
	err := b.Op2(ir.OpAdd, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1))
	require.Error(t, err)
	// The failed op must not have emitted anything.
	require.Equal(t, int64(0), b.Context().Buf.Len())
}
