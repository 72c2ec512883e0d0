package s390x

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lirjit/lirjit/internal/ir"
)

func newTestBackend() *S390XBackend {
	return New(logrus.NewEntry(logrus.New()))
}

func TestS390XEnterStashesReturnAddressThenSaveds(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Saveds: 1}))

	flat := b.Context().Buf.Flatten()
	frameSize := alignUp(frameHeader+8*1, 8)
	wantLay := make([]byte, 0, 6)
	hi, lo := lay(sp, sp, -int32(frameSize))
	wantLay = append(wantLay, byte(hi>>24), byte(hi>>16), byte(hi>>8), byte(hi))
	wantLay = append(wantLay, byte(lo>>8), byte(lo))
	require.Equal(t, wantLay, flat[:6])

	hi, lo = stg(r14, sp, 0)
	gotHi := uint32(flat[6])<<24 | uint32(flat[7])<<16 | uint32(flat[8])<<8 | uint32(flat[9])
	gotLo := uint16(flat[10])<<8 | uint16(flat[11])
	require.Equal(t, hi, gotHi)
	require.Equal(t, lo, gotLo)

	p0, _ := physOf(calleeSavedOrder[0])
	hi, lo = stg(p0, sp, 8)
	gotHi = uint32(flat[12])<<24 | uint32(flat[13])<<16 | uint32(flat[14])<<8 | uint32(flat[15])
	gotLo = uint16(flat[16])<<8 | uint16(flat[17])
	require.Equal(t, hi, gotHi)
	require.Equal(t, lo, gotLo)
}

func TestS390XEnterRejectsTooManySaveds(t *testing.T) {
	b := newTestBackend()
	err := b.Enter(ir.ABIProfile{Saveds: len(calleeSavedOrder) + 1})
	require.Error(t, err)
}

func TestS390XFakeEnterEmitsNoBytes(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.FakeEnter(ir.ABIProfile{Saveds: 1}))
	require.Equal(t, int64(0), b.Context().Buf.Len())
	require.True(t, b.Context().ABI.Fake)
}

func TestS390XOpAddRegRegEncoding(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 2}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpAdd, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	flat := b.Context().Buf.Flatten()[before:]
	require.Len(t, flat, 4)
	p0, _ := physOf(ir.R0)
	p1, _ := physOf(ir.R1)
	// dstP == p1 (R0 is both dst and src1), so no lgr is emitted, only agr.
	require.Equal(t, agr(p0, p1), uint32(flat[0])<<24|uint32(flat[1])<<16|uint32(flat[2])<<8|uint32(flat[3]))
}

func TestS390XOpSubEncoding(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 2}))
	before := b.Context().Buf.Len()

	require.NoError(t, b.Op2(ir.OpSub, false, ir.R(ir.R0), ir.R(ir.R0), ir.R(ir.R1)))

	flat := b.Context().Buf.Flatten()[before:]
	p0, _ := physOf(ir.R0)
	p1, _ := physOf(ir.R1)
	require.Equal(t, sgr(p0, p1), uint32(flat[0])<<24|uint32(flat[1])<<16|uint32(flat[2])<<8|uint32(flat[3]))
}

func TestS390XConstAndPatchConstRoundTripPreservesDestRegister(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Enter(ir.ABIProfile{Scratches: 3}))

	_, err := b.Const(ir.R(ir.S0), 1234)
	require.NoError(t, err)

	flat := b.Context().Buf.Flatten()
	offset := int64(b.Context().Consts[0].Addr)
	require.NoError(t, b.PatchConst(flat, offset, 9876))

	dst, _ := physOf(ir.S0)
	require.Equal(t, reg(flat[offset+1]>>4), dst)

	hi, lo := iihf(dst, uint32(9876>>32))
	gotHi := uint32(flat[offset])<<24 | uint32(flat[offset+1])<<16 | uint32(flat[offset+2])<<8 | uint32(flat[offset+3])
	gotLo := uint16(flat[offset+4])<<8 | uint16(flat[offset+5])
	require.Equal(t, hi, gotHi)
	require.Equal(t, lo, gotLo)

	hi, lo = iilf(dst, uint32(9876))
	gotHi = uint32(flat[offset+6])<<24 | uint32(flat[offset+7])<<16 | uint32(flat[offset+8])<<8 | uint32(flat[offset+9])
	gotLo = uint16(flat[offset+10])<<8 | uint16(flat[offset+11])
	require.Equal(t, hi, gotHi)
	require.Equal(t, lo, gotLo)
}

func TestS390XPatchConstRejectsNonIIHFWord(t *testing.T) {
	b := newTestBackend()
	err := b.PatchConst(make([]byte, 16), 0, 1)
	require.Error(t, err)
}

func TestS390XOpsErrorBeforeEnter(t *testing.T) {
	b := newTestBackend()
	_, err := b.Const(ir.R(ir.R0), 1)
	require.Error(t, err)
}
