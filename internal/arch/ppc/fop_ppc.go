package ppc

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// freg is a PowerPC FPU register number. fregMap restricts float
// operands to F0-F5, mirroring the same small-window compromise the
// arm and arm64 backends make for their float register files.
type freg uint8

var fregMap = map[ir.FReg]freg{
	ir.F0: 0, ir.F1: 1, ir.F2: 2, ir.F3: 3, ir.F4: 4, ir.F5: 5,
}

const scratchF = freg(6)

func fregPhys(o ir.Operand) (freg, error) {
	if o.Kind != ir.KindFReg {
		return 0, fmt.Errorf("lirjit: expected a float register operand")
	}
	p, ok := fregMap[o.FReg]
	if !ok {
		return 0, fmt.Errorf("lirjit: float register %s is not mapped on ppc", o.FReg)
	}
	return p, nil
}

// aForm encodes the FPU's A-form double-precision instructions
// (FADD/FSUB/FMUL/FDIV/FABS/FNEG/FMR): opcode 63, frt/fra/frb/frc
// fields, extended opcode in bits 26-30.
func aForm(frt, fra, frb, frc freg, xo uint32) uint32 {
	return 63<<26 | uint32(frt&0x1F)<<21 | uint32(fra&0x1F)<<16 | uint32(frb&0x1F)<<11 | uint32(frc&0x1F)<<6 | xo<<1
}

func fadd(dst, a, b freg) uint32 { return aForm(dst, a, b, 0, 21) }
func fsub(dst, a, b freg) uint32 { return aForm(dst, a, b, 0, 20) }
func fmul(dst, a, c freg) uint32 { return aForm(dst, a, 0, c, 25) } // frb unused, frc carries the 2nd operand
func fdiv(dst, a, b freg) uint32 { return aForm(dst, a, b, 0, 18) }
func fabsOp(dst, b freg) uint32   { return aForm(dst, 0, b, 0, 264) }
func fneg(dst, b freg) uint32    { return aForm(dst, 0, b, 0, 40) }
func fmr(dst, b freg) uint32     { return aForm(dst, 0, b, 0, 72) }

// fcmpu compares doubles and sets the chosen CR field (always cr0
// here, the field condTable's BI values index; an unordered result
// sets cr0's SO bit).
func fcmpu(crf uint32, a, b freg) uint32 {
	return 63<<26 | (crf&0x7)<<23 | uint32(a&0x1F)<<16 | uint32(b&0x1F)<<11
}

func lfd(frt freg, ra reg, disp int16) uint32 {
	return 50<<26 | uint32(frt&0x1F)<<21 | uint32(ra&0x1F)<<16 | uint32(uint16(disp))
}

func stfd(frt freg, ra reg, disp int16) uint32 {
	return 54<<26 | uint32(frt&0x1F)<<21 | uint32(ra&0x1F)<<16 | uint32(uint16(disp))
}

func (b *PPCBackend) fmovInto(e *enc, dst freg, src ir.Operand) error {
	if src.IsMem() {
		base, ok := physOf(src.Mem.Base)
		if !ok {
			return fmt.Errorf("lirjit: bad base register in memory operand")
		}
		if src.Mem.Disp < -32768 || src.Mem.Disp > 32767 {
			return fmt.Errorf("lirjit: displacement %d out of lfd range", src.Mem.Disp)
		}
		e.word(lfd(dst, base, int16(src.Mem.Disp)))
		return nil
	}
	srcF, err := fregPhys(src)
	if err != nil {
		return err
	}
	if srcF == dst {
		return nil
	}
	e.word(fmr(dst, srcF))
	return nil
}

func (b *PPCBackend) fstoreFrom(e *enc, dstMem ir.Mem, src freg) error {
	base, ok := physOf(dstMem.Base)
	if !ok {
		return fmt.Errorf("lirjit: bad base register in memory operand")
	}
	if dstMem.Disp < -32768 || dstMem.Disp > 32767 {
		return fmt.Errorf("lirjit: displacement %d out of stfd range", dstMem.Disp)
	}
	e.word(stfd(src, base, int16(dstMem.Disp)))
	return nil
}

func (b *PPCBackend) FOp1(op ir.FOp1, dst, src ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	switch op {
	case ir.OpFMov:
		if dst.IsMem() {
			srcF, err := fregPhys(src)
			if err != nil {
				return b.ctx.Fail(err)
			}
			if err := b.fstoreFrom(&e, dst.Mem, srcF); err != nil {
				return b.ctx.Fail(err)
			}
		} else {
			dstF, err := fregPhys(dst)
			if err != nil {
				return b.ctx.Fail(err)
			}
			if err := b.fmovInto(&e, dstF, src); err != nil {
				return b.ctx.Fail(err)
			}
		}
	case ir.OpFAbs:
		dstF, err := fregPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcF, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(fabsOp(dstF, srcF))
	case ir.OpFNeg:
		dstF, err := fregPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcF, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(fneg(dstF, srcF))
	case ir.OpFCmp:
		srcF1, err := fregPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcF2, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(fcmpu(0, srcF1, srcF2))
		b.pendingFP = true
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop1 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *PPCBackend) FOp2(op ir.FOp2, dst, src1, src2 ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	dstF, err := fregPhys(dst)
	if err != nil {
		return b.ctx.Fail(err)
	}
	n, err := fregPhys(src1)
	if err != nil {
		return b.ctx.Fail(err)
	}
	m := scratchF
	if src2.IsMem() {
		if err := b.fmovInto(&e, scratchF, src2); err != nil {
			return b.ctx.Fail(err)
		}
	} else {
		m, err = fregPhys(src2)
		if err != nil {
			return b.ctx.Fail(err)
		}
	}
	var w uint32
	switch op {
	case ir.OpFAdd:
		w = fadd(dstF, n, m)
	case ir.OpFSub:
		w = fsub(dstF, n, m)
	case ir.OpFMul:
		w = fmul(dstF, n, m)
	case ir.OpFDiv:
		w = fdiv(dstF, n, m)
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop2 %d", op))
	}
	e.word(w)
	b.ctx.Buf.Append(e.b)
	return nil
}
