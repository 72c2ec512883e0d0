package arm

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// dreg is a VFP double-precision register number. fregMap restricts
// float operands to D0-D5 so every Vd/Vn/Vm field fits in the plain
// 4-bit register slot with its extension bit (D/N/M) always zero,
// the same simplification the arm64 backend makes by staying within
// d0-d5: it avoids threading the single extra bit VFP needs for
// registers D8 and above through every encoder helper.
type dreg uint8

var fregMap = map[ir.FReg]dreg{
	ir.F0: 0, ir.F1: 1, ir.F2: 2, ir.F3: 3, ir.F4: 4, ir.F5: 5,
}

const scratchD = dreg(6)

func fregPhys(o ir.Operand) (dreg, error) {
	if o.Kind != ir.KindFReg {
		return 0, fmt.Errorf("lirjit: expected a float register operand")
	}
	p, ok := fregMap[o.FReg]
	if !ok {
		return 0, fmt.Errorf("lirjit: float register %s is not mapped on arm", o.FReg)
	}
	return p, nil
}

func vldrStr(isLoad bool, dd dreg, base reg, disp int64) (uint32, error) {
	if disp%4 != 0 || disp < -1020 || disp > 1020 {
		return 0, fmt.Errorf("lirjit: vfp displacement %d out of range", disp)
	}
	u := uint32(1)
	d := disp
	if disp < 0 {
		u = 0
		d = -disp
	}
	op := uint32(0x0D000B00) | u<<23
	if isLoad {
		op |= 1 << 20
	}
	return condAL<<28 | op | uint32(base&0xF)<<16 | uint32(dd&0xF)<<12 | uint32(d/4), nil
}

func (b *ARMBackend) fmovInto(e *enc, dst dreg, src ir.Operand) error {
	if src.IsMem() {
		base, ok := physOf(src.Mem.Base)
		if !ok {
			return fmt.Errorf("lirjit: bad base register in memory operand")
		}
		w, err := vldrStr(true, dst, base, src.Mem.Disp)
		if err != nil {
			return err
		}
		e.word(w)
		return nil
	}
	srcD, err := fregPhys(src)
	if err != nil {
		return err
	}
	if srcD == dst {
		return nil
	}
	e.word(condAL<<28 | 0x0EB00B40 | uint32(dst&0xF)<<12 | uint32(srcD&0xF)) // vmov.f64 dst, src
	return nil
}

func (b *ARMBackend) fstoreFrom(e *enc, dstMem ir.Mem, src dreg) error {
	base, ok := physOf(dstMem.Base)
	if !ok {
		return fmt.Errorf("lirjit: bad base register in memory operand")
	}
	w, err := vldrStr(false, src, base, dstMem.Disp)
	if err != nil {
		return err
	}
	e.word(w)
	return nil
}

func (b *ARMBackend) FOp1(op ir.FOp1, dst, src ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	dstD, err := fregPhys(dst)
	if err != nil {
		return b.ctx.Fail(err)
	}
	switch op {
	case ir.OpFMov:
		if dst.IsMem() {
			srcD, err := fregPhys(src)
			if err != nil {
				return b.ctx.Fail(err)
			}
			if err := b.fstoreFrom(&e, dst.Mem, srcD); err != nil {
				return b.ctx.Fail(err)
			}
		} else if err := b.fmovInto(&e, dstD, src); err != nil {
			return b.ctx.Fail(err)
		}
	case ir.OpFAbs:
		srcD, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(condAL<<28 | 0x0EB00BC0 | uint32(dstD&0xF)<<12 | uint32(srcD&0xF)) // vabs.f64
	case ir.OpFNeg:
		srcD, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(condAL<<28 | 0x0EB10B40 | uint32(dstD&0xF)<<12 | uint32(srcD&0xF)) // vneg.f64
	case ir.OpFCmp:
		srcD, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(condAL<<28 | 0x0EB40B40 | uint32(dstD&0xF)<<12 | uint32(srcD&0xF)) // vcmp.f64
		e.word(condAL<<28 | 0x0EF1FA10)                                           // vmrs APSR_nzcv, fpscr
		b.pendingFP = true
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop1 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

var fop2Opcode = map[ir.FOp2]uint32{
	ir.OpFAdd: 0x0E300B00,
	ir.OpFSub: 0x0E300B40,
	ir.OpFMul: 0x0E200B00,
	ir.OpFDiv: 0x0E800B00,
}

func (b *ARMBackend) FOp2(op ir.FOp2, dst, src1, src2 ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	dstD, err := fregPhys(dst)
	if err != nil {
		return b.ctx.Fail(err)
	}
	n, err := fregPhys(src1)
	if err != nil {
		return b.ctx.Fail(err)
	}
	opcode, ok := fop2Opcode[op]
	if !ok {
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop2 %d", op))
	}
	m := scratchD
	if src2.IsMem() {
		if err := b.fmovInto(&e, scratchD, src2); err != nil {
			return b.ctx.Fail(err)
		}
	} else {
		m, err = fregPhys(src2)
		if err != nil {
			return b.ctx.Fail(err)
		}
	}
	e.word(condAL<<28 | opcode | uint32(n&0xF)<<16 | uint32(dstD&0xF)<<12 | uint32(m&0xF))
	b.ctx.Buf.Append(e.b)
	return nil
}
