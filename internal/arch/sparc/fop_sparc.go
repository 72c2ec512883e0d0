package sparc

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// freg is a SPARC FPU register number. Double-precision values pair
// up adjacent single-precision slots, addressed by the even one;
// fregMap sticks to %f0, %f2, %f4, ... %f10 so every field fits the
// plain 5-bit encoding without needing V9's extra register-number bit
// reserved for %f32 and above — the same small-window compromise the
// arm/arm64/ppc backends make for their own float register files.
type freg uint8

var fregMap = map[ir.FReg]freg{
	ir.F0: 0, ir.F1: 2, ir.F2: 4, ir.F3: 6, ir.F4: 8, ir.F5: 10,
}

const scratchF = freg(12)

func fregPhys(o ir.Operand) (freg, error) {
	if o.Kind != ir.KindFReg {
		return 0, fmt.Errorf("lirjit: expected a float register operand")
	}
	p, ok := fregMap[o.FReg]
	if !ok {
		return 0, fmt.Errorf("lirjit: float register %s is not mapped on sparc", o.FReg)
	}
	return p, nil
}

const (
	opf3FPop1 = 0x34
	opf3FPop2 = 0x35
	opfFADDd  = 0x42
	opfFSUBd  = 0x46
	opfFMULd  = 0x4A
	opfFDIVd  = 0x4E
	opfFABSd  = 0x0A
	opfFNEGd  = 0x06
	opfFMOVd  = 0x02
	opfFCMPd  = 0x52
)

func fpop1(opf uint32, rd, rs1, rs2 freg) uint32 {
	return 2<<30 | uint32(rd&0x1F)<<25 | opf3FPop1<<19 | uint32(rs1&0x1F)<<14 | (opf&0x1FF)<<5 | uint32(rs2&0x1F)
}

func fcmpd(rs1, rs2 freg) uint32 {
	return 2<<30 | opf3FPop2<<19 | uint32(rs1&0x1F)<<14 | (opfFCMPd&0x1FF)<<5 | uint32(rs2&0x1F)
}

func lddf(rd freg, rs1 reg, disp int32) uint32 {
	return format3(3, reg(rd), 0x23, rs1, true, uint32(disp)&0x1FFF)
}

func stdf(rd freg, rs1 reg, disp int32) uint32 {
	return format3(3, reg(rd), 0x27, rs1, true, uint32(disp)&0x1FFF)
}

func (b *SPARCBackend) fmovInto(e *enc, dst freg, src ir.Operand) error {
	if src.IsMem() {
		base, ok := physOf(src.Mem.Base)
		if !ok {
			return fmt.Errorf("lirjit: bad base register in memory operand")
		}
		if src.Mem.Disp < -4096 || src.Mem.Disp > 4095 {
			return fmt.Errorf("lirjit: displacement %d out of lddf range", src.Mem.Disp)
		}
		e.word(lddf(dst, base, int32(src.Mem.Disp)))
		return nil
	}
	srcF, err := fregPhys(src)
	if err != nil {
		return err
	}
	if srcF == dst {
		return nil
	}
	e.word(fpop1(opfFMOVd, dst, 0, srcF))
	return nil
}

func (b *SPARCBackend) fstoreFrom(e *enc, dstMem ir.Mem, src freg) error {
	base, ok := physOf(dstMem.Base)
	if !ok {
		return fmt.Errorf("lirjit: bad base register in memory operand")
	}
	if dstMem.Disp < -4096 || dstMem.Disp > 4095 {
		return fmt.Errorf("lirjit: displacement %d out of stdf range", dstMem.Disp)
	}
	e.word(stdf(src, base, int32(dstMem.Disp)))
	return nil
}

func (b *SPARCBackend) FOp1(op ir.FOp1, dst, src ir.Operand) error {
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
		e.word(fpop1(opfFABSd, dstF, 0, srcF))
	case ir.OpFNeg:
		dstF, err := fregPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcF, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(fpop1(opfFNEGd, dstF, 0, srcF))
	case ir.OpFCmp:
		srcF1, err := fregPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcF2, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(fcmpd(srcF1, srcF2))
		b.pendingFP = true
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop1 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *SPARCBackend) FOp2(op ir.FOp2, dst, src1, src2 ir.Operand) error {
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
	var opf uint32
	switch op {
	case ir.OpFAdd:
		opf = opfFADDd
	case ir.OpFSub:
		opf = opfFSUBd
	case ir.OpFMul:
		opf = opfFMULd
	case ir.OpFDiv:
		opf = opfFDIVd
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop2 %d", op))
	}
	e.word(fpop1(opf, dstF, n, m))
	b.ctx.Buf.Append(e.b)
	return nil
}
