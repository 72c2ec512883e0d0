package arm64

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// dreg is a scalar double-precision vector register index (d0-d31).
type dreg uint8

var fregMap = map[ir.FReg]dreg{
	ir.F0: 0, ir.F1: 1, ir.F2: 2, ir.F3: 3, ir.F4: 4, ir.F5: 5,
}

func fregPhys(o ir.Operand) (dreg, error) {
	if o.Kind != ir.KindFReg {
		return 0, fmt.Errorf("lirjit: expected a float register operand")
	}
	p, ok := fregMap[o.FReg]
	if !ok {
		return 0, fmt.Errorf("lirjit: float register %s is not mapped on arm64", o.FReg)
	}
	return p, nil
}

// ldrStrFP encodes the unsigned-offset scalar 64-bit LDR/STR (SIMD&FP)
// forms; disp must be a multiple of 8 within [0, 32760], same bound as
// the general-purpose LDR/STR.
func ldrStrFP(isLoad bool, dst dreg, base xreg, disp int64) (uint32, error) {
	if disp < 0 || disp%8 != 0 || disp > 32760 {
		return 0, fmt.Errorf("lirjit: displacement %d out of LDR/STR range", disp)
	}
	op := uint32(0xFD000000) // STR (SIMD&FP, 64-bit)
	if isLoad {
		op = 0xFD400000 // LDR
	}
	return op | uint32(disp/8)<<10 | uint32(base&31)<<5 | uint32(dst&31), nil
}

// fmovInto loads src (a D register or a memory operand) into the
// scalar-double register dst via FMOV or LDR.
func (b *ARM64Backend) fmovInto(e *enc, dst dreg, src ir.Operand) error {
	if src.IsMem() {
		base, ok := physOf(src.Mem.Base)
		if !ok {
			return fmt.Errorf("lirjit: bad base register in memory operand")
		}
		w, err := ldrStrFP(true, dst, base, src.Mem.Disp)
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
	e.word(0x1E604000 | uint32(srcD&31)<<5 | uint32(dst&31)) // FMOV Dd, Dn
	return nil
}

func (b *ARM64Backend) fstoreFrom(e *enc, dstMem ir.Mem, src dreg) error {
	base, ok := physOf(dstMem.Base)
	if !ok {
		return fmt.Errorf("lirjit: bad base register in memory operand")
	}
	w, err := ldrStrFP(false, src, base, dstMem.Disp)
	if err != nil {
		return err
	}
	e.word(w)
	return nil
}

func (b *ARM64Backend) FOp1(op ir.FOp1, dst, src ir.Operand) error {
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
		if err := b.fmovInto(&e, dstD, src); err != nil {
			return b.ctx.Fail(err)
		}
	case ir.OpFAbs:
		if err := b.fmovInto(&e, dstD, src); err != nil {
			return b.ctx.Fail(err)
		}
		e.word(0x1E60C000 | uint32(dstD&31)<<5 | uint32(dstD&31)) // FABS Dd, Dd
	case ir.OpFNeg:
		if err := b.fmovInto(&e, dstD, src); err != nil {
			return b.ctx.Fail(err)
		}
		e.word(0x1E614000 | uint32(dstD&31)<<5 | uint32(dstD&31)) // FNEG Dd, Dd
	case ir.OpFCmp:
		srcD, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(0x1E602008 | uint32(srcD&31)<<16 | uint32(dstD&31)<<5) // FCMP Dn, Dm
		b.pendingFP = true
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop1 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

var fop2Opcode = map[ir.FOp2]uint32{
	ir.OpFAdd: 0x1E602800,
	ir.OpFSub: 0x1E603800,
	ir.OpFMul: 0x1E600800,
	ir.OpFDiv: 0x1E601800,
}

func (b *ARM64Backend) FOp2(op ir.FOp2, dst, src1, src2 ir.Operand) error {
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
	if err := b.fmovInto(&e, dstD, src1); err != nil {
		return b.ctx.Fail(err)
	}
	opcode, ok := fop2Opcode[op]
	if !ok {
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop2 %d", op))
	}
	src2D, err := fregPhys(src2)
	if err != nil {
		// Fall back through a temporary D register for memory operands:
		// the arithmetic encodings only take register operands.
		if !src2.IsMem() {
			return b.ctx.Fail(err)
		}
		const scratchD = dreg(31) // d31, outside fregMap's range, reserved as a hidden temporary
		if err := b.fmovInto(&e, scratchD, src2); err != nil {
			return b.ctx.Fail(err)
		}
		e.word(opcode | uint32(scratchD&31)<<16 | uint32(dstD&31)<<5 | uint32(dstD&31))
		b.ctx.Buf.Append(e.b)
		return nil
	}
	e.word(opcode | uint32(src2D&31)<<16 | uint32(dstD&31)<<5 | uint32(dstD&31))
	b.ctx.Buf.Append(e.b)
	return nil
}
