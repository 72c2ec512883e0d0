package x86

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// fregMap assigns the engine's six symbolic float registers to the
// low six XMM registers; amd64 has sixteen, but the spec's ABI profile
// never asks for more than NumScratch/NumSaved worth of them.
var fregMap = map[ir.FReg]physReg{
	ir.F0: 0, ir.F1: 1, ir.F2: 2, ir.F3: 3, ir.F4: 4, ir.F5: 5,
}

func fregPhys(o ir.Operand) (physReg, error) {
	if o.Kind != ir.KindFReg {
		return 0, fmt.Errorf("lirjit: expected a float register operand")
	}
	p, ok := fregMap[o.FReg]
	if !ok {
		return 0, fmt.Errorf("lirjit: float register %s is not mapped on amd64", o.FReg)
	}
	return p, nil
}

// fmovInto loads src (an XMM register or a memory operand) into the
// scalar-double register dst via MOVSD.
func (b *AMD64Backend) fmovInto(e *enc, dst physReg, src ir.Operand) error {
	if src.IsMem() {
		lm, err := b.lowerMem(src.Mem)
		if err != nil {
			return err
		}
		e.byte(0xF2)
		if needsRex(false, dst, indexReg(lm), lm.base) {
			e.byte(rexByte(false, dst, indexReg(lm), lm.base))
		}
		e.bytes(0x0F, 0x10)
		return e.writeMem(dst, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute)
	}
	srcX, err := fregPhys(src)
	if err != nil {
		return err
	}
	if srcX == dst {
		return nil
	}
	e.bytes(0xF2, 0x0F, 0x10, modrmReg(dst, srcX))
	return nil
}

func (b *AMD64Backend) FOp1(op ir.FOp1, dst, src ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	dstX, err := fregPhys(dst)
	if err != nil {
		return b.ctx.Fail(err)
	}
	switch op {
	case ir.OpFMov:
		if err := b.fmovInto(&e, dstX, src); err != nil {
			return b.ctx.Fail(err)
		}
	case ir.OpFAbs, ir.OpFNeg:
		if err := b.fmovInto(&e, dstX, src); err != nil {
			return b.ctx.Fail(err)
		}
		// Round-trip through a GPR to mask/flip the sign bit: amd64 has
		// no direct scalar sign-bit instruction without a constant-pool
		// mask operand, and this engine keeps no read-only data section.
		e.byte(0x66)
		e.byte(rexByte(true, dstX, 0, tmp0))
		e.bytes(0x0F, 0x7E, modrmReg(dstX, tmp0))
		mask := int64(0x7FFFFFFFFFFFFFFF)
		if op == ir.OpFNeg {
			mask = int64(-0x8000000000000000)
		}
		b.movImm(&e, tmp1, mask)
		e.byte(rexByte(true, tmp1, 0, tmp0))
		if op == ir.OpFAbs {
			e.bytes(0x21, modrmReg(tmp1, tmp0))
		} else {
			e.bytes(0x31, modrmReg(tmp1, tmp0))
		}
		e.byte(0x66)
		e.byte(rexByte(true, dstX, 0, tmp0))
		e.bytes(0x0F, 0x6E, modrmReg(dstX, tmp0))
	case ir.OpFCmp:
		srcX, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.bytes(0x66, 0x0F, 0x2E, modrmReg(dstX, srcX))
		b.pendingFP = true
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop1 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

var fop2Opcode = map[ir.FOp2]byte{
	ir.OpFAdd: 0x58,
	ir.OpFSub: 0x5C,
	ir.OpFMul: 0x59,
	ir.OpFDiv: 0x5E,
}

func (b *AMD64Backend) FOp2(op ir.FOp2, dst, src1, src2 ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	dstX, err := fregPhys(dst)
	if err != nil {
		return b.ctx.Fail(err)
	}
	if err := b.fmovInto(&e, dstX, src1); err != nil {
		return b.ctx.Fail(err)
	}
	opcode, ok := fop2Opcode[op]
	if !ok {
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop2 %d", op))
	}
	if src2.IsMem() {
		lm, err := b.lowerMem(src2.Mem)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.bytes(0xF2, 0x0F, opcode)
		if err := e.writeMem(dstX, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute); err != nil {
			return b.ctx.Fail(err)
		}
	} else {
		srcX, err := fregPhys(src2)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.bytes(0xF2, 0x0F, opcode, modrmReg(dstX, srcX))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}
