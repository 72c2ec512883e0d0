package x86_32

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// fregMap assigns the engine's six symbolic float registers to the low
// six XMM registers. Go's 386 port requires SSE2 (GO386=sse2 is the
// default and only supported mode since Go 1.16), so scalar-double
// instructions are available exactly as on amd64, just without a REX
// prefix.
var fregMap = map[ir.FReg]physReg{
	ir.F0: 0, ir.F1: 1, ir.F2: 2, ir.F3: 3, ir.F4: 4, ir.F5: 5,
}

func fregPhys(o ir.Operand) (physReg, error) {
	if o.Kind != ir.KindFReg {
		return 0, fmt.Errorf("lirjit: expected a float register operand")
	}
	p, ok := fregMap[o.FReg]
	if !ok {
		return 0, fmt.Errorf("lirjit: float register %s is not mapped on x86-32", o.FReg)
	}
	return p, nil
}

func (b *X86Backend) fmovInto(e *enc, dst physReg, src ir.Operand) error {
	if src.IsMem() {
		lm, err := b.lowerMem(src.Mem)
		if err != nil {
			return err
		}
		e.byte(0xF2)
		e.bytes(0x0F, 0x10)
		e.writeMem(dst, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute)
		return nil
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

func (b *X86Backend) FOp1(op ir.FOp1, dst, src ir.Operand) error {
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
		// Round-trip the double through an 8-byte stack scratch slot to
		// mask/flip the sign bit a 32-bit GPR at a time: a single x86-32
		// GPR cannot hold the whole 64-bit value the way amd64's does,
		// and there is no constant-pool operand to AND/XOR against
		// directly.
		e.byte(0x83)
		e.byte(modrmReg(5, esp)) // sub esp, imm8
		e.byte(8)
		e.byte(0xF2)
		e.byte(0x0F)
		e.byte(0x11)
		e.writeMem(dstX, esp, false, 0, 0, 0, false) // movsd [esp], dst
		e.byte(0x8B)
		e.writeMem(tmp0, esp, false, 0, 0, 4, false) // mov tmp0, [esp+4]  (high dword, sign bit)
		maskHigh := int32(0x7FFFFFFF)
		ext := byte(4) // and
		if op == ir.OpFNeg {
			maskHigh = int32(-0x80000000)
			ext = 6 // xor
		}
		e.byte(0x81)
		e.byte(modrmReg(physReg(ext), tmp0))
		e.u32(uint32(maskHigh))
		e.byte(0x89)
		e.writeMem(tmp0, esp, false, 0, 0, 4, false) // mov [esp+4], tmp0
		e.byte(0xF2)
		e.byte(0x0F)
		e.byte(0x10)
		e.writeMem(dstX, esp, false, 0, 0, 0, false) // movsd dst, [esp]
		e.byte(0x83)
		e.byte(modrmReg(0, esp)) // add esp, imm8
		e.byte(8)
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

func (b *X86Backend) FOp2(op ir.FOp2, dst, src1, src2 ir.Operand) error {
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
		e.writeMem(dstX, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute)
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
