package x86

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// memOf resolves a KindMem operand's base/index physRegs, substituting
// the LocalsBase mapping and the spec's absolute-address shape.
type lowMem struct {
	base     physReg
	hasIndex bool
	index    physReg
	shift    uint8
	disp     int64
	absolute bool
}

func (b *AMD64Backend) lowerMem(m ir.Mem) (lowMem, error) {
	if m.Absolute {
		return lowMem{absolute: true, disp: m.Disp}, nil
	}
	base, ok := physOf(m.Base)
	if !ok {
		return lowMem{}, fmt.Errorf("lirjit: bad base register in memory operand")
	}
	lm := lowMem{base: base, disp: m.Disp}
	if m.Index != ir.RegInvalid {
		idx, ok := physOf(m.Index)
		if !ok {
			return lowMem{}, fmt.Errorf("lirjit: bad index register in memory operand")
		}
		lm.hasIndex = true
		lm.index = idx
		lm.shift = m.Shift
	}
	return lm, nil
}

// movInto loads src into the physical register dst, covering all three
// operand kinds.
func (b *AMD64Backend) movInto(e *enc, dst physReg, src ir.Operand) error {
	switch src.Kind {
	case ir.KindReg:
		p, ok := physOf(src.Reg)
		if !ok {
			return fmt.Errorf("lirjit: unmapped register %s", src.Reg)
		}
		movRegReg(e, dst, p)
	case ir.KindImm:
		b.movImm(e, dst, src.Imm)
	case ir.KindMem:
		lm, err := b.lowerMem(src.Mem)
		if err != nil {
			return err
		}
		e.byte(rexByte(true, dst, indexReg(lm), lm.base))
		e.byte(0x8B)
		if err := e.writeMem(dst, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute); err != nil {
			return err
		}
	default:
		return fmt.Errorf("lirjit: unsupported source operand kind")
	}
	return nil
}

func indexReg(lm lowMem) physReg {
	if lm.hasIndex {
		return lm.index
	}
	return 0
}

// movImm materializes a 64-bit immediate into dst, using the compact
// 32-bit sign-extending form when it fits (spec.md §4.2 "Immediates").
func (b *AMD64Backend) movImm(e *enc, dst physReg, v int64) {
	if v >= -0x80000000 && v <= 0x7fffffff {
		e.byte(rexByte(true, 0, 0, dst))
		e.byte(0xC7)
		e.byte(modrmReg(0, dst))
		e.u32(uint32(int32(v)))
		return
	}
	e.byte(rexByte(true, 0, 0, dst))
	e.byte(0xB8 + byte(dst&7))
	e.u64(uint64(v))
}

// storeFrom stores the physical register src into a memory operand.
func (b *AMD64Backend) storeFrom(e *enc, dstMem ir.Mem, src physReg) error {
	lm, err := b.lowerMem(dstMem)
	if err != nil {
		return err
	}
	e.byte(rexByte(true, src, indexReg(lm), lm.base))
	e.byte(0x89)
	return e.writeMem(src, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute)
}

// materialize loads any operand into a scratch physical register,
// returning that register; used by ops that need both sources in
// registers (e.g. signed multiply, shift-by-register).
func (b *AMD64Backend) materialize(e *enc, o ir.Operand, scratch physReg) (physReg, error) {
	if o.Kind == ir.KindReg {
		p, ok := physOf(o.Reg)
		if !ok {
			return 0, fmt.Errorf("lirjit: unmapped register %s", o.Reg)
		}
		return p, nil
	}
	if err := b.movInto(e, scratch, o); err != nil {
		return 0, err
	}
	return scratch, nil
}

// --- op1 ---------------------------------------------------------------

func (b *AMD64Backend) Op1(op ir.Op1, size ir.Size, setFlags bool, dst, src ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	switch op {
	case ir.OpMov, ir.OpMovU:
		if err := b.emitMov(&e, size, dst, src); err != nil {
			return b.ctx.Fail(err)
		}
	case ir.OpNot:
		if err := b.emitUnaryRM(&e, 0xF7, 2, dst, src); err != nil {
			return b.ctx.Fail(err)
		}
	case ir.OpNeg:
		if err := b.emitUnaryRM(&e, 0xF7, 3, dst, src); err != nil {
			return b.ctx.Fail(err)
		}
	case ir.OpClz:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		// lzcnt dst, src (F3 0F BD /r); falls back to bsr semantics on
		// CPUs that ignore F3 but still have a defined result.
		e.bytes(0xF3)
		e.byte(rexByte(true, dstP, 0, srcP))
		e.bytes(0x0F, 0xBD, modrmReg(dstP, srcP))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op1 %d", op))
	}
	_ = setFlags // amd64 arithmetic always writes flags; nothing extra to do
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *AMD64Backend) emitMov(e *enc, size ir.Size, dst, src ir.Operand) error {
	if dst.IsMem() {
		srcP, err := b.materialize(e, src, tmp0)
		if err != nil {
			return err
		}
		return b.storeFrom(e, dst.Mem, srcP)
	}
	dstP, err := operandPhys(dst)
	if err != nil {
		return err
	}
	switch size {
	case ir.SizeWord:
		return b.movInto(e, dstP, src)
	case ir.SizeU8, ir.SizeS8, ir.SizeU16, ir.SizeS16, ir.SizeU32, ir.SizeS32:
		return b.movExtend(e, size, dstP, src)
	}
	return fmt.Errorf("lirjit: unknown move size")
}

// movExtend implements the zero/sign extending load variants
// (spec.md §6 "_u8, _s8, _u16, _s16, _u32, _s32").
func (b *AMD64Backend) movExtend(e *enc, size ir.Size, dst physReg, src ir.Operand) error {
	srcP, isReg := physReg(0), false
	var lm lowMem
	if src.IsReg() {
		p, ok := physOf(src.Reg)
		if !ok {
			return fmt.Errorf("lirjit: unmapped register %s", src.Reg)
		}
		srcP, isReg = p, true
	} else if src.IsMem() {
		var err error
		lm, err = b.lowerMem(src.Mem)
		if err != nil {
			return err
		}
	} else {
		return fmt.Errorf("lirjit: extend-move requires a register or memory source")
	}

	var opcode []byte
	switch size {
	case ir.SizeU8:
		opcode = []byte{0x0F, 0xB6}
	case ir.SizeS8:
		opcode = []byte{0x0F, 0xBE}
	case ir.SizeU16:
		opcode = []byte{0x0F, 0xB7}
	case ir.SizeS16:
		opcode = []byte{0x0F, 0xBF}
	case ir.SizeU32:
		// mov dst32, src32 zero-extends the top half implicitly.
		if isReg {
			e.byte(rexByte(false, dst, 0, srcP))
			e.bytes(0x89, modrmReg(srcP, dst))
		} else {
			e.byte(rexByte(false, dst, indexReg(lm), lm.base))
			e.byte(0x8B)
			return e.writeMem(dst, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute)
		}
		return nil
	case ir.SizeS32:
		if isReg {
			e.byte(rexByte(true, dst, 0, srcP))
			e.bytes(0x63, modrmReg(dst, srcP))
		} else {
			e.byte(rexByte(true, dst, indexReg(lm), lm.base))
			e.byte(0x63)
			return e.writeMem(dst, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute)
		}
		return nil
	}
	if isReg {
		e.byte(rexByte(true, dst, 0, srcP))
		e.bytes(opcode...)
		e.byte(modrmReg(dst, srcP))
	} else {
		e.byte(rexByte(true, dst, indexReg(lm), lm.base))
		e.bytes(opcode...)
		return e.writeMem(dst, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute)
	}
	return nil
}

// emitUnaryRM emits a group-F7-style unary op (not/neg) via dst<-src
// then in place, since x86 not/neg are destructive single-operand
// forms.
func (b *AMD64Backend) emitUnaryRM(e *enc, opcode byte, ext physReg, dst, src ir.Operand) error {
	dstP, err := operandPhys(dst)
	if err != nil {
		return err
	}
	if err := b.movInto(e, dstP, src); err != nil {
		return err
	}
	e.byte(rexByte(true, 0, 0, dstP))
	e.bytes(opcode, modrmReg(ext, dstP))
	return nil
}

// --- op2 ---------------------------------------------------------------

var op2Opcode = map[ir.Op2]byte{
	ir.OpAdd:  0x01,
	ir.OpAddC: 0x11,
	ir.OpSub:  0x29,
	ir.OpSubC: 0x19,
	ir.OpAnd:  0x21,
	ir.OpOr:   0x09,
	ir.OpXor:  0x31,
}

func (b *AMD64Backend) Op2(op ir.Op2, setFlags bool, dst, src1, src2 ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	dstP, err := operandPhys(dst)
	if err != nil {
		return b.ctx.Fail(err)
	}
	if err := b.movInto(&e, dstP, src1); err != nil {
		return b.ctx.Fail(err)
	}

	switch op {
	case ir.OpAdd, ir.OpAddC, ir.OpSub, ir.OpSubC, ir.OpAnd, ir.OpOr, ir.OpXor:
		srcP, err := b.materialize(&e, src2, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.byte(rexByte(true, srcP, 0, dstP))
		e.bytes(op2Opcode[op], modrmReg(srcP, dstP))
	case ir.OpMul:
		srcP, err := b.materialize(&e, src2, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.byte(rexByte(true, dstP, 0, srcP))
		e.bytes(0x0F, 0xAF, modrmReg(dstP, srcP))
	case ir.OpShl, ir.OpLShr, ir.OpAShr:
		if err := b.emitShift(&e, op, dstP, src2); err != nil {
			return b.ctx.Fail(err)
		}
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op2 %d", op))
	}
	_ = setFlags
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *AMD64Backend) emitShift(e *enc, op ir.Op2, dst physReg, count ir.Operand) error {
	ext := physReg(4)
	switch op {
	case ir.OpShl:
		ext = 4
	case ir.OpLShr:
		ext = 5
	case ir.OpAShr:
		ext = 7
	}
	if count.IsImm() {
		e.byte(rexByte(true, 0, 0, dst))
		e.bytes(0xC1, modrmReg(ext, dst), byte(count.Imm&0x3F))
		return nil
	}
	// shift count must be in CL.
	cp, err := operandPhys(count)
	if err != nil {
		return err
	}
	if cp != rcx {
		movRegReg(e, rcx, cp)
	}
	e.byte(rexByte(true, 0, 0, dst))
	e.bytes(0xD3, modrmReg(ext, dst))
	return nil
}

// --- op0 -----------------------------------------------------------------

func (b *AMD64Backend) Op0(op ir.Op0) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	var e enc
	switch op {
	case ir.OpNop:
		e.byte(0x90)
	case ir.OpBreakpoint:
		e.byte(0xCC)
	case ir.OpLMulUW, ir.OpLMulSW:
		// operands are implicit: rax (R0) * rcx (R1) -> rdx:rax; the
		// high half lands in rdx (R2).
		rhs := amd64RegMap[ir.R1]
		e.byte(rexByte(true, 0, 0, rhs))
		ext := physReg(4)
		if op == ir.OpLMulSW {
			ext = 5
		}
		e.bytes(0xF7, modrmReg(ext, rhs))
	case ir.OpDivUW, ir.OpDivSW:
		rhs := amd64RegMap[ir.R1]
		e.byte(rexByte(true, 0, 0, rhs))
		ext := physReg(6)
		if op == ir.OpDivSW {
			ext = 7
		}
		e.bytes(0xF7, modrmReg(ext, rhs))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op0 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

// RawBytes splices raw bytes directly into the instruction stream
// (spec.md DESIGN NOTES supplement: the sljit_emit_op_custom escape).
func (b *AMD64Backend) RawBytes(raw []byte) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	b.ctx.Buf.Append(raw)
	return nil
}
