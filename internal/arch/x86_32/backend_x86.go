package x86_32

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/buffer"
	"github.com/lirjit/lirjit/internal/flags"
	"github.com/lirjit/lirjit/internal/ir"
)

// X86Backend implements arch.Backend for x86-32, cdecl.
type X86Backend struct {
	ctx       *arch.Context
	pendingFP bool

	jumpSites map[int]jumpSite
}

func New(log *logrus.Entry) *X86Backend {
	return &X86Backend{ctx: arch.NewContext(buffer.New(), log)}
}

func (b *X86Backend) Name() string             { return "x86-32" }
func (b *X86Backend) Context() *arch.Context { return b.ctx }

var jccTable = flags.Table{
	ir.CondEqual:           {Mask: 0x4},
	ir.CondNotEqual:        {Mask: 0x5},
	ir.CondLess:            {Mask: 0x2},
	ir.CondLessEqual:       {Mask: 0x6},
	ir.CondGreater:         {Mask: 0x7},
	ir.CondGreaterEqual:    {Mask: 0x3},
	ir.CondSigLess:         {Mask: 0xC},
	ir.CondSigLessEqual:    {Mask: 0xE},
	ir.CondSigGreater:      {Mask: 0xF},
	ir.CondSigGreaterEqual: {Mask: 0xD},
	ir.CondCarry:           {Mask: 0x2},
	ir.CondNotCarry:        {Mask: 0x3},
	ir.CondOverflow:        {Mask: 0x0},
	ir.CondNotOverflow:     {Mask: 0x1},
	ir.CondFEqual:          {Mask: 0x4},
	ir.CondFNotEqual:       {Mask: 0x5},
	ir.CondFLess:           {Mask: 0x2},
	ir.CondFLessEqual:      {Mask: 0x6},
	ir.CondFGreater:        {Mask: 0x7},
	ir.CondFGreaterEqual:   {Mask: 0x3},
	ir.CondFUnordered:      {Mask: 0xA},
	ir.CondFOrdered:        {Mask: 0xB},
}

func ccOf(p ir.Predicate) (byte, error) {
	e, ok := jccTable.Lookup(p)
	if !ok {
		return 0, fmt.Errorf("lirjit: predicate %d has no x86-32 condition code", p)
	}
	return byte(e.Mask), nil
}

func alignUp(n, to int) int { return (n + to - 1) / to * to }

func (b *X86Backend) Enter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	if abi.Saveds > len(calleeSavedOrder) {
		return b.ctx.Fail(fmt.Errorf("lirjit: ABI requests more saved registers than x86-32 exposes: %w", arch.ErrBadArgument))
	}
	var e enc
	e.byte(0x55)                         // push ebp
	e.bytes(0x89, modrmReg(esp, ebp))     // mov ebp, esp
	for i := 0; i < abi.Saveds; i++ {
		p, _ := physOf(calleeSavedOrder[i])
		e.byte(0x50 + byte(p&7)) // push r
	}
	localSize := alignUp(int(abi.LocalSize), 4)
	if localSize > 0 {
		e.byte(0x81)
		e.byte(modrmReg(5, esp)) // sub esp, imm32
		e.u32(uint32(localSize))
	}
	// cdecl: incoming args sit at [ebp+8], [ebp+12], ... in left-to-right
	// push order as the caller's own ArgTypes dictates.
	n := abi.Args.NumArgs()
	for i := 0; i < n; i++ {
		var dstReg ir.Reg
		switch i {
		case 0:
			dstReg = ir.R0
		case 1:
			dstReg = ir.R1
		case 2:
			dstReg = ir.R2
		default:
			continue
		}
		dst, ok := physOf(dstReg)
		if !ok {
			continue
		}
		e.byte(0x8B)
		e.writeMem(dst, ebp, false, 0, 0, int64(8+4*i), false)
	}
	b.ctx.Buf.Append(e.b)
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	b.ctx.Trace("enter: saveds=%d local=%d", abi.Saveds, localSize)
	return nil
}

func (b *X86Backend) FakeEnter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	abi.Fake = true
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	return nil
}

func (b *X86Backend) Return(src ir.Operand, hasSrc bool) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	if hasSrc {
		if err := b.movInto(&e, eax, src); err != nil {
			return b.ctx.Fail(err)
		}
	}
	if !b.ctx.ABI.Fake {
		localSize := alignUp(int(b.ctx.ABI.LocalSize), 4)
		if localSize > 0 {
			e.byte(0x81)
			e.byte(modrmReg(0, esp)) // add esp, imm32
			e.u32(uint32(localSize))
		}
		for i := b.ctx.ABI.Saveds - 1; i >= 0; i-- {
			p, _ := physOf(calleeSavedOrder[i])
			e.byte(0x58 + byte(p&7)) // pop r
		}
		e.byte(0x5D) // pop ebp
	}
	e.byte(0xC3) // ret
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *X86Backend) Op0(op ir.Op0) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	var e enc
	switch op {
	case ir.OpNop:
		e.byte(0x90)
	case ir.OpBreakpoint:
		e.byte(0xCC)
	case ir.OpLMulUW:
		e.bytes(0xF7, modrmReg(4, ebx)) // mul ebx; edx:eax = eax*ebx (R0*R1)
		e.bytes(0x89, modrmReg(edx, ebx)) // mov ebx, edx: high half into R1
	case ir.OpLMulSW:
		e.bytes(0xF7, modrmReg(5, ebx)) // imul ebx
		e.bytes(0x89, modrmReg(edx, ebx)) // mov ebx, edx
	case ir.OpDivUW:
		e.bytes(0x31, modrmReg(2, 2)) // xor edx,edx
		e.bytes(0xF7, modrmReg(6, ebx)) // div ebx (R1)
	case ir.OpDivSW:
		e.byte(0x99) // cdq
		e.bytes(0xF7, modrmReg(7, ebx)) // idiv ebx (R1)
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op0 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *X86Backend) Op1(op ir.Op1, size ir.Size, setFlags bool, dst, src ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	switch op {
	case ir.OpMov, ir.OpMovU:
		if dst.IsMem() {
			p, err := b.materialize(&e, src, tmp0)
			if err != nil {
				return b.ctx.Fail(err)
			}
			if err := b.storeFrom(&e, dst.Mem, p); err != nil {
				return b.ctx.Fail(err)
			}
		} else {
			dstP, err := operandPhys(dst)
			if err != nil {
				return b.ctx.Fail(err)
			}
			if err := b.movInto(&e, dstP, src); err != nil {
				return b.ctx.Fail(err)
			}
		}
	case ir.OpNot:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		if err := b.movInto(&e, dstP, src); err != nil {
			return b.ctx.Fail(err)
		}
		e.bytes(0xF7, modrmReg(2, dstP))
	case ir.OpNeg:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		if err := b.movInto(&e, dstP, src); err != nil {
			return b.ctx.Fail(err)
		}
		e.bytes(0xF7, modrmReg(3, dstP))
	case ir.OpClz:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.bytes(0x0F, 0xBD, modrmReg(dstP, srcP)) // bsr dst, src: index of the highest set bit
		e.bytes(0x83, modrmReg(6, dstP), 31)      // xor dst, 31: 31-index is the leading-zero count (dst undefined for src 0)
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op1 %d", op))
	}
	_ = size
	_ = setFlags
	b.ctx.Buf.Append(e.b)
	return nil
}

var op2Opcode = map[ir.Op2]byte{
	ir.OpAdd:  0x01,
	ir.OpAddC: 0x11,
	ir.OpSub:  0x29,
	ir.OpSubC: 0x19,
	ir.OpAnd:  0x21,
	ir.OpOr:   0x09,
	ir.OpXor:  0x31,
}

func (b *X86Backend) Op2(op ir.Op2, setFlags bool, dst, src1, src2 ir.Operand) error {
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
	case ir.OpMul:
		p2, err := b.materialize(&e, src2, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.bytes(0x0F, 0xAF, modrmReg(dstP, p2))
	case ir.OpShl, ir.OpLShr, ir.OpAShr:
		ext := byte(4)
		if op == ir.OpLShr {
			ext = 5
		} else if op == ir.OpAShr {
			ext = 7
		}
		if src2.IsImm() {
			e.bytes(0xC1, modrmReg(physReg(ext), dstP), byte(src2.Imm&0x1F))
		} else {
			if _, err := b.materialize(&e, src2, ecx); err != nil {
				return b.ctx.Fail(err)
			}
			e.bytes(0xD3, modrmReg(physReg(ext), dstP))
		}
	default:
		opcode, ok := op2Opcode[op]
		if !ok {
			return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op2 %d", op))
		}
		p2, err := b.materialize(&e, src2, tmp1)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.bytes(opcode, modrmReg(p2, dstP))
	}
	_ = setFlags
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *X86Backend) RawBytes(raw []byte) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	b.ctx.Buf.Append(raw)
	return nil
}
