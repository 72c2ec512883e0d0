package arm64

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/buffer"
	"github.com/lirjit/lirjit/internal/flags"
	"github.com/lirjit/lirjit/internal/ir"
)

// ARM64Backend implements arch.Backend for AArch64, AAPCS64.
type ARM64Backend struct {
	ctx       *arch.Context
	pendingFP bool

	jumpSites map[int]jumpSite
}

func New(log *logrus.Entry) *ARM64Backend {
	return &ARM64Backend{ctx: arch.NewContext(buffer.New(), log)}
}

func (b *ARM64Backend) Name() string           { return "arm64" }
func (b *ARM64Backend) Context() *arch.Context { return b.ctx }

// condTable maps predicates to AArch64 4-bit condition codes, per
// A64's condition field (spec.md §4.3).
var condTable = flags.Table{
	ir.CondEqual:           {Mask: 0x0},
	ir.CondNotEqual:        {Mask: 0x1},
	ir.CondLess:            {Mask: 0x3}, // LO (unsigned <)
	ir.CondLessEqual:       {Mask: 0x9}, // LS (unsigned <=)
	ir.CondGreater:         {Mask: 0x8}, // HI (unsigned >)
	ir.CondGreaterEqual:    {Mask: 0x2}, // HS (unsigned >=)
	ir.CondSigLess:         {Mask: 0xB},
	ir.CondSigLessEqual:    {Mask: 0xD},
	ir.CondSigGreater:      {Mask: 0xC},
	ir.CondSigGreaterEqual: {Mask: 0xA},
	ir.CondCarry:           {Mask: 0x2},
	ir.CondNotCarry:        {Mask: 0x3},
	ir.CondOverflow:        {Mask: 0x6},
	ir.CondNotOverflow:     {Mask: 0x7},
	ir.CondFEqual:          {Mask: 0x0},
	ir.CondFNotEqual:       {Mask: 0x1},
	ir.CondFLess:           {Mask: 0x3},
	ir.CondFLessEqual:      {Mask: 0x9},
	ir.CondFGreater:        {Mask: 0x8},
	ir.CondFGreaterEqual:   {Mask: 0x2},
	ir.CondFUnordered:      {Mask: 0x6},
	ir.CondFOrdered:        {Mask: 0x7},
}

func ccOf(p ir.Predicate) (uint32, error) {
	e, ok := condTable.Lookup(p)
	if !ok {
		return 0, fmt.Errorf("lirjit: predicate %d has no arm64 condition code", p)
	}
	return e.Mask, nil
}

// --- enter / return ----------------------------------------------------

func (b *ARM64Backend) Enter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	if abi.Saveds > ir.NumSaved || abi.Scratches > ir.NumScratch {
		return b.ctx.Fail(fmt.Errorf("lirjit: ABI requests more registers than arm64 exposes: %w", arch.ErrBadArgument))
	}
	var e enc
	// stp x29, x30, [sp, #-16]!  then mov x29, sp
	e.word(stpPre(x29, x30, xzrOrSP, -16))
	e.word(addSubImm(false, false, x29, xzrOrSP, 0)) // mov x29, sp (ADD #0; ORR would read XZR)
	for i := 0; i < abi.Saveds; i += 2 {
		r1 := regMap[calleeSavedOrder[i]]
		if i+1 < abi.Saveds {
			r2 := regMap[calleeSavedOrder[i+1]]
			e.word(stpPre(r1, r2, xzrOrSP, -16))
		} else {
			e.word(stpPre(r1, x30, xzrOrSP, -16)) // pad odd count with the LR slot; the pop reloads the same LR value
		}
	}
	localSize := alignUp(int(abi.LocalSize), 16)
	if localSize > 0 {
		if localSize <= 0xFFF {
			e.word(addSubImm(true, false, xzrOrSP, xzrOrSP, uint32(localSize)))
		} else {
			movImmCompact(&e, tmp0, uint64(localSize))
			e.word(addSubReg(true, false, xzrOrSP, xzrOrSP, tmp0))
		}
		e.word(addSubImm(false, false, regMap[ir.LocalsBase], xzrOrSP, 0)) // mov localsBase, sp
	}
	n := abi.Args.NumArgs()
	for i := 0; i < n && i < len(aapcs64ArgRegs); i++ {
		dst := regMap[calleeSavedOrder[i]]
		movRegReg(&e, dst, aapcs64ArgRegs[i])
	}
	b.ctx.Buf.Append(e.b)
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	b.ctx.Trace("enter: saveds=%d scratches=%d local=%d", abi.Saveds, abi.Scratches, localSize)
	return nil
}

func (b *ARM64Backend) FakeEnter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	abi.Fake = true
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	return nil
}

func (b *ARM64Backend) Return(src ir.Operand, hasSrc bool) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	if hasSrc {
		if err := b.movInto(&e, x0, src); err != nil {
			return b.ctx.Fail(err)
		}
	}
	if !b.ctx.ABI.Fake {
		localSize := alignUp(int(b.ctx.ABI.LocalSize), 16)
		if localSize > 0 {
			if localSize <= 0xFFF {
				e.word(addSubImm(false, false, xzrOrSP, xzrOrSP, uint32(localSize)))
			} else {
				movImmCompact(&e, tmp0, uint64(localSize))
				e.word(addSubReg(false, false, xzrOrSP, xzrOrSP, tmp0))
			}
		}
		// Pop in reverse push order: the odd (LR-padded) pair was pushed
		// last, so it comes off first.
		if b.ctx.ABI.Saveds%2 == 1 {
			last := b.ctx.ABI.Saveds - 1
			r1 := regMap[calleeSavedOrder[last]]
			e.word(ldpPost(r1, x30, xzrOrSP, 16))
		}
		for i := b.ctx.ABI.Saveds&^1 - 2; i >= 0; i -= 2 {
			r1 := regMap[calleeSavedOrder[i]]
			r2 := regMap[calleeSavedOrder[i+1]]
			e.word(ldpPost(r1, r2, xzrOrSP, 16))
		}
		e.word(ldpPost(x29, x30, xzrOrSP, 16))
	}
	e.word(0xD65F03C0) // ret
	b.ctx.Buf.Append(e.b)
	return nil
}

func alignUp(n, to int) int { return (n + to - 1) / to * to }

// --- op0/op1/op2 ---------------------------------------------------------

func (b *ARM64Backend) Op0(op ir.Op0) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	var e enc
	switch op {
	case ir.OpNop:
		e.word(0xD503201F)
	case ir.OpBreakpoint:
		e.word(0xD4200000) // brk #0
	case ir.OpLMulUW, ir.OpLMulSW:
		// low half in x0 via MADD, high half in x1 via UMULH/SMULH;
		// rhs is saved in tmp0 first since both halves need it after
		// x1 is overwritten with the high result.
		mulOp := uint32(0x9BC07C00) // UMULH x1, x0, tmp0
		if op == ir.OpLMulSW {
			mulOp = 0x9B407C00 // SMULH x1, x0, tmp0
		}
		movRegReg(&e, tmp0, x1)
		e.word(mulOp | uint32(tmp0)<<16 | uint32(x0)<<5 | uint32(x1))
		e.word(mulReg(x0, x0, tmp0))
	case ir.OpDivUW, ir.OpDivSW:
		e.word(divReg(op == ir.OpDivSW, x0, x0, x1))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op0 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *ARM64Backend) Op1(op ir.Op1, size ir.Size, setFlags bool, dst, src ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	switch op {
	case ir.OpMov, ir.OpMovU:
		if err := b.emitMov(&e, dst, src); err != nil {
			return b.ctx.Fail(err)
		}
	case ir.OpNot:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(logicalReg(0xAA200000, dstP, xzrOrSP, srcP)) // ORN dst, XZR, src
	case ir.OpNeg:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(addSubReg(true, setFlags, dstP, xzrOrSP, srcP)) // SUB dst, XZR, src
	case ir.OpClz:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(0xDAC01000 | uint32(srcP&31)<<5 | uint32(dstP&31)) // CLZ dst, src
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op1 %d", op))
	}
	_ = size
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *ARM64Backend) emitMov(e *enc, dst, src ir.Operand) error {
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
	return b.movInto(e, dstP, src)
}

func (b *ARM64Backend) Op2(op ir.Op2, setFlags bool, dst, src1, src2 ir.Operand) error {
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
	p1, err := b.materialize(&e, src1, tmp0)
	if err != nil {
		return b.ctx.Fail(err)
	}
	p2, err := b.materialize(&e, src2, tmp1)
	if err != nil {
		return b.ctx.Fail(err)
	}
	switch op {
	case ir.OpAdd:
		e.word(addSubReg(false, setFlags, dstP, p1, p2))
	case ir.OpSub:
		e.word(addSubReg(true, setFlags, dstP, p1, p2))
	case ir.OpAddC, ir.OpSubC:
		w := uint32(0x9A000000) // ADC
		if op == ir.OpSubC {
			w = 0xDA000000 // SBC
		}
		if setFlags {
			w |= 1 << 29 // ADCS/SBCS
		}
		e.word(w | uint32(p2&31)<<16 | uint32(p1&31)<<5 | uint32(dstP&31))
	case ir.OpMul:
		e.word(mulReg(dstP, p1, p2))
	case ir.OpAnd:
		e.word(logicalReg(opAND, dstP, p1, p2))
	case ir.OpOr:
		e.word(logicalReg(opORR, dstP, p1, p2))
	case ir.OpXor:
		e.word(logicalReg(opEOR, dstP, p1, p2))
	case ir.OpShl:
		e.word(shiftReg(0, dstP, p1, p2))
	case ir.OpLShr:
		e.word(shiftReg(1, dstP, p1, p2))
	case ir.OpAShr:
		e.word(shiftReg(2, dstP, p1, p2))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op2 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

// RawBytes splices raw bytes directly into the instruction stream.
func (b *ARM64Backend) RawBytes(raw []byte) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	b.ctx.Buf.Append(raw)
	return nil
}
