package ppc

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/buffer"
	"github.com/lirjit/lirjit/internal/flags"
	"github.com/lirjit/lirjit/internal/ir"
)

// PPCBackend implements arch.Backend for 64-bit PowerPC, ELFv2.
type PPCBackend struct {
	ctx       *arch.Context
	pendingFP bool

	jumpSites map[int]jumpSite
}

func New(log *logrus.Entry) *PPCBackend {
	return &PPCBackend{ctx: arch.NewContext(buffer.New(), log)}
}

func (b *PPCBackend) Name() string          { return "ppc64" }
func (b *PPCBackend) Context() *arch.Context { return b.ctx }

// condTable maps every predicate to a cr0 bit index (BI field) plus
// whether the branch tests the bit set or clear. PowerPC's CR0
// layout after a CMP/CMPL is LT=bit0, GT=bit1, EQ=bit2, SO=bit3.
var condTable = flags.Table{
	ir.CondEqual:           {Mask: 2},
	ir.CondNotEqual:        {Mask: 2, Invert: true},
	ir.CondLess:            {Mask: 0},
	ir.CondLessEqual:       {Mask: 1, Invert: true},
	ir.CondGreater:         {Mask: 1},
	ir.CondGreaterEqual:    {Mask: 0, Invert: true},
	ir.CondSigLess:         {Mask: 0},
	ir.CondSigLessEqual:    {Mask: 1, Invert: true},
	ir.CondSigGreater:      {Mask: 1},
	ir.CondSigGreaterEqual: {Mask: 0, Invert: true},
	ir.CondCarry:           {Mask: 0},
	ir.CondNotCarry:        {Mask: 0, Invert: true},
	ir.CondOverflow:        {Mask: 3},
	ir.CondNotOverflow:     {Mask: 3, Invert: true},
	ir.CondFEqual:          {Mask: 2},
	ir.CondFNotEqual:       {Mask: 2, Invert: true},
	ir.CondFLess:           {Mask: 0},
	ir.CondFLessEqual:      {Mask: 1, Invert: true},
	ir.CondFGreater:        {Mask: 1},
	ir.CondFGreaterEqual:   {Mask: 0, Invert: true},
	ir.CondFUnordered:      {Mask: 3},
	ir.CondFOrdered:        {Mask: 3, Invert: true},
}

// ccOf returns (BI within cr0, BO selecting true/false branch).
func ccOf(p ir.Predicate) (bi uint32, boTrue bool, err error) {
	e, ok := condTable.Lookup(p)
	if !ok {
		return 0, false, fmt.Errorf("lirjit: predicate %d has no ppc condition code", p)
	}
	return uint32(e.Mask), !e.Invert, nil
}

func alignUp(n, to int) int { return (n + to - 1) / to * to }

// frameHeader is the fixed ELFv2 caller-allocated save area this
// engine always reserves: 32 bytes for the back-chain, CR, LR and TOC
// save doublewords at the bottom of the new frame, matching the ABI's
// documented layout.
const frameHeader = 32

func (b *PPCBackend) Enter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	if abi.Saveds > len(calleeSavedOrder) {
		return b.ctx.Fail(fmt.Errorf("lirjit: ABI requests more saved registers than ppc64 exposes: %w", arch.ErrBadArgument))
	}
	var e enc
	e.word(mflr(r0))
	e.word(std(r0, r1, 16))
	frameSize := alignUp(frameHeader+8*abi.Saveds+int(abi.LocalSize), 16)
	e.word(stdu(r1, r1, -int16(frameSize)))
	for i := 0; i < abi.Saveds; i++ {
		p, _ := physOf(calleeSavedOrder[i])
		e.word(std(p, r1, int16(frameHeader+8*i)))
	}
	n := abi.Args.NumArgs()
	for i := 0; i < n && i < len(elfv2ArgRegs); i++ {
		dstReg, ok := reverseArgReg(i)
		if !ok {
			continue
		}
		dst, ok := physOf(dstReg)
		if !ok {
			continue
		}
		if dst != elfv2ArgRegs[i] {
			e.word(mr(dst, elfv2ArgRegs[i]))
		}
	}
	b.ctx.Buf.Append(e.b)
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	b.ctx.Trace("enter: saveds=%d local=%d frame=%d", abi.Saveds, abi.LocalSize, frameSize)
	return nil
}

func reverseArgReg(i int) (ir.Reg, bool) {
	switch i {
	case 0:
		return ir.R0, true
	case 1:
		return ir.R1, true
	case 2:
		return ir.R2, true
	case 3:
		return ir.R3, true
	case 4:
		return ir.R4, true
	case 5:
		return ir.R5, true
	case 6:
		return ir.R6, true
	default:
		return 0, false
	}
}

func (b *PPCBackend) FakeEnter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	abi.Fake = true
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	return nil
}

func (b *PPCBackend) Return(src ir.Operand, hasSrc bool) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	if hasSrc {
		if err := b.movInto(&e, r3, src); err != nil {
			return b.ctx.Fail(err)
		}
	}
	if !b.ctx.ABI.Fake {
		frameSize := alignUp(frameHeader+8*b.ctx.ABI.Saveds+int(b.ctx.ABI.LocalSize), 16)
		for i := 0; i < b.ctx.ABI.Saveds; i++ {
			p, _ := physOf(calleeSavedOrder[i])
			e.word(ld(p, r1, int16(frameHeader+8*i)))
		}
		e.word(addi(r1, r1, int16(frameSize)))
		e.word(ld(r0, r1, 16))
		e.word(mtlr(r0))
	}
	e.word(blr())
	b.ctx.Buf.Append(e.b)
	return nil
}

func stdu(rt, ra reg, disp int16) uint32 {
	return 62<<26 | uint32(rt&0x1F)<<21 | uint32(ra&0x1F)<<16 | (uint32(uint16(disp)) & 0xFFFC) | 1
}

func (b *PPCBackend) Op0(op ir.Op0) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	var e enc
	switch op {
	case ir.OpNop:
		e.word(24 << 26) // ori 0,0,0
	case ir.OpBreakpoint:
		e.word(31<<26 | 4<<21 | 2<<1) // tw 4,0,0 (trap always, conventional ppc breakpoint)
	case ir.OpLMulUW:
		e.word(mulhdu(tmp0, r3, r4))
		e.word(mulld(r3, r3, r4))
		e.word(mr(r4, tmp0))
	case ir.OpLMulSW:
		e.word(mulhd(tmp0, r3, r4))
		e.word(mulld(r3, r3, r4))
		e.word(mr(r4, tmp0))
	case ir.OpDivUW:
		e.word(divdu(r3, r3, r4))
	case ir.OpDivSW:
		e.word(divd(r3, r3, r4))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op0 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *PPCBackend) Op1(op ir.Op1, size ir.Size, setFlags bool, dst, src ir.Operand) error {
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
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(nor(dstP, srcP))
	case ir.OpNeg:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(neg(dstP, srcP))
	case ir.OpClz:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(cntlzd(dstP, srcP))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op1 %d", op))
	}
	_ = size
	_ = setFlags
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *PPCBackend) Op2(op ir.Op2, setFlags bool, dst, src1, src2 ir.Operand) error {
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
	case ir.OpAdd, ir.OpAddC:
		e.word(add(dstP, p1, p2))
	case ir.OpSub, ir.OpSubC:
		e.word(subf(dstP, p2, p1))
	case ir.OpMul:
		e.word(mulld(dstP, p1, p2))
	case ir.OpAnd:
		e.word(and(dstP, p1, p2))
	case ir.OpOr:
		e.word(or(dstP, p1, p2))
	case ir.OpXor:
		e.word(xorOp(dstP, p1, p2))
	case ir.OpShl:
		e.word(sld(dstP, p1, p2))
	case ir.OpLShr:
		e.word(srd(dstP, p1, p2))
	case ir.OpAShr:
		e.word(srad(dstP, p1, p2))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op2 %d", op))
	}
	_ = setFlags
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *PPCBackend) RawBytes(raw []byte) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	b.ctx.Buf.Append(raw)
	return nil
}
