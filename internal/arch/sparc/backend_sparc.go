package sparc

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/buffer"
	"github.com/lirjit/lirjit/internal/flags"
	"github.com/lirjit/lirjit/internal/ir"
)

// SPARCBackend implements arch.Backend for 64-bit SPARC (V9).
type SPARCBackend struct {
	ctx       *arch.Context
	pendingFP bool

	jumpSites map[int]jumpSite
}

func New(log *logrus.Entry) *SPARCBackend {
	return &SPARCBackend{ctx: arch.NewContext(buffer.New(), log)}
}

func (b *SPARCBackend) Name() string          { return "sparc64" }
func (b *SPARCBackend) Context() *arch.Context { return b.ctx }

// condTable maps every predicate to a Bicc condition nibble. Unsigned
// comparisons use the carry-based mnemonics (BCS/BCC/BLEU/BGU);
// signed ones use the overflow-aware mnemonics (BL/BGE/BLE/BG).
var condTable = flags.Table{
	ir.CondEqual:           {Mask: condBE},
	ir.CondNotEqual:        {Mask: condBNE},
	ir.CondLess:            {Mask: condBCS},
	ir.CondLessEqual:       {Mask: condBLEU},
	ir.CondGreater:         {Mask: condBGU},
	ir.CondGreaterEqual:    {Mask: condBCC},
	ir.CondSigLess:         {Mask: condBL},
	ir.CondSigLessEqual:    {Mask: condBLE},
	ir.CondSigGreater:      {Mask: condBG},
	ir.CondSigGreaterEqual: {Mask: condBGE},
	ir.CondCarry:           {Mask: condBCS},
	ir.CondNotCarry:        {Mask: condBCC},
	ir.CondOverflow:        {Mask: condBVS},
	ir.CondNotOverflow:     {Mask: condBVC},
	ir.CondFEqual:          {Mask: condBE},
	ir.CondFNotEqual:       {Mask: condBNE},
	ir.CondFLess:           {Mask: condBL},
	ir.CondFLessEqual:      {Mask: condBLE},
	ir.CondFGreater:        {Mask: condBG},
	ir.CondFGreaterEqual:   {Mask: condBGE},
	ir.CondFUnordered:      {Mask: condBVS},
	ir.CondFOrdered:        {Mask: condBVC},
}

func ccOf(p ir.Predicate) (uint32, error) {
	e, ok := condTable.Lookup(p)
	if !ok {
		return 0, fmt.Errorf("lirjit: predicate %d has no sparc condition code", p)
	}
	return e.Mask, nil
}

// invCond returns the condition that fires exactly when cond does not.
func invCond(cond uint32) uint32 {
	switch cond {
	case condBE:
		return condBNE
	case condBNE:
		return condBE
	case condBCS:
		return condBCC
	case condBCC:
		return condBCS
	case condBLEU:
		return condBGU
	case condBGU:
		return condBLEU
	case condBL:
		return condBGE
	case condBGE:
		return condBL
	case condBLE:
		return condBG
	case condBG:
		return condBLE
	case condBVS:
		return condBVC
	case condBVC:
		return condBVS
	default:
		return condBN
	}
}

func alignUp(n, to int) int { return (n + to - 1) / to * to }

// minFrame is SPARC's mandatory frame prefix: the register save area
// (16 doublewords for in+local registers, 128 bytes) plus the
// 6-doubleword (48-byte) outgoing-argument area, which this engine
// reserves but does not use.
const minFrame = 176

func (b *SPARCBackend) Enter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	if abi.Saveds > len(calleeSavedOrder) {
		return b.ctx.Fail(fmt.Errorf("lirjit: ABI requests more saved registers than sparc64 exposes: %w", arch.ErrBadArgument))
	}
	var e enc
	frameSize := alignUp(minFrame+8*abi.Saveds+int(abi.LocalSize), 16)
	// This engine never rotates a register window (see package doc),
	// so the frame is just a %sp bump, not a SAVE.
	e.word(arithImm(opSUB, sp, sp, int32(frameSize)))
	for i := 0; i < abi.Saveds; i++ {
		p, _ := physOf(calleeSavedOrder[i])
		e.word(stx(p, sp, int32(minFrame+8*i)))
	}
	n := abi.Args.NumArgs()
	for i := 0; i < n && i < len(outArgRegs); i++ {
		dstReg, ok := reverseArgReg(i)
		if !ok {
			continue
		}
		dst, ok := physOf(dstReg)
		if !ok {
			continue
		}
		if dst != outArgRegs[i] {
			e.word(mov(dst, outArgRegs[i]))
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
	default:
		return 0, false
	}
}

func (b *SPARCBackend) FakeEnter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	abi.Fake = true
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	return nil
}

func (b *SPARCBackend) Return(src ir.Operand, hasSrc bool) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	if hasSrc {
		if err := b.movInto(&e, o0, src); err != nil {
			return b.ctx.Fail(err)
		}
	}
	if !b.ctx.ABI.Fake {
		frameSize := alignUp(minFrame+8*b.ctx.ABI.Saveds+int(b.ctx.ABI.LocalSize), 16)
		for i := 0; i < b.ctx.ABI.Saveds; i++ {
			p, _ := physOf(calleeSavedOrder[i])
			e.word(ldx(p, sp, int32(minFrame+8*i)))
		}
		// jmpl %o7+8, %g0 (return to caller) with its delay slot
		// restoring %sp, the idiomatic SPARC "no window" epilogue.
		e.word(jmpl(g0, o7, 8))
		e.word(arithImm(opADD, sp, sp, int32(frameSize)))
	} else {
		e.word(jmpl(g0, o7, 8))
		e.word(nop())
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *SPARCBackend) Op0(op ir.Op0) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	var e enc
	switch op {
	case ir.OpNop:
		e.word(nop())
	case ir.OpBreakpoint:
		e.word(trapAlways(1)) // ta 1
	case ir.OpLMulUW:
		e.word(arith(opMULX, o0, o0, o1))
	case ir.OpLMulSW:
		e.word(arith(opMULX, o0, o0, o1))
	case ir.OpDivUW:
		e.word(arith(opUDIVX, o0, o0, o1))
	case ir.OpDivSW:
		e.word(arith(opSDIVX, o0, o0, o1))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op0 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *SPARCBackend) Op1(op ir.Op1, size ir.Size, setFlags bool, dst, src ir.Operand) error {
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
		e.word(arith(opXNOR, dstP, srcP, g0))
	case ir.OpNeg:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(arith(opSUB, dstP, g0, srcP))
	case ir.OpClz:
		return b.ctx.Fail(fmt.Errorf("lirjit: clz has no native sparc64 instruction"))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op1 %d", op))
	}
	_ = size
	_ = setFlags
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *SPARCBackend) Op2(op ir.Op2, setFlags bool, dst, src1, src2 ir.Operand) error {
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
		e.word(arith(opADD, dstP, p1, p2))
	case ir.OpSub, ir.OpSubC:
		e.word(arith(opSUB, dstP, p1, p2))
	case ir.OpMul:
		e.word(arith(opMULX, dstP, p1, p2))
	case ir.OpAnd:
		e.word(arith(opAND, dstP, p1, p2))
	case ir.OpOr:
		e.word(arith(opOR, dstP, p1, p2))
	case ir.OpXor:
		e.word(arith(opXOR, dstP, p1, p2))
	case ir.OpShl:
		e.word(sllxReg(dstP, p1, p2))
	case ir.OpLShr:
		e.word(srlxReg(dstP, p1, p2))
	case ir.OpAShr:
		e.word(sraxReg(dstP, p1, p2))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op2 %d", op))
	}
	_ = setFlags
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *SPARCBackend) RawBytes(raw []byte) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	b.ctx.Buf.Append(raw)
	return nil
}
