package arm

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/buffer"
	"github.com/lirjit/lirjit/internal/flags"
	"github.com/lirjit/lirjit/internal/ir"
)

// ARMBackend implements arch.Backend for 32-bit ARM (A32), AAPCS.
type ARMBackend struct {
	ctx       *arch.Context
	pendingFP bool

	jumpSites map[int]jumpSite
}

func New(log *logrus.Entry) *ARMBackend {
	return &ARMBackend{ctx: arch.NewContext(buffer.New(), log)}
}

func (b *ARMBackend) Name() string          { return "arm" }
func (b *ARMBackend) Context() *arch.Context { return b.ctx }

// condTable maps every predicate to its ARM condition-field value. The
// unsigned/signed split mirrors how this IR names its comparisons
// (CondLess/CondLessEqual/... are unsigned, CondSigLess/... are
// signed), and the float predicates follow VFP's own NZCV convention
// for VCMP (unordered sets the V flag, hence CondFUnordered -> VS).
var condTable = flags.Table{
	ir.CondEqual:           {Mask: 0x0},
	ir.CondNotEqual:        {Mask: 0x1},
	ir.CondLess:            {Mask: 0x3}, // CC/LO
	ir.CondLessEqual:       {Mask: 0x9}, // LS
	ir.CondGreater:         {Mask: 0x8}, // HI
	ir.CondGreaterEqual:    {Mask: 0x2}, // CS/HS
	ir.CondSigLess:         {Mask: 0xB}, // LT
	ir.CondSigLessEqual:    {Mask: 0xD}, // LE
	ir.CondSigGreater:      {Mask: 0xC}, // GT
	ir.CondSigGreaterEqual: {Mask: 0xA}, // GE
	ir.CondCarry:           {Mask: 0x2},
	ir.CondNotCarry:        {Mask: 0x3},
	ir.CondOverflow:        {Mask: 0x6},
	ir.CondNotOverflow:     {Mask: 0x7},
	ir.CondFEqual:          {Mask: 0x0},
	ir.CondFNotEqual:       {Mask: 0x1},
	ir.CondFLess:           {Mask: 0xB},
	ir.CondFLessEqual:      {Mask: 0xD},
	ir.CondFGreater:        {Mask: 0xC},
	ir.CondFGreaterEqual:   {Mask: 0xA},
	ir.CondFUnordered:      {Mask: 0x6},
	ir.CondFOrdered:        {Mask: 0x7},
}

func ccOf(p ir.Predicate) (uint32, error) {
	e, ok := condTable.Lookup(p)
	if !ok {
		return 0, fmt.Errorf("lirjit: predicate %d has no arm condition code", p)
	}
	return e.Mask, nil
}

func alignUp(n, to int) int { return (n + to - 1) / to * to }

func (b *ARMBackend) Enter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	if abi.Saveds > len(calleeSavedOrder) {
		return b.ctx.Fail(fmt.Errorf("lirjit: ABI requests more saved registers than arm exposes: %w", arch.ErrBadArgument))
	}
	var e enc
	mask := uint16(1 << lr)
	for i := 0; i < abi.Saveds; i++ {
		p, _ := physOf(calleeSavedOrder[i])
		mask |= 1 << p
	}
	e.word(pushRegs(mask))
	localSize := alignUp(int(abi.LocalSize), 4)
	if localSize > 0 {
		if localSize <= 0xFF {
			e.word(dpImm(condAL, opSUB, false, sp, sp, uint32(localSize)))
		} else {
			movImm(&e, tmp0, uint32(localSize))
			e.word(dpReg(condAL, opSUB, false, sp, sp, tmp0))
		}
	}
	n := abi.Args.NumArgs()
	for i := 0; i < n && i < len(aapcsArgRegs); i++ {
		var dstReg ir.Reg
		switch i {
		case 0:
			dstReg = ir.R0
		case 1:
			dstReg = ir.R1
		case 2:
			dstReg = ir.R2
		case 3:
			dstReg = ir.R3
		default:
			continue
		}
		dst, ok := physOf(dstReg)
		if !ok {
			continue
		}
		movRegReg(&e, dst, aapcsArgRegs[i])
	}
	b.ctx.Buf.Append(e.b)
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	b.ctx.Trace("enter: saveds=%d local=%d", abi.Saveds, localSize)
	return nil
}

func (b *ARMBackend) FakeEnter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	abi.Fake = true
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	return nil
}

func (b *ARMBackend) Return(src ir.Operand, hasSrc bool) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	if hasSrc {
		if err := b.movInto(&e, r0, src); err != nil {
			return b.ctx.Fail(err)
		}
	}
	if !b.ctx.ABI.Fake {
		localSize := alignUp(int(b.ctx.ABI.LocalSize), 4)
		if localSize > 0 {
			if localSize <= 0xFF {
				e.word(dpImm(condAL, opADD, false, sp, sp, uint32(localSize)))
			} else {
				movImm(&e, tmp0, uint32(localSize))
				e.word(dpReg(condAL, opADD, false, sp, sp, tmp0))
			}
		}
		mask := uint16(1 << pc) // pop straight into pc: acts as the return
		for i := 0; i < b.ctx.ABI.Saveds; i++ {
			p, _ := physOf(calleeSavedOrder[i])
			mask |= 1 << p
		}
		e.word(popRegs(mask))
	} else {
		e.word(bx(lr))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *ARMBackend) Op0(op ir.Op0) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	var e enc
	switch op {
	case ir.OpNop:
		e.word(dpReg(condAL, opMOV, false, r0, 0, r0)) // mov r0, r0
	case ir.OpBreakpoint:
		e.word(condAL<<28 | 0x1200070) // bkpt #0
	case ir.OpLMulUW:
		e.word(longMulReg(false, r0, r1, r0, r1))
	case ir.OpLMulSW:
		e.word(longMulReg(true, r0, r1, r0, r1))
	case ir.OpDivUW:
		w, err := divReg(false, r0, r0, r1)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(w)
	case ir.OpDivSW:
		w, err := divReg(true, r0, r0, r1)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(w)
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op0 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *ARMBackend) Op1(op ir.Op1, size ir.Size, setFlags bool, dst, src ir.Operand) error {
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
		e.word(dpReg(condAL, opMVN, setFlags, dstP, 0, srcP))
	case ir.OpNeg:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(dpImm(condAL, opRSB, setFlags, dstP, srcP, 0)) // rsb dst, src, #0
	case ir.OpClz:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		// CLZ Rd, Rm: cond 0001 0110 1111 Rd 1111 0001 Rm
		e.word(condAL<<28 | 0x16F<<16 | uint32(dstP&0xF)<<12 | 0xF1<<4 | uint32(srcP&0xF))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op1 %d", op))
	}
	_ = size
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *ARMBackend) Op2(op ir.Op2, setFlags bool, dst, src1, src2 ir.Operand) error {
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
	switch op {
	case ir.OpAdd, ir.OpAddC, ir.OpSub, ir.OpSubC, ir.OpAnd, ir.OpOr, ir.OpXor:
		opcode := map[ir.Op2]uint32{
			ir.OpAdd: opADD, ir.OpAddC: opADC, ir.OpSub: opSUB, ir.OpSubC: opSBC,
			ir.OpAnd: opAND, ir.OpOr: opORR, ir.OpXor: opEOR,
		}[op]
		if src2.IsImm() && src2.Imm >= 0 && src2.Imm <= 0xFF {
			e.word(dpImm(condAL, opcode, setFlags, dstP, p1, uint32(src2.Imm)))
		} else {
			p2, err := b.materialize(&e, src2, tmp1)
			if err != nil {
				return b.ctx.Fail(err)
			}
			e.word(dpReg(condAL, opcode, setFlags, dstP, p1, p2))
		}
	case ir.OpMul:
		p2, err := b.materialize(&e, src2, tmp1)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.word(mulReg(dstP, p1, p2))
	case ir.OpShl, ir.OpLShr, ir.OpAShr:
		kind := uint32(shiftLSL)
		if op == ir.OpLShr {
			kind = shiftLSR
		} else if op == ir.OpAShr {
			kind = shiftASR
		}
		if src2.IsImm() {
			e.word(shiftImm(kind, dstP, p1, uint32(src2.Imm&0x1F)))
		} else {
			p2, err := b.materialize(&e, src2, tmp1)
			if err != nil {
				return b.ctx.Fail(err)
			}
			e.word(shiftReg(kind, dstP, p1, p2))
		}
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op2 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *ARMBackend) RawBytes(raw []byte) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	b.ctx.Buf.Append(raw)
	return nil
}
