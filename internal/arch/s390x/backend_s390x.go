package s390x

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/buffer"
	"github.com/lirjit/lirjit/internal/flags"
	"github.com/lirjit/lirjit/internal/ir"
)

// S390XBackend implements arch.Backend for IBM z/Architecture
// (z/Linux calling convention).
type S390XBackend struct {
	ctx       *arch.Context
	pendingFP bool

	// zero emulates the zero flag z/Architecture's condition code does
	// not reliably carry across the intervening register shuffles this
	// engine's two-pass emission inserts between a flag-setting op and
	// the branch that consumes it. Every SLJIT_SET_Z-style op snapshots
	// its result into flagGPR via LTGR and Touches this slot; a
	// dependent CondEqual/CondNotEqual branch re-tests flagGPR instead
	// of trusting whatever last touched the real CC.
	zero flags.Slot

	jumpSites map[int]jumpSite
}

func New(log *logrus.Entry) *S390XBackend {
	return &S390XBackend{ctx: arch.NewContext(buffer.New(), log)}
}

func (b *S390XBackend) Name() string           { return "s390x" }
func (b *S390XBackend) Context() *arch.Context { return b.ctx }

// condTable maps every predicate straight to a BRC mask. Signed and
// unsigned comparisons share the same mask set (z/Architecture's CC
// means "equal/low/high" regardless of which compare produced it,
// exactly like PowerPC's CR0); Cmp picks CGR vs CLGR up front instead.
var condTable = flags.Table{
	ir.CondEqual:           {Mask: maskEQ},
	ir.CondNotEqual:        {Mask: maskNE},
	ir.CondLess:            {Mask: maskLT},
	ir.CondLessEqual:       {Mask: maskLE},
	ir.CondGreater:         {Mask: maskGT},
	ir.CondGreaterEqual:    {Mask: maskGE},
	ir.CondSigLess:         {Mask: maskLT},
	ir.CondSigLessEqual:    {Mask: maskLE},
	ir.CondSigGreater:      {Mask: maskGT},
	ir.CondSigGreaterEqual: {Mask: maskGE},
	ir.CondCarry:           {Mask: maskCarry},
	ir.CondNotCarry:        {Mask: maskNotCarry},
	ir.CondOverflow:        {Mask: maskOV},
	ir.CondNotOverflow:     {Mask: maskNotOV},
	ir.CondFEqual:          {Mask: maskEQ},
	ir.CondFNotEqual:       {Mask: maskNE},
	ir.CondFLess:           {Mask: maskLT},
	ir.CondFLessEqual:      {Mask: maskLE},
	ir.CondFGreater:        {Mask: maskGT},
	ir.CondFGreaterEqual:   {Mask: maskGE},
	ir.CondFUnordered:      {Mask: maskOV},
	ir.CondFOrdered:        {Mask: maskNotOV},
}

func ccOf(p ir.Predicate) (uint32, error) {
	e, ok := condTable.Lookup(p)
	if !ok {
		return 0, fmt.Errorf("lirjit: predicate %d has no s390x condition code", p)
	}
	return e.Mask, nil
}

func invMask(mask uint32) uint32 { return maskAlways ^ (mask & 0xF) }

// isUnsignedPredicate reports whether Cmp needs CLGR rather than CGR:
// like PowerPC, z/Architecture has separate signed/unsigned compare
// instructions rather than differentiating at branch time.
func isUnsignedPredicate(pred ir.Predicate) bool {
	switch pred {
	case ir.CondLess, ir.CondLessEqual, ir.CondGreater, ir.CondGreaterEqual,
		ir.CondCarry, ir.CondNotCarry:
		return true
	default:
		return false
	}
}

func alignUp(n, to int) int { return (n + to - 1) / to * to }

// frameHeader is this engine's private register-save area. z/Linux's
// real ABI mandates a 160-byte standard frame with specific backchain
// and save-area offsets for C interop; since this JIT only needs to
// honor its own Enter/Return convention, it reserves the same 160
// bytes (staying ABI-stack-size-compatible for any future interop)
// but lays the saved return address and callee-saveds out itself.
const frameHeader = 160

func (b *S390XBackend) Enter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	if abi.Saveds > len(calleeSavedOrder) {
		return b.ctx.Fail(fmt.Errorf("lirjit: ABI requests more saved registers than s390x exposes: %w", arch.ErrBadArgument))
	}
	var e enc
	frameSize := alignUp(frameHeader+8*abi.Saveds+int(abi.LocalSize), 8)
	hi, lo := lay(sp, sp, -int32(frameSize))
	e.put48(hi, lo)
	// r14 holds the caller's return address on entry (BRASL's doing);
	// stash it before this backend starts reusing r14 as LocalsBase.
	hi, lo = stg(r14, sp, 0)
	e.put48(hi, lo)
	for i := 0; i < abi.Saveds; i++ {
		p, _ := physOf(calleeSavedOrder[i])
		hi, lo = stg(p, sp, int32(8+8*i))
		e.put48(hi, lo)
	}
	n := abi.Args.NumArgs()
	for i := 0; i < n && i < len(zLinuxArgRegs); i++ {
		dstReg, ok := reverseArgReg(i)
		if !ok {
			continue
		}
		dst, ok := physOf(dstReg)
		if !ok {
			continue
		}
		if dst != zLinuxArgRegs[i] {
			e.put32(lgr(dst, zLinuxArgRegs[i]))
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
	default:
		return 0, false
	}
}

func (b *S390XBackend) FakeEnter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	abi.Fake = true
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	return nil
}

func (b *S390XBackend) Return(src ir.Operand, hasSrc bool) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	if hasSrc {
		if err := b.movInto(&e, r2, src); err != nil {
			return b.ctx.Fail(err)
		}
	}
	if !b.ctx.ABI.Fake {
		frameSize := alignUp(frameHeader+8*b.ctx.ABI.Saveds+int(b.ctx.ABI.LocalSize), 8)
		for i := 0; i < b.ctx.ABI.Saveds; i++ {
			p, _ := physOf(calleeSavedOrder[i])
			hi, lo := lg(p, sp, int32(8+8*i))
			e.put48(hi, lo)
		}
		hi, lo := lg(r14, sp, 0)
		e.put48(hi, lo)
		hi, lo = lay(sp, sp, int32(frameSize))
		e.put48(hi, lo)
	}
	e.put16(bcr(maskAlways, r14))
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *S390XBackend) touchZero(e *enc, result reg) {
	e.put32(ltgr(flagGPR, result))
	b.zero.Touch(flags.SlotZero)
}

func (b *S390XBackend) Op0(op ir.Op0) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	var e enc
	switch op {
	case ir.OpNop:
		e.put16(bcr(0, r0)) // branch-never: the canonical s390 NOP
	case ir.OpBreakpoint:
		e.put16(0x0000) // reserved all-zero opcode, forces an operation exception
	case ir.OpLMulUW:
		// MLGR's multiplicand operand is hardwired to the odd half of
		// an even/odd register pair, the same fixed-operand constraint
		// x86's MUL/DIV place on EDX:EAX; shuffle through tmp0:tmp1.
		e.put32(lgr(tmp1, r2))
		e.put32(mlgr(tmp0, r3))
		e.put32(lgr(r2, tmp1))
		e.put32(lgr(r3, tmp0))
	case ir.OpLMulSW:
		return b.ctx.Fail(fmt.Errorf("lirjit: signed 128-bit widen multiply needs the miscellaneous-instruction-extensions-2 facility, not assumed present"))
	case ir.OpDivUW:
		e.put32(lghi(tmp0, 0))
		e.put32(lgr(tmp1, r2))
		e.put32(dlgr(tmp0, r3))
		e.put32(lgr(r2, tmp1))
	case ir.OpDivSW:
		e.put32(lgr(tmp1, r2))
		e.put32(dsgr(tmp0, r3))
		e.put32(lgr(r2, tmp1))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op0 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *S390XBackend) Op1(op ir.Op1, size ir.Size, setFlags bool, dst, src ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	var result reg
	haveResult := false
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
			result, haveResult = dstP, true
		}
	case ir.OpNot:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		if err := b.movInto(&e, dstP, src); err != nil {
			return b.ctx.Fail(err)
		}
		e.put32(lghi(tmp0, -1))
		e.put32(xgr(dstP, tmp0))
		result, haveResult = dstP, true
	case ir.OpNeg:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.put32(lcgr(dstP, srcP))
		result, haveResult = dstP, true
	case ir.OpClz:
		dstP, err := operandPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcP, err := b.materialize(&e, src, tmp0)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.put32(flogr(tmp0, srcP))
		e.put32(lgr(dstP, tmp0))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op1 %d", op))
	}
	if setFlags && haveResult {
		b.touchZero(&e, result)
	}
	_ = size
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *S390XBackend) Op2(op ir.Op2, setFlags bool, dst, src1, src2 ir.Operand) error {
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
	if dstP != p1 {
		e.put32(lgr(dstP, p1))
	}
	switch op {
	case ir.OpAdd, ir.OpAddC:
		e.put32(agr(dstP, p2))
	case ir.OpSub, ir.OpSubC:
		e.put32(sgr(dstP, p2))
	case ir.OpMul:
		e.put32(msgr(dstP, p2))
	case ir.OpAnd:
		e.put32(ngr(dstP, p2))
	case ir.OpOr:
		e.put32(ogr(dstP, p2))
	case ir.OpXor:
		e.put32(xgr(dstP, p2))
	case ir.OpShl:
		hi, lo := sllg(dstP, dstP, p2, 0)
		e.put48(hi, lo)
	case ir.OpLShr:
		hi, lo := srlg(dstP, dstP, p2, 0)
		e.put48(hi, lo)
	case ir.OpAShr:
		hi, lo := srag(dstP, dstP, p2, 0)
		e.put48(hi, lo)
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported op2 %d", op))
	}
	if setFlags {
		b.touchZero(&e, dstP)
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *S390XBackend) RawBytes(raw []byte) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	b.ctx.Buf.Append(raw)
	return nil
}
