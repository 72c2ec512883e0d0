// Package ir defines the architecture-neutral low-level intermediate
// representation shared by the public compiler API and every per-arch
// backend. Nothing in this package knows how to turn an op into bytes;
// it only describes what was asked for.
package ir

// Reg identifies a symbolic general-purpose register in the engine's
// virtual register file. Index zero is reserved as an invalid sentinel
// so a zero Operand can never be mistaken for a valid register operand.
type Reg uint8

// Scratch registers are caller-saved; saved registers are callee-saved
// and restored by EmitReturn. LocalsBase exposes the caller-requested
// local frame. The exact count exposed to a program is bounded by the
// ABI profile latched at EmitEnter time, not by this list: an
// architecture may expose fewer than NumScratch/NumSaved registers.
const (
	RegInvalid Reg = iota
	R0
	R1
	R2
	R3
	R4
	R5
	R6
	S0
	S1
	S2
	S3
	S4
	LocalsBase
	regCount
)

// NumScratch and NumSaved bound how many of R*/S* a program may ask
// emit_enter to expose; the rest are reserved as hidden temporaries for
// operand lowering (address materialization, wide immediates).
const (
	NumScratch = 7
	NumSaved   = 5
)

func (r Reg) String() string {
	names := [...]string{
		"<invalid>", "r0", "r1", "r2", "r3", "r4", "r5", "r6",
		"s0", "s1", "s2", "s3", "s4", "locals",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "<bad-reg>"
}

// FReg identifies a symbolic scalar double-precision floating point
// register, independent of the Reg numbering.
type FReg uint8

const (
	FRegInvalid FReg = iota
	F0
	F1
	F2
	F3
	F4
	F5
	fregCount
)

func (r FReg) String() string {
	names := [...]string{"<invalid>", "f0", "f1", "f2", "f3", "f4", "f5"}
	if int(r) < len(names) {
		return names[r]
	}
	return "<bad-freg>"
}

// OperandKind tags what an Operand holds.
type OperandKind uint8

const (
	KindReg OperandKind = iota
	KindFReg
	KindImm
	KindMem
)

// Mem describes one of the five memory-addressing shapes spec.md §3
// allows: [base], [base+disp], [base+index], [base+index<<shift+disp],
// or [absolute]. A zero Base with Absolute set means the displacement
// field holds a full host address.
type Mem struct {
	Base     Reg
	Index    Reg
	Shift    uint8 // 0..3, scale = 1<<Shift
	Disp     int64
	Absolute bool
}

// Operand is a tagged word: a register, a float register, an
// immediate, or a memory expression.
type Operand struct {
	Kind OperandKind
	Reg  Reg
	FReg FReg
	Imm  int64
	Mem  Mem
}

// R wraps a general-purpose register as an Operand.
func R(r Reg) Operand { return Operand{Kind: KindReg, Reg: r} }

// FR wraps a float register as an Operand.
func FR(r FReg) Operand { return Operand{Kind: KindFReg, FReg: r} }

// Imm wraps a signed immediate as an Operand.
func Imm(v int64) Operand { return Operand{Kind: KindImm, Imm: v} }

// Mem0 addresses an absolute host address.
func Mem0(addr int64) Operand { return Operand{Kind: KindMem, Mem: Mem{Absolute: true, Disp: addr}} }

// Mem1 addresses [base].
func Mem1(base Reg) Operand { return Operand{Kind: KindMem, Mem: Mem{Base: base}} }

// MemDisp addresses [base+disp].
func MemDisp(base Reg, disp int64) Operand {
	return Operand{Kind: KindMem, Mem: Mem{Base: base, Disp: disp}}
}

// Mem2 addresses [base+index].
func Mem2(base, index Reg) Operand {
	return Operand{Kind: KindMem, Mem: Mem{Base: base, Index: index}}
}

// Mem2Shift addresses [base+index<<shift+disp].
func Mem2Shift(base, index Reg, shift uint8, disp int64) Operand {
	return Operand{Kind: KindMem, Mem: Mem{Base: base, Index: index, Shift: shift, Disp: disp}}
}

// IsMem reports whether the operand is a memory expression.
func (o Operand) IsMem() bool { return o.Kind == KindMem }

// IsImm reports whether the operand is an immediate.
func (o Operand) IsImm() bool { return o.Kind == KindImm }

// IsReg reports whether the operand is a plain register.
func (o Operand) IsReg() bool { return o.Kind == KindReg }

// Size selects the width of a move/zero-extend/sign-extend op1 variant.
type Size uint8

const (
	SizeWord Size = iota // native register width
	SizeU8
	SizeS8
	SizeU16
	SizeS16
	SizeU32
	SizeS32
)

// Op0 enumerates zero-operand ops: nop, breakpoint, and the wide
// multiply/divide primitives that produce a register pair.
type Op0 uint8

const (
	OpNop Op0 = iota
	OpBreakpoint
	OpLMulUW // unsigned widening multiply, low:high in two scratch regs
	OpLMulSW // signed widening multiply
	OpDivUW  // unsigned wide divide, quotient:remainder
	OpDivSW  // signed wide divide
)

// Op1 enumerates unary arithmetic and move ops. SetFlags requests the
// flag-setting native variant where one exists.
type Op1 uint8

const (
	OpMov Op1 = iota
	OpMovU // pre/post-increment addressing variant of OpMov
	OpNot
	OpNeg
	OpClz // count leading zeros
)

// Op2 enumerates binary arithmetic/bitwise ops.
type Op2 uint8

const (
	OpAdd Op2 = iota
	OpAddC // add with carry-in
	OpSub
	OpSubC // sub with borrow-in
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr
)

// FOp1 enumerates unary scalar double-precision FP ops.
type FOp1 uint8

const (
	OpFMov FOp1 = iota
	OpFAbs
	OpFNeg
	OpFCmp // writes the FP condition state consumed by the next EmitJump
)

// FOp2 enumerates binary scalar double-precision FP ops.
type FOp2 uint8

const (
	OpFAdd FOp2 = iota
	OpFSub
	OpFMul
	OpFDiv
)

// Predicate enumerates the emulated condition codes a jump, cmp, or
// op_flags can test. Integer and floating comparisons share one space;
// backends map each to a native mask plus an invert bit per §4.3.
type Predicate uint8

const (
	CondAlways Predicate = iota
	CondEqual
	CondNotEqual
	CondLess
	CondLessEqual
	CondGreater
	CondGreaterEqual
	CondSigLess
	CondSigLessEqual
	CondSigGreater
	CondSigGreaterEqual
	CondCarry
	CondNotCarry
	CondOverflow
	CondNotOverflow
	CondFEqual
	CondFNotEqual
	CondFLess
	CondFLessEqual
	CondFGreater
	CondFGreaterEqual
	CondFUnordered
	CondFOrdered
)

// CallKind distinguishes the three call shapes spec.md §4.2 names.
type CallKind uint8

const (
	NotCall CallKind = iota
	CallDirect
	CallIndirect
	CallFast
)

// JumpFlags is the bitset spec.md §3 assigns to Jump.flags.
type JumpFlags uint32

const (
	// JumpToLabel marks the target as a label rather than a fixed
	// address; mutually exclusive with JumpToTarget.
	JumpToLabel JumpFlags = 1 << iota
	JumpToTarget
	// JumpRewritable forces a conservative long encoding so
	// SetJumpAddr can retarget the branch after GenerateCode.
	JumpRewritable
	// JumpIsCall marks a call-shaped jump (argument shuffle emitted
	// before the branch).
	JumpIsCall
)

// ArgKind enumerates the scalar kinds emit_enter's packed arg_types
// word can describe per argument slot.
type ArgKind uint8

const (
	ArgNone ArgKind = iota
	ArgWord
	ArgW32
	ArgFloat
	ArgDouble
)

// ArgTypes packs a return kind plus up to four argument kinds, mirroring
// original_source/sljit_src/sljitLir.h's arg_types word (see
// SPEC_FULL.md, Data Model supplement).
type ArgTypes struct {
	Return ArgKind
	Args   [4]ArgKind
}

// NumArgs reports how many non-empty argument slots are set.
func (a ArgTypes) NumArgs() int {
	n := 0
	for _, k := range a.Args {
		if k == ArgNone {
			break
		}
		n++
	}
	return n
}
