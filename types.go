package lirjit

import "github.com/lirjit/lirjit/internal/ir"

// Reg identifies a symbolic general-purpose register (spec.md §3).
type Reg = ir.Reg

// Register constants, re-exported from internal/ir so callers never
// import an internal package.
const (
	R0         = ir.R0
	R1         = ir.R1
	R2         = ir.R2
	R3         = ir.R3
	R4         = ir.R4
	R5         = ir.R5
	R6         = ir.R6
	S0         = ir.S0
	S1         = ir.S1
	S2         = ir.S2
	S3         = ir.S3
	S4         = ir.S4
	LocalsBase = ir.LocalsBase
)

// NumScratch and NumSaved bound how many R*/S* registers a program may
// request from EmitEnter.
const (
	NumScratch = ir.NumScratch
	NumSaved   = ir.NumSaved
)

// FReg identifies a symbolic scalar double-precision float register.
type FReg = ir.FReg

const (
	F0 = ir.F0
	F1 = ir.F1
	F2 = ir.F2
	F3 = ir.F3
	F4 = ir.F4
	F5 = ir.F5
)

// Operand is a tagged register/immediate/memory value.
type Operand = ir.Operand

// R, FR, Imm, and the Mem* constructors build Operand values.
var (
	R         = ir.R
	FR        = ir.FR
	Imm       = ir.Imm
	Mem0      = ir.Mem0
	Mem1      = ir.Mem1
	MemDisp   = ir.MemDisp
	Mem2      = ir.Mem2
	Mem2Shift = ir.Mem2Shift
)

// Size selects a move/extend op's width.
type Size = ir.Size

const (
	SizeWord = ir.SizeWord
	SizeU8   = ir.SizeU8
	SizeS8   = ir.SizeS8
	SizeU16  = ir.SizeU16
	SizeS16  = ir.SizeS16
	SizeU32  = ir.SizeU32
	SizeS32  = ir.SizeS32
)

// Op0, Op1, Op2, FOp1, FOp2 enumerate zero/unary/binary ops.
type (
	Op0  = ir.Op0
	Op1  = ir.Op1
	Op2  = ir.Op2
	FOp1 = ir.FOp1
	FOp2 = ir.FOp2
)

const (
	OpNop        = ir.OpNop
	OpBreakpoint = ir.OpBreakpoint
	OpLMulUW     = ir.OpLMulUW
	OpLMulSW     = ir.OpLMulSW
	OpDivUW      = ir.OpDivUW
	OpDivSW      = ir.OpDivSW

	OpMov  = ir.OpMov
	OpMovU = ir.OpMovU
	OpNot  = ir.OpNot
	OpNeg  = ir.OpNeg
	OpClz  = ir.OpClz

	OpAdd  = ir.OpAdd
	OpAddC = ir.OpAddC
	OpSub  = ir.OpSub
	OpSubC = ir.OpSubC
	OpMul  = ir.OpMul
	OpAnd  = ir.OpAnd
	OpOr   = ir.OpOr
	OpXor  = ir.OpXor
	OpShl  = ir.OpShl
	OpLShr = ir.OpLShr
	OpAShr = ir.OpAShr

	OpFMov = ir.OpFMov
	OpFAbs = ir.OpFAbs
	OpFNeg = ir.OpFNeg
	OpFCmp = ir.OpFCmp

	OpFAdd = ir.OpFAdd
	OpFSub = ir.OpFSub
	OpFMul = ir.OpFMul
	OpFDiv = ir.OpFDiv
)

// Predicate enumerates the emulated condition codes a jump, cmp, or
// op_flags can test.
type Predicate = ir.Predicate

const (
	CondAlways          = ir.CondAlways
	CondEqual           = ir.CondEqual
	CondNotEqual        = ir.CondNotEqual
	CondLess            = ir.CondLess
	CondLessEqual       = ir.CondLessEqual
	CondGreater         = ir.CondGreater
	CondGreaterEqual    = ir.CondGreaterEqual
	CondSigLess         = ir.CondSigLess
	CondSigLessEqual    = ir.CondSigLessEqual
	CondSigGreater      = ir.CondSigGreater
	CondSigGreaterEqual = ir.CondSigGreaterEqual
	CondCarry           = ir.CondCarry
	CondNotCarry        = ir.CondNotCarry
	CondOverflow        = ir.CondOverflow
	CondNotOverflow     = ir.CondNotOverflow
	CondFEqual          = ir.CondFEqual
	CondFNotEqual       = ir.CondFNotEqual
	CondFLess           = ir.CondFLess
	CondFLessEqual      = ir.CondFLessEqual
	CondFGreater        = ir.CondFGreater
	CondFGreaterEqual   = ir.CondFGreaterEqual
	CondFUnordered      = ir.CondFUnordered
	CondFOrdered        = ir.CondFOrdered
)

// CallKind distinguishes the three call shapes EmitJump/EmitIJump
// support.
type CallKind = ir.CallKind

const (
	NotCall      = ir.NotCall
	CallDirect   = ir.CallDirect
	CallIndirect = ir.CallIndirect
	CallFast     = ir.CallFast
)

// JumpFlags configures EmitJump/EmitCmp.
type JumpFlags = ir.JumpFlags

const (
	JumpToLabel    = ir.JumpToLabel
	JumpToTarget   = ir.JumpToTarget
	JumpRewritable = ir.JumpRewritable
	JumpIsCall     = ir.JumpIsCall
)

// ArgKind and ArgTypes describe emit_enter's packed argument word.
type (
	ArgKind  = ir.ArgKind
	ArgTypes = ir.ArgTypes
)

const (
	ArgNone   = ir.ArgNone
	ArgWord   = ir.ArgWord
	ArgW32    = ir.ArgW32
	ArgFloat  = ir.ArgFloat
	ArgDouble = ir.ArgDouble
)

// ABI describes the function EmitEnter/EmitFakeEnter latches: how many
// scratch/saved integer and float registers the program exposes, the
// argument layout, and the local frame size it wants reserved.
type ABI struct {
	Args       ArgTypes
	Scratches  int
	Saveds     int
	FScratches int
	FSaveds    int
	LocalSize  int32
}

func (a ABI) toIR(fake bool) ir.ABIProfile {
	return ir.ABIProfile{
		Args: a.Args, Scratches: a.Scratches, Saveds: a.Saveds,
		FScratches: a.FScratches, FSaveds: a.FSaveds, LocalSize: a.LocalSize,
		Fake: fake,
	}
}
