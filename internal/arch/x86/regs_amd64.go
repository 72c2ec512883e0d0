package x86

import "github.com/lirjit/lirjit/internal/ir"

// physReg is a native x86-64 register number (0-15); bit 3 (>=8) means
// the REX.B/X/R extension bit must be set.
type physReg uint8

const (
	rax physReg = 0
	rcx physReg = 1
	rdx physReg = 2
	rbx physReg = 3
	rsp physReg = 4
	rbp physReg = 5
	rsi physReg = 6
	rdi physReg = 7
	r8  physReg = 8
	r9  physReg = 9
	r10 physReg = 10
	r11 physReg = 11
	r12 physReg = 12
	r13 physReg = 13
	r14 physReg = 14
	r15 physReg = 15
)

// amd64RegMap assigns the engine's symbolic registers to native ones.
// RSP is never exposed; RBP carries the locals-base register; R10/R11
// are reserved hidden temporaries for operand-lowering (spec.md §3
// "a few hidden temporaries are reserved for the encoder's own use").
var amd64RegMap = map[ir.Reg]physReg{
	ir.R0:         rax,
	ir.R1:         rcx,
	ir.R2:         rdx,
	ir.R3:         rsi,
	ir.R4:         rdi,
	ir.R5:         r8,
	ir.R6:         r9,
	ir.S0:         rbx,
	ir.S1:         r12,
	ir.S2:         r13,
	ir.S3:         r14,
	ir.S4:         r15,
	ir.LocalsBase: rbp,
}

const (
	tmp0 = r10
	tmp1 = r11
)

// calleeSavedOrder is the order amd64 prologue/epilogue push/pop saved
// registers in, matching the order a debugger would expect to unwind:
// lowest-indexed symbolic saved register pushed first.
var calleeSavedOrder = []ir.Reg{ir.S0, ir.S1, ir.S2, ir.S3, ir.S4}

// sysVArgRegs is the System V AMD64 ABI's integer argument register
// order, used by Enter to copy incoming arguments into saved-register
// slots (spec.md §4.2 "Prologue").
var sysVArgRegs = []physReg{rdi, rsi, rdx, rcx, r8, r9}

func physOf(r ir.Reg) (physReg, bool) {
	p, ok := amd64RegMap[r]
	return p, ok
}
