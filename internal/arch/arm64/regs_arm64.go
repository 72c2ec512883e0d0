// Package arm64 implements the ARM64 (AArch64) backend (spec.md §1,
// §4.2), AAPCS64 calling convention. Encodings follow the fixed
// 32-bit instruction word shapes documented in the teacher pack's
// tinyrange-rtg/std/compiler/aarch64.go and zhubert-rush/jit's
// arm64_codegen.go (opcode constants, STP/LDP prologue shape, MOVZ/
// MOVK immediate materialization, B.cond relocation pattern) — adapted
// here to this engine's symbolic register/operand model rather than a
// bytecode-VM's stack machine.
package arm64

import "github.com/lirjit/lirjit/internal/ir"

// xreg is a native AArch64 general-purpose register number (0-30, or
// 31 for SP/XZR depending on instruction context).
type xreg uint8

const (
	x0 xreg = iota
	x1
	x2
	x3
	x4
	x5
	x6
	x7
	x8
	x9
	x10
	x11
	x12
	x13
	x14
	x15
	x16
	x17
	x18
	x19
	x20
	x21
	x22
	x23
	x24
	x25
	x26
	x27
	x28
	x29 // frame pointer
	x30 // link register
	xzrOrSP
)

// tmp0/tmp1 are hidden temporaries reserved for operand lowering
// (spec.md §3); x16/x17 are the AAPCS64 "intra-procedure-call"
// scratch registers, conventionally free for exactly this role.
const (
	tmp0 = x16
	tmp1 = x17
)

// regMap assigns the engine's symbolic registers to AAPCS64 ones.
// x19-x23 are callee-saved slots; x24 carries the locals-base
// register, distinct from the x29 frame pointer, so a client's
// local frame sits at a fixed offset regardless of how many saved
// registers were pushed.
var regMap = map[ir.Reg]xreg{
	ir.R0:         x0,
	ir.R1:         x1,
	ir.R2:         x2,
	ir.R3:         x3,
	ir.R4:         x4,
	ir.R5:         x5,
	ir.R6:         x6,
	ir.S0:         x19,
	ir.S1:         x20,
	ir.S2:         x21,
	ir.S3:         x22,
	ir.S4:         x23,
	ir.LocalsBase: x24,
}

// calleeSavedOrder mirrors amd64's: ascending symbolic order.
var calleeSavedOrder = []ir.Reg{ir.S0, ir.S1, ir.S2, ir.S3, ir.S4}

// aapcs64ArgRegs is the incoming integer-argument register order.
var aapcs64ArgRegs = []xreg{x0, x1, x2, x3, x4, x5, x6, x7}

func physOf(r ir.Reg) (xreg, bool) {
	p, ok := regMap[r]
	return p, ok
}
