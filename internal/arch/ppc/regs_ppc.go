// Package ppc implements the 64-bit PowerPC backend (spec.md §1,
// §4.2), ELFv2 calling convention. Go has no GOARCH for 32-bit
// PowerPC (only ppc64/ppc64le), so only the 64-bit variant is wired
// into a root-level backend_ppc64.go selector; see DESIGN.md for why
// PowerPC-32 has no build target here.
package ppc

import "github.com/lirjit/lirjit/internal/ir"

// reg is a native PowerPC general-purpose register number (r0-r31).
type reg uint8

const (
	r0 reg = iota
	r1      // stack pointer
	r2      // TOC pointer, reserved
	r3
	r4
	r5
	r6
	r7
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
	r16
	r17
	r18
	r19
)

const (
	tmp0 = r11
	tmp1 = r12
)

// regMap assigns the engine's symbolic registers to ELFv2 ones. r3-r9
// double as the first seven argument registers and this backend's
// seven scratch registers; r14-r18 are nonvolatile saved slots; r19
// carries the locals-base register.
var regMap = map[ir.Reg]reg{
	ir.R0:         r3,
	ir.R1:         r4,
	ir.R2:         r5,
	ir.R3:         r6,
	ir.R4:         r7,
	ir.R5:         r8,
	ir.R6:         r9,
	ir.S0:         r14,
	ir.S1:         r15,
	ir.S2:         r16,
	ir.S3:         r17,
	ir.S4:         r18,
	ir.LocalsBase: r19,
}

var calleeSavedOrder = []ir.Reg{ir.S0, ir.S1, ir.S2, ir.S3, ir.S4}

// elfv2ArgRegs is the incoming integer-argument register order.
var elfv2ArgRegs = []reg{r3, r4, r5, r6, r7, r8, r9, r10}

func physOf(r ir.Reg) (reg, bool) {
	p, ok := regMap[r]
	return p, ok
}
