// Package arm implements the ARMv5/ARMv7 backend (spec.md §1, §4.2),
// 32-bit ARM (A32) instruction encoding under the AAPCS calling
// convention. The two GOARM baselines this repo distinguishes are the
// presence of MOVW/MOVT (ARMv7 and above): where they are absent
// (ARMv5, ARMv6) immediate materialization falls back to an inline
// PC-relative literal, the classic "ldr rd, [pc, #0] / b over / .word
// value" sequence GOARM=5 toolchains use in place of a dedicated
// literal pool (see caps_v5.go/caps_v7.go).
package arm

import "github.com/lirjit/lirjit/internal/ir"

// reg is a native AArch32 general-purpose register number (r0-r15).
type reg uint8

const (
	r0 reg = iota
	r1
	r2
	r3
	r4
	r5
	r6
	r7
	r8
	r9
	r10
	r11 // frame pointer, conventionally
	r12 // ip, intra-procedure-call scratch
	sp
	lr
	pc
)

// tmp0/tmp1 are hidden temporaries reserved for operand lowering.
// r12 (ip) is AAPCS's dedicated scratch register, never preserved
// across a call. lr doubles as the second temporary in the body of a
// function: it is saved to the stack by Enter and restored by Return,
// so it is free for any use between those two points, the same way a
// compiler reuses the link register once the return address has been
// stacked.
const (
	tmp0 = r12
	tmp1 = lr
)

// regMap assigns the engine's symbolic registers to AAPCS ones. r4-r10
// are callee-saved slots (AAPCS reserves r4-r11, this backend keeps
// r11 as the locals-base register instead of a frame pointer chain,
// since this engine never needs stack unwinding through it).
var regMap = map[ir.Reg]reg{
	ir.R0:         r0,
	ir.R1:         r1,
	ir.R2:         r2,
	ir.R3:         r3,
	ir.S0:         r4,
	ir.S1:         r5,
	ir.S2:         r6,
	ir.S3:         r7,
	ir.S4:         r8,
	ir.LocalsBase: r11,
}

var calleeSavedOrder = []ir.Reg{ir.S0, ir.S1, ir.S2, ir.S3, ir.S4}

// aapcsArgRegs is the incoming integer-argument register order.
var aapcsArgRegs = []reg{r0, r1, r2, r3}

func physOf(r ir.Reg) (reg, bool) {
	p, ok := regMap[r]
	return p, ok
}
