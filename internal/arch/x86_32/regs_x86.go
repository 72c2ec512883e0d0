// Package x86_32 implements the x86-32 (IA-32, GOARCH=386) backend
// (spec.md §1, §4.2), cdecl calling convention: arguments arrive on the
// stack rather than in registers, and there are only eight
// general-purpose registers with no REX-style extension, so with ecx/edx
// reserved as the two hidden temporaries fewer scratch/saved registers
// are exposed here than on amd64 or arm64. Encoding follows the same ModRM/SIB byte shapes as
// internal/arch/x86's amd64 backend, just without a REX prefix and
// without the r8-r15 extension range.
package x86_32

import "github.com/lirjit/lirjit/internal/ir"

// physReg is a native IA-32 register number (0-7).
type physReg uint8

const (
	eax physReg = 0
	ecx physReg = 1
	edx physReg = 2
	ebx physReg = 3
	esp physReg = 4
	ebp physReg = 5
	esi physReg = 6
	edi physReg = 7
)

// regMap assigns the engine's symbolic registers to native ones. esp is
// never exposed (stack pointer); ebp carries the locals-base register;
// ecx/edx are reserved hidden temporaries, leaving only four symbolic
// registers (R0-R2, S0) mapped — this backend's register-starved
// compromise (spec.md §3).
var regMap = map[ir.Reg]physReg{
	ir.R0:         eax,
	ir.R1:         ebx,
	ir.R2:         esi,
	ir.S0:         edi,
	ir.LocalsBase: ebp,
}

const (
	tmp0 = ecx
	tmp1 = edx
)

// calleeSavedOrder lists the symbolic saved registers this backend
// exposes, in push/pop order.
var calleeSavedOrder = []ir.Reg{ir.S0}

func physOf(r ir.Reg) (physReg, bool) {
	p, ok := regMap[r]
	return p, ok
}
