// Package s390x implements the IBM z/Architecture backend (spec.md
// §1, §4.2), the z/Linux calling convention. GOARCH=s390x is one of
// Go's real targets, unlike the 32-bit PowerPC/SPARC cases elsewhere
// in this tree.
package s390x

import "github.com/lirjit/lirjit/internal/ir"

// reg is a native general-purpose register number (r0-r15).
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
	r11
	r12
	r13
	r14
	sp // r15
)

const (
	tmp0 = r0
	tmp1 = r1
	// flagGPR backs the zero-flag emulation slot: z/Architecture's CC
	// register has op-specific, overwritable meaning, so a
	// flag-setting op's "was the result zero" fact is snapshotted into
	// this dedicated register via LTGR and re-tested with LTGR right
	// before a dependent branch consumes it (see backend_s390x.go's
	// zero flags.Slot field and spec.md §4.4's "flag register" note).
	flagGPR = r13
)

// regMap follows z/Linux's own argument-register assignment for the
// scratch window (r2-r6 are both the first five integer arguments and
// this engine's five scratch registers) and leaves r8-r12 as the
// saved-register window. r14, which z/Linux uses for the return
// address, is reused as the locals-base register after Enter has
// stacked it — the same free-after-prologue trick the arm backend
// plays with r14/lr.
var regMap = map[ir.Reg]reg{
	ir.R0:         r2,
	ir.R1:         r3,
	ir.R2:         r4,
	ir.R3:         r5,
	ir.R4:         r6,
	ir.S0:         r8,
	ir.S1:         r9,
	ir.S2:         r10,
	ir.S3:         r11,
	ir.S4:         r12,
	ir.LocalsBase: r14,
}

var calleeSavedOrder = []ir.Reg{ir.S0, ir.S1, ir.S2, ir.S3, ir.S4}

// zLinuxArgRegs is the incoming integer-argument register order.
var zLinuxArgRegs = []reg{r2, r3, r4, r5, r6}

func physOf(r ir.Reg) (reg, bool) {
	p, ok := regMap[r]
	return p, ok
}
