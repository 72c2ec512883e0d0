// Package sparc implements the 64-bit SPARC (V9) backend (spec.md
// §1, §4.2). Go has no GOARCH for 32-bit SPARC — only sparc64 was
// ever shipped — so, as with PowerPC-32, only the 64-bit variant is
// wired into a root-level backend_sparc64.go selector; see DESIGN.md.
//
// This backend treats SPARC's register-window ABI as flat: it never
// emits SAVE/RESTORE to rotate in a fresh window, instead keeping all
// symbolic registers pinned to the %o (out) and %l (local) register
// banks of whatever window is live on entry. That is a deliberate
// simplification appropriate to a self-contained JIT that only needs
// to honor its own internal calling convention at Enter/Return, not
// interop with arbitrary C frames across window spills.
package sparc

import "github.com/lirjit/lirjit/internal/ir"

// reg is a native SPARC register number (0-31): %g0-%g7, %o0-%o7,
// %l0-%l7, %i0-%i7 in that fixed order.
type reg uint8

const (
	g0 reg = iota
	g1
	g2
	g3
	g4
	g5
	g6
	g7
	o0
	o1
	o2
	o3
	o4
	o5
	sp // %o6
	o7
	l0
	l1
	l2
	l3
	l4
	l5
	l6
	l7
	i0
	i1
	i2
	i3
	i4
	i5
	fp // %i6
	i7
)

// tmp0/tmp1 are hidden scratch globals. %g1 is the conventional
// assembler-temporary register; %g3 is an "application global" free
// for non-ABI-interop code, which this self-contained engine is.
const (
	tmp0 = g1
	tmp1 = g3
	// immScratch backs the second temporary movImm64 needs internally
	// to build a 64-bit constant; kept distinct from tmp0/tmp1 so a
	// caller materializing an immediate into either of those never
	// collides with movImm64's own scratch-register use.
	immScratch = g5
)

// regMap assigns the engine's symbolic registers onto the %o (out)
// bank for scratch/argument registers and the %l (local) bank for
// saved registers, following SPARC's own out/local register-role
// convention without rotating a new window to get them.
var regMap = map[ir.Reg]reg{
	ir.R0:         o0,
	ir.R1:         o1,
	ir.R2:         o2,
	ir.R3:         o3,
	ir.R4:         o4,
	ir.R5:         o5,
	ir.S0:         l0,
	ir.S1:         l1,
	ir.S2:         l2,
	ir.S3:         l3,
	ir.S4:         l4,
	ir.LocalsBase: l5,
}

var calleeSavedOrder = []ir.Reg{ir.S0, ir.S1, ir.S2, ir.S3, ir.S4}

// outArgRegs is the incoming integer-argument register order, per
// SPARC's standard convention of passing the first six integer
// arguments in %o0-%o5.
var outArgRegs = []reg{o0, o1, o2, o3, o4, o5}

func physOf(r ir.Reg) (reg, bool) {
	p, ok := regMap[r]
	return p, ok
}
