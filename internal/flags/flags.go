// Package flags holds the shared lookup-table type backends use to map
// an emulated predicate (ir.Predicate) onto a native condition mask,
// per spec.md §4.3: "Every emitted condition-set op specifies which
// ISA-native condition mask implements the requested emulated
// predicate (a small lookup table per arch, entries comprising the
// native mask and an 'invert' bit)."
package flags

import "github.com/lirjit/lirjit/internal/ir"

// Entry is one row of a per-arch predicate table.
type Entry struct {
	Mask   uint32
	Invert bool
}

// Table maps every ir.Predicate this engine defines to a native entry.
// A backend that cannot express a predicate directly (e.g. no hardware
// overflow flag) leaves it unset and synthesizes it in software at the
// call site instead (see Slot).
type Table map[ir.Predicate]Entry

// Lookup returns the entry for p and whether the arch defines one.
func (t Table) Lookup(p ir.Predicate) (Entry, bool) {
	e, ok := t[p]
	return e, ok
}

// Slot is a reserved general-purpose register standing in for a
// condition flag the ISA does not natively provide (spec.md §4.3's
// zero-flag-in-a-GPR pattern on S390x). Wrapping it in a type, per
// spec.md DESIGN NOTES §9, stops an encoder from accidentally
// clobbering it between a flag-setting op and the branch that consumes
// it: every write between the two must go through Touch.
type Slot struct {
	Reg     ir.Reg
	dirty   bool
	kind    Kind
}

// Kind distinguishes which emulated flag a Slot is standing in for.
type Kind uint8

const (
	SlotZero Kind = iota
	SlotCarry
	SlotOverflow
)

// Touch marks the slot as holding a live value produced by the most
// recent flag-setting op. A backend must call Clear before reusing the
// slot's register for anything else.
func (s *Slot) Touch(kind Kind) { s.dirty = true; s.kind = kind }

// Clear marks the slot as no longer holding a meaningful flag value.
func (s *Slot) Clear() { s.dirty = false }

// Valid reports whether the slot holds kind's value right now.
func (s *Slot) Valid(kind Kind) bool { return s.dirty && s.kind == kind }
