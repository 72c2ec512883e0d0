package lirjit

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// checkOperand enforces the calling-convention invariants
// WithDebugAsserts advertises (SPEC_FULL.md Supplemented features:
// "SLJIT_FUNC calling-convention verification"), mirroring the density
// of original_source/sljit_src/sljitUtils.c's SLJIT_ASSERT calls around
// register indices. It is a no-op unless debug asserts are enabled and
// an ABI has already been latched by EmitEnter/EmitFakeEnter; emit
// methods that run before either call already fail with their own
// not-entered error.
func (c *Compiler) checkOperand(op string, v Operand) error {
	if !c.debugAsserts || !c.backend.Context().ABISet {
		return nil
	}
	abi := c.backend.Context().ABI
	switch {
	case v.IsReg():
		if err := checkRegInABI(v.Reg, abi); err != nil {
			return newError(BadArgument, op, err)
		}
	case v.IsFReg():
		if err := checkFRegInABI(v.FReg, abi); err != nil {
			return newError(BadArgument, op, err)
		}
	case v.IsMem():
		if v.Mem.Base != ir.RegInvalid {
			if err := checkRegInABI(v.Mem.Base, abi); err != nil {
				return newError(BadArgument, op, err)
			}
		}
		if v.Mem.Index != ir.RegInvalid {
			if err := checkRegInABI(v.Mem.Index, abi); err != nil {
				return newError(BadArgument, op, err)
			}
		}
	}
	return nil
}

// checkRegInABI reports whether r falls within the scratch/saved
// counts the latched ABI actually requested. physOf-style lookups in
// internal/arch map every symbolic register to a native one
// unconditionally, so a program that declares Saveds: 2 and then
// touches S3 would otherwise encode silently into a register the
// prologue never saved and the epilogue never restores.
func checkRegInABI(r ir.Reg, abi ir.ABIProfile) error {
	switch {
	case r == ir.LocalsBase:
		return nil
	case r >= ir.R0 && r <= ir.R6:
		if idx := int(r - ir.R0); idx >= abi.Scratches {
			return fmt.Errorf("lirjit: operand references %s but emit_enter only requested %d scratch registers", r, abi.Scratches)
		}
	case r >= ir.S0 && r <= ir.S4:
		if idx := int(r - ir.S0); idx >= abi.Saveds {
			return fmt.Errorf("lirjit: operand references %s but emit_enter only requested %d saved registers", r, abi.Saveds)
		}
	default:
		return fmt.Errorf("lirjit: operand references invalid register %s", r)
	}
	return nil
}

// checkFRegInABI reports whether r falls within the combined float
// scratch/saved budget the latched ABI requested.
func checkFRegInABI(r ir.FReg, abi ir.ABIProfile) error {
	if r < ir.F0 {
		return fmt.Errorf("lirjit: operand references invalid float register %s", r)
	}
	idx := int(r - ir.F0)
	if want := abi.FScratches + abi.FSaveds; idx >= want {
		return fmt.Errorf("lirjit: operand references %s but emit_enter only requested %d float registers", r, want)
	}
	return nil
}
