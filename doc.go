// Package lirjit is a platform-abstraction JIT code generator: a
// client describes a function body once, in terms of a small
// architecture-neutral register/operand model, and this package
// lowers it to native machine code for whichever of seven ISA targets
// (x86-32, x86-64, 32-bit ARM (A32, ARMv5 through ARMv7), ARM64,
// PowerPC-64, SPARC64, S390x) the build is compiled for. There is no
// ARM Thumb2, PowerPC-32 or SPARC-32 backend.
//
// A typical client:
//
//	c := lirjit.NewCompiler()
//	c.EmitEnter(lirjit.ABI{Scratches: 2, Args: lirjit.ArgTypes{...}})
//	c.EmitOp2(lirjit.OpAdd, false, lirjit.R(lirjit.R0), lirjit.R(lirjit.R0), lirjit.R(lirjit.R1))
//	c.EmitReturn(lirjit.R(lirjit.R0))
//	code, err := c.GenerateCode()
//	defer code.Free()
//
// Code generation is a one-shot, two-pass pipeline (spec.md §4.4): emit
// calls append to an in-memory instruction buffer and record label/
// jump/const metadata; GenerateCode flattens the buffer, acquires
// executable memory, and resolves every deferred relocation against
// the now-final code address. A Compiler is single-use: once
// GenerateCode has run, further Emit calls fail with ErrCompiled.
package lirjit
