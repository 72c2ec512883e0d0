package lirjit

import "io"

// Option configures a Compiler at construction time.
type Option func(*Compiler)

// WithSizeHint presizes the first instruction-buffer chunk to n bytes,
// mirroring the original source's create_compiler size_hint parameter
// (SPEC_FULL.md, Supplemented features).
func WithSizeHint(n int) Option {
	return func(c *Compiler) { c.sizeHint = n }
}

// WithVerbose enables Debug-level tracing of every emitted op and
// relocation decision, written to w (spec.md §4.6). Equivalent to
// calling SetVerbose(w) right after NewCompiler.
func WithVerbose(w io.Writer) Option {
	return func(c *Compiler) { c.SetVerbose(w) }
}

// WithDebugAsserts enables the SLJIT_ASSERT-density bad_argument
// checks over operand register indices (SPEC_FULL.md, Supplemented
// features: "SLJIT_FUNC calling-convention verification"). Every Emit*
// call that takes a register, float register, or memory operand then
// verifies the operand stays within the scratch/saved counts latched
// by EmitEnter/EmitFakeEnter, returning a BadArgument error instead of
// silently encoding into a register the prologue never saved.
func WithDebugAsserts() Option {
	return func(c *Compiler) { c.debugAsserts = true }
}
