package lirjit

import (
	"github.com/lirjit/lirjit/internal/execmem"
	"github.com/lirjit/lirjit/internal/reloc"
)

// GenerateCode flattens the instruction buffer, acquires executable
// memory sized to it, and resolves every deferred relocation against
// the final code address (spec.md §4.4, §6). The Compiler cannot be
// used for further Emit calls afterward.
func (c *Compiler) GenerateCode() (*Code, error) {
	if err := c.checkNotGenerated("generate_code"); err != nil {
		return nil, err
	}
	if c.backend.Context().Failed() {
		return nil, newError(classify(c.backend.Context().Err), "generate_code", c.backend.Context().Err)
	}

	alloc, err := execmem.Selected()
	if err != nil {
		return nil, newError(AllocatorProbeFailed, "generate_code", err)
	}

	ctx := c.backend.Context()
	linked, err := reloc.Link(ctx.Buf, ctx.Fixups, alloc)
	if err != nil {
		// A fixup can fail because a jump was bound to a label id the
		// caller never actually emitted (classify reports that as
		// BadArgument); anything else here is a real allocator/
		// memory-protection failure.
		if kind := classify(err); kind == BadArgument {
			return nil, newError(kind, "generate_code", err)
		}
		return nil, newError(MemoryError, "generate_code", err)
	}
	c.generated = true

	reloc.ResolveLabels(ctx.Labels, linked.CodeBase)
	reloc.ResolveJumps(ctx.Jumps, linked.CodeBase)
	reloc.ResolveConsts(ctx.Consts, linked.CodeBase)

	return &Code{
		backend:  c.backend,
		alloc:    alloc,
		linked:   linked,
		labels:   ctx.Labels,
		jumps:    ctx.Jumps,
		consts:   ctx.Consts,
	}, nil
}
