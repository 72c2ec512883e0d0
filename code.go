package lirjit

import (
	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/execmem"
	"github.com/lirjit/lirjit/internal/ir"
	"github.com/lirjit/lirjit/internal/reloc"
)

// Code is a finished, callable function produced by GenerateCode. It
// owns the underlying executable memory until Free is called.
type Code struct {
	backend arch.Backend
	alloc   execmem.Allocator
	linked  reloc.Linked

	labels []ir.Label
	jumps  []ir.Jump
	consts []ir.Const

	freed bool
}

// Entry returns the address of the first byte of generated code, the
// value a client casts to a function pointer (or passes to
// internal/invoke.Call, on architectures with a trampoline).
func (c *Code) Entry() uintptr { return c.linked.CodeBase }

// ExecOffset returns the delta between the writable and executable
// views of the code, zero except on the dual-mapped allocator.
func (c *Code) ExecOffset() int64 { return c.linked.Block.ExecOffset() }

// Free releases the executable memory backing this Code. Using Code
// after Free is undefined behavior, same as the original C API.
func (c *Code) Free() error {
	if c.freed {
		return nil
	}
	c.freed = true
	return c.alloc.FreeExec(c.linked.Block)
}

func (c *Code) labelByID(id int) *ir.Label {
	for i := range c.labels {
		if c.labels[i].ID == id {
			return &c.labels[i]
		}
	}
	return nil
}

func (c *Code) jumpByID(id int) *ir.Jump {
	for i := range c.jumps {
		if c.jumps[i].ID == id {
			return &c.jumps[i]
		}
	}
	return nil
}

func (c *Code) constByID(id int) *ir.Const {
	for i := range c.consts {
		if c.consts[i].ID == id {
			return &c.consts[i]
		}
	}
	return nil
}

// LabelAddr returns the absolute address of a label created by
// EmitLabel/EmitAlignedLabel.
func (c *Code) LabelAddr(labelID int) (uintptr, error) {
	l := c.labelByID(labelID)
	if l == nil {
		return 0, newError(BadArgument, "label_addr", nil)
	}
	return l.Addr, nil
}

// JumpAddr returns the absolute address of the first byte of a branch
// created by EmitJump/EmitCmp/EmitIJump.
func (c *Code) JumpAddr(jumpID int) (uintptr, error) {
	j := c.jumpByID(jumpID)
	if j == nil {
		return 0, newError(BadArgument, "jump_addr", nil)
	}
	return j.Addr, nil
}

// ConstAddr returns the absolute address of a literal created by
// EmitConst.
func (c *Code) ConstAddr(constID int) (uintptr, error) {
	k := c.constByID(constID)
	if k == nil {
		return 0, newError(BadArgument, "const_addr", nil)
	}
	return k.Addr, nil
}

// withPatchable runs fn with the code block writable, restoring its
// executable protection (and flushing the instruction cache) on the
// allocator backends that need it (spec.md §4.4 "Post-link patching").
func (c *Code) withPatchable(fn func() error) error {
	if toggler, ok := c.alloc.(interface {
		MakeWritable(execmem.Block) error
	}); ok {
		if err := toggler.MakeWritable(c.linked.Block); err != nil {
			return err
		}
	}
	err := fn()
	if toggler, ok := c.alloc.(interface {
		MakeExecutable(execmem.Block) error
	}); ok {
		if err2 := toggler.MakeExecutable(c.linked.Block); err2 != nil && err == nil {
			err = err2
		}
	} else {
		execmem.FlushCache(c.linked.Block)
	}
	return err
}

// SetJumpAddr retargets an already-generated branch to a new absolute
// address. Only valid for jumps created with the JumpRewritable flag
// (spec.md §6 set_jump_addr).
func (c *Code) SetJumpAddr(jumpID int, target uintptr) error {
	j := c.jumpByID(jumpID)
	if j == nil {
		return newError(BadArgument, "set_jump_addr", nil)
	}
	offset := int64(j.Addr) - int64(c.linked.CodeBase)
	return c.withPatchable(func() error {
		if err := c.backend.PatchJump(c.linked.Code, offset, c.linked.CodeBase, target); err != nil {
			return newError(BadArgument, "set_jump_addr", err)
		}
		return nil
	})
}

// SetConst overwrites an already-generated literal's value (spec.md §6
// set_const).
func (c *Code) SetConst(constID int, value int64) error {
	k := c.constByID(constID)
	if k == nil {
		return newError(BadArgument, "set_const", nil)
	}
	offset := int64(k.Addr) - int64(c.linked.CodeBase)
	return c.withPatchable(func() error {
		if err := c.backend.PatchConst(c.linked.Code, offset, value); err != nil {
			return newError(BadArgument, "set_const", err)
		}
		return nil
	})
}
