// Package reloc implements the architecture-independent half of the
// relocation resolver (spec.md §4.4): flattening the fragmented
// instruction buffer, acquiring executable memory sized to it, copying
// the bytes across, running each backend-registered Fixup now that the
// final code address is known, and computing the absolute addresses
// recorded on labels/jumps/consts. The architecture-specific half
// (short-vs-long jump choice, constant pools, branch trampolines) lives
// in each internal/arch/* backend and has already run by the time
// Link is called, because it only needs buffer-relative offsets, not
// the final address.
package reloc

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/buffer"
	"github.com/lirjit/lirjit/internal/execmem"
	"github.com/lirjit/lirjit/internal/ir"
)

// Linked is the result of a successful Link.
type Linked struct {
	Block    execmem.Block
	CodeBase uintptr
	Code     []byte // writable view, length == flattened instruction length
}

// Link performs spec.md §4.4's "Pass 2": allocate executable memory,
// copy the flattened buffer into it, run every fixup now that the code
// base address is known, then synchronize the executable view.
func Link(buf *buffer.Fragmented, fixups []arch.Fixup, alloc execmem.Allocator) (Linked, error) {
	flat := buf.Flatten()
	if len(flat) == 0 {
		return Linked{}, fmt.Errorf("lirjit: generate_code on an empty program")
	}

	block, err := alloc.MallocExec(len(flat))
	if err != nil {
		return Linked{}, fmt.Errorf("lirjit: executable memory exhausted: %w", err)
	}
	copy(block.Writable, flat)

	codeBase := block.Executable
	if codeBase == 0 {
		codeBase = uintptrOf(block.Writable)
	}

	for i, fix := range fixups {
		if err := fix(codeBase, block.Writable); err != nil {
			_ = alloc.FreeExec(block)
			return Linked{}, fmt.Errorf("lirjit: fixup %d failed: %w", i, err)
		}
	}

	if toggler, ok := alloc.(interface {
		MakeExecutable(execmem.Block) error
	}); ok {
		if err := toggler.MakeExecutable(block); err != nil {
			_ = alloc.FreeExec(block)
			return Linked{}, fmt.Errorf("lirjit: cannot make code executable: %w", err)
		}
	}

	return Linked{Block: block, CodeBase: codeBase, Code: block.Writable}, nil
}

// ResolveLabels fills in the absolute Addr of every label now that
// codeBase is known. Labels carry their byte offset in Size (spec.md
// §3: "After finalization ... size becomes the byte offset from the
// code base").
func ResolveLabels(labels []ir.Label, codeBase uintptr) {
	for i := range labels {
		off := labels[i].Size
		labels[i].Addr = codeBase + uintptr(off)
	}
}

// ResolveJumps fills in the absolute Addr of every jump; Jump.Addr held
// the pre-link byte offset until this call.
func ResolveJumps(jumps []ir.Jump, codeBase uintptr) {
	for i := range jumps {
		off := jumps[i].Addr
		jumps[i].Addr = codeBase + off
	}
}

// ResolveConsts fills in the absolute Addr of every const.
func ResolveConsts(consts []ir.Const, codeBase uintptr) {
	for i := range consts {
		off := consts[i].Addr
		consts[i].Addr = codeBase + off
	}
}

func uintptrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptrFirst(b)
}
