package x86

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/ir"
)

// jumpSite records where, within the flattened code, a previously
// emitted branch's target field lives, so SetLabel/SetTarget/PatchJump
// can reach it without re-decoding the instruction.
type jumpSite struct {
	patchOffset int64 // offset of the 4-byte rel32 or 8-byte imm64 field
	nextInstr   int64 // offset of the byte following a rel32 field
	stub        bool  // true if this jump used the rewritable far-stub form
}

// --- label / aligned label ----------------------------------------------

func (b *AMD64Backend) Label() (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	id := len(b.ctx.Labels)
	b.ctx.Labels = append(b.ctx.Labels, ir.Label{ID: id, Size: b.ctx.Offset()})
	return id, nil
}

func (b *AMD64Backend) AlignedLabel(alignment int, roData []byte) (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	if alignment > 1 {
		pad := (alignment - int(b.ctx.Offset()%int64(alignment))) % alignment
		if pad > 0 {
			b.ctx.Buf.Append(bytes.Repeat([]byte{0x90}, pad))
		}
	}
	id := len(b.ctx.Labels)
	b.ctx.Labels = append(b.ctx.Labels, ir.Label{ID: id, Size: b.ctx.Offset()})
	if len(roData) > 0 {
		b.ctx.Buf.Append(roData)
	}
	return id, nil
}

// --- branch encoding ------------------------------------------------------

// emitDirectBranch appends a conditional or unconditional rel32 branch
// to e, relative to e's own start, and returns the (locally offset)
// patch site. Used when the jump is not marked JumpRewritable: rel32
// covers any displacement within a single generated code block, and
// the target is filled in once SetLabel/SetTarget supplies it.
func (b *AMD64Backend) emitDirectBranch(e *enc, pred ir.Predicate, call ir.CallKind) (jumpSite, error) {
	if pred == ir.CondAlways {
		if call == ir.CallDirect || call == ir.CallFast {
			e.byte(0xE8)
		} else {
			e.byte(0xE9)
		}
	} else {
		cc, err := ccOf(pred)
		if err != nil {
			return jumpSite{}, err
		}
		e.bytes(0x0F, 0x80+cc)
	}
	patchOffset := int64(len(e.b))
	e.u32(0)
	return jumpSite{patchOffset: patchOffset, nextInstr: int64(len(e.b))}, nil
}

// emitRewritableStub appends a fixed-size, self-describing far-branch
// stub: an optional inverted short conditional skip, followed by a
// movabs-into-scratch plus an indirect call/jmp. SetJumpAddr can
// retarget it to any 64-bit address after GenerateCode, which a rel32
// form could not guarantee (spec.md §6 "set_jump_addr").
func (b *AMD64Backend) emitRewritableStub(e *enc, pred ir.Predicate, call ir.CallKind) jumpSite {
	const stubLen = 13 // movabs r10,imm64 (10) + call/jmp r10 (3)
	if pred != ir.CondAlways {
		cc, err := ccOf(pred)
		if err == nil {
			inv := cc ^ 1
			e.bytes(0x70+inv, stubLen)
		}
	}
	e.byte(rexByte(true, 0, 0, tmp0))
	e.byte(0xB8 + byte(tmp0&7))
	patchOffset := int64(len(e.b))
	e.u64(0)
	ext := physReg(4) // jmp
	if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
		ext = 2 // call
	}
	e.byte(rexByte(false, 0, 0, tmp0))
	e.bytes(0xFF, modrmReg(ext, tmp0))
	return jumpSite{patchOffset: patchOffset, stub: true}
}

func (b *AMD64Backend) recordJump(e *enc, pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	localStart := len(e.b) // a fused Cmp's compare precedes the branch in e
	rewritable := jflags&ir.JumpRewritable != 0
	var site jumpSite
	var err error
	if rewritable {
		site = b.emitRewritableStub(e, pred, call)
	} else {
		site, err = b.emitDirectBranch(e, pred, call)
		if err != nil {
			return 0, b.ctx.Fail(err)
		}
	}
	instrStart := b.ctx.Offset()
	site.patchOffset += instrStart
	site.nextInstr += instrStart

	id := len(b.ctx.Jumps)
	b.ctx.Buf.Append(e.b)
	b.ctx.Jumps = append(b.ctx.Jumps, ir.Jump{
		ID: id, Flags: jflags, Pred: pred, Call: call,
		Addr: uintptr(instrStart + int64(localStart)), EncodedLong: rewritable,
	})
	if b.jumpSites == nil {
		b.jumpSites = map[int]jumpSite{}
	}
	b.jumpSites[id] = site
	b.ctx.Trace("jump id=%d pred=%d call=%d rewritable=%v", id, pred, call, rewritable)
	return id, nil
}

func (b *AMD64Backend) Jump(pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	if err := b.ctx.RequireABI(); err != nil {
		return 0, b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	var e enc
	return b.recordJump(&e, pred, jflags, call)
}

// Cmp fuses a compare with a branch, matching spec.md §6's
// emit_cmp (avoids a separate flags-producing op before the jump).
func (b *AMD64Backend) Cmp(pred ir.Predicate, jflags ir.JumpFlags, s1, s2 ir.Operand) (int, error) {
	if err := b.ctx.RequireABI(); err != nil {
		return 0, b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	var e enc
	p1, err := b.materialize(&e, s1, tmp0)
	if err != nil {
		return 0, b.ctx.Fail(err)
	}
	if s2.IsImm() && s2.Imm >= -0x80000000 && s2.Imm <= 0x7fffffff {
		e.byte(rexByte(true, 0, 0, p1))
		if s2.Imm >= -128 && s2.Imm <= 127 {
			e.bytes(0x83, modrmReg(7, p1), byte(int8(s2.Imm)))
		} else {
			e.bytes(0x81, modrmReg(7, p1))
			e.u32(uint32(int32(s2.Imm)))
		}
	} else {
		p2, err := b.materialize(&e, s2, tmp1)
		if err != nil {
			return 0, b.ctx.Fail(err)
		}
		e.byte(rexByte(true, p2, 0, p1))
		e.bytes(0x39, modrmReg(p2, p1))
	}
	return b.recordJump(&e, pred, jflags, ir.NotCall)
}

// IJump branches to a runtime-computed address; no deferred target
// resolution is needed since the destination is already in a register
// or memory by the time this instruction executes.
func (b *AMD64Backend) IJump(call ir.CallKind, src ir.Operand) (int, error) {
	if err := b.ctx.RequireABI(); err != nil {
		return 0, b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	var e enc
	p, err := b.materialize(&e, src, tmp0)
	if err != nil {
		return 0, b.ctx.Fail(err)
	}
	ext := physReg(4)
	if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
		ext = 2
	}
	branchStart := int64(len(e.b))
	if p >= 8 {
		e.byte(rexByte(false, 0, 0, p))
	}
	e.bytes(0xFF, modrmReg(ext, p))

	id := len(b.ctx.Jumps)
	instrStart := b.ctx.Offset()
	b.ctx.Buf.Append(e.b)
	b.ctx.Jumps = append(b.ctx.Jumps, ir.Jump{
		ID: id, Flags: ir.JumpToTarget, Pred: ir.CondAlways, Call: call,
		Addr: uintptr(instrStart + branchStart),
	})
	return id, nil
}

// OpFlags materializes a predicate's truth value as 0/1 into dst via
// SETcc, zero-extended to the full register width.
func (b *AMD64Backend) OpFlags(pred ir.Predicate, dst ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	cc, err := ccOf(pred)
	if err != nil {
		return b.ctx.Fail(err)
	}
	var e enc
	if dst.IsMem() {
		e.byte(rexByte(false, 0, 0, tmp0))
		e.bytes(0x0F, 0x90+cc, modrmReg(0, tmp0))
		e.byte(rexByte(true, tmp0, 0, tmp0))
		e.bytes(0x0F, 0xB6, modrmReg(tmp0, tmp0))
		if err := b.storeFrom(&e, dst.Mem, tmp0); err != nil {
			return b.ctx.Fail(err)
		}
		b.ctx.Buf.Append(e.b)
		return nil
	}
	dstP, err := operandPhys(dst)
	if err != nil {
		return b.ctx.Fail(err)
	}
	// Always emit REX so rsi/rdi select sil/dil rather than dh/bh.
	e.byte(rexByte(false, 0, 0, dstP))
	e.bytes(0x0F, 0x90+cc, modrmReg(0, dstP))
	e.byte(rexByte(true, dstP, 0, dstP))
	e.bytes(0x0F, 0xB6, modrmReg(dstP, dstP))
	b.ctx.Buf.Append(e.b)
	return nil
}

// --- const ---------------------------------------------------------------

// Const always uses the full movabs form (never the compact 32-bit
// one movInto picks when it fits) so PatchConst's offset arithmetic
// is unconditional, matching spec.md §6's set_const contract.
func (b *AMD64Backend) Const(dst ir.Operand, init int64) (int, error) {
	if err := b.ctx.RequireABI(); err != nil {
		return 0, b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	dstP, err := operandPhys(dst)
	if err != nil {
		return 0, b.ctx.Fail(err)
	}
	id := len(b.ctx.Consts)
	instrStart := b.ctx.Offset()
	var e enc
	e.byte(rexByte(true, 0, 0, dstP))
	e.byte(0xB8 + byte(dstP&7))
	e.u64(uint64(init))
	b.ctx.Buf.Append(e.b)
	b.ctx.Consts = append(b.ctx.Consts, ir.Const{ID: id, Init: init, Addr: uintptr(instrStart)})
	return id, nil
}

// --- binding and post-link patching ---------------------------------------

func (b *AMD64Backend) SetLabel(jumpID, labelID int) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	site, ok := b.jumpSites[jumpID]
	if !ok {
		return b.ctx.Fail(fmt.Errorf("lirjit: unknown jump id %d: %w", jumpID, arch.ErrBadArgument))
	}
	b.ctx.Jumps[jumpID].Flags |= ir.JumpToLabel
	b.ctx.Jumps[jumpID].Label = labelID
	b.ctx.Fixups = append(b.ctx.Fixups, func(codeBase uintptr, flat []byte) error {
		if labelID < 0 || labelID >= len(b.ctx.Labels) {
			return fmt.Errorf("lirjit: jump %d bound to unknown label %d: %w", jumpID, labelID, arch.ErrBadArgument)
		}
		targetOff := b.ctx.Labels[labelID].Size
		if site.stub {
			target := uint64(codeBase) + uint64(targetOff)
			binary.LittleEndian.PutUint64(flat[site.patchOffset:site.patchOffset+8], target)
			return nil
		}
		rel := targetOff - site.nextInstr
		if rel < math.MinInt32 || rel > math.MaxInt32 {
			return fmt.Errorf("lirjit: jump %d target out of rel32 range", jumpID)
		}
		binary.LittleEndian.PutUint32(flat[site.patchOffset:site.patchOffset+4], uint32(int32(rel)))
		return nil
	})
	return nil
}

func (b *AMD64Backend) SetTarget(jumpID int, addr int64) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	site, ok := b.jumpSites[jumpID]
	if !ok {
		return b.ctx.Fail(fmt.Errorf("lirjit: unknown jump id %d: %w", jumpID, arch.ErrBadArgument))
	}
	b.ctx.Jumps[jumpID].Flags |= ir.JumpToTarget
	b.ctx.Jumps[jumpID].Target = addr
	b.ctx.Fixups = append(b.ctx.Fixups, func(codeBase uintptr, flat []byte) error {
		if site.stub {
			binary.LittleEndian.PutUint64(flat[site.patchOffset:site.patchOffset+8], uint64(addr))
			return nil
		}
		rel := addr - int64(codeBase) - site.nextInstr
		if rel < math.MinInt32 || rel > math.MaxInt32 {
			return fmt.Errorf("lirjit: jump %d target out of rel32 range", jumpID)
		}
		binary.LittleEndian.PutUint32(flat[site.patchOffset:site.patchOffset+4], uint32(int32(rel)))
		return nil
	})
	return nil
}

// PatchJump implements SetJumpAddr on already-generated code: offset
// is the absolute-address-turned-buffer-offset of the branch's first
// byte. The opcode byte at that offset self-describes whether this was
// a rewritable stub (only those support post-generation retargeting).
func (b *AMD64Backend) PatchJump(flat []byte, offset int64, codeBase uintptr, newTarget uintptr) error {
	if offset < 0 || offset >= int64(len(flat)) {
		return fmt.Errorf("lirjit: set_jump_addr offset out of range")
	}
	op := flat[offset]
	var immOff int64
	switch {
	case op >= 0x70 && op <= 0x7F:
		immOff = offset + 4
	case op == 0x49:
		immOff = offset + 2
	default:
		return fmt.Errorf("lirjit: set_jump_addr on a jump not created with the rewritable flag")
	}
	if immOff < 0 || immOff+8 > int64(len(flat)) {
		return fmt.Errorf("lirjit: set_jump_addr overruns the code buffer")
	}
	binary.LittleEndian.PutUint64(flat[immOff:immOff+8], uint64(newTarget))
	return nil
}

// PatchConst implements SetConst: Const always emits the fixed movabs
// form, so the immediate always sits two bytes past the instruction
// start (REX.W + B8-family opcode).
func (b *AMD64Backend) PatchConst(flat []byte, offset int64, newValue int64) error {
	immOff := offset + 2
	if immOff < 0 || immOff+8 > int64(len(flat)) {
		return fmt.Errorf("lirjit: set_const offset out of range")
	}
	binary.LittleEndian.PutUint64(flat[immOff:immOff+8], uint64(newValue))
	return nil
}
