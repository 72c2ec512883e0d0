package arm64

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/ir"
)

// jumpSite records the offset of the 32-bit instruction word a branch's
// displacement (or, for a rewritable stub, its imm64) lives in, so
// SetLabel/SetTarget/PatchJump can reach it without re-decoding.
type jumpSite struct {
	wordOffset int64
	cond       bool // true: B.cond imm19 field; false: B/BL imm26 field
	stub       bool // true: rewritable far-stub, imm64 via movz/movk*3
}

func read32(flat []byte, off int64) uint32 {
	return binary.LittleEndian.Uint32(flat[off : off+4])
}

func write32(flat []byte, off int64, w uint32) {
	binary.LittleEndian.PutUint32(flat[off:off+4], w)
}

// --- label / aligned label ----------------------------------------------

func (b *ARM64Backend) Label() (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	id := len(b.ctx.Labels)
	b.ctx.Labels = append(b.ctx.Labels, ir.Label{ID: id, Size: b.ctx.Offset()})
	return id, nil
}

func (b *ARM64Backend) AlignedLabel(alignment int, roData []byte) (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	if alignment > 1 {
		pad := (alignment - int(b.ctx.Offset()%int64(alignment))) % alignment
		if pad > 0 {
			b.ctx.Buf.Append(bytes.Repeat([]byte{0x1F, 0x20, 0x03, 0xD5}, pad/4)) // NOP words
			if rem := pad % 4; rem > 0 {
				b.ctx.Buf.Append(make([]byte, rem))
			}
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

// emitDirectBranch appends an unconditional B/BL or conditional B.cond
// with a zero placeholder displacement, relative to e's own start. Used
// when the jump is not marked JumpRewritable: the whole generated code
// block fits well within B's +-128MB range in every realistic case.
func (b *ARM64Backend) emitDirectBranch(e *enc, pred ir.Predicate, call ir.CallKind) (jumpSite, error) {
	wordOffset := int64(e.len())
	if pred == ir.CondAlways {
		op := uint32(0x14000000) // B
		if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
			op = 0x94000000 // BL
		}
		e.word(op)
		return jumpSite{wordOffset: wordOffset}, nil
	}
	cc, err := ccOf(pred)
	if err != nil {
		return jumpSite{}, err
	}
	e.word(0x54000000 | cc)
	return jumpSite{wordOffset: wordOffset, cond: true}, nil
}

// emitRewritableStub appends a fixed-size, self-describing far-branch
// stub: an optional inverted-condition skip branch, followed by the
// four-instruction movz/movk immediate load and an indirect BR/BLR.
// SetJumpAddr can retarget it to any 64-bit address after GenerateCode.
func (b *ARM64Backend) emitRewritableStub(e *enc, pred ir.Predicate, call ir.CallKind) jumpSite {
	if pred != ir.CondAlways {
		if cc, err := ccOf(pred); err == nil {
			inv := cc ^ 1
			e.word(0x54000000 | (6 << 5) | inv) // branch 24 bytes ahead, past the 20-byte stub, when untaken
		}
	}
	wordOffset := int64(e.len())
	movImm64(e, tmp0, 0)
	br := uint32(0xD61F0000) // BR
	if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
		br = 0xD63F0000 // BLR
	}
	e.word(br | uint32(tmp0&31)<<5)
	return jumpSite{wordOffset: wordOffset, stub: true}
}

func (b *ARM64Backend) recordJump(e *enc, pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	branchStart := int64(len(e.b)) // a fused Cmp's compare precedes the branch in e
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
	site.wordOffset += instrStart

	id := len(b.ctx.Jumps)
	b.ctx.Buf.Append(e.b)
	b.ctx.Jumps = append(b.ctx.Jumps, ir.Jump{
		ID: id, Flags: jflags, Pred: pred, Call: call,
		Addr: uintptr(instrStart + branchStart), EncodedLong: rewritable,
	})
	if b.jumpSites == nil {
		b.jumpSites = map[int]jumpSite{}
	}
	b.jumpSites[id] = site
	b.ctx.Trace("jump id=%d pred=%d call=%d rewritable=%v", id, pred, call, rewritable)
	return id, nil
}

func (b *ARM64Backend) Jump(pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	if err := b.ctx.RequireABI(); err != nil {
		return 0, b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	var e enc
	return b.recordJump(&e, pred, jflags, call)
}

// Cmp fuses a SUBS-against-XZR compare with a branch.
func (b *ARM64Backend) Cmp(pred ir.Predicate, jflags ir.JumpFlags, s1, s2 ir.Operand) (int, error) {
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
	p2, err := b.materialize(&e, s2, tmp1)
	if err != nil {
		return 0, b.ctx.Fail(err)
	}
	e.word(addSubReg(true, true, xzrOrSP, p1, p2)) // SUBS XZR, p1, p2
	return b.recordJump(&e, pred, jflags, ir.NotCall)
}

// IJump branches to a runtime-computed address already resolved into a
// register; no deferred target resolution is needed.
func (b *ARM64Backend) IJump(call ir.CallKind, src ir.Operand) (int, error) {
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
	branchStart := int64(len(e.b))
	br := uint32(0xD61F0000)
	if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
		br = 0xD63F0000
	}
	e.word(br | uint32(p&31)<<5)

	id := len(b.ctx.Jumps)
	instrStart := b.ctx.Offset()
	b.ctx.Buf.Append(e.b)
	b.ctx.Jumps = append(b.ctx.Jumps, ir.Jump{
		ID: id, Flags: ir.JumpToTarget, Pred: ir.CondAlways, Call: call,
		Addr: uintptr(instrStart + branchStart),
	})
	return id, nil
}

// OpFlags materializes a predicate's truth value as 0/1 via CSET (the
// CSINC Xd, XZR, XZR, !cond alias).
func (b *ARM64Backend) OpFlags(pred ir.Predicate, dst ir.Operand) error {
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
	inv := cc ^ 1
	var e enc
	cset := func(dst xreg) uint32 {
		return 0x9A800400 | uint32(xzrOrSP&31)<<16 | (inv&0xF)<<12 | uint32(xzrOrSP&31)<<5 | uint32(dst&31)
	}
	if dst.IsMem() {
		e.word(cset(tmp0))
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
	e.word(cset(dstP))
	b.ctx.Buf.Append(e.b)
	return nil
}

// --- const ---------------------------------------------------------------

// Const always uses the full four-instruction movz/movk form (never
// movImmCompact's shortest sequence) so PatchConst's offset arithmetic
// is unconditional.
func (b *ARM64Backend) Const(dst ir.Operand, init int64) (int, error) {
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
	movImm64(&e, dstP, uint64(init))
	b.ctx.Buf.Append(e.b)
	b.ctx.Consts = append(b.ctx.Consts, ir.Const{ID: id, Init: init, Addr: uintptr(instrStart)})
	return id, nil
}

// --- binding and post-link patching ---------------------------------------

func (b *ARM64Backend) SetLabel(jumpID, labelID int) error {
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
			return patchStubImm(flat, site.wordOffset, uint64(codeBase)+uint64(targetOff))
		}
		return patchBranchRel(flat, site, targetOff-site.wordOffset)
	})
	return nil
}

func (b *ARM64Backend) SetTarget(jumpID int, addr int64) error {
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
			return patchStubImm(flat, site.wordOffset, uint64(addr))
		}
		return patchBranchRel(flat, site, addr-int64(codeBase)-site.wordOffset)
	})
	return nil
}

func patchBranchRel(flat []byte, site jumpSite, rel int64) error {
	if rel%4 != 0 {
		return fmt.Errorf("lirjit: branch target not word aligned")
	}
	v := rel / 4
	word := read32(flat, site.wordOffset)
	if site.cond {
		if v < -(1<<18) || v > (1<<18)-1 {
			return fmt.Errorf("lirjit: branch target out of imm19 range")
		}
		word = (word &^ (0x7FFFF << 5)) | (uint32(v)&0x7FFFF)<<5
	} else {
		if v < -(1<<25) || v > (1<<25)-1 {
			return fmt.Errorf("lirjit: branch target out of imm26 range")
		}
		word = (word &^ 0x3FFFFFF) | (uint32(v) & 0x3FFFFFF)
	}
	write32(flat, site.wordOffset, word)
	return nil
}

func patchStubImm(flat []byte, wordOffset int64, value uint64) error {
	for i := 0; i < 4; i++ {
		off := wordOffset + int64(i*4)
		w := read32(flat, off)
		chunk := uint32((value >> uint(16*i)) & 0xFFFF)
		w = (w &^ (0xFFFF << 5)) | chunk<<5
		write32(flat, off, w)
	}
	return nil
}

// isCondBranchWord reports whether w is a B.cond instruction.
func isCondBranchWord(w uint32) bool { return w&0xFF000000 == 0x54000000 }

// isMovzTmp0 reports whether w is the MOVZ that opens our rewritable
// stub's immediate-load sequence (destination fixed at tmp0).
func isMovzTmp0(w uint32) bool {
	return w&0xFF80001F == 0xD2800000|uint32(tmp0)
}

// PatchJump implements SetJumpAddr on already-generated code. offset is
// the start of the whole branch sequence; the instruction words there
// self-describe whether this was a rewritable stub (only those support
// post-generation retargeting), skipping over the optional inverted-
// condition guard branch emitted for conditional rewritable jumps.
func (b *ARM64Backend) PatchJump(flat []byte, offset int64, codeBase uintptr, newTarget uintptr) error {
	if offset < 0 || offset+4 > int64(len(flat)) {
		return fmt.Errorf("lirjit: set_jump_addr offset out of range")
	}
	pos := offset
	if isCondBranchWord(read32(flat, pos)) {
		pos += 4
	}
	if pos+16 > int64(len(flat)) || !isMovzTmp0(read32(flat, pos)) {
		return fmt.Errorf("lirjit: set_jump_addr on a jump not created with the rewritable flag")
	}
	return patchStubImm(flat, pos, uint64(newTarget))
}

// PatchConst implements SetConst: Const always emits the fixed
// four-instruction movz/movk form starting at the const's recorded
// offset.
func (b *ARM64Backend) PatchConst(flat []byte, offset int64, newValue int64) error {
	if offset < 0 || offset+16 > int64(len(flat)) {
		return fmt.Errorf("lirjit: set_const offset out of range")
	}
	return patchStubImm(flat, offset, uint64(newValue))
}
