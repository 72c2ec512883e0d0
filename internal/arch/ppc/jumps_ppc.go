package ppc

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/ir"
)

// jumpSite records where, within the flattened code, a previously
// emitted branch's target field lives. wordOffset always points at
// the branch/trampoline's first instruction word. PowerPC's branch
// displacements (unlike ARM's) are relative to the branch's own
// address with no pipeline bias.
type jumpSite struct {
	wordOffset int64
	cond       bool
	stub       bool
}

func read32(flat []byte, off int64) uint32 {
	return byteOrder.Uint32(flat[off : off+4])
}

func write32(flat []byte, off int64, v uint32) {
	byteOrder.PutUint32(flat[off:off+4], v)
}

func (b *PPCBackend) Label() (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	id := len(b.ctx.Labels)
	b.ctx.Labels = append(b.ctx.Labels, ir.Label{ID: id, Size: b.ctx.Offset()})
	return id, nil
}

func (b *PPCBackend) AlignedLabel(alignment int, roData []byte) (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	if alignment > 1 {
		pad := (alignment - int(b.ctx.Offset()%int64(alignment))) % alignment
		if pad > 0 {
			var e enc
			for i := 0; i < pad/4; i++ {
				e.word(24 << 26) // ori 0,0,0 (nop)
			}
			b.ctx.Buf.Append(e.b)
		}
	}
	id := len(b.ctx.Labels)
	b.ctx.Labels = append(b.ctx.Labels, ir.Label{ID: id, Size: b.ctx.Offset()})
	if len(roData) > 0 {
		b.ctx.Buf.Append(roData)
	}
	return id, nil
}

// boFor returns the BO field for the branch-if-true/false sense ccOf
// reports: 0b01100 tests the CR bit set, 0b00100 tests it clear.
func boFor(boTrue bool) uint32 {
	if boTrue {
		return 0xC
	}
	return 0x4
}

func bc(boTrue bool, bi uint32, bd int16, link bool) uint32 {
	lk := uint32(0)
	if link {
		lk = 1
	}
	return 16<<26 | boFor(boTrue)<<21 | (bi&0x1F)<<16 | (uint32(uint16(bd))&0x3FFF)<<2 | lk
}

func bUncond(li int32, link bool) uint32 {
	lk := uint32(0)
	if link {
		lk = 1
	}
	return 18<<26 | (uint32(li)&0xFFFFFF)<<2 | lk
}

// emitDirectBranch appends a plain B/BC with a zero placeholder
// displacement field, patched once the target is known.
func (b *PPCBackend) emitDirectBranch(e *enc, pred ir.Predicate, call ir.CallKind) (jumpSite, error) {
	link := call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect
	off := int64(e.len())
	if pred == ir.CondAlways {
		e.word(bUncond(0, link))
		return jumpSite{wordOffset: off}, nil
	}
	bi, boTrue, err := ccOf(pred)
	if err != nil {
		return jumpSite{}, err
	}
	e.word(bc(boTrue, bi, 0, link))
	return jumpSite{wordOffset: off, cond: true}, nil
}

// emitRewritableStub emits a fixed movImm64-into-tmp0 + mtctr + bctr[l]
// trampoline (the "lis/ori/mtctr/bctr" pattern), preceded by an
// inverted-condition BC branch-around for conditional rewritable
// jumps. movImm64 is always 5 instructions and mtctr/bctr add 2 more,
// so the branch-around always skips a fixed 7 words (bd=8, landing
// past them).
func (b *PPCBackend) emitRewritableStub(e *enc, pred ir.Predicate, call ir.CallKind) (jumpSite, error) {
	isCond := pred != ir.CondAlways
	if isCond {
		bi, boTrue, err := ccOf(pred)
		if err != nil {
			return jumpSite{}, err
		}
		e.word(bc(!boTrue, bi, 8, false))
	}
	off := int64(e.len())
	movImm64(e, tmp0, 0)
	e.word(mtctr(tmp0))
	link := call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect
	e.word(bctr(link))
	return jumpSite{wordOffset: off, cond: isCond, stub: true}, nil
}

func (b *PPCBackend) recordJump(e *enc, pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	branchStart := int64(len(e.b)) // a fused Cmp's compare precedes the branch in e
	rewritable := jflags&ir.JumpRewritable != 0
	var site jumpSite
	var err error
	if rewritable {
		site, err = b.emitRewritableStub(e, pred, call)
	} else {
		site, err = b.emitDirectBranch(e, pred, call)
	}
	if err != nil {
		return 0, b.ctx.Fail(err)
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

func (b *PPCBackend) Jump(pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	if err := b.ctx.RequireABI(); err != nil {
		return 0, b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	var e enc
	return b.recordJump(&e, pred, jflags, call)
}

// isUnsignedPredicate reports whether pred needs cmpld rather than
// cmpd: PowerPC, unlike x86/ARM, sets CR0 with a dedicated compare
// instruction per signedness rather than differentiating at branch
// time, so Cmp must pick the right one up front.
func isUnsignedPredicate(pred ir.Predicate) bool {
	switch pred {
	case ir.CondLess, ir.CondLessEqual, ir.CondGreater, ir.CondGreaterEqual,
		ir.CondCarry, ir.CondNotCarry:
		return true
	default:
		return false
	}
}

func (b *PPCBackend) Cmp(pred ir.Predicate, jflags ir.JumpFlags, s1, s2 ir.Operand) (int, error) {
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
	if isUnsignedPredicate(pred) {
		e.word(cmpld(p1, p2))
	} else {
		e.word(cmpd(p1, p2))
	}
	return b.recordJump(&e, pred, jflags, ir.NotCall)
}

func (b *PPCBackend) IJump(call ir.CallKind, src ir.Operand) (int, error) {
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
	e.word(mtctr(p))
	link := call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect
	e.word(bctr(link))

	id := len(b.ctx.Jumps)
	instrStart := b.ctx.Offset()
	b.ctx.Buf.Append(e.b)
	b.ctx.Jumps = append(b.ctx.Jumps, ir.Jump{
		ID: id, Flags: ir.JumpToTarget, Pred: ir.CondAlways, Call: call,
		Addr: uintptr(instrStart + branchStart),
	})
	return id, nil
}

func (b *PPCBackend) OpFlags(pred ir.Predicate, dst ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	bi, boTrue, err := ccOf(pred)
	if err != nil {
		return b.ctx.Fail(err)
	}
	var e enc
	dstP, err := b.materialize(&e, dst, tmp0)
	if err != nil {
		return b.ctx.Fail(err)
	}
	// Branch-free materialize: set dst=1, skip-branch-over a li dst,0
	// taken only when the condition holds (bd=2 words lands past it).
	e.word(li(dstP, 1))
	e.word(bc(boTrue, bi, 2, false))
	e.word(li(dstP, 0))
	if dst.IsMem() {
		if err := b.storeFrom(&e, dst.Mem, dstP); err != nil {
			return b.ctx.Fail(err)
		}
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

// Const always uses the fixed movImm64 form so PatchConst's offset
// arithmetic is unconditional.
func (b *PPCBackend) Const(dst ir.Operand, init int64) (int, error) {
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

func (b *PPCBackend) SetLabel(jumpID, labelID int) error {
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
		return patchBranchImm(flat, site, targetOff-site.wordOffset)
	})
	return nil
}

func (b *PPCBackend) SetTarget(jumpID int, addr int64) error {
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
		rel := addr - int64(codeBase) - site.wordOffset
		return patchBranchImm(flat, site, rel)
	})
	return nil
}

// patchBranchImm rewrites a B's LI field or a BC's BD field, relative
// to the branch word's own address (no pipeline bias on PowerPC).
func patchBranchImm(flat []byte, site jumpSite, rel int64) error {
	if rel%4 != 0 {
		return fmt.Errorf("lirjit: branch target not 4-byte aligned")
	}
	word := read32(flat, site.wordOffset)
	if site.cond {
		v := rel / 4
		if v < -(1<<13) || v >= 1<<13 {
			return fmt.Errorf("lirjit: branch target out of bd14 range")
		}
		word = (word &^ (0x3FFF << 2)) | (uint32(uint16(v))&0x3FFF)<<2
	} else {
		v := rel / 4
		if v < -(1<<23) || v >= 1<<23 {
			return fmt.Errorf("lirjit: branch target out of li24 range")
		}
		word = (word &^ (0xFFFFFF << 2)) | (uint32(v)&0xFFFFFF)<<2
	}
	write32(flat, site.wordOffset, word)
	return nil
}

// patchStubImm rewrites the rewritable trampoline's embedded 64-bit
// immediate, which movImm64 always encodes as a fixed lis/ori/
// rldicr/oris/ori five-instruction sequence at wordOffset. The target
// register is read back from the existing lis instead of assumed to be
// tmp0: PatchJump's stub always materializes into tmp0, but Const's
// dst can be any register the caller asked for, so the rt field must
// be preserved rather than overwritten.
func patchStubImm(flat []byte, wordOffset int64, value uint64) error {
	first := read32(flat, wordOffset)
	if first>>26 != 15 { // lis
		return fmt.Errorf("lirjit: set_jump_addr on a jump not created with the rewritable flag")
	}
	dst := reg((first >> 21) & 0x1F)
	write32(flat, wordOffset, lis(dst, int16(value>>48)))
	write32(flat, wordOffset+4, ori(dst, dst, uint16(value>>32)))
	write32(flat, wordOffset+12, oris(dst, dst, uint16(value>>16)))
	write32(flat, wordOffset+16, ori(dst, dst, uint16(value)))
	return nil
}

func (b *PPCBackend) PatchJump(flat []byte, offset int64, codeBase uintptr, newTarget uintptr) error {
	if offset < 0 || offset >= int64(len(flat)) {
		return fmt.Errorf("lirjit: set_jump_addr offset out of range")
	}
	pos := offset
	if w := read32(flat, pos); w>>26 == 16 { // BC guard word
		pos += 4
	}
	return patchStubImm(flat, pos, uint64(newTarget))
}

func (b *PPCBackend) PatchConst(flat []byte, offset int64, newValue int64) error {
	return patchStubImm(flat, offset, uint64(newValue))
}
