package sparc

import (
	"encoding/binary"
	"fmt"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/ir"
)

// jumpSite records where, within the flattened code, a previously
// emitted branch's displacement (or trampoline's immediate) lives.
// wordOffset always points at the branch/trampoline's first
// instruction word; SPARC computes branch targets relative to that
// word's own address, with no pipeline bias to fold in.
type jumpSite struct {
	wordOffset int64
	cond       bool
	stub       bool
}

func read32(flat []byte, off int64) uint32 {
	return binary.BigEndian.Uint32(flat[off : off+4])
}

func write32(flat []byte, off int64, v uint32) {
	binary.BigEndian.PutUint32(flat[off:off+4], v)
}

func (b *SPARCBackend) Label() (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	id := len(b.ctx.Labels)
	b.ctx.Labels = append(b.ctx.Labels, ir.Label{ID: id, Size: b.ctx.Offset()})
	return id, nil
}

func (b *SPARCBackend) AlignedLabel(alignment int, roData []byte) (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	if alignment > 1 {
		pad := (alignment - int(b.ctx.Offset()%int64(alignment))) % alignment
		if pad > 0 {
			var e enc
			for i := 0; i < pad/4; i++ {
				e.word(nop())
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

// emitDirectBranch appends a Bicc with a zero placeholder displacement
// plus its mandatory delay-slot instruction. This engine never
// attempts delay-slot filling (scheduling a useful instruction into
// the slot instead of a NOP) — that is an instruction-scheduling
// optimization orthogonal to correctness, and every branch here is
// unconditionally safe with an explicit NOP delay slot and the annul
// bit left clear.
func (b *SPARCBackend) emitDirectBranch(e *enc, pred ir.Predicate, call ir.CallKind) (jumpSite, error) {
	off := int64(e.len())
	if pred == ir.CondAlways {
		if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
			e.word(sparcCall(0))
		} else {
			e.word(bicc(condBA, false, 0))
		}
		e.word(nop())
		return jumpSite{wordOffset: off}, nil
	}
	cc, err := ccOf(pred)
	if err != nil {
		return jumpSite{}, err
	}
	e.word(bicc(cc, false, 0))
	e.word(nop())
	return jumpSite{wordOffset: off, cond: true}, nil
}

func sparcCall(disp30 int32) uint32 { return call(disp30) }

// emitRewritableStub emits a fixed movImm64-into-tmp0 + jmpl + delay
// slot trampoline, preceded by an inverted-condition branch-around
// (itself with its own delay slot) for conditional rewritable jumps.
func (b *SPARCBackend) emitRewritableStub(e *enc, pred ir.Predicate, call ir.CallKind) (jumpSite, error) {
	isCond := pred != ir.CondAlways
	if isCond {
		cc, err := ccOf(pred)
		if err != nil {
			return jumpSite{}, err
		}
		// Skip 1 (own delay slot) + 6 (movImm64) + 1 (jmpl) + 1 (its
		// delay slot) = 9 words, landing right after; disp = 9+1.
		e.word(bicc(invCond(cc), false, 10))
		e.word(nop())
	}
	off := int64(e.len())
	movImm64(e, tmp0, immScratch, 0)
	link := call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect
	rd := reg(g0)
	if link {
		rd = o7
	}
	e.word(jmpl(rd, tmp0, 0))
	e.word(nop())
	return jumpSite{wordOffset: off, cond: isCond, stub: true}, nil
}

func (b *SPARCBackend) recordJump(e *enc, pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
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

func (b *SPARCBackend) Jump(pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	if err := b.ctx.RequireABI(); err != nil {
		return 0, b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	var e enc
	return b.recordJump(&e, pred, jflags, call)
}

func (b *SPARCBackend) Cmp(pred ir.Predicate, jflags ir.JumpFlags, s1, s2 ir.Operand) (int, error) {
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
	e.word(arith(opSUBcc, g0, p1, p2))
	return b.recordJump(&e, pred, jflags, ir.NotCall)
}

func (b *SPARCBackend) IJump(call ir.CallKind, src ir.Operand) (int, error) {
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
	link := call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect
	rd := reg(g0)
	if link {
		rd = o7
	}
	branchStart := int64(len(e.b))
	e.word(jmpl(rd, p, 0))
	e.word(nop())

	id := len(b.ctx.Jumps)
	instrStart := b.ctx.Offset()
	b.ctx.Buf.Append(e.b)
	b.ctx.Jumps = append(b.ctx.Jumps, ir.Jump{
		ID: id, Flags: ir.JumpToTarget, Pred: ir.CondAlways, Call: call,
		Addr: uintptr(instrStart + branchStart),
	})
	return id, nil
}

func (b *SPARCBackend) OpFlags(pred ir.Predicate, dst ir.Operand) error {
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
	dstP, err := b.materialize(&e, dst, tmp0)
	if err != nil {
		return b.ctx.Fail(err)
	}
	// dst=1; branch over "dst=0" when cc holds (skip the delay-slot nop
	// and 1 word -> disp 3).
	e.word(movImmSmall(dstP, 1))
	e.word(bicc(cc, false, 3))
	e.word(nop())
	e.word(movImmSmall(dstP, 0))
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
func (b *SPARCBackend) Const(dst ir.Operand, init int64) (int, error) {
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
	movImm64(&e, dstP, immScratch, uint64(init))
	b.ctx.Buf.Append(e.b)
	b.ctx.Consts = append(b.ctx.Consts, ir.Const{ID: id, Init: init, Addr: uintptr(instrStart)})
	return id, nil
}

func (b *SPARCBackend) SetLabel(jumpID, labelID int) error {
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

func (b *SPARCBackend) SetTarget(jumpID int, addr int64) error {
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

// patchBranchImm rewrites a Bicc's disp22 field or a CALL's disp30
// field, both relative to the branch word's own address.
func patchBranchImm(flat []byte, site jumpSite, rel int64) error {
	if rel%4 != 0 {
		return fmt.Errorf("lirjit: branch target not 4-byte aligned")
	}
	v := rel / 4
	word := read32(flat, site.wordOffset)
	if word>>30 == 1 { // CALL, disp30
		if v < -(1<<29) || v >= 1<<29 {
			return fmt.Errorf("lirjit: call target out of disp30 range")
		}
		word = (word &^ 0x3FFFFFFF) | (uint32(v) & 0x3FFFFFFF)
	} else {
		if v < -(1<<21) || v >= 1<<21 {
			return fmt.Errorf("lirjit: branch target out of disp22 range")
		}
		word = (word &^ 0x3FFFFF) | (uint32(v) & 0x3FFFFF)
	}
	write32(flat, site.wordOffset, word)
	return nil
}

// patchStubImm rewrites the rewritable trampoline's embedded 64-bit
// immediate, which movImm64 always encodes as a fixed six-instruction
// sethi/or/sllx/sethi/or/or sequence at wordOffset.
func patchStubImm(flat []byte, wordOffset int64, value uint64) error {
	if read32(flat, wordOffset)>>22&0x7 != 0x4 { // sethi
		return fmt.Errorf("lirjit: set_jump_addr on a jump not created with the rewritable flag")
	}
	hh22 := uint32(value>>42) & 0x3FFFFF
	hm10 := uint32(value>>32) & 0x3FF
	lm22 := uint32(value>>10) & 0x3FFFFF
	lo10 := uint32(value) & 0x3FF
	scratchWord := read32(flat, wordOffset)
	scratchRd := (scratchWord >> 25) & 0x1F
	dstWord := read32(flat, wordOffset+12)
	dstRd := (dstWord >> 25) & 0x1F
	write32(flat, wordOffset, sethi(reg(scratchRd), hh22))
	write32(flat, wordOffset+4, orImm(reg(scratchRd), reg(scratchRd), int32(hm10)))
	write32(flat, wordOffset+12, sethi(reg(dstRd), lm22))
	write32(flat, wordOffset+16, orImm(reg(dstRd), reg(dstRd), int32(lo10)))
	return nil
}

func (b *SPARCBackend) PatchJump(flat []byte, offset int64, codeBase uintptr, newTarget uintptr) error {
	if offset < 0 || offset >= int64(len(flat)) {
		return fmt.Errorf("lirjit: set_jump_addr offset out of range")
	}
	pos := offset
	if w := read32(flat, pos); w>>30 == 0 && (w>>22)&0x7 == 0x2 { // Bicc guard word
		pos += 8 // skip the branch and its delay slot
	}
	return patchStubImm(flat, pos, uint64(newTarget))
}

func (b *SPARCBackend) PatchConst(flat []byte, offset int64, newValue int64) error {
	return patchStubImm(flat, offset, uint64(newValue))
}
