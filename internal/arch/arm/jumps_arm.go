package arm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/ir"
)

// jumpSite records where, within the flattened code, a previously
// emitted branch's target field lives. wordOffset always points at
// the branch/constant-load word itself; ARM's B/BL immediate is
// relative to that instruction's own address (PC = addr+8 at execute
// time, which the B/BL encoding already bakes in as a -8 bias).
type jumpSite struct {
	wordOffset int64
	cond       bool
	stub       bool
}

func read32(flat []byte, off int64) uint32 {
	return binary.LittleEndian.Uint32(flat[off : off+4])
}

func write32(flat []byte, off int64, v uint32) {
	binary.LittleEndian.PutUint32(flat[off:off+4], v)
}

func (b *ARMBackend) Label() (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	id := len(b.ctx.Labels)
	b.ctx.Labels = append(b.ctx.Labels, ir.Label{ID: id, Size: b.ctx.Offset()})
	return id, nil
}

func (b *ARMBackend) AlignedLabel(alignment int, roData []byte) (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	if alignment > 1 {
		pad := (alignment - int(b.ctx.Offset()%int64(alignment))) % alignment
		if pad > 0 {
			nopWord := make([]byte, 4)
			binary.LittleEndian.PutUint32(nopWord, dpReg(condAL, opMOV, false, r0, 0, r0))
			b.ctx.Buf.Append(bytes.Repeat(nopWord, pad/4))
		}
	}
	id := len(b.ctx.Labels)
	b.ctx.Labels = append(b.ctx.Labels, ir.Label{ID: id, Size: b.ctx.Offset()})
	if len(roData) > 0 {
		b.ctx.Buf.Append(roData)
	}
	return id, nil
}

// emitDirectBranch appends a plain B/BL with a zero placeholder
// imm24, patched once the target is known.
func (b *ARMBackend) emitDirectBranch(e *enc, pred ir.Predicate, call ir.CallKind) jumpSite {
	cond := uint32(condAL)
	isCond := pred != ir.CondAlways
	if isCond {
		cond, _ = ccOf(pred)
	}
	l := uint32(0)
	if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
		l = 1
	}
	off := int64(e.len())
	e.word(cond<<28 | 0x5<<25 | l<<24)
	return jumpSite{wordOffset: off, cond: isCond}
}

// emitRewritableStub emits a fixed-length far-branch stub (movImm into
// tmp0 + BX/BLX tmp0), preceded by an inverted-condition branch-around
// for conditional rewritable jumps. The stub's instruction count
// depends on the capability-selected movImm form (2+1 words on v7,
// 3+1 words on v5/v6), so PatchJump must know which form was used the
// same way it's recorded here.
func (b *ARMBackend) emitRewritableStub(e *enc, pred ir.Predicate, call ir.CallKind) jumpSite {
	isCond := pred != ir.CondAlways
	if isCond {
		cc, _ := ccOf(pred)
		inv := cc ^ 1
		skipWords := int64(2)
		if !hasMovWT {
			skipWords = 3
		}
		e.word(inv<<28 | 0x5<<25 | uint32(skipWords))
	}
	off := int64(e.len())
	movImm(e, tmp0, 0)
	if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
		e.word(blx(tmp0))
	} else {
		e.word(bx(tmp0))
	}
	return jumpSite{wordOffset: off, cond: isCond, stub: true}
}

func (b *ARMBackend) recordJump(e *enc, pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	branchStart := int64(len(e.b)) // a fused Cmp's compare precedes the branch in e
	rewritable := jflags&ir.JumpRewritable != 0
	var site jumpSite
	if rewritable {
		site = b.emitRewritableStub(e, pred, call)
	} else {
		site = b.emitDirectBranch(e, pred, call)
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

func (b *ARMBackend) Jump(pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	if err := b.ctx.RequireABI(); err != nil {
		return 0, b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	var e enc
	return b.recordJump(&e, pred, jflags, call)
}

func (b *ARMBackend) Cmp(pred ir.Predicate, jflags ir.JumpFlags, s1, s2 ir.Operand) (int, error) {
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
	if s2.IsImm() && s2.Imm >= 0 && s2.Imm <= 0xFF {
		e.word(dpImm(condAL, opCMP, true, 0, p1, uint32(s2.Imm)))
	} else {
		p2, err := b.materialize(&e, s2, tmp1)
		if err != nil {
			return 0, b.ctx.Fail(err)
		}
		e.word(dpReg(condAL, opCMP, true, 0, p1, p2))
	}
	return b.recordJump(&e, pred, jflags, ir.NotCall)
}

func (b *ARMBackend) IJump(call ir.CallKind, src ir.Operand) (int, error) {
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
	if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
		e.word(blx(p))
	} else {
		e.word(bx(p))
	}

	id := len(b.ctx.Jumps)
	instrStart := b.ctx.Offset()
	b.ctx.Buf.Append(e.b)
	b.ctx.Jumps = append(b.ctx.Jumps, ir.Jump{
		ID: id, Flags: ir.JumpToTarget, Pred: ir.CondAlways, Call: call,
		Addr: uintptr(instrStart + branchStart),
	})
	return id, nil
}

func (b *ARMBackend) OpFlags(pred ir.Predicate, dst ir.Operand) error {
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
	dstP, err := b.materialize(&e, dst, tmp0)
	if err != nil {
		return b.ctx.Fail(err)
	}
	// MOV dst, #1 under cc; MOV dst, #0 under the inverted condition.
	e.word(dpImm(cc, opMOV, false, dstP, 0, 1))
	e.word(dpImm(inv, opMOV, false, dstP, 0, 0))
	if dst.IsMem() {
		if err := b.storeFrom(&e, dst.Mem, dstP); err != nil {
			return b.ctx.Fail(err)
		}
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

// Const always uses the fixed movImm form so PatchConst's offset
// arithmetic is unconditional.
func (b *ARMBackend) Const(dst ir.Operand, init int64) (int, error) {
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
	movImm(&e, dstP, uint32(init))
	b.ctx.Buf.Append(e.b)
	b.ctx.Consts = append(b.ctx.Consts, ir.Const{ID: id, Init: init, Addr: uintptr(instrStart)})
	return id, nil
}

func (b *ARMBackend) SetLabel(jumpID, labelID int) error {
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
			return patchStubImm(flat, site.wordOffset, uint32(uint64(codeBase)+uint64(targetOff)))
		}
		return patchBranchImm(flat, site, targetOff-site.wordOffset)
	})
	return nil
}

func (b *ARMBackend) SetTarget(jumpID int, addr int64) error {
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
			return patchStubImm(flat, site.wordOffset, uint32(addr))
		}
		rel := addr - int64(codeBase) - site.wordOffset
		return patchBranchImm(flat, site, rel)
	})
	return nil
}

// patchBranchImm rewrites a B/BL's imm24 field. ARM's branch offset is
// relative to the instruction's own address plus 8 (the pipeline's PC
// bias), already folded into the encoding by subtracting 8 here.
func patchBranchImm(flat []byte, site jumpSite, rel int64) error {
	rel -= 8
	if rel%4 != 0 {
		return fmt.Errorf("lirjit: branch target not 4-byte aligned")
	}
	v := rel / 4
	if v < -(1<<23) || v >= 1<<23 {
		return fmt.Errorf("lirjit: branch target out of imm24 range")
	}
	word := read32(flat, site.wordOffset)
	word = (word &^ 0xFFFFFF) | (uint32(v) & 0xFFFFFF)
	write32(flat, site.wordOffset, word)
	return nil
}

// patchStubImm rewrites the rewritable far-branch stub's embedded
// 32-bit immediate, whichever movImm form was used to encode it.
func patchStubImm(flat []byte, wordOffset int64, value uint32) error {
	first := read32(flat, wordOffset)
	if first&0xFFF00000 == condAL<<28|0x30<<20 { // MOVW tmp0, #imm16
		lo := uint16(value)
		write32(flat, wordOffset, condAL<<28|0x30<<20|uint32(lo>>12)<<16|uint32(tmp0&0xF)<<12|uint32(lo&0xFFF))
		hi := uint16(value >> 16)
		write32(flat, wordOffset+4, condAL<<28|0x34<<20|uint32(hi>>12)<<16|uint32(tmp0&0xF)<<12|uint32(hi&0xFFF))
		return nil
	}
	if first&0xFFFFF000 == condAL<<28|0x059F<<16 { // ldr tmp0,[pc,#0] literal form
		write32(flat, wordOffset+8, value)
		return nil
	}
	return fmt.Errorf("lirjit: set_jump_addr on a jump not created with the rewritable flag")
}

// isBranchWord reports whether w is a B (not BL) instruction word,
// i.e. bits[27:25]==101 and the link bit (24) clear.
func isBranchWord(w uint32) bool {
	return (w>>25)&0x7 == 0x5 && (w>>24)&0x1 == 0
}

func (b *ARMBackend) PatchJump(flat []byte, offset int64, codeBase uintptr, newTarget uintptr) error {
	if offset < 0 || offset >= int64(len(flat)) {
		return fmt.Errorf("lirjit: set_jump_addr offset out of range")
	}
	pos := offset
	if w := read32(flat, pos); isBranchWord(w) && w>>28 != condAL {
		pos += 4 // skip the inverted-condition branch-around guard
	}
	return patchStubImm(flat, pos, uint32(newTarget))
}

func (b *ARMBackend) PatchConst(flat []byte, offset int64, newValue int64) error {
	return patchStubImm(flat, offset, uint32(newValue))
}
