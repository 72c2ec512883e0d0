package s390x

import (
	"encoding/binary"
	"fmt"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/flags"
	"github.com/lirjit/lirjit/internal/ir"
)

// jumpSite records where, within the flattened code, a previously
// emitted branch's displacement (or trampoline's immediate) lives.
// Every direct branch/call this backend emits uses the RIL-format
// long forms (BRCL/BRASL) uniformly, so there is exactly one field
// width to patch, never a short-vs-long choice.
type jumpSite struct {
	wordOffset int64
	cond       bool
	stub       bool
}

func read16(flat []byte, off int64) uint16 { return binary.BigEndian.Uint16(flat[off : off+2]) }
func read32(flat []byte, off int64) uint32 { return binary.BigEndian.Uint32(flat[off : off+4]) }

func write16(flat []byte, off int64, v uint16) { binary.BigEndian.PutUint16(flat[off:off+2], v) }
func write32(flat []byte, off int64, v uint32) { binary.BigEndian.PutUint32(flat[off:off+4], v) }

func put48At(flat []byte, off int64, hi uint32, lo uint16) {
	write32(flat, off, hi)
	write16(flat, off+4, lo)
}

func (b *S390XBackend) Label() (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	id := len(b.ctx.Labels)
	b.ctx.Labels = append(b.ctx.Labels, ir.Label{ID: id, Size: b.ctx.Offset()})
	return id, nil
}

func (b *S390XBackend) AlignedLabel(alignment int, roData []byte) (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	if alignment > 1 {
		pad := (alignment - int(b.ctx.Offset()%int64(alignment))) % alignment
		if pad > 0 {
			var e enc
			for i := 0; i < pad/2; i++ {
				e.put16(bcr(0, r0))
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

// emitDirectBranch always uses the RIL-format long forms (BRCL for a
// conditional/unconditional jump, BRASL for a call), so patching never
// needs to distinguish a short 4-byte BRC from a long 6-byte BRCL.
func (b *S390XBackend) emitDirectBranch(e *enc, pred ir.Predicate, call ir.CallKind) (jumpSite, error) {
	off := int64(e.len())
	isCall := call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect
	if pred == ir.CondAlways {
		if isCall {
			hi, lo := brasl(r14, 0)
			e.put48(hi, lo)
		} else {
			hi, lo := brcl(maskAlways, 0)
			e.put48(hi, lo)
		}
		return jumpSite{wordOffset: off}, nil
	}
	mask, err := ccOf(pred)
	if err != nil {
		return jumpSite{}, err
	}
	if pred == ir.CondEqual || pred == ir.CondNotEqual {
		if b.zero.Valid(flags.SlotZero) {
			e.put32(ltgr(flagGPR, flagGPR))
			b.zero.Clear()
			off = int64(e.len()) // the displacement lives in the BRCL, after the LTGR
		}
	}
	hi, lo := brcl(mask, 0)
	e.put48(hi, lo)
	return jumpSite{wordOffset: off, cond: true}, nil
}

// emitRewritableStub emits a fixed IIHF+IILF-into-tmp0 + BCR/BASR
// trampoline, preceded by an inverted-mask BRC guard for conditional
// rewritable jumps. The guard must skip 14 bytes (IIHF+IILF+BCR), and
// BRC's displacement counts 2-byte halfwords from its own address, so
// disp16 = 2 (BRC's own halfwords) + 7 (skipped halfwords) = 9.
func (b *S390XBackend) emitRewritableStub(e *enc, pred ir.Predicate, call ir.CallKind) (jumpSite, error) {
	isCond := pred != ir.CondAlways
	if isCond {
		mask, err := ccOf(pred)
		if err != nil {
			return jumpSite{}, err
		}
		e.put32(brc(invMask(mask), 9))
	}
	off := int64(e.len())
	movImm64(e, tmp0, 0)
	isCall := call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect
	if isCall {
		e.put16(basr(r14, tmp0))
	} else {
		e.put16(bcr(maskAlways, tmp0))
	}
	return jumpSite{wordOffset: off, cond: isCond, stub: true}, nil
}

func (b *S390XBackend) recordJump(e *enc, pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
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

func (b *S390XBackend) Jump(pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	if err := b.ctx.RequireABI(); err != nil {
		return 0, b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	var e enc
	return b.recordJump(&e, pred, jflags, call)
}

func (b *S390XBackend) Cmp(pred ir.Predicate, jflags ir.JumpFlags, s1, s2 ir.Operand) (int, error) {
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
		e.put32(clgr(p1, p2))
	} else {
		e.put32(cgr(p1, p2))
	}
	b.zero.Clear() // a real compare just ran; the emulated snapshot is stale
	return b.recordJump(&e, pred, jflags, ir.NotCall)
}

func (b *S390XBackend) IJump(call ir.CallKind, src ir.Operand) (int, error) {
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
	isCall := call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect
	branchStart := int64(len(e.b))
	if isCall {
		e.put16(basr(r14, p))
	} else {
		e.put16(bcr(maskAlways, p))
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

func (b *S390XBackend) OpFlags(pred ir.Predicate, dst ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	mask, err := ccOf(pred)
	if err != nil {
		return b.ctx.Fail(err)
	}
	var e enc
	dstP, err := b.materialize(&e, dst, tmp0)
	if err != nil {
		return b.ctx.Fail(err)
	}
	if pred == ir.CondEqual || pred == ir.CondNotEqual {
		if b.zero.Valid(flags.SlotZero) {
			e.put32(ltgr(flagGPR, flagGPR))
			b.zero.Clear()
		}
	}
	// dst=1; BRC skips the following "dst=0" (4 bytes = 2 halfwords)
	// when mask holds; disp16 = 2 (BRC's own) + 2 (skipped) = 4.
	e.put32(lghi(dstP, 1))
	e.put32(brc(mask, 4))
	e.put32(lghi(dstP, 0))
	if dst.IsMem() {
		if err := b.storeFrom(&e, dst.Mem, dstP); err != nil {
			return b.ctx.Fail(err)
		}
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

// Const always uses the fixed IIHF+IILF form so PatchConst's offset
// arithmetic is unconditional.
func (b *S390XBackend) Const(dst ir.Operand, init int64) (int, error) {
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

func (b *S390XBackend) SetLabel(jumpID, labelID int) error {
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

func (b *S390XBackend) SetTarget(jumpID int, addr int64) error {
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

// patchBranchImm rewrites a BRCL/BRASL's disp32 field (bytes 2-5 of
// the 6-byte instruction), relative to the instruction's own address
// in 2-byte halfword units.
func patchBranchImm(flat []byte, site jumpSite, rel int64) error {
	if rel%2 != 0 {
		return fmt.Errorf("lirjit: branch target not 2-byte aligned")
	}
	v := rel / 2
	if v < -(1<<31) || v > (1<<31)-1 {
		return fmt.Errorf("lirjit: branch target out of disp32 range")
	}
	hi := read32(flat, site.wordOffset)
	preserved := hi & 0xFFFF0000
	imm32 := uint32(v)
	write32(flat, site.wordOffset, preserved|(imm32>>16))
	write16(flat, site.wordOffset+4, uint16(imm32))
	return nil
}

// patchStubImm rewrites the rewritable trampoline's embedded 64-bit
// immediate, which movImm64 always encodes as a fixed IIHF+IILF pair
// at wordOffset, preserving each instruction's own r1 field.
func patchStubImm(flat []byte, wordOffset int64, value uint64) error {
	if flat[wordOffset] != 0xC0 || flat[wordOffset+1]&0xF != 0x8 { // IIHF
		return fmt.Errorf("lirjit: set_jump_addr on a jump not created with the rewritable flag")
	}
	r1 := reg(flat[wordOffset+1] >> 4)
	hi, lo := iihf(r1, uint32(value>>32))
	put48At(flat, wordOffset, hi, lo)
	hi, lo = iilf(r1, uint32(value))
	put48At(flat, wordOffset+6, hi, lo)
	return nil
}

func (b *S390XBackend) PatchJump(flat []byte, offset int64, codeBase uintptr, newTarget uintptr) error {
	if offset < 0 || offset >= int64(len(flat)) {
		return fmt.Errorf("lirjit: set_jump_addr offset out of range")
	}
	pos := offset
	if flat[pos] == 0xA7 && flat[pos+1]&0xF == 0x4 { // BRC guard word
		pos += 4
	}
	return patchStubImm(flat, pos, uint64(newTarget))
}

func (b *S390XBackend) PatchConst(flat []byte, offset int64, newValue int64) error {
	return patchStubImm(flat, offset, uint64(newValue))
}
