package x86_32

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/ir"
)

// jumpSite records where, within the flattened code, a previously
// emitted branch's target field lives.
type jumpSite struct {
	patchOffset int64
	nextInstr   int64
	stub        bool
}

func (b *X86Backend) Label() (int, error) {
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	id := len(b.ctx.Labels)
	b.ctx.Labels = append(b.ctx.Labels, ir.Label{ID: id, Size: b.ctx.Offset()})
	return id, nil
}

func (b *X86Backend) AlignedLabel(alignment int, roData []byte) (int, error) {
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

// emitDirectBranch appends a rel32 Jcc/Jmp/Call, mirroring the amd64
// backend's default jump shape (32-bit displacement covers the whole
// buffer in practice, same as on amd64).
func (b *X86Backend) emitDirectBranch(e *enc, pred ir.Predicate, call ir.CallKind) (jumpSite, error) {
	if pred == ir.CondAlways {
		if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
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

// emitRewritableStub appends a fixed-size far-branch stub: mov
// tmp0,imm32 + call/jmp tmp0 (7 bytes), optionally preceded by an
// inverted short conditional skip. x86-32's address space is 32-bit
// so the immediate load needs no 64-bit form.
func (b *X86Backend) emitRewritableStub(e *enc, pred ir.Predicate, call ir.CallKind) jumpSite {
	const stubLen = 7
	if pred != ir.CondAlways {
		if cc, err := ccOf(pred); err == nil {
			inv := cc ^ 1
			e.bytes(0x70+inv, stubLen)
		}
	}
	e.byte(0xB8 + byte(tmp0&7))
	patchOffset := int64(len(e.b))
	e.u32(0)
	ext := physReg(4)
	if call == ir.CallDirect || call == ir.CallFast || call == ir.CallIndirect {
		ext = 2
	}
	e.bytes(0xFF, modrmReg(ext, tmp0))
	return jumpSite{patchOffset: patchOffset, stub: true}
}

func (b *X86Backend) recordJump(e *enc, pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
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
	site.patchOffset += instrStart
	site.nextInstr += instrStart

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

func (b *X86Backend) Jump(pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error) {
	if err := b.ctx.RequireABI(); err != nil {
		return 0, b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return 0, b.ctx.Err
	}
	var e enc
	return b.recordJump(&e, pred, jflags, call)
}

func (b *X86Backend) Cmp(pred ir.Predicate, jflags ir.JumpFlags, s1, s2 ir.Operand) (int, error) {
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
	if s2.IsImm() {
		e.bytes(0x81, modrmReg(7, p1))
		e.u32(uint32(s2.Imm))
	} else {
		p2, err := b.materialize(&e, s2, tmp1)
		if err != nil {
			return 0, b.ctx.Fail(err)
		}
		e.bytes(0x39, modrmReg(p2, p1))
	}
	return b.recordJump(&e, pred, jflags, ir.NotCall)
}

func (b *X86Backend) IJump(call ir.CallKind, src ir.Operand) (int, error) {
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

func (b *X86Backend) OpFlags(pred ir.Predicate, dst ir.Operand) error {
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
		e.bytes(0x0F, 0x90+cc, modrmReg(0, tmp0))
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
	// SETcc into cl, then zero-extend: esi/edi have no byte form (as
	// an r/m8 operand they name dh/bh).
	e.bytes(0x0F, 0x90+cc, modrmReg(0, tmp0))
	e.bytes(0x0F, 0xB6, modrmReg(dstP, tmp0))
	b.ctx.Buf.Append(e.b)
	return nil
}

// Const always emits a 5-byte mov r32,imm32 so PatchConst's offset
// arithmetic is unconditional.
func (b *X86Backend) Const(dst ir.Operand, init int64) (int, error) {
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
	e.byte(0xB8 + byte(dstP&7))
	e.u32(uint32(init))
	b.ctx.Buf.Append(e.b)
	b.ctx.Consts = append(b.ctx.Consts, ir.Const{ID: id, Init: init, Addr: uintptr(instrStart)})
	return id, nil
}

func (b *X86Backend) SetLabel(jumpID, labelID int) error {
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
			target := uint32(uint64(codeBase) + uint64(targetOff))
			binary.LittleEndian.PutUint32(flat[site.patchOffset:site.patchOffset+4], target)
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

func (b *X86Backend) SetTarget(jumpID int, addr int64) error {
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
			binary.LittleEndian.PutUint32(flat[site.patchOffset:site.patchOffset+4], uint32(addr))
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

func (b *X86Backend) PatchJump(flat []byte, offset int64, codeBase uintptr, newTarget uintptr) error {
	if offset < 0 || offset >= int64(len(flat)) {
		return fmt.Errorf("lirjit: set_jump_addr offset out of range")
	}
	pos := offset
	if op := flat[pos]; op >= 0x70 && op <= 0x7F {
		pos += 2 // skip the inverted-condition short jump (opcode + rel8)
	}
	if pos >= int64(len(flat)) || flat[pos] != 0xB8+byte(tmp0&7) {
		return fmt.Errorf("lirjit: set_jump_addr on a jump not created with the rewritable flag")
	}
	immOff := pos + 1
	if immOff < 0 || immOff+4 > int64(len(flat)) {
		return fmt.Errorf("lirjit: set_jump_addr overruns the code buffer")
	}
	binary.LittleEndian.PutUint32(flat[immOff:immOff+4], uint32(newTarget))
	return nil
}

func (b *X86Backend) PatchConst(flat []byte, offset int64, newValue int64) error {
	immOff := offset + 1
	if immOff < 0 || immOff+4 > int64(len(flat)) {
		return fmt.Errorf("lirjit: set_const offset out of range")
	}
	binary.LittleEndian.PutUint32(flat[immOff:immOff+4], uint32(newValue))
	return nil
}
