package ppc

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// enc accumulates 32-bit instruction words (big-endian, PowerPC's
// native byte order for ppc64, little-endian for ppc64le — this repo
// always encodes the bit layout the same way and lets the buffer's
// own byte order match the build's GOARCH, since ppc64 and ppc64le
// differ only in byte order, never in instruction bit layout).
type enc struct {
	b []byte
}

func (e *enc) word(w uint32) {
	var tmp [4]byte
	byteOrder.PutUint32(tmp[:], w)
	e.b = append(e.b, tmp[:]...)
}

func (e *enc) len() int { return len(e.b) }

// --- D-form (opcode, rt/rs, ra, 16-bit immediate) ---------------------

func dform(opcode uint32, rt, ra reg, imm uint16) uint32 {
	return opcode<<26 | uint32(rt&0x1F)<<21 | uint32(ra&0x1F)<<16 | uint32(imm)
}

func addi(rt, ra reg, simm int16) uint32  { return dform(14, rt, ra, uint16(simm)) }
func addis(rt, ra reg, simm int16) uint32 { return dform(15, rt, ra, uint16(simm)) }
func ori(ra, rs reg, uimm uint16) uint32  { return dform(24, rs, ra, uimm) }
func oris(ra, rs reg, uimm uint16) uint32 { return dform(25, rs, ra, uimm) }

func li(rt reg, simm int16) uint32 { return addi(rt, 0, simm) }
func lis(rt reg, simm int16) uint32 { return addis(rt, 0, simm) }

// --- X-form (opcode, rt/rs, ra, rb, extended opcode, rc) --------------

func xform(opcode, rt, ra, rb reg, xo uint32, rc bool) uint32 {
	w := opcode<<26 | uint32(rt&0x1F)<<21 | uint32(ra&0x1F)<<16 | uint32(rb&0x1F)<<11 | xo<<1
	if rc {
		w |= 1
	}
	return w
}

// arithX encodes arithmetic XO-form instructions where the destination
// sits in the RT slot (ADD, SUBF, MULLD, ...).
func arithX(dst, ra, rb reg, xo uint32) uint32 { return xform(31, dst, ra, rb, xo, false) }

// logicalX encodes logical X-form instructions where the destination
// sits in the RA slot and the source in the RT slot (AND, OR, XOR,
// NOR — PowerPC's storage-instruction-shaped mnemonic order).
func logicalX(dst, src, rb reg, xo uint32) uint32 { return xform(31, src, dst, rb, xo, false) }

func add(dst, ra, rb reg) uint32    { return arithX(dst, ra, rb, 266) }
func subf(dst, ra, rb reg) uint32   { return arithX(dst, ra, rb, 40) } // dst = rb - ra
func mulld(dst, ra, rb reg) uint32  { return arithX(dst, ra, rb, 233) }
func mulhdu(dst, ra, rb reg) uint32 { return arithX(dst, ra, rb, 9) }
func mulhd(dst, ra, rb reg) uint32  { return arithX(dst, ra, rb, 73) }
func divd(dst, ra, rb reg) uint32   { return arithX(dst, ra, rb, 489) }
func divdu(dst, ra, rb reg) uint32  { return arithX(dst, ra, rb, 457) }
func neg(dst, ra reg) uint32        { return 31<<26 | uint32(dst&0x1F)<<21 | uint32(ra&0x1F)<<16 | 104<<1 }
func cntlzd(dst, src reg) uint32    { return 31<<26 | uint32(src&0x1F)<<21 | uint32(dst&0x1F)<<16 | 58<<1 }

func and(dst, src, rb reg) uint32 { return logicalX(dst, src, rb, 28) }
func or(dst, src, rb reg) uint32  { return logicalX(dst, src, rb, 444) }
func xorOp(dst, src, rb reg) uint32 { return logicalX(dst, src, rb, 316) }
func nor(dst, src reg) uint32     { return logicalX(dst, src, src, 124) } // not: nor dst,src,src

func mr(dst, src reg) uint32 { return or(dst, src, src) }

// sld/srd/srad: shift left/right logical/arithmetic doubleword, shift
// amount in a register.
func sld(dst, src, rb reg) uint32  { return logicalX(dst, src, rb, 27) }
func srd(dst, src, rb reg) uint32  { return logicalX(dst, src, rb, 539) }
func srad(dst, src, rb reg) uint32 { return logicalX(dst, src, rb, 794) }

// cmpd/cmpld compare doubleword signed/unsigned against cr0.
func cmpd(ra, rb reg) uint32  { return 31<<26 | 1<<21 | uint32(ra&0x1F)<<16 | uint32(rb&0x1F)<<11 }
func cmpld(ra, rb reg) uint32 { return 31<<26 | 1<<21 | uint32(ra&0x1F)<<16 | uint32(rb&0x1F)<<11 | 32<<1 }

// --- load/store --------------------------------------------------------

func ld(rt, ra reg, disp int16) uint32 {
	return 58<<26 | uint32(rt&0x1F)<<21 | uint32(ra&0x1F)<<16 | uint32(uint16(disp)&0xFFFC)
}

func std(rt, ra reg, disp int16) uint32 {
	return 62<<26 | uint32(rt&0x1F)<<21 | uint32(ra&0x1F)<<16 | uint32(uint16(disp)&0xFFFC)
}

func mtspr(spr uint32, rs reg) uint32 {
	enc := (spr&0x1F)<<5 | (spr>>5)&0x1F
	return 31<<26 | uint32(rs&0x1F)<<21 | enc<<11 | 467<<1
}

func mfspr(rt reg, spr uint32) uint32 {
	enc := (spr&0x1F)<<5 | (spr>>5)&0x1F
	return 31<<26 | uint32(rt&0x1F)<<21 | enc<<11 | 339<<1
}

const (
	sprLR  = 8
	sprCTR = 9
)

func mtlr(rs reg) uint32  { return mtspr(sprLR, rs) }
func mflr(rt reg) uint32  { return mfspr(rt, sprLR) }
func mtctr(rs reg) uint32 { return mtspr(sprCTR, rs) }

func bctr(link bool) uint32 {
	lk := uint32(0)
	if link {
		lk = 1
	}
	return 19<<26 | 20<<21 | 528<<1 | lk
}

func blr() uint32 { return 19<<26 | 20<<21 | 16<<1 }

// --- immediate materialization ----------------------------------------

// rldicrShl32 encodes "rldicr dst,dst,32,31": rotate left 32 then mask
// to the low 32 bits landing in the high word, i.e. a 32-bit left
// shift — the MD-form instruction the standard lis/ori/rldicr/oris/ori
// 64-bit immediate-load sequence uses between its high-word and
// low-word halves.
func rldicrShl32(dst reg) uint32 {
	const sh, me, xo = 32, 31, 1
	return 30<<26 | uint32(dst&0x1F)<<21 | uint32(dst&0x1F)<<16 |
		(sh&0x1F)<<11 | (me&0x1F)<<5 | ((me>>5)&1)<<4 | xo<<2 | ((sh>>5)&1)<<1
}

// movImm64 emits the fixed lis+ori+rldicr-shift+oris+ori five-
// instruction sequence that can represent any 64-bit value, so
// PatchConst's offset arithmetic is unconditional.
func movImm64(e *enc, dst reg, v uint64) {
	e.word(lis(dst, int16(v>>48)))
	e.word(ori(dst, dst, uint16(v>>32)))
	e.word(rldicrShl32(dst))
	e.word(oris(dst, dst, uint16(v>>16)))
	e.word(ori(dst, dst, uint16(v)))
}

// movImmCompact emits the shortest li/lis+ori form for v.
func movImmCompact(e *enc, dst reg, v uint64) {
	if int64(v) >= -32768 && int64(v) <= 32767 {
		e.word(li(dst, int16(v)))
		return
	}
	if v>>32 == 0 {
		e.word(lis(dst, int16(v>>16)))
		if v&0xFFFF != 0 {
			e.word(ori(dst, dst, uint16(v)))
		}
		return
	}
	movImm64(e, dst, v)
}

// --- operand resolution --------------------------------------------------

func operandPhys(o ir.Operand) (reg, error) {
	if !o.IsReg() {
		return 0, fmt.Errorf("lirjit: expected a register operand")
	}
	p, ok := physOf(o.Reg)
	if !ok {
		return 0, fmt.Errorf("lirjit: register %s is not mapped on ppc", o.Reg)
	}
	return p, nil
}

func (b *PPCBackend) movInto(e *enc, dst reg, src ir.Operand) error {
	switch src.Kind {
	case ir.KindReg:
		p, ok := physOf(src.Reg)
		if !ok {
			return fmt.Errorf("lirjit: unmapped register %s", src.Reg)
		}
		if p != dst {
			e.word(mr(dst, p))
		}
	case ir.KindImm:
		movImmCompact(e, dst, uint64(src.Imm))
	case ir.KindMem:
		base, ok := physOf(src.Mem.Base)
		if !ok {
			return fmt.Errorf("lirjit: bad base register in memory operand")
		}
		if src.Mem.Disp < -32768 || src.Mem.Disp > 32767 {
			return fmt.Errorf("lirjit: displacement %d out of ld/std range", src.Mem.Disp)
		}
		e.word(ld(dst, base, int16(src.Mem.Disp)))
	default:
		return fmt.Errorf("lirjit: unsupported source operand kind")
	}
	return nil
}

func (b *PPCBackend) materialize(e *enc, o ir.Operand, scratch reg) (reg, error) {
	if o.Kind == ir.KindReg {
		p, ok := physOf(o.Reg)
		if !ok {
			return 0, fmt.Errorf("lirjit: unmapped register %s", o.Reg)
		}
		return p, nil
	}
	if err := b.movInto(e, scratch, o); err != nil {
		return 0, err
	}
	return scratch, nil
}

func (b *PPCBackend) storeFrom(e *enc, dstMem ir.Mem, src reg) error {
	base, ok := physOf(dstMem.Base)
	if !ok {
		return fmt.Errorf("lirjit: bad base register in memory operand")
	}
	if dstMem.Disp < -32768 || dstMem.Disp > 32767 {
		return fmt.Errorf("lirjit: displacement %d out of ld/std range", dstMem.Disp)
	}
	e.word(std(src, base, int16(dstMem.Disp)))
	return nil
}
