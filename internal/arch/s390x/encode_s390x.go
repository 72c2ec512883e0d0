package s390x

import (
	"encoding/binary"
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// enc accumulates a variable-length instruction stream. Unlike every
// other backend in this tree, z/Architecture instructions are 2, 4,
// or 6 bytes wide (RR, RX/RI/RRE, RIL/RXY/RSY formats respectively),
// so there is no single fixed word size to append.
type enc struct {
	b []byte
}

func (e *enc) put16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *enc) put32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *enc) put48(hi uint32, lo uint16) {
	e.put32(hi)
	e.put16(lo)
}

func (e *enc) len() int { return len(e.b) }

// --- RR (2 bytes): opcode(8) r1(4) r2(4) ---------------------------------

func rr(opcode byte, r1, r2 reg) uint16 {
	return uint16(opcode)<<8 | uint16(r1&0xF)<<4 | uint16(r2&0xF)
}

// --- RRE (4 bytes): opcode(16) ////(8) r1(4) r2(4) -----------------------

func rre(opcode uint16, r1, r2 reg) uint32 {
	return uint32(opcode)<<16 | uint32(r1&0xF)<<4 | uint32(r2&0xF)
}

const (
	opLGR  = 0xB904
	opLCGR = 0xB903
	opLTGR = 0xB902
	opAGR  = 0xB908
	opSGR  = 0xB909
	opMSGR = 0xB90C
	opDSGR = 0xB90D
	opNGR  = 0xB980
	opOGR  = 0xB981
	opXGR  = 0xB982
	opMLGR = 0xB986
	opDLGR = 0xB987
	opCGR   = 0xB920
	opCLGR  = 0xB921
	opFLOGR = 0xB983
)

func lgr(r1, r2 reg) uint32  { return rre(opLGR, r1, r2) }
func lcgr(r1, r2 reg) uint32 { return rre(opLCGR, r1, r2) }
func ltgr(r1, r2 reg) uint32 { return rre(opLTGR, r1, r2) }
func agr(r1, r2 reg) uint32  { return rre(opAGR, r1, r2) }
func sgr(r1, r2 reg) uint32  { return rre(opSGR, r1, r2) }
func msgr(r1, r2 reg) uint32 { return rre(opMSGR, r1, r2) }
func dsgr(r1, r2 reg) uint32 { return rre(opDSGR, r1, r2) }
func ngr(r1, r2 reg) uint32  { return rre(opNGR, r1, r2) }
func ogr(r1, r2 reg) uint32  { return rre(opOGR, r1, r2) }
func xgr(r1, r2 reg) uint32  { return rre(opXGR, r1, r2) }
func mlgr(r1, r2 reg) uint32 { return rre(opMLGR, r1, r2) }
func dlgr(r1, r2 reg) uint32 { return rre(opDLGR, r1, r2) }
func cgr(r1, r2 reg) uint32   { return rre(opCGR, r1, r2) }
func clgr(r1, r2 reg) uint32  { return rre(opCLGR, r1, r2) }
func flogr(r1, r2 reg) uint32 { return rre(opFLOGR, r1, r2) }

// --- RI (4 bytes): opcode1(8) r1/mask(4) subop(4) imm16(16) --------------

func ri(opcode1 byte, highNibble, subop uint32, imm16 uint16) uint32 {
	return uint32(opcode1)<<24 | (highNibble&0xF)<<20 | (subop&0xF)<<16 | uint32(imm16)
}

func lghi(r1 reg, imm16 int16) uint32 { return ri(0xA7, uint32(r1), 0x9, uint16(imm16)) }

// brc encodes BRC, branching PC + 2*disp16 when the PSW condition code
// matches one of the four bits set in mask (bit3=CC0 ... bit0=CC3).
func brc(mask uint32, disp16 int16) uint32 { return ri(0xA7, mask, 0x4, uint16(disp16)) }

// --- RIL (6 bytes): opcode1(8) r1/mask(4) subop(4) imm32(32) -------------

func ril(opcode1 byte, highNibble, subop uint32, imm32 uint32) (hi uint32, lo uint16) {
	hi = uint32(opcode1)<<24 | (highNibble&0xF)<<20 | (subop&0xF)<<16 | (imm32 >> 16)
	lo = uint16(imm32)
	return
}

func lgfi(r1 reg, imm32 int32) (uint32, uint16)  { return ril(0xC0, uint32(r1), 0x1, uint32(imm32)) }
func iihf(r1 reg, imm32 uint32) (uint32, uint16) { return ril(0xC0, uint32(r1), 0x8, imm32) }
func iilf(r1 reg, imm32 uint32) (uint32, uint16) { return ril(0xC0, uint32(r1), 0x9, imm32) }

// brcl is BRCL: PC + 2*disp32, long-displacement sibling of BRC.
func brcl(mask uint32, disp32 int32) (uint32, uint16) { return ril(0xC0, mask, 0x4, uint32(disp32)) }

// brasl is "branch relative and save long": link register gets the
// address of the next instruction, then control transfers to
// PC + 2*disp32. This backend's CALL sequence.
func brasl(link reg, disp32 int32) (uint32, uint16) { return ril(0xC0, uint32(link), 0x5, uint32(disp32)) }

// --- RXY/RSY (6 bytes): opcode1(8) r1(4) x2/r3(4) b2(4) dl2(12) dh2(8) opcode2(8)

func rxy(opcode1, opcode2 byte, r1, x2r3, b2 reg, disp20 int32) (hi uint32, lo uint16) {
	d := uint32(disp20) & 0xFFFFF
	dl2 := d & 0xFFF
	dh2 := (d >> 12) & 0xFF
	b0 := uint32(opcode1)
	b1 := uint32(r1&0xF)<<4 | uint32(x2r3&0xF)
	b2f := uint32(b2&0xF)<<4 | (dl2>>8)&0xF
	b3 := dl2 & 0xFF
	hi = b0<<24 | b1<<16 | b2f<<8 | b3
	lo = uint16(dh2<<8 | uint32(opcode2))
	return
}

func lg(r1, b2 reg, disp20 int32) (uint32, uint16)  { return rxy(0xE3, 0x04, r1, 0, b2, disp20) }
func stg(r1, b2 reg, disp20 int32) (uint32, uint16) { return rxy(0xE3, 0x24, r1, 0, b2, disp20) }

// lay computes b2+disp20 into r1 without touching memory, the RXY
// "load address" form this backend uses for stack-pointer arithmetic
// (S390x's counterpart to PowerPC's ADDI/SPARC's ADD-immediate).
func lay(r1, b2 reg, disp20 int32) (uint32, uint16) { return rxy(0xE3, 0x71, r1, 0, b2, disp20) }

func sllg(r1, r3, b2 reg, disp20 int32) (uint32, uint16) { return rxy(0xEB, 0x0D, r1, r3, b2, disp20) }
func srlg(r1, r3, b2 reg, disp20 int32) (uint32, uint16) { return rxy(0xEB, 0x0C, r1, r3, b2, disp20) }
func srag(r1, r3, b2 reg, disp20 int32) (uint32, uint16) { return rxy(0xEB, 0x0A, r1, r3, b2, disp20) }

// --- BCR/BASR (RR-format branches) ---------------------------------------

func bcr(mask uint32, r2 reg) uint16 { return rr(0x07, reg(mask), r2) }
func basr(r1, r2 reg) uint16         { return rr(0x0D, r1, r2) }

// --- condition masks -------------------------------------------------------

const (
	maskEQ        = 0x8
	maskLT        = 0x4
	maskGT        = 0x2
	maskOV        = 0x1
	maskNE        = 0x7
	maskLE        = 0xC
	maskGE        = 0xA
	maskAlways    = 0xF
	maskNotOV     = 0xE
	maskCarry     = 0x3
	maskNotCarry  = 0xC
)

// --- 64-bit immediate materialization -------------------------------------

// movImm64 emits IIHF+IILF, which sets the full 64-bit register
// unconditionally regardless of the value's shape, so PatchConst's
// fixed offsets stay valid.
func movImm64(e *enc, dst reg, v uint64) {
	hi, lo := iihf(dst, uint32(v>>32))
	e.put48(hi, lo)
	hi, lo = iilf(dst, uint32(v))
	e.put48(hi, lo)
}

// movImmCompact picks LGHI (16-bit signed, 4 bytes), LGFI (32-bit
// signed, 6 bytes), or the full IIHF+IILF pair (12 bytes).
func movImmCompact(e *enc, dst reg, v uint64) {
	sv := int64(v)
	if sv >= -32768 && sv <= 32767 {
		e.put32(lghi(dst, int16(sv)))
		return
	}
	if sv >= -(1<<31) && sv <= (1<<31)-1 {
		hi, lo := lgfi(dst, int32(sv))
		e.put48(hi, lo)
		return
	}
	movImm64(e, dst, v)
}

func operandPhys(o ir.Operand) (reg, error) {
	if !o.IsReg() {
		return 0, fmt.Errorf("lirjit: expected a register operand")
	}
	p, ok := physOf(o.Reg)
	if !ok {
		return 0, fmt.Errorf("lirjit: register %s is not mapped on s390x", o.Reg)
	}
	return p, nil
}

func (b *S390XBackend) movInto(e *enc, dst reg, src ir.Operand) error {
	switch src.Kind {
	case ir.KindReg:
		p, ok := physOf(src.Reg)
		if !ok {
			return fmt.Errorf("lirjit: unmapped register %s", src.Reg)
		}
		if p != dst {
			e.put32(lgr(dst, p))
		}
	case ir.KindImm:
		movImmCompact(e, dst, uint64(src.Imm))
	case ir.KindMem:
		base, ok := physOf(src.Mem.Base)
		if !ok {
			return fmt.Errorf("lirjit: bad base register in memory operand")
		}
		if src.Mem.Disp < -(1<<19) || src.Mem.Disp > (1<<19)-1 {
			return fmt.Errorf("lirjit: displacement %d out of lg range", src.Mem.Disp)
		}
		hi, lo := lg(dst, base, int32(src.Mem.Disp))
		e.put48(hi, lo)
	default:
		return fmt.Errorf("lirjit: unsupported source operand kind")
	}
	return nil
}

func (b *S390XBackend) materialize(e *enc, o ir.Operand, scratch reg) (reg, error) {
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

func (b *S390XBackend) storeFrom(e *enc, dstMem ir.Mem, src reg) error {
	base, ok := physOf(dstMem.Base)
	if !ok {
		return fmt.Errorf("lirjit: bad base register in memory operand")
	}
	if dstMem.Disp < -(1<<19) || dstMem.Disp > (1<<19)-1 {
		return fmt.Errorf("lirjit: displacement %d out of stg range", dstMem.Disp)
	}
	hi, lo := stg(src, base, int32(dstMem.Disp))
	e.put48(hi, lo)
	return nil
}
