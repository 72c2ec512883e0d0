package sparc

import (
	"encoding/binary"
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// enc accumulates 32-bit instruction words, big-endian (SPARC's only
// byte order — unlike PowerPC, no little-endian SPARC variant ever
// shipped, so there is no build-tag split here).
type enc struct {
	b []byte
}

func (e *enc) word(w uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], w)
	e.b = append(e.b, tmp[:]...)
}

func (e *enc) len() int { return len(e.b) }

// sethi loads imm22 into the high 22 bits of rd, clearing the low 10.
func sethi(rd reg, imm22 uint32) uint32 {
	return 0<<30 | uint32(rd&0x1F)<<25 | 0x4<<22 | (imm22 & 0x3FFFFF)
}

func nop() uint32 { return sethi(g0, 0) }

// format3 encodes the arithmetic/logical/load/store instruction
// group: op in {2,3}, rd, a 6-bit op3, rs1, and either an rs2
// register or a 13-bit signed immediate selected by the i-bit.
func format3(opHi uint32, rd reg, op3 uint32, rs1 reg, immediate bool, rest uint32) uint32 {
	w := opHi<<30 | uint32(rd&0x1F)<<25 | (op3&0x3F)<<19 | uint32(rs1&0x1F)<<14
	if immediate {
		w |= 1<<13 | (rest & 0x1FFF)
	} else {
		w |= rest & 0x1F
	}
	return w
}

const (
	opADD    = 0x00
	opAND    = 0x01
	opOR     = 0x02
	opXOR    = 0x03
	opSUB    = 0x04
	opANDN   = 0x05
	opORN    = 0x06
	opXNOR   = 0x07
	opMULX   = 0x09
	opUDIVX  = 0x0D
	opADDcc  = 0x10
	opSUBcc  = 0x14
	opSDIVX  = 0x2D
	opSLL    = 0x25
	opSRL    = 0x26
	opSRA    = 0x27
	opJMPL   = 0x38
	opLDX    = 0x0B
	opSTX    = 0x0E
)

func arith(op3 uint32, rd, rs1, rs2 reg) uint32 { return format3(2, rd, op3, rs1, false, uint32(rs2)) }

func arithImm(op3 uint32, rd, rs1 reg, simm13 int32) uint32 {
	return format3(2, rd, op3, rs1, true, uint32(simm13)&0x1FFF)
}

func orReg(rd, rs1, rs2 reg) uint32        { return arith(opOR, rd, rs1, rs2) }
func orImm(rd, rs1 reg, imm int32) uint32  { return arithImm(opOR, rd, rs1, imm) }
func mov(rd, rs1 reg) uint32               { return orReg(rd, g0, rs1) }
func movImmSmall(rd reg, imm int32) uint32 { return orImm(rd, g0, imm) }

// shiftImm/shiftReg encode SLL/SRL/SRA with the V9 x-bit (bit 12) set
// to select the 64-bit shcnt6 extended-shift-count form (SLLX/SRLX/
// SRAX) rather than the 32-bit shcnt5 form.
func shiftImm(op3 uint32, rd, rs1 reg, shcnt uint32) uint32 {
	return 2<<30 | uint32(rd&0x1F)<<25 | (op3&0x3F)<<19 | uint32(rs1&0x1F)<<14 | 1<<13 | 1<<12 | (shcnt & 0x3F)
}

func shiftReg(op3 uint32, rd, rs1, rs2 reg) uint32 {
	return 2<<30 | uint32(rd&0x1F)<<25 | (op3&0x3F)<<19 | uint32(rs1&0x1F)<<14 | 1<<12 | uint32(rs2&0x1F)
}

func sllxImm(rd, rs1 reg, shcnt uint32) uint32 { return shiftImm(opSLL, rd, rs1, shcnt) }
func srlxImm(rd, rs1 reg, shcnt uint32) uint32 { return shiftImm(opSRL, rd, rs1, shcnt) }
func sraxImm(rd, rs1 reg, shcnt uint32) uint32 { return shiftImm(opSRA, rd, rs1, shcnt) }
func sllxReg(rd, rs1, rs2 reg) uint32          { return shiftReg(opSLL, rd, rs1, rs2) }
func srlxReg(rd, rs1, rs2 reg) uint32          { return shiftReg(opSRL, rd, rs1, rs2) }
func sraxReg(rd, rs1, rs2 reg) uint32          { return shiftReg(opSRA, rd, rs1, rs2) }

func ldx(rd, rs1 reg, disp int32) uint32 { return format3(3, rd, opLDX, rs1, true, uint32(disp)&0x1FFF) }
func stx(rd, rs1 reg, disp int32) uint32 { return format3(3, rd, opSTX, rs1, true, uint32(disp)&0x1FFF) }

// jmpl computes rs1+simm13, stores the jmpl instruction's own address
// into rd (%g0 for a tailcall-style jump), and transfers control
// there after the delay slot executes.
func jmpl(rd, rs1 reg, simm13 int32) uint32 {
	return format3(2, rd, opJMPL, rs1, true, uint32(simm13)&0x1FFF)
}

// --- branch (format 2, Bicc) -------------------------------------------

const (
	condBN   = 0x0
	condBE   = 0x1
	condBLE  = 0x2
	condBL   = 0x3
	condBLEU = 0x4
	condBCS  = 0x5
	condBNEG = 0x6
	condBVS  = 0x7
	condBA   = 0x8
	condBNE  = 0x9
	condBG   = 0xA
	condBGE  = 0xB
	condBGU  = 0xC
	condBCC  = 0xD
	condBPOS = 0xE
	condBVC  = 0xF
)

// bicc encodes a V8-compatible integer branch: op=00, annul bit,
// 4-bit condition, op2=0b010, 22-bit word-granular displacement.
// V9's BPcc adds branch-prediction hints this JIT has no use for, so
// the simpler, still-valid Bicc form is used throughout.
func bicc(cond uint32, annul bool, disp22 int32) uint32 {
	a := uint32(0)
	if annul {
		a = 1
	}
	return a<<29 | (cond&0xF)<<25 | 0x2<<22 | (uint32(disp22) & 0x3FFFFF)
}

func call(disp30 int32) uint32 { return 1<<30 | (uint32(disp30) & 0x3FFFFFFF) }

// trapAlways encodes Ticc with the "always trap" condition (0b1000)
// and an immediate trap vector, the SPARC analogue of INT3/BKPT.
func trapAlways(vector uint32) uint32 {
	return 2<<30 | 0x8<<25 | 0x3A<<19 | 1<<13 | (vector & 0x7F)
}

// --- 64-bit immediate materialization -----------------------------------

// movImm64 emits the standard V9 "setx" six-instruction sequence,
// which can represent any 64-bit value, so PatchConst's offset
// arithmetic is unconditional. scratch must differ from dst.
func movImm64(e *enc, dst, scratch reg, v uint64) {
	hh22 := uint32(v>>42) & 0x3FFFFF
	hm10 := uint32(v>>32) & 0x3FF
	lm22 := uint32(v>>10) & 0x3FFFFF
	lo10 := uint32(v) & 0x3FF
	e.word(sethi(scratch, hh22))
	e.word(orImm(scratch, scratch, int32(hm10)))
	e.word(sllxImm(scratch, scratch, 32))
	e.word(sethi(dst, lm22))
	e.word(orImm(dst, dst, int32(lo10)))
	e.word(orReg(dst, dst, scratch))
}

// movImmCompact picks the shortest form: a plain OR-with-%g0 for
// 13-bit immediates, a SETHI+OR pair for values fitting 32 bits, the
// full 64-bit sequence otherwise.
func movImmCompact(e *enc, dst, scratch reg, v uint64) {
	if int64(v) >= -4096 && int64(v) <= 4095 {
		e.word(movImmSmall(dst, int32(v)))
		return
	}
	if v>>32 == 0 {
		e.word(sethi(dst, uint32(v>>10)&0x3FFFFF))
		if v&0x3FF != 0 {
			e.word(orImm(dst, dst, int32(v&0x3FF)))
		}
		return
	}
	movImm64(e, dst, scratch, v)
}

// --- operand resolution --------------------------------------------------

func operandPhys(o ir.Operand) (reg, error) {
	if !o.IsReg() {
		return 0, fmt.Errorf("lirjit: expected a register operand")
	}
	p, ok := physOf(o.Reg)
	if !ok {
		return 0, fmt.Errorf("lirjit: register %s is not mapped on sparc", o.Reg)
	}
	return p, nil
}

func (b *SPARCBackend) movInto(e *enc, dst reg, src ir.Operand) error {
	switch src.Kind {
	case ir.KindReg:
		p, ok := physOf(src.Reg)
		if !ok {
			return fmt.Errorf("lirjit: unmapped register %s", src.Reg)
		}
		if p != dst {
			e.word(mov(dst, p))
		}
	case ir.KindImm:
		movImmCompact(e, dst, immScratch, uint64(src.Imm))
	case ir.KindMem:
		base, ok := physOf(src.Mem.Base)
		if !ok {
			return fmt.Errorf("lirjit: bad base register in memory operand")
		}
		if src.Mem.Disp < -4096 || src.Mem.Disp > 4095 {
			return fmt.Errorf("lirjit: displacement %d out of ldx range", src.Mem.Disp)
		}
		e.word(ldx(dst, base, int32(src.Mem.Disp)))
	default:
		return fmt.Errorf("lirjit: unsupported source operand kind")
	}
	return nil
}

func (b *SPARCBackend) materialize(e *enc, o ir.Operand, scratch reg) (reg, error) {
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

func (b *SPARCBackend) storeFrom(e *enc, dstMem ir.Mem, src reg) error {
	base, ok := physOf(dstMem.Base)
	if !ok {
		return fmt.Errorf("lirjit: bad base register in memory operand")
	}
	if dstMem.Disp < -4096 || dstMem.Disp > 4095 {
		return fmt.Errorf("lirjit: displacement %d out of stx range", dstMem.Disp)
	}
	e.word(stx(src, base, int32(dstMem.Disp)))
	return nil
}
