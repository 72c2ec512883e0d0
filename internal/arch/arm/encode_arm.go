package arm

import (
	"encoding/binary"
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// enc accumulates 32-bit instruction words (little-endian) before they
// are appended to the fragmented buffer as one contiguous span.
type enc struct {
	b []byte
}

func (e *enc) word(w uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], w)
	e.b = append(e.b, tmp[:]...)
}

func (e *enc) len() int { return len(e.b) }

const condAL = 0xE

// --- data processing -------------------------------------------------

// dpImm encodes a data-processing instruction with an 8-bit rotate-0
// immediate operand2. Callers needing a wider immediate must
// materialize it into a register first and use dpReg instead.
func dpImm(cond, opcode uint32, setFlags bool, rd, rn reg, imm8 uint32) uint32 {
	w := cond<<28 | 1<<25 | opcode<<21 | uint32(rn&0xF)<<16 | uint32(rd&0xF)<<12 | (imm8 & 0xFF)
	if setFlags {
		w |= 1 << 20
	}
	return w
}

// dpReg encodes a data-processing instruction with an unshifted
// register operand2.
func dpReg(cond, opcode uint32, setFlags bool, rd, rn, rm reg) uint32 {
	w := cond<<28 | opcode<<21 | uint32(rn&0xF)<<16 | uint32(rd&0xF)<<12 | uint32(rm&0xF)
	if setFlags {
		w |= 1 << 20
	}
	return w
}

const (
	opAND = 0x0
	opEOR = 0x1
	opSUB = 0x2
	opRSB = 0x3
	opADD = 0x4
	opADC = 0x5
	opSBC = 0x6
	opCMP = 0xA
	opORR = 0xC
	opMOV = 0xD
	opBIC = 0xE
	opMVN = 0xF
)

func movRegReg(e *enc, dst, src reg) {
	if dst == src {
		return
	}
	e.word(dpReg(condAL, opMOV, false, dst, 0, src))
}

// --- immediate materialization ----------------------------------------

// movImmV7 emits the fixed MOVW+MOVT pair for a full 32-bit value.
func movImmV7(e *enc, dst reg, v uint32) {
	lo, hi := uint16(v), uint16(v>>16)
	e.word(condAL<<28 | 0x30<<20 | uint32(lo>>12)<<16 | uint32(dst&0xF)<<12 | uint32(lo&0xFFF))
	e.word(condAL<<28 | 0x34<<20 | uint32(hi>>12)<<16 | uint32(dst&0xF)<<12 | uint32(hi&0xFFF))
}

// movImmLiteral emits the ARMv5/v6 "ldr rd,[pc,#0] / b over / .word v"
// inline-literal sequence: no dedicated literal pool is maintained, so
// every materialization carries its own 12-byte constant inline
// (spec.md's architecture table calls this out by name: "ARM v5
// constant pool insertion").
func movImmLiteral(e *enc, dst reg, v uint32) {
	e.word(condAL<<28 | 0x059F<<16 | uint32(dst&0xF)<<12) // ldr dst,[pc,#0]
	e.word(condAL<<28 | 0xA<<24)                           // b #0 (skip the literal word)
	e.word(v)
}

// movImm materializes a full 32-bit immediate using whichever strategy
// this build's capability flag selects.
func movImm(e *enc, dst reg, v uint32) {
	if hasMovWT {
		movImmV7(e, dst, v)
	} else {
		movImmLiteral(e, dst, v)
	}
}

// movImmCompact picks the 8-bit-rotate-0 immediate MOV form when v
// fits, falling back to the full materialization sequence otherwise.
func movImmCompact(e *enc, dst reg, v uint32) {
	if v <= 0xFF {
		e.word(dpImm(condAL, opMOV, false, dst, 0, v))
		return
	}
	movImm(e, dst, v)
}

// --- multiply/divide ---------------------------------------------------

func mulReg(dst, rm, rs reg) uint32 {
	// MUL dst, rm, rs
	return condAL<<28 | uint32(dst&0xF)<<16 | uint32(rs&0xF)<<8 | 0x9<<4 | uint32(rm&0xF)
}

func longMulReg(signed bool, dstLo, dstHi, rm, rs reg) uint32 {
	op := uint32(0x08) // UMULL
	if signed {
		op = 0x0C // SMULL
	}
	return condAL<<28 | op<<20 | uint32(dstHi&0xF)<<16 | uint32(dstLo&0xF)<<12 | uint32(rs&0xF)<<8 | 0x9<<4 | uint32(rm&0xF)
}

func divReg(signed bool, dst, rn, rm reg) (uint32, error) {
	if !hasIntDivide {
		return 0, fmt.Errorf("lirjit: integer division needs ARMv7-A SDIV/UDIV, unavailable on this GOARM baseline")
	}
	op := uint32(0x73) // UDIV
	if signed {
		op = 0x71 // SDIV
	}
	return condAL<<28 | op<<20 | uint32(dst&0xF)<<16 | 0xF<<12 | uint32(rm&0xF)<<8 | 0x1<<4 | uint32(rn&0xF), nil
}

// --- shifts --------------------------------------------------------------

func shiftImm(kind uint32, dst, src reg, amount uint32) uint32 {
	// MOV dst, src, <kind> #amount
	return condAL<<28 | opMOV<<21 | uint32(dst&0xF)<<12 | (amount&0x1F)<<7 | kind<<5 | uint32(src&0xF)
}

func shiftReg(kind uint32, dst, src, count reg) uint32 {
	// MOV dst, src, <kind> count
	return condAL<<28 | opMOV<<21 | uint32(dst&0xF)<<12 | uint32(count&0xF)<<8 | kind<<5 | 1<<4 | uint32(src&0xF)
}

const (
	shiftLSL = 0
	shiftLSR = 1
	shiftASR = 2
)

// --- load/store ----------------------------------------------------------

func ldrStrImm(isLoad bool, rd, base reg, disp int64) (uint32, error) {
	if disp < -4095 || disp > 4095 {
		return 0, fmt.Errorf("lirjit: displacement %d out of LDR/STR imm12 range", disp)
	}
	u := uint32(1)
	d := disp
	if disp < 0 {
		u = 0
		d = -disp
	}
	op := uint32(0x05000000) | u<<23
	if isLoad {
		op |= 1 << 20
	}
	return condAL<<28 | op | uint32(base&0xF)<<16 | uint32(rd&0xF)<<12 | uint32(d&0xFFF), nil
}

// pushRegs/popRegs encode STMDB sp!/LDMIA sp! over a register-list
// bitmask, the prologue/epilogue push/pop idiom.
func pushRegs(mask uint16) uint32 {
	return condAL<<28 | 0x92<<20 | uint32(sp&0xF)<<16 | uint32(mask)
}

func popRegs(mask uint16) uint32 {
	return condAL<<28 | 0x8B<<20 | uint32(sp&0xF)<<16 | uint32(mask)
}

func bx(rm reg) uint32  { return condAL<<28 | 0x12FFF1<<4 | uint32(rm&0xF) }
func blx(rm reg) uint32 { return condAL<<28 | 0x12FFF3<<4 | uint32(rm&0xF) }

// --- operand resolution --------------------------------------------------

func operandPhys(o ir.Operand) (reg, error) {
	if !o.IsReg() {
		return 0, fmt.Errorf("lirjit: expected a register operand")
	}
	p, ok := physOf(o.Reg)
	if !ok {
		return 0, fmt.Errorf("lirjit: register %s is not mapped on arm", o.Reg)
	}
	return p, nil
}

func (b *ARMBackend) movInto(e *enc, dst reg, src ir.Operand) error {
	switch src.Kind {
	case ir.KindReg:
		p, ok := physOf(src.Reg)
		if !ok {
			return fmt.Errorf("lirjit: unmapped register %s", src.Reg)
		}
		movRegReg(e, dst, p)
	case ir.KindImm:
		movImmCompact(e, dst, uint32(src.Imm))
	case ir.KindMem:
		base, ok := physOf(src.Mem.Base)
		if !ok {
			return fmt.Errorf("lirjit: bad base register in memory operand")
		}
		w, err := ldrStrImm(true, dst, base, src.Mem.Disp)
		if err != nil {
			return err
		}
		e.word(w)
	default:
		return fmt.Errorf("lirjit: unsupported source operand kind")
	}
	return nil
}

func (b *ARMBackend) materialize(e *enc, o ir.Operand, scratch reg) (reg, error) {
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

func (b *ARMBackend) storeFrom(e *enc, dstMem ir.Mem, src reg) error {
	base, ok := physOf(dstMem.Base)
	if !ok {
		return fmt.Errorf("lirjit: bad base register in memory operand")
	}
	w, err := ldrStrImm(false, src, base, dstMem.Disp)
	if err != nil {
		return err
	}
	e.word(w)
	return nil
}
