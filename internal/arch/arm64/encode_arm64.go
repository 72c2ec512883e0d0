package arm64

import (
	"encoding/binary"
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// enc accumulates 32-bit instruction words (little-endian, per AArch64's
// fixed encoding) before they are appended to the fragmented buffer as
// one contiguous span.
type enc struct {
	b []byte
}

func (e *enc) word(w uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], w)
	e.b = append(e.b, tmp[:]...)
}

func (e *enc) len() int { return len(e.b) }

// --- data processing -------------------------------------------------

// addSubImm encodes ADD/SUB (immediate), 64-bit, unshifted 12-bit imm.
func addSubImm(sub bool, setFlags bool, dst, src xreg, imm uint32) uint32 {
	op := uint32(0x91000000)
	if sub {
		op = 0xD1000000
	}
	if setFlags {
		op |= 1 << 29
	}
	return op | (imm&0xFFF)<<10 | uint32(src&31)<<5 | uint32(dst&31)
}

// addSubReg encodes ADD/SUB (shifted register), 64-bit, shift amount 0.
func addSubReg(sub bool, setFlags bool, dst, src1, src2 xreg) uint32 {
	op := uint32(0x8B000000)
	if sub {
		op = 0xCB000000
	}
	if setFlags {
		op |= 1 << 29
	}
	return op | uint32(src2&31)<<16 | uint32(src1&31)<<5 | uint32(dst&31)
}

func logicalReg(opc uint32, dst, src1, src2 xreg) uint32 {
	return opc | uint32(src2&31)<<16 | uint32(src1&31)<<5 | uint32(dst&31)
}

const (
	opAND = 0x8A000000
	opORR = 0xAA000000
	opEOR = 0xCA000000
)

func mulReg(dst, src1, src2 xreg) uint32 {
	// MADD dst, src1, src2, XZR
	return 0x9B000000 | uint32(src2&31)<<16 | uint32(xzrOrSP&31)<<10 | uint32(src1&31)<<5 | uint32(dst&31)
}

func divReg(signed bool, dst, src1, src2 xreg) uint32 {
	op := uint32(0x9AC00800) // UDIV
	if signed {
		op = 0x9AC00C00 // SDIV
	}
	return op | uint32(src2&31)<<16 | uint32(src1&31)<<5 | uint32(dst&31)
}

func shiftReg(kind int, dst, src1, src2 xreg) uint32 {
	// 0=LSL 1=LSR 2=ASR variable-shift register forms.
	op := uint32(0x9AC02000)
	switch kind {
	case 1:
		op = 0x9AC02400
	case 2:
		op = 0x9AC02800
	}
	return op | uint32(src2&31)<<16 | uint32(src1&31)<<5 | uint32(dst&31)
}

func movRegReg(e *enc, dst, src xreg) {
	if dst == src {
		return
	}
	// MOV (alias for ORR dst, XZR, src)
	e.word(logicalReg(opORR, dst, xzrOrSP, src))
}

// movz/movk materialize an arbitrary 64-bit immediate in up to four
// 16-bit chunks.
func movz(dst xreg, imm16 uint16, shift uint32) uint32 {
	return 0xD2800000 | (shift/16)<<21 | uint32(imm16)<<5 | uint32(dst&31)
}

func movk(dst xreg, imm16 uint16, shift uint32) uint32 {
	return 0xF2800000 | (shift/16)<<21 | uint32(imm16)<<5 | uint32(dst&31)
}

// movImm64 always emits the full four-instruction movz+movk*3 form so
// PatchConst's offset arithmetic is unconditional, exactly like the
// amd64 backend's fixed movabs choice for Const.
func movImm64(e *enc, dst xreg, v uint64) {
	e.word(movz(dst, uint16(v), 0))
	e.word(movk(dst, uint16(v>>16), 16))
	e.word(movk(dst, uint16(v>>32), 32))
	e.word(movk(dst, uint16(v>>48), 48))
}

// movImmCompact emits the shortest movz/movk sequence for v, for
// operand lowering where the value need not sit at a fixed offset.
func movImmCompact(e *enc, dst xreg, v uint64) {
	chunks := [4]uint16{uint16(v), uint16(v >> 16), uint16(v >> 32), uint16(v >> 48)}
	first := true
	for i, c := range chunks {
		if c == 0 && !(first && i == 3) {
			continue
		}
		if first {
			e.word(movz(dst, c, uint32(i*16)))
			first = false
		} else {
			e.word(movk(dst, c, uint32(i*16)))
		}
	}
	if first {
		e.word(movz(dst, 0, 0))
	}
}

// --- load/store --------------------------------------------------------

// ldrImm/strImm encode the unsigned-offset 64-bit LDR/STR forms; disp
// must be a multiple of 8 within [0, 32760].
func ldrStrImm(isLoad bool, dst, base xreg, disp int64) (uint32, error) {
	if disp < 0 || disp%8 != 0 || disp > 32760 {
		return 0, fmt.Errorf("lirjit: displacement %d out of LDR/STR range", disp)
	}
	op := uint32(0xF9000000) // STR
	if isLoad {
		op = 0xF9400000 // LDR
	}
	return op | uint32(disp/8)<<10 | uint32(base&31)<<5 | uint32(dst&31), nil
}

// stpPre/ldpPost encode STP/LDP with pre/post-indexed 64-bit addressing
// for the prologue/epilogue register-pair push/pop idiom.
func stpPre(r1, r2, base xreg, disp int64) uint32 {
	imm7 := uint32(disp/8) & 0x7F
	return 0xA9800000 | imm7<<15 | uint32(r2&31)<<10 | uint32(base&31)<<5 | uint32(r1&31)
}

func ldpPost(r1, r2, base xreg, disp int64) uint32 {
	imm7 := uint32(disp/8) & 0x7F
	return 0xA8C00000 | imm7<<15 | uint32(r2&31)<<10 | uint32(base&31)<<5 | uint32(r1&31)
}

// --- operand resolution --------------------------------------------------

func operandPhys(o ir.Operand) (xreg, error) {
	if !o.IsReg() {
		return 0, fmt.Errorf("lirjit: expected a register operand")
	}
	p, ok := physOf(o.Reg)
	if !ok {
		return 0, fmt.Errorf("lirjit: register %s is not mapped on arm64", o.Reg)
	}
	return p, nil
}

// movInto loads any operand into the physical register dst.
func (b *ARM64Backend) movInto(e *enc, dst xreg, src ir.Operand) error {
	switch src.Kind {
	case ir.KindReg:
		p, ok := physOf(src.Reg)
		if !ok {
			return fmt.Errorf("lirjit: unmapped register %s", src.Reg)
		}
		movRegReg(e, dst, p)
	case ir.KindImm:
		movImmCompact(e, dst, uint64(src.Imm))
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

func (b *ARM64Backend) materialize(e *enc, o ir.Operand, scratch xreg) (xreg, error) {
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

func (b *ARM64Backend) storeFrom(e *enc, dstMem ir.Mem, src xreg) error {
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
