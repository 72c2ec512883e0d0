package x86

import (
	"encoding/binary"
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// enc accumulates the bytes of one instruction before it is appended to
// the fragmented buffer as a single contiguous span.
type enc struct {
	b []byte
}

func (e *enc) byte(v byte)      { e.b = append(e.b, v) }
func (e *enc) bytes(v ...byte)  { e.b = append(e.b, v...) }
func (e *enc) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}
func (e *enc) u64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

// rexByte builds a REX prefix. w selects 64-bit operand size; r/x/b are
// the extension bits for the ModRM.reg, SIB.index, and ModRM.rm/SIB.base
// fields respectively.
func rexByte(w bool, r, x, b physReg) byte {
	rex := byte(0x40)
	if w {
		rex |= 0x08
	}
	if r >= 8 {
		rex |= 0x04
	}
	if x >= 8 {
		rex |= 0x02
	}
	if b >= 8 {
		rex |= 0x01
	}
	return rex
}

func needsRex(w bool, r, x, b physReg) bool {
	return w || r >= 8 || x >= 8 || b >= 8
}

// modrmReg encodes a register-direct ModRM byte: reg field = regField
// (either a real register or an opcode-extension digit), rm = rm.
func modrmReg(regField, rm physReg) byte {
	return 0xC0 | (byte(regField&7) << 3) | byte(rm&7)
}

// writeMem encodes the ModRM/SIB/disp bytes addressing m, with regField
// placed in the ModRM.reg position (destination register or opcode
// extension digit). Returns the bytes and whether index/base need the
// REX.X/B bits (already folded into rexByte's physReg check, since
// physReg>=8 is visible to the caller directly).
func (e *enc) writeMem(regField physReg, base physReg, hasIndex bool, index physReg, shift uint8, disp int64, absolute bool) error {
	if absolute {
		// No base register: materialize via a disp32-from-zero SIB
		// form (mod=00, rm=100, SIB base=101 "disp32 only").
		e.byte(byte(regField&7)<<3 | 0x04)
		e.byte(0x25) // SIB: scale=00 index=100(none) base=101(disp32)
		e.u32(uint32(int32(disp)))
		return nil
	}
	useSIB := hasIndex || base&7 == 4 // RSP/R12 always need a SIB byte
	var mod byte
	switch {
	case disp == 0 && base&7 != 5: // RBP/R13 cannot use mod=00 (means RIP-rel/disp32-only)
		mod = 0x00
	case disp >= -128 && disp <= 127:
		mod = 0x40
	default:
		mod = 0x80
	}
	if useSIB {
		e.byte(mod | byte(regField&7)<<3 | 0x04)
		idx := byte(0x20) // index=100 means "none"
		if hasIndex {
			idx = byte(index&7) << 3
		}
		e.byte(byte(shift&3)<<6 | idx | byte(base&7))
	} else {
		e.byte(mod | byte(regField&7)<<3 | byte(base&7))
	}
	switch mod {
	case 0x00:
		if base&7 == 5 {
			e.u32(uint32(int32(disp)))
		}
	case 0x40:
		e.byte(byte(int8(disp)))
	case 0x80:
		e.u32(uint32(int32(disp)))
	}
	return nil
}

// operandPhys resolves a register-kind ir.Operand to a physReg, failing
// for anything else; used where the spec requires a bare register
// (e.g. shift count, the 'reg' argument of emit_op_flags).
func operandPhys(o ir.Operand) (physReg, error) {
	if !o.IsReg() {
		return 0, fmt.Errorf("lirjit: expected a register operand")
	}
	p, ok := physOf(o.Reg)
	if !ok {
		return 0, fmt.Errorf("lirjit: register %s is not mapped on amd64", o.Reg)
	}
	return p, nil
}
