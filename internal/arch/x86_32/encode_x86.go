package x86_32

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

func (e *enc) byte(v byte)     { e.b = append(e.b, v) }
func (e *enc) bytes(v ...byte) { e.b = append(e.b, v...) }
func (e *enc) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

// modrmReg encodes a register-direct ModRM byte.
func modrmReg(regField, rm physReg) byte {
	return 0xC0 | (byte(regField&7) << 3) | byte(rm&7)
}

// writeMem encodes the ModRM/SIB/disp bytes addressing m, same shape as
// the amd64 backend's writeMem but without any REX extension bits
// (every physReg here is already < 8).
func (e *enc) writeMem(regField physReg, base physReg, hasIndex bool, index physReg, shift uint8, disp int64, absolute bool) {
	if absolute {
		e.byte(byte(regField&7)<<3 | 0x04)
		e.byte(0x25)
		e.u32(uint32(int32(disp)))
		return
	}
	useSIB := hasIndex || base&7 == 4
	var mod byte
	switch {
	case disp == 0 && base&7 != 5:
		mod = 0x00
	case disp >= -128 && disp <= 127:
		mod = 0x40
	default:
		mod = 0x80
	}
	if useSIB {
		e.byte(mod | byte(regField&7)<<3 | 0x04)
		idx := byte(0x20)
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
}

func operandPhys(o ir.Operand) (physReg, error) {
	if !o.IsReg() {
		return 0, fmt.Errorf("lirjit: expected a register operand")
	}
	p, ok := physOf(o.Reg)
	if !ok {
		return 0, fmt.Errorf("lirjit: register %s is not mapped on x86-32", o.Reg)
	}
	return p, nil
}

type lowMem struct {
	base     physReg
	hasIndex bool
	index    physReg
	shift    uint8
	disp     int64
	absolute bool
}

func (b *X86Backend) lowerMem(m ir.Mem) (lowMem, error) {
	if m.Absolute {
		return lowMem{absolute: true, disp: m.Disp}, nil
	}
	base, ok := physOf(m.Base)
	if !ok {
		return lowMem{}, fmt.Errorf("lirjit: bad base register in memory operand")
	}
	lm := lowMem{base: base, disp: m.Disp}
	if m.Index != ir.RegInvalid {
		idx, ok := physOf(m.Index)
		if !ok {
			return lowMem{}, fmt.Errorf("lirjit: bad index register in memory operand")
		}
		lm.hasIndex = true
		lm.index = idx
		lm.shift = m.Shift
	}
	return lm, nil
}

// movInto loads any operand into the physical register dst.
func (b *X86Backend) movInto(e *enc, dst physReg, src ir.Operand) error {
	switch src.Kind {
	case ir.KindReg:
		p, err := operandPhys(src)
		if err != nil {
			return err
		}
		if p != dst {
			e.bytes(0x89, modrmReg(p, dst))
		}
	case ir.KindImm:
		e.byte(0xB8 + byte(dst&7))
		e.u32(uint32(src.Imm))
	case ir.KindMem:
		lm, err := b.lowerMem(src.Mem)
		if err != nil {
			return err
		}
		e.byte(0x8B)
		e.writeMem(dst, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute)
	default:
		return fmt.Errorf("lirjit: unsupported source operand kind")
	}
	return nil
}

func (b *X86Backend) storeFrom(e *enc, dstMem ir.Mem, src physReg) error {
	lm, err := b.lowerMem(dstMem)
	if err != nil {
		return err
	}
	e.byte(0x89)
	e.writeMem(src, lm.base, lm.hasIndex, lm.index, lm.shift, lm.disp, lm.absolute)
	return nil
}

func (b *X86Backend) materialize(e *enc, o ir.Operand, scratch physReg) (physReg, error) {
	if o.Kind == ir.KindReg {
		return operandPhys(o)
	}
	if err := b.movInto(e, scratch, o); err != nil {
		return 0, err
	}
	return scratch, nil
}
