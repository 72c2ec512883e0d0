package s390x

import (
	"fmt"

	"github.com/lirjit/lirjit/internal/ir"
)

// freg is an s390x floating-point register number. Long BFP doesn't
// impose SPARC's even/odd pairing, but fregMap still sticks to a
// six-register window (f0-f5) purely for consistency with every other
// backend's float register file in this tree.
type freg uint8

var fregMap = map[ir.FReg]freg{
	ir.F0: 0, ir.F1: 1, ir.F2: 2, ir.F3: 3, ir.F4: 4, ir.F5: 5,
}

const scratchF = freg(6)

func fregPhys(o ir.Operand) (freg, error) {
	if o.Kind != ir.KindFReg {
		return 0, fmt.Errorf("lirjit: expected a float register operand")
	}
	p, ok := fregMap[o.FReg]
	if !ok {
		return 0, fmt.Errorf("lirjit: float register %s is not mapped on s390x", o.FReg)
	}
	return p, nil
}

const (
	opADBR  = 0xB31A
	opSDBR  = 0xB31B
	opMDBR  = 0xB31C
	opDDBR  = 0xB31D
	opCDBR  = 0xB319
	opLCDBR = 0xB313
	opLPDBR = 0xB310
)

func frre(opcode uint16, r1, r2 freg) uint32 {
	return uint32(opcode)<<16 | uint32(r1&0xF)<<4 | uint32(r2&0xF)
}

func adbr(r1, r2 freg) uint32  { return frre(opADBR, r1, r2) }
func sdbr(r1, r2 freg) uint32  { return frre(opSDBR, r1, r2) }
func mdbr(r1, r2 freg) uint32  { return frre(opMDBR, r1, r2) }
func ddbr(r1, r2 freg) uint32  { return frre(opDDBR, r1, r2) }
func cdbr(r1, r2 freg) uint32  { return frre(opCDBR, r1, r2) }
func lcdbr(r1, r2 freg) uint32 { return frre(opLCDBR, r1, r2) }
func lpdbr(r1, r2 freg) uint32 { return frre(opLPDBR, r1, r2) }

// ldr is LDR, the RR-format (2-byte) floating-point register move.
func ldr(r1, r2 freg) uint16 { return uint16(0x28)<<8 | uint16(r1&0xF)<<4 | uint16(r2&0xF) }

// rx encodes the older RX format LD/STD use: a 12-bit unsigned
// displacement, no RXY-style 20-bit extension.
func rx(opcode byte, r1, x2, b2 reg, disp12 uint32) uint32 {
	return uint32(opcode)<<24 | uint32(r1&0xF)<<20 | uint32(x2&0xF)<<16 | uint32(b2&0xF)<<12 | (disp12 & 0xFFF)
}

func ld(r1 freg, b2 reg, disp12 uint32) uint32  { return rx(0x68, reg(r1), 0, b2, disp12) }
func std(r1 freg, b2 reg, disp12 uint32) uint32 { return rx(0x60, reg(r1), 0, b2, disp12) }

func (b *S390XBackend) fmovInto(e *enc, dst freg, src ir.Operand) error {
	if src.IsMem() {
		base, ok := physOf(src.Mem.Base)
		if !ok {
			return fmt.Errorf("lirjit: bad base register in memory operand")
		}
		if src.Mem.Disp < 0 || src.Mem.Disp > 0xFFF {
			return fmt.Errorf("lirjit: displacement %d out of ld range", src.Mem.Disp)
		}
		e.put32(ld(dst, base, uint32(src.Mem.Disp)))
		return nil
	}
	srcF, err := fregPhys(src)
	if err != nil {
		return err
	}
	if srcF == dst {
		return nil
	}
	e.put16(ldr(dst, srcF))
	return nil
}

func (b *S390XBackend) fstoreFrom(e *enc, dstMem ir.Mem, src freg) error {
	base, ok := physOf(dstMem.Base)
	if !ok {
		return fmt.Errorf("lirjit: bad base register in memory operand")
	}
	if dstMem.Disp < 0 || dstMem.Disp > 0xFFF {
		return fmt.Errorf("lirjit: displacement %d out of std range", dstMem.Disp)
	}
	e.put32(std(src, base, uint32(dstMem.Disp)))
	return nil
}

func (b *S390XBackend) FOp1(op ir.FOp1, dst, src ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	switch op {
	case ir.OpFMov:
		if dst.IsMem() {
			srcF, err := fregPhys(src)
			if err != nil {
				return b.ctx.Fail(err)
			}
			if err := b.fstoreFrom(&e, dst.Mem, srcF); err != nil {
				return b.ctx.Fail(err)
			}
		} else {
			dstF, err := fregPhys(dst)
			if err != nil {
				return b.ctx.Fail(err)
			}
			if err := b.fmovInto(&e, dstF, src); err != nil {
				return b.ctx.Fail(err)
			}
		}
	case ir.OpFAbs:
		dstF, err := fregPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcF, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.put32(lpdbr(dstF, srcF))
	case ir.OpFNeg:
		dstF, err := fregPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcF, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.put32(lcdbr(dstF, srcF))
	case ir.OpFCmp:
		srcF1, err := fregPhys(dst)
		if err != nil {
			return b.ctx.Fail(err)
		}
		srcF2, err := fregPhys(src)
		if err != nil {
			return b.ctx.Fail(err)
		}
		e.put32(cdbr(srcF1, srcF2))
		b.pendingFP = true
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop1 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}

func (b *S390XBackend) FOp2(op ir.FOp2, dst, src1, src2 ir.Operand) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	dstF, err := fregPhys(dst)
	if err != nil {
		return b.ctx.Fail(err)
	}
	n, err := fregPhys(src1)
	if err != nil {
		return b.ctx.Fail(err)
	}
	if dstF != n {
		e.put16(ldr(dstF, n))
	}
	m := scratchF
	if src2.IsMem() {
		if err := b.fmovInto(&e, scratchF, src2); err != nil {
			return b.ctx.Fail(err)
		}
	} else {
		m, err = fregPhys(src2)
		if err != nil {
			return b.ctx.Fail(err)
		}
	}
	switch op {
	case ir.OpFAdd:
		e.put32(adbr(dstF, m))
	case ir.OpFSub:
		e.put32(sdbr(dstF, m))
	case ir.OpFMul:
		e.put32(mdbr(dstF, m))
	case ir.OpFDiv:
		e.put32(ddbr(dstF, m))
	default:
		return b.ctx.Fail(fmt.Errorf("lirjit: unsupported fop2 %d", op))
	}
	b.ctx.Buf.Append(e.b)
	return nil
}
