// Package x86 implements the x86-32 and x86-64 backends (spec.md §1,
// §4.2). Instruction selection and byte encoding (REX/ModRM/SIB,
// opcode choice, short-vs-long jump distance arithmetic) are
// hand-written here rather than delegated to an assembler package: per
// spec.md §1 this is deliberately the hard, load-bearing part of the
// system. The Prog/Builder-style separation between "describe the
// instruction" and "lower operands" is grounded in the teacher's own
// amd64 JIT backend (exec/internal/compile/backend_amd64.go), which
// used twitchyliquid64/golang-asm's obj.Prog for the same role; see
// DESIGN.md for why that dependency itself was not kept.
package x86

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/buffer"
	"github.com/lirjit/lirjit/internal/flags"
	"github.com/lirjit/lirjit/internal/ir"
)

// AMD64Backend implements arch.Backend for x86-64, System V ABI.
type AMD64Backend struct {
	ctx *arch.Context

	// amd64 keeps no flags.Slot: native rflags covers zero/carry/
	// overflow directly.
	pendingFP bool // set by fop1(fcmp); no jump path reads it, as jccTable already holds the float predicates

	jumpSites map[int]jumpSite
}

// New returns a fresh AMD64Backend over a new emission context.
func New(log *logrus.Entry) *AMD64Backend {
	return &AMD64Backend{ctx: arch.NewContext(buffer.New(), log)}
}

func (b *AMD64Backend) Name() string       { return "x86-64" }
func (b *AMD64Backend) Context() *arch.Context { return b.ctx }

// --- condition code table -------------------------------------------

// jccTable maps an ir.Predicate to the low nibble of a Jcc/SETcc
// opcode (0x0F 0x80+cc / 0x0F 0x90+cc), per Intel's condition encoding.
var jccTable = flags.Table{
	ir.CondEqual:              {Mask: 0x4},
	ir.CondNotEqual:            {Mask: 0x5},
	ir.CondLess:                {Mask: 0x2}, // unsigned below
	ir.CondLessEqual:           {Mask: 0x6}, // unsigned below-or-equal
	ir.CondGreater:             {Mask: 0x7}, // unsigned above
	ir.CondGreaterEqual:        {Mask: 0x3}, // unsigned above-or-equal
	ir.CondSigLess:             {Mask: 0xC},
	ir.CondSigLessEqual:        {Mask: 0xE},
	ir.CondSigGreater:          {Mask: 0xF},
	ir.CondSigGreaterEqual:     {Mask: 0xD},
	ir.CondCarry:               {Mask: 0x2},
	ir.CondNotCarry:            {Mask: 0x3},
	ir.CondOverflow:            {Mask: 0x0},
	ir.CondNotOverflow:         {Mask: 0x1},
	ir.CondFEqual:              {Mask: 0x4},
	ir.CondFNotEqual:           {Mask: 0x5},
	ir.CondFLess:               {Mask: 0x2},
	ir.CondFLessEqual:          {Mask: 0x6},
	ir.CondFGreater:            {Mask: 0x7},
	ir.CondFGreaterEqual:       {Mask: 0x3},
	ir.CondFUnordered:          {Mask: 0xA},
	ir.CondFOrdered:            {Mask: 0xB},
}

func ccOf(p ir.Predicate) (byte, error) {
	e, ok := jccTable.Lookup(p)
	if !ok {
		return 0, fmt.Errorf("lirjit: predicate %d has no amd64 condition code", p)
	}
	return byte(e.Mask), nil
}

// --- enter / return ----------------------------------------------------

func (b *AMD64Backend) Enter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	if abi.Saveds > ir.NumSaved || abi.Scratches > ir.NumScratch {
		return b.ctx.Fail(fmt.Errorf("lirjit: ABI requests more registers than amd64 exposes: %w", arch.ErrBadArgument))
	}
	var e enc
	// push callee-saved registers this program actually exposed, in
	// ascending symbolic order.
	for i := 0; i < abi.Saveds; i++ {
		p := amd64RegMap[calleeSavedOrder[i]]
		pushReg(&e, p)
	}
	// mov rbp, rsp is not used: rbp is the locals-base register, kept
	// distinct from the native frame pointer so the client's local
	// frame is addressable at a fixed rbp+0 regardless of how many
	// saved registers were pushed.
	localSize := alignUp(int(abi.LocalSize), 16)
	if localSize > 0 {
		// sub rsp, localSize  (lea not needed; amd64 stack grows down)
		e.bytes(rexByte(true, 0, 0, rsp))
		if localSize <= 127 {
			e.bytes(0x83, modrmReg(5, rsp), byte(localSize))
		} else {
			e.bytes(0x81, modrmReg(5, rsp))
			e.u32(uint32(localSize))
		}
	}
	// materialize the locals-base register to point at the freshly
	// allocated frame.
	if localSize > 0 {
		// mov rbp, rsp
		movRegReg(&e, amd64RegMap[ir.LocalsBase], rsp)
	}
	// copy incoming argument registers into the requested saved slots,
	// per spec.md §4.2 "copy the caller's argument registers into the
	// symbolic saved-register slots".
	n := abi.Args.NumArgs()
	for i := 0; i < n && i < len(sysVArgRegs); i++ {
		dst := amd64RegMap[calleeSavedOrder[i]]
		movRegReg(&e, dst, sysVArgRegs[i])
	}
	b.ctx.Buf.Append(e.b)
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	b.ctx.Trace("enter: saveds=%d scratches=%d local=%d", abi.Saveds, abi.Scratches, localSize)
	return nil
}

func (b *AMD64Backend) FakeEnter(abi ir.ABIProfile) error {
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	abi.Fake = true
	b.ctx.ABI = abi
	b.ctx.ABISet = true
	return nil
}

func (b *AMD64Backend) Return(src ir.Operand, hasSrc bool) error {
	if err := b.ctx.RequireABI(); err != nil {
		return b.ctx.Fail(err)
	}
	if b.ctx.Failed() {
		return b.ctx.Err
	}
	var e enc
	if hasSrc {
		if err := b.movInto(&e, amd64RegMap[ir.R0], src); err != nil {
			return b.ctx.Fail(err)
		}
	}
	if !b.ctx.ABI.Fake {
		localSize := alignUp(int(b.ctx.ABI.LocalSize), 16)
		if localSize > 0 {
			// add rsp, localSize
			e.bytes(rexByte(true, 0, 0, rsp))
			if localSize <= 127 {
				e.bytes(0x83, modrmReg(0, rsp), byte(localSize))
			} else {
				e.bytes(0x81, modrmReg(0, rsp))
				e.u32(uint32(localSize))
			}
		}
		for i := b.ctx.ABI.Saveds - 1; i >= 0; i-- {
			popReg(&e, amd64RegMap[calleeSavedOrder[i]])
		}
	}
	e.byte(0xC3) // ret
	b.ctx.Buf.Append(e.b)
	return nil
}

func pushReg(e *enc, r physReg) {
	if r >= 8 {
		e.byte(0x41)
	}
	e.byte(0x50 + byte(r&7))
}

func popReg(e *enc, r physReg) {
	if r >= 8 {
		e.byte(0x41)
	}
	e.byte(0x58 + byte(r&7))
}

func movRegReg(e *enc, dst, src physReg) {
	if dst == src {
		return
	}
	e.byte(rexByte(true, src, 0, dst))
	e.bytes(0x89, modrmReg(src, dst))
}

func alignUp(n, to int) int { return (n + to - 1) / to * to }
