package lirjit

// EmitEnter emits the function prologue: pushes the callee-saved
// registers abi exposes, reserves abi.LocalSize bytes of local frame,
// and copies the incoming arguments into their requested slots
// (spec.md §6 emit_enter). Every other Emit call requires this (or
// EmitFakeEnter) to have run first.
func (c *Compiler) EmitEnter(abi ABI) error {
	if err := c.checkNotGenerated("emit_enter"); err != nil {
		return err
	}
	if err := c.backend.Enter(abi.toIR(false)); err != nil {
		return newError(classify(err), "emit_enter", err)
	}
	return nil
}

// EmitFakeEnter latches abi without emitting prologue bytes, for
// clients that hand-place a function and still want EmitReturn to know
// the frame shape (SPEC_FULL.md Supplemented features).
func (c *Compiler) EmitFakeEnter(abi ABI) error {
	if err := c.checkNotGenerated("emit_fake_enter"); err != nil {
		return err
	}
	if err := c.backend.FakeEnter(abi.toIR(true)); err != nil {
		return newError(classify(err), "emit_fake_enter", err)
	}
	return nil
}

// EmitReturn emits the function epilogue, moving src into the return
// register before restoring saved registers and returning.
func (c *Compiler) EmitReturn(src Operand) error {
	if err := c.checkNotGenerated("emit_return"); err != nil {
		return err
	}
	if err := c.checkOperand("emit_return", src); err != nil {
		return err
	}
	if err := c.backend.Return(src, true); err != nil {
		return newError(classify(err), "emit_return", err)
	}
	return nil
}

// EmitReturnVoid emits the function epilogue without writing a return
// value.
func (c *Compiler) EmitReturnVoid() error {
	if err := c.checkNotGenerated("emit_return_void"); err != nil {
		return err
	}
	if err := c.backend.Return(Operand{}, false); err != nil {
		return newError(classify(err), "emit_return_void", err)
	}
	return nil
}

// EmitOp0 emits a zero-operand op (nop, breakpoint, the wide multiply/
// divide primitives).
func (c *Compiler) EmitOp0(op Op0) error {
	if err := c.checkNotGenerated("emit_op0"); err != nil {
		return err
	}
	if err := c.backend.Op0(op); err != nil {
		return newError(classify(err), "emit_op0", err)
	}
	return nil
}

// EmitOp1 emits a unary op (move, sign/zero extend, not, neg, clz).
func (c *Compiler) EmitOp1(op Op1, size Size, setFlags bool, dst, src Operand) error {
	if err := c.checkNotGenerated("emit_op1"); err != nil {
		return err
	}
	if err := c.checkOperand("emit_op1", dst); err != nil {
		return err
	}
	if err := c.checkOperand("emit_op1", src); err != nil {
		return err
	}
	if err := c.backend.Op1(op, size, setFlags, dst, src); err != nil {
		return newError(classify(err), "emit_op1", err)
	}
	return nil
}

// EmitOp2 emits a binary arithmetic/bitwise op.
func (c *Compiler) EmitOp2(op Op2, setFlags bool, dst, src1, src2 Operand) error {
	if err := c.checkNotGenerated("emit_op2"); err != nil {
		return err
	}
	for _, v := range [...]Operand{dst, src1, src2} {
		if err := c.checkOperand("emit_op2", v); err != nil {
			return err
		}
	}
	if err := c.backend.Op2(op, setFlags, dst, src1, src2); err != nil {
		return newError(classify(err), "emit_op2", err)
	}
	return nil
}

// EmitFop1 emits a unary scalar double-precision float op.
func (c *Compiler) EmitFop1(op FOp1, dst, src Operand) error {
	if err := c.checkNotGenerated("emit_fop1"); err != nil {
		return err
	}
	for _, v := range [...]Operand{dst, src} {
		if err := c.checkOperand("emit_fop1", v); err != nil {
			return err
		}
	}
	if err := c.backend.FOp1(op, dst, src); err != nil {
		return newError(classify(err), "emit_fop1", err)
	}
	return nil
}

// EmitFop2 emits a binary scalar double-precision float op.
func (c *Compiler) EmitFop2(op FOp2, dst, src1, src2 Operand) error {
	if err := c.checkNotGenerated("emit_fop2"); err != nil {
		return err
	}
	for _, v := range [...]Operand{dst, src1, src2} {
		if err := c.checkOperand("emit_fop2", v); err != nil {
			return err
		}
	}
	if err := c.backend.FOp2(op, dst, src1, src2); err != nil {
		return newError(classify(err), "emit_fop2", err)
	}
	return nil
}

// EmitLabel marks the current position and returns its id, for later
// use with SetLabel.
func (c *Compiler) EmitLabel() (int, error) {
	if err := c.checkNotGenerated("emit_label"); err != nil {
		return 0, err
	}
	id, err := c.backend.Label()
	if err != nil {
		return 0, newError(classify(err), "emit_label", err)
	}
	return id, nil
}

// EmitAlignedLabel pads to alignment, optionally embeds roData (a
// constant pool or jump table), and marks the resulting position.
func (c *Compiler) EmitAlignedLabel(alignment int, roData []byte) (int, error) {
	if err := c.checkNotGenerated("emit_aligned_label"); err != nil {
		return 0, err
	}
	id, err := c.backend.AlignedLabel(alignment, roData)
	if err != nil {
		return 0, newError(classify(err), "emit_aligned_label", err)
	}
	return id, nil
}

// EmitJump emits a branch whose target is bound afterward with
// SetLabel or SetTarget.
func (c *Compiler) EmitJump(pred Predicate, jflags JumpFlags, call CallKind) (int, error) {
	if err := c.checkNotGenerated("emit_jump"); err != nil {
		return 0, err
	}
	id, err := c.backend.Jump(pred, jflags, call)
	if err != nil {
		return 0, newError(classify(err), "emit_jump", err)
	}
	return id, nil
}

// EmitIJump emits a branch to a runtime-computed address already held
// in a register or memory operand.
func (c *Compiler) EmitIJump(call CallKind, src Operand) (int, error) {
	if err := c.checkNotGenerated("emit_ijump"); err != nil {
		return 0, err
	}
	if err := c.checkOperand("emit_ijump", src); err != nil {
		return 0, err
	}
	id, err := c.backend.IJump(call, src)
	if err != nil {
		return 0, newError(classify(err), "emit_ijump", err)
	}
	return id, nil
}

// EmitCmp fuses a compare with a branch.
func (c *Compiler) EmitCmp(pred Predicate, jflags JumpFlags, s1, s2 Operand) (int, error) {
	if err := c.checkNotGenerated("emit_cmp"); err != nil {
		return 0, err
	}
	for _, v := range [...]Operand{s1, s2} {
		if err := c.checkOperand("emit_cmp", v); err != nil {
			return 0, err
		}
	}
	id, err := c.backend.Cmp(pred, jflags, s1, s2)
	if err != nil {
		return 0, newError(classify(err), "emit_cmp", err)
	}
	return id, nil
}

// EmitOpFlags materializes a predicate's truth value (0 or 1) into
// dst.
func (c *Compiler) EmitOpFlags(pred Predicate, dst Operand) error {
	if err := c.checkNotGenerated("emit_op_flags"); err != nil {
		return err
	}
	if err := c.checkOperand("emit_op_flags", dst); err != nil {
		return err
	}
	if err := c.backend.OpFlags(pred, dst); err != nil {
		return newError(classify(err), "emit_op_flags", err)
	}
	return nil
}

// EmitConst embeds a literal machine word, returning an id SetConst
// can later rewrite (spec.md §6 emit_const).
func (c *Compiler) EmitConst(dst Operand, init int64) (int, error) {
	if err := c.checkNotGenerated("emit_const"); err != nil {
		return 0, err
	}
	if err := c.checkOperand("emit_const", dst); err != nil {
		return 0, err
	}
	id, err := c.backend.Const(dst, init)
	if err != nil {
		return 0, newError(classify(err), "emit_const", err)
	}
	return id, nil
}

// EmitRawBytes splices raw architecture-specific bytes directly into
// the instruction stream, for ops this engine's LIR has no opcode for
// (SPEC_FULL.md Supplemented features; mirrors sljit_emit_op_custom).
func (c *Compiler) EmitRawBytes(raw []byte) error {
	if err := c.checkNotGenerated("emit_raw_bytes"); err != nil {
		return err
	}
	if err := c.backend.RawBytes(raw); err != nil {
		return newError(classify(err), "emit_raw_bytes", err)
	}
	return nil
}

// SetLabel binds a jump created by EmitJump/EmitCmp to a label created
// by EmitLabel/EmitAlignedLabel. The binding is resolved once
// GenerateCode knows the final code address.
func (c *Compiler) SetLabel(jumpID, labelID int) error {
	if err := c.checkNotGenerated("set_label"); err != nil {
		return err
	}
	if err := c.backend.SetLabel(jumpID, labelID); err != nil {
		return newError(classify(err), "set_label", err)
	}
	return nil
}

// SetTarget binds a jump created by EmitJump to a fixed absolute
// address known at compile time (e.g. a host function pointer).
func (c *Compiler) SetTarget(jumpID int, addr int64) error {
	if err := c.checkNotGenerated("set_target"); err != nil {
		return err
	}
	if err := c.backend.SetTarget(jumpID, addr); err != nil {
		return newError(classify(err), "set_target", err)
	}
	return nil
}
