package lirjit_test

import (
	"errors"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/lirjit/lirjit"
	"github.com/lirjit/lirjit/internal/invoke"
)

// nativeArg0Reg returns the symbolic register that happens to alias
// this GOARCH's native ABI first argument register, so a test can
// stage a call argument without reaching into an internal register
// map. Only amd64 and arm64 need a real answer: every other
// architecture's scenarios never execute, so the value is unused.
func nativeArg0Reg() lirjit.Reg {
	switch runtime.GOARCH {
	case "amd64":
		return lirjit.R4
	default:
		return lirjit.R0
	}
}

// runScenario generates code and, on the two architectures this host
// can execute natively (spec.md §8; SPEC_FULL.md's Test tooling row),
// calls it and returns the result. On every other architecture it
// skips native invocation and returns ok=false, so the scenario test
// falls back to an encoding-only assertion.
func runScenario(t *testing.T, code *lirjit.Code, args ...uint64) (uint64, bool) {
	t.Helper()
	if !invoke.Supported() {
		return 0, false
	}
	result, ok := invoke.Call(code.Entry(), args...)
	require.True(t, ok)
	return result, true
}

// TestScenarioA_ThreeArgAdd is spec.md §8 scenario A: r0 = s0 + s1 + s2.
func TestScenarioA_ThreeArgAdd(t *testing.T) {
	build := func(t *testing.T) *lirjit.Code {
		c := lirjit.NewCompiler()
		require.NoError(t, c.EmitEnter(lirjit.ABI{
			Args:      lirjit.ArgTypes{Args: [4]lirjit.ArgKind{lirjit.ArgWord, lirjit.ArgWord, lirjit.ArgWord}},
			Saveds:    3,
			Scratches: 1,
		}))
		require.NoError(t, c.EmitOp1(lirjit.OpMov, lirjit.SizeWord, false, lirjit.R(lirjit.R0), lirjit.R(lirjit.S0)))
		require.NoError(t, c.EmitOp2(lirjit.OpAdd, false, lirjit.R(lirjit.R0), lirjit.R(lirjit.R0), lirjit.R(lirjit.S1)))
		require.NoError(t, c.EmitOp2(lirjit.OpAdd, false, lirjit.R(lirjit.R0), lirjit.R(lirjit.R0), lirjit.R(lirjit.S2)))
		require.NoError(t, c.EmitReturn(lirjit.R(lirjit.R0)))
		code, err := c.GenerateCode()
		require.NoError(t, err)
		return code
	}

	cases := []struct {
		a, b, c  int64
		wantWord int64
	}{
		{4, 5, 6, 15},
		{0, -1, 1, 0},
		{0x7FFFFFFFFFFFFFFF, 1, -2, 0x7FFFFFFFFFFFFFFE},
	}
	for _, tc := range cases {
		code := build(t)
		defer code.Free()
		got, ok := runScenario(t, code, uint64(tc.a), uint64(tc.b), uint64(tc.c))
		if !ok {
			t.Skip("no native invoke trampoline for this GOARCH; encoding-only coverage")
		}
		require.Equal(t, tc.wantWord, int64(got))
	}
}

// TestScenarioB_ArraySumWithLoop is spec.md §8 scenario B: sum an
// array of n words addressed via s0 (pointer) and s1 (count). The
// address arithmetic is spelled out as shift-then-add rather than a
// single scaled-index memory operand, since not every backend in this
// tree implements Mem2Shift addressing.
func TestScenarioB_ArraySumWithLoop(t *testing.T) {
	c := lirjit.NewCompiler()
	require.NoError(t, c.EmitEnter(lirjit.ABI{
		Args:      lirjit.ArgTypes{Args: [4]lirjit.ArgKind{lirjit.ArgWord, lirjit.ArgWord}},
		Saveds:    2,
		Scratches: 4,
	}))
	require.NoError(t, c.EmitOp2(lirjit.OpXor, false, lirjit.R(lirjit.R2), lirjit.R(lirjit.R2), lirjit.R(lirjit.R2)))
	require.NoError(t, c.EmitOp1(lirjit.OpMov, lirjit.SizeWord, false, lirjit.R(lirjit.R1), lirjit.Imm(0)))

	loop, err := c.EmitLabel()
	require.NoError(t, err)
	outJump, err := c.EmitCmp(lirjit.CondSigGreaterEqual, lirjit.JumpToLabel, lirjit.R(lirjit.R1), lirjit.R(lirjit.S1))
	require.NoError(t, err)

	require.NoError(t, c.EmitOp2(lirjit.OpShl, false, lirjit.R(lirjit.R3), lirjit.R(lirjit.R1), lirjit.Imm(3)))
	require.NoError(t, c.EmitOp2(lirjit.OpAdd, false, lirjit.R(lirjit.R3), lirjit.R(lirjit.R3), lirjit.R(lirjit.S0)))
	require.NoError(t, c.EmitOp1(lirjit.OpMov, lirjit.SizeWord, false, lirjit.R(lirjit.R0), lirjit.Mem1(lirjit.R3)))
	require.NoError(t, c.EmitOp2(lirjit.OpAdd, false, lirjit.R(lirjit.R2), lirjit.R(lirjit.R2), lirjit.R(lirjit.R0)))
	require.NoError(t, c.EmitOp2(lirjit.OpAdd, false, lirjit.R(lirjit.R1), lirjit.R(lirjit.R1), lirjit.Imm(1)))

	backJump, err := c.EmitJump(lirjit.CondAlways, lirjit.JumpToLabel, lirjit.NotCall)
	require.NoError(t, err)
	require.NoError(t, c.SetLabel(backJump, loop))

	out, err := c.EmitLabel()
	require.NoError(t, err)
	require.NoError(t, c.SetLabel(outJump, out))

	require.NoError(t, c.EmitReturn(lirjit.R(lirjit.R2)))

	code, err := c.GenerateCode()
	require.NoError(t, err)
	defer code.Free()

	values := []int64{3, -10, 4, 6, 8, 12, 2000, 0}
	if !invoke.Supported() {
		t.Skip("no native invoke trampoline for this GOARCH; encoding-only coverage")
	}
	words := make([]uint64, len(values))
	for i, v := range values {
		words[i] = uint64(v)
	}
	ptr := uint64(uintptr(unsafe.Pointer(&words[0])))
	got, ok := invoke.Call(code.Entry(), ptr, uint64(len(values)))
	require.True(t, ok)
	require.Equal(t, int64(2023), int64(got))
}

// TestScenarioC_CalleeInvocation is spec.md §8 scenario C: the
// generated function stages its argument into the native ABI's first
// call-argument register and issues a direct call, verifying the
// return register propagates the callee's result. The callee is
// itself lirjit-generated rather than a Go closure: calling into an
// arbitrary Go function from raw machine code would have to replicate
// the Go-specific ABI0/ABIInternal wrapper dance, which is out of
// scope for what this scenario is actually probing (direct-call
// encoding, addressing, and return-value plumbing).
func TestScenarioC_CalleeInvocation(t *testing.T) {
	if !invoke.Supported() {
		t.Skip("no native invoke trampoline for this GOARCH; encoding-only coverage")
	}

	callee := lirjit.NewCompiler()
	require.NoError(t, callee.EmitEnter(lirjit.ABI{
		Args:   lirjit.ArgTypes{Args: [4]lirjit.ArgKind{lirjit.ArgWord}},
		Saveds: 1,
	}))
	require.NoError(t, callee.EmitOp2(lirjit.OpAdd, false, lirjit.R(lirjit.R0), lirjit.R(lirjit.S0), lirjit.Imm(1)))
	require.NoError(t, callee.EmitReturn(lirjit.R(lirjit.R0)))
	calleeCode, err := callee.GenerateCode()
	require.NoError(t, err)
	defer calleeCode.Free()

	main := lirjit.NewCompiler()
	require.NoError(t, main.EmitEnter(lirjit.ABI{
		Args:   lirjit.ArgTypes{Args: [4]lirjit.ArgKind{lirjit.ArgWord}},
		Saveds: 1,
	}))
	require.NoError(t, main.EmitOp1(lirjit.OpMov, lirjit.SizeWord, false, lirjit.R(nativeArg0Reg()), lirjit.R(lirjit.S0)))
	jumpID, err := main.EmitJump(lirjit.CondAlways, lirjit.JumpToTarget|lirjit.JumpIsCall, lirjit.CallDirect)
	require.NoError(t, err)
	require.NoError(t, main.SetTarget(jumpID, int64(calleeCode.Entry())))
	require.NoError(t, main.EmitReturn(lirjit.R(lirjit.R0)))
	mainCode, err := main.GenerateCode()
	require.NoError(t, err)
	defer mainCode.Free()

	got, ok := invoke.Call(mainCode.Entry(), 41)
	require.True(t, ok)
	require.Equal(t, uint64(42), got)
}

// TestScenarioD_ConstRewriting is spec.md §8 scenario D: a const's
// value can be rewritten after GenerateCode without re-emitting.
func TestScenarioD_ConstRewriting(t *testing.T) {
	c := lirjit.NewCompiler()
	require.NoError(t, c.EmitEnter(lirjit.ABI{Scratches: 1}))
	constID, err := c.EmitConst(lirjit.R(lirjit.R0), 1234)
	require.NoError(t, err)
	require.NoError(t, c.EmitReturn(lirjit.R(lirjit.R0)))
	code, err := c.GenerateCode()
	require.NoError(t, err)
	defer code.Free()

	if !invoke.Supported() {
		t.Skip("no native invoke trampoline for this GOARCH; encoding-only coverage")
	}
	got, ok := invoke.Call(code.Entry())
	require.True(t, ok)
	require.Equal(t, uint64(1234), got)

	require.NoError(t, code.SetConst(constID, 9876))
	got, ok = invoke.Call(code.Entry())
	require.True(t, ok)
	require.Equal(t, uint64(9876), got)
}

// TestScenarioE_FlagEmulation is spec.md §8 scenario E: op_flags
// materializes a signed-less compare's truth value into a register.
func TestScenarioE_FlagEmulation(t *testing.T) {
	build := func(t *testing.T) *lirjit.Code {
		c := lirjit.NewCompiler()
		require.NoError(t, c.EmitEnter(lirjit.ABI{
			Args:      lirjit.ArgTypes{Args: [4]lirjit.ArgKind{lirjit.ArgWord, lirjit.ArgWord}},
			Saveds:    2,
			Scratches: 2,
		}))
		require.NoError(t, c.EmitOp2(lirjit.OpSub, true, lirjit.R(lirjit.R1), lirjit.R(lirjit.S0), lirjit.R(lirjit.S1)))
		require.NoError(t, c.EmitOpFlags(lirjit.CondSigLess, lirjit.R(lirjit.R0)))
		require.NoError(t, c.EmitReturn(lirjit.R(lirjit.R0)))
		code, err := c.GenerateCode()
		require.NoError(t, err)
		return code
	}

	cases := []struct {
		a, b int64
		want uint64
	}{
		{3, 5, 1},
		{5, 3, 0},
		{5, 5, 0},
	}
	for _, tc := range cases {
		code := build(t)
		defer code.Free()
		got, ok := runScenario(t, code, uint64(tc.a), uint64(tc.b))
		if !ok {
			t.Skip("no native invoke trampoline for this GOARCH; encoding-only coverage")
		}
		require.Equal(t, tc.want, got)
	}
}

// TestScenarioF_FastCall is spec.md §8 scenario F: a fast call nested
// two levels deep must preserve the return address through both
// levels. This engine lowers CallFast through the same call
// instruction as CallDirect (no separate link-register convention),
// so the scenario exercises that the CallKind distinction survives
// nesting without corrupting the hardware return-address chain.
func TestScenarioF_FastCall(t *testing.T) {
	if !invoke.Supported() {
		t.Skip("no native invoke trampoline for this GOARCH; encoding-only coverage")
	}

	leaf := lirjit.NewCompiler()
	require.NoError(t, leaf.EmitEnter(lirjit.ABI{Args: lirjit.ArgTypes{Args: [4]lirjit.ArgKind{lirjit.ArgWord}}, Saveds: 1}))
	require.NoError(t, leaf.EmitOp2(lirjit.OpAdd, false, lirjit.R(lirjit.R0), lirjit.R(lirjit.S0), lirjit.Imm(1)))
	require.NoError(t, leaf.EmitReturn(lirjit.R(lirjit.R0)))
	leafCode, err := leaf.GenerateCode()
	require.NoError(t, err)
	defer leafCode.Free()

	mid := lirjit.NewCompiler()
	require.NoError(t, mid.EmitEnter(lirjit.ABI{Args: lirjit.ArgTypes{Args: [4]lirjit.ArgKind{lirjit.ArgWord}}, Saveds: 1}))
	require.NoError(t, mid.EmitOp1(lirjit.OpMov, lirjit.SizeWord, false, lirjit.R(nativeArg0Reg()), lirjit.R(lirjit.S0)))
	midJump, err := mid.EmitJump(lirjit.CondAlways, lirjit.JumpToTarget|lirjit.JumpIsCall, lirjit.CallFast)
	require.NoError(t, err)
	require.NoError(t, mid.SetTarget(midJump, int64(leafCode.Entry())))
	require.NoError(t, mid.EmitReturn(lirjit.R(lirjit.R0)))
	midCode, err := mid.GenerateCode()
	require.NoError(t, err)
	defer midCode.Free()

	main := lirjit.NewCompiler()
	require.NoError(t, main.EmitEnter(lirjit.ABI{Args: lirjit.ArgTypes{Args: [4]lirjit.ArgKind{lirjit.ArgWord}}, Saveds: 1}))
	require.NoError(t, main.EmitOp1(lirjit.OpMov, lirjit.SizeWord, false, lirjit.R(nativeArg0Reg()), lirjit.R(lirjit.S0)))
	mainJump, err := main.EmitJump(lirjit.CondAlways, lirjit.JumpToTarget|lirjit.JumpIsCall, lirjit.CallFast)
	require.NoError(t, err)
	require.NoError(t, main.SetTarget(mainJump, int64(midCode.Entry())))
	require.NoError(t, main.EmitReturn(lirjit.R(lirjit.R0)))
	mainCode, err := main.GenerateCode()
	require.NoError(t, err)
	defer mainCode.Free()

	got, ok := invoke.Call(mainCode.Entry(), 40)
	require.True(t, ok)
	require.Equal(t, uint64(42), got)
}

// TestErrorKind_UnknownJumpIDIsBadArgument is spec.md §7's bad_argument
// kind: binding a jump id the compiler never issued is a caller
// mistake, not an unencodable op.
func TestErrorKind_UnknownJumpIDIsBadArgument(t *testing.T) {
	c := lirjit.NewCompiler()
	require.NoError(t, c.EmitEnter(lirjit.ABI{Saveds: 1}))

	err := c.SetLabel(9999, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, lirjit.ErrBadArgument)

	var lerr *lirjit.Error
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, lirjit.BadArgument, lerr.Kind)
}

// TestErrorKind_OverLargeSavedsIsBadArgument is the other bad_argument
// path called out in spec.md §7: emit_enter asking for more saved
// registers than this architecture's window exposes.
func TestErrorKind_OverLargeSavedsIsBadArgument(t *testing.T) {
	c := lirjit.NewCompiler()

	err := c.EmitEnter(lirjit.ABI{Saveds: lirjit.NumSaved + 100})
	require.Error(t, err)
	require.ErrorIs(t, err, lirjit.ErrBadArgument)

	var lerr *lirjit.Error
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, lirjit.BadArgument, lerr.Kind)

	// The latch is sticky: Err() reports the same kind afterward.
	require.ErrorIs(t, c.Err(), lirjit.ErrBadArgument)
}

// TestErrorKind_DebugAssertsRejectOutOfABIRegister exercises
// WithDebugAsserts: a register outside the scratch/saved counts
// latched by EmitEnter is a bad_argument, caught before it ever
// reaches the backend's unconditional register map.
func TestErrorKind_DebugAssertsRejectOutOfABIRegister(t *testing.T) {
	c := lirjit.NewCompiler(lirjit.WithDebugAsserts())
	require.NoError(t, c.EmitEnter(lirjit.ABI{Scratches: 1}))

	// R1 exists on every backend's register map, but this ABI only
	// requested one scratch register (R0), so R1 is out of bounds.
	err := c.EmitOp2(lirjit.OpAdd, false, lirjit.R(lirjit.R0), lirjit.R(lirjit.R0), lirjit.R(lirjit.R1))
	require.Error(t, err)
	require.ErrorIs(t, err, lirjit.ErrBadArgument)

	var lerr *lirjit.Error
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, lirjit.BadArgument, lerr.Kind)
}

// TestErrorKind_DebugAssertsOffAllowsOutOfABIRegister confirms the
// check above is opt-in: the same program compiles without
// WithDebugAsserts.
func TestErrorKind_DebugAssertsOffAllowsOutOfABIRegister(t *testing.T) {
	c := lirjit.NewCompiler()
	require.NoError(t, c.EmitEnter(lirjit.ABI{Scratches: 1}))
	require.NoError(t, c.EmitOp2(lirjit.OpAdd, false, lirjit.R(lirjit.R0), lirjit.R(lirjit.R0), lirjit.R(lirjit.R1)))
}
