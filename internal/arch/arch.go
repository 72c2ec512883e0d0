// Package arch defines the per-architecture backend contract every
// encoder in internal/arch/{x86,arm,arm64,ppc,sparc,s390x} implements,
// plus the shared emission context (buffer, label/jump/const lists,
// ABI profile) those backends embed.
//
// The split mirrors spec.md §4.4's own description of the relocation
// resolver: list-walking and exec-memory linkage are architecture
// independent (internal/reloc), while the short-vs-long jump decision,
// constant-pool insertion, and trampoline shapes are not (here).
package arch

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/buffer"
	"github.com/lirjit/lirjit/internal/ir"
)

// ErrBadArgument marks an error as caused by a caller-supplied value
// that violates a documented precondition (an out-of-range saved/
// scratch count, an unknown jump/label id) rather than an operand or
// op this backend genuinely cannot encode. Backends wrap their error
// with fmt.Errorf("...: %w", arch.ErrBadArgument) at exactly those call
// sites; the root package's classify (compiler.go) checks errors.Is
// against this sentinel to report spec.md §7's bad_argument kind
// instead of collapsing every emit-time failure into unsupported.
var ErrBadArgument = errors.New("lirjit: bad argument")

// Fixup is a deferred patch a backend registers while emitting a jump
// whose target, or a const whose value, cannot be written until the
// final code address is known (spec.md §4.4 "Pass 2"). CodeBase is the
// address EmitEnter's caller will eventually call; flat is the
// writable view of the about-to-become-executable bytes.
type Fixup func(codeBase uintptr, flat []byte) error

// Context is the architecture-independent emission state every backend
// embeds. Backends add their own private transient fields (shift
// staging, last-memory-operand cache, 32/64-bit mode, flag slots) per
// spec.md §3 "Compiler ... per-arch transient fields".
type Context struct {
	Buf    *buffer.Fragmented
	Log    *logrus.Entry
	Verbose bool

	Labels []ir.Label
	Jumps  []ir.Jump
	Consts []ir.Const
	Fixups []Fixup

	ABI    ir.ABIProfile
	ABISet bool

	// Err is the sticky error latch (spec.md §7): once set, every
	// subsequent emit call is a documented no-op that returns it.
	Err error
}

// NewContext builds an empty emission context over buf.
func NewContext(buf *buffer.Fragmented, log *logrus.Entry) *Context {
	return &Context{Buf: buf, Log: log}
}

// Fail latches the sticky error if none is set yet, and always returns
// it, so call sites can `return ctx.Fail(err)`.
func (c *Context) Fail(err error) error {
	if c.Err == nil {
		c.Err = err
	}
	return c.Err
}

// Failed reports whether the sticky error has already latched.
func (c *Context) Failed() bool { return c.Err != nil }

// Trace logs an emitted op when verbose tracing is enabled, matching
// the teacher's commented-out debugPrintAsm hook in
// exec/internal/compile/backend_amd64.go — made a first-class, always
// compiled feature here (SPEC_FULL.md §4.6).
func (c *Context) Trace(format string, args ...interface{}) {
	if c.Verbose && c.Log != nil {
		c.Log.Debugf(format, args...)
	}
}

// Offset returns the current end-of-stream byte offset, used as the
// "addr" recorded on labels/jumps/consts during emission.
func (c *Context) Offset() int64 { return c.Buf.Len() }

// RequireABI returns an error if EmitEnter/EmitFakeEnter has not run
// yet; every op but enter/fake_enter/set_verbose requires it.
func (c *Context) RequireABI() error {
	if !c.ABISet {
		return fmt.Errorf("lirjit: op emitted before emit_enter")
	}
	return nil
}

// Backend is the contract a per-architecture encoder implements. Every
// method takes operands already validated to be one of ir.Operand's
// shapes; argument validation against the ABI profile (scratch/saved
// register bounds) is each backend's job, since the bound depends on
// the ABI profile the backend itself latched.
type Backend interface {
	Name() string
	Context() *Context

	Enter(abi ir.ABIProfile) error
	FakeEnter(abi ir.ABIProfile) error
	Return(src ir.Operand, hasSrc bool) error

	Op0(op ir.Op0) error
	Op1(op ir.Op1, size ir.Size, setFlags bool, dst, src ir.Operand) error
	Op2(op ir.Op2, setFlags bool, dst, src1, src2 ir.Operand) error
	FOp1(op ir.FOp1, dst, src ir.Operand) error
	FOp2(op ir.FOp2, dst, src1, src2 ir.Operand) error

	Label() (int, error)
	AlignedLabel(alignment int, roData []byte) (int, error)
	Jump(pred ir.Predicate, jflags ir.JumpFlags, call ir.CallKind) (int, error)
	IJump(call ir.CallKind, src ir.Operand) (int, error)
	Cmp(pred ir.Predicate, jflags ir.JumpFlags, s1, s2 ir.Operand) (int, error)
	OpFlags(pred ir.Predicate, dst ir.Operand) error
	Const(dst ir.Operand, init int64) (int, error)
	RawBytes(b []byte) error

	SetLabel(jumpID, labelID int) error
	SetTarget(jumpID int, addr int64) error

	// PatchJump/PatchConst implement post-link rewriting
	// (spec.md §4.4 "Post-link patching"); flat is the writable view
	// of the whole code block, offset is the byte offset within it
	// recorded for the jump/const at emission time.
	PatchJump(flat []byte, offset int64, codeBase, newTarget uintptr) error
	PatchConst(flat []byte, offset int64, newValue int64) error
}
