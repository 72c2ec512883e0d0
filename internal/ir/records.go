package ir

// Label marks a position in the emitted code. During emission Size is
// the running byte offset at the label's position; after GenerateCode,
// Addr holds the absolute address and Size holds the byte offset from
// the code base (spec.md §3).
type Label struct {
	ID   int
	Size int64
	Addr uintptr
}

// Jump is a branch whose target is resolved at GenerateCode time.
// Exactly one of Label/Target is meaningful, selected by Flags.
type Jump struct {
	ID     int
	Flags  JumpFlags
	Pred   Predicate
	Call   CallKind
	Label  int   // index into Compiler's label list, valid if JumpToLabel
	Target int64 // absolute address, valid if JumpToTarget

	// Addr is the byte offset (pre-link) or absolute address
	// (post-link) of the first byte of the branch instruction.
	Addr uintptr

	// EncodedLong records pass-1's short-vs-long encoding decision so
	// pass-2 patches the right instruction shape.
	EncodedLong bool
}

// Const is a placeholder for a literal machine word embedded in code.
type Const struct {
	ID   int
	Init int64
	// Addr is the byte offset (pre-link) or absolute address
	// (post-link) of the literal (or, on architectures without direct
	// literal loads, of the first instruction of the multi-instruction
	// sequence that materializes it).
	Addr uintptr
}

// ABIProfile describes the function an EmitEnter latched: how many
// scratch/saved registers and float registers the program asked to
// expose, the argument layout, and the local frame size.
type ABIProfile struct {
	Args       ArgTypes
	Scratches  int
	Saveds     int
	FScratches int
	FSaveds    int
	LocalSize  int32
	// Fake marks an ABI profile latched by EmitFakeEnter: EmitReturn
	// behaves as if a prologue had been emitted, but no prologue bytes
	// were written.
	Fake bool
}
