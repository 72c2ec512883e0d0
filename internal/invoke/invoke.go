// Package invoke bridges a raw executable-memory address produced by
// GenerateCode to a callable Go value, without cgo. Each supported
// GOARCH provides a tiny Plan9-assembly trampoline (callAsm) that loads
// up to six integer/pointer-width arguments into the host ABI's
// argument registers, calls the address, and returns the ABI's return
// register. Floating point arguments are out of scope here: float
// return values round-trip through the generated code's own stack/
// memory contract in the scenarios this engine tests (spec.md §8).
//
// This mirrors the teacher's own native_exec.go/jitcall split
// (exec/internal/compile), generalized from wagon's single
// (stack, locals *[]uint64) signature to an arbitrary up-to-six-word
// call, since this engine's emit_enter accepts a client-chosen
// arg_types shape rather than one fixed WASM calling convention.
package invoke

// Call invokes the function at fn with up to six word-sized arguments
// and returns its word-sized result, using the host's native ABI.
// Unsupported architectures return ok=false so callers can fall back to
// an encoding-only (non-executing) test.
func Call(fn uintptr, args ...uint64) (result uint64, ok bool) {
	if !Supported() {
		return 0, false
	}
	var a [6]uint64
	copy(a[:], args)
	return callAsm(fn, &a), true
}
