//go:build !amd64 && !arm64

package invoke

// Supported reports whether this GOARCH has a callAsm trampoline.
// Every architecture this engine targets (spec.md §1) except amd64 and
// arm64 is cross-compiled only: the host running `go test` cannot
// execute x86-32, ARM 32-bit, PowerPC, SPARC, or S390x code, so those
// backends are exercised with encoding-only (non-executing) tests (see
// DESIGN.md).
func Supported() bool { return false }

func callAsm(fn uintptr, args *[6]uint64) uint64 {
	panic("invoke: callAsm has no implementation on this GOARCH")
}
