//go:build !arm

package execmem

// flushInstructionCache is a no-op on architectures with a coherent
// instruction cache with respect to a same-thread mprotect toggle
// (x86/x86-64, arm64, and — per its strongly-ordered memory model —
// s390x). ARMv5/v7 need an explicit flush; see flush_arm.go.
func flushInstructionCache(mem []byte) {}
