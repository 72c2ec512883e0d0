package invoke

// Supported reports whether this GOARCH has a callAsm trampoline.
func Supported() bool { return true }

// callAsm is implemented in invoke_amd64.s; it loads args[0:6] into
// rdi, rsi, rdx, rcx, r8, r9 (System V AMD64 ABI) and returns rax.
func callAsm(fn uintptr, args *[6]uint64) uint64
