package invoke

// Supported reports whether this GOARCH has a callAsm trampoline.
func Supported() bool { return true }

// callAsm is implemented in invoke_arm64.s; it loads args[0:6] into
// X0-X5 (AAPCS64) and returns X0.
func callAsm(fn uintptr, args *[6]uint64) uint64
