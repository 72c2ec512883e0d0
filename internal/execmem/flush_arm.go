//go:build arm

package execmem

import "golang.org/x/sys/unix"

// cacheflushSyscall is Linux's __ARM_NR_cacheflush, used because
// ARMv5/v7 cores require an explicit instruction-cache flush after
// writing code the CPU may have already prefetched.
const cacheflushSyscall = 0x0f0002

func flushInstructionCache(mem []byte) {
	if len(mem) == 0 {
		return
	}
	start := uintptr(uintptrOf(mem))
	end := start + uintptr(len(mem))
	_, _, _ = unix.Syscall(cacheflushSyscall, start, end, 0)
}
