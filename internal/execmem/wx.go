//go:build linux || darwin || freebsd || netbsd || openbsd

package execmem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// wxAllocator implements spec.md §4.5(2): each allocation is its own
// mmap region; protection toggles between RW (emission/patching) and
// RX (execution) via mprotect. This is the fallback when the generic
// allocator's anonymous-RWX mapping is refused by a hardened kernel.
type wxAllocator struct {
	mu      sync.Mutex
	regions map[uintptr][]byte
}

func newWXAllocator() (Allocator, error) {
	pageSize := unix.Getpagesize()
	mem, err := unix.Mmap(-1, 0, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("execmem: W^X allocator probe failed: %w", err)
	}
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("execmem: W^X allocator cannot toggle protection: %w", err)
	}
	_ = unix.Munmap(mem)
	return &wxAllocator{regions: make(map[uintptr][]byte)}, nil
}

func (a *wxAllocator) Name() string { return "wx" }

func (a *wxAllocator) MallocExec(size int) (Block, error) {
	if size <= 0 {
		return Block{}, fmt.Errorf("execmem: invalid size %d", size)
	}
	pageSize := unix.Getpagesize()
	n := align(size, pageSize)
	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return Block{}, fmt.Errorf("execmem: mmap failed: %w", err)
	}
	a.mu.Lock()
	a.regions[uintptrOf(mem)] = mem
	a.mu.Unlock()
	return Block{Writable: mem[:size:size]}, nil
}

// MakeExecutable toggles a block from RW to RX, flushing the
// instruction cache on architectures that need it. Called once by the
// relocation resolver after pass 2 writes the final bytes.
func (a *wxAllocator) MakeExecutable(b Block) error {
	a.mu.Lock()
	mem, ok := a.regions[uintptrOf(b.Writable)]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("execmem: MakeExecutable on unknown block")
	}
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("execmem: mprotect RX failed: %w", err)
	}
	flushInstructionCache(mem)
	return nil
}

// MakeWritable toggles a block back to RW for post-link patching
// (SetJumpAddr / SetConst), per spec.md §4.4 "Post-link patching".
func (a *wxAllocator) MakeWritable(b Block) error {
	a.mu.Lock()
	mem, ok := a.regions[uintptrOf(b.Writable)]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("execmem: MakeWritable on unknown block")
	}
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_WRITE)
}

func (a *wxAllocator) FreeExec(b Block) error {
	a.mu.Lock()
	mem, ok := a.regions[uintptrOf(b.Writable)]
	delete(a.regions, uintptrOf(b.Writable))
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("execmem: free of unknown block")
	}
	return unix.Munmap(mem)
}
