//go:build linux || netbsd

package execmem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// dualMapping is one backing object mapped twice: once RW, once RX, so
// the resolver never needs to toggle a single mapping's protection
// between writes and execution (spec.md §4.5(3)).
type dualMapping struct {
	rw, rx []byte
	fd     int
}

// dualMappedAllocator implements the Linux/NetBSD dual-mapped back-end.
// It is tried last: on kernels hardened against W+X it is strictly
// better than the W^X allocator because no mapping is ever toggled, but
// it depends on memfd_create, which is unavailable on some sandboxes.
type dualMappedAllocator struct {
	mu       sync.Mutex
	mappings map[uintptr]*dualMapping
}

func newDualMappedAllocator() (Allocator, error) {
	fd, err := unix.MemfdCreate("lirjit-exec", 0)
	if err != nil {
		return nil, fmt.Errorf("execmem: memfd_create unavailable: %w", err)
	}
	defer unix.Close(fd)
	pageSize := unix.Getpagesize()
	if err := unix.Ftruncate(fd, int64(pageSize)); err != nil {
		return nil, fmt.Errorf("execmem: ftruncate on memfd failed: %w", err)
	}
	rx, err := unix.Mmap(fd, 0, pageSize, unix.PROT_READ|unix.PROT_EXEC, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("execmem: RX mmap of memfd failed: %w", err)
	}
	_ = unix.Munmap(rx)
	return &dualMappedAllocator{mappings: make(map[uintptr]*dualMapping)}, nil
}

func (a *dualMappedAllocator) Name() string { return "dual-mapped" }

func (a *dualMappedAllocator) MallocExec(size int) (Block, error) {
	if size <= 0 {
		return Block{}, fmt.Errorf("execmem: invalid size %d", size)
	}
	pageSize := unix.Getpagesize()
	n := align(size, pageSize)

	fd, err := unix.MemfdCreate("lirjit-exec", 0)
	if err != nil {
		return Block{}, fmt.Errorf("execmem: memfd_create failed: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(n)); err != nil {
		unix.Close(fd)
		return Block{}, fmt.Errorf("execmem: ftruncate failed: %w", err)
	}
	rw, err := unix.Mmap(fd, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return Block{}, fmt.Errorf("execmem: RW mmap failed: %w", err)
	}
	rx, err := unix.Mmap(fd, 0, n, unix.PROT_READ|unix.PROT_EXEC, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(rw)
		unix.Close(fd)
		return Block{}, fmt.Errorf("execmem: RX mmap failed: %w", err)
	}

	m := &dualMapping{rw: rw, rx: rx, fd: fd}
	a.mu.Lock()
	a.mappings[uintptrOf(rw)] = m
	a.mu.Unlock()

	return Block{Writable: rw[:size:size], Executable: uintptrOf(rx)}, nil
}

func (a *dualMappedAllocator) FreeExec(b Block) error {
	a.mu.Lock()
	m, ok := a.mappings[uintptrOf(b.Writable)]
	delete(a.mappings, uintptrOf(b.Writable))
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("execmem: free of unknown block")
	}
	_ = unix.Munmap(m.rw)
	_ = unix.Munmap(m.rx)
	return unix.Close(m.fd)
}
