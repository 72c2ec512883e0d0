package execmem

import (
	"fmt"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
)

// chunkBytes is the minimum unit the generic allocator requests from
// the OS, per spec.md §4.5(1): "Chunks are multiples of 64 KiB".
const chunkBytes = 64 * 1024

// freeBlock is a non-adjacent free span tracked for best-fit reuse.
type freeBlock struct {
	off, size int
}

type genericChunk struct {
	mem   mmap.MMap
	free  []freeBlock
	total int
	used  int
}

// genericAllocator implements spec.md §4.5(1): mmap(PROT_READ|WRITE|EXEC,
// MAP_ANON|MAP_PRIVATE) with best-fit sub-allocation from 64 KiB chunks
// and coalescing free lists, backed by edsrzf/mmap-go (the cross-platform
// mmap wrapper the teacher repository already depends on for this role).
type genericAllocator struct {
	mu     sync.Mutex
	chunks []*genericChunk
}

func newGenericAllocator() (Allocator, error) {
	// Probe with a throwaway allocation so a genuinely broken host
	// (e.g. W^X-hardened with anonymous-RWX denied) fails over to the
	// next backend instead of latching a allocator that can never
	// succeed.
	probe, err := mmap.MapRegion(nil, chunkBytes, mmap.RDWR|mmap.EXEC, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("execmem: generic allocator probe failed: %w", err)
	}
	_ = probe.Unmap()
	return &genericAllocator{}, nil
}

func (a *genericAllocator) Name() string { return "generic" }

func align(n, to int) int { return (n + to - 1) / to * to }

func (a *genericAllocator) MallocExec(size int) (Block, error) {
	if size <= 0 {
		return Block{}, fmt.Errorf("execmem: invalid size %d", size)
	}
	size = align(size, 16)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range a.chunks {
		if off, ok := c.bestFit(size); ok {
			c.used += size
			return Block{Writable: c.mem[off : off+size : off+size]}, nil
		}
	}

	allocSize := align(size, chunkBytes)
	mem, err := mmap.MapRegion(nil, allocSize, mmap.RDWR|mmap.EXEC, mmap.ANON, 0)
	if err != nil {
		return Block{}, fmt.Errorf("execmem: generic mmap failed: %w", err)
	}
	c := &genericChunk{mem: mem, total: allocSize}
	c.free = []freeBlock{{off: size, size: allocSize - size}}
	c.used = size
	a.chunks = append(a.chunks, c)
	return Block{Writable: mem[0:size:size]}, nil
}

// bestFit scans the chunk's free list for the smallest block that
// satisfies size, splitting it if it is larger than needed.
func (c *genericChunk) bestFit(size int) (int, bool) {
	best := -1
	for i, fb := range c.free {
		if fb.size >= size && (best == -1 || fb.size < c.free[best].size) {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	fb := c.free[best]
	off := fb.off
	if fb.size == size {
		c.free = append(c.free[:best], c.free[best+1:]...)
	} else {
		c.free[best] = freeBlock{off: fb.off + size, size: fb.size - size}
	}
	return off, true
}

func (a *genericAllocator) FreeExec(b Block) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for ci, c := range a.chunks {
		base := uintptrOf(c.mem)
		ptr := uintptrOf(b.Writable)
		if ptr < base || ptr >= base+uintptr(c.total) {
			continue
		}
		off := int(ptr - base)
		size := len(b.Writable)
		c.used -= size
		c.free = append(c.free, freeBlock{off: off, size: size})
		c.coalesce()
		a.maybeReturnChunk(ci, c)
		return nil
	}
	return fmt.Errorf("execmem: free of unknown block")
}

func (c *genericChunk) coalesce() {
	if len(c.free) < 2 {
		return
	}
	// sort by offset, then merge adjacent runs
	for i := 0; i < len(c.free); i++ {
		for j := i + 1; j < len(c.free); j++ {
			if c.free[j].off < c.free[i].off {
				c.free[i], c.free[j] = c.free[j], c.free[i]
			}
		}
	}
	merged := c.free[:1]
	for _, fb := range c.free[1:] {
		last := &merged[len(merged)-1]
		if last.off+last.size == fb.off {
			last.size += fb.size
		} else {
			merged = append(merged, fb)
		}
	}
	c.free = merged
}

// maybeReturnChunk unmaps a chunk whose only remaining block is free,
// once the process-wide free-to-total ratio exceeds 3/2, per spec.md
// §4.5(1).
func (a *genericAllocator) maybeReturnChunk(idx int, c *genericChunk) {
	if len(c.free) != 1 || c.free[0].size != c.total {
		return
	}
	var totalFree, totalAll int
	for _, ch := range a.chunks {
		totalAll += ch.total
		for _, fb := range ch.free {
			totalFree += fb.size
		}
	}
	if totalAll == 0 || float64(totalFree)/float64(totalAll) <= 1.5 {
		return
	}
	_ = c.mem.Unmap()
	a.chunks = append(a.chunks[:idx], a.chunks[idx+1:]...)
}
