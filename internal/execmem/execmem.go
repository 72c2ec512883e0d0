// Package execmem implements the W^X-capable executable memory
// allocator of spec.md §4.5: three alternative back-ends, probed in
// order at first use and latched for the process.
//
// Grounded on the teacher's own dependency graph: go-interpreter/wagon
// depends on github.com/edsrzf/mmap-go for exactly this role (its
// compile.MMapAllocator, whose body the retrieval pack filtered out as
// a platform-specific non-code file, but whose presence in go.mod and
// whose use from compile.asmBlock/TestMMapAllocator in
// exec/internal/compile is unambiguous). That package backs the
// Generic allocator here. The W^X and dual-mapped allocators use
// golang.org/x/sys/unix directly for mprotect/memfd_create, since
// mmap-go has no portable API for either.
package execmem

import (
	"errors"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrAllocatorProbeFailed is returned when every back-end failed to
// initialize at first use (spec.md §7, allocator_probe_failed).
var ErrAllocatorProbeFailed = errors.New("execmem: all allocator backends failed to initialize")

// Allocator is the contract every back-end implements (spec.md §4.5).
type Allocator interface {
	// MallocExec returns a pointer into the writable view of a size
	// byte region and its process-unique handle.
	MallocExec(size int) (Block, error)
	// FreeExec releases a block returned by MallocExec.
	FreeExec(b Block) error
	// Name identifies the backend for logging/diagnostics.
	Name() string
}

// Block is a single executable-memory allocation. Write must go
// through Writable; code that is embedded as an absolute or
// PC-relative target must use Executable, which differs from Writable
// only under the dual-mapped backend.
type Block struct {
	Writable   []byte
	Executable uintptr
	handle     interface{}
}

// ExecOffset returns the writable->executable delta the relocation
// resolver must add to instruction-cursor addresses when computing
// PC-relative displacements inside code that references itself
// (spec.md §4.5). Zero for the generic and W^X backends.
func (b Block) ExecOffset() int64 {
	if b.Executable == 0 || len(b.Writable) == 0 {
		// Unset Executable means the generic/W^X backends, whose
		// writable view doubles as the executable one.
		return 0
	}
	return int64(b.Executable) - int64(uintptrOf(b.Writable))
}

var (
	probeOnce   sync.Once
	probeErr    error
	selected    Allocator
	selectedMu  sync.Mutex
	log         = logrus.WithField("component", "execmem")
	backendList = []func() (Allocator, error){
		newGenericAllocator,
		newWXAllocator,
		newDualMappedAllocator,
	}
)

// Selected returns the process-wide allocator, probing back-ends in
// order on first use. Failure of one backend is not fatal; the next is
// tried. This mirrors the C engine's global `selected_allocator` latch,
// replaced per spec.md DESIGN NOTES §9 by a once-cell.
func Selected() (Allocator, error) {
	probeOnce.Do(func() {
		selectedMu.Lock()
		defer selectedMu.Unlock()
		for _, try := range candidates() {
			a, err := try()
			if err != nil {
				log.WithError(err).Debug("execmem backend unavailable, trying next")
				continue
			}
			log.WithField("backend", a.Name()).Debug("execmem backend selected")
			selected = a
			return
		}
		probeErr = ErrAllocatorProbeFailed
	})
	if selected == nil {
		return nil, probeErr
	}
	return selected, nil
}

// candidates returns backendList in probe order, unless LIRJIT_ALLOCATOR
// pins a single backend (spec.md ambient Configuration row: "allocator
// backend override via LIRJIT_ALLOCATOR env var"), in which case only
// that backend is tried.
func candidates() []func() (Allocator, error) {
	switch os.Getenv("LIRJIT_ALLOCATOR") {
	case "generic":
		return []func() (Allocator, error){newGenericAllocator}
	case "wx":
		return []func() (Allocator, error){newWXAllocator}
	case "dual":
		return []func() (Allocator, error){newDualMappedAllocator}
	default:
		return backendList
	}
}

// FlushCache flushes the instruction cache for a block's writable
// view, for use after post-link patching (SetJumpAddr/SetConst) on
// backends whose MakeExecutable hook (and its own flush) doesn't run
// again, e.g. the generic and dual-mapped allocators.
func FlushCache(b Block) { flushInstructionCache(b.Writable) }

// ResetForTest clears the process-wide latch so tests can force a
// specific backend to be re-probed. Not for production use.
func ResetForTest() {
	probeOnce = sync.Once{}
	selected = nil
	probeErr = nil
}
