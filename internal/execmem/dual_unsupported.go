//go:build !linux && !netbsd

package execmem

import "errors"

func newDualMappedAllocator() (Allocator, error) {
	return nil, errors.New("execmem: dual-mapped allocator requires memfd_create (Linux/NetBSD)")
}
