package reloc

import "unsafe"

func uintptrFirst(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
