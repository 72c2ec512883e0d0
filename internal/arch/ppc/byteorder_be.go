//go:build ppc64

package ppc

import "encoding/binary"

// byteOrder matches ppc64's big-endian default; ppc64le flips this in
// byteorder_le.go. PowerPC's instruction *bit layout* never changes
// between the two, only the byte order the 32-bit word is stored in.
var byteOrder binary.ByteOrder = binary.BigEndian
