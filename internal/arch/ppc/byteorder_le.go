//go:build ppc64le

package ppc

import "encoding/binary"

var byteOrder binary.ByteOrder = binary.LittleEndian
