//go:build arm.5 || arm.6

package arm

// hasMovWT is false on ARMv5 and plain ARMv6: neither has the MOVW/MOVT
// instruction pair, so immediate materialization falls back to an
// inline PC-relative literal (see movImm in encode_arm.go).
const hasMovWT = false

// hasIntDivide is false: SDIV/UDIV is an ARMv7-A addition, unavailable
// on ARMv5/v6 cores entirely (there, integer division is a runtime
// library call, out of scope for a single hand-encoded instruction).
const hasIntDivide = false
