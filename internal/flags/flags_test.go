package flags

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lirjit/lirjit/internal/ir"
)

func TestTableLookup(t *testing.T) {
	tbl := Table{
		ir.CondEqual: {Mask: 0x1},
		ir.CondLess:  {Mask: 0x2, Invert: true},
	}

	e, ok := tbl.Lookup(ir.CondEqual)
	require.True(t, ok)
	require.Equal(t, Entry{Mask: 0x1}, e)

	e, ok = tbl.Lookup(ir.CondLess)
	require.True(t, ok)
	require.True(t, e.Invert)

	_, ok = tbl.Lookup(ir.CondOverflow)
	require.False(t, ok)
}

func TestSlotTouchClearValid(t *testing.T) {
	var s Slot
	require.False(t, s.Valid(SlotZero))

	s.Touch(SlotZero)
	require.True(t, s.Valid(SlotZero))
	require.False(t, s.Valid(SlotCarry))

	s.Clear()
	require.False(t, s.Valid(SlotZero))
}

func TestSlotTouchOverwritesKind(t *testing.T) {
	var s Slot
	s.Touch(SlotZero)
	s.Touch(SlotCarry)
	require.True(t, s.Valid(SlotCarry))
	require.False(t, s.Valid(SlotZero))
}
