package loader

import (
	"fmt"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
)

// basicTop is the first address above BASIC program and variable memory.
const basicTop = 0xA000

// Count cell values with special meaning. Real counts never reach them
// because the window ends below $FFFF. The loader stores the low byte
// first, so the overflow marker keeps a high byte different from the
// sentinel's: a count whose high byte is still 0xFF is never finished.
const (
	CountSentinel uint16 = 0xFFFF // seeded by the host before upload
	CountOverflow uint16 = 0xFEFE // file did not fit in the window
)

// Window is the memory the loader copies file content into.
// Content starts at Base and must end, terminator included, before Limit.
// The byte count is stored little-endian at CountCell and CountCell+1.
type Window struct {
	Base      uint16
	CountCell uint16
	Limit     uint16
}

// DefaultWindow is the free 4K block at $C000 with the count just below it.
func DefaultWindow() Window {
	return Window{Base: 0xC000, CountCell: 0xBFFE, Limit: 0xD000}
}

// Capacity is the largest file the window can hold.
func (w Window) Capacity() int {
	return int(w.Limit) - int(w.Base) - 1
}

// Validate checks the window against itself and against a loader program
// ending at programEnd. BASIC keeps its variables above the program, so the
// whole workspace up to basicTop is off limits.
func (w Window) Validate(programEnd int) error {
	if w.Limit <= w.Base || w.Capacity() < 1 {
		return fmt.Errorf("window $%04X-$%04X is empty", w.Base, w.Limit)
	}
	if int(w.CountCell)+1 >= int(w.Base) && int(w.CountCell) < int(w.Limit) {
		return fmt.Errorf("count cells $%04X overlap window $%04X-$%04X", w.CountCell, w.Base, w.Limit)
	}
	workspaceEnd := max(programEnd, basicTop)
	for _, r := range [][2]int{
		{int(w.Base), int(w.Limit)},
		{int(w.CountCell), int(w.CountCell) + 2},
	} {
		if r[0] < workspaceEnd && r[1] > int(basic.DefaultLoadAddress) {
			return fmt.Errorf("range $%04X-$%04X overlaps BASIC workspace $%04X-$%04X",
				r[0], r[1], basic.DefaultLoadAddress, workspaceEnd)
		}
	}
	return nil
}
