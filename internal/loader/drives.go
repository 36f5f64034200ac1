package loader

import (
	"fmt"
	"strings"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
)

// Drive maps a filesystem root on the device to the IEC unit serving it.
type Drive struct {
	Prefix string
	Unit   int
}

// DriveTable resolves device paths to IEC units. Exactly two roots are
// recognized, one per USB slot.
type DriveTable [2]Drive

// DefaultDrives serves the first USB stick from unit 11 and the second from 12.
func DefaultDrives() DriveTable {
	return DriveTable{
		{Prefix: "/USB0", Unit: 11},
		{Prefix: "/USB1", Unit: 12},
	}
}

// Resolve returns the unit for an absolute device path.
// Matching is case-insensitive and must end at a path separator.
func (t DriveTable) Resolve(path string) (int, error) {
	for _, d := range t {
		if d.Prefix == "" {
			continue
		}
		if len(path) < len(d.Prefix) || !strings.EqualFold(path[:len(d.Prefix)], d.Prefix) {
			continue
		}
		if rest := path[len(d.Prefix):]; rest == "" || rest[0] == '/' {
			return d.Unit, nil
		}
	}
	return 0, &basic.FormatError{Msg: fmt.Sprintf("path %q is not on a known drive", path)}
}
