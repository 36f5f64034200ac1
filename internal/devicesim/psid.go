package devicesim

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// psidHeader holds the fields of a PSID/RSID header the file info reports.
type psidHeader struct {
	Magic  string
	Songs  int
	Start  int
	Name   string
	Author string
}

const psidHeaderLen = 0x76

var errNotPSID = errors.New("not a PSID file")

func parsePSID(data []byte) (psidHeader, error) {
	if len(data) < psidHeaderLen {
		return psidHeader{}, errNotPSID
	}
	magic := string(data[0:4])
	if magic != "PSID" && magic != "RSID" {
		return psidHeader{}, errNotPSID
	}
	return psidHeader{
		Magic:  magic,
		Songs:  int(binary.BigEndian.Uint16(data[0x0E:])),
		Start:  int(binary.BigEndian.Uint16(data[0x10:])),
		Name:   cstring(data[0x16:0x36]),
		Author: cstring(data[0x36:0x56]),
	}, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
