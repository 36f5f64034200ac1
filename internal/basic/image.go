package basic

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Record is one linked program line as stored in memory.
type Record struct {
	Link   uint16
	Number uint16
	Body   []byte
}

// Len is the record's size in bytes: link, number, body and terminator.
func (r Record) Len() int { return 4 + len(r.Body) + 1 }

// Image is a program ready to be loaded at LoadAddress.
type Image struct {
	LoadAddress uint16
	Records     []Record
}

// Assemble links records for loading at load. Each record's link is the
// address of the record after it; the last record's link is zero.
func Assemble(load uint16, records []Record) *Image {
	offsets := make([]int, len(records))
	off := 0
	for i, r := range records {
		offsets[i] = off
		off += r.Len()
	}

	linked := make([]Record, len(records))
	for i, r := range records {
		r.Link = 0
		if i+1 < len(records) {
			r.Link = load + uint16(offsets[i+1])
		}
		linked[i] = r
	}
	return &Image{LoadAddress: load, Records: linked}
}

// Size is the number of bytes the program occupies once loaded,
// including the end-of-program marker.
func (img *Image) Size() int {
	n := 2
	for _, r := range img.Records {
		n += r.Len()
	}
	return n
}

// End is the first address past the loaded program.
func (img *Image) End() int {
	return int(img.LoadAddress) + img.Size()
}

// Bytes serializes the image in load-file layout:
// [load:2][link:2 number:2 body 0x00]...[0x0000].
func (img *Image) Bytes() []byte {
	out := make([]byte, 0, 2+img.Size())
	out = binary.LittleEndian.AppendUint16(out, img.LoadAddress)
	for _, r := range img.Records {
		out = binary.LittleEndian.AppendUint16(out, r.Link)
		out = binary.LittleEndian.AppendUint16(out, r.Number)
		out = append(out, r.Body...)
		out = append(out, 0)
	}
	return binary.LittleEndian.AppendUint16(out, 0)
}

// Parse decodes a load file produced by Bytes, verifying every link.
func Parse(data []byte) (*Image, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("image too short: %d bytes", len(data))
	}
	img := &Image{LoadAddress: binary.LittleEndian.Uint16(data)}
	pos := 2
	for {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("image truncated at offset %d", pos)
		}
		link := binary.LittleEndian.Uint16(data[pos:])
		if link == 0 && pos+2 == len(data) {
			break
		}
		if pos+4 > len(data) {
			return nil, fmt.Errorf("image truncated at offset %d", pos)
		}
		number := binary.LittleEndian.Uint16(data[pos+2:])
		end := pos + 4
		for end < len(data) && data[end] != 0 {
			end++
		}
		if end >= len(data) {
			return nil, fmt.Errorf("line %d: missing terminator", number)
		}
		body := append([]byte(nil), data[pos+4:end]...)
		img.Records = append(img.Records, Record{Link: link, Number: number, Body: body})
		pos = end + 1

		next := int(img.LoadAddress) + pos - 2
		if link == 0 {
			if pos+2 != len(data) || binary.LittleEndian.Uint16(data[pos:]) != 0 {
				return nil, fmt.Errorf("line %d: zero link before end of image", number)
			}
			break
		}
		if int(link) != next {
			return nil, fmt.Errorf("line %d: link $%04X, want $%04X", number, link, next)
		}
	}
	return img, nil
}

// List expands an image's records back into source lines.
func (img *Image) List(table *TokenTable) []Line {
	lines := make([]Line, 0, len(img.Records))
	for _, r := range img.Records {
		lines = append(lines, Line{Number: r.Number, Text: detokenize(r.Body, table)})
	}
	return lines
}

func detokenize(body []byte, table *TokenTable) string {
	var sb strings.Builder
	quoted, verbatim := false, false
	for _, b := range body {
		if b == '"' {
			quoted = !quoted
		}
		if b >= 0x80 && !quoted && !verbatim {
			if kw, ok := table.Keyword(b); ok {
				sb.WriteString(kw)
				if b == codeREM {
					verbatim = true
				}
				continue
			}
		}
		sb.WriteByte(b)
	}
	return sb.String()
}
