package playlist

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// TextParser handles SIDFILES lists as written by the C64 or by hand: one
// name per line, CR or LF line ends, with optional "===" rules and
// "PATH:"/"TOTAL:" header lines.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*Playlist, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	raw = bytes.ReplaceAll(raw, []byte("\r"), []byte("\n"))

	pl := &Playlist{Title: listTitle(filename)}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(latin1(scanner.Bytes()))
		switch {
		case line == "":
		case strings.HasPrefix(line, "==="):
		case strings.HasPrefix(line, "PATH:"):
			pl.Base = strings.TrimSpace(strings.TrimPrefix(line, "PATH:"))
		case strings.HasPrefix(line, "TOTAL:"):
		case isSIDName(line):
			pl.Entries = append(pl.Entries, Entry{Path: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pl, nil
}

// latin1 maps each byte to the code point of the same value.
func latin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
