package basic

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// MaxLineNumber is the highest line number the interpreter accepts.
const MaxLineNumber = 63999

// Line is one numbered line of program source.
type Line struct {
	Number uint16
	Text   string
}

// FormatError reports source that cannot be turned into a program image.
type FormatError struct {
	Line int // 0 when the error is not tied to a line
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("format error: line %d: %s", e.Line, e.Msg)
	}
	return "format error: " + e.Msg
}

// ParseSource reads "<number> <text>" lines. Blank lines are skipped.
// The result is not sorted; see Normalize.
func ParseSource(r io.Reader) ([]Line, error) {
	scanner := bufio.NewScanner(r)
	var lines []Line
	row := 0
	for scanner.Scan() {
		row++
		raw := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		raw = strings.TrimLeft(raw, " \t")
		end := 0
		for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
			end++
		}
		if end == 0 {
			return nil, &FormatError{Msg: fmt.Sprintf("source row %d: missing line number", row)}
		}
		n, err := strconv.Atoi(raw[:end])
		if err != nil || n > MaxLineNumber {
			return nil, &FormatError{Msg: fmt.Sprintf("source row %d: line number %q out of range", row, raw[:end])}
		}
		lines = append(lines, Line{
			Number: uint16(n),
			Text:   strings.TrimLeft(raw[end:], " "),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Normalize returns a copy of lines sorted by number.
// Duplicate numbers are a FormatError.
func Normalize(lines []Line) ([]Line, error) {
	out := make([]Line, len(lines))
	copy(out, lines)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	for i, l := range out {
		if l.Number > MaxLineNumber {
			return nil, &FormatError{Line: int(l.Number), Msg: "line number out of range"}
		}
		if i > 0 && out[i-1].Number == l.Number {
			return nil, &FormatError{Line: int(l.Number), Msg: "duplicate line number"}
		}
	}
	return out, nil
}

// FormatSource renders lines back to "<number> <text>" form.
func FormatSource(lines []Line) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(strconv.Itoa(int(l.Number)))
		sb.WriteByte(' ')
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
