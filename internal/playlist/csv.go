package playlist

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// CSVParser handles spreadsheet exports. A header row naming a "path",
// "file" or "name" column is honoured along with optional "song" and
// "duration" columns; without one the first column holds the file.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*Playlist, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	pl := &Playlist{Title: listTitle(filename)}
	if len(records) == 0 {
		return pl, nil
	}

	cols := map[string]int{"path": 0, "song": -1, "duration": -1}
	rows := records
	if hdr, ok := header(records[0]); ok {
		cols, rows = hdr, records[1:]
	}

	for i, row := range rows {
		name := strings.TrimSpace(cell(row, cols["path"]))
		if !isSIDName(name) {
			continue
		}
		e := Entry{Path: name}
		if s := cell(row, cols["song"]); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("parse csv: row %d: bad song %q", i+1, s)
			}
			e.Song = n
		}
		if s := cell(row, cols["duration"]); s != "" {
			d, err := ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("parse csv: row %d: %w", i+1, err)
			}
			e.Duration = d
		}
		pl.Entries = append(pl.Entries, e)
	}
	return pl, nil
}

func header(row []string) (map[string]int, bool) {
	cols := map[string]int{"path": -1, "song": -1, "duration": -1}
	for i, h := range row {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "path", "file", "name", "filename":
			cols["path"] = i
		case "song", "songnr", "subtune":
			cols["song"] = i
		case "duration", "length", "time":
			cols["duration"] = i
		}
	}
	return cols, cols["path"] >= 0
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ParseDuration accepts "m:ss", whole seconds or a Go duration string.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if m, sec, ok := strings.Cut(s, ":"); ok {
		mi, err1 := strconv.Atoi(m)
		si, err2 := strconv.Atoi(sec)
		if err1 != nil || err2 != nil || mi < 0 || si < 0 || si > 59 {
			return 0, fmt.Errorf("bad duration %q", s)
		}
		return time.Duration(mi)*time.Minute + time.Duration(si)*time.Second, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("bad duration %q", s)
	}
	return d, nil
}
