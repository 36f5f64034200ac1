// Package playlist reads lists of SID files in the formats the player accepts.
package playlist

import (
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Entry is one tune to play.
type Entry struct {
	Path     string        `json:"path"`
	Song     int           `json:"song,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Playlist is the parsed content of a list file.
type Playlist struct {
	Title   string  `json:"title,omitempty"`
	Base    string  `json:"base,omitempty"` // directory named by the list itself
	Entries []Entry `json:"entries"`
}

// Parser converts raw list bytes into a Playlist.
type Parser interface {
	Parse(r io.Reader, filename string) (*Playlist, error)
}

// SupportedExtensions maps the list file extensions this service can handle
// to their parsers. Names without an extension are SIDFILES text.
var SupportedExtensions = map[string]func() Parser{
	"":          func() Parser { return &TextParser{} },
	".txt":      func() Parser { return &TextParser{} },
	".seq":      func() Parser { return &TextParser{} },
	".md":       func() Parser { return &MarkdownParser{} },
	".markdown": func() Parser { return &MarkdownParser{} },
	".csv":      func() Parser { return &CSVParser{} },
	".html":     func() Parser { return &HTMLParser{} },
	".htm":      func() Parser { return &HTMLParser{} },
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	newParser, ok := SupportedExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported playlist extension: %s", ext)
	}
	return newParser(), nil
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	_, ok := SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Resolve returns the entries with relative paths joined to base. An empty
// base falls back to the directory the list names for itself.
func (p *Playlist) Resolve(base string) []Entry {
	if base == "" {
		base = p.Base
	}
	out := make([]Entry, 0, len(p.Entries))
	for _, e := range p.Entries {
		if !strings.HasPrefix(e.Path, "/") && base != "" {
			e.Path = path.Join(base, e.Path)
		}
		out = append(out, e)
	}
	return out
}

// Candidates lists the device paths worth trying for a list file, in order.
// Files written by the C64 often carry a .SEQ suffix and some devices keep
// names in lower case.
func Candidates(listPath string) []string {
	lower := strings.ToLower(listPath)
	variants := []string{
		listPath,
		listPath + ".SEQ",
		listPath + ".seq",
		strings.Replace(listPath, ".TXT", ".TXT.SEQ", 1),
		strings.Replace(listPath, ".txt", ".txt.seq", 1),
		lower,
		lower + ".seq",
	}
	seen := make(map[string]bool, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// listTitle is the filename without its extensions, so SIDFILES.TXT.SEQ
// becomes SIDFILES.
func listTitle(filename string) string {
	name, _, _ := strings.Cut(path.Base(filename), ".")
	return name
}

func isSIDName(s string) bool {
	return strings.HasSuffix(strings.ToUpper(s), ".SID")
}

// dedupe drops repeated paths, keeping the first occurrence.
func dedupe(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if !seen[e.Path] {
			seen[e.Path] = true
			out = append(out, e)
		}
	}
	return out
}
