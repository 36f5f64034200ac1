package basic

import (
	"sort"
	"strings"
)

// Codes used directly by the tokenizer's state machine.
const (
	codeREM  byte = 0x8F
	codeDATA byte = 0x83
)

// v2Keywords is the Commodore BASIC V2 keyword set.
var v2Keywords = []struct {
	word string
	code byte
}{
	{"END", 0x80}, {"FOR", 0x81}, {"NEXT", 0x82}, {"DATA", 0x83}, {"INPUT#", 0x84},
	{"INPUT", 0x85}, {"DIM", 0x86}, {"READ", 0x87}, {"LET", 0x88}, {"GOTO", 0x89},
	{"RUN", 0x8A}, {"IF", 0x8B}, {"RESTORE", 0x8C}, {"GOSUB", 0x8D}, {"RETURN", 0x8E},
	{"REM", 0x8F}, {"STOP", 0x90}, {"ON", 0x91}, {"WAIT", 0x92}, {"LOAD", 0x93},
	{"SAVE", 0x94}, {"VERIFY", 0x95}, {"DEF", 0x96}, {"POKE", 0x97}, {"PRINT#", 0x98},
	{"PRINT", 0x99}, {"CONT", 0x9A}, {"LIST", 0x9B}, {"CLR", 0x9C}, {"CMD", 0x9D},
	{"SYS", 0x9E}, {"OPEN", 0x9F}, {"CLOSE", 0xA0}, {"GET", 0xA1}, {"NEW", 0xA2},
	{"TAB(", 0xA3}, {"TO", 0xA4}, {"FN", 0xA5}, {"SPC(", 0xA6}, {"THEN", 0xA7},
	{"NOT", 0xA8}, {"STEP", 0xA9}, {"+", 0xAA}, {"-", 0xAB}, {"*", 0xAC}, {"/", 0xAD},
	{"^", 0xAE}, {"AND", 0xAF}, {"OR", 0xB0}, {">", 0xB1}, {"=", 0xB2}, {"<", 0xB3},
	{"SGN", 0xB4}, {"INT", 0xB5}, {"ABS", 0xB6}, {"USR", 0xB7}, {"FRE", 0xB8},
	{"POS", 0xB9}, {"SQR", 0xBA}, {"RND", 0xBB}, {"LOG", 0xBC}, {"EXP", 0xBD},
	{"COS", 0xBE}, {"SIN", 0xBF}, {"TAN", 0xC0}, {"ATN", 0xC1}, {"PEEK", 0xC2},
	{"LEN", 0xC3}, {"STR$", 0xC4}, {"VAL", 0xC5}, {"ASC", 0xC6}, {"CHR$", 0xC7},
	{"LEFT$", 0xC8}, {"RIGHT$", 0xC9}, {"MID$", 0xCA}, {"GO", 0xCB},
}

type entry struct {
	word string
	code byte
}

// TokenTable maps BASIC keywords to their single-byte codes.
// It is read-only after NewTokenTable returns and safe for concurrent use.
type TokenTable struct {
	byLength []entry // longest keyword first
	byCode   map[byte]string
}

// NewTokenTable builds the BASIC V2 keyword table.
func NewTokenTable() *TokenTable {
	t := &TokenTable{byCode: make(map[byte]string, len(v2Keywords))}
	for _, kw := range v2Keywords {
		t.byLength = append(t.byLength, entry{word: kw.word, code: kw.code})
		t.byCode[kw.code] = kw.word
	}
	sort.SliceStable(t.byLength, func(i, j int) bool {
		return len(t.byLength[i].word) > len(t.byLength[j].word)
	})
	return t
}

// Lookup matches the longest keyword at the start of text, ignoring case.
// It returns the keyword's code and the number of bytes consumed.
func (t *TokenTable) Lookup(text string) (code byte, n int, ok bool) {
	for _, e := range t.byLength {
		if len(text) < len(e.word) {
			continue
		}
		if strings.EqualFold(text[:len(e.word)], e.word) {
			return e.code, len(e.word), true
		}
	}
	return 0, 0, false
}

// Keyword returns the keyword text for a token code.
func (t *TokenTable) Keyword(code byte) (string, bool) {
	w, ok := t.byCode[code]
	return w, ok
}
