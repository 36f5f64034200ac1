package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
)

// Str is a BASIC string literal. BASIC has no escape sequences, so Quote is
// the only way to build one and it refuses anything that would end the
// literal or the line early.
type Str struct{ s string }

// Quote validates s for use inside a string literal.
func Quote(s string) (Str, error) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			return Str{}, &basic.FormatError{Msg: fmt.Sprintf("quote character in %q", s)}
		case c < 0x20 || c >= 0x7F:
			return Str{}, &basic.FormatError{Msg: fmt.Sprintf("unprintable byte %#02x in %q", c, s)}
		}
	}
	return Str{s: s}, nil
}

func (s Str) String() string { return `"` + s.s + `"` }

// Stmt is one BASIC statement.
type Stmt interface {
	render(labels map[string]uint16) (string, error)
}

type (
	// Rem is a comment.
	Rem string
	// Open opens a logical file on an IEC unit.
	Open struct {
		File, Unit, Secondary int
		Name                  Str
	}
	// Close closes a logical file.
	Close int
	// Let assigns an expression to a variable.
	Let struct{ Var, Expr string }
	// Get reads one character from a logical file into a string variable.
	Get struct {
		File int
		Var  string
	}
	// Poke stores a byte value at an address.
	Poke struct{ Addr, Value string }
	// If runs Then when Cond is true.
	If struct {
		Cond string
		Then []Stmt
	}
	// Goto jumps to a labelled block.
	Goto string
	// End stops the program.
	End struct{}
)

func (r Rem) render(map[string]uint16) (string, error) { return "REM " + string(r), nil }

func (o Open) render(map[string]uint16) (string, error) {
	return fmt.Sprintf("OPEN %d,%d,%d,%s", o.File, o.Unit, o.Secondary, o.Name), nil
}

func (c Close) render(map[string]uint16) (string, error) { return fmt.Sprintf("CLOSE %d", int(c)), nil }

func (l Let) render(map[string]uint16) (string, error) { return l.Var + "=" + l.Expr, nil }

func (g Get) render(map[string]uint16) (string, error) {
	return fmt.Sprintf("GET#%d,%s", g.File, g.Var), nil
}

func (p Poke) render(map[string]uint16) (string, error) { return "POKE " + p.Addr + "," + p.Value, nil }

func (i If) render(labels map[string]uint16) (string, error) {
	then, err := renderStmts(i.Then, labels)
	if err != nil {
		return "", err
	}
	return "IF " + i.Cond + " THEN " + then, nil
}

func (g Goto) render(labels map[string]uint16) (string, error) {
	n, ok := labels[string(g)]
	if !ok {
		return "", fmt.Errorf("undefined label %q", string(g))
	}
	return "GOTO " + strconv.Itoa(int(n)), nil
}

func (End) render(map[string]uint16) (string, error) { return "END", nil }

func renderStmts(stmts []Stmt, labels map[string]uint16) (string, error) {
	parts := make([]string, 0, len(stmts))
	for _, s := range stmts {
		text, err := s.render(labels)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, ":"), nil
}

// Block is one numbered program line, optionally labelled as a jump target.
type Block struct {
	Label string
	Stmts []Stmt
}

// Program is a sequence of blocks numbered from Start in steps of Step.
type Program struct {
	Start, Step uint16
	Blocks      []Block
}

// Lines numbers the blocks, resolves labels and renders each line.
func (p *Program) Lines() ([]basic.Line, error) {
	start, step := p.Start, p.Step
	if start == 0 {
		start = 10
	}
	if step == 0 {
		step = 10
	}
	if last := int(start) + int(step)*(len(p.Blocks)-1); last > basic.MaxLineNumber {
		return nil, &basic.FormatError{Msg: "program has too many lines"}
	}

	labels := make(map[string]uint16)
	for i, b := range p.Blocks {
		if b.Label == "" {
			continue
		}
		if _, dup := labels[b.Label]; dup {
			return nil, fmt.Errorf("duplicate label %q", b.Label)
		}
		labels[b.Label] = start + uint16(i)*step
	}

	lines := make([]basic.Line, 0, len(p.Blocks))
	for i, b := range p.Blocks {
		text, err := renderStmts(b.Stmts, labels)
		if err != nil {
			return nil, err
		}
		lines = append(lines, basic.Line{Number: start + uint16(i)*step, Text: text})
	}
	return lines, nil
}

// Source renders the program as text.
func (p *Program) Source() (string, error) {
	lines, err := p.Lines()
	if err != nil {
		return "", err
	}
	return basic.FormatSource(lines), nil
}
