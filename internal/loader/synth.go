// Package loader generates the BASIC program that copies a file on the
// device into a memory window the host can read back.
package loader

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
)

// Logical file numbers used by the loader.
const (
	cmdChannel  = 15
	dataChannel = 1
)

// Build returns the loader program for the file at devicePath.
func Build(devicePath string, w Window, drives DriveTable) (*Program, error) {
	if strings.ContainsRune(devicePath, '"') {
		return nil, &basic.FormatError{Msg: fmt.Sprintf("path %q contains a quote character", devicePath)}
	}
	if !strings.HasPrefix(devicePath, "/") {
		return nil, &basic.FormatError{Msg: fmt.Sprintf("path %q is not absolute", devicePath)}
	}
	if err := w.Validate(0); err != nil {
		return nil, err
	}
	unit, err := drives.Resolve(devicePath)
	if err != nil {
		return nil, err
	}

	dir, name := path.Split(path.Clean(devicePath))
	if name == "" || dir == "" {
		return nil, &basic.FormatError{Msg: fmt.Sprintf("path %q has no file name", devicePath)}
	}
	if _, err := drives.Resolve(dir); err != nil {
		return nil, &basic.FormatError{Msg: fmt.Sprintf("path %q names a drive root, not a file", devicePath)}
	}
	cd, err := Quote("CD:" + strings.TrimSuffix(dir, "/"))
	if err != nil {
		return nil, err
	}
	file, err := Quote(name + ",S,R")
	if err != nil {
		return nil, err
	}

	var (
		base  = strconv.Itoa(int(w.Base))
		lo    = strconv.Itoa(int(w.CountCell))
		hi    = strconv.Itoa(int(w.CountCell) + 1)
		limit = strconv.Itoa(w.Capacity())
		empty = Str{}
	)
	return &Program{
		Start: 10,
		Step:  10,
		Blocks: []Block{
			{Stmts: []Stmt{Rem("COPY " + strings.ToUpper(name) + " TO " + base)}},
			{Stmts: []Stmt{Open{File: cmdChannel, Unit: unit, Secondary: 15, Name: cd}, Close(cmdChannel)}},
			{Stmts: []Stmt{Open{File: dataChannel, Unit: unit, Secondary: 0, Name: file}}},
			{Stmts: []Stmt{If{Cond: "ST<>0", Then: []Stmt{Goto("done")}}}},
			{Stmts: []Stmt{Let{"A", base}, Let{"N", "0"}}},
			{Label: "read", Stmts: []Stmt{
				Get{File: dataChannel, Var: "C$"},
				Let{"S", "ST"},
				If{Cond: "C$=" + empty.String() + " AND S<>0", Then: []Stmt{Goto("eof")}},
			}},
			{Stmts: []Stmt{
				Poke{"A", "ASC(C$+CHR$(0))"},
				Let{"A", "A+1"},
				Let{"N", "N+1"},
				If{Cond: "S<>0", Then: []Stmt{Goto("eof")}},
			}},
			{Stmts: []Stmt{If{Cond: "N<" + limit, Then: []Stmt{Goto("read")}}}},
			{Stmts: []Stmt{
				Poke{lo, strconv.Itoa(int(CountOverflow & 0xFF))},
				Poke{hi, strconv.Itoa(int(CountOverflow >> 8))},
				Goto("done"),
			}},
			{Label: "eof", Stmts: []Stmt{If{Cond: "(S AND 191)<>0", Then: []Stmt{Goto("done")}}}},
			{Stmts: []Stmt{
				Poke{"A", "0"},
				Poke{lo, "N-256*INT(N/256)"},
				Poke{hi, "INT(N/256)"},
			}},
			{Label: "done", Stmts: []Stmt{Close(dataChannel), Close(cmdChannel)}},
			{Stmts: []Stmt{End{}}},
		},
	}, nil
}

// Synthesize returns the loader program for devicePath as source text.
func Synthesize(devicePath string, w Window, drives DriveTable) (string, error) {
	p, err := Build(devicePath, w, drives)
	if err != nil {
		return "", err
	}
	return p.Source()
}
