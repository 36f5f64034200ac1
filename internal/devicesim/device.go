// Package devicesim is an in-process stand-in for the device's REST API.
// It keeps 64K of memory and a file tree, and when it is sent a loader
// program it performs the copy the program would perform on the real
// machine.
package devicesim

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
	"github.com/nesfrk81/ultimate64-sid-player/internal/loader"
)

const memSize = 0x10000

// Options configures a Device.
type Options struct {
	Files      fs.FS             // device paths map to FS paths without the leading slash
	Drives     loader.DriveTable // zero value means loader.DefaultDrives
	Delay      time.Duration     // time the "C64" takes to run a loader
	Password   string            // required X-Password header, if set
	JSONMemory bool              // answer readmem with hex JSON like older firmware
	MaxRead    int               // readmem returns at most this many bytes; 0 = no limit
	Log        *slog.Logger
}

// Device simulates one machine.
type Device struct {
	opts  Options
	table *basic.TokenTable

	mu       sync.Mutex
	mem      [memSize]byte
	programs int
	resets   int
	playing  string
	song     int
	pending  []*time.Timer

	router chi.Router
}

func New(opts Options) *Device {
	if opts.Drives == (loader.DriveTable{}) {
		opts.Drives = loader.DefaultDrives()
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	d := &Device{opts: opts, table: basic.NewTokenTable()}
	d.setupRoutes()
	return d
}

// Peek returns a copy of n bytes of memory at addr.
func (d *Device) Peek(addr uint16, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := min(int(addr)+n, len(d.mem))
	return append([]byte(nil), d.mem[addr:end]...)
}

// Programs returns how many programs have been run.
func (d *Device) Programs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.programs
}

// Resets returns how many machine resets were requested.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// Playing returns the SID file being played and its sub-tune.
func (d *Device) Playing() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing, d.song
}

// Close cancels loader runs that have not finished.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.pending {
		t.Stop()
	}
	d.pending = nil
}

// copyJob is what a loader program asks the machine to do.
type copyJob struct {
	unit      int
	dir       string
	name      string
	base      uint16
	countCell uint16
	capacity  int
}

// Each pattern matches a whole statement at the start of a line, so the
// file name echoed in the REM line cannot match.
var (
	cdRe    = regexp.MustCompile(`(?m)^\d+ OPEN 15,(\d+),15,"CD:([^"]*)"`)
	openRe  = regexp.MustCompile(`(?m)^\d+ OPEN 1,(\d+),0,"([^"]*),S,R"`)
	baseRe  = regexp.MustCompile(`(?m)^\d+ A=(\d+):N=0$`)
	limitRe = regexp.MustCompile(`(?m)^\d+ IF N<(\d+) THEN`)
	cellRe  = regexp.MustCompile(`(?m)^\d+ POKE (\d+),254:POKE (\d+),254:`)
)

// parseLoader recognizes a loader listing. ok is false for any other program.
func parseLoader(src string) (copyJob, bool) {
	cd := cdRe.FindStringSubmatch(src)
	op := openRe.FindStringSubmatch(src)
	base := baseRe.FindStringSubmatch(src)
	limit := limitRe.FindStringSubmatch(src)
	cell := cellRe.FindStringSubmatch(src)
	if cd == nil || op == nil || base == nil || limit == nil || cell == nil {
		return copyJob{}, false
	}
	num := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	job := copyJob{
		unit:      num(op[1]),
		dir:       cd[2],
		name:      op[2],
		base:      uint16(num(base[1])),
		countCell: uint16(num(cell[1])),
		capacity:  num(limit[1]),
	}
	if num(cd[1]) != job.unit || int(job.base)+job.capacity >= memSize || int(job.countCell)+2 > memSize {
		return copyJob{}, false
	}
	return job, true
}

// run loads a program image into memory and, if it is a loader, schedules
// its effect.
func (d *Device) run(prg []byte) error {
	img, err := basic.Parse(prg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	copy(d.mem[img.LoadAddress:], prg[2:])
	d.programs++
	d.mu.Unlock()

	src := basic.FormatSource(img.List(d.table))
	job, ok := parseLoader(src)
	if !ok {
		d.opts.Log.Info("program loaded", "bytes", len(prg))
		return nil
	}
	d.opts.Log.Info("loader started", "dir", job.dir, "file", job.name, "unit", job.unit)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, time.AfterFunc(d.opts.Delay, func() { d.copyFile(job) }))
	return nil
}

// copyFile performs a loader's effect. A missing file or a wrong unit leaves
// memory untouched, as OPEN fails on the real machine.
func (d *Device) copyFile(job copyJob) {
	full := path.Join(job.dir, job.name)
	if unit, err := d.opts.Drives.Resolve(full); err != nil || unit != job.unit {
		d.opts.Log.Warn("loader: drive not ready", "path", full, "unit", job.unit)
		return
	}
	data, err := d.readSEQ(full)
	if err != nil {
		d.opts.Log.Warn("loader: file not found", "path", full)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(data) > job.capacity {
		copy(d.mem[job.base:], data[:job.capacity])
		binary.LittleEndian.PutUint16(d.mem[job.countCell:], loader.CountOverflow)
		return
	}
	copy(d.mem[job.base:], data)
	d.mem[int(job.base)+len(data)] = 0
	binary.LittleEndian.PutUint16(d.mem[job.countCell:], uint16(len(data)))
}

// readSEQ reads a sequential file, which a host-side copy may carry with a
// .SEQ suffix.
func (d *Device) readSEQ(devicePath string) ([]byte, error) {
	p, err := d.lookup(devicePath)
	if err != nil {
		p, err = d.lookup(devicePath + ".SEQ")
	}
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(d.opts.Files, p)
}

// lookup maps a device path to an FS path, matching names case-insensitively
// like the device's FAT volumes.
func (d *Device) lookup(devicePath string) (string, error) {
	if d.opts.Files == nil {
		return "", fs.ErrNotExist
	}
	dir := "."
	for _, part := range strings.Split(strings.Trim(devicePath, "/"), "/") {
		entries, err := fs.ReadDir(d.opts.Files, dir)
		if err != nil {
			return "", err
		}
		found := ""
		for _, e := range entries {
			if strings.EqualFold(e.Name(), part) {
				found = e.Name()
				break
			}
		}
		if found == "" {
			return "", fmt.Errorf("%s: %w", devicePath, fs.ErrNotExist)
		}
		dir = path.Join(dir, found)
	}
	return dir, nil
}
