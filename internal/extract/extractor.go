// Package extract retrieves file content from the device by running a
// generated loader program and reading its memory window back.
package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
	"github.com/nesfrk81/ultimate64-sid-player/internal/loader"
)

// Device is the part of the device API the extraction needs.
type Device interface {
	RunPRG(ctx context.Context, prg []byte) error
	ReadMemory(ctx context.Context, addr uint16, length int) ([]byte, error)
}

// MemoryWriter is implemented by devices that accept memory writes. When
// available, the count cells are seeded with loader.CountSentinel before
// upload so a loader that never finished is told apart from an empty file.
//
// Exact results need a writable device. Without seeding, a loader that fails
// to open the file leaves the previous run's count and window in place, and
// that stale content is returned as if it were fresh.
type MemoryWriter interface {
	WriteMemory(ctx context.Context, addr uint16, data []byte) error
}

// Resetter is implemented by devices that can reset the machine. With
// Options.ResetFirst the loader starts from a freshly reset machine.
type Resetter interface {
	Reset(ctx context.Context) error
}

// State is a step of an extraction attempt.
type State int

const (
	StateUploading State = iota
	StateRunning
	StateWaiting
	StateReading
	StateAssembling
	StateDone
	StateFailed
)

var stateNames = [...]string{"uploading", "running", "waiting", "reading", "assembling", "done", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options controls an Extractor.
type Options struct {
	Window      loader.Window
	Drives      loader.DriveTable
	LoadAddress uint16
	Wait        time.Duration // delay between starting the loader and reading
	ChunkSize   int           // bytes per memory read
	MaxChunks   int           // reads allowed per attempt
	ResetFirst  bool          // reset the machine before each upload
	ResetSettle time.Duration // pause after the reset
}

// DefaultOptions reads the default window in 256-byte chunks after 8 seconds.
func DefaultOptions() Options {
	return Options{
		Window:      loader.DefaultWindow(),
		Drives:      loader.DefaultDrives(),
		LoadAddress: basic.DefaultLoadAddress,
		Wait:        8 * time.Second,
		ChunkSize:   256,
		MaxChunks:   16,
	}
}

// Extractor runs extraction attempts against one device.
// Attempts must not overlap: the device has a single memory window.
type Extractor struct {
	dev   Device
	tok   *basic.Tokenizer
	opts  Options
	log   *slog.Logger
	stats *Stats
}

func NewExtractor(dev Device, table *basic.TokenTable, opts Options, log *slog.Logger) *Extractor {
	def := DefaultOptions()
	if opts.LoadAddress == 0 {
		opts.LoadAddress = def.LoadAddress
	}
	if opts.Window == (loader.Window{}) {
		opts.Window = def.Window
	}
	if opts.Drives == (loader.DriveTable{}) {
		opts.Drives = def.Drives
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = def.MaxChunks
	}
	return &Extractor{
		dev:   dev,
		tok:   &basic.Tokenizer{Table: table, LoadAddress: opts.LoadAddress},
		opts:  opts,
		log:   log,
		stats: NewStats(time.Hour),
	}
}

// Stats returns the extractor's latency and outcome statistics.
func (e *Extractor) Stats() *Stats { return e.stats }

// Options returns the effective options.
func (e *Extractor) Options() Options { return e.opts }

// LoaderImage builds the program image that copies devicePath into the window.
func (e *Extractor) LoaderImage(devicePath string) (*basic.Image, error) {
	prog, err := loader.Build(devicePath, e.opts.Window, e.opts.Drives)
	if err != nil {
		return nil, err
	}
	lines, err := prog.Lines()
	if err != nil {
		return nil, err
	}
	img, err := e.tok.Tokenize(lines)
	if err != nil {
		return nil, err
	}
	if err := e.opts.Window.Validate(img.End()); err != nil {
		return nil, &basic.FormatError{Msg: err.Error()}
	}
	return img, nil
}

// Extract retrieves the content of devicePath using the configured wait.
func (e *Extractor) Extract(ctx context.Context, devicePath string) ([]byte, error) {
	return e.ExtractWithWait(ctx, devicePath, e.opts.Wait)
}

// ExtractWithWait retrieves the content of devicePath, waiting wait between
// starting the loader and reading the window. It returns the file bytes, a
// *basic.FormatError, a *Error, or the context's error.
func (e *Extractor) ExtractWithWait(ctx context.Context, devicePath string, wait time.Duration) ([]byte, error) {
	start := time.Now()
	s := &session{
		path: devicePath,
		wait: wait,
		log:  e.log.With("path", devicePath),
	}
	data, err := e.run(ctx, s)
	if err != nil {
		s.enter(StateFailed)
		s.log.Warn("extraction failed", "error", err)
	} else {
		s.log.Info("extraction complete", "bytes", len(data), "duration_ms", time.Since(start).Milliseconds())
	}
	e.stats.Record(outcome(err), time.Since(start).Milliseconds())
	return data, err
}

type session struct {
	path   string
	wait   time.Duration
	state  State
	seeded bool
	buf    []byte
	log    *slog.Logger
}

func (s *session) enter(st State) {
	s.state = st
	s.log.Debug("extraction state", "state", st.String())
}

func (e *Extractor) run(ctx context.Context, s *session) ([]byte, error) {
	w := e.opts.Window
	img, err := e.LoaderImage(s.path)
	if err != nil {
		return nil, err
	}

	s.enter(StateUploading)
	if r, ok := e.dev.(Resetter); ok && e.opts.ResetFirst {
		// A failed reset is logged and the upload goes ahead.
		if err := r.Reset(ctx); err != nil {
			s.log.Warn("reset before upload failed", "error", err)
		} else if err := sleep(ctx, e.opts.ResetSettle); err != nil {
			return nil, err
		}
	}
	if mw, ok := e.dev.(MemoryWriter); ok {
		seed := binary.LittleEndian.AppendUint16(nil, loader.CountSentinel)
		if err := mw.WriteMemory(ctx, w.CountCell, seed); err != nil {
			return nil, &Error{Kind: KindUpload, Path: s.path, Err: fmt.Errorf("seed count cells: %w", err)}
		}
		s.seeded = true
	}
	if err := e.dev.RunPRG(ctx, img.Bytes()); err != nil {
		return nil, &Error{Kind: KindUpload, Path: s.path, Err: err}
	}

	s.enter(StateRunning)
	s.enter(StateWaiting)
	if err := sleep(ctx, s.wait); err != nil {
		return nil, err
	}

	s.enter(StateReading)
	cells, err := e.dev.ReadMemory(ctx, w.CountCell, 2)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Path: s.path, Err: fmt.Errorf("read count cells: %w", err)}
	}
	if len(cells) != 2 {
		return nil, failure(KindProtocol, s.path, "count cells: got %d bytes, want 2", len(cells))
	}
	count := binary.LittleEndian.Uint16(cells)
	switch {
	case count == loader.CountSentinel:
		return nil, failure(KindTimeout, s.path, "loader did not finish within %s", s.wait)
	case count>>8 == loader.CountSentinel>>8:
		// Low byte stored, high byte not yet.
		return nil, failure(KindTimeout, s.path, "count cells half written after %s", s.wait)
	case count == loader.CountOverflow:
		return nil, failure(KindTruncated, s.path, "file exceeds the %d byte window", w.Capacity())
	case int(count) > w.Capacity():
		return nil, failure(KindProtocol, s.path, "count %d exceeds window capacity %d", count, w.Capacity())
	}
	// Without seeding a zero count may be left over from before the run.
	trusted := s.seeded || count != 0

	if err := e.readWindow(ctx, s, int(count), trusted); err != nil {
		return nil, err
	}

	s.enter(StateAssembling)
	data, err := assemble(s, int(count), trusted, e.opts.MaxChunks)
	if err != nil {
		return nil, err
	}
	s.enter(StateDone)
	return data, nil
}

// readWindow reads chunks from the window base until a terminator shows up,
// the trusted count is covered, the window ends or the chunk bound is hit.
func (e *Extractor) readWindow(ctx context.Context, s *session, count int, trusted bool) error {
	w := e.opts.Window
	addr := int(w.Base)
	for i := 0; i < e.opts.MaxChunks; i++ {
		n := min(e.opts.ChunkSize, int(w.Limit)-addr)
		if n <= 0 {
			break
		}
		chunk, err := e.dev.ReadMemory(ctx, uint16(addr), n)
		if err != nil {
			return &Error{Kind: KindProtocol, Path: s.path, Err: fmt.Errorf("read $%04X: %w", addr, err)}
		}
		if len(chunk) == 0 || len(chunk) > n {
			return failure(KindProtocol, s.path, "read $%04X: got %d bytes, asked for %d", addr, len(chunk), n)
		}
		s.log.Debug("read chunk", "address", addr, "bytes", len(chunk))
		s.buf = append(s.buf, chunk...)
		addr += len(chunk)

		if bytes.IndexByte(chunk, 0) >= 0 {
			break
		}
		if trusted && len(s.buf) > count {
			break
		}
	}
	return nil
}

func assemble(s *session, count int, trusted bool, maxChunks int) ([]byte, error) {
	z := bytes.IndexByte(s.buf, 0)
	if !trusted {
		switch {
		case z == 0:
			return nil, failure(KindTimeout, s.path, "window still empty after %s", s.wait)
		case z < 0:
			return nil, failure(KindTruncated, s.path, "no terminator in %d bytes (%d reads)", len(s.buf), maxChunks)
		}
		return append([]byte(nil), s.buf[:z]...), nil
	}

	if z >= 0 && z < count {
		if s.seeded {
			return nil, failure(KindProtocol, s.path, "terminator at offset %d but count is %d", z, count)
		}
		return nil, failure(KindTimeout, s.path, "count %d disagrees with terminator at %d", count, z)
	}
	if len(s.buf) < count {
		return nil, failure(KindTruncated, s.path, "read %d of %d bytes within %d reads", len(s.buf), count, maxChunks)
	}
	return append([]byte(nil), s.buf[:count]...), nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
