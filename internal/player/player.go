// Package player plays a list of SID files on the device, one after another.
package player

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/playlist"
	"github.com/nesfrk81/ultimate64-sid-player/internal/ultimate"
)

// DefaultDuration is used when neither the options nor the device know how
// long a tune lasts.
const DefaultDuration = 180 * time.Second

var (
	ErrEmptyPlaylist = errors.New("playlist has no entries")
	ErrNotPlaying    = errors.New("nothing is playing")
)

// Controller is the part of the device API playback needs.
type Controller interface {
	PlaySID(ctx context.Context, path string, song int) error
	StopSID(ctx context.Context) error
	FileInfo(ctx context.Context, path string) (*ultimate.FileInfo, error)
}

// Options controls a playback session.
type Options struct {
	Duration     time.Duration `json:"duration,omitempty"` // overrides every other source
	Song         int           `json:"song,omitempty"`     // default sub-tune, 1 if unset
	Shuffle      bool          `json:"shuffle,omitempty"`  // reshuffled every round
	Loop         bool          `json:"loop,omitempty"`
	FailurePause time.Duration `json:"-"` // pause after a tune the device refused
}

// State describes the session for status output.
type State struct {
	Playing   bool          `json:"playing"`
	Round     int           `json:"round"`
	Index     int           `json:"index"` // 1-based position in the current round
	Total     int           `json:"total"`
	Current   string        `json:"current,omitempty"`
	Song      int           `json:"song,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Played    int           `json:"played"`
	Failed    int           `json:"failed"`
}

// Remaining returns the time left on the current tune.
func (s State) Remaining(now time.Time) time.Duration {
	if !s.Playing || s.StartedAt.IsZero() {
		return 0
	}
	return max(s.Duration-now.Sub(s.StartedAt), 0)
}

// Player runs at most one playback session at a time.
type Player struct {
	dev Controller
	log *slog.Logger

	ctl sync.Mutex // serializes Start and Stop

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	skip   chan struct{}
	done   chan struct{}
}

func New(dev Controller, log *slog.Logger) *Player {
	return &Player{dev: dev, log: log}
}

// Start replaces any running session with one playing entries. The session
// lives until it finishes, Stop is called or ctx is done.
func (p *Player) Start(ctx context.Context, entries []playlist.Entry, opts Options) error {
	if len(entries) == 0 {
		return ErrEmptyPlaylist
	}
	if opts.Song <= 0 {
		opts.Song = 1
	}
	if opts.FailurePause <= 0 {
		opts.FailurePause = 2 * time.Second
	}
	p.ctl.Lock()
	defer p.ctl.Unlock()
	p.halt()

	sctx, cancel := context.WithCancel(ctx)
	skip := make(chan struct{}, 1)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel, p.skip, p.done = cancel, skip, done
	p.state = State{Playing: true, Total: len(entries)}
	p.mu.Unlock()

	p.log.Info("playback started", "entries", len(entries), "shuffle", opts.Shuffle, "loop", opts.Loop)
	go func() {
		defer close(done)
		defer cancel()
		p.run(sctx, slices.Clone(entries), opts, skip)
		p.mu.Lock()
		p.state.Playing = false
		p.mu.Unlock()
	}()
	return nil
}

// Skip ends the current tune early.
func (p *Player) Skip() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Playing {
		return ErrNotPlaying
	}
	select {
	case p.skip <- struct{}{}:
	default:
	}
	return nil
}

// Stop ends the session and silences the device.
func (p *Player) Stop(ctx context.Context) error {
	p.ctl.Lock()
	p.halt()
	p.ctl.Unlock()
	if err := p.dev.StopSID(ctx); err != nil {
		return err
	}
	p.log.Info("playback stopped")
	return nil
}

// Snapshot returns the current session state.
func (p *Player) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed when the current session ends. It is nil before the
// first Start.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// halt cancels the running session and waits for it to exit.
func (p *Player) halt() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Player) run(ctx context.Context, entries []playlist.Entry, opts Options, skip <-chan struct{}) {
	for round := 1; ; round++ {
		if opts.Shuffle {
			rand.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
		}
		for i, e := range entries {
			if ctx.Err() != nil {
				return
			}
			song := e.Song
			if song <= 0 {
				song = opts.Song
			}
			d := p.duration(ctx, e, opts)
			log := p.log.With("path", e.Path, "song", song)

			p.mu.Lock()
			p.state.Round, p.state.Index = round, i+1
			p.state.Current, p.state.Song, p.state.Duration = e.Path, song, d
			p.state.StartedAt = time.Time{}
			p.mu.Unlock()

			if err := p.dev.PlaySID(ctx, e.Path, song); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("play failed, skipping", "error", err)
				p.mu.Lock()
				p.state.Failed++
				p.mu.Unlock()
				if !wait(ctx, opts.FailurePause, nil) {
					return
				}
				continue
			}
			log.Info("playing", "name", path.Base(e.Path), "duration", d.String(), "index", i+1, "total", len(entries))
			p.mu.Lock()
			p.state.StartedAt = time.Now()
			p.state.Played++
			p.mu.Unlock()

			if !wait(ctx, d, skip) {
				return
			}
		}
		if !opts.Loop {
			return
		}
		p.log.Info("restarting playlist", "round", round+1)
	}
}

// duration picks the play time for e: the option, then the entry, then the
// device's file info, then DefaultDuration.
func (p *Player) duration(ctx context.Context, e playlist.Entry, opts Options) time.Duration {
	if opts.Duration > 0 {
		return opts.Duration
	}
	if e.Duration > 0 {
		return e.Duration
	}
	info, err := p.dev.FileInfo(ctx, e.Path)
	if err != nil {
		p.log.Debug("file info unavailable", "path", e.Path, "error", err)
	}
	if info != nil && info.Duration > 0 {
		return time.Duration(info.Duration) * time.Second
	}
	return DefaultDuration
}

// wait sleeps for d, returning early on a skip. It reports false when ctx
// ended the wait.
func wait(ctx context.Context, d time.Duration, skip <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-skip:
		return true
	case <-ctx.Done():
		return false
	}
}
