package player

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/playlist"
	"github.com/nesfrk81/ultimate64-sid-player/internal/ultimate"
)

type fakeController struct {
	mu       sync.Mutex
	played   []string
	stopped  int
	fail     map[string]bool
	duration map[string]int
}

func (f *fakeController) PlaySID(_ context.Context, path string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[path] {
		return errors.New("no such file")
	}
	f.played = append(f.played, path)
	return nil
}

func (f *fakeController) StopSID(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeController) FileInfo(_ context.Context, path string) (*ultimate.FileInfo, error) {
	if d, ok := f.duration[path]; ok {
		return &ultimate.FileInfo{Path: path, Duration: d}, nil
	}
	return nil, nil
}

func (f *fakeController) Played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.played)
}

func entries(paths ...string) []playlist.Entry {
	out := make([]playlist.Entry, len(paths))
	for i, p := range paths {
		out[i] = playlist.Entry{Path: p}
	}
	return out
}

func newTestPlayer(dev Controller) *Player {
	return New(dev, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitDone(t *testing.T, p *Player) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestPlayer_PlaysAllInOrder(t *testing.T) {
	dev := &fakeController{}
	p := newTestPlayer(dev)
	list := entries("/USB0/A.SID", "/USB0/B.SID", "/USB0/C.SID")
	if err := p.Start(context.Background(), list, Options{Duration: 5 * time.Millisecond}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, p)

	if got := dev.Played(); !slices.Equal(got, []string{"/USB0/A.SID", "/USB0/B.SID", "/USB0/C.SID"}) {
		t.Errorf("unexpected play order %v", got)
	}
	st := p.Snapshot()
	if st.Playing || st.Played != 3 || st.Failed != 0 {
		t.Errorf("unexpected final state %+v", st)
	}
}

func TestPlayer_FailedTunesAreSkipped(t *testing.T) {
	dev := &fakeController{fail: map[string]bool{"/USB0/B.SID": true}}
	p := newTestPlayer(dev)
	opts := Options{Duration: time.Millisecond, FailurePause: time.Millisecond}
	p.Start(context.Background(), entries("/USB0/A.SID", "/USB0/B.SID", "/USB0/C.SID"), opts)
	waitDone(t, p)

	if got := dev.Played(); !slices.Equal(got, []string{"/USB0/A.SID", "/USB0/C.SID"}) {
		t.Errorf("unexpected plays %v", got)
	}
	if st := p.Snapshot(); st.Failed != 1 {
		t.Errorf("expected 1 failure, got %d", st.Failed)
	}
}

func TestPlayer_SkipAndStop(t *testing.T) {
	dev := &fakeController{}
	p := newTestPlayer(dev)
	p.Start(context.Background(), entries("/USB0/A.SID", "/USB0/B.SID"), Options{Duration: time.Hour})

	waitFor(t, func() bool { return len(dev.Played()) == 1 })
	if err := p.Skip(); err != nil {
		t.Fatalf("skip: %v", err)
	}
	waitFor(t, func() bool { return len(dev.Played()) == 2 })

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.Snapshot().Playing {
		t.Error("expected playback stopped")
	}
	if dev.stopped != 1 {
		t.Errorf("expected device stop, got %d", dev.stopped)
	}
	if err := p.Skip(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("expected ErrNotPlaying, got %v", err)
	}
}

func TestPlayer_LoopRepeats(t *testing.T) {
	dev := &fakeController{}
	p := newTestPlayer(dev)
	p.Start(context.Background(), entries("/USB0/A.SID", "/USB0/B.SID"), Options{Duration: time.Millisecond, Loop: true})

	waitFor(t, func() bool { return len(dev.Played()) >= 5 })
	p.Stop(context.Background())
	if st := p.Snapshot(); st.Round < 3 {
		t.Errorf("expected at least 3 rounds, got %d", st.Round)
	}
}

func TestPlayer_ShufflePlaysEveryEntry(t *testing.T) {
	dev := &fakeController{}
	p := newTestPlayer(dev)
	paths := []string{"/A.SID", "/B.SID", "/C.SID", "/D.SID", "/E.SID"}
	p.Start(context.Background(), entries(paths...), Options{Duration: time.Millisecond, Shuffle: true})
	waitDone(t, p)

	got := dev.Played()
	slices.Sort(got)
	if !slices.Equal(got, paths) {
		t.Errorf("expected each entry once, got %v", got)
	}
}

func TestPlayer_StartReplacesSession(t *testing.T) {
	dev := &fakeController{}
	p := newTestPlayer(dev)
	p.Start(context.Background(), entries("/USB0/A.SID"), Options{Duration: time.Hour})
	waitFor(t, func() bool { return len(dev.Played()) == 1 })
	first := p.Done()

	p.Start(context.Background(), entries("/USB0/B.SID"), Options{Duration: time.Hour})
	select {
	case <-first:
	default:
		t.Error("expected first session to have ended")
	}
	waitFor(t, func() bool { return len(dev.Played()) == 2 })
	if st := p.Snapshot(); st.Current != "/USB0/B.SID" {
		t.Errorf("expected second session current, got %q", st.Current)
	}
	p.Stop(context.Background())
}

func TestPlayer_EmptyPlaylist(t *testing.T) {
	p := newTestPlayer(&fakeController{})
	if err := p.Start(context.Background(), nil, Options{}); !errors.Is(err, ErrEmptyPlaylist) {
		t.Errorf("expected ErrEmptyPlaylist, got %v", err)
	}
}

func TestPlayer_Duration(t *testing.T) {
	dev := &fakeController{duration: map[string]int{"/USB0/INFO.SID": 95}}
	p := newTestPlayer(dev)
	tests := []struct {
		name  string
		entry playlist.Entry
		opts  Options
		want  time.Duration
	}{
		{"option wins", playlist.Entry{Path: "/USB0/INFO.SID", Duration: time.Minute}, Options{Duration: 2 * time.Minute}, 2 * time.Minute},
		{"entry", playlist.Entry{Path: "/USB0/INFO.SID", Duration: time.Minute}, Options{}, time.Minute},
		{"file info", playlist.Entry{Path: "/USB0/INFO.SID"}, Options{}, 95 * time.Second},
		{"default", playlist.Entry{Path: "/USB0/NONE.SID"}, Options{}, DefaultDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.duration(context.Background(), tt.entry, tt.opts); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestState_Remaining(t *testing.T) {
	now := time.Now()
	st := State{Playing: true, Duration: time.Minute, StartedAt: now.Add(-20 * time.Second)}
	if got := st.Remaining(now); got != 40*time.Second {
		t.Errorf("expected 40s, got %s", got)
	}
	st.StartedAt = now.Add(-2 * time.Minute)
	if got := st.Remaining(now); got != 0 {
		t.Errorf("expected 0 after the end, got %s", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
