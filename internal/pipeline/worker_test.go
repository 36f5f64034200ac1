package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
	"github.com/nesfrk81/ultimate64-sid-player/internal/config"
	"github.com/nesfrk81/ultimate64-sid-player/internal/extract"
)

type call struct {
	path string
	wait time.Duration
}

type result struct {
	data []byte
	err  error
}

// scriptedExtractor returns results in order and records each call.
type scriptedExtractor struct {
	mu      sync.Mutex
	results []result
	calls   []call
}

func (s *scriptedExtractor) ExtractWithWait(ctx context.Context, p string, wait time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{p, wait})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.results) == 0 {
		return nil, &extract.Error{Kind: extract.KindTimeout, Path: p}
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.data, r.err
}

func timeout(p string) error { return &extract.Error{Kind: extract.KindTimeout, Path: p} }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestWorker(ex Extractor, local string) *Worker {
	w := NewWorker(ex, discard(), WorkerOptions{Wait: time.Second, RetryWait: 3 * time.Second, LocalPlaylist: local})
	w.backoff = func(int) time.Duration { return time.Millisecond }
	return w
}

func TestWorker_Success(t *testing.T) {
	ex := &scriptedExtractor{results: []result{{data: []byte("COMMANDO.SID\rDELTA.SID\r")}}}
	job := NewJob("/USB0/MUSIC/SIDFILES.TXT")
	newTestWorker(ex, "").Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (%v)", snap.Status, snap.Progress.Errors)
	}
	pl := job.Playlist()
	if pl == nil || len(pl.Entries) != 2 {
		t.Fatalf("expected 2 playlist entries, got %+v", pl)
	}
	if pl.Base != "/USB0/MUSIC" {
		t.Errorf("expected base from list location, got %q", pl.Base)
	}
	if ex.calls[0].wait != time.Second {
		t.Errorf("expected first wait 1s, got %s", ex.calls[0].wait)
	}
}

func TestWorker_RetriesTimeoutOnceWithLongerWait(t *testing.T) {
	ex := &scriptedExtractor{results: []result{
		{err: timeout("/USB0/SIDFILES.TXT")},
		{data: []byte("A.SID\r")},
	}}
	job := NewJob("/USB0/SIDFILES.TXT")
	newTestWorker(ex, "").Process(context.Background(), job)

	if job.Snapshot().Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", job.Snapshot().Status)
	}
	if len(ex.calls) != 2 || ex.calls[1].wait != 3*time.Second {
		t.Errorf("expected retry with 3s wait, got %+v", ex.calls)
	}
	if job.Snapshot().Progress.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", job.Snapshot().Progress.Attempts)
	}
}

func TestWorker_TriesNextCandidateAfterTimeouts(t *testing.T) {
	ex := &scriptedExtractor{results: []result{
		{err: timeout("a")},
		{err: timeout("a")},
		{data: []byte("A.SID\r")},
	}}
	job := NewJob("/USB0/SIDFILES.TXT", "/USB0/SIDFILES.TXT.SEQ")
	newTestWorker(ex, "").Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted || snap.Source != "/USB0/SIDFILES.TXT.SEQ" {
		t.Fatalf("unexpected result %+v", snap)
	}
}

func TestWorker_FallsBackToLocalPlaylist(t *testing.T) {
	local := filepath.Join(t.TempDir(), "sidfiles.txt")
	if err := os.WriteFile(local, []byte("PATH: /USB1/HVSC\nX.SID\nY.SID\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ex := &scriptedExtractor{}
	job := NewJob("/USB0/SIDFILES.TXT")
	newTestWorker(ex, local).Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusFallback || snap.Source != SourceLocal {
		t.Fatalf("expected local fallback, got %+v", snap)
	}
	if len(ex.calls) != 2 {
		t.Errorf("expected one retry before fallback, got %d calls", len(ex.calls))
	}
	if pl := job.Playlist(); pl == nil || pl.Base != "/USB1/HVSC" || len(pl.Entries) != 2 {
		t.Errorf("unexpected playlist %+v", pl)
	}
}

func TestWorker_NoFallbackForOtherErrors(t *testing.T) {
	local := filepath.Join(t.TempDir(), "sidfiles.txt")
	os.WriteFile(local, []byte("X.SID\n"), 0o644)

	ex := &scriptedExtractor{results: []result{
		{err: &extract.Error{Kind: extract.KindTruncated, Path: "p"}},
	}}
	job := NewJob("/USB0/SIDFILES.TXT", "/USB0/SIDFILES.TXT.SEQ")
	newTestWorker(ex, local).Process(context.Background(), job)

	if s := job.Snapshot().Status; s != StatusFailed {
		t.Fatalf("expected failed, got %q", s)
	}
	if len(ex.calls) != 1 {
		t.Errorf("expected no further attempts, got %d", len(ex.calls))
	}
}

func TestWorker_FormatErrorIsNotRetried(t *testing.T) {
	ex := &scriptedExtractor{results: []result{{err: &basic.FormatError{Msg: "quote in path"}}}}
	job := NewJob(`/USB0/A"B.TXT`)
	newTestWorker(ex, "").Process(context.Background(), job)

	if s := job.Snapshot().Status; s != StatusFailed {
		t.Fatalf("expected failed, got %q", s)
	}
	if len(ex.calls) != 1 {
		t.Errorf("expected a single attempt, got %d", len(ex.calls))
	}
}

func TestWorker_UploadErrorsBackOff(t *testing.T) {
	upload := &extract.Error{Kind: extract.KindUpload, Path: "p", Err: errors.New("refused")}
	ex := &scriptedExtractor{results: []result{{err: upload}, {err: upload}, {data: []byte("A.SID\n")}}}
	job := NewJob("/USB0/SIDFILES.TXT")
	newTestWorker(ex, "").Process(context.Background(), job)

	if s := job.Snapshot().Status; s != StatusCompleted {
		t.Fatalf("expected completed, got %q", s)
	}
	if len(ex.calls) != 3 {
		t.Errorf("expected 3 calls, got %d", len(ex.calls))
	}
}

func TestWorker_UploadRetriesAreBounded(t *testing.T) {
	upload := &extract.Error{Kind: extract.KindUpload, Path: "p"}
	var results []result
	for range 10 {
		results = append(results, result{err: upload})
	}
	ex := &scriptedExtractor{results: results}
	job := NewJob("/USB0/SIDFILES.TXT")
	newTestWorker(ex, "").Process(context.Background(), job)

	if s := job.Snapshot().Status; s != StatusFailed {
		t.Fatalf("expected failed, got %q", s)
	}
	if len(ex.calls) != MaxRetries+1 {
		t.Errorf("expected %d calls, got %d", MaxRetries+1, len(ex.calls))
	}
}

func TestWorker_NonPlaylistContent(t *testing.T) {
	ex := &scriptedExtractor{results: []result{{data: []byte{1, 2, 3}}}}
	job := NewJob("/USB0/GAME.PRG")
	newTestWorker(ex, "").Process(context.Background(), job)

	if s := job.Snapshot().Status; s != StatusCompleted {
		t.Fatalf("expected completed, got %q", s)
	}
	if job.Playlist() != nil {
		t.Error("expected no playlist for a .PRG file")
	}
	if len(job.Content()) != 3 {
		t.Errorf("expected raw content kept")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&extract.Error{Kind: extract.KindUpload}) {
		t.Error("expected upload errors to be retryable")
	}
	if IsRetryable(timeout("p")) {
		t.Error("expected timeouts not to be retried with backoff")
	}
	if IsRetryable(errors.New("other")) {
		t.Error("expected plain errors not to be retryable")
	}
}

func TestBackoff(t *testing.T) {
	for attempt := range 8 {
		d := Backoff(attempt)
		if d < time.Second || d > 45*time.Second {
			t.Errorf("Backoff(%d) = %s out of range", attempt, d)
		}
	}
}

func TestOrchestrator_RunsJobsInOrder(t *testing.T) {
	ex := &scriptedExtractor{results: []result{{data: []byte("A.SID\n")}, {data: []byte("B.SID\n")}}}
	cfg := config.Config{JobTTL: time.Hour, MaxQueueSize: 4, ExtractWait: time.Millisecond}
	o := NewOrchestrator(cfg, ex, discard())
	o.Start(context.Background())

	first, second := NewJob("/USB0/A.TXT"), NewJob("/USB0/B.TXT")
	for _, j := range []*Job{first, second} {
		if err := o.Submit(j); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	deadline := time.Now().Add(5 * time.Second)
	for !o.GetJob(second.ID).Snapshot().Status.Done() {
		if time.Now().After(deadline) {
			t.Fatal("jobs did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
	o.Stop()

	if ex.calls[0].path != "/USB0/A.TXT" || ex.calls[1].path != "/USB0/B.TXT" {
		t.Errorf("unexpected call order %+v", ex.calls)
	}
	if err := o.Submit(NewJob("/USB0/C.TXT")); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	cfg := config.Config{JobTTL: time.Hour, MaxQueueSize: 1}
	o := NewOrchestrator(cfg, &scriptedExtractor{}, discard())
	// Not started: nothing drains the queue.
	if err := o.Submit(NewJob("/USB0/A.TXT")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := NewJob("/USB0/B.TXT")
	if err := o.Submit(job); err == nil {
		t.Fatal("expected queue full error")
	}
	if job.Snapshot().Status != StatusFailed {
		t.Errorf("expected rejected job to be failed")
	}
}
