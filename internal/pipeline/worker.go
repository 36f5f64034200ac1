package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/basic"
	"github.com/nesfrk81/ultimate64-sid-player/internal/extract"
	"github.com/nesfrk81/ultimate64-sid-player/internal/playlist"
)

// Extractor retrieves a file from the device.
type Extractor interface {
	ExtractWithWait(ctx context.Context, devicePath string, wait time.Duration) ([]byte, error)
}

// WorkerOptions controls retries and the local fallback.
type WorkerOptions struct {
	Wait          time.Duration // first attempt
	RetryWait     time.Duration // single retry after a transfer timeout
	LocalPlaylist string        // file used when every path timed out
}

// Worker processes a single extraction job.
type Worker struct {
	ex      Extractor
	log     *slog.Logger
	opts    WorkerOptions
	backoff func(attempt int) time.Duration
}

func NewWorker(ex Extractor, log *slog.Logger, opts WorkerOptions) *Worker {
	if opts.RetryWait < opts.Wait {
		opts.RetryWait = opts.Wait
	}
	return &Worker{ex: ex, log: log, opts: opts, backoff: Backoff}
}

// Process tries each of the job's paths, falls back to the local copy if
// the device never delivered, and parses the content as a playlist.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)

	var (
		data   []byte
		source string
		err    error
	)
	for _, p := range job.Paths {
		data, err = w.fetch(ctx, job, p)
		if err == nil {
			source = p
			break
		}
		log.Warn("extraction attempt failed", "path", p, "error", err)
		if !errors.Is(err, extract.ErrTransferTimeout) {
			break
		}
	}
	if len(job.Paths) == 0 {
		err = fmt.Errorf("no path to extract")
		job.AddError(err.Error())
	}

	status := StatusCompleted
	if err != nil {
		if ctx.Err() != nil || !w.canFallBack(err) {
			job.SetStatus(StatusFailed, "extracting")
			return
		}
		data, err = os.ReadFile(w.opts.LocalPlaylist)
		if err != nil {
			log.Error("local playlist unreadable", "file", w.opts.LocalPlaylist, "error", err)
			job.AddError(fmt.Sprintf("local playlist: %s", err))
			job.SetStatus(StatusFailed, "fallback")
			return
		}
		log.Info("using local playlist", "file", w.opts.LocalPlaylist)
		source = SourceLocal
		status = StatusFallback
	}
	job.SetContent(source, data)

	job.SetStatus(StatusParsing, "parsing")
	name := source
	if source == SourceLocal {
		name = w.opts.LocalPlaylist
	}
	if base := path.Base(name); !playlist.IsSupportedExtension(base) {
		log.Info("content is not a list file, no playlist", "name", base)
	} else if p, perr := playlist.ForFile(base); perr == nil {
		pl, perr := p.Parse(bytes.NewReader(data), base)
		if perr != nil {
			log.Warn("content is not a playlist", "error", perr)
			job.AddError(fmt.Sprintf("parse: %s", perr))
		} else {
			if pl.Base == "" && source != SourceLocal {
				pl.Base = path.Dir(source)
			}
			job.SetPlaylist(pl)
		}
	}

	log.Info("job finished", "status", status, "source", source, "bytes", len(data))
	job.SetStatus(status, "done")
}

func (w *Worker) canFallBack(err error) bool {
	return w.opts.LocalPlaylist != "" && errors.Is(err, extract.ErrTransferTimeout)
}

// fetch extracts one path. A transfer timeout is retried once with the
// longer wait; upload failures are retried with backoff.
func (w *Worker) fetch(ctx context.Context, job *Job, devicePath string) ([]byte, error) {
	job.SetStatus(StatusExtracting, "extracting "+devicePath)
	wait := w.opts.Wait
	timedOut := false
	retries := 0
	for {
		job.IncrAttempts()
		data, err := w.ex.ExtractWithWait(ctx, devicePath, wait)
		if err == nil {
			return data, nil
		}
		job.AddError(err.Error())

		var fe *basic.FormatError
		switch {
		case errors.As(err, &fe), ctx.Err() != nil:
			return nil, err
		case errors.Is(err, extract.ErrTransferTimeout) && !timedOut:
			timedOut = true
			wait = w.opts.RetryWait
			job.SetStatus(StatusRetrying, "retrying "+devicePath)
		case IsRetryable(err) && retries < MaxRetries:
			if err := sleepCtx(ctx, w.backoff(retries)); err != nil {
				return nil, err
			}
			retries++
			job.SetStatus(StatusRetrying, "retrying "+devicePath)
		default:
			return nil, err
		}
	}
}
