package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/extract"
)

// IsRetryable checks if an error is worth retrying with the same wait.
// Transfer timeouts are handled separately with a longer wait.
func IsRetryable(err error) bool {
	return errors.Is(err, extract.ErrUpload)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
