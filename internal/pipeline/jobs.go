package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/playlist"
)

// JobStatus represents the state of an extraction job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusExtracting JobStatus = "extracting"
	StatusRetrying   JobStatus = "retrying"
	StatusParsing    JobStatus = "parsing"
	StatusCompleted  JobStatus = "completed"
	StatusFallback   JobStatus = "fallback" // content came from the local copy
	StatusFailed     JobStatus = "failed"
)

// Done reports whether the job will not change any more.
func (s JobStatus) Done() bool {
	return s == StatusCompleted || s == StatusFallback || s == StatusFailed
}

// SourceLocal marks content read from the configured local playlist.
const SourceLocal = "local"

// Job tracks the retrieval of one file from the device.
type Job struct {
	mu sync.Mutex

	ID    string   `json:"job_id"`
	Paths []string `json:"paths"` // device paths to try, in order

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`
	Source string    `json:"source"` // path the content came from

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	content  []byte
	playlist *playlist.Playlist
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	Attempts int      `json:"attempts"`
	Bytes    int      `json:"bytes"`
	Entries  int      `json:"entries"`
	Errors   []string `json:"errors"`
}

// NewJob returns a queued job that tries paths in order.
func NewJob(paths ...string) *Job {
	now := time.Now()
	return &Job{
		ID:        newJobID(),
		Paths:     paths,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes finished jobs that have not changed within the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Done() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// IncrAttempts counts one extraction attempt.
func (j *Job) IncrAttempts() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Attempts++
	j.UpdatedAt = time.Now()
}

// SetContent stores the retrieved bytes and where they came from.
func (j *Job) SetContent(source string, data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Source = source
	j.content = data
	j.ContentHash = ContentHashHex(data)
	j.Progress.Bytes = len(data)
	j.UpdatedAt = time.Now()
}

// Content returns the retrieved bytes, or nil before the job has any.
func (j *Job) Content() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.content
}

// SetPlaylist stores the playlist parsed from the content.
func (j *Job) SetPlaylist(pl *playlist.Playlist) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.playlist = pl
	j.Progress.Entries = len(pl.Entries)
	j.UpdatedAt = time.Now()
}

// Playlist returns the parsed playlist, or nil.
func (j *Job) Playlist() *playlist.Playlist {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.playlist
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Paths       []string  `json:"paths"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Source      string    `json:"source,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Progress    Progress  `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	return JobSnapshot{
		ID:          j.ID,
		Paths:       append([]string(nil), j.Paths...),
		Status:      j.Status,
		Phase:       j.Phase,
		Source:      j.Source,
		ContentHash: j.ContentHash,
		Progress: Progress{
			Attempts: j.Progress.Attempts,
			Bytes:    j.Progress.Bytes,
			Entries:  j.Progress.Entries,
			Errors:   errs,
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
