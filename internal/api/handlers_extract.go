package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nesfrk81/ultimate64-sid-player/internal/pipeline"
	"github.com/nesfrk81/ultimate64-sid-player/internal/playlist"
)

type extractRequest struct {
	Path     string `json:"path"`
	Variants bool   `json:"variants"` // also try the .SEQ and lower-case names
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		req.Path = s.cfg.PlaylistPath
	}
	// Reject unusable paths now rather than in the worker.
	if _, err := s.extractor.LoaderImage(req.Path); err != nil {
		if !formatError(w, err) {
			jsonError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	paths := []string{req.Path}
	if req.Variants {
		paths = paths[:0]
		for _, p := range playlist.Candidates(req.Path) {
			if _, err := s.extractor.LoaderImage(p); err == nil {
				paths = append(paths, p)
			}
		}
	}

	job := pipeline.NewJob(paths...)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   pipeline.StatusQueued,
		"paths":    paths,
		"poll_url": fmt.Sprintf("/api/extract/%s/status", job.ID),
	})
}

func (s *Server) job(w http.ResponseWriter, r *http.Request) *pipeline.Job {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
	}
	return job
}

func (s *Server) handleExtractStatus(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleExtractContent(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	snap := job.Snapshot()
	data := job.Content()
	if data == nil || !snap.Status.Done() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "content not available", "status": snap.Status})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("ETag", `"`+snap.ContentHash+`"`)
	w.Header().Set("X-Content-Source", snap.Source)
	w.Write(data)
}

func (s *Server) handleExtractPlaylist(w http.ResponseWriter, r *http.Request) {
	job := s.job(w, r)
	if job == nil {
		return
	}
	snap := job.Snapshot()
	if !snap.Status.Done() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "job still running", "status": snap.Status})
		return
	}
	pl := job.Playlist()
	if pl == nil {
		jsonError(w, "job produced no playlist", http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"title":   pl.Title,
		"base":    pl.Base,
		"source":  snap.Source,
		"entries": pl.Resolve(r.URL.Query().Get("base")),
	})
}
