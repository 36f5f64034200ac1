package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nesfrk81/ultimate64-sid-player/internal/player"
	"github.com/nesfrk81/ultimate64-sid-player/internal/playlist"
)

type playerStartRequest struct {
	JobID    string   `json:"job_id,omitempty"` // play a finished extraction's playlist
	Paths    []string `json:"paths,omitempty"`  // or these files
	Base     string   `json:"base,omitempty"`   // directory for relative names
	Duration int      `json:"duration,omitempty"`
	Song     int      `json:"song,omitempty"`
	Shuffle  bool     `json:"shuffle,omitempty"`
	Loop     bool     `json:"loop,omitempty"`
}

func (s *Server) handlePlayerStart(w http.ResponseWriter, r *http.Request) {
	var req playerStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Duration < 0 || req.Song < 0 {
		jsonError(w, "duration and song must not be negative", http.StatusBadRequest)
		return
	}

	var pl *playlist.Playlist
	switch {
	case req.JobID != "":
		job := s.orchestrator.GetJob(req.JobID)
		if job == nil {
			jsonError(w, "job not found", http.StatusNotFound)
			return
		}
		if pl = job.Playlist(); pl == nil {
			jsonError(w, "job has no playlist", http.StatusConflict)
			return
		}
	case len(req.Paths) > 0:
		pl = &playlist.Playlist{}
		for _, p := range req.Paths {
			pl.Entries = append(pl.Entries, playlist.Entry{Path: p})
		}
	default:
		jsonError(w, "job_id or paths is required", http.StatusBadRequest)
		return
	}

	opts := player.Options{
		Duration: s.cfg.SongDuration,
		Song:     req.Song,
		Shuffle:  req.Shuffle,
		Loop:     req.Loop,
	}
	if req.Duration > 0 {
		opts.Duration = time.Duration(req.Duration) * time.Second
	}
	if err := s.player.Start(s.ctx, pl.Resolve(req.Base), opts); err != nil {
		if errors.Is(err, player.ErrEmptyPlaylist) {
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, playerState(s.player.Snapshot()))
}

func (s *Server) handlePlayerSkip(w http.ResponseWriter, r *http.Request) {
	if err := s.player.Skip(); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

func (s *Server) handlePlayerStop(w http.ResponseWriter, r *http.Request) {
	if err := s.player.Stop(r.Context()); err != nil {
		s.log.Error("stop playback", "error", err)
		jsonError(w, "device: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, playerState(s.player.Snapshot()))
}

func playerState(st player.State) map[string]any {
	return map[string]any{
		"playing":           st.Playing,
		"round":             st.Round,
		"index":             st.Index,
		"total":             st.Total,
		"current":           st.Current,
		"song":              st.Song,
		"duration_seconds":  int(st.Duration.Seconds()),
		"remaining_seconds": int(st.Remaining(time.Now()).Seconds()),
		"played":            st.Played,
		"failed":            st.Failed,
	}
}
