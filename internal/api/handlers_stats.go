package api

import (
	"net/http"
)

func (s *Server) handleExtractStats(w http.ResponseWriter, r *http.Request) {
	opts := s.extractor.Options()
	writeJSON(w, http.StatusOK, map[string]any{
		"queue_depth": s.orchestrator.QueueDepth(),
		"window": map[string]int{
			"base":       int(opts.Window.Base),
			"count_cell": int(opts.Window.CountCell),
			"capacity":   opts.Window.Capacity(),
		},
		"stats": s.extractor.Stats().Snapshot(),
	})
}
