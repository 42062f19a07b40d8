package api

import (
	"net/http"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue_depth": s.orchestrator.QueueDepth(),
		"queue_size":  s.cfg.MaxQueueSize,
		"workers":     s.cfg.WorkerCount,
		"latency":     s.orchestrator.Stats(),
	})
}
