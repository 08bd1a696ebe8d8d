package queueserver

import "net/http"

type workerPauseRequest struct {
	Action      string `json:"action"`
	Mode        string `json:"mode,omitempty"`
	Reason      string `json:"reason"`
	ForceResume bool   `json:"forceResume,omitempty"`
}

func (s *Server) handleWorkerPauseStatus(w http.ResponseWriter, r *http.Request) {
	if s.Pause == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "worker-pause gate not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.Pause.Status())
}

func (s *Server) handleWorkerPauseApply(w http.ResponseWriter, r *http.Request) {
	if s.Pause == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "worker-pause gate not configured"})
		return
	}
	var req workerPauseRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}
	if err := s.Pause.Apply(req.Action, req.Mode, req.Reason, req.ForceResume); err != nil {
		returnAndLogError(w, err, "worker-pause transition failed")
		return
	}
	writeJSON(w, http.StatusOK, s.Pause.Status())
}
