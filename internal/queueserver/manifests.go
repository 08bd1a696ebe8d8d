package queueserver

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) manifestsUnconfigured(w http.ResponseWriter) bool {
	if s.Manifests == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "manifest engine not configured"})
		return true
	}
	return false
}

func (s *Server) handleUpsertManifest(w http.ResponseWriter, r *http.Request) {
	if s.manifestsUnconfigured(w) {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		returnAndLogError(w, err, "read manifest body failed")
		return
	}
	result, err := s.Manifests.Upsert(mux.Vars(r)["name"], string(body))
	if err != nil {
		returnAndLogError(w, err, "upsert manifest failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	if s.manifestsUnconfigured(w) {
		return
	}
	result, err := s.Manifests.Get(mux.Vars(r)["name"])
	if err != nil {
		returnAndLogError(w, err, "get manifest failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type submitManifestRunRequest struct {
	Action  string      `json:"action"`
	Options interface{} `json:"options,omitempty"`
}

func (s *Server) handleSubmitManifestRun(w http.ResponseWriter, r *http.Request) {
	if s.manifestsUnconfigured(w) {
		return
	}
	var req submitManifestRunRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}
	job, err := s.Manifests.SubmitRun(mux.Vars(r)["name"], req.Action, req.Options)
	if err != nil {
		returnAndLogError(w, err, "submit manifest run failed")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}
