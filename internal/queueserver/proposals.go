package queueserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) proposalsUnconfigured(w http.ResponseWriter) bool {
	if s.Proposals == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "proposals engine not configured"})
		return true
	}
	return false
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	if s.proposalsUnconfigured(w) {
		return
	}
	q := r.URL.Query()
	result, err := s.Proposals.List(q.Get("status"), q.Get("repository"), q.Get("category"), q.Get("includeSnoozed") == "true", parseInt(q.Get("limit"), 0))
	if err != nil {
		returnAndLogError(w, err, "list proposals failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	if s.proposalsUnconfigured(w) {
		return
	}
	result, err := s.Proposals.Get(mux.Vars(r)["id"])
	if err != nil {
		returnAndLogError(w, err, "get proposal failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePromoteProposal(w http.ResponseWriter, r *http.Request) {
	if s.proposalsUnconfigured(w) {
		return
	}
	result, err := s.Proposals.Promote(mux.Vars(r)["id"])
	if err != nil {
		returnAndLogError(w, err, "promote proposal failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type proposalDismissRequest struct {
	Note string `json:"note,omitempty"`
}

func (s *Server) handleDismissProposal(w http.ResponseWriter, r *http.Request) {
	if s.proposalsUnconfigured(w) {
		return
	}
	var req proposalDismissRequest
	if r.ContentLength > 0 {
		if err := decodeStrict(r, &req); err != nil {
			returnAndLogError(w, err, "invalid request body")
			return
		}
	}
	result, err := s.Proposals.Dismiss(mux.Vars(r)["id"], req.Note)
	if err != nil {
		returnAndLogError(w, err, "dismiss proposal failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type proposalPriorityRequest struct {
	Priority string `json:"priority"`
}

func (s *Server) handleProposalPriority(w http.ResponseWriter, r *http.Request) {
	if s.proposalsUnconfigured(w) {
		return
	}
	var req proposalPriorityRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}
	result, err := s.Proposals.SetPriority(mux.Vars(r)["id"], req.Priority)

	if err != nil {
		returnAndLogError(w, err, "set proposal priority failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type proposalSnoozeRequest struct {
	Until time.Time `json:"until"`
	Note  string    `json:"note,omitempty"`
}

func (s *Server) handleSnoozeProposal(w http.ResponseWriter, r *http.Request) {
	if s.proposalsUnconfigured(w) {
		return
	}
	var req proposalSnoozeRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}
	result, err := s.Proposals.Snooze(mux.Vars(r)["id"], req.Until, req.Note)
	if err != nil {
		returnAndLogError(w, err, "snooze proposal failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUnsnoozeProposal(w http.ResponseWriter, r *http.Request) {
	if s.proposalsUnconfigured(w) {
		return
	}
	result, err := s.Proposals.Unsnooze(mux.Vars(r)["id"])
	if err != nil {
		returnAndLogError(w, err, "unsnooze proposal failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
