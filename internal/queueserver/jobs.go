package queueserver

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/moonward/moonward/internal/queue"
)

type submitJobRequest struct {
	Type                 queue.Type              `json:"type"`
	Task                 *queue.TaskPayload      `json:"task,omitempty"`
	Manifest             *queue.ManifestPayload  `json:"manifest,omitempty"`
	Priority             int                     `json:"priority,omitempty"`
	MaxAttempts          int                     `json:"maxAttempts,omitempty"`
	AffinityKey          string                  `json:"affinityKey,omitempty"`
	RequiredCapabilities []string                `json:"requiredCapabilities,omitempty"`
	QueueName            string                  `json:"queueName,omitempty"`
	Metadata             map[string]string       `json:"metadata,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}

	job, err := s.Engine.SubmitJob(queue.SubmitOptions{
		Type:                 req.Type,
		Task:                 req.Task,
		Manifest:             req.Manifest,
		Priority:             req.Priority,
		MaxAttempts:          req.MaxAttempts,
		AffinityKey:          req.AffinityKey,
		RequiredCapabilities: req.RequiredCapabilities,
		QueueName:            req.QueueName,
		Metadata:             req.Metadata,
	})
	if err != nil {
		returnAndLogError(w, err, "submit job failed")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

type claimJobRequest struct {
	WorkerID               string      `json:"workerId"`
	AdvertisedCapabilities []string    `json:"advertisedCapabilities,omitempty"`
	AllowedTypes           []queue.Type `json:"allowedTypes,omitempty"`
	AllowedRepositories    []string    `json:"allowedRepositories,omitempty"`
	LeaseSeconds           int         `json:"leaseSeconds,omitempty"`
}

const defaultLeaseTTL = 60 * time.Second

func (s *Server) handleClaimJob(w http.ResponseWriter, r *http.Request) {
	var req claimJobRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}
	if req.WorkerID == "" {
		returnAndLogError(w, &queue.InvalidPayload{Reason: "workerId is required"}, "claim failed")
		return
	}

	if gate, ok := s.Pause.(interface{ Paused() bool }); ok && gate != nil && gate.Paused() {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}

	ttl := defaultLeaseTTL
	if req.LeaseSeconds > 0 {
		ttl = time.Duration(req.LeaseSeconds) * time.Second
	}

	job, ok, err := s.Engine.ClaimJob(queue.ClaimOptions{
		WorkerID:               req.WorkerID,
		AdvertisedCapabilities: req.AdvertisedCapabilities,
		AllowedTypes:           req.AllowedTypes,
		AllowedRepositories:    req.AllowedRepositories,
		LeaseTTL:               ttl,
	})
	if err != nil {
		returnAndLogError(w, err, "claim failed")
		return
	}
	if !ok {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.Engine.GetJob(id)
	if err != nil {
		returnAndLogError(w, err, "get job failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := queue.Status(r.URL.Query().Get("status"))
	typ := queue.Type(r.URL.Query().Get("type"))
	jobs, err := s.Engine.ListJobs(status, typ)
	if err != nil {
		returnAndLogError(w, err, "list jobs failed")
		return
	}

	if r.URL.Query().Get("summary") == "true" {
		counts := map[queue.Status]int{}
		for _, j := range jobs {
			counts[j.Status]++
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "countsByStatus": counts})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

type heartbeatRequest struct {
	WorkerID     string `json:"workerId"`
	LeaseSeconds int    `json:"leaseSeconds,omitempty"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req heartbeatRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}
	ttl := defaultLeaseTTL
	if req.LeaseSeconds > 0 {
		ttl = time.Duration(req.LeaseSeconds) * time.Second
	}
	if err := s.Engine.Heartbeat(id, req.WorkerID, ttl); err != nil {
		returnAndLogError(w, err, "heartbeat failed")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req cancelRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}
	if err := s.Engine.RequestCancel(id, req.Reason); err != nil {
		returnAndLogError(w, err, "cancel failed")
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

type terminalRequest struct {
	WorkerID  string `json:"workerId"`
	Outcome   string `json:"outcome"`
	LastError string `json:"lastError,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req terminalRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}
	if err := s.Engine.ReportTerminal(id, req.WorkerID, queue.Outcome(req.Outcome), req.LastError, errKindFromString(req.ErrorKind)); err != nil {
		returnAndLogError(w, err, "terminal report failed")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	arts, err := s.Engine.ListArtifacts(id)
	if err != nil {
		returnAndLogError(w, err, "list artifacts failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": arts})
}

type appendEventRequest struct {
	Level   queue.Level            `json:"level"`
	Message string                 `json:"message"`
	Kind    queue.EventKind        `json:"kind"`
	Stage   string                 `json:"stage,omitempty"`
	Stream  queue.Stream           `json:"stream,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// handleAppendEvent lets a worker push one event into a job's durable log
// (fanning out to live SSE subscribers in the same call), the write-side
// counterpart to handleListEvents.
func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req appendEventRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}
	e, err := s.Publisher.Append(id, req.Level, req.Message, req.Kind, req.Stage, req.Stream, req.Payload)
	if err != nil {
		returnAndLogError(w, err, "append event failed")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type putArtifactRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	DataBase64  string `json:"dataBase64"`
}

// handlePutArtifact lets a worker upload one artifact's bytes, the
// write-side counterpart to handleListArtifacts/handleDownloadArtifact.
func (s *Server) handlePutArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req putArtifactRequest
	if err := decodeStrict(r, &req); err != nil {
		returnAndLogError(w, err, "invalid request body")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		returnAndLogError(w, &queue.InvalidPayload{Reason: "dataBase64 is not valid base64"}, "put artifact failed")
		return
	}
	a, err := s.Engine.PutArtifact(id, req.Name, data, req.ContentType)
	if err != nil {
		returnAndLogError(w, err, "put artifact failed")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	artifactID := vars["artifactId"]

	arts, err := s.Engine.ListArtifacts(id)
	if err != nil {
		returnAndLogError(w, err, "download artifact failed")
		return
	}
	var name string
	for _, a := range arts {
		if a.ID == artifactID {
			name = a.Name
			break
		}
	}
	if name == "" {
		http.NotFound(w, r)
		return
	}
	a, data, err := s.Engine.GetArtifact(id, name)
	if err != nil {
		returnAndLogError(w, err, "download artifact failed")
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(a.SizeBytes, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
