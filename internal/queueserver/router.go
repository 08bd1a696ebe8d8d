// Package queueserver exposes internal/queue, internal/events, and (once
// wired) internal/proposals, internal/manifest, and internal/pause over
// HTTP. Routing follows boskos/handlers.go's shape (one handler func per
// route, a shared errorToStatus switch) but uses gorilla/mux instead of a
// bare http.ServeMux so path parameters like job id are native, the way
// prow/deck routes its UI API.
package queueserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/moonward/moonward/internal/events"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/simplifypath"
)

// Server holds every dependency the HTTP surface needs.
type Server struct {
	Engine    *queue.Engine
	Publisher *events.Publisher
	Hub       *events.Hub
	Pause     PauseGate
	Proposals ProposalsGate
	Manifests ManifestsGate
}

// PauseGate is the subset of internal/pause.Gate the server calls.
type PauseGate interface {
	Status() interface{}
	Apply(action, mode, reason string, forceResume bool) error
}

// ProposalsGate is the subset of internal/proposals.Engine the server
// calls.
type ProposalsGate interface {
	List(status, repository, category string, includeSnoozed bool, limit int) (interface{}, error)
	Get(id string) (interface{}, error)
	Promote(id string) (interface{}, error)
	Dismiss(id string, note string) (interface{}, error)
	SetPriority(id string, priority string) (interface{}, error)
	Snooze(id string, until time.Time, note string) (interface{}, error)
	Unsnooze(id string) (interface{}, error)
}

// ManifestsGate is the subset of internal/manifest the server calls.
type ManifestsGate interface {
	Upsert(name, yamlDoc string) (interface{}, error)
	Get(name string) (interface{}, error)
	SubmitRun(name, action string, options interface{}) (queue.Job, error)
}

// simplifier collapses job/proposal/manifest ids out of request paths so
// per-route Prometheus metrics don't explode into one series per id,
// mirroring boskos/handlers.go's NewBoskosSimplifier.
func simplifier() simplifypath.Simplifier {
	l := simplifypath.L
	v := simplifypath.V
	return simplifypath.NewSimplifier(l("",
		l("queue",
			l("jobs",
				v("id",
					l("heartbeat"), l("cancel"), l("terminal"),
					l("events", l("stream")),
					l("artifacts", v("artifactId", l("download"))),
					l("live-session"), l("grant-write"), l("revoke"), l("control"), l("operator-messages"),
				),
				l("claim"),
			),
			l("telemetry", l("migration")),
		),
		l("system", l("worker-pause")),
		l("proposals", v("id", l("promote"), l("dismiss"), l("priority"), l("snooze"), l("unsnooze"))),
		l("manifests", v("name", l("runs"))),
		l("metrics"),
	))
}

// NewRouter builds the full HTTP surface.
func NewRouter(s *Server) http.Handler {
	simp := simplifier()
	r := mux.NewRouter()
	r.Use(loggingMiddleware(simp))

	r.HandleFunc("/queue/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	r.HandleFunc("/queue/jobs", s.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/queue/jobs/claim", s.handleClaimJob).Methods(http.MethodPost)
	r.HandleFunc("/queue/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/queue/jobs/{id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/queue/jobs/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/queue/jobs/{id}/terminal", s.handleTerminal).Methods(http.MethodPost)
	r.HandleFunc("/queue/jobs/{id}/events", s.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/queue/jobs/{id}/events", s.handleAppendEvent).Methods(http.MethodPost)
	r.HandleFunc("/queue/jobs/{id}/events/stream", s.handleStreamEvents).Methods(http.MethodGet)
	r.HandleFunc("/queue/jobs/{id}/artifacts", s.handleListArtifacts).Methods(http.MethodGet)
	r.HandleFunc("/queue/jobs/{id}/artifacts", s.handlePutArtifact).Methods(http.MethodPost)
	r.HandleFunc("/queue/jobs/{id}/artifacts/{artifactId}/download", s.handleDownloadArtifact).Methods(http.MethodGet)
	r.HandleFunc("/queue/telemetry/migration", s.handleTelemetryMigration).Methods(http.MethodGet)

	r.HandleFunc("/system/worker-pause", s.handleWorkerPauseStatus).Methods(http.MethodGet)
	r.HandleFunc("/system/worker-pause", s.handleWorkerPauseApply).Methods(http.MethodPost)

	r.HandleFunc("/proposals", s.handleListProposals).Methods(http.MethodGet)
	r.HandleFunc("/proposals/{id}", s.handleGetProposal).Methods(http.MethodGet)
	r.HandleFunc("/proposals/{id}/promote", s.handlePromoteProposal).Methods(http.MethodPost)
	r.HandleFunc("/proposals/{id}/dismiss", s.handleDismissProposal).Methods(http.MethodPost)
	r.HandleFunc("/proposals/{id}/priority", s.handleProposalPriority).Methods(http.MethodPost)
	r.HandleFunc("/proposals/{id}/snooze", s.handleSnoozeProposal).Methods(http.MethodPost)
	r.HandleFunc("/proposals/{id}/unsnooze", s.handleUnsnoozeProposal).Methods(http.MethodPost)

	r.HandleFunc("/manifests/{name}", s.handleUpsertManifest).Methods(http.MethodPut)
	r.HandleFunc("/manifests/{name}", s.handleGetManifest).Methods(http.MethodGet)
	r.HandleFunc("/manifests/{name}/runs", s.handleSubmitManifestRun).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func loggingMiddleware(simp simplifypath.Simplifier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logrus.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     simp.Simplify(r.URL.Path),
				"duration": time.Since(start),
			}).Debug("handled request")
		})
	}
}
