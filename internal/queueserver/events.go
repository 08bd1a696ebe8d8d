package queueserver

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/moonward/moonward/internal/errkind"
	"github.com/moonward/moonward/internal/events"
)

func sseHandlerFor(s *Server) http.HandlerFunc {
	return events.SSEHandler(s.Publisher, s.Hub)
}

func errKindFromString(s string) errkind.Kind {
	if s == "" {
		return ""
	}
	return errkind.Kind(s)
}

func parseInt64(v string, fallback int64) int64 {
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()

	after := parseInt64(q.Get("afterEventId"), parseInt64(q.Get("after"), 0))
	before := parseInt64(q.Get("beforeEventId"), parseInt64(q.Get("before"), 0))
	limit := parseInt(q.Get("limit"), 100)
	descending := q.Get("sort") == "desc"

	evs, err := s.Publisher.Page(id, after, before, limit, descending)
	if err != nil {
		returnAndLogError(w, err, "list events failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": evs})
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()
	q.Set("job_id", id)
	r.URL.RawQuery = q.Encode()
	sseHandlerFor(s)(w, r)
}
