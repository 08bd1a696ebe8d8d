package queueserver

import (
	"errors"
	"net/http"

	"github.com/moonward/moonward/internal/pause"
	"github.com/moonward/moonward/internal/queue"
	"github.com/moonward/moonward/internal/skills"
)

// errorToStatus translates a queue/pause/skills error into an HTTP
// status, the same switch-on-concrete-type idiom as
// boskos/handlers.errorToStatus, extended with errors.As so wrapped errors
// still classify correctly. Any other error, including manifest and
// proposal errors, maps to 500.
func errorToStatus(err error) int {
	var notFound *queue.JobNotFound
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	var leaseNotHeld *queue.LeaseNotHeld
	if errors.As(err, &leaseNotHeld) {
		return http.StatusConflict
	}
	var artifactConflict *queue.ArtifactConflict
	if errors.As(err, &artifactConflict) {
		return http.StatusConflict
	}
	var invalidPayload *queue.InvalidPayload
	if errors.As(err, &invalidPayload) {
		return http.StatusUnprocessableEntity
	}
	var illegalTransition *queue.IllegalTransition
	if errors.As(err, &illegalTransition) {
		return http.StatusConflict
	}
	var notDrained *pause.NotDrainedError
	if errors.As(err, &notDrained) {
		return http.StatusConflict
	}
	var materializeErr *skills.MaterializeError
	if errors.As(err, &materializeErr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func returnAndLogError(w http.ResponseWriter, err error, context string) {
	status := errorToStatus(err)
	writeJSON(w, status, map[string]string{"error": context + ": " + err.Error()})
}
