package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/quorumdesk/stagesync/internal/stagesync"
)

// resolveStateError maps engine outcomes to caller-facing results.
// Validation failures and conflicts are expected, user-visible outcomes;
// only store faults are logged, and those surface as a generic message
// with no internal detail.
func resolveStateError(w http.ResponseWriter, err error) {
	var conflict *stagesync.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":           "version_conflict",
			"message":        conflict.Error(),
			"currentVersion": conflict.CurrentVersion,
		})
	case errors.Is(err, stagesync.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, stagesync.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, stagesync.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		log.Printf("state store unavailable: %v", err)
		writeError(w, http.StatusInternalServerError, "store_unavailable", "state store unavailable")
	}
}

func resolvePresenceError(w http.ResponseWriter, err error) {
	if errors.Is(err, stagesync.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	log.Printf("presence store unavailable: %v", err)
	writeError(w, http.StatusInternalServerError, "store_unavailable", "presence store unavailable")
}
