package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/viberacer/api/internal/contest"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError maps domain errors to a status. Rejections carry their
// own message; anything unexpected is logged and reported as 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *contest.ValidationError
	if errors.As(err, &ve) {
		writeError(w, rejectionStatus(ve.Kind), ve.Msg)
		return
	}

	switch {
	case errors.Is(err, contest.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, contest.ErrNoActiveContest):
		writeError(w, http.StatusConflict, "no contest is running")
	case errors.Is(err, contest.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, "contest clock has not started")
	case errors.Is(err, contest.ErrConflict):
		writeError(w, http.StatusConflict, "concurrent update, retry")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func rejectionStatus(kind error) int {
	switch {
	case errors.Is(kind, contest.ErrNotAssigned):
		return http.StatusForbidden
	case errors.Is(kind, contest.ErrStageClosed), errors.Is(kind, contest.ErrAlreadyReviewed):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
