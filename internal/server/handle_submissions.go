package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/viberacer/api/internal/contest"
	"github.com/viberacer/api/internal/service"
)

type SubmitRequest struct {
	ArtifactRef string `json:"artifactRef"`
}

func handleSubmit(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sub, err := svc.Submit(r.Context(), userFrom(r), req.ArtifactRef)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func handleMySubmission(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := svc.MySubmission(r.Context(), userFrom(r))
		if errors.Is(err, contest.ErrNoActiveContest) || errors.Is(err, contest.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no submission")
			return
		}
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}
