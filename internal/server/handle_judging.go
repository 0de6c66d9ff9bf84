package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/viberacer/api/internal/contest"
	"github.com/viberacer/api/internal/service"
)

type ReviewRequest struct {
	SubmissionID string          `json:"submissionId"`
	Ratings      contest.Ratings `json:"ratings"`
}

func handleAssignments(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.JudgingAssignments(r.Context(), userFrom(r))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleReview(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReviewRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.SubmissionID = strings.TrimSpace(req.SubmissionID)
		if req.SubmissionID == "" {
			writeError(w, http.StatusBadRequest, "submissionId is required")
			return
		}

		rev, err := svc.SubmitReview(r.Context(), userFrom(r), req.SubmissionID, req.Ratings)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, rev)
	}
}
