package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/viberacer/api/internal/service"
)

const (
	defaultRecentWinners = 10
	maxRecentWinners     = 50
)

func handleLeaderboard(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		board, err := svc.ContestLeaderboard(r.Context(), chi.URLParam(r, "contestID"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, board)
	}
}

func handleRecentWinners(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := defaultRecentWinners
		if s := r.URL.Query().Get("limit"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > maxRecentWinners {
				writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxRecentWinners))
				return
			}
			n = v
		}

		winners, err := svc.RecentWinners(r.Context(), n)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, winners)
	}
}

func handleWeeklyWinners(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		top, err := svc.WeeklyTopWinners(r.Context())
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, top)
	}
}
