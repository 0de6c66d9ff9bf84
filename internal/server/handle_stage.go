package server

import (
	"log/slog"
	"net/http"

	"github.com/viberacer/api/internal/scheduler"
	"github.com/viberacer/api/internal/service"
)

// AdvanceResponse describes the transition a manual advance caused.
type AdvanceResponse struct {
	Transition scheduler.Transition `json:"transition"`
	State      service.StageView    `json:"state"`
}

func handleGetStage(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.CurrentStageState(r.Context()))
	}
}

func handleJoinStatus(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		js, err := svc.JoinStatus(r.Context())
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, js)
	}
}

func handleAdvanceStage(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tr, err := svc.AdvanceStage(r.Context())
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, AdvanceResponse{
			Transition: tr,
			State:      svc.CurrentStageState(r.Context()),
		})
	}
}

func handleResetStage(logger *slog.Logger, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ResetStage(r.Context()); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
