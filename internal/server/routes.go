package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/viberacer/api/internal/handler/health"
)

func addRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	svc := d.Service

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", handleSwaggerUI())
	r.Mount("/healthz", health.NewHandler(logger, d.Checks).Routes())
	r.Get("/ws/stage", handleStageWS(logger, d.Broker, svc))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stage", handleGetStage(svc))
		r.Get("/stage/events", handleStageEvents(d.Broker, svc))
		r.Get("/join-status", handleJoinStatus(logger, svc))
		r.Get("/contests/{contestID}/leaderboard", handleLeaderboard(logger, svc))
		r.Get("/winners/recent", handleRecentWinners(logger, svc))
		r.Get("/winners/weekly", handleWeeklyWinners(logger, svc))

		// Contestant routes. Identity is established upstream.
		r.Group(func(r chi.Router) {
			r.Use(userMiddleware)
			r.Post("/submissions", handleSubmit(logger, svc))
			r.Get("/submissions/me", handleMySubmission(logger, svc))
			r.Get("/judging/assignments", handleAssignments(logger, svc))
			r.Post("/judging/reviews", handleReview(logger, svc))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuthMiddleware(d.AdminTokenHash))
			r.Post("/stage/advance", handleAdvanceStage(logger, svc))
			r.Post("/stage/reset", handleResetStage(logger, svc))
			r.Get("/monitoring", handleMonitoring(logger, svc))
			r.Get("/contests/{contestID}/judging-stats", handleJudgingStats(logger, svc))
			r.Get("/rules", handleGetRules(svc))
			r.Put("/rules", handleUpdateRules(logger, svc))
		})
	})
}
