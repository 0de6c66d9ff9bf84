package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/swgui/v5emb"

	"github.com/viberacer/api/internal/config"
	"github.com/viberacer/api/internal/contest"
	"github.com/viberacer/api/internal/judging"
	"github.com/viberacer/api/internal/leaderboard"
	"github.com/viberacer/api/internal/service"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse maps each dependency to its status.
type HealthResponse map[string]struct {
	Status string `json:"status"`
}

type contestPath struct {
	ContestID string `path:"contestID"`
}

type userHeaderParam struct {
	UserID string `header:"X-User-ID" required:"true"`
}

type adminHeaderParam struct {
	Authorization string `header:"Authorization" required:"true" description:"Bearer operator token"`
}

type recentWinnersQuery struct {
	Limit int `query:"limit" minimum:"1" maximum:"50" default:"10"`
}

type submitInput struct {
	userHeaderParam
	SubmitRequest
}

type reviewInput struct {
	userHeaderParam
	ReviewRequest
}

type judgingStatsInput struct {
	adminHeaderParam
	contestPath
}

type updateRulesInput struct {
	adminHeaderParam
	config.Rules
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Hourly Contest API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Stage clock, judging and leaderboards for the hourly build contest.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of the database, Redis and the scheduler heartbeat.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /ws/stage
	getWS, _ := r.NewOperationContext(http.MethodGet, "/ws/stage")
	getWS.SetSummary("Stage WebSocket")
	getWS.SetDescription("Upgrades to a WebSocket that sends the current stage, then every stage change.")
	getWS.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	_ = r.AddOperation(getWS)

	// GET /api/stage
	getStage, _ := r.NewOperationContext(http.MethodGet, "/api/stage")
	getStage.SetSummary("Current stage")
	getStage.SetDescription("Returns the current stage and its deadline. initialized is false until the clock has started.")
	getStage.AddRespStructure(service.StageView{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getStage)

	// GET /api/stage/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/stage/events")
	getEvents.SetSummary("Stage event stream")
	getEvents.SetDescription("Server-Sent Events: a state event with the current stage, then a stage event per transition.")
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	// GET /api/join-status
	getJoin, _ := r.NewOperationContext(http.MethodGet, "/api/join-status")
	getJoin.SetSummary("Join window")
	getJoin.SetDescription("Reports whether a newcomer can still take part in this hour's contest.")
	getJoin.AddRespStructure(contest.JoinStatus{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getJoin)

	// POST /api/submissions
	postSubmit, _ := r.NewOperationContext(http.MethodPost, "/api/submissions")
	postSubmit.SetSummary("Submit artifact")
	postSubmit.SetDescription("Creates or replaces the caller's submission. Open only during building.")
	postSubmit.AddReqStructure(submitInput{})
	postSubmit.AddRespStructure(contest.Submission{}, openapi.WithHTTPStatus(http.StatusOK))
	postSubmit.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postSubmit.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	postSubmit.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postSubmit)

	// GET /api/submissions/me
	getMine, _ := r.NewOperationContext(http.MethodGet, "/api/submissions/me")
	getMine.SetSummary("My submission")
	getMine.SetDescription("Returns the caller's submission to the running contest.")
	getMine.AddReqStructure(userHeaderParam{})
	getMine.AddRespStructure(contest.Submission{}, openapi.WithHTTPStatus(http.StatusOK))
	getMine.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getMine)

	// GET /api/judging/assignments
	getAssign, _ := r.NewOperationContext(http.MethodGet, "/api/judging/assignments")
	getAssign.SetSummary("My judging assignments")
	getAssign.SetDescription("Lists the submissions the caller reviews in the current judging round.")
	getAssign.AddReqStructure(userHeaderParam{})
	getAssign.AddRespStructure(service.AssignmentsView{}, openapi.WithHTTPStatus(http.StatusOK))
	getAssign.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getAssign)

	// POST /api/judging/reviews
	postReview, _ := r.NewOperationContext(http.MethodPost, "/api/judging/reviews")
	postReview.SetSummary("Submit review")
	postReview.SetDescription("Rates an assigned submission 1 to 10 on theme, design and functionality.")
	postReview.AddReqStructure(reviewInput{})
	postReview.AddRespStructure(contest.Review{}, openapi.WithHTTPStatus(http.StatusCreated))
	postReview.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postReview.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	postReview.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postReview)

	// GET /api/contests/{contestID}/leaderboard
	getBoard, _ := r.NewOperationContext(http.MethodGet, "/api/contests/{contestID}/leaderboard")
	getBoard.SetSummary("Contest leaderboard")
	getBoard.SetDescription("Ranked qualified entries followed by the unqualified ones.")
	getBoard.AddReqStructure(contestPath{})
	getBoard.AddRespStructure(leaderboard.Board{}, openapi.WithHTTPStatus(http.StatusOK))
	getBoard.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getBoard)

	// GET /api/winners/recent
	getRecent, _ := r.NewOperationContext(http.MethodGet, "/api/winners/recent")
	getRecent.SetSummary("Recent winners")
	getRecent.SetDescription("Latest contests that produced a winner, newest first.")
	getRecent.AddReqStructure(recentWinnersQuery{})
	getRecent.AddRespStructure([]service.WinnerView{}, openapi.WithHTTPStatus(http.StatusOK))
	getRecent.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(getRecent)

	// GET /api/winners/weekly
	getWeekly, _ := r.NewOperationContext(http.MethodGet, "/api/winners/weekly")
	getWeekly.SetSummary("Weekly top winners")
	getWeekly.SetDescription("The past seven days' most frequent winners.")
	getWeekly.AddRespStructure([]leaderboard.Standing{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getWeekly)

	// POST /api/admin/stage/advance
	postAdvance, _ := r.NewOperationContext(http.MethodPost, "/api/admin/stage/advance")
	postAdvance.SetSummary("Advance stage")
	postAdvance.SetDescription("Ends the current stage now. Requires operator token.")
	postAdvance.AddReqStructure(adminHeaderParam{})
	postAdvance.AddRespStructure(AdvanceResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postAdvance.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	postAdvance.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(postAdvance)

	// POST /api/admin/stage/reset
	postReset, _ := r.NewOperationContext(http.MethodPost, "/api/admin/stage/reset")
	postReset.SetSummary("Reset stage clock")
	postReset.SetDescription("Deletes the stage record; the next tick starts over from the wall clock. Requires operator token.")
	postReset.AddReqStructure(adminHeaderParam{})
	postReset.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	postReset.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(postReset)

	// GET /api/admin/monitoring
	getMon, _ := r.NewOperationContext(http.MethodGet, "/api/admin/monitoring")
	getMon.SetSummary("Monitoring")
	getMon.SetDescription("Scheduler health, drift from the schedule and handler failures. Requires operator token.")
	getMon.AddReqStructure(adminHeaderParam{})
	getMon.AddRespStructure(service.Monitoring{}, openapi.WithHTTPStatus(http.StatusOK))
	getMon.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getMon)

	// GET /api/admin/contests/{contestID}/judging-stats
	getStats, _ := r.NewOperationContext(http.MethodGet, "/api/admin/contests/{contestID}/judging-stats")
	getStats.SetSummary("Judging statistics")
	getStats.SetDescription("Per-round assignment completion. Requires operator token.")
	getStats.AddReqStructure(judgingStatsInput{})
	getStats.AddRespStructure([]judging.RoundStats{}, openapi.WithHTTPStatus(http.StatusOK))
	getStats.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	getStats.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getStats)

	// GET /api/admin/rules
	getRules, _ := r.NewOperationContext(http.MethodGet, "/api/admin/rules")
	getRules.SetSummary("Get rules")
	getRules.SetDescription("Returns the schedule and judging rules in force. Requires operator token.")
	getRules.AddReqStructure(adminHeaderParam{})
	getRules.AddRespStructure(config.Rules{}, openapi.WithHTTPStatus(http.StatusOK))
	getRules.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getRules)

	// PUT /api/admin/rules
	putRules, _ := r.NewOperationContext(http.MethodPut, "/api/admin/rules")
	putRules.SetSummary("Update rules")
	putRules.SetDescription("Replaces the rules; takes effect on the next tick. Requires operator token.")
	putRules.AddReqStructure(updateRulesInput{})
	putRules.AddRespStructure(config.Rules{}, openapi.WithHTTPStatus(http.StatusOK))
	putRules.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	putRules.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(putRules)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func handleSwaggerUI() http.HandlerFunc {
	return v5emb.New("Hourly Contest API", "/openapi.json", "/docs").ServeHTTP
}
