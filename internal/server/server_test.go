package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/viberacer/api/internal/config"
	"github.com/viberacer/api/internal/contest"
	"github.com/viberacer/api/internal/database"
	"github.com/viberacer/api/internal/events"
	"github.com/viberacer/api/internal/handler/health"
	"github.com/viberacer/api/internal/judging"
	"github.com/viberacer/api/internal/lifecycle"
	"github.com/viberacer/api/internal/migrations"
	"github.com/viberacer/api/internal/scheduler"
	"github.com/viberacer/api/internal/service"
	"github.com/viberacer/api/internal/store"
)

const adminToken = "let-me-in"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func at(h, m int) time.Time {
	return time.Date(2026, 3, 14, h, m, 0, 0, time.UTC)
}

type fixture struct {
	router chi.Router
	sched  *scheduler.Scheduler
	clock  *clock
}

// setup builds the full stack over an in-memory database with the clock
// started at start and the first tick already done.
func setup(t *testing.T, start time.Time) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(db)
	clk := &clock{t: start}
	rules, err := config.NewRuleSource(config.Rules{
		Schedule:               contest.DefaultSchedule().Starts,
		JoinWindowMinutes:      15,
		AssignmentsPerJudge:    4,
		QualificationThreshold: 5,
	})
	if err != nil {
		t.Fatalf("rules: %v", err)
	}

	broker := events.NewBroker()
	handlers := lifecycle.New(st, judging.NewEngine(rand.New(rand.NewPCG(5, 6))), rules.Rules, clk.Now, logger)
	inline := scheduler.DispatcherFunc(func(ctx context.Context, tr scheduler.Transition) { handlers.Handle(ctx, tr) })
	sched := scheduler.New(st, rules.Schedule, scheduler.Fanout{inline, events.NewNotifier(broker, nil, logger)}, logger, scheduler.WithClock(clk.Now))

	if err := handlers.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := sched.Tick(ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing token: %v", err)
	}

	svc := service.New(service.Deps{Store: st, Scheduler: sched, Rules: rules, Handlers: handlers, Logger: logger})
	r := newRouter(logger, Deps{
		Service:        svc,
		Broker:         broker,
		AdminTokenHash: string(hash),
		Checks:         map[string]health.Checker{"sqlite": health.CheckFunc(st.Ping)},
	})
	return &fixture{router: r, sched: sched, clock: clk}
}

func (f *fixture) tickAt(t *testing.T, now time.Time) {
	t.Helper()
	f.clock.Set(now)
	if _, err := f.sched.Tick(context.Background()); err != nil {
		t.Fatalf("tick at %v: %v", now, err)
	}
}

type call struct {
	method string
	path   string
	user   string
	admin  string
	body   any
}

func (f *fixture) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	if c.admin != "" {
		req.Header.Set("Authorization", "Bearer "+c.admin)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}

func TestGetStage(t *testing.T) {
	f := setup(t, at(10, 30))

	w := f.do(t, call{method: http.MethodGet, path: "/api/stage"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	view := decode[service.StageView](t, w)
	if !view.Initialized {
		t.Fatal("expected initialized stage")
	}
	if view.Stage != contest.StageBuilding {
		t.Errorf("stage = %s, want building", view.Stage)
	}
	if view.SecondsToNext != 30*60 {
		t.Errorf("secondsToNext = %d, want %d", view.SecondsToNext, 30*60)
	}
}

func TestJoinStatusEndpoint(t *testing.T) {
	f := setup(t, at(10, 25))

	w := f.do(t, call{method: http.MethodGet, path: "/api/join-status"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	js := decode[contest.JoinStatus](t, w)
	if js.CanJoin {
		t.Error("expected join window closed at :25")
	}
}

func TestSubmit(t *testing.T) {
	f := setup(t, at(10, 10))

	tests := []struct {
		name       string
		user       string
		ref        string
		wantStatus int
	}{
		{name: "no identity", ref: "https://example.com/a", wantStatus: http.StatusUnauthorized},
		{name: "not a url", user: "u1", ref: "my app", wantStatus: http.StatusBadRequest},
		{name: "empty", user: "u1", ref: "  ", wantStatus: http.StatusBadRequest},
		{name: "valid", user: "u1", ref: "https://example.com/a", wantStatus: http.StatusOK},
		{name: "replace", user: "u1", ref: "https://example.com/b", wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, call{method: http.MethodPost, path: "/api/submissions", user: tt.user, body: SubmitRequest{ArtifactRef: tt.ref}})
			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}

	w := f.do(t, call{method: http.MethodGet, path: "/api/submissions/me", user: "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", w.Code)
	}
	if sub := decode[contest.Submission](t, w); sub.ArtifactRef != "https://example.com/b" {
		t.Errorf("artifactRef = %q, want the replacement", sub.ArtifactRef)
	}

	w = f.do(t, call{method: http.MethodGet, path: "/api/submissions/me", user: "u2"})
	if w.Code != http.StatusNotFound {
		t.Errorf("me without submission: expected 404, got %d", w.Code)
	}

	f.tickAt(t, at(11, 0))
	w = f.do(t, call{method: http.MethodPost, path: "/api/submissions", user: "u1", body: SubmitRequest{ArtifactRef: "https://example.com/c"}})
	if w.Code != http.StatusConflict {
		t.Errorf("submit during judging: expected 409, got %d", w.Code)
	}
}

func TestJudgingFlow(t *testing.T) {
	f := setup(t, at(10, 10))
	for i := range 5 {
		id := fmt.Sprintf("u%d", i)
		w := f.do(t, call{method: http.MethodPost, path: "/api/submissions", user: id, body: SubmitRequest{ArtifactRef: "https://example.com/" + id}})
		if w.Code != http.StatusOK {
			t.Fatalf("submit %s: %d %s", id, w.Code, w.Body.String())
		}
	}

	w := f.do(t, call{method: http.MethodGet, path: "/api/judging/assignments", user: "u0"})
	if view := decode[service.AssignmentsView](t, w); view.StageNumber != 0 || len(view.Assignments) != 0 {
		t.Fatalf("before judging: got %+v, want empty", view)
	}

	f.tickAt(t, at(11, 0))

	w = f.do(t, call{method: http.MethodGet, path: "/api/judging/assignments", user: "u0"})
	if w.Code != http.StatusOK {
		t.Fatalf("assignments: expected 200, got %d", w.Code)
	}
	view := decode[service.AssignmentsView](t, w)
	if view.StageNumber != 1 {
		t.Errorf("stageNumber = %d, want 1", view.StageNumber)
	}
	if !view.HasSubmission {
		t.Error("expected hasSubmission")
	}
	if len(view.Assignments) != 4 {
		t.Fatalf("got %d assignments, want 4", len(view.Assignments))
	}
	target := view.Assignments[0].SubmissionID

	w = f.do(t, call{method: http.MethodGet, path: "/api/submissions/me", user: "u0"})
	own := decode[contest.Submission](t, w).ID

	good := contest.Ratings{Theme: 7, Design: 8, Functionality: 9}
	tests := []struct {
		name       string
		req        ReviewRequest
		wantStatus int
	}{
		{name: "missing submission", req: ReviewRequest{Ratings: good}, wantStatus: http.StatusBadRequest},
		{name: "rating out of range", req: ReviewRequest{SubmissionID: target, Ratings: contest.Ratings{Theme: 11, Design: 5, Functionality: 5}}, wantStatus: http.StatusBadRequest},
		{name: "own submission", req: ReviewRequest{SubmissionID: own, Ratings: good}, wantStatus: http.StatusForbidden},
		{name: "valid", req: ReviewRequest{SubmissionID: target, Ratings: good}, wantStatus: http.StatusCreated},
		{name: "duplicate", req: ReviewRequest{SubmissionID: target, Ratings: good}, wantStatus: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, call{method: http.MethodPost, path: "/api/judging/reviews", user: "u0", body: tt.req})
			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}

	w = f.do(t, call{method: http.MethodGet, path: "/api/judging/assignments", user: "u0"})
	view = decode[service.AssignmentsView](t, w)
	done := 0
	for _, a := range view.Assignments {
		if a.Completed {
			done++
		}
	}
	if done != 1 {
		t.Errorf("completed = %d, want 1", done)
	}
}

func TestLeaderboardAndWinners(t *testing.T) {
	f := setup(t, at(10, 10))

	w := f.do(t, call{method: http.MethodGet, path: "/api/contests/nope/leaderboard"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown contest: expected 404, got %d", w.Code)
	}

	w = f.do(t, call{method: http.MethodGet, path: "/api/winners/recent"})
	if w.Code != http.StatusOK {
		t.Fatalf("recent: expected 200, got %d", w.Code)
	}
	if got := decode[[]service.WinnerView](t, w); len(got) != 0 {
		t.Errorf("recent winners = %v, want none", got)
	}

	for _, limit := range []string{"0", "51", "abc"} {
		w = f.do(t, call{method: http.MethodGet, path: "/api/winners/recent?limit=" + limit})
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", limit, w.Code)
		}
	}

	w = f.do(t, call{method: http.MethodGet, path: "/api/winners/weekly"})
	if w.Code != http.StatusOK {
		t.Errorf("weekly: expected 200, got %d", w.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	f := setup(t, at(10, 10))

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "no token", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", token: "guess", wantStatus: http.StatusUnauthorized},
		{name: "operator", token: adminToken, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, call{method: http.MethodGet, path: "/api/admin/rules", admin: tt.token})
			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := newRouter(logger, Deps{Broker: events.NewBroker()})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/stage/advance", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestAdvanceAndReset(t *testing.T) {
	f := setup(t, at(10, 10))

	w := f.do(t, call{method: http.MethodPost, path: "/api/admin/stage/advance", admin: adminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("advance: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[AdvanceResponse](t, w)
	if resp.Transition.From != contest.StageBuilding || resp.Transition.To != contest.StageJudging1 {
		t.Errorf("transition = %s -> %s, want building -> judging_1", resp.Transition.From, resp.Transition.To)
	}
	if !resp.State.WasManuallyAdvanced {
		t.Error("expected wasManuallyAdvanced")
	}

	w = f.do(t, call{method: http.MethodPost, path: "/api/admin/stage/reset", admin: adminToken})
	if w.Code != http.StatusNoContent {
		t.Fatalf("reset: expected 204, got %d", w.Code)
	}

	w = f.do(t, call{method: http.MethodGet, path: "/api/stage"})
	if view := decode[service.StageView](t, w); view.Initialized {
		t.Error("expected uninitialized stage after reset")
	}

	w = f.do(t, call{method: http.MethodPost, path: "/api/admin/stage/advance", admin: adminToken})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("advance before init: expected 503, got %d", w.Code)
	}
}

func TestMonitoringAndStats(t *testing.T) {
	f := setup(t, at(10, 10))

	w := f.do(t, call{method: http.MethodGet, path: "/api/admin/monitoring", admin: adminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("monitoring: expected 200, got %d", w.Code)
	}
	m := decode[service.Monitoring](t, w)
	if m.Health != scheduler.HealthHealthy {
		t.Errorf("health = %s, want healthy", m.Health)
	}
	if m.ActiveContest == nil {
		t.Fatal("expected an active contest")
	}

	w = f.do(t, call{method: http.MethodGet, path: "/api/admin/contests/" + m.ActiveContest.ID + "/judging-stats", admin: adminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", w.Code)
	}
	if stats := decode[[]judging.RoundStats](t, w); len(stats) != 3 {
		t.Errorf("got %d rounds, want 3", len(stats))
	}

	w = f.do(t, call{method: http.MethodGet, path: "/api/admin/contests/nope/judging-stats", admin: adminToken})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown contest: expected 404, got %d", w.Code)
	}
}

func TestUpdateRules(t *testing.T) {
	f := setup(t, at(10, 10))

	w := f.do(t, call{method: http.MethodGet, path: "/api/admin/rules", admin: adminToken})
	rules := decode[config.Rules](t, w)

	rules.AssignmentsPerJudge = 3
	w = f.do(t, call{method: http.MethodPut, path: "/api/admin/rules", admin: adminToken, body: rules})
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[config.Rules](t, w); got.AssignmentsPerJudge != 3 {
		t.Errorf("assignmentsPerJudge = %d, want 3", got.AssignmentsPerJudge)
	}

	rules.Schedule = map[contest.Stage]int{contest.StageBuilding: 5}
	w = f.do(t, call{method: http.MethodPut, path: "/api/admin/rules", admin: adminToken, body: rules})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid schedule: expected 400, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := setup(t, at(10, 10))

	w := f.do(t, call{method: http.MethodGet, path: "/healthz"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode[map[string]struct{ Status string }](t, w)
	if body["sqlite"].Status != "ok" {
		t.Errorf("sqlite = %q, want ok", body["sqlite"].Status)
	}
}

func TestUnknownErrorIsHidden(t *testing.T) {
	w := httptest.NewRecorder()
	writeServiceError(w, slog.New(slog.NewTextHandler(io.Discard, nil)), fmt.Errorf("loading: %w", io.ErrUnexpectedEOF))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if got := decode[ErrorResponse](t, w).Error; got != "internal error" {
		t.Errorf("error = %q, want internal error", got)
	}
}
