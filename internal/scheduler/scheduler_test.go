package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/viberacer/api/internal/contest"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// memStore is an in-memory StateStore.
type memStore struct {
	mu      sync.Mutex
	state   *contest.StageState
	fail    error
	updates int
}

func (m *memStore) StageState(context.Context) (contest.StageState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return contest.StageState{}, contest.ErrNotInitialized
	}
	return *m.state, nil
}

func (m *memStore) UpdateStageState(_ context.Context, fn func(contest.StageState, bool) (contest.StageState, error)) (contest.StageState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return contest.StageState{}, m.fail
	}
	var cur contest.StageState
	if m.state != nil {
		cur = *m.state
	}
	next, err := fn(cur, m.state != nil)
	if err != nil {
		return contest.StageState{}, err
	}
	next.Version = cur.Version + 1
	m.state = &next
	m.updates++
	return next, nil
}

func (m *memStore) DeleteStageState(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}

func (m *memStore) setFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *memStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

type recorder struct {
	mu  sync.Mutex
	trs []Transition
}

func (r *recorder) Dispatch(_ context.Context, tr Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trs = append(r.trs, tr)
}

func (r *recorder) all() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.trs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// at returns 10:mm:ss on a fixed day.
func at(m, s int) time.Time {
	return time.Date(2026, 3, 14, 10, m, s, 0, time.UTC)
}

func setup(t *testing.T, start time.Time) (*Scheduler, *memStore, *recorder, *fakeClock) {
	t.Helper()
	store := &memStore{}
	rec := &recorder{}
	clock := newClock(start)
	s := New(store, contest.DefaultSchedule, rec, discardLogger(), WithClock(clock.Now))
	return s, store, rec, clock
}

func TestFirstTickInitializes(t *testing.T) {
	s, _, rec, _ := setup(t, at(30, 0))
	ctx := context.Background()

	res, err := s.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Action != ActionInitialized {
		t.Errorf("action = %s, want %s", res.Action, ActionInitialized)
	}
	if res.State.CurrentStage != contest.StageBuilding || !res.State.StageEnteredAt.Equal(at(30, 0)) {
		t.Errorf("state = %+v, want building entered at 10:30", res.State)
	}
	want := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	if !res.State.NextStageDeadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", res.State.NextStageDeadline, want)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("dispatched %d transitions on first tick", n)
	}
}

func TestTickIdempotentBeforeDeadline(t *testing.T) {
	s, _, rec, clock := setup(t, at(10, 0))
	ctx := context.Background()
	if _, err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 100; i++ {
		clock.Advance(time.Second)
		res, err := s.Tick(ctx)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if res.Action != ActionHeartbeat || res.State.CurrentStage != contest.StageBuilding {
			t.Fatalf("tick %d: %s in %s", i, res.Action, res.State.CurrentStage)
		}
		if !res.State.LastHeartbeat.Equal(clock.Now()) {
			t.Fatalf("tick %d: heartbeat = %v, want %v", i, res.State.LastHeartbeat, clock.Now())
		}
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("dispatched %d transitions, want 0", n)
	}
}

func TestTickAdvancesOnceAfterDeadline(t *testing.T) {
	s, _, rec, clock := setup(t, at(59, 58))
	ctx := context.Background()
	if _, err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	// The tick at 11:00:00 was missed; the next one lands 20s late.
	clock.Set(time.Date(2026, 3, 14, 11, 0, 20, 0, time.UTC))
	res, err := s.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionAdvanced || res.State.CurrentStage != contest.StageJudging1 {
		t.Fatalf("got %s into %s", res.Action, res.State.CurrentStage)
	}
	if !res.State.NextStageDeadline.After(clock.Now()) {
		t.Errorf("deadline %v not after now", res.State.NextStageDeadline)
	}
	if want := time.Date(2026, 3, 14, 11, 1, 0, 0, time.UTC); !res.State.NextStageDeadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", res.State.NextStageDeadline, want)
	}

	again, _ := s.Tick(ctx)
	if again.Action != ActionHeartbeat {
		t.Errorf("second tick action = %s, want heartbeat", again.Action)
	}

	trs := rec.all()
	if len(trs) != 1 || trs[0].From != contest.StageBuilding || trs[0].To != contest.StageJudging1 || trs[0].Manual {
		t.Errorf("transitions = %+v", trs)
	}
}

func TestFullCycle(t *testing.T) {
	s, _, rec, clock := setup(t, at(4, 0))
	ctx := context.Background()

	for i := 0; i <= 3600; i++ {
		if _, err := s.Tick(ctx); err != nil {
			t.Fatalf("tick at %v: %v", clock.Now(), err)
		}
		clock.Advance(time.Second)
	}

	want := []struct {
		from, to contest.Stage
		minute   int
	}{
		{contest.StageBreak, contest.StageBuilding, 5},
		{contest.StageBuilding, contest.StageJudging1, 0},
		{contest.StageJudging1, contest.StageJudging2, 1},
		{contest.StageJudging2, contest.StageJudging3, 2},
		{contest.StageJudging3, contest.StageBreak, 3},
	}
	trs := rec.all()
	if len(trs) != len(want) {
		t.Fatalf("transitions = %d, want %d: %+v", len(trs), len(want), trs)
	}
	for i, w := range want {
		tr := trs[i]
		if tr.From != w.from || tr.To != w.to || tr.At.Minute() != w.minute || tr.At.Second() != 0 {
			t.Errorf("transition %d = %s->%s at %v, want %s->%s at :%02d",
				i, tr.From, tr.To, tr.At, w.from, w.to, w.minute)
		}
	}
}

func TestManualAdvance(t *testing.T) {
	s, _, rec, clock := setup(t, at(30, 0))
	ctx := context.Background()

	if _, err := s.ManualAdvance(ctx); !errors.Is(err, contest.ErrNotInitialized) {
		t.Fatalf("before init err = %v, want ErrNotInitialized", err)
	}
	if _, err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	tr, err := s.ManualAdvance(ctx)
	if err != nil {
		t.Fatalf("ManualAdvance: %v", err)
	}
	if tr.From != contest.StageBuilding || tr.To != contest.StageJudging1 || !tr.Manual {
		t.Errorf("transition = %+v", tr)
	}

	st, _ := s.State(ctx)
	if !st.WasManuallyAdvanced || st.CurrentStage != contest.StageJudging1 {
		t.Errorf("state = %+v", st)
	}
	if !st.StageEnteredAt.Equal(clock.Now()) {
		t.Errorf("entered at %v, want %v", st.StageEnteredAt, clock.Now())
	}
	if !st.NextStageDeadline.After(clock.Now()) {
		t.Errorf("deadline %v not after now", st.NextStageDeadline)
	}

	// The next tick must not end the manually entered stage again.
	clock.Advance(time.Second)
	res, _ := s.Tick(ctx)
	if res.Action != ActionHeartbeat || res.State.CurrentStage != contest.StageJudging1 {
		t.Errorf("tick after manual = %s in %s", res.Action, res.State.CurrentStage)
	}
	if !res.State.WasManuallyAdvanced {
		t.Error("heartbeat cleared the manual flag")
	}

	if !res.State.StageEnteredAt.Equal(st.StageEnteredAt) {
		t.Errorf("heartbeat moved entered at to %v", res.State.StageEnteredAt)
	}

	// Reaching the deadline clears it.
	clock.Set(st.NextStageDeadline)
	res, _ = s.Tick(ctx)
	if res.Action != ActionAdvanced || res.State.WasManuallyAdvanced {
		t.Errorf("tick at deadline = %s, manual %v", res.Action, res.State.WasManuallyAdvanced)
	}
	if !res.State.StageEnteredAt.Equal(st.NextStageDeadline) {
		t.Errorf("entered at %v, want %v", res.State.StageEnteredAt, st.NextStageDeadline)
	}

	if n := len(rec.all()); n != 2 {
		t.Errorf("dispatched %d transitions, want 2", n)
	}
}

func TestConcurrentTickAndManualNeverSkip(t *testing.T) {
	s, _, rec, clock := setup(t, at(0, 0))
	ctx := context.Background()
	if _, err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				clock.Advance(700 * time.Millisecond)
				if _, err := s.Tick(ctx); err != nil {
					t.Errorf("Tick: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := s.ManualAdvance(ctx); err != nil {
				t.Errorf("ManualAdvance: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	trs := rec.all()
	if len(trs) < 50 {
		t.Fatalf("transitions = %d, want at least 50", len(trs))
	}
	for i, tr := range trs {
		if tr.To != tr.From.Next() {
			t.Fatalf("transition %d skipped: %s -> %s", i, tr.From, tr.To)
		}
		if i > 0 && tr.From != trs[i-1].To {
			t.Fatalf("transition %d starts at %s, previous ended in %s", i, tr.From, trs[i-1].To)
		}
	}

	st, _ := s.State(ctx)
	if st.CurrentStage != trs[len(trs)-1].To {
		t.Errorf("final stage %s, last transition to %s", st.CurrentStage, trs[len(trs)-1].To)
	}
}

func TestFailedWriteDoesNotDispatch(t *testing.T) {
	s, store, rec, clock := setup(t, at(59, 0))
	ctx := context.Background()
	if _, err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	store.setFail(contest.ErrConflict)
	clock.Advance(2 * time.Minute)
	if _, err := s.Tick(ctx); !errors.Is(err, contest.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("dispatched %d transitions after failed write", n)
	}

	store.setFail(nil)
	res, err := s.Tick(ctx)
	if err != nil || res.Action != ActionAdvanced {
		t.Fatalf("retry = %s, %v", res.Action, err)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("dispatched %d transitions, want 1", n)
	}
}

func TestReset(t *testing.T) {
	s, _, _, _ := setup(t, at(2, 30))
	ctx := context.Background()
	if _, err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := s.State(ctx); !errors.Is(err, contest.ErrNotInitialized) {
		t.Fatalf("State err = %v, want ErrNotInitialized", err)
	}
	res, _ := s.Tick(ctx)
	if res.Action != ActionInitialized || res.State.CurrentStage != contest.StageJudging3 {
		t.Errorf("after reset = %s in %s", res.Action, res.State.CurrentStage)
	}
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var calls int
	f := Fanout{a, DispatcherFunc(func(context.Context, Transition) { calls++ }), b}
	f.Dispatch(context.Background(), Transition{From: contest.StageBreak, To: contest.StageBuilding})
	if len(a.all()) != 1 || len(b.all()) != 1 || calls != 1 {
		t.Errorf("a=%d b=%d func=%d, want 1 each", len(a.all()), len(b.all()), calls)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want Health
	}{
		{0, HealthHealthy},
		{2999 * time.Millisecond, HealthHealthy},
		{3 * time.Second, HealthSlow},
		{9 * time.Second, HealthSlow},
		{10 * time.Second, HealthStopped},
		{time.Hour, HealthStopped},
	}
	for _, tt := range tests {
		if got := Classify(tt.age); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.age, got, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	s, _, _, clock := setup(t, at(10, 0))
	ctx := context.Background()

	h, _, err := s.Health(ctx)
	if err != nil || h != HealthNotRunning {
		t.Fatalf("before init = %s, %v", h, err)
	}
	if _, err := s.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	clock.Advance(5 * time.Second)
	h, age, _ := s.Health(ctx)
	if h != HealthSlow || age != 5*time.Second {
		t.Errorf("after 5s = %s (%v), want slow", h, age)
	}
}
