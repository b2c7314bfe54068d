package timer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/store"
	"github.com/lalithlochan/courier/internal/store/sqlstore"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, clock *testClock) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()

	sqlDB, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "timers.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	fsys, err := db.Migrations(db.DriverSQLite)
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if _, _, err := db.Migrate(ctx, sqlDB, db.DriverSQLite, fsys, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s, err := sqlstore.New(sqlDB, sqlstore.Config{Dialect: sqlstore.SQLite, Clock: clock.Now}, zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *sqlstore.Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2020, 1, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	e := NewEngine(s, NewRegistry(), Config{Clock: clock.Now}, zap.NewNop(), opts...)
	return e, s, clock
}

type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) PublishTimerEvent(_ context.Context, e Event) error {
	p.events = append(p.events, e)
	return nil
}

type fixedLease struct {
	ok       bool
	released int
}

func (l *fixedLease) Acquire(context.Context, string) (func(), bool, error) {
	if !l.ok {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

func TestBaseHandler_Abstract(t *testing.T) {
	if _, err := (BaseHandler{}).NotificationTimerCallback(context.Background(), store.Timer{}); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}

	reg := NewRegistry()
	if _, err := reg.Resolve(BaseHandlerName); !errors.Is(err, ErrAbstractHandler) {
		t.Errorf("expected ErrAbstractHandler, got %v", err)
	}
	if _, err := reg.Resolve("foo.bar"); !errors.Is(err, ErrUnknownHandler) {
		t.Errorf("expected ErrUnknownHandler, got %v", err)
	}
	if !reg.Known(BaseHandlerName) {
		t.Error("base handler name should be known")
	}

	reg.Register("broken", func() (Handler, error) { return nil, errors.New("no deps") })
	if _, err := reg.Resolve("broken"); err == nil || !strings.Contains(err.Error(), "no deps") {
		t.Errorf("expected constructor error, got %v", err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "broken" {
		t.Errorf("names = %v", names)
	}
}

func TestResult_Map(t *testing.T) {
	m := Result{Errors: []string{"a"}, RescheduleInMins: 5, ContextUpdate: map[string]any{"k": "v"}}.Map()
	if errs, _ := m["errors"].([]any); len(errs) != 1 || errs[0] != "a" {
		t.Errorf("errors = %v", m["errors"])
	}
	if m["reschedule_in_mins"] != 5 {
		t.Errorf("reschedule_in_mins = %v", m["reschedule_in_mins"])
	}
	if cu, _ := m["context_update"].(map[string]any); cu["k"] != "v" {
		t.Errorf("context_update = %v", m["context_update"])
	}
	if _, ok := (Result{}).Map()["context_update"]; ok {
		t.Error("empty result should not carry a context update")
	}
}

func TestPoll_FanOutSingleUser(t *testing.T) {
	e, s, clock := newTestEngine(t)
	ctx := context.Background()

	if _, err := s.SaveType(ctx, store.NotificationType{Name: "foo.bar", Renderer: "foo.renderer"}); err != nil {
		t.Fatalf("save type: %v", err)
	}
	e.Registry().Register("test.FanOut", func() (Handler, error) {
		return HandlerFunc(func(ctx context.Context, tm store.Timer) (Result, error) {
			msg, err := s.SaveMessage(ctx, store.Message{Type: store.NotificationType{Name: "foo.bar"}, Payload: map[string]any{"foo": "bar"}})
			if err != nil {
				return Result{}, err
			}
			if _, err := s.SaveUserNotification(ctx, store.UserNotification{UserID: 1, Msg: msg}); err != nil {
				return Result{}, err
			}
			return Result{RescheduleInMins: tm.PeriodicityMin}, nil
		}), nil
	})

	if _, err := e.Schedule(ctx, ScheduleRequest{
		Name:       "foo",
		ClassName:  "test.FanOut",
		CallbackAt: clock.now.Add(-time.Second),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if n, _ := s.CountNotificationsForUser(ctx, 1, store.DefaultFilters()); n != 0 {
		t.Fatalf("expected no notifications before poll, got %d", n)
	}

	executed, err := e.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if executed != 1 {
		t.Errorf("executed = %d, want 1", executed)
	}

	if n, _ := s.CountNotificationsForUser(ctx, 1, store.DefaultFilters()); n != 1 {
		t.Errorf("expected 1 notification after poll, got %d", n)
	}
	tm, _ := s.GetTimer(ctx, "foo")
	if tm.ExecutedAt == nil {
		t.Error("executed_at should be set")
	}
	if tm.ErrMsg != nil {
		t.Errorf("err_msg = %q, want nil", *tm.ErrMsg)
	}

	// Already executed timers are not re-run.
	if executed, _ := e.Poll(ctx); executed != 0 {
		t.Errorf("second poll executed %d", executed)
	}
	if n, _ := s.CountNotificationsForUser(ctx, 1, store.DefaultFilters()); n != 1 {
		t.Errorf("second poll fanned out again: %d", n)
	}
}

func TestPoll_PeriodicReschedule(t *testing.T) {
	events := &recordingPublisher{}
	e, s, clock := newTestEngine(t, WithEvents(events))
	ctx := context.Background()

	calls := 0
	e.Registry().RegisterHandler("test.Periodic", HandlerFunc(func(_ context.Context, tm store.Timer) (Result, error) {
		calls++
		want := "me"
		if calls > 1 {
			want = "updated"
		}
		if tm.Context["keep"] != want {
			t.Errorf("call %d: handler did not see the timer context: %v", calls, tm.Context)
		}
		tm.Context["keep"] = "mutated"
		return Result{
			Errors:           []string{"partial failure"},
			RescheduleInMins: tm.PeriodicityMin,
			ContextUpdate:    map[string]any{"last_ran": FormatTime(clock.now), "keep": "updated"},
		}, nil
	}))

	if _, err := e.Schedule(ctx, ScheduleRequest{
		Name:           "periodic",
		ClassName:      "test.Periodic",
		CallbackAt:     clock.now.Add(-72 * time.Hour),
		PeriodicityMin: 60,
		Context:        map[string]any{"keep": "me", "other": float64(1)},
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if _, err := e.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	tm, _ := s.GetTimer(ctx, "periodic")
	if tm.ExecutedAt != nil {
		t.Error("periodic timer should stay unexecuted")
	}
	if want := clock.now.Add(time.Hour); !tm.CallbackAt.Equal(want) {
		t.Errorf("callback_at = %v, want %v", tm.CallbackAt, want)
	}
	if tm.Context["keep"] != "updated" || tm.Context["other"] != float64(1) {
		t.Errorf("context not merged: %v", tm.Context)
	}
	if last, ok := Time(tm.Context, "last_ran"); !ok || !last.Equal(clock.now) {
		t.Errorf("last_ran = %v", tm.Context["last_ran"])
	}
	if errs, _ := tm.Results["errors"].([]any); len(errs) != 1 {
		t.Errorf("results should keep handler errors, got %v", tm.Results)
	}

	// Not due again until an hour has passed.
	if n, _ := e.Poll(ctx); n != 0 {
		t.Errorf("poll before next callback executed %d", n)
	}
	clock.now = clock.now.Add(time.Hour)
	if n, _ := e.Poll(ctx); n != 1 {
		t.Errorf("poll at next callback executed %d", n)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	if len(events.events) != 2 || events.events[0].Outcome != "rescheduled" {
		t.Errorf("unexpected events %+v", events.events)
	}
}

func TestPoll_HandlerError(t *testing.T) {
	e, s, clock := newTestEngine(t)
	ctx := context.Background()

	calls := 0
	e.Registry().RegisterHandler("test.Failing", HandlerFunc(func(context.Context, store.Timer) (Result, error) {
		calls++
		return Result{}, errors.New("This did not work!")
	}))
	if _, err := e.Schedule(ctx, ScheduleRequest{Name: "fails", ClassName: "test.Failing", CallbackAt: clock.now, PeriodicityMin: 5}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if _, err := e.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	tm, _ := s.GetTimer(ctx, "fails")
	if tm.ExecutedAt == nil {
		t.Error("failed timer should be marked executed")
	}
	if tm.ErrMsg == nil || !strings.Contains(*tm.ErrMsg, "This did not work!") {
		t.Errorf("err_msg = %v", tm.ErrMsg)
	}

	clock.now = clock.now.Add(time.Hour)
	e.Poll(ctx)
	e.Poll(ctx)
	if calls != 1 {
		t.Errorf("handler invoked %d times, want 1", calls)
	}
}

func TestPoll_HandlerPanic(t *testing.T) {
	e, s, clock := newTestEngine(t)
	ctx := context.Background()

	e.Registry().RegisterHandler("test.Panics", HandlerFunc(func(context.Context, store.Timer) (Result, error) {
		panic("boom")
	}))
	e.Schedule(ctx, ScheduleRequest{Name: "panics", ClassName: "test.Panics", CallbackAt: clock.now})

	if _, err := e.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	tm, _ := s.GetTimer(ctx, "panics")
	if tm.ErrMsg == nil || !strings.Contains(*tm.ErrMsg, "boom") {
		t.Errorf("err_msg = %v", tm.ErrMsg)
	}
}

func TestPoll_UnresolvableHandler(t *testing.T) {
	e, s, clock := newTestEngine(t)
	ctx := context.Background()

	for _, tm := range []store.Timer{
		{Name: "unknown", ClassName: "foo.bar", CallbackAt: clock.now, IsActive: true, PeriodicityMin: 5},
		{Name: "abstract", ClassName: BaseHandlerName, CallbackAt: clock.now, IsActive: true},
	} {
		if _, err := s.SaveTimer(ctx, tm); err != nil {
			t.Fatalf("save timer: %v", err)
		}
	}

	if n, err := e.Poll(ctx); err != nil || n != 2 {
		t.Fatalf("poll = %d, %v", n, err)
	}
	for _, name := range []string{"unknown", "abstract"} {
		tm, _ := s.GetTimer(ctx, name)
		if tm.ExecutedAt == nil || tm.ErrMsg == nil {
			t.Errorf("%s: expected executed with error, got %+v", name, tm)
		}
		if !tm.CallbackAt.Equal(clock.now) {
			t.Errorf("%s: unresolvable timers must not be rescheduled", name)
		}
	}
}

func TestCancel(t *testing.T) {
	e, s, clock := newTestEngine(t)
	ctx := context.Background()

	calls := 0
	e.Registry().RegisterHandler("test.Counter", HandlerFunc(func(context.Context, store.Timer) (Result, error) {
		calls++
		return Result{}, nil
	}))
	e.Schedule(ctx, ScheduleRequest{Name: "cancel-me", ClassName: "test.Counter", CallbackAt: clock.now.Add(-24 * time.Hour)})

	if err := e.Cancel(ctx, "cancel-me"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n, _ := e.Poll(ctx); n != 0 {
		t.Errorf("cancelled timer executed")
	}
	tm, _ := s.GetTimer(ctx, "cancel-me")
	if tm.ExecutedAt != nil || tm.IsActive || calls != 0 {
		t.Errorf("unexpected cancelled timer %+v (calls=%d)", tm, calls)
	}

	if err := e.Cancel(ctx, "does-not-exist"); err != nil {
		t.Errorf("cancel of unknown timer should not fail: %v", err)
	}
}

func TestReschedule(t *testing.T) {
	e, s, clock := newTestEngine(t)
	ctx := context.Background()

	calls := 0
	e.Registry().RegisterHandler("test.Counter", HandlerFunc(func(context.Context, store.Timer) (Result, error) {
		calls++
		return Result{}, nil
	}))
	e.Schedule(ctx, ScheduleRequest{Name: "later", ClassName: "test.Counter", CallbackAt: clock.now.Add(time.Hour)})

	if n, _ := e.Poll(ctx); n != 0 {
		t.Fatal("future timer should not fire")
	}

	tm, err := e.Reschedule(ctx, "later", clock.now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("reschedule into past: %v", err)
	}
	if tm.IsActive {
		t.Error("moving into the past should deactivate")
	}
	if n, _ := e.Poll(ctx); n != 0 {
		t.Error("deactivated timer should not fire")
	}

	tm, err = e.Reschedule(ctx, "later", clock.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("reschedule into future: %v", err)
	}
	if !tm.IsActive {
		t.Error("moving into the future should reactivate")
	}

	clock.now = clock.now.Add(2 * time.Minute)
	if n, _ := e.Poll(ctx); n != 1 || calls != 1 {
		t.Errorf("reactivated timer should fire once, n=%d calls=%d", n, calls)
	}

	if _, err := e.Reschedule(ctx, "missing", clock.now); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetTimer(ctx, "later"); err != nil {
		t.Errorf("get timer: %v", err)
	}
}

func TestSchedule_UnknownHandler(t *testing.T) {
	e, _, clock := newTestEngine(t)
	if _, err := e.Schedule(context.Background(), ScheduleRequest{Name: "x", ClassName: "nope", CallbackAt: clock.now}); !errors.Is(err, ErrUnknownHandler) {
		t.Errorf("expected ErrUnknownHandler, got %v", err)
	}
	if _, err := e.Schedule(context.Background(), ScheduleRequest{ClassName: BaseHandlerName}); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestPoll_Lease(t *testing.T) {
	lease := &fixedLease{ok: false}
	e, s, clock := newTestEngine(t, WithLease(lease))
	ctx := context.Background()

	calls := 0
	e.Registry().RegisterHandler("test.Counter", HandlerFunc(func(context.Context, store.Timer) (Result, error) {
		calls++
		return Result{}, nil
	}))
	e.Schedule(ctx, ScheduleRequest{Name: "leased", ClassName: "test.Counter", CallbackAt: clock.now})

	if n, _ := e.Poll(ctx); n != 0 || calls != 0 {
		t.Fatalf("timer held elsewhere must be skipped, n=%d calls=%d", n, calls)
	}

	lease.ok = true
	if n, _ := e.Poll(ctx); n != 1 || calls != 1 {
		t.Fatalf("timer should run once the lease is free, n=%d calls=%d", n, calls)
	}
	if lease.released != 1 {
		t.Errorf("lease released %d times, want 1", lease.released)
	}
	tm, _ := s.GetTimer(ctx, "leased")
	if tm.ExecutedAt == nil {
		t.Error("expected timer to be executed")
	}
}

func TestValues(t *testing.T) {
	m := map[string]any{
		"b":   true,
		"bs":  "false",
		"s":   "text",
		"f":   float64(3),
		"ff":  3.5,
		"i":   4,
		"t":   "2020-01-02T00:00:00Z",
		"bad": "yesterday",
	}
	if !Bool(m, "b", false) || Bool(m, "bs", true) || !Bool(m, "missing", true) {
		t.Error("Bool mismatch")
	}
	if String(m, "s", "d") != "text" || String(m, "missing", "d") != "d" {
		t.Error("String mismatch")
	}
	if Int(m, "f", 0) != 3 || Int(m, "ff", 9) != 9 || Int(m, "i", 0) != 4 {
		t.Error("Int mismatch")
	}
	if ts, ok := Time(m, "t"); !ok || !ts.Equal(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Time = %v %v", ts, ok)
	}
	if _, ok := Time(m, "bad"); ok {
		t.Error("unparseable time should miss")
	}
}
