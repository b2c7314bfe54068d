package circuitbreaker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func tripped(t *testing.T, maxFailures int, clock *fakeClock) *CircuitBreaker {
	t.Helper()
	cb := New(Config{Name: "test", MaxFailures: maxFailures, RecoveryTimeout: time.Minute, Clock: clock.Now}, zap.NewNop())
	for i := 0; i < maxFailures; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
	return cb
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := New(DefaultConfig("ses"), zap.NewNop())
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if cb.Name() != "ses" {
		t.Errorf("name = %s", cb.Name())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	clock := newClock()
	cb := tripped(t, 2, clock)
	clock.Advance(59 * time.Second)
	if cb.Allow() {
		t.Fatal("should reject before the recovery timeout")
	}
	if cb.Stats().TotalRejected != 1 {
		t.Errorf("rejected = %d", cb.Stats().TotalRejected)
	}
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	tests := []struct {
		name      string
		probeOK   bool
		wantState State
	}{
		{"successful probe closes", true, StateClosed},
		{"failed probe reopens", false, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			cb := tripped(t, 2, clock)
			clock.Advance(time.Minute)

			if !cb.Allow() {
				t.Fatal("should allow a probe after the recovery timeout")
			}
			if cb.GetState() != StateHalfOpen {
				t.Fatalf("expected StateHalfOpen, got %s", cb.GetState())
			}
			if cb.Allow() {
				t.Fatal("second half-open request should be rejected")
			}

			if tt.probeOK {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
			if cb.GetState() != tt.wantState {
				t.Fatalf("expected %s, got %s", tt.wantState, cb.GetState())
			}
		})
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3}, zap.NewNop())
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatal("success should have reset failure count")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	clock := newClock()
	cb := New(Config{Name: "stats-test", Clock: clock.Now}, zap.NewNop())
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()

	stats := cb.Stats()
	if stats.Name != "stats-test" || stats.State != "closed" {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.TotalRequests != 3 || stats.TotalSuccesses != 2 || stats.TotalFailures != 1 {
		t.Fatalf("unexpected counters %+v", stats)
	}
	if stats.LastFailure != "2020-01-01T00:00:00Z" {
		t.Errorf("last_failure = %s", stats.LastFailure)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("svc")
	if cfg.MaxFailures != 5 || cfg.RecoveryTimeout != 30*time.Second || cfg.HalfOpenMaxRequests != 1 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}
