package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/circuitbreaker"
	"github.com/lalithlochan/courier/internal/metrics"
)

// LogTransport logs envelopes instead of sending them.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport creates a log-only transport for local development.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Send logs env.
func (l *LogTransport) Send(_ context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return Permanent(err)
	}
	l.logger.Info("email not sent (log transport)",
		zap.String("from", env.From),
		zap.Strings("to", env.To),
		zap.String("subject", env.Subject),
		zap.Int("html_length", len(env.HTML)),
		zap.Int("inline_parts", len(env.Inline)),
	)
	return nil
}

// RetryConfig bounds RetryTransport.
type RetryConfig struct {
	Attempts  uint
	Delay     time.Duration
	MaxDelay  time.Duration
	MaxJitter time.Duration
}

// DefaultRetryConfig returns the stock retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  3,
		Delay:     time.Second,
		MaxDelay:  30 * time.Second,
		MaxJitter: time.Second,
	}
}

// RetryTransport retries transient failures of next with jittered backoff.
// Permanent failures and an open circuit are returned at once.
type RetryTransport struct {
	next   Transport
	config RetryConfig
	logger *zap.Logger
}

// NewRetryTransport wraps next.
func NewRetryTransport(next Transport, cfg RetryConfig, logger *zap.Logger) *RetryTransport {
	d := DefaultRetryConfig()
	if cfg.Attempts == 0 {
		cfg.Attempts = d.Attempts
	}
	if cfg.Delay == 0 {
		cfg.Delay = d.Delay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	return &RetryTransport{next: next, config: cfg, logger: logger}
}

// Send calls next until it succeeds, fails permanently or attempts run out.
func (r *RetryTransport) Send(ctx context.Context, env Envelope) error {
	return retry.Do(
		func() error {
			err := r.next.Send(ctx, env)
			if IsPermanent(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(r.config.Attempts),
		retry.Delay(r.config.Delay),
		retry.MaxDelay(r.config.MaxDelay),
		retry.MaxJitter(r.config.MaxJitter),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, circuitbreaker.ErrCircuitOpen)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Info("retrying email send after error",
				zap.Uint("attempt", n+1),
				zap.Strings("to", env.To),
				zap.Error(err),
			)
		}),
	)
}

// ProtectedTransport fails fast while its circuit breaker is open.
type ProtectedTransport struct {
	name    string
	next    Transport
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedTransport wraps next with breaker. name labels metrics.
func NewProtectedTransport(name string, next Transport, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedTransport {
	return &ProtectedTransport{name: name, next: next, breaker: breaker, logger: logger}
}

// Send passes env through the breaker. Permanent failures concern the
// message, not the service, and do not count against the breaker.
func (p *ProtectedTransport) Send(ctx context.Context, env Envelope) error {
	if !p.breaker.Allow() {
		metrics.RecordMailSend(p.name, "rejected")
		p.logger.Warn("circuit breaker rejected email",
			zap.String("breaker", p.breaker.Name()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s transport unavailable", circuitbreaker.ErrCircuitOpen, p.name)
	}

	err := p.next.Send(ctx, env)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
		metrics.RecordMailSend(p.name, "ok")
	case IsPermanent(err):
		p.breaker.RecordSuccess()
		metrics.RecordMailSend(p.name, "rejected_permanent")
	default:
		p.breaker.RecordFailure()
		metrics.RecordMailSend(p.name, "error")
	}
	return err
}

// Breaker returns the underlying circuit breaker.
func (p *ProtectedTransport) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

// ErrQuotaExceeded is returned while the shared send quota is used up.
var ErrQuotaExceeded = errors.New("send quota exceeded")

// Quota is a shared send budget.
type Quota interface {
	Take(ctx context.Context, key string) (bool, error)
}

// ThrottledTransport refuses sends beyond a shared quota.
type ThrottledTransport struct {
	next   Transport
	quota  Quota
	key    string
	logger *zap.Logger
}

// NewThrottledTransport wraps next. Every send takes one unit of key.
func NewThrottledTransport(next Transport, quota Quota, key string, logger *zap.Logger) *ThrottledTransport {
	return &ThrottledTransport{next: next, quota: quota, key: key, logger: logger}
}

// Send takes a quota unit and forwards env. A quota backend failure lets the
// send through.
func (t *ThrottledTransport) Send(ctx context.Context, env Envelope) error {
	ok, err := t.quota.Take(ctx, t.key)
	if err != nil {
		t.logger.Warn("send quota unavailable", zap.Error(err), zap.String("key", t.key))
		return t.next.Send(ctx, env)
	}
	if !ok {
		metrics.RecordMailSend(t.key, "throttled")
		return ErrQuotaExceeded
	}
	return t.next.Send(ctx, env)
}
