package digest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/courier/internal/mail"
	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/namespace"
	"github.com/lalithlochan/courier/internal/preference"
	"github.com/lalithlochan/courier/internal/store"
)

// Skip reasons reported to metrics.
const (
	skipUnknownNamespace = "unknown_namespace"
	skipDigestsDisabled  = "digests_disabled"
	skipNoResolver       = "no_resolver"
	skipOptedOut         = "opted_out"
	skipNoEmail          = "no_email"
	skipEmpty            = "empty"
	skipDuplicate        = "duplicate"
)

// Store is the subset of store.Store the pipeline reads.
type Store interface {
	Namespaces(ctx context.Context, start, end *time.Time) ([]string, error)
	NotificationsForUser(ctx context.Context, userID int64, f store.Filters, opts store.Options) ([]store.UserNotification, error)
}

// Dedupe remembers digests already sent so a re-run of the same window does
// not mail a user twice.
type Dedupe interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Request is one digest run. From nil means no lower bound.
type Request struct {
	From           *time.Time
	To             *time.Time
	PreferenceName string
	Subject        string
	FromEmail      string
	UnreadOnly     bool
}

// PipelineConfig holds the pipeline collaborators. Dedupe and Limiter are
// optional.
type PipelineConfig struct {
	Namespaces    *namespace.Registry
	Preferences   *preference.Engine
	Grouper       *Grouper
	Composer      *Composer
	Transport     mail.Transport
	DontSendEmpty bool
	Dedupe        Dedupe
	DedupeTTL     time.Duration
	Limiter       *rate.Limiter
}

// Pipeline sends digests for every namespace with activity in a window.
type Pipeline struct {
	store  Store
	config PipelineConfig
	logger *zap.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(s Store, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if cfg.DedupeTTL == 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	return &Pipeline{store: s, config: cfg, logger: logger}
}

// SendDigest runs req over every namespace with notifications in the window
// and returns the number of digests sent. A failing namespace does not stop
// the others; all failures are returned joined.
func (p *Pipeline) SendDigest(ctx context.Context, req Request) (int, error) {
	namespaces, err := p.store.Namespaces(ctx, req.From, req.To)
	if err != nil {
		return 0, fmt.Errorf("list namespaces: %w", err)
	}

	total := 0
	var errs []error
	for _, ns := range namespaces {
		n, err := p.NamespaceDigest(ctx, ns, req)
		total += n
		if err != nil {
			p.logger.Error("namespace digest failed",
				zap.Error(err),
				zap.String("namespace", ns),
				zap.String("preference_name", req.PreferenceName),
			)
			errs = append(errs, fmt.Errorf("namespace %s: %w", ns, err))
		}
	}

	p.logger.Info("digest run complete",
		zap.String("preference_name", req.PreferenceName),
		zap.Int("namespaces", len(namespaces)),
		zap.Int("sent", total),
	)
	return total, errors.Join(errs...)
}

// NamespaceDigest sends req to every user of ns that wants it.
func (p *Pipeline) NamespaceDigest(ctx context.Context, ns string, req Request) (int, error) {
	info, ok := p.config.Namespaces.Lookup(ns)
	if !ok {
		p.skipNamespace(ns, skipUnknownNamespace)
		return 0, nil
	}
	if !info.DigestsEnabled() {
		p.skipNamespace(ns, skipDigestsDisabled)
		return 0, nil
	}
	if info.DefaultUserResolver == nil {
		p.skipNamespace(ns, skipNoResolver)
		return 0, nil
	}

	defaultWants, err := p.config.Preferences.Default(ctx, req.PreferenceName)
	if err != nil {
		return 0, err
	}

	scope := map[string]any{
		"namespace": ns,
		"fields":    namespace.DefaultUserFields,
	}

	sent := 0
	var errs []error
	for user, err := range info.DefaultUserResolver.Resolve(ctx, namespace.ScopeNamespaceUsers, scope, "") {
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve users: %w", err))
			break
		}
		if !p.config.Preferences.UserWants(ctx, user.ID, req.PreferenceName, defaultWants) {
			metrics.RecordDigestSkipped(skipOptedOut)
			continue
		}

		n, err := p.UserDigest(ctx, info, user, req)
		if err != nil {
			metrics.RecordDigestFailed()
			p.logger.Error("user digest failed",
				zap.Error(err),
				zap.String("namespace", ns),
				zap.Int64("user_id", user.ID),
			)
			errs = append(errs, fmt.Errorf("user %d: %w", user.ID, err))
			continue
		}
		sent += n
	}
	return sent, errors.Join(errs...)
}

// UserDigest sends one digest to user and returns 1, or 0 when it was
// skipped.
func (p *Pipeline) UserDigest(ctx context.Context, info namespace.Info, user namespace.User, req Request) (int, error) {
	if user.Email == "" {
		metrics.RecordDigestSkipped(skipNoEmail)
		p.logger.Debug("user has no email address", zap.Int64("user_id", user.ID))
		return 0, nil
	}

	notifications, err := p.notifications(ctx, user.ID, store.Filters{
		Namespace: info.Namespace,
		Read:      !req.UnreadOnly,
		Unread:    true,
		StartDate: req.From,
		EndDate:   req.To,
	})
	if err != nil {
		return 0, err
	}

	groups := p.config.Grouper.Group(notifications)
	if len(groups) == 0 && p.config.DontSendEmpty {
		metrics.RecordDigestSkipped(skipEmpty)
		return 0, nil
	}

	key, reserved := p.reserve(ctx, info.Namespace, user.ID, req)
	if !reserved {
		metrics.RecordDigestSkipped(skipDuplicate)
		p.logger.Info("digest already sent for window",
			zap.String("namespace", info.Namespace),
			zap.Int64("user_id", user.ID),
		)
		return 0, nil
	}

	if err := p.send(ctx, info, user, groups, req); err != nil {
		p.release(ctx, key)
		return 0, err
	}

	metrics.RecordDigestSent(req.PreferenceName)
	p.logger.Info("digest sent",
		zap.String("namespace", info.Namespace),
		zap.Int64("user_id", user.ID),
		zap.String("preference_name", req.PreferenceName),
		zap.Int("groups", len(groups)),
	)
	return 1, nil
}

func (p *Pipeline) send(ctx context.Context, info namespace.Info, user namespace.User, groups []Group, req Request) error {
	env, err := p.config.Composer.Compose(info, user, groups, req.Subject, req.FromEmail)
	if err != nil {
		return fmt.Errorf("compose digest: %w", err)
	}
	if p.config.Limiter != nil {
		if err := p.config.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for send slot: %w", err)
		}
	}
	if err := p.config.Transport.Send(ctx, env); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	return nil
}

// notifications pages through every matching notification of userID.
func (p *Pipeline) notifications(ctx context.Context, userID int64, f store.Filters) ([]store.UserNotification, error) {
	var all []store.UserNotification
	for {
		page, err := p.store.NotificationsForUser(ctx, userID, f, store.Options{
			Offset:        len(all),
			SelectRelated: true,
		})
		if err != nil {
			return nil, fmt.Errorf("load notifications: %w", err)
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
	}
}

// reserve claims the dedupe key of this send. An empty key means dedupe is
// off. Dedupe outages are logged and the digest is sent anyway.
func (p *Pipeline) reserve(ctx context.Context, ns string, userID int64, req Request) (string, bool) {
	if p.config.Dedupe == nil || req.To == nil {
		return "", true
	}
	key := "digest:" + req.PreferenceName + ":" + ns + ":" + strconv.FormatInt(userID, 10) + ":" + req.To.UTC().Format("2006-01-02")

	ok, err := p.config.Dedupe.Reserve(ctx, key, p.config.DedupeTTL)
	if err != nil {
		p.logger.Warn("digest dedupe unavailable, sending anyway",
			zap.Error(err),
			zap.String("key", key),
		)
		return "", true
	}
	return key, ok
}

func (p *Pipeline) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := p.config.Dedupe.Release(ctx, key); err != nil {
		p.logger.Warn("failed to release digest dedupe key", zap.Error(err), zap.String("key", key))
	}
}

func (p *Pipeline) skipNamespace(ns, reason string) {
	metrics.RecordNamespaceSkipped(reason)
	p.logger.Info("skipping namespace for digest",
		zap.String("namespace", ns),
		zap.String("reason", reason),
	)
}
