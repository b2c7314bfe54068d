package namespace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"
)

// ScopeNamespaceUsers asks a resolver for every user of a namespace. The
// scope context carries "namespace" and "fields".
const ScopeNamespaceUsers = "namespace_scope"

// DefaultUserFields are the attributes the digest pipeline needs.
var DefaultUserFields = []string{"id", "email", "first_name", "last_name"}

// ErrUnsupportedScope is yielded by resolvers for scopes they do not serve.
var ErrUnsupportedScope = errors.New("unsupported resolver scope")

// User is a resolved recipient.
type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UserResolver enumerates the users of a scope. Implementations may stream;
// callers stop early by breaking out of the range loop.
type UserResolver interface {
	Resolve(ctx context.Context, scopeName string, scopeContext map[string]any, cursor string) iter.Seq2[User, error]
}

func scopeNamespace(scopeName string, scopeContext map[string]any) (string, error) {
	if scopeName != ScopeNamespaceUsers {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScope, scopeName)
	}
	ns, _ := scopeContext["namespace"].(string)
	if ns == "" {
		return "", errors.New("scope context is missing namespace")
	}
	return ns, nil
}

func yieldErr(err error) iter.Seq2[User, error] {
	return func(yield func(User, error) bool) {
		yield(User{}, err)
	}
}

// StaticResolver serves a fixed user list per namespace.
type StaticResolver struct {
	users map[string][]User
}

// NewStaticResolver creates a resolver over users keyed by namespace.
func NewStaticResolver(users map[string][]User) *StaticResolver {
	copied := make(map[string][]User, len(users))
	for ns, list := range users {
		copied[ns] = append([]User(nil), list...)
	}
	return &StaticResolver{users: copied}
}

// Resolve yields the configured users in order. The cursor is ignored.
func (r *StaticResolver) Resolve(ctx context.Context, scopeName string, scopeContext map[string]any, cursor string) iter.Seq2[User, error] {
	ns, err := scopeNamespace(scopeName, scopeContext)
	if err != nil {
		return yieldErr(err)
	}
	return func(yield func(User, error) bool) {
		for _, u := range r.users[ns] {
			if err := ctx.Err(); err != nil {
				yield(User{}, err)
				return
			}
			if !yield(u, nil) {
				return
			}
		}
	}
}

// SQLResolver streams users from a configured query. The query takes the
// namespace as its only argument and returns id, email, first_name and
// last_name in that order.
type SQLResolver struct {
	db     *sql.DB
	query  string
	logger *zap.Logger
}

// NewSQLResolver creates a resolver running query against db.
func NewSQLResolver(db *sql.DB, query string, logger *zap.Logger) (*SQLResolver, error) {
	if query == "" {
		return nil, errors.New("user resolver query is required")
	}
	return &SQLResolver{db: db, query: query, logger: logger}, nil
}

// Resolve runs the query when iteration starts and yields one user per row.
func (r *SQLResolver) Resolve(ctx context.Context, scopeName string, scopeContext map[string]any, cursor string) iter.Seq2[User, error] {
	ns, err := scopeNamespace(scopeName, scopeContext)
	if err != nil {
		return yieldErr(err)
	}
	return func(yield func(User, error) bool) {
		rows, err := r.db.QueryContext(ctx, r.query, ns)
		if err != nil {
			yield(User{}, fmt.Errorf("query namespace users: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				u                          User
				email, firstName, lastName sql.NullString
			)
			if err := rows.Scan(&u.ID, &email, &firstName, &lastName); err != nil {
				yield(User{}, fmt.Errorf("scan namespace user: %w", err))
				return
			}
			u.Email, u.FirstName, u.LastName = email.String, firstName.String, lastName.String
			if !yield(u, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(User{}, fmt.Errorf("iterate rows: %w", err))
		}
	}
}
