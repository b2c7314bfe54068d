package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// Migrations returns the embedded migration set for driver.
func Migrations(driver string) (fs.FS, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
		return fs.Sub(migrationFS, "migrations/"+driver)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}
}

// Migrate applies every *.up.sql file of fsys not yet recorded in
// schema_migrations, in name order, each inside its own transaction.
func Migrate(ctx context.Context, sqlDB *sql.DB, driver string, fsys fs.FS, logger *zap.Logger) (int, int, error) {
	if _, err := sqlDB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)`); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return 0, 0, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	existsQuery := "SELECT COUNT(*) FROM schema_migrations WHERE name = ?"
	markQuery := "INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)"
	if driver == DriverPostgres {
		existsQuery = "SELECT COUNT(*) FROM schema_migrations WHERE name = $1"
		markQuery = "INSERT INTO schema_migrations (name, applied_at) VALUES ($1, $2)"
	}

	applied, skipped := 0, 0
	for _, name := range names {
		var n int
		if err := sqlDB.QueryRowContext(ctx, existsQuery, name).Scan(&n); err != nil {
			return applied, skipped, fmt.Errorf("check applied %s: %w", name, err)
		}
		if n > 0 {
			skipped++
			continue
		}

		contents, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, skipped, fmt.Errorf("read %s: %w", name, err)
		}

		start := time.Now()
		if err := applyMigration(ctx, sqlDB, string(contents), markQuery, name); err != nil {
			return applied, skipped, err
		}

		applied++
		logger.Info("migration applied",
			zap.String("name", name),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)),
		)
	}

	return applied, skipped, nil
}

func applyMigration(ctx context.Context, sqlDB *sql.DB, contents, markQuery, name string) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(contents) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute %s: %w", name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, markQuery, name, time.Now().UTC().UnixMicro()); err != nil {
		return fmt.Errorf("mark applied %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

// splitStatements splits a migration on statement terminators at line end.
// Comment-only fragments are dropped.
func splitStatements(contents string) []string {
	var stmts []string
	for _, part := range strings.Split(contents, ";\n") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if part == "" || onlyComments(part) {
			continue
		}
		stmts = append(stmts, part)
	}
	return stmts
}

func onlyComments(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
