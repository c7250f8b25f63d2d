package repo

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRepository provides access to a local SQLite database. It backs
// single-node deployments and the test suite.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens a new connection to the SQLite database at path.
// ":memory:" gives an ephemeral in-process database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteRepository, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The driver serializes writes; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
	}, nil
}

// Close releases the database connection.
func (r *SQLiteRepository) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

// Ping ensures the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations executes SQL files against the database in lexicographical order.
func (r *SQLiteRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	entries, err := migrationFiles(filesystem)
	if err != nil {
		return err
	}

	for _, name := range entries {
		sqlBytes, err := fs.ReadFile(filesystem, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		if _, err := r.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		r.logger.Info("applied migration", "file", name)
	}

	return nil
}

func randomUUID() string {
	return uuid.NewString()
}
