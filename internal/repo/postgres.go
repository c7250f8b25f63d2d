package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides typed access to Postgres resources.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres opens a new connection pool to the database.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes SQL files against the pool in lexicographical order.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
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

		err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			_, execErr := tx.Exec(ctx, string(sqlBytes))
			return execErr
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		r.logger.Info("applied migration", "file", name)
	}

	return nil
}

// sessionDataJSON serializes the tagged session payload for storage, NULL when absent.
func sessionDataJSON(data *TxnSession) (*string, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode session data: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func sessionDataFromJSON(raw *string) (*TxnSession, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var data TxnSession
	if err := json.Unmarshal([]byte(*raw), &data); err != nil {
		return nil, fmt.Errorf("decode session data: %w", err)
	}
	return &data, nil
}
