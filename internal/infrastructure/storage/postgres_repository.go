package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"RedditRelay/internal/config"
	"RedditRelay/internal/domain"
	"RedditRelay/internal/ports"
)

const uniqueViolation = "23505"

// PostgresRepository keeps published item ids in a single Postgres table.
type PostgresRepository struct {
	db    *sqlx.DB
	table string
	psql  sq.StatementBuilderType
}

var _ ports.PublishedStore = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sqlx.DB implementation.
func NewPostgresRepository(db *sqlx.DB, table string) *PostgresRepository {
	return &PostgresRepository{
		db:    db,
		table: table,
		psql:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.ConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// EnsureSchema creates the dedup table if it does not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    post_id VARCHAR(255) NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, pq.QuoteIdentifier(r.table))

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure table %s: %w", r.table, err)
	}
	return nil
}

// IsPublished reports whether the item id has a record.
func (r *PostgresRepository) IsPublished(ctx context.Context, itemID string) (bool, error) {
	query, args, err := r.psql.
		Select("1").
		From(pq.QuoteIdentifier(r.table)).
		Where(sq.Eq{"post_id": itemID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build lookup: %w", err)
	}

	var found int
	if err := r.db.GetContext(ctx, &found, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup %s: %w", itemID, err)
	}

	return true, nil
}

// MarkPublished inserts a record for the item id.
func (r *PostgresRepository) MarkPublished(ctx context.Context, itemID string) error {
	query, args, err := r.psql.
		Insert(pq.QuoteIdentifier(r.table)).
		Columns("post_id").
		Values(itemID).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("insert %s: %w", itemID, domain.ErrAlreadyRecorded)
		}
		return fmt.Errorf("insert %s: %w", itemID, err)
	}

	return nil
}
