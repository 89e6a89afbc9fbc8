package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

const columns = `id, name, owner, url, description, stars, language, default_branch,
	status, chunks_indexed, indexed_at, created_at, updated_at`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, pings and applies migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded migrations in file name order. Every
// migration is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(names)

	_, err = Transact(ctx, s.pool, func(tx pgx.Tx) (struct{}, error) {
		for _, name := range names {
			body, err := migrations.ReadFile(name)
			if err != nil {
				return struct{}{}, fmt.Errorf("reading %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return struct{}{}, fmt.Errorf("applying %s: %w", name, err)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// Transact runs fn in a transaction, committing when it returns nil.
func Transact[T any](ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return zero, fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) UpsertByURL(ctx context.Context, meta Metadata, status Status) (*Repository, error) {
	return upsert(ctx, s.pool, meta, status)
}

func (s *PostgresStore) Create(ctx context.Context, meta Metadata, status Status) (*Repository, error) {
	r, err := insert(ctx, s.pool, meta, status)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrAlreadyExists
	}
	return r, nil
}

// TryBeginIndexing claims url for indexing. A first-time URL is claimed by
// inserting its row; concurrent inserts of the same URL wait on the unique
// index and then see the committed claim. An existing row is locked before
// its status is checked.
func (s *PostgresStore) TryBeginIndexing(ctx context.Context, meta Metadata, staleAfter time.Duration) (*Repository, error) {
	return Transact(ctx, s.pool, func(tx pgx.Tx) (*Repository, error) {
		created, err := insert(ctx, tx, meta, StatusIndexing)
		if err != nil {
			return nil, err
		}
		if created != nil {
			return created, nil
		}

		var (
			status    string
			updatedAt time.Time
		)
		err = tx.QueryRow(ctx,
			`SELECT status, updated_at FROM repositories WHERE url = $1 FOR UPDATE`, meta.URL,
		).Scan(&status, &updatedAt)
		switch {
		case err != nil:
			return nil, fmt.Errorf("locking repository: %w", err)
		case Status(status) == StatusIndexing && time.Since(updatedAt) < staleAfter:
			return nil, ErrIndexingInProgress
		}
		return upsert(ctx, tx, meta, StatusIndexing)
	})
}

// insert adds a row for meta and returns nil when the URL already exists.
func insert(ctx context.Context, q querier, meta Metadata, status Status) (*Repository, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO repositories (id, name, owner, url, description, stars, language, default_branch, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9)
		ON CONFLICT (url) DO NOTHING
		RETURNING `+columns,
		uuid.NewString(), meta.Name, meta.Owner, meta.URL, meta.Description,
		meta.Stars, meta.Language, meta.DefaultBranch, string(status),
	)
	r, err := scanRepository(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inserting repository %s: %w", meta.URL, err)
	}
	return r, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsert(ctx context.Context, q querier, meta Metadata, status Status) (*Repository, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO repositories (id, name, owner, url, description, stars, language, default_branch, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9)
		ON CONFLICT (url) DO UPDATE SET
			name = EXCLUDED.name,
			owner = EXCLUDED.owner,
			description = EXCLUDED.description,
			stars = EXCLUDED.stars,
			language = EXCLUDED.language,
			default_branch = EXCLUDED.default_branch,
			status = EXCLUDED.status,
			updated_at = now()
		RETURNING `+columns,
		uuid.NewString(), meta.Name, meta.Owner, meta.URL, meta.Description,
		meta.Stars, meta.Language, meta.DefaultBranch, string(status),
	)
	r, err := scanRepository(row)
	if err != nil {
		return nil, fmt.Errorf("upserting repository %s: %w", meta.URL, err)
	}
	return r, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Repository, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return s.one(ctx, `SELECT `+columns+` FROM repositories WHERE id = $1`, id)
}

func (s *PostgresStore) GetByURL(ctx context.Context, url string) (*Repository, error) {
	return s.one(ctx, `SELECT `+columns+` FROM repositories WHERE url = $1`, url)
}

func (s *PostgresStore) List(ctx context.Context) ([]*Repository, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+columns+` FROM repositories ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	out := []*Repository{}
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkIndexed(ctx context.Context, id string, chunks int, at time.Time) (*Repository, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return s.one(ctx, `
		UPDATE repositories
		SET status = $2, chunks_indexed = $3, indexed_at = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+columns, id, string(StatusIndexed), chunks, at.UTC())
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, reason string) (*Repository, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return s.one(ctx, `
		UPDATE repositories SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+columns, id, string(FailedStatus(reason)))
}

func (s *PostgresStore) ResetIndex(ctx context.Context, id string) (*Repository, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return s.one(ctx, `
		UPDATE repositories SET status = $2, chunks_indexed = 0, updated_at = now()
		WHERE id = $1
		RETURNING `+columns, id, string(StatusIndexed))
}

// Close closes the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) one(ctx context.Context, sql string, args ...any) (*Repository, error) {
	r, err := scanRepository(s.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying repository: %w", err)
	}
	return r, nil
}

// validID rejects ids that would fail the uuid cast in PostgreSQL.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanRepository(row pgx.Row) (*Repository, error) {
	var (
		r                             Repository
		description, language, branch *string
		status                        string
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.Owner, &r.URL, &description, &r.Stars, &language, &branch,
		&status, &r.ChunksIndexed, &r.IndexedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if description != nil {
		r.Description = *description
	}
	if language != nil {
		r.Language = *language
	}
	if branch != nil {
		r.DefaultBranch = *branch
	}
	return &r, nil
}
