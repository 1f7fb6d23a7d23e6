package encstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PostgresStore keeps encodings in a pgvector-enabled PostgreSQL table and
// delegates nearest-neighbour search to the database.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// schemaTemplate creates the extension and table. The vector column dimension
// comes from the embedding model (128 for dlib-style face encodings).
const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS face_encodings (
    id        BIGSERIAL PRIMARY KEY,
    name      TEXT NOT NULL,
    embedding vector(%d) NOT NULL,
    added_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS face_encodings_name_idx ON face_encodings (name);
`

// OpenPostgres creates a PostgresStore for the database at dsn, registers
// pgvector types on every connection, and ensures the schema exists.
// dimensions must match the embedding model's output dimension; changing it
// after the first migration requires a manual schema change.
//
// Like the file store, an empty table is an error unless [AllowEmpty] is
// given: recognition cannot work without enrolled encodings, but the
// enrollment tool has to start somewhere.
func OpenPostgres(ctx context.Context, dsn string, dimensions int, opts ...OpenOption) (*PostgresStore, error) {
	if dimensions < 1 {
		return nil, fmt.Errorf("encstore: embedding dimensions must be >= 1, got %d", dimensions)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("encstore: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("encstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("encstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaTemplate, dimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("encstore: migrate schema: %w", err)
	}

	var oc openConfig
	for _, o := range opts {
		o(&oc)
	}

	s := &PostgresStore{pool: pool, dimensions: dimensions}
	if !oc.allowEmpty {
		count, err := s.Count(ctx)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if count == 0 {
			pool.Close()
			return nil, fmt.Errorf("encstore: face_encodings table: %w", ErrNoEncodings)
		}
	}
	return s, nil
}

// Nearest returns the closest stored encoding to probe by L2 distance, using
// the pgvector <-> operator so the database does the scan.
func (s *PostgresStore) Nearest(ctx context.Context, probe []float32) (Match, error) {
	if len(probe) != s.dimensions {
		return Match{}, fmt.Errorf("encstore: encoding dimension mismatch: %d vs %d", len(probe), s.dimensions)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT name, embedding <-> $1 AS distance
		FROM face_encodings
		ORDER BY embedding <-> $1
		LIMIT 1`,
		pgvector.NewVector(probe),
	)

	var m Match
	if err := row.Scan(&m.Name, &m.Distance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Match{}, ErrNoEncodings
		}
		return Match{}, fmt.Errorf("encstore: nearest lookup: %w", err)
	}
	return m, nil
}

// Count reports the number of stored encodings.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM face_encodings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("encstore: count encodings: %w", err)
	}
	return count, nil
}

// Add inserts an encoding for name.
func (s *PostgresStore) Add(ctx context.Context, name string, encoding []float32) error {
	if name == "" {
		return fmt.Errorf("encstore: name must not be empty")
	}
	if len(encoding) != s.dimensions {
		return fmt.Errorf("encstore: encoding dimension mismatch: %d vs %d", len(encoding), s.dimensions)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO face_encodings (name, embedding) VALUES ($1, $2)`,
		name, pgvector.NewVector(encoding),
	); err != nil {
		return fmt.Errorf("encstore: insert encoding: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ensure PostgresStore implements Store at compile time.
var _ Store = (*PostgresStore)(nil)
