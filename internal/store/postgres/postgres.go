package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"opsledger/backend/internal/store"
	"opsledger/backend/internal/xid"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection text NOT NULL,
	id text NOT NULL,
	body jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_body_idx ON documents USING gin (body jsonb_path_ops);
`

// Store keeps every collection in one JSONB table. The record key is the id
// column and is not repeated inside body.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure documents schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ListAll(ctx context.Context, collection string) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, body
		FROM documents
		WHERE collection = $1
		ORDER BY created_at, id
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("postgres list %s: %w", collection, err)
	}
	return scanRecords(rows, collection)
}

func (s *Store) QueryEqual(ctx context.Context, collection string, field string, value any) ([]store.Record, error) {
	if field == store.KeyField {
		key, _ := value.(string)
		rec, ok, err := s.GetByKey(ctx, collection, key)
		if err != nil || !ok {
			return []store.Record{}, err
		}
		return []store.Record{rec}, nil
	}

	want, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, body
		FROM documents
		WHERE collection = $1 AND body @> jsonb_build_object($2::text, $3::jsonb)
		ORDER BY created_at, id
	`, collection, field, string(want))
	if err != nil {
		return nil, fmt.Errorf("postgres query %s.%s: %w", collection, field, err)
	}
	return scanRecords(rows, collection)
}

// QueryOrdered uses jsonb ordering, so numbers sort numerically and strings
// lexically. Records without the field are left out.
func (s *Store) QueryOrdered(ctx context.Context, collection string, field string, dir store.Direction) ([]store.Record, error) {
	query := `SELECT id, body FROM documents WHERE collection = $1 AND body ? $2::text ORDER BY body -> $2::text ASC, created_at, id`
	args := []any{collection, field}
	switch {
	case field == store.KeyField && dir == store.Descending:
		query, args = `SELECT id, body FROM documents WHERE collection = $1 ORDER BY id DESC`, args[:1]
	case field == store.KeyField:
		query, args = `SELECT id, body FROM documents WHERE collection = $1 ORDER BY id ASC`, args[:1]
	case dir == store.Descending:
		query = `SELECT id, body FROM documents WHERE collection = $1 AND body ? $2::text ORDER BY body -> $2::text DESC, created_at, id`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres order %s by %s: %w", collection, field, err)
	}
	return scanRecords(rows, collection)
}

func (s *Store) GetByKey(ctx context.Context, collection string, key string) (store.Record, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT body
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres get %s/%s: %w", collection, key, err)
	}
	rec, err := decodeBody(key, body)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *Store) Upsert(ctx context.Context, collection string, key string, record store.Record) error {
	if key == "" {
		return store.ErrEmptyKey
	}
	body, err := encodeBody(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, now(), now())
		ON CONFLICT (collection, id)
		DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`, collection, key, body)
	if err != nil {
		return fmt.Errorf("postgres upsert %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, collection string, record store.Record) (string, error) {
	body, err := encodeBody(record)
	if err != nil {
		return "", err
	}
	for attempt := 0; ; attempt++ {
		key := xid.New("")
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO documents (collection, id, body, created_at, updated_at)
			VALUES ($1, $2, $3::jsonb, now(), now())
		`, collection, key, body)
		if err == nil {
			return key, nil
		}
		if !isUniqueViolation(err) || attempt > 0 {
			return "", fmt.Errorf("postgres append %s: %w", collection, err)
		}
	}
}

func encodeBody(record store.Record) (string, error) {
	body := make(map[string]any, len(record))
	for k, v := range record {
		if k == store.KeyField {
			continue
		}
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	return string(payload), nil
}

func decodeBody(key string, body []byte) (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	if rec == nil {
		rec = store.Record{}
	}
	rec[store.KeyField] = key
	return rec, nil
}

func scanRecords(rows *sql.Rows, collection string) ([]store.Record, error) {
	defer rows.Close()

	out := make([]store.Record, 0, 64)
	for rows.Next() {
		var (
			key  string
			body []byte
		)
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("postgres scan %s: %w", collection, err)
		}
		rec, err := decodeBody(key, body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres rows %s: %w", collection, err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
