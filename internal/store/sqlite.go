package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS route_tokens (
	route             TEXT PRIMARY KEY,
	token             TEXT NOT NULL UNIQUE,
	description       TEXT NOT NULL DEFAULT '',
	user_id           INTEGER NOT NULL,
	is_public         INTEGER NOT NULL DEFAULT 0,
	is_active         INTEGER NOT NULL DEFAULT 1,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	last_connected_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_route_tokens_user ON route_tokens(user_id);
CREATE INDEX IF NOT EXISTS idx_route_tokens_public ON route_tokens(is_public) WHERE is_public = 1;
`

// SQLiteStore is the reference persisted RouteStore, backed by
// modernc.org/sqlite (a pure-Go, CGo-free driver).
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) the sqlite database at dsn
// and ensures the route_tokens table exists. dsn is a modernc.org/sqlite
// data source, typically a filesystem path such as "routetunnel.db".
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// the sqlite driver serializes writes internally; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_tokens
			(route, token, description, user_id, is_public, is_active, created_at, updated_at, last_connected_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, NULL)
		ON CONFLICT(route) DO UPDATE SET
			token = excluded.token,
			description = excluded.description,
			user_id = excluded.user_id,
			is_public = excluded.is_public,
			is_active = 1,
			updated_at = excluded.updated_at,
			last_connected_at = NULL
		WHERE route_tokens.is_active = 0
	`,
		rec.Route, rec.Token, rec.Description, rec.UserID, rec.IsPublic,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting route record: %w", err)
	}

	existing, err := s.GetByRoute(ctx, rec.Route)
	if err != nil {
		return err
	}
	if existing == nil || existing.Token != rec.Token {
		return ErrRouteExists
	}
	return nil
}

func (s *SQLiteStore) GetByRoute(ctx context.Context, route string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT route, token, description, user_id, is_public, is_active, created_at, updated_at, last_connected_at
		FROM route_tokens WHERE route = ?
	`, route)
	return scanRecord(row)
}

func (s *SQLiteStore) GetByToken(ctx context.Context, token string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT route, token, description, user_id, is_public, is_active, created_at, updated_at, last_connected_at
		FROM route_tokens WHERE token = ? AND is_active = 1
	`, token)
	return scanRecord(row)
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT route, token, description, user_id, is_public, is_active, created_at, updated_at, last_connected_at
		FROM route_tokens WHERE user_id = ? AND is_active = 1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing routes by user: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) ListPublic(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT route, token, description, user_id, is_public, is_active, created_at, updated_at, last_connected_at
		FROM route_tokens WHERE is_public = 1 AND is_active = 1
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing public routes: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) UpdateLastConnected(ctx context.Context, route string, when time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE route_tokens SET last_connected_at = ?, updated_at = ?
		WHERE route = ? AND is_active = 1
	`, formatTime(when), formatTime(when), route)
	if err != nil {
		return fmt.Errorf("updating last_connected_at: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, route string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE route_tokens SET is_active = 0, updated_at = ?
		WHERE route = ? AND is_active = 1
	`, formatTime(time.Now()), route)
	if err != nil {
		return false, fmt.Errorf("soft-deleting route: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec             Record
		isPublic        int
		isActive        int
		createdAt       string
		updatedAt       string
		lastConnectedAt sql.NullString
	)
	err := row.Scan(&rec.Route, &rec.Token, &rec.Description, &rec.UserID,
		&isPublic, &isActive, &createdAt, &updatedAt, &lastConnectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning route record: %w", err)
	}

	rec.IsPublic = isPublic != 0
	rec.IsActive = isActive != 0
	rec.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	if lastConnectedAt.Valid {
		t, err := parseTime(lastConnectedAt.String)
		if err != nil {
			return nil, err
		}
		rec.LastConnectedAt = &t
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating route records: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}
