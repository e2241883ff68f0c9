package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jonathan/levelup/internal/codec"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (collection, id)
)`

// SQLite is a DocumentStore backed by a single-file SQLite database.
type SQLite struct {
	db         *sql.DB
	collection string
}

// OpenSQLite opens (and creates if missing) the SQLite database at path and
// ensures the documents table exists.
func OpenSQLite(ctx context.Context, path, collection string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time keeps conditional updates serialized.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLite{db: db, collection: collection}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get implements DocumentStore.
func (s *SQLite) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT body, version
		FROM documents
		WHERE collection = ? AND id = ?
	`, s.collection, id)

	var (
		body    string
		version int64
	)
	if err := row.Scan(&body, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("document get: %w", err)
	}
	return decodeRow(id, body, version)
}

// Patch implements DocumentStore.
func (s *SQLite) Patch(ctx context.Context, id string, fields codec.Map, ifVersion string) (string, error) {
	body, err := codec.MarshalFields(fields)
	if err != nil {
		return "", err
	}

	if ifVersion == "" {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO documents (collection, id, body, version)
			VALUES (?, ?, ?, 1)
			ON CONFLICT (collection, id) DO NOTHING
		`, s.collection, id, string(body))
		if err != nil {
			return "", fmt.Errorf("document insert: %w", err)
		}
		if err := requireOneRow(res); err != nil {
			return "", err
		}
		return "1", nil
	}

	expected, err := strconv.ParseInt(ifVersion, 10, 64)
	if err != nil {
		return "", ErrConflict
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET body = ?, version = version + 1, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE collection = ? AND id = ? AND version = ?
	`, string(body), s.collection, id, expected)
	if err != nil {
		return "", fmt.Errorf("document update: %w", err)
	}
	if err := requireOneRow(res); err != nil {
		return "", err
	}
	return strconv.FormatInt(expected+1, 10), nil
}

// List implements DocumentStore using keyset pagination on id.
func (s *SQLite) List(ctx context.Context, pageSize int, pageToken string) (*Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, body, version
		FROM documents
		WHERE collection = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, s.collection, pageToken, pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("document list: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		var (
			id, body string
			version  int64
		)
		if err := rows.Scan(&id, &body, &version); err != nil {
			return nil, fmt.Errorf("document list scan: %w", err)
		}
		doc, err := decodeRow(id, body, version)
		if err != nil {
			return nil, err
		}
		page.Documents = append(page.Documents, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("document list: %w", err)
	}
	if len(page.Documents) > pageSize {
		page.Documents = page.Documents[:pageSize]
		page.NextPageToken = page.Documents[pageSize-1].ID
	}
	return page, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

func decodeRow(id, body string, version int64) (*Document, error) {
	fields, err := codec.UnmarshalFields([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	return &Document{ID: id, Fields: fields, Version: strconv.FormatInt(version, 10)}, nil
}
