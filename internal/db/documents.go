package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonathan/levelup/internal/codec"
	"github.com/jonathan/levelup/internal/store"
)

// Documents is a store.DocumentStore over one collection of the documents table.
// Bodies are stored as the codec's wire JSON in a JSONB column.
type Documents struct {
	pool       *pgxpool.Pool
	collection string
}

var _ store.DocumentStore = (*Documents)(nil)

// Get implements store.DocumentStore.
func (d *Documents) Get(ctx context.Context, id string) (*store.Document, error) {
	var (
		body    []byte
		version int64
	)
	err := d.pool.QueryRow(ctx,
		`SELECT body, version FROM documents WHERE collection = $1 AND id = $2`,
		d.collection, id,
	).Scan(&body, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return toDocument(id, body, version)
}

// Patch implements store.DocumentStore.
func (d *Documents) Patch(ctx context.Context, id string, fields codec.Map, ifVersion string) (string, error) {
	body, err := codec.MarshalFields(fields)
	if err != nil {
		return "", err
	}

	if ifVersion == "" {
		tag, err := d.pool.Exec(ctx,
			`INSERT INTO documents (collection, id, body, version)
			 VALUES ($1, $2, $3, 1)
			 ON CONFLICT (collection, id) DO NOTHING`,
			d.collection, id, body,
		)
		if err != nil {
			return "", fmt.Errorf("failed to create document %s: %w", id, err)
		}
		if tag.RowsAffected() != 1 {
			return "", store.ErrConflict
		}
		return "1", nil
	}

	expected, err := strconv.ParseInt(ifVersion, 10, 64)
	if err != nil {
		return "", store.ErrConflict
	}
	var next int64
	err = d.pool.QueryRow(ctx,
		`UPDATE documents SET body = $1, version = version + 1, updated_at = NOW()
		 WHERE collection = $2 AND id = $3 AND version = $4
		 RETURNING version`,
		body, d.collection, id, expected,
	).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrConflict
		}
		return "", fmt.Errorf("failed to update document %s: %w", id, err)
	}
	return strconv.FormatInt(next, 10), nil
}

// List implements store.DocumentStore with keyset pagination on id.
func (d *Documents) List(ctx context.Context, pageSize int, pageToken string) (*store.Page, error) {
	if pageSize <= 0 {
		pageSize = store.DefaultPageSize
	}
	rows, err := d.pool.Query(ctx,
		`SELECT id, body, version FROM documents
		 WHERE collection = $1 AND id > $2
		 ORDER BY id
		 LIMIT $3`,
		d.collection, pageToken, pageSize+1,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	page := &store.Page{}
	for rows.Next() {
		var (
			id      string
			body    []byte
			version int64
		)
		if err := rows.Scan(&id, &body, &version); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := toDocument(id, body, version)
		if err != nil {
			return nil, err
		}
		page.Documents = append(page.Documents, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	if len(page.Documents) > pageSize {
		page.Documents = page.Documents[:pageSize]
		page.NextPageToken = page.Documents[pageSize-1].ID
	}
	return page, nil
}

func toDocument(id string, body []byte, version int64) (*store.Document, error) {
	fields, err := codec.UnmarshalFields(body)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	return &store.Document{ID: id, Fields: fields, Version: strconv.FormatInt(version, 10)}, nil
}
