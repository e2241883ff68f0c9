// Package store defines the remote document store contract the progression
// engine persists through, and its Firestore, SQLite and in-memory backends.
//
// Every backend stores document bodies in the codec's wire form and supports
// conditional writes keyed on an opaque version token.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/levelup/internal/codec"
)

var (
	// ErrNotFound is returned by Get when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned by Patch when the version precondition does not hold.
	ErrConflict = errors.New("document version conflict")
)

// DefaultPageSize is used by List when pageSize is not positive.
const DefaultPageSize = 100

// Document is one stored record.
type Document struct {
	ID      string
	Fields  codec.Map
	Version string
}

// Page is one slice of a List result. NextPageToken is empty on the last page.
type Page struct {
	Documents     []Document
	NextPageToken string
}

// DocumentStore is a key-value document store with conditional writes.
//
// Patch replaces the document body. An empty ifVersion means the document
// must not exist yet; otherwise the stored version must equal ifVersion.
// A failed precondition returns ErrConflict and leaves the document untouched.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*Document, error)
	Patch(ctx context.Context, id string, fields codec.Map, ifVersion string) (string, error)
	List(ctx context.Context, pageSize int, pageToken string) (*Page, error)
}

// StatusError is a non-success response from a remote store.
type StatusError struct {
	Status int
	Code   string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("document store returned %d %s: %s", e.Status, e.Code, e.Body)
	}
	return fmt.Sprintf("document store returned %d: %s", e.Status, e.Body)
}

// ListAll pages through the whole collection.
func ListAll(ctx context.Context, s DocumentStore, pageSize int) ([]Document, error) {
	var (
		all   []Document
		token string
	)
	for {
		page, err := s.List(ctx, pageSize, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Documents...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}
