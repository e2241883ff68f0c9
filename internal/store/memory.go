package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/jonathan/levelup/internal/codec"
)

type memoryRecord struct {
	body    []byte
	version int64
}

// Memory is an in-process DocumentStore. Bodies are held in wire JSON so that
// callers never share mutable state with the store.
type Memory struct {
	mu   sync.Mutex
	docs map[string]memoryRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]memoryRecord)}
}

// Get implements DocumentStore.
func (m *Memory) Get(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	rec, ok := m.docs[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return rec.document(id)
}

// Patch implements DocumentStore.
func (m *Memory) Patch(ctx context.Context, id string, fields codec.Map, ifVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := codec.MarshalFields(fields)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.docs[id]
	switch {
	case ifVersion == "" && exists:
		return "", ErrConflict
	case ifVersion != "" && (!exists || strconv.FormatInt(cur.version, 10) != ifVersion):
		return "", ErrConflict
	}

	next := memoryRecord{body: body, version: cur.version + 1}
	m.docs[id] = next
	return strconv.FormatInt(next.version, 10), nil
}

// List implements DocumentStore. Documents are returned in id order and the
// page token is the last id of the previous page.
func (m *Memory) List(ctx context.Context, pageSize int, pageToken string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		if id > pageToken {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	more := len(ids) > pageSize
	if more {
		ids = ids[:pageSize]
	}
	records := make([]memoryRecord, len(ids))
	for i, id := range ids {
		records[i] = m.docs[id]
	}
	m.mu.Unlock()

	page := &Page{Documents: make([]Document, 0, len(ids))}
	for i, id := range ids {
		doc, err := records[i].document(id)
		if err != nil {
			return nil, err
		}
		page.Documents = append(page.Documents, *doc)
	}
	if more {
		page.NextPageToken = ids[len(ids)-1]
	}
	return page, nil
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (r memoryRecord) document(id string) (*Document, error) {
	fields, err := codec.UnmarshalFields(r.body)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Fields: fields, Version: strconv.FormatInt(r.version, 10)}, nil
}
