package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/levelup/internal/codec"
	"github.com/jonathan/levelup/internal/curriculum"
	"github.com/jonathan/levelup/internal/store"
)

var testStart = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testStart}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.Memory, *fakeClock) {
	t.Helper()
	mem := store.NewMemory()
	clock := newFakeClock()
	all := append([]Option{WithClock(clock)}, opts...)
	return NewEngine(mem, curriculum.Default(), all...), mem, clock
}

func testUser(id string) UserRef {
	return UserRef{ID: id, Profile: Profile{DisplayName: "Ada", Email: id + "@example.com"}}
}

// faultyStore wraps a store and fails selected calls.
type faultyStore struct {
	store.DocumentStore

	mu           sync.Mutex
	getErr       error
	patchErr     error
	conflictsFor int // number of Patch calls that report ErrConflict
	patchCalls   int
}

func (f *faultyStore) Get(ctx context.Context, id string) (*store.Document, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.DocumentStore.Get(ctx, id)
}

func (f *faultyStore) Patch(ctx context.Context, id string, fields codec.Map, ifVersion string) (string, error) {
	f.mu.Lock()
	f.patchCalls++
	if f.patchErr != nil {
		err := f.patchErr
		f.mu.Unlock()
		return "", err
	}
	if f.conflictsFor > 0 {
		f.conflictsFor--
		f.mu.Unlock()
		return "", store.ErrConflict
	}
	f.mu.Unlock()
	return f.DocumentStore.Patch(ctx, id, fields, ifVersion)
}

func (f *faultyStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patchCalls
}

// blockingStore never answers until the context ends.
type blockingStore struct {
	store.DocumentStore
}

func (blockingStore) Get(ctx context.Context, _ string) (*store.Document, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) List(ctx context.Context, _ int, _ string) (*store.Page, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
