// Package storetest provides the behavioural test suite every store.DocumentStore backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/jonathan/levelup/internal/codec"
	"github.com/jonathan/levelup/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.DocumentStore

// Run exercises create, conditional update, conflict and paging semantics.
func Run(t *testing.T, newStore Factory) {
	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "nobody")
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	})

	t.Run("create then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		body := sampleBody(1)

		v1, err := s.Patch(ctx, "u1", body, "")
		require.NoError(t, err)
		require.NotEmpty(t, v1)

		doc, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", doc.ID)
		assert.Equal(t, v1, doc.Version)
		assert.True(t, codec.Equal(body, doc.Fields), "got %#v", doc.Fields)
	})

	t.Run("create only fails when present", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Patch(ctx, "u1", sampleBody(1), "")
		require.NoError(t, err)

		_, err = s.Patch(ctx, "u1", sampleBody(2), "")
		assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)

		doc, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, codec.Equal(sampleBody(1), doc.Fields))
	})

	t.Run("conditional update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		v1, err := s.Patch(ctx, "u1", sampleBody(1), "")
		require.NoError(t, err)

		v2, err := s.Patch(ctx, "u1", sampleBody(2), v1)
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)

		_, err = s.Patch(ctx, "u1", sampleBody(3), v1)
		assert.True(t, errors.Is(err, store.ErrConflict), "stale version must conflict, got %v", err)

		doc, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, v2, doc.Version)
		assert.True(t, codec.Equal(sampleBody(2), doc.Fields))
	})

	t.Run("update of missing document conflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		v1, err := s.Patch(ctx, "u1", sampleBody(1), "")
		require.NoError(t, err)

		_, err = s.Patch(ctx, "u2", sampleBody(1), v1)
		assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)
	})

	t.Run("list pages through everything", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		want := make([]string, 0, 7)
		for i := 0; i < 7; i++ {
			id := fmt.Sprintf("user-%02d", i)
			want = append(want, id)
			_, err := s.Patch(ctx, id, sampleBody(i), "")
			require.NoError(t, err)
		}

		docs, err := store.ListAll(ctx, s, 3)
		require.NoError(t, err)

		got := make([]string, 0, len(docs))
		for _, d := range docs {
			got = append(got, d.ID)
			assert.NotEmpty(t, d.Version)
		}
		sort.Strings(got)
		assert.Equal(t, want, got)
	})

	t.Run("list empty", func(t *testing.T) {
		s := newStore(t)
		page, err := s.List(context.Background(), 10, "")
		require.NoError(t, err)
		assert.Empty(t, page.Documents)
		assert.Empty(t, page.NextPageToken)
	})
}

func sampleBody(n int) codec.Map {
	return codec.Map{
		"experience":     codec.Int(n),
		"ratio":          codec.Float(float64(n) / 2),
		"whole":          codec.Float(5),
		"rank":           codec.String("Intern"),
		"unlockedStages": codec.List{codec.Int(1)},
		"tasks": codec.Map{
			"s1a": codec.Map{"bestScore": codec.Int(n), "attempts": codec.List{}},
		},
		"avatarUrl": codec.Null{},
	}
}
