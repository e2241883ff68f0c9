package store_test

import (
	"context"
	"testing"

	"github.com/jonathan/levelup/internal/codec"
	"github.com/jonathan/levelup/internal/store"
	"github.com/jonathan/levelup/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DocumentStore {
		return store.NewMemory()
	})
}

func TestMemory_IsolatesCallers(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	body := codec.Map{"tags": codec.List{codec.String("a")}}
	_, err := m.Patch(ctx, "u1", body, "")
	require.NoError(t, err)

	body["tags"] = codec.List{codec.String("mutated")}

	doc, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, codec.Equal(codec.List{codec.String("a")}, doc.Fields["tags"]))
	assert.Equal(t, 1, m.Len())
}

func TestMemory_CanceledContext(t *testing.T) {
	m := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Get(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.Patch(ctx, "u1", codec.Map{}, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatusError(t *testing.T) {
	err := &store.StatusError{Status: 503, Code: "UNAVAILABLE", Body: "try later"}
	assert.Equal(t, "document store returned 503 UNAVAILABLE: try later", err.Error())

	err = &store.StatusError{Status: 500, Body: "oops"}
	assert.Equal(t, "document store returned 500: oops", err.Error())
}
