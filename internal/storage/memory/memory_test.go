package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartsync/internal/storage"
)

var _ storage.Storage = (*Storage)(nil)

func TestStorage_SetGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "cart-storage", []byte(`{"version":1}`)))
	got, err := s.Get(ctx, "cart-storage")
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(got))
}

func TestStorage_GetMissing(t *testing.T) {
	_, err := New().Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStorage_ValuesAreCopied(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", in))
	in[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[1] = 'y'
	again, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestStorage_Delete(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v")))

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"), "deleting a missing key is not an error")
	assert.Zero(t, s.Keys())
}

func TestStorage_ConcurrentAccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, "k", []byte("v"))
			_, _ = s.Get(ctx, "k")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Keys())
	assert.NoError(t, s.Ping(ctx))
}
