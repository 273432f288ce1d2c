// Package kvtest holds the behaviour every kv.Store backend must share.
package kvtest

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Nobert1/event-driven-systems/platform/kv"
)

// RunContract exercises s. Keys are random so a shared backend can be reused.
func RunContract(t *testing.T, s kv.Store) {
	ctx := context.Background()
	key := func() string { return "kvtest:" + uuid.NewString() }

	t.Run("get absent key", func(t *testing.T) {
		_, err := s.Get(ctx, key())
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		k := key()
		v1, err := s.Set(ctx, k, []byte("one"))
		require.NoError(t, err)
		require.Equal(t, int64(1), v1)

		v2, err := s.Set(ctx, k, []byte("two"))
		require.NoError(t, err)
		require.Equal(t, int64(2), v2)

		e, err := s.Get(ctx, k)
		require.NoError(t, err)
		require.Equal(t, "two", string(e.Value))
		require.Equal(t, int64(2), e.Version)
	})

	t.Run("compare-and-set create if absent", func(t *testing.T) {
		k := key()
		v, err := s.CompareAndSet(ctx, k, 0, []byte("first"))
		require.NoError(t, err)
		require.Equal(t, int64(1), v)

		_, err = s.CompareAndSet(ctx, k, 0, []byte("second"))
		require.ErrorIs(t, err, kv.ErrConflict)

		e, err := s.Get(ctx, k)
		require.NoError(t, err)
		require.Equal(t, "first", string(e.Value))
	})

	t.Run("compare-and-set stale version", func(t *testing.T) {
		k := key()
		_, err := s.Set(ctx, k, []byte("a"))
		require.NoError(t, err)

		v, err := s.CompareAndSet(ctx, k, 1, []byte("b"))
		require.NoError(t, err)
		require.Equal(t, int64(2), v)

		_, err = s.CompareAndSet(ctx, k, 1, []byte("c"))
		require.ErrorIs(t, err, kv.ErrConflict)

		_, err = s.CompareAndSet(ctx, key(), 3, []byte("missing"))
		require.ErrorIs(t, err, kv.ErrConflict)
	})

	t.Run("concurrent compare-and-set has one winner per version", func(t *testing.T) {
		k := key()
		_, err := s.Set(ctx, k, []byte("base"))
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CompareAndSet(ctx, k, 1, []byte("racer"))
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			require.ErrorIs(t, err, kv.ErrConflict)
		}
		require.Equal(t, 1, wins)
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, s.Ping(ctx))
	})
}
