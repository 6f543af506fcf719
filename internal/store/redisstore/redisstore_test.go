package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"noorsales/backend/internal/store"
)

func TestSaveAndLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	_, err := s.Load(ctx, store.KeyProducts)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Save(ctx, store.KeyProducts, []byte(`[{"id":"p1"}]`)))
	payload, err := s.Load(ctx, store.KeyProducts)
	require.NoError(t, err)
	require.Equal(t, `[{"id":"p1"}]`, string(payload))

	raw, err := mr.Get("noor:state:products")
	require.NoError(t, err)
	require.Equal(t, `[{"id":"p1"}]`, raw)
	require.Zero(t, mr.TTL("noor:state:products"))
}

func TestLoadSurfacesBackendErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	mr.Close()

	_, err := s.Load(context.Background(), store.KeyProducts)
	require.Error(t, err)
	require.NotErrorIs(t, err, store.ErrNotFound)
}
