package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"noorsales/backend/internal/store"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("NOOR_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set NOOR_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})

	key := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM app_state WHERE key = $1`, key)
	})

	_, err = s.Load(ctx, key)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Save(ctx, key, []byte(`[{"id":"p1","price":1.5}]`)))
	require.NoError(t, s.Save(ctx, key, []byte(`[{"id":"p1","price":2.5}]`)))

	payload, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"p1","price":2.5}]`, string(payload))
}
