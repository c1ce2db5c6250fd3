package database_test

import (
	"context"
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghosttrack/beacon/database"
)

func TestNewRedisClient(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := database.NewRedisClient(ctx, slogtest.Make(t, nil), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Client.Set(ctx, "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewRedisClientErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := slogtest.Make(t, nil)

	_, err := database.NewRedisClient(ctx, logger, "", "", 0)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")
	_, err = database.NewRedisClient(ctx, logger, mr.Addr(), "wrong", 0)
	assert.Error(t, err)

	client, err := database.NewRedisClient(ctx, logger, mr.Addr(), "secret", 0)
	require.NoError(t, err)
	client.Close()
}
