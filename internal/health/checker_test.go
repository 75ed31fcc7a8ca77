package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerAggregates(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewChecker(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.AddCheck("postgres", NewDBChecker(db))
	c.AddCheck("redis", NewRedisChecker(client))
	c.AddCheck("telegram", NewTelegramChecker(nil))
	c.AddCheck("", CheckFunc(func(context.Context) error { return nil }))

	results := c.Check(context.Background())
	assert.Equal(t, "OK", results["postgres"])
	assert.Equal(t, "OK", results["redis"])
	assert.Contains(t, results["telegram"], "not initialized")
	assert.Len(t, results, 3)

	mock.ExpectPing()
	err = c.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
}

func TestReadyWhenAllPass(t *testing.T) {
	c := NewChecker(nil)
	c.AddCheck("a", CheckFunc(func(context.Context) error { return nil }))
	assert.NoError(t, c.Ready(context.Background()))

	c.AddCheck("b", CheckFunc(func(context.Context) error { return errors.New("down") }))
	assert.EqualError(t, c.Ready(context.Background()), "unhealthy components: [b]")
}
