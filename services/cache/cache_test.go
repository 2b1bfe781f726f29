package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
)

func TestRedis_Get(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis(client)
	ctx := context.Background()

	mock.ExpectGet("prediction:s1:1").SetVal(`{"id":"p1"}`)
	val, err := c.Get(ctx, "prediction:s1:1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"p1"}`, string(val))

	mock.ExpectGet("prediction:s1:2").RedisNil()
	_, err = c.Get(ctx, "prediction:s1:2")
	assert.Equal(t, core.ErrCacheMiss, err)

	mock.ExpectGet("prediction:s1:3").SetErr(errors.New("connection refused"))
	_, err = c.Get(ctx, "prediction:s1:3")
	assert.EqualError(t, err, "redis get prediction:s1:3: connection refused")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Set(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis(client)

	mock.ExpectSet("k", []byte("v"), time.Hour).SetVal("OK")
	assert.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Delete(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis(client)

	mock.ExpectDel("a", "b").SetVal(2)
	assert.NoError(t, c.Delete(context.Background(), "a", "b"))
	assert.NoError(t, c.Delete(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	_, err := m.Get(ctx, "k")
	assert.Equal(t, core.ErrCacheMiss, err)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, m.Set(ctx, "forever", []byte("f"), 0))

	val, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.Equal(t, core.ErrCacheMiss, err, "expired")

	val, err = m.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("f"), val)

	require.NoError(t, m.Delete(ctx, "forever"))
	_, err = m.Get(ctx, "forever")
	assert.Equal(t, core.ErrCacheMiss, err)
}
