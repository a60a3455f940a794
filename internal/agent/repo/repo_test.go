package repo

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle-engine/server/internal/agent/model"
	errx "github.com/oracle-engine/server/internal/core/error"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestMemoryRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, rdb := newRedis(t)
	r := NewRedisMemoryRepository(rdb)

	t.Run("missing key loads an empty record", func(t *testing.T) {
		rec, err := r.Load(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Equal(t, "nobody@example.com", rec.ClientName)
		assert.Empty(t, rec.Sessions)
	})

	t.Run("save load list delete", func(t *testing.T) {
		at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, r.Save(ctx, "maria@example.com", &model.MemoryRecord{
			ClientName: "Maria",
			Sessions:   []model.Session{{Timestamp: at, Topic: "Career", FullReading: "text"}},
		}))
		require.NoError(t, r.Save(ctx, "Ana", &model.MemoryRecord{ClientName: "Ana"}))

		rec, err := r.Load(ctx, "maria@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Maria", rec.ClientName)
		require.Len(t, rec.Sessions, 1)
		assert.True(t, at.Equal(rec.Sessions[0].Timestamp))
		assert.Equal(t, "text", rec.Sessions[0].FullReading)

		list, err := r.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []model.ClientSummary{
			{Key: "Ana", ClientName: "Ana", SessionCount: 0},
			{Key: "maria@example.com", ClientName: "Maria", SessionCount: 1},
		}, list)

		ok, err := r.Delete(ctx, "Ana")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.Delete(ctx, "Ana")
		require.NoError(t, err)
		assert.False(t, ok)

		list, err = r.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestMemoryRepositoryCorruptRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr, rdb := newRedis(t)
	r := NewRedisMemoryRepository(rdb)

	require.NoError(t, mr.Set("memory:broken", "{not json"))
	_, err := mr.SAdd(clientIndexKey, "broken")
	require.NoError(t, err)

	_, err = r.Load(ctx, "broken")
	require.Error(t, err)

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.ClientSummary{{Key: "broken", ClientName: "broken"}}, list)
}

func TestUsageRepositoryAggregate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, rdb := newRedis(t)
	r := NewRedisUsageRepository(rdb)

	day := func(d int) time.Time { return time.Date(2026, 5, d, 9, 0, 0, 0, time.UTC) }
	for i, d := range []int{1, 2, 3} {
		require.NoError(t, r.Append(ctx, model.UsageRecord{
			CycleID:     string(rune('a' + i)),
			TokensIn:    100,
			TokensOut:   50,
			TotalTokens: 150,
			APICalls:    5,
			CostUSD:     0.5,
			QCRounds:    2,
			CreatedAt:   day(d),
		}))
	}

	all, err := r.Aggregate(ctx, model.UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Cycles)
	assert.Equal(t, int64(300), all.TokensIn)
	assert.Equal(t, 15, all.APICalls)
	assert.InDelta(t, 1.5, all.CostUSD, 1e-9)
	assert.Equal(t, 6, all.QCRounds)

	// [day 2, day 3) holds exactly one record.
	window, err := r.Aggregate(ctx, model.UsageFilter{From: day(2), To: day(3)})
	require.NoError(t, err)
	assert.Equal(t, 1, window.Cycles)
	assert.Equal(t, int64(150), window.TotalTokens)
}

func TestIdentityCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, rdb := newRedis(t)
	c := NewRedisIdentityCache(rdb)

	_, ok, err := c.Get(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "d1", "Maria"))
	require.NoError(t, c.Put(ctx, "d1", "Someone Else"))

	name, ok, err := c.Get(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Maria", name)
}

func TestRedisFailureIsWrapped(t *testing.T) {
	t.Parallel()

	mr, rdb := newRedis(t)
	mr.Close()

	_, err := NewRedisMemoryRepository(rdb).Load(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
}
