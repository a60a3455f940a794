package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/oracle-engine/server/internal/agent/model"
	errx "github.com/oracle-engine/server/internal/core/error"
	logx "github.com/oracle-engine/server/pkg/logger"
)

const clientIndexKey = "memory:clients"

// RedisMemoryRepository stores one JSON document per client plus a set
// indexing every known key.
type RedisMemoryRepository struct {
	rdb redis.Cmdable
}

func NewRedisMemoryRepository(rdb redis.Cmdable) *RedisMemoryRepository {
	return &RedisMemoryRepository{rdb: rdb}
}

func (r *RedisMemoryRepository) memoryKey(key string) string {
	return fmt.Sprintf("memory:%s", key)
}

func (r *RedisMemoryRepository) Load(ctx context.Context, key string) (*model.MemoryRecord, error) {
	rk := r.memoryKey(key)

	raw, err := r.rdb.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		return &model.MemoryRecord{ClientName: key, Sessions: []model.Session{}}, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("key", rk).Msg("failed to load memory from redis")
		return nil, errx.WrapRedis(err)
	}

	var rec model.MemoryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		logx.Error().Err(err).Str("key", rk).Msg("failed to unmarshal memory")
		return nil, fmt.Errorf("unmarshal memory %s: %w", key, err)
	}
	if rec.ClientName == "" {
		rec.ClientName = key
	}
	if rec.Sessions == nil {
		rec.Sessions = []model.Session{}
	}
	return &rec, nil
}

func (r *RedisMemoryRepository) Save(ctx context.Context, key string, record *model.MemoryRecord) error {
	if record == nil {
		return fmt.Errorf("save memory %s: nil record", key)
	}
	b, err := json.Marshal(record)
	if err != nil {
		logx.Error().Err(err).Str("client", key).Msg("failed to marshal memory")
		return fmt.Errorf("marshal memory: %w", err)
	}

	rk := r.memoryKey(key)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rk, b, 0)
		pipe.SAdd(ctx, clientIndexKey, key)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", rk).Msg("failed to save memory to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisMemoryRepository) List(ctx context.Context) ([]model.ClientSummary, error) {
	keys, err := r.rdb.SMembers(ctx, clientIndexKey).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", clientIndexKey).Msg("failed to list clients")
		return nil, errx.WrapRedis(err)
	}
	sort.Strings(keys)

	out := make([]model.ClientSummary, 0, len(keys))
	for _, key := range keys {
		rec, err := r.Load(ctx, key)
		if err != nil {
			// A corrupt record still shows up in the listing.
			logx.Warn().Err(err).Str("client", key).Msg("unreadable memory record")
			out = append(out, model.ClientSummary{Key: key, ClientName: key})
			continue
		}
		out = append(out, model.ClientSummary{Key: key, ClientName: rec.ClientName, SessionCount: len(rec.Sessions)})
	}
	return out, nil
}

func (r *RedisMemoryRepository) Delete(ctx context.Context, key string) (bool, error) {
	rk := r.memoryKey(key)

	var del *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, rk)
		pipe.SRem(ctx, clientIndexKey, key)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", rk).Msg("failed to delete memory from redis")
		return false, errx.WrapRedis(err)
	}
	return del.Val() > 0, nil
}

var _ model.MemoryRepository = (*RedisMemoryRepository)(nil)
