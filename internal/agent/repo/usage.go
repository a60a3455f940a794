package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/oracle-engine/server/internal/agent/model"
	errx "github.com/oracle-engine/server/internal/core/error"
	logx "github.com/oracle-engine/server/pkg/logger"
)

const usageKey = "usage:records"

// RedisUsageRepository keeps usage records in a sorted set scored by their
// creation time in milliseconds.
type RedisUsageRepository struct {
	rdb redis.Cmdable
}

func NewRedisUsageRepository(rdb redis.Cmdable) *RedisUsageRepository {
	return &RedisUsageRepository{rdb: rdb}
}

func (r *RedisUsageRepository) Append(ctx context.Context, record model.UsageRecord) error {
	b, err := json.Marshal(record)
	if err != nil {
		logx.Error().Err(err).Str("cycle_id", record.CycleID).Msg("failed to marshal usage record")
		return fmt.Errorf("marshal usage record: %w", err)
	}
	if err := r.rdb.ZAdd(ctx, usageKey, redis.Z{
		Score:  float64(record.CreatedAt.UnixMilli()),
		Member: string(b),
	}).Err(); err != nil {
		logx.Error().Err(err).Str("key", usageKey).Msg("failed to append usage record")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisUsageRepository) Aggregate(ctx context.Context, filter model.UsageFilter) (model.UsageTotals, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filter.From.IsZero() {
		by.Min = strconv.FormatInt(filter.From.UnixMilli(), 10)
	}
	if !filter.To.IsZero() {
		by.Max = "(" + strconv.FormatInt(filter.To.UnixMilli(), 10)
	}

	rows, err := r.rdb.ZRangeByScore(ctx, usageKey, by).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", usageKey).Msg("failed to read usage records")
		return model.UsageTotals{}, errx.WrapRedis(err)
	}

	var totals model.UsageTotals
	for i, row := range rows {
		var rec model.UsageRecord
		if err := json.Unmarshal([]byte(row), &rec); err != nil {
			logx.Warn().Err(err).Int("index", i).Msg("skipping unreadable usage record")
			continue
		}
		if filter.Match(rec.CreatedAt) {
			totals.Add(rec)
		}
	}
	return totals, nil
}

var _ model.UsageRepository = (*RedisUsageRepository)(nil)
