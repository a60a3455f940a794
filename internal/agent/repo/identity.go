package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oracle-engine/server/internal/agent/model"
	errx "github.com/oracle-engine/server/internal/core/error"
	logx "github.com/oracle-engine/server/pkg/logger"
)

// RedisIdentityCache maps order-text digests to extracted client names.
type RedisIdentityCache struct {
	rdb redis.Cmdable
}

func NewRedisIdentityCache(rdb redis.Cmdable) *RedisIdentityCache {
	return &RedisIdentityCache{rdb: rdb}
}

func (c *RedisIdentityCache) identityKey(digest string) string {
	return fmt.Sprintf("identity:%s", digest)
}

func (c *RedisIdentityCache) Get(ctx context.Context, digest string) (string, bool, error) {
	name, err := c.rdb.Get(ctx, c.identityKey(digest)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("digest", digest).Msg("failed to read identity cache")
		return "", false, errx.WrapRedis(err)
	}
	return name, true, nil
}

// Put keeps the first name stored for a digest.
func (c *RedisIdentityCache) Put(ctx context.Context, digest, name string) error {
	if err := c.rdb.SetNX(ctx, c.identityKey(digest), name, 0).Err(); err != nil {
		logx.Error().Err(err).Str("digest", digest).Msg("failed to write identity cache")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.IdentityCache = (*RedisIdentityCache)(nil)
