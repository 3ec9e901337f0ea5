package adapter

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"shopline/internal/pkg/redis"
)

const (
	numberCacheKey  = "shopline:order-numbers"
	claimScriptName = "order_number_claim"
)

// claimScript 在一次 EVALSHA 内读取并推进编号，多个实例并发领取也不会重复
const claimScript = `
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current then
	redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
	return tonumber(current)
end
local start = tonumber(ARGV[2])
redis.call('HSET', KEYS[1], ARGV[1], start + 1)
return start
`

// NumberCacheRedisAdapter 实现了 numbering.Cache，多个实例共享同一个编号缓存。
// 所有 scope 放在一个 hash 里，ClearAll 只需要删除一个 key。
type NumberCacheRedisAdapter struct {
	redisClient *redis.Client
}

// NewNumberCacheRedisAdapter 在创建时加载需要的 Lua 脚本
func NewNumberCacheRedisAdapter(redisClient *redis.Client) (*NumberCacheRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(claimScriptName, claimScript); err != nil {
		return nil, errors.Wrap(err, "load number cache script")
	}
	return &NumberCacheRedisAdapter{redisClient: redisClient}, nil
}

func (a *NumberCacheRedisAdapter) Get(ctx context.Context, scope string) (int64, bool, error) {
	val, err := a.redisClient.GetClient().HGet(ctx, numberCacheKey, scope).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "get cached number for %s", scope)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "corrupt cached number for %s", scope)
	}
	return n, true, nil
}

func (a *NumberCacheRedisAdapter) Claim(ctx context.Context, scope string, start int64) (int64, error) {
	res, err := a.redisClient.RunScript(ctx, claimScriptName, []string{numberCacheKey}, scope, start)
	if err != nil {
		return 0, err
	}
	n, ok := res.(int64)
	if !ok {
		return 0, errors.Errorf("unexpected claim result %T for %s", res, scope)
	}
	return n, nil
}

func (a *NumberCacheRedisAdapter) Delete(ctx context.Context, scope string) error {
	return errors.Wrapf(a.redisClient.GetClient().HDel(ctx, numberCacheKey, scope).Err(), "delete cached number for %s", scope)
}

func (a *NumberCacheRedisAdapter) Clear(ctx context.Context) error {
	return errors.Wrap(a.redisClient.GetClient().Del(ctx, numberCacheKey).Err(), "clear number cache")
}
