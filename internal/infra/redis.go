package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis accepts either a redis:// URL or a bare host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// releaseScript deletes the lease only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLeaseStore hands out short exclusive leases with SET NX PX so only one
// worker instance runs a sweep at a time.
type RedisLeaseStore struct {
	client *redis.Client
	prefix string
}

func NewRedisLeaseStore(client *redis.Client) *RedisLeaseStore {
	return &RedisLeaseStore{client: client, prefix: "kimi:lease:"}
}

func (s *RedisLeaseStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, owner, ttl).Result()
}

func (s *RedisLeaseStore) Release(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, s.client, []string{s.prefix + key}, owner).Err()
}

// RedisResetTokenStore keeps password reset tokens in Redis so any instance
// can confirm a reset another one issued.
type RedisResetTokenStore struct {
	client *redis.Client
	prefix string
}

func NewRedisResetTokenStore(client *redis.Client) *RedisResetTokenStore {
	return &RedisResetTokenStore{client: client, prefix: "kimi:reset:"}
}

func (s *RedisResetTokenStore) Set(ctx context.Context, token, accountID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+token, accountID, ttl).Err()
}

// Consume reads and deletes in one round trip so a token works once.
func (s *RedisResetTokenStore) Consume(ctx context.Context, token string) (string, error) {
	id, err := s.client.GetDel(ctx, s.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}
