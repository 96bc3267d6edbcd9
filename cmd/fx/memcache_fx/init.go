package memcache_fx

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"kimi/internal/config"
	"kimi/internal/infra"
	mem "kimi/pkg/memcache"
)

var log = logging.Logger("memcache")

var Module = fx.Provide(provideRedis, provideLeaseStore, provideResetTokenStore)

// provideRedis returns nil without REDIS_URL; the stores below then fall back
// to process-local maps.
func provideRedis(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL not set, using in-process leases and reset tokens")
		return nil, nil
	}

	client, err := infra.ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// provideLeaseStore prefers Redis so several instances share sweep leases.
func provideLeaseStore(client *redis.Client) mem.LeaseStore {
	if client == nil {
		return mem.NewLeases()
	}
	return infra.NewRedisLeaseStore(client)
}

func provideResetTokenStore(client *redis.Client) mem.ResetTokenStore {
	if client == nil {
		return mem.NewResetTokens()
	}
	return infra.NewRedisResetTokenStore(client)
}
