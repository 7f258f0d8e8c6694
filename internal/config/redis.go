package config

import (
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// NewClient returns nil when Redis is not configured.
func (r RedisConfig) NewClient() *redis.Client {
	if !r.Enabled() {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
	})
}

func (s SweeperConfig) Enabled() bool {
	return s.AsynqAddr != ""
}

func (s SweeperConfig) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: s.AsynqAddr}
}
