package config

import (
	"github.com/redis/go-redis/v9"
)

// NewRedis returns a client for the document store. go-redis dials lazily,
// so an unreachable server shows up on first use rather than here.
func NewRedis(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: cfg.ConnectTimeout,
	})
}
