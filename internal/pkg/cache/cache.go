package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// Options describes the Redis endpoint.
type Options struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// SetupCache initializes the connection to the Redis server. A failed ping is
// logged, not fatal: everything using the cache degrades without it.
func SetupCache(opts Options) {
	if opts.Host == "" {
		opts.Host = env.GetEnv("CACHE_HOST", "localhost")
	}
	if opts.Port == "" {
		opts.Port = env.GetEnv("CACHE_PORT", "6379")
	}

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s:%s: %v", opts.Host, opts.Port, err)
	} else {
		log.Infof("[Cache] Successfully connected to Redis: %s", pong)
	}
}

// SetClient replaces the shared client (tests).
func SetClient(c *redis.Client) {
	client = c
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache(Options{})
	}
	return client
}

// Close closes the shared client if one was created
func Close() error {
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}
