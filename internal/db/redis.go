package db

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOpts struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	PingTimeout time.Duration
}

func (o *RedisOpts) applyDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = o.DialTimeout
	}
}

// NewRedisClient opens the client shared by the push sinks and the rate-limit
// middleware, with the connection verified by a ping.
func NewRedisClient(opts RedisOpts) (*redis.Client, error) {
	opts.applyDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.PingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
