package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is populated by envconfig under the REDIS_ prefix. An empty URL means
// Redis is not configured and callers fall back to in-process stores.
type Config struct {
	URL          string `split_words:"true"`
	ReadTimeout  int    `split_words:"true" default:"3"`
	WriteTimeout int    `split_words:"true" default:"3"`
	DialTimeout  int    `split_words:"true" default:"5"`
	PoolSize     int    `split_words:"true" default:"0"`
	KeyPrefix    string `split_words:"true" default:"assistant"`
}

// Enabled reports whether a Redis URL was provided.
func (r *Config) Enabled() bool {
	return r.URL != ""
}

func (r *Config) New() (*redis.Client, error) {
	return r.NewContext(context.Background())
}

// NewContext builds a client and verifies connectivity with PING.
func (r *Config) NewContext(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		return nil, err
	}

	opts.ReadTimeout = time.Duration(r.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(r.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(r.DialTimeout) * time.Second
	if r.PoolSize > 0 {
		opts.PoolSize = r.PoolSize
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
