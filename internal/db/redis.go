package db

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// OpenRedis parses a redis:// URL, applies dbOverride when non-zero and pings the server.
// Caller must call Close when done.
func OpenRedis(ctx context.Context, url string, dbOverride int) (*redis.Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("db: empty redis URL")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if dbOverride != 0 {
		opts.DB = dbOverride
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
