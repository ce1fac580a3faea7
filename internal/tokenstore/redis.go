package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "door-monitor:tokens"

// Redis stores the tokens as one JSON value under a single key, so several
// dashboard processes on one host share a login.
type Redis struct {
	cli *redis.Client
	key string
}

func NewRedis(ctx context.Context, url, key string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisFromClient(cli, key), nil
}

func NewRedisFromClient(cli *redis.Client, key string) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{cli: cli, key: key}
}

func (r *Redis) Load(ctx context.Context) (Tokens, error) {
	val, err := r.cli.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return Tokens{}, nil
	}
	if err != nil {
		return Tokens{}, err
	}
	var tokens Tokens
	if err := json.Unmarshal(val, &tokens); err != nil {
		return Tokens{}, fmt.Errorf("%w: redis: %v", ErrCorrupt, err)
	}
	return tokens, nil
}

func (r *Redis) Save(ctx context.Context, tokens Tokens) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return r.cli.Set(ctx, r.key, data, 0).Err()
}

func (r *Redis) Clear(ctx context.Context) error {
	return r.cli.Del(ctx, r.key).Err()
}

func (r *Redis) Close() error {
	return r.cli.Close()
}
