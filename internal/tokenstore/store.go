package tokenstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrCorrupt is returned by Load when the persisted value cannot be decoded.
var ErrCorrupt = errors.New("stored tokens cannot be decoded")

// Tokens is the persisted credential pair. A zero value means logged out.
type Tokens struct {
	Access  string `json:"accessToken"`
	Refresh string `json:"refreshToken,omitempty"`
}

func (t Tokens) Empty() bool { return t.Access == "" }

// Store persists the bearer token across restarts.
// Implementations: Memory, File, Redis.
type Store interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, tokens Tokens) error
	Clear(ctx context.Context) error
	Close() error
}

type Options struct {
	Kind     string
	FilePath string
	RedisURL string
	RedisKey string
}

func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		if opts.FilePath == "" {
			return nil, fmt.Errorf("token store: file path is required")
		}
		return NewFile(opts.FilePath), nil
	case "redis":
		return NewRedis(ctx, opts.RedisURL, opts.RedisKey)
	}
	return nil, fmt.Errorf("token store: unknown kind %q", opts.Kind)
}
