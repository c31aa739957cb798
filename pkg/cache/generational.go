package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Generational is a JSON cache whose entries can all be dropped at once.
//
// Every key embeds a generation counter stored under "<prefix>:generation".
// Bump increments it, orphaning existing entries, which then expire on
// their TTL. No key scan is ever needed.
type Generational struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewGenerational creates a cache under prefix. Entries live for ttl.
func NewGenerational(client redis.Cmdable, prefix string, ttl time.Duration) *Generational {
	return &Generational{client: client, prefix: prefix, ttl: ttl}
}

func (g *Generational) generationKey() string {
	return g.prefix + ":generation"
}

// Key returns the full key for suffix under the current generation.
func (g *Generational) Key(ctx context.Context, suffix string) (string, error) {
	gen, err := g.client.Get(ctx, g.generationKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("cache: read generation: %w", err)
	}
	return composeKey(g.prefix, gen, suffix), nil
}

// Get decodes the entry at key into v. It reports false on a miss.
func (g *Generational) Get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := g.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores v at key for the cache TTL.
func (g *Generational) Set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := g.client.Set(ctx, key, b, g.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Bump starts a new generation.
func (g *Generational) Bump(ctx context.Context) error {
	if err := g.client.Incr(ctx, g.generationKey()).Err(); err != nil {
		return fmt.Errorf("cache: bump generation: %w", err)
	}
	return nil
}

func composeKey(prefix string, gen int64, suffix string) string {
	return prefix + ":" + strconv.FormatInt(gen, 10) + ":" + suffix
}
