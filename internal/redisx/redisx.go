// Package redisx wraps the redis client for the two concerns that need it:
// webhook dedup markers and shipping partner token caching.
package redisx

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const (
	// dedupTTL keeps dedup markers long enough to cover provider webhook
	// retry windows with margin.
	dedupTTL = 48 * time.Hour

	dedupPrefix = "dedup:"
	tokenPrefix = "shippartner:token:"
)

// Client bundles the redis handle with key conventions.
type Client struct {
	rdb *redis.Client
}

// New connects to redis at addr and pings it once.
func New(ctx context.Context, addr string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports redis reachability. Used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// MarkSeen records a (source, id) pair and reports whether this was its
// first occurrence. SETNX gives atomic first-writer-wins semantics.
func (c *Client) MarkSeen(ctx context.Context, source, id string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, dedupPrefix+source+":"+id, "1", dedupTTL).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx dedup marker")
	}
	return ok, nil
}

// GetToken returns the cached partner token for the account, or "" if
// absent.
func (c *Client) GetToken(ctx context.Context, email string) (string, error) {
	token, err := c.rdb.Get(ctx, tokenPrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "get partner token")
	}
	return token, nil
}

// SetToken caches a partner token for the account.
func (c *Client) SetToken(ctx context.Context, email, token string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, tokenPrefix+email, token, ttl).Err(); err != nil {
		return errors.Wrap(err, "set partner token")
	}
	return nil
}

// DeleteToken evicts a cached partner token, forcing the next call to log
// in again.
func (c *Client) DeleteToken(ctx context.Context, email string) error {
	if err := c.rdb.Del(ctx, tokenPrefix+email).Err(); err != nil {
		return errors.Wrap(err, "delete partner token")
	}
	return nil
}
