package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long an abandoned assessment keeps its
// environment locked.
const DefaultLockTTL = 2 * time.Hour

// ErrLocked is returned when another run holds the environment lock.
var ErrLocked = errors.New("environment is locked by another run")

// Client wraps Redis operations for assessment coordination.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Client{rdb: rdb, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func lockKey(env string) string {
	return fmt.Sprintf("drcheck:lock:%s", env)
}

func hostsKey(env string) string {
	return fmt.Sprintf("drcheck:known_hosts:%s", env)
}

// AcquireLock takes the assessment lock for env on behalf of runID.
func (c *Client) AcquireLock(ctx context.Context, env, runID string) error {
	ok, err := c.rdb.SetNX(ctx, lockKey(env), runID, c.ttl).Result()
	if err != nil {
		return fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		holder, _ := c.rdb.Get(ctx, lockKey(env)).Result()
		return fmt.Errorf("%w: %s held by %s", ErrLocked, env, holder)
	}
	return nil
}

// LockHolder returns the run id holding the lock for env, if any.
func (c *Client) LockHolder(ctx context.Context, env string) (string, bool, error) {
	holder, err := c.rdb.Get(ctx, lockKey(env)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get failed: %w", err)
	}
	return holder, true, nil
}

// releaseScript deletes the lock only while runID still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseLock releases the lock for env if runID holds it. An empty runID
// releases it unconditionally.
func (c *Client) ReleaseLock(ctx context.Context, env, runID string) error {
	if runID == "" {
		return c.rdb.Del(ctx, lockKey(env)).Err()
	}
	if err := releaseScript.Run(ctx, c.rdb, []string{lockKey(env)}, runID).Err(); err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return nil
}

// SaveKnownHosts replaces the mirrored host table for env.
func (c *Client) SaveKnownHosts(ctx context.Context, env string, hosts map[string]string) error {
	key := hostsKey(env)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(hosts) > 0 {
		fields := make(map[string]any, len(hosts))
		for slot, host := range hosts {
			fields[slot] = host
		}
		pipe.HSet(ctx, key, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save known hosts: %w", err)
	}
	return nil
}

// KnownHosts returns the mirrored host table for env.
func (c *Client) KnownHosts(ctx context.Context, env string) (map[string]string, error) {
	hosts, err := c.rdb.HGetAll(ctx, hostsKey(env)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	return hosts, nil
}
