package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session id is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

const reconcileKey = "reconcile:orders"

// releaseLockScript deletes the lock only if it still holds our value.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	rdb      *redis.Client
	owners   sync.Map // lock key -> value written by AcquireLock
	newValue func() string
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewClientWithRedis(rdb), nil
}

// NewClientWithRedis wraps an existing connection without pinging it.
func NewClientWithRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, newValue: uuid.NewString}
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SaveSession maps a storefront session id to a backend access token
func (c *Client) SaveSession(ctx context.Context, sessionID, accessToken string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, sessionKey(sessionID), accessToken, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession returns the access token stored for sessionID
func (c *Client) LoadSession(ctx context.Context, sessionID string) (string, error) {
	token, err := c.rdb.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	return token, nil
}

// TouchSession resets the expiry of sessionID. It returns ErrSessionNotFound
// when the session is already gone.
func (c *Client) TouchSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	ok, err := c.rdb.Expire(ctx, sessionKey(sessionID), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession forgets sessionID
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, sessionKey(sessionID)).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	value := c.newValue()
	ok, err := c.rdb.SetNX(ctx, lockName(lockKey), value, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		c.owners.Store(lockKey, value)
	}
	return ok, nil
}

// ReleaseLock releases a lock taken by this client. Locks that expired and
// were taken by someone else are left alone.
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	value, ok := c.owners.LoadAndDelete(lockKey)
	if !ok {
		return nil
	}
	return releaseLockScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, value).Err()
}

// FlagOrder marks an order for manual reconciliation. It reports whether the
// order was newly flagged.
func (c *Client) FlagOrder(ctx context.Context, orderID string) (bool, error) {
	added, err := c.rdb.SAdd(ctx, reconcileKey, orderID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to flag order: %w", err)
	}
	return added > 0, nil
}

// FlaggedOrders lists the orders awaiting reconciliation
func (c *Client) FlaggedOrders(ctx context.Context) ([]string, error) {
	return c.rdb.SMembers(ctx, reconcileKey).Result()
}

// ResolveOrder removes an order from the reconciliation set
func (c *Client) ResolveOrder(ctx context.Context, orderID string) error {
	return c.rdb.SRem(ctx, reconcileKey, orderID).Err()
}

func sessionKey(id string) string { return "session:" + id }
func lockName(key string) string  { return "lock:" + key }
