package variables

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/solatis/flowkeeper/internal/types"
)

// RedisClient is the subset of go-redis client methods used by
// RedisContactStore. Keeping it as an interface enables miniredis in tests.
type RedisClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisContactStore keeps each contact's variables in one hash:
// {prefix}{tenant}:{contact} -> field=name, value=value.
type RedisContactStore struct {
	client RedisClient
	prefix string
}

// RedisOptions configures NewRedisContactStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisContactStore connects to Redis and verifies the connection with PING.
func NewRedisContactStore(ctx context.Context, opts RedisOptions) (*RedisContactStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("contact store redis %s: ping failed: %w", opts.Addr, err)
	}
	return NewRedisContactStoreWithClient(client, opts.Prefix), nil
}

// NewRedisContactStoreWithClient wraps a pre-built client.
func NewRedisContactStoreWithClient(client RedisClient, prefix string) *RedisContactStore {
	if prefix == "" {
		prefix = "fk:vars:"
	}
	return &RedisContactStore{client: client, prefix: prefix}
}

func (s *RedisContactStore) Name() string { return "redis" }

func (s *RedisContactStore) key(tenantID types.TenantID, contactID string) string {
	return s.prefix + string(tenantID) + ":" + contactID
}

// Variables reads the contact's hash. A missing hash is an empty map.
func (s *RedisContactStore) Variables(ctx context.Context, tenantID types.TenantID, contactID string) (types.Variables, error) {
	fields, err := s.client.HGetAll(ctx, s.key(tenantID, contactID)).Result()
	if err != nil {
		return nil, fmt.Errorf("contact store redis: %w", err)
	}
	return types.Variables(fields), nil
}

// SetVariable writes one hash field.
func (s *RedisContactStore) SetVariable(ctx context.Context, tenantID types.TenantID, contactID, name, value string) error {
	if err := s.client.HSet(ctx, s.key(tenantID, contactID), name, value).Err(); err != nil {
		return fmt.Errorf("contact store redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisContactStore) Close() error {
	return s.client.Close()
}
