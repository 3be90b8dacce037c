package cabinet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldAccessToken  = "access_token"
	fieldRefreshToken = "refresh_token"
	fieldIdentityData = "identity_data"
)

// RedisStore keeps one session in a Redis hash so several processes can share
// it. Keys look like <prefix>:<session>.
type RedisStore struct {
	redis   redis.UniversalClient
	prefix  string
	session string
	ttl     time.Duration
}

// NewRedisStore creates a store for session. An empty prefix defaults to
// "cabinet"; a zero ttl keeps the hash until cleared.
func NewRedisStore(client redis.UniversalClient, prefix, session string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "cabinet"
	}
	if session == "" {
		session = "default"
	}
	return &RedisStore{
		redis:   client,
		prefix:  prefix,
		session: session,
		ttl:     ttl,
	}
}

func (s *RedisStore) key() string {
	return s.prefix + ":" + s.session
}

func (s *RedisStore) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, fieldAccessToken)
}

func (s *RedisStore) SetAccessToken(ctx context.Context, token string) error {
	return s.set(ctx, fieldAccessToken, token)
}

func (s *RedisStore) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, fieldRefreshToken)
}

func (s *RedisStore) SetRefreshToken(ctx context.Context, token string) error {
	return s.set(ctx, fieldRefreshToken, token)
}

func (s *RedisStore) IdentityData(ctx context.Context) (string, error) {
	return s.get(ctx, fieldIdentityData)
}

func (s *RedisStore) SetIdentityData(ctx context.Context, data string) error {
	return s.set(ctx, fieldIdentityData, data)
}

func (s *RedisStore) ClearTokens(ctx context.Context) error {
	if err := s.redis.HDel(ctx, s.key(), fieldAccessToken, fieldRefreshToken).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, field string) (string, error) {
	value, err := s.redis.HGet(ctx, s.key(), field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return value, nil
}

func (s *RedisStore) set(ctx context.Context, field, value string) error {
	key := s.key()
	pipe := s.redis.TxPipeline()
	if value == "" {
		pipe.HDel(ctx, key, field)
	} else {
		pipe.HSet(ctx, key, field, value)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
