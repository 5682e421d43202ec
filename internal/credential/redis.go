package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one browser session's credentials in a Redis hash.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore scopes a store to the given session id.
func NewRedisStore(client *redis.Client, sessionID string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, key: RedisKey(sessionID), ttl: ttl}
}

// RedisKey returns the hash key holding a session's credentials.
func RedisKey(sessionID string) string {
	return "portal:cred:" + sessionID
}

func (s *RedisStore) Get(ctx context.Context) (Credential, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Credential{}, nil
		}
		return Credential{}, fmt.Errorf("credential: redis get: %w", err)
	}
	return Credential{
		Token:           values[KeyToken],
		Tenant:          values[KeyTenant],
		SuperAdminToken: values[KeySuperAdminToken],
	}, nil
}

func (s *RedisStore) Set(ctx context.Context, token, tenant string) error {
	return s.write(ctx, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, s.key, KeyToken, token, KeyTenant, tenant)
	})
}

func (s *RedisStore) SetToken(ctx context.Context, token string) error {
	return s.write(ctx, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, s.key, KeyToken, token)
	})
}

func (s *RedisStore) SetTenant(ctx context.Context, tenant string) error {
	return s.write(ctx, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, s.key, KeyTenant, tenant)
	})
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.HDel(ctx, s.key, KeyToken, KeyTenant).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("credential: redis clear: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearToken(ctx context.Context, expected string) (bool, error) {
	if expected == "" {
		return false, nil
	}
	cleared := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, s.key, KeyToken).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != expected {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, s.key, KeyToken)
			return nil
		})
		if err == nil {
			cleared = true
		}
		return err
	}, s.key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer replaced the token between read and delete.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("credential: redis clear token: %w", err)
	}
	return cleared, nil
}

func (s *RedisStore) SetSuperAdminToken(ctx context.Context, token string) error {
	return s.write(ctx, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, s.key, KeySuperAdminToken, token)
	})
}

func (s *RedisStore) ClearSuperAdminToken(ctx context.Context) error {
	if err := s.client.HDel(ctx, s.key, KeySuperAdminToken).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("credential: redis clear super admin: %w", err)
	}
	return nil
}

// Destroy drops every credential of the session.
func (s *RedisStore) Destroy(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("credential: redis destroy: %w", err)
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, fn func(redis.Pipeliner)) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(pipe)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("credential: redis write: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
