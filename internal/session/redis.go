package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores session state in Redis under a shared namespace. Every write
// refreshes the TTL so an active visitor's session slides forward.
type Redis struct {
	R   *redis.Client
	TTL time.Duration
	// Namespace prefixes every key; defaults to "market".
	Namespace string
}

func (s *Redis) key(sessionID, key string) string {
	ns := s.Namespace
	if ns == "" {
		ns = "market"
	}
	return fmt.Sprintf("%s:session:%s:%s", ns, sessionID, key)
}

func (s *Redis) ttl() time.Duration {
	if s.TTL <= 0 {
		return 24 * time.Hour
	}
	return s.TTL
}

func (s *Redis) Get(ctx context.Context, sessionID, key string) (string, error) {
	if s == nil || s.R == nil {
		return "", errors.New("session: redis client not configured")
	}
	value, err := s.R.Get(ctx, s.key(sessionID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session: get %s: %w", key, err)
	}
	return value, nil
}

func (s *Redis) Set(ctx context.Context, sessionID, key, value string) error {
	if s == nil || s.R == nil {
		return errors.New("session: redis client not configured")
	}
	if err := s.R.Set(ctx, s.key(sessionID, key), value, s.ttl()).Err(); err != nil {
		return fmt.Errorf("session: set %s: %w", key, err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, sessionID, key string) error {
	if s == nil || s.R == nil {
		return errors.New("session: redis client not configured")
	}
	if err := s.R.Del(ctx, s.key(sessionID, key)).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", key, err)
	}
	return nil
}
