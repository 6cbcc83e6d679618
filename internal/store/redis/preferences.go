// Package redis keeps agent preferences in a Redis hash so several agent
// processes on one host share notification settings.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "nudge:preferences"

type Config struct {
	Addr     string
	Password string
	DB       int
	// Key is the hash holding every preference. Defaults to nudge:preferences.
	Key string
}

type PreferencesStore struct {
	client *redis.Client
	key    string
}

// Open connects and pings Redis.
func Open(ctx context.Context, c Config) (*PreferencesStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewPreferencesStore(rdb, c.Key), nil
}

func NewPreferencesStore(client *redis.Client, key string) *PreferencesStore {
	if key == "" {
		key = defaultKey
	}
	return &PreferencesStore{client: client, key: key}
}

func (s *PreferencesStore) GetPreference(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference: %w", err)
	}
	return v, true, nil
}

func (s *PreferencesStore) SetPreference(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.key, key, value).Err(); err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

func (s *PreferencesStore) DeletePreference(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.key, key).Err(); err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	return nil
}

func (s *PreferencesStore) Close() error {
	return s.client.Close()
}
