// Package store provides the per-tenant session key/value store backed by
// Redis. Each key holds either a plain string or a JSON-serialized object,
// never both: writing one kind clears the other.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
)

// SessionStore is the durable per-tenant key/value store used for session
// state, tokens and small serialized blobs. All operations are scoped by
// client id; cross-tenant access is not expressible through this interface.
type SessionStore interface {
	GetString(ctx context.Context, clientID, key string) (string, error)
	SetString(ctx context.Context, clientID, key, value string) error
	GetObject(ctx context.Context, clientID, key string, out interface{}) error
	SetObject(ctx context.Context, clientID, key string, value interface{}) error
	Delete(ctx context.Context, clientID, key string) error
	Ping(ctx context.Context) error
}

type sessionStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client *redis.Client, logger *zap.Logger) SessionStore {
	return &sessionStore{
		client: client,
		logger: logger,
	}
}

func stringKey(clientID, key string) string {
	return fmt.Sprintf("session:%s:str:%s", clientID, key)
}

func objectKey(clientID, key string) string {
	return fmt.Sprintf("session:%s:obj:%s", clientID, key)
}

// GetString retrieves a plain string value.
func (s *sessionStore) GetString(ctx context.Context, clientID, key string) (string, error) {
	val, err := s.client.Get(ctx, stringKey(clientID, key)).Result()
	if err == redis.Nil {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", models.ErrStorageUnavailable, key, err)
	}
	return val, nil
}

// SetString upserts a string value and clears any object stored under the
// same key. Last write wins; there is no optimistic locking.
func (s *sessionStore) SetString(ctx context.Context, clientID, key, value string) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, stringKey(clientID, key), value, 0)
	pipe.Del(ctx, objectKey(clientID, key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: set %s: %v", models.ErrStorageUnavailable, key, err)
	}
	return nil
}

// GetObject retrieves a structured value into out.
func (s *sessionStore) GetObject(ctx context.Context, clientID, key string, out interface{}) error {
	raw, err := s.client.Get(ctx, objectKey(clientID, key)).Bytes()
	if err == redis.Nil {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", models.ErrStorageUnavailable, key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode stored object %s: %w", key, err)
	}
	return nil
}

// SetObject upserts a structured value and clears any string stored under
// the same key.
func (s *sessionStore) SetObject(ctx context.Context, clientID, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode object %s: %w", key, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, objectKey(clientID, key), raw, 0)
	pipe.Del(ctx, stringKey(clientID, key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: set %s: %v", models.ErrStorageUnavailable, key, err)
	}
	return nil
}

// Delete removes both representations of a key.
func (s *sessionStore) Delete(ctx context.Context, clientID, key string) error {
	if err := s.client.Del(ctx, stringKey(clientID, key), objectKey(clientID, key)).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", models.ErrStorageUnavailable, key, err)
	}
	return nil
}

// Ping checks store connectivity.
func (s *sessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
