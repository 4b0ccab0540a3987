// Package session tracks live connection records in Redis so that any
// server instance can inspect which connections exist, who owns them, and
// when they were last active. The in-process Session Registry remains the
// authority for local delivery; Redis holds the shared, TTL-guarded view.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConnPrefix is the Redis key prefix for per-connection hashes.
	ConnPrefix = "conn:"

	// ConnTTL is the time-to-live for connection keys. Heartbeats refresh
	// it; a crashed instance's records age out on their own.
	ConnTTL = 2 * time.Minute
)

// Store manages connection records in Redis. Each record is a hash holding
// the connection ID, the authenticated user, the owning server instance, and
// created/last-active timestamps.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this server instance
}

// NewStore creates a new connection store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new connection record with the TTL applied.
func (s *Store) Create(ctx context.Context, connID, userID string) error {
	key := ConnPrefix + connID
	now := time.Now().Unix()

	record := map[string]interface{}{
		"conn_id":     connID,
		"user_id":     userID,
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Touch updates the record's last-active timestamp and refreshes the TTL.
func (s *Store) Touch(ctx context.Context, connID string) error {
	key := ConnPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a connection record.
func (s *Store) Delete(ctx context.Context, connID string) error {
	key := ConnPrefix + connID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
