package presence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pairwave/relay/config"
	"github.com/redis/go-redis/v9"
)

const (
	connectionsKey = "relay:connections"
	keyTTL         = 24 * time.Hour
)

// Mirror publishes connection presence to redis for observability. The
// in-memory registry stays authoritative: the mirror is never read back on
// startup and participant traffic does not depend on it. A nil *Mirror is
// valid and does nothing.
type Mirror struct {
	client *redis.Client
}

// Connect initializes the mirror, or returns (nil, nil) when redis is not
// configured.
func Connect(cfg config.RedisConfig) (*Mirror, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Mirror{client: client}, nil
}

// Add records a connection id as live.
func (m *Mirror) Add(ctx context.Context, id string) {
	if m == nil {
		return
	}
	if err := m.client.SAdd(ctx, connectionsKey, id).Err(); err != nil {
		log.Printf("Failed to mirror connect for %s: %v", id, err)
		return
	}
	m.client.Expire(ctx, connectionsKey, keyTTL)
}

// Remove drops a connection id on disconnect.
func (m *Mirror) Remove(ctx context.Context, id string) {
	if m == nil {
		return
	}
	if err := m.client.SRem(ctx, connectionsKey, id).Err(); err != nil {
		log.Printf("Failed to mirror disconnect for %s: %v", id, err)
	}
}

// Count returns the mirrored connection count, or -1 when disabled.
func (m *Mirror) Count(ctx context.Context) int64 {
	if m == nil {
		return -1
	}
	n, err := m.client.SCard(ctx, connectionsKey).Result()
	if err != nil {
		log.Printf("Failed to read mirrored count: %v", err)
		return -1
	}
	return n
}

// Close releases the redis connection.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}
