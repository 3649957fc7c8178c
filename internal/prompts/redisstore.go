package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Saved prompt sets expire after a day of inactivity; a returning user past
// that gets fresh defaults.
const promptTTL = 24 * time.Hour

const pingTimeout = 5 * time.Second

// RedisStore persists prompt sets in Redis, one hash per user.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("prompts: redis ping: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func promptKey(userID string) string { return "prompts:" + userID }

// Save writes the full prompt set as a hash keyed by prompt ID and refreshes
// the TTL.
func (r *RedisStore) Save(ctx context.Context, userID string, prompts []Prompt) error {
	fields := make(map[string]any, len(prompts))
	for _, p := range prompts {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("prompts: marshal %s: %w", p.ID, err)
		}
		fields[p.ID] = data
	}

	key := promptKey(userID)
	if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("prompts: redis hset: %w", err)
	}
	if err := r.client.Expire(ctx, key, promptTTL).Err(); err != nil {
		return fmt.Errorf("prompts: redis expire: %w", err)
	}
	return nil
}

// Load returns the saved prompt set in catalog order, or (nil, nil) when the
// user has no saved set.
func (r *RedisStore) Load(ctx context.Context, userID string) ([]Prompt, error) {
	fields, err := r.client.HGetAll(ctx, promptKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("prompts: redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	// Rebuild catalog order via the fixed prompt IDs.
	out := make([]Prompt, 0, len(fields))
	for i := range CatalogSize() {
		raw, ok := fields[fmt.Sprintf("prompt-%d", i)]
		if !ok {
			continue
		}
		var p Prompt
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("prompts: unmarshal prompt-%d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Ping probes the Redis connection. Used by readiness checks.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
