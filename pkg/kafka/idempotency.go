package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore records processed event IDs. Implementations must be safe
// for concurrent use.
type IdempotencyStore interface {
	Contains(ctx context.Context, eventID string) (bool, error)
	Add(ctx context.Context, eventID string) error
}

// RedisIdempotencyStore keeps processed event IDs in Redis with a TTL so
// that every worker replica shares one view.
type RedisIdempotencyStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a store whose keys are prefix+eventID.
func NewRedisIdempotencyStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: prefix, ttl: ttl}
}

// Contains reports whether eventID was recorded and has not expired.
func (s *RedisIdempotencyStore) Contains(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Add records eventID for the store TTL.
func (s *RedisIdempotencyStore) Add(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, s.prefix+eventID, time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// MemoryIdempotencyStore is an in-process IdempotencyStore for single
// replicas and local development. Expired entries are dropped lazily.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

// NewMemoryIdempotencyStore creates an in-memory store with the given TTL.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]time.Time), ttl: ttl}
}

// Contains reports whether eventID was recorded within the TTL.
func (s *MemoryIdempotencyStore) Contains(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.entries[eventID]
	if !ok {
		return false, nil
	}
	if time.Since(ts) > s.ttl {
		delete(s.entries, eventID)
		return false, nil
	}
	return true, nil
}

// Add records eventID.
func (s *MemoryIdempotencyStore) Add(_ context.Context, eventID string) error {
	s.mu.Lock()
	s.entries[eventID] = time.Now()
	s.mu.Unlock()
	return nil
}

// IdempotentHandler skips events whose ID the store has already seen. IDs
// are recorded only after inner succeeds. A store failure does not block
// processing; a possible duplicate is preferred over a lost message.
func IdempotentHandler(store IdempotencyStore, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			return inner(ctx, event)
		}

		seen, err := store.Contains(ctx, event.EventID)
		if err != nil {
			logger.WarnContext(ctx, "idempotency lookup failed, processing anyway",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		if seen {
			ConsumerMessagesDuplicate.WithLabelValues(event.EventType).Inc()
			logger.DebugContext(ctx, "skipping duplicate event",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
			)
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}

		if err := store.Add(ctx, event.EventID); err != nil {
			logger.WarnContext(ctx, "failed to record processed event",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
}
