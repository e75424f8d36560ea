package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"stockroom/internal/auth/models"
	"stockroom/pkg/platform/sentinel"
)

var (
	getDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockroom_session_store_get_duration_ms",
		Help:    "Latency of session lookups against Redis in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	})
)

const (
	// sessionKeySegment namespaces session records under the environment prefix.
	sessionKeySegment = "zoho_session:"

	scanBatch = 200
)

// RedisStore persists sessions as JSON strings with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisStoreOption configures a RedisStore instance.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the environment prefix, e.g. "production".
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) key(id string) string {
	if s.prefix == "" {
		return sessionKeySegment + id
	}
	return s.prefix + ":" + sessionKeySegment + id
}

// Put writes or overwrites the session and resets its TTL.
func (s *RedisStore) Put(ctx context.Context, id string, session *models.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get returns the session or sentinel.ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	start := time.Now()
	defer func() {
		getDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if id == "" {
		return nil, sentinel.ErrNotFound
	}
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// Delete removes the session. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.client.Del(ctx, s.key(id)).Err()
}

// ListAll returns every stored session. It walks the keyspace with SCAN so it
// never blocks Redis, and is meant for operational tooling only.
func (s *RedisStore) ListAll(ctx context.Context) ([]*models.Session, error) {
	pattern := s.key("*")
	var (
		cursor   uint64
		sessions []*models.Session
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
		if len(keys) > 0 {
			batch, err := s.fetch(ctx, keys)
			if err != nil {
				return nil, err
			}
			sessions = append(sessions, batch...)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return sessions, nil
}

func (s *RedisStore) fetch(ctx context.Context, keys []string) ([]*models.Session, error) {
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	out := make([]*models.Session, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var session models.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", strings.TrimPrefix(keys[i], s.key("")), err)
		}
		out = append(out, &session)
	}
	return out, nil
}
