package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "lumeroo:session:"

// RedisSessionStore persists sessions in Redis so multiple server instances
// can share them. Tokens are hashed before use as keys, so a compromised
// Redis snapshot does not expose usable session tokens.
type RedisSessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
	timeout   time.Duration
}

// RedisSessionStoreConfig describes the Redis connection for session storage.
type RedisSessionStoreConfig struct {
	Addrs      []string
	Username   string
	Password   string
	DB         int
	KeyPrefix  string
	Timeout    time.Duration
	TLSEnabled bool
}

type redisSessionRecord struct {
	UserID            string    `json:"userId"`
	ExpiresAt         time.Time `json:"expiresAt"`
	AbsoluteExpiresAt time.Time `json:"absoluteExpiresAt"`
}

// NewRedisSessionStore connects to Redis and verifies the connection before
// returning the store.
func NewRedisSessionStore(ctx context.Context, cfg RedisSessionStoreConfig) (*RedisSessionStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis session store requires at least one address")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	} else if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	store := &RedisSessionStore{client: client, keyPrefix: prefix, timeout: timeout}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return store, nil
}

func (s *RedisSessionStore) key(hashedToken string) string {
	return s.keyPrefix + hashedToken
}

func (s *RedisSessionStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Save stores the session record keyed by the hashed token, expiring it at
// the absolute deadline. Idle expiry is enforced by the session manager.
func (s *RedisSessionStore) Save(token, userID string, expiresAt, absoluteExpiresAt time.Time) error {
	hashed, err := tokenDigest(token)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(redisSessionRecord{
		UserID:            userID,
		ExpiresAt:         expiresAt,
		AbsoluteExpiresAt: absoluteExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	deadline := absoluteExpiresAt
	if deadline.IsZero() {
		deadline = expiresAt
	}
	ttl := time.Until(deadline)
	if ttl <= 0 {
		return s.Delete(token)
	}

	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.client.Set(ctx, s.key(hashed), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get retrieves the session record for the provided token.
func (s *RedisSessionStore) Get(token string) (SessionRecord, bool, error) {
	hashed, err := tokenDigest(token)
	if err != nil {
		return SessionRecord{}, false, err
	}

	ctx, cancel := s.opContext()
	defer cancel()
	payload, err := s.client.Get(ctx, s.key(hashed)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionRecord{}, false, nil
	} else if err != nil {
		return SessionRecord{}, false, fmt.Errorf("load session: %w", err)
	}

	var record redisSessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode session record: %w", err)
	}
	return SessionRecord{
		Token:             token,
		UserID:            record.UserID,
		ExpiresAt:         record.ExpiresAt,
		AbsoluteExpiresAt: record.AbsoluteExpiresAt,
	}, true, nil
}

// Delete removes the session token from Redis.
func (s *RedisSessionStore) Delete(token string) error {
	hashed, err := tokenDigest(token)
	if err != nil {
		return err
	}
	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.client.Del(ctx, s.key(hashed)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis evicts session keys via their TTL.
func (s *RedisSessionStore) PurgeExpired(time.Time) error {
	return nil
}

// Ping verifies the Redis connection is healthy.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(pingCtx).Err()
}

// Close releases the underlying Redis client.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

var _ SessionStore = (*RedisSessionStore)(nil)
